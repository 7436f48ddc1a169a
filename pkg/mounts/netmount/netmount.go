// Package netmount bridges a subtree to a peer store over a websocket.
// Queries are forwarded as frames and answered with result batches; remote
// events arrive as publish frames and re-enter the local dispatcher. When
// both sides speak the same content type the serialized payload travels
// byte-wise with no intermediate decode.
package netmount

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/arborstore/arbor/pkg/domain"
	"github.com/arborstore/arbor/pkg/logger"
	"github.com/arborstore/arbor/pkg/mounts/remote"
	"github.com/arborstore/arbor/pkg/vstore"
)

const component = "netmount"

const (
	opSelect      = "select"
	opResults     = "results"
	opSubscribe   = "subscribe"
	opUnsubscribe = "unsubscribe"
	opPublish     = "publish"
)

// frame is the wire envelope both peers exchange.
type frame struct {
	Op          string          `json:"op"`
	Seq         string          `json:"seq,omitempty"`
	Expr        string          `json:"expr,omitempty"`
	From        string          `json:"from,omitempty"`
	Event       string          `json:"event,omitempty"`
	ID          string          `json:"id,omitempty"`
	Type        string          `json:"type,omitempty"`
	ContentType string          `json:"content_type,omitempty"`
	Value       json.RawMessage `json:"value,omitempty"`
	Results     []wireResult    `json:"results,omitempty"`
	Error       string          `json:"error,omitempty"`
}

type wireResult struct {
	ID          string          `json:"id"`
	Name        string          `json:"name"`
	Parent      string          `json:"parent,omitempty"`
	Type        string          `json:"type,omitempty"`
	ContentType string          `json:"content_type,omitempty"`
	Value       json.RawMessage `json:"value,omitempty"`
	Leaf        bool            `json:"leaf,omitempty"`
}

// Publisher re-enters remote events into the local dispatcher.
type Publisher interface {
	Publish(event domain.EventType, id string) *vstore.PublishBuilder
}

// Mount forwards select/subscribe/publish to a remote peer.
type Mount struct {
	vstore.BaseMount

	conn *remote.Connection
	pub  Publisher
	url  string

	mu      sync.Mutex
	ws      *websocket.Conn
	pending map[string]chan *frame

	cancel context.CancelFunc
	done   chan struct{}
}

// New creates a websocket mount anchored at from, dialing url on Connect.
func New(name, from, url string, pub Publisher) *Mount {
	return &Mount{
		BaseMount: vstore.NewBaseMount(name, from, vstore.MountPolicy{
			Ownership:   domain.RemoteSource,
			ContentType: "application/json",
		}),
		conn:    remote.NewConnection(name, domain.ChannelNet, remote.NewSettings(map[string]string{"url": url})),
		pub:     pub,
		url:     url,
		pending: make(map[string]chan *frame),
	}
}

// Connection exposes the transport state for diagnostics.
func (m *Mount) Connection() *remote.Connection { return m.conn }

// Connect dials the peer and starts the read loop.
func (m *Mount) Connect(ctx context.Context) error {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	ws, _, err := dialer.DialContext(ctx, m.url, nil)
	if err != nil {
		m.conn.MarkError(err.Error())
		return fmt.Errorf("netmount: dial %s: %w", m.url, err)
	}
	m.mu.Lock()
	m.ws = ws
	m.mu.Unlock()
	m.conn.MarkConnected()

	ctx, m.cancel = context.WithCancel(ctx)
	m.done = make(chan struct{})
	go m.readLoop(ctx)
	return nil
}

// Disconnect closes the websocket and stops the read loop.
func (m *Mount) Disconnect(ctx context.Context) error {
	if m.cancel != nil {
		m.cancel()
	}
	m.mu.Lock()
	ws := m.ws
	m.ws = nil
	m.mu.Unlock()
	if ws != nil {
		_ = ws.Close()
		<-m.done
	}
	m.conn.MarkDisconnected()
	return nil
}

func (m *Mount) readLoop(ctx context.Context) {
	defer close(m.done)
	for {
		m.mu.Lock()
		ws := m.ws
		m.mu.Unlock()
		if ws == nil {
			return
		}
		var f frame
		if err := ws.ReadJSON(&f); err != nil {
			if ctx.Err() == nil {
				m.conn.MarkError(err.Error())
			}
			return
		}
		m.conn.RecordEventIn()
		switch f.Op {
		case opResults:
			m.mu.Lock()
			ch := m.pending[f.Seq]
			delete(m.pending, f.Seq)
			m.mu.Unlock()
			if ch != nil {
				ch <- &f
			}
		case opPublish:
			// A remote event re-enters the local dispatcher tagged with this
			// mount's identity so it is not echoed back.
			err := m.pub.Publish(domain.EventType(f.Event), joinRel(m.From(), f.ID)).
				Type(f.Type).
				ContentType(f.ContentType).
				Value([]byte(f.Value)).
				Instance(m.ID()).
				Do()
			if err != nil {
				logger.WarnCF(component, "remote publish failed", map[string]interface{}{"id": f.ID, "error": err.Error()})
			}
		}
	}
}

func (m *Mount) send(f *frame) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ws == nil {
		return remote.ErrNotConnected
	}
	return m.ws.WriteJSON(f)
}

// OnQuery forwards the select to the peer and blocks for its result batch.
func (m *Mount) OnQuery(q *vstore.Query) (vstore.Iter, error) {
	seq := uuid.NewString()
	ch := make(chan *frame, 1)
	m.mu.Lock()
	m.pending[seq] = ch
	m.mu.Unlock()

	err := m.send(&frame{Op: opSelect, Seq: seq, Expr: q.Expr, From: q.From, ContentType: q.ContentType})
	if err != nil {
		m.mu.Lock()
		delete(m.pending, seq)
		m.mu.Unlock()
		return nil, err
	}
	m.conn.RecordQuery()

	select {
	case f := <-ch:
		if f.Error != "" {
			return nil, fmt.Errorf("netmount: peer error: %s", f.Error)
		}
		results := make([]vstore.Result, 0, len(f.Results))
		for _, w := range f.Results {
			var flags vstore.ResultFlags
			if w.Leaf {
				flags |= vstore.FlagLeaf
			}
			results = append(results, vstore.Result{
				ID:          w.ID,
				Name:        w.Name,
				Parent:      w.Parent,
				Type:        w.Type,
				Value:       []byte(w.Value),
				ContentType: w.ContentType,
				Flags:       flags,
				Owner:       m.ID(),
			})
		}
		return vstore.NewSliceIter(results, nil), nil
	case <-time.After(30 * time.Second):
		m.mu.Lock()
		delete(m.pending, seq)
		m.mu.Unlock()
		return nil, fmt.Errorf("netmount: query timed out")
	}
}

// OnSubscribe tells the peer to start streaming matching events.
func (m *Mount) OnSubscribe(q *vstore.Query) error {
	return m.send(&frame{Op: opSubscribe, Expr: q.Expr, From: q.From})
}

// OnUnsubscribe tells the peer to stop.
func (m *Mount) OnUnsubscribe(q *vstore.Query) error {
	return m.send(&frame{Op: opUnsubscribe, Expr: q.Expr, From: q.From})
}

// OnPublish forwards a local publication to the peer byte-wise.
func (m *Mount) OnPublish(event domain.EventType, id string, value []byte, contentType string) error {
	m.conn.RecordEventOut()
	return m.send(&frame{
		Op:          opPublish,
		Event:       string(event),
		ID:          id,
		ContentType: contentType,
		Value:       json.RawMessage(value),
	})
}

func joinRel(base, name string) string {
	if base == "/" || base == "" {
		return name
	}
	return base + "/" + name
}
