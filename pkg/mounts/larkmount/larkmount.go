// Package larkmount projects Lark (Feishu) chats into the namespace, one
// child per configured chat under the mount's anchor. Publications to a
// chat object send text messages into it through the open platform API.
package larkmount

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	lark "github.com/larksuite/oapi-sdk-go/v3"
	larkim "github.com/larksuite/oapi-sdk-go/v3/service/im/v1"

	"github.com/arborstore/arbor/pkg/domain"
	"github.com/arborstore/arbor/pkg/mounts/remote"
	"github.com/arborstore/arbor/pkg/vstore"
)

// Chat is one configured Lark chat served by the mount.
type Chat struct {
	Name   string
	ChatID string
}

// Mount bridges a Lark app.
type Mount struct {
	vstore.BaseMount

	conn   *remote.Connection
	client *lark.Client

	mu    sync.Mutex
	chats map[string]Chat
}

// New creates a Lark mount anchored at from.
func New(name, from, appID, appSecret string, chats []Chat) *Mount {
	byName := make(map[string]Chat, len(chats))
	for _, c := range chats {
		byName[c.Name] = c
	}
	return &Mount{
		BaseMount: vstore.NewBaseMount(name, from, vstore.MountPolicy{
			Ownership:   domain.RemoteSource,
			ContentType: "text/plain",
		}),
		conn:   remote.NewConnection(name, domain.ChannelLark, remote.NewSettings(map[string]string{"app_id": appID})),
		client: lark.NewClient(appID, appSecret),
		chats:  byName,
	}
}

// Connection exposes the transport state for diagnostics.
func (m *Mount) Connection() *remote.Connection { return m.conn }

// Connect marks the transport up; the SDK acquires tenant tokens lazily on
// first use.
func (m *Mount) Connect(ctx context.Context) error {
	m.conn.MarkConnected()
	return nil
}

// Disconnect marks the transport down.
func (m *Mount) Disconnect(ctx context.Context) error {
	m.conn.MarkDisconnected()
	return nil
}

// IsConnected reports transport health.
func (m *Mount) IsConnected() bool { return m.conn.Status == domain.StatusConnected }

// OnQuery lists the configured chats as children of the anchor.
func (m *Mount) OnQuery(q *vstore.Query) (vstore.Iter, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var results []vstore.Result
	for _, c := range m.chats {
		if !vstore.MatchPattern(q.Expr, c.Name) {
			continue
		}
		results = append(results, vstore.Result{
			ID:          c.Name,
			Name:        c.Name,
			Type:        "chat",
			Value:       []byte(c.ChatID),
			ContentType: "text/plain",
			Flags:       vstore.FlagLeaf,
			Owner:       m.ID(),
		})
	}
	m.conn.RecordQuery()
	return vstore.NewSliceIter(results, nil), nil
}

// OnPublish sends the value as a text message into the named chat.
func (m *Mount) OnPublish(event domain.EventType, id string, value []byte, contentType string) error {
	m.mu.Lock()
	c, ok := m.chats[id]
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("larkmount: no such chat %s", id)
	}

	content, err := json.Marshal(map[string]string{"text": string(value)})
	if err != nil {
		return err
	}
	req := larkim.NewCreateMessageReqBuilder().
		ReceiveIdType("chat_id").
		Body(larkim.NewCreateMessageReqBodyBuilder().
			ReceiveId(c.ChatID).
			MsgType("text").
			Content(string(content)).
			Build()).
		Build()
	resp, err := m.client.Im.Message.Create(context.Background(), req)
	if err != nil {
		m.conn.MarkError(err.Error())
		return fmt.Errorf("larkmount: send to %s: %w", id, err)
	}
	if !resp.Success() {
		m.conn.MarkError(resp.Msg)
		return fmt.Errorf("larkmount: send to %s: %s", id, resp.Msg)
	}
	m.conn.RecordEventOut()
	return nil
}
