// Package cronmount synthesizes schedule objects from cron expressions.
// Each entry appears as a child of the mount's anchor; on every due tick
// the mount publishes a synthetic update for that entry, so subscribers see
// schedules fire without any concrete object being written.
package cronmount

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/adhocore/gronx"

	"github.com/arborstore/arbor/pkg/domain"
	"github.com/arborstore/arbor/pkg/logger"
	"github.com/arborstore/arbor/pkg/vstore"
)

const component = "cronmount"

// Entry is one named schedule.
type Entry struct {
	Name string `json:"name"`
	Expr string `json:"expr"`
	// LastDue is the last tick the entry fired at, zero until it has.
	LastDue time.Time `json:"last_due,omitempty"`
}

// Publisher is the slice of the dispatcher surface the mount publishes
// through; kept as an interface so tests can capture ticks.
type Publisher interface {
	Publish(event domain.EventType, id string) *vstore.PublishBuilder
}

// Mount synthesizes schedule entries and fires their due ticks.
type Mount struct {
	vstore.BaseMount

	pub  Publisher
	gron gronx.Gronx

	mu      sync.Mutex
	entries map[string]*Entry

	cancel context.CancelFunc
	done   chan struct{}
}

// New creates a cron mount anchored at from, publishing through pub.
func New(name, from string, pub Publisher) *Mount {
	return &Mount{
		BaseMount: vstore.NewBaseMount(name, from, vstore.MountPolicy{
			Ownership:   domain.LocalSource,
			ContentType: "application/json",
		}),
		pub:     pub,
		gron:    gronx.New(),
		entries: make(map[string]*Entry),
	}
}

// Add registers a schedule. Invalid expressions are rejected up front.
func (m *Mount) Add(name, expr string) error {
	if !m.gron.IsValid(expr) {
		return &invalidExprError{expr: expr}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[name] = &Entry{Name: name, Expr: expr}
	return nil
}

// Remove drops a schedule.
func (m *Mount) Remove(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, name)
}

// Start begins the tick loop. Ticks are evaluated once per minute, counted
// from the moment Start is called (not aligned to the wall-clock minute),
// matching cron resolution.
func (m *Mount) Start(ctx context.Context) {
	ctx, m.cancel = context.WithCancel(ctx)
	m.done = make(chan struct{})
	go m.run(ctx)
}

// Stop halts the tick loop and waits for it to drain.
func (m *Mount) Stop() {
	if m.cancel != nil {
		m.cancel()
		<-m.done
	}
}

func (m *Mount) run(ctx context.Context) {
	defer close(m.done)
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			m.tick(now)
		}
	}
}

func (m *Mount) tick(now time.Time) {
	m.mu.Lock()
	due := make([]*Entry, 0)
	for _, e := range m.entries {
		ok, err := m.gron.IsDue(e.Expr, now)
		if err != nil || !ok {
			continue
		}
		e.LastDue = now
		copied := *e
		due = append(due, &copied)
	}
	m.mu.Unlock()

	for _, e := range due {
		data, err := json.Marshal(e)
		if err != nil {
			continue
		}
		id := joinRel(m.From(), e.Name)
		err = m.pub.Publish(domain.EventUpdate, id).
			ContentType("application/json").
			Value(data).
			Instance(m.ID()).
			Do()
		if err != nil {
			logger.WarnCF(component, "tick publish failed", map[string]interface{}{"entry": e.Name, "error": err.Error()})
		}
	}
}

// OnQuery lists the registered schedules as synthetic leaf objects.
func (m *Mount) OnQuery(q *vstore.Query) (vstore.Iter, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var results []vstore.Result
	for _, e := range m.entries {
		if !vstore.MatchPattern(q.Expr, e.Name) {
			continue
		}
		data, err := json.Marshal(e)
		if err != nil {
			return nil, err
		}
		results = append(results, vstore.Result{
			ID:          e.Name,
			Name:        e.Name,
			Type:        "schedule",
			Value:       data,
			ContentType: "application/json",
			Flags:       vstore.FlagLeaf,
			Owner:       m.ID(),
		})
	}
	return vstore.NewSliceIter(results, nil), nil
}

// OnResume materialises one schedule entry.
func (m *Mount) OnResume(parent, name string) (*vstore.Result, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[name]
	if !ok {
		return nil, nil
	}
	data, err := json.Marshal(e)
	if err != nil {
		return nil, err
	}
	return &vstore.Result{
		ID: name, Name: name, Parent: parent, Type: "schedule",
		Value: data, ContentType: "application/json",
		Flags: vstore.FlagLeaf, Owner: m.ID(),
	}, nil
}

func joinRel(base, name string) string {
	if base == "/" || base == "" {
		return name
	}
	return base + "/" + name
}

type invalidExprError struct{ expr string }

func (e *invalidExprError) Error() string { return "cronmount: invalid cron expression " + e.expr }
