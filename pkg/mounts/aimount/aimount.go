// Package aimount synthesizes object values on demand: a query for a child
// no concrete object backs is answered by asking an LLM backend to
// materialize a value for it. Synthesized values are cached per path so
// repeated queries don't re-run inference.
package aimount

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/arborstore/arbor/pkg/domain"
	"github.com/arborstore/arbor/pkg/logger"
	"github.com/arborstore/arbor/pkg/vstore"
)

const component = "aimount"

// Mount answers queries by synthesis.
type Mount struct {
	vstore.BaseMount

	backend *Backend
	synth   Synthesizer

	mu    sync.Mutex
	cache map[string]string
}

// New creates a synthesizing mount anchored at from, driving synth and
// recording usage on backend.
func New(name, from string, backend *Backend, synth Synthesizer) *Mount {
	return &Mount{
		BaseMount: vstore.NewBaseMount(name, from, vstore.MountPolicy{
			Ownership:   domain.RemoteSource,
			ContentType: "text/plain",
		}),
		backend: backend,
		synth:   synth,
		cache:   make(map[string]string),
	}
}

// Backend exposes the usage aggregate for diagnostics.
func (m *Mount) Backend() *Backend { return m.backend }

// OnQuery synthesizes a value when the expression names a concrete child.
// Wildcard expressions yield nothing: the mount cannot enumerate what it
// has never been asked to invent.
func (m *Mount) OnQuery(q *vstore.Query) (vstore.Iter, error) {
	if strings.ContainsAny(q.Expr, "*?") {
		if q.YieldUnknown {
			// The mount can serve anything under its anchor; say so with a
			// placeholder rather than staying silent.
			return vstore.NewSliceIter([]vstore.Result{{
				ID: q.Expr, Name: q.Expr, Unknown: true, Owner: m.ID(),
			}}, nil), nil
		}
		return vstore.NewSliceIter(nil, nil), nil
	}

	path := q.Expr
	if q.From != "" {
		path = q.From + "/" + q.Expr
	}

	value, err := m.valueFor(path)
	if err != nil {
		return nil, err
	}
	name := path[strings.LastIndex(path, "/")+1:]
	parent := strings.TrimSuffix(path, "/"+name)
	if parent == path {
		parent = ""
	}
	return vstore.NewSliceIter([]vstore.Result{{
		ID:          q.Expr,
		Name:        name,
		Parent:      parent,
		Type:        "string",
		Value:       []byte(value),
		ContentType: "text/plain",
		Flags:       vstore.FlagLeaf,
		Owner:       m.ID(),
	}}, nil), nil
}

// OnResume materialises one synthesized child.
func (m *Mount) OnResume(parent, name string) (*vstore.Result, error) {
	path := name
	if parent != "" {
		path = parent + "/" + name
	}
	value, err := m.valueFor(path)
	if err != nil {
		return nil, err
	}
	return &vstore.Result{
		ID: path, Name: name, Parent: parent, Type: "string",
		Value: []byte(value), ContentType: "text/plain",
		Flags: vstore.FlagLeaf, Owner: m.ID(),
	}, nil
}

func (m *Mount) valueFor(path string) (string, error) {
	m.mu.Lock()
	if v, ok := m.cache[path]; ok {
		m.mu.Unlock()
		return v, nil
	}
	m.mu.Unlock()

	started := time.Now()
	value, err := m.synth.Synthesize(context.Background(), path)
	if err != nil {
		m.backend.RecordError(err.Error())
		logger.WarnCF(component, "synthesis failed", map[string]interface{}{"path": path, "error": err.Error()})
		return "", err
	}
	m.backend.RecordRequest(0, 0, time.Since(started).Milliseconds())

	m.mu.Lock()
	m.cache[path] = value
	m.mu.Unlock()
	return value, nil
}

// Invalidate drops a cached synthesis so the next query re-runs inference.
func (m *Mount) Invalidate(path string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.cache, path)
}
