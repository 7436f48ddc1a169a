package object

import (
	"sync"
)

// Referencer is implemented by payloads that hold strong references to
// other objects. The collector follows these edges in addition to the
// parent/scope edges it can see on its own.
type Referencer interface {
	References() []*Object
}

type color uint8

const (
	white color = iota // not yet reached
	grey               // reached, edges pending
	black              // reached, edges followed
)

// Collector breaks strong-reference cycles. Objects whose type carries
// references register themselves as candidates; Collect marks everything
// reachable from the given roots and deletes the candidates the mark never
// reached — their only remaining references are internal to a dead
// subgraph. Runs at store shutdown and on demand.
type Collector struct {
	mu         sync.Mutex
	candidates map[*Object]struct{}
}

// NewCollector creates an empty collector.
func NewCollector() *Collector {
	return &Collector{candidates: make(map[*Object]struct{})}
}

// Track registers o as a collection candidate. Namespace creation calls
// this for every object whose type has reference members.
func (c *Collector) Track(o *Object) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.candidates[o] = struct{}{}
}

// Untrack removes o from the candidate set, normally on explicit delete.
func (c *Collector) Untrack(o *Object) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.candidates, o)
}

// TrackedCount returns the number of live candidates, for diagnostics.
func (c *Collector) TrackedCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.candidates)
}

// Collect runs a tri-colour mark from roots and deletes every unreached
// candidate. Returns the number of objects collected. The candidate set is
// snapshotted up front; objects tracked concurrently with a running
// collection are left for the next cycle.
func (c *Collector) Collect(roots ...*Object) int {
	c.mu.Lock()
	snapshot := make([]*Object, 0, len(c.candidates))
	for o := range c.candidates {
		snapshot = append(snapshot, o)
	}
	c.mu.Unlock()

	colors := make(map[*Object]color)
	var queue []*Object
	for _, r := range roots {
		if r == nil {
			continue
		}
		colors[r] = grey
		queue = append(queue, r)
	}

	for len(queue) > 0 {
		o := queue[0]
		queue = queue[1:]
		if colors[o] == black {
			continue
		}
		colors[o] = black
		for _, edge := range edgesOf(o) {
			if edge == nil || colors[edge] != white {
				continue
			}
			colors[edge] = grey
			queue = append(queue, edge)
		}
	}

	collected := 0
	for _, o := range snapshot {
		if colors[o] != white {
			continue
		}
		if o.State().Has(Deleted) {
			c.Untrack(o)
			continue
		}
		// Unreached: drop the internal references keeping the subgraph
		// alive, then retire the object.
		for o.StrongCount() > 0 {
			o.Release()
		}
		_ = o.TransitionDelete()
		c.Untrack(o)
		collected++
	}
	return collected
}

func edgesOf(o *Object) []*Object {
	var out []*Object
	if sc := o.Scope(); sc != nil {
		out = append(out, sc.Children()...)
	}
	o.mu.RLock()
	payload := o.Payload
	o.mu.RUnlock()
	if r, ok := payload.(Referencer); ok {
		out = append(out, r.References()...)
	}
	return out
}
