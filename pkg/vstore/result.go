package vstore

import (
	"time"

	"github.com/arborstore/arbor/pkg/domain"
)

// ResultFlags annotate a Result's position in the tree.
type ResultFlags uint8

const (
	// FlagLeaf marks a result with no children.
	FlagLeaf ResultFlags = 1 << iota
	// FlagHidden marks a result excluded from default listings.
	FlagHidden
)

// Has reports whether f includes flag.
func (f ResultFlags) Has(flag ResultFlags) bool { return f&flag != 0 }

// HistorySample is one prior (timestamp, value) pair of an object.
type HistorySample struct {
	Timestamp time.Time
	Value     interface{}
}

// HistoryIter lazily yields prior samples, oldest first, bounded by the
// query's history window.
type HistoryIter struct {
	samples []HistorySample
	idx     int
	release func()
}

// NewHistoryIter wraps a sample slice in an iterator. release may be nil.
func NewHistoryIter(samples []HistorySample, release func()) *HistoryIter {
	return &HistoryIter{samples: samples, idx: -1, release: release}
}

// Next advances to the next sample.
func (h *HistoryIter) Next() bool {
	if h == nil {
		return false
	}
	h.idx++
	return h.idx < len(h.samples)
}

// Sample returns the current sample.
func (h *HistoryIter) Sample() HistorySample { return h.samples[h.idx] }

// Release frees any backing resources. Safe on nil and safe to call twice.
func (h *HistoryIter) Release() {
	if h == nil || h.release == nil {
		return
	}
	r := h.release
	h.release = nil
	r()
}

// Result is the unit produced by queries and subscriptions: a projection of
// a potentially unmaterialised object, not an object itself.
type Result struct {
	ID          string
	Name        string
	Parent      string
	Type        string
	Value       interface{}
	ContentType string
	Flags       ResultFlags
	Owner       domain.EntityID
	History     *HistoryIter

	// Unknown marks a placeholder for an id a mount knows exists but cannot
	// materialise. Unless the query set YieldUnknown, the composed stream
	// drops every placeholder, whether or not a concrete result with the
	// same id is present.
	Unknown bool
}

// Iter is the lazy result stream a mount returns from OnQuery and the
// dispatcher returns from a terminal select. Release must be called on
// every exit path, success or failure.
type Iter interface {
	Next() bool
	Result() *Result
	Err() error
	Release()
}

// sliceIter adapts a fixed result slice to Iter.
type sliceIter struct {
	results []Result
	idx     int
	release func()
}

// NewSliceIter wraps results in an Iter. release may be nil.
func NewSliceIter(results []Result, release func()) Iter {
	return &sliceIter{results: results, idx: -1, release: release}
}

func (s *sliceIter) Next() bool {
	s.idx++
	return s.idx < len(s.results)
}

func (s *sliceIter) Result() *Result { return &s.results[s.idx] }

func (s *sliceIter) Err() error { return nil }

func (s *sliceIter) Release() {
	if s.release != nil {
		r := s.release
		s.release = nil
		r()
	}
}

// composedIter is the dispatcher's merged stream over the local store and
// every routed mount, deduplicated by id in source order, with the query's
// offset/limit/type filter applied on the composed stream.
type composedIter struct {
	sources []Iter
	query   *Query

	cur      *Result
	err      error
	seen     map[string]bool
	yielded  int
	skipped  int
	srcIdx   int
	released bool
}

func newComposedIter(q *Query, sources []Iter) *composedIter {
	return &composedIter{sources: sources, query: q, seen: make(map[string]bool)}
}

func (c *composedIter) Next() bool {
	if c.err != nil || c.released {
		return false
	}
	for c.srcIdx < len(c.sources) {
		src := c.sources[c.srcIdx]
		for src.Next() {
			r := src.Result()
			if !c.admit(r) {
				continue
			}
			if c.skipped < c.query.Offset {
				c.skipped++
				continue
			}
			if c.query.Limit > 0 && c.yielded >= c.query.Limit {
				return false
			}
			c.cur = r
			c.yielded++
			return true
		}
		if err := src.Err(); err != nil {
			// A failed iteration releases its underlying mount iterators
			// before surfacing.
			c.err = err
			c.Release()
			return false
		}
		c.srcIdx++
	}
	return false
}

// admit applies dedup and the type filter. The first source to yield an id
// wins; a later duplicate is dropped. Unknown placeholders never shadow a
// concrete result and are only kept at all when YieldUnknown is set.
func (c *composedIter) admit(r *Result) bool {
	if c.query.Type != "" && r.Type != c.query.Type {
		return false
	}
	if c.query.Instanceof != "" && r.Type != c.query.Instanceof {
		return false
	}
	if r.Unknown {
		if !c.query.YieldUnknown || !c.query.History.IsZero() {
			return false
		}
		// Unknown entries dedup among themselves under a separate key so a
		// concrete result with the same id can still flow through.
		key := "?" + r.ID
		if c.seen[key] {
			return false
		}
		c.seen[key] = true
		return true
	}
	if c.seen[r.ID] {
		return false
	}
	c.seen[r.ID] = true
	return true
}

func (c *composedIter) Result() *Result { return c.cur }

func (c *composedIter) Err() error { return c.err }

func (c *composedIter) Release() {
	if c.released {
		return
	}
	c.released = true
	for _, s := range c.sources {
		s.Release()
	}
}
