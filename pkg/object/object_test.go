package object

import (
	"testing"

	"github.com/arborstore/arbor/pkg/errors"
	"github.com/arborstore/arbor/pkg/metamodel"
)

func TestLifecycleTransitions(t *testing.T) {
	o := New(metamodel.Int32Type, "owner")
	if !o.State().Has(Declared) {
		t.Fatalf("new object state = %v, want declared", o.State())
	}

	if err := o.TransitionDefine(); err != nil {
		t.Fatalf("define: %v", err)
	}
	if !o.State().Has(Valid) {
		t.Errorf("state after define = %v, want valid", o.State())
	}
	// define is idempotent on valid objects
	if err := o.TransitionDefine(); err != nil {
		t.Errorf("second define: %v", err)
	}

	if err := o.TransitionInvalidate(); err != nil {
		t.Fatalf("invalidate: %v", err)
	}
	if o.State().Has(Valid) || !o.State().Has(Declared) {
		t.Errorf("state after invalidate = %v, want declared", o.State())
	}

	if err := o.TransitionDelete(); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if !o.State().Has(Deleted) {
		t.Errorf("state after delete = %v, want deleted", o.State())
	}
	// deleted is terminal
	if err := o.TransitionDefine(); !errors.Is(err, errors.InvalidState) {
		t.Errorf("define on deleted = %v, want InvalidState", err)
	}
	if o.State().Has(Valid) && o.State().Has(Deleted) {
		t.Error("observed valid and deleted at once")
	}
}

func TestReferenceAccounting(t *testing.T) {
	o := New(metamodel.StringType, "owner")
	before := o.StrongCount()

	o.Claim()
	if got := o.StrongCount(); got != before+1 {
		t.Errorf("count after claim = %d, want %d", got, before+1)
	}
	o.Release()
	if got := o.StrongCount(); got != before {
		t.Errorf("count after bracketed claim/release = %d, want %d", got, before)
	}

	o.ClaimWeak()
	if o.WeakCount() != 1 {
		t.Errorf("weak count = %d, want 1", o.WeakCount())
	}
	o.ReleaseWeak()
	if o.WeakCount() != 0 {
		t.Errorf("weak count after release = %d, want 0", o.WeakCount())
	}
}

func TestScopeInsertOrFetch(t *testing.T) {
	parent := New(nil, "owner")
	sc := parent.EnsureScope()

	a := New(metamodel.Int32Type, "owner")
	got, inserted := sc.InsertOrFetch("a", func() *Object { return a })
	if !inserted || got != a {
		t.Fatal("first insert should create")
	}
	other := New(metamodel.Int32Type, "owner")
	got, inserted = sc.InsertOrFetch("a", func() *Object { return other })
	if inserted || got != a {
		t.Fatal("second insert should fetch the existing child")
	}
	if sc.Count() != 1 {
		t.Errorf("count = %d, want 1", sc.Count())
	}
}

func TestScopeInsertionOrder(t *testing.T) {
	parent := New(nil, "owner")
	sc := parent.EnsureScope()
	for _, name := range []string{"c", "a", "b"} {
		n := name
		sc.InsertOrFetch(n, func() *Object { return New(nil, "owner") })
	}
	names := sc.Names()
	want := []string{"c", "a", "b"}
	for i := range want {
		if names[i] != want[i] {
			t.Fatalf("names = %v, want insertion order %v", names, want)
		}
	}
}

func TestWeakHandleDetectsReuse(t *testing.T) {
	parent := New(nil, "owner")
	sc := parent.EnsureScope()
	child := New(metamodel.Int32Type, "owner")
	sc.InsertOrFetch("x", func() *Object { return child })
	Bind(child, parent, "x")

	w := WeakFrom(parent, "x", child.Generation())
	if got, err := w.Deref(); err != nil || got != child {
		t.Fatalf("deref live child: %v", err)
	}

	// Delete and reuse the slot under the same name.
	sc.Remove("x")
	_ = child.TransitionDelete()
	reused := New(metamodel.Int32Type, "owner")
	sc.InsertOrFetch("x", func() *Object { return reused })

	if _, err := w.Deref(); !errors.Is(err, errors.InvalidState) {
		t.Errorf("deref after slot reuse = %v, want InvalidState", err)
	}
}

func TestWeakHandleMissingTarget(t *testing.T) {
	parent := New(nil, "owner")
	parent.EnsureScope()
	w := WeakFrom(parent, "gone", 0)
	if _, err := w.Deref(); !errors.Is(err, errors.InvalidState) {
		t.Errorf("deref missing = %v, want InvalidState", err)
	}
}

type refPayload struct {
	refs []*Object
}

func (p *refPayload) References() []*Object { return p.refs }

func TestCollectorBreaksCycles(t *testing.T) {
	c := NewCollector()

	// Two objects referencing each other, unreachable from any root.
	a := New(nil, "owner")
	b := New(nil, "owner")
	a.Payload = &refPayload{refs: []*Object{b}}
	b.Payload = &refPayload{refs: []*Object{a}}
	c.Track(a)
	c.Track(b)

	// One object reachable from the root stays alive.
	root := New(nil, "owner")
	kept := New(nil, "owner")
	sc := root.EnsureScope()
	sc.InsertOrFetch("kept", func() *Object { return kept })
	c.Track(kept)

	collected := c.Collect(root)
	if collected != 2 {
		t.Fatalf("collected = %d, want 2", collected)
	}
	if !a.State().Has(Deleted) || !b.State().Has(Deleted) {
		t.Error("cycle members were not deleted")
	}
	if kept.State().Has(Deleted) {
		t.Error("reachable object was collected")
	}
	if c.TrackedCount() != 1 {
		t.Errorf("tracked after collect = %d, want 1", c.TrackedCount())
	}
}
