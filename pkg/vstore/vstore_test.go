package vstore

import (
	"testing"
	"time"

	"github.com/arborstore/arbor/pkg/codec"
	"github.com/arborstore/arbor/pkg/domain"
	"github.com/arborstore/arbor/pkg/errors"
	"github.com/arborstore/arbor/pkg/metamodel"
	"github.com/arborstore/arbor/pkg/namespace"
	"github.com/arborstore/arbor/pkg/object"
	"github.com/arborstore/arbor/pkg/observer"
)

func newTestDispatcher(t *testing.T) (*Dispatcher, *namespace.Namespace) {
	t.Helper()
	rootType := metamodel.NewComposite("root", nil, metamodel.Delegates{})
	if err := rootType.Finalize(); err != nil {
		t.Fatalf("root finalize: %v", err)
	}
	ns := namespace.New(rootType)
	d := New(ns, observer.NewTable(), codec.NewRegistry())
	ns.Notify = d.HandleObjectEvent
	return d, ns
}

// fixedMount serves a canned result list and records what it was asked.
type fixedMount struct {
	BaseMount
	results []Result
	publish []string
}

func newFixedMount(name, from string, ownership domain.Ownership, results []Result) *fixedMount {
	return &fixedMount{
		BaseMount: NewBaseMount(name, from, MountPolicy{Ownership: ownership, ContentType: "application/json"}),
		results:   results,
	}
}

func (m *fixedMount) OnQuery(q *Query) (Iter, error) {
	var out []Result
	for _, r := range m.results {
		if MatchPattern(q.Expr, r.ID) {
			out = append(out, r)
		}
	}
	return NewSliceIter(out, nil), nil
}

func (m *fixedMount) OnPublish(event domain.EventType, id string, value []byte, contentType string) error {
	m.publish = append(m.publish, id)
	return nil
}

func TestMatchPattern(t *testing.T) {
	tests := []struct {
		pattern, id string
		want        bool
	}{
		{"*", "a", true},
		{"*", "a/b", false},
		{"a/*", "a/b", true},
		{"a/*", "b/b", false},
		{"a?c", "abc", true},
		{"a?c", "ac", false},
		{"*//", "a/b/c", true},
		{"a//", "a/b/c", true},
		{"a//", "b/c", false},
		{"", "", true},
		{"exact", "exact", true},
		{"exact", "other", false},
	}
	for _, tt := range tests {
		if got := MatchPattern(tt.pattern, tt.id); got != tt.want {
			t.Errorf("MatchPattern(%q, %q) = %v, want %v", tt.pattern, tt.id, got, tt.want)
		}
	}
}

func TestDeclareUpdateLookup(t *testing.T) {
	d, ns := newTestDispatcher(t)
	_ = d

	obj, err := ns.Declare(nil, "a", metamodel.Int32Type, "me")
	if err != nil {
		t.Fatalf("declare: %v", err)
	}
	defer obj.Release()
	if err := ns.Define(obj, "me"); err != nil {
		t.Fatalf("define: %v", err)
	}
	obj.Payload = int32(42)
	if err := ns.UpdateEnd(obj, "me"); err != nil {
		t.Fatalf("update: %v", err)
	}

	got, err := ns.Lookup(nil, "/a")
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	defer got.Release()
	if !got.State().Has(object.Valid) {
		t.Errorf("state = %v, want valid", got.State())
	}
	if got.Payload != int32(42) {
		t.Errorf("payload = %v, want 42", got.Payload)
	}
}

func TestSelectLocalObjects(t *testing.T) {
	d, ns := newTestDispatcher(t)
	for _, name := range []string{"one", "two", "three"} {
		obj, _ := ns.Declare(nil, name, metamodel.StringType, "me")
		obj.Payload = name
		_ = ns.Define(obj, "me")
		obj.Release()
	}

	it, err := d.Select("*").From("/").Iter()
	if err != nil {
		t.Fatalf("select: %v", err)
	}
	defer it.Release()

	var ids []string
	for it.Next() {
		ids = append(ids, it.Result().ID)
	}
	if err := it.Err(); err != nil {
		t.Fatalf("iterate: %v", err)
	}
	if len(ids) != 3 {
		t.Fatalf("ids = %v, want 3 results", ids)
	}
}

func TestSelectOffsetLimit(t *testing.T) {
	d, ns := newTestDispatcher(t)
	for _, name := range []string{"a", "b", "c", "d"} {
		obj, _ := ns.Declare(nil, name, metamodel.StringType, "me")
		_ = ns.Define(obj, "me")
		obj.Release()
	}

	n, err := d.Select("*").From("/").Offset(1).Limit(2).Count()
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != 2 {
		t.Errorf("count = %d, want 2", n)
	}
}

func TestSelectMergesMountsWithDedup(t *testing.T) {
	d, _ := newTestDispatcher(t)
	first := newFixedMount("first", "/m", domain.RemoteSource, []Result{
		{ID: "a", Name: "a", Value: []byte(`"first-a"`)},
		{ID: "b", Name: "b", Value: []byte(`"first-b"`)},
		{ID: "c", Name: "c", Value: []byte(`"first-c"`)},
	})
	second := newFixedMount("second", "/m", domain.RemoteSource, []Result{
		{ID: "b", Name: "b", Value: []byte(`"second-b"`)},
		{ID: "d", Name: "d", Value: []byte(`"second-d"`)},
	})
	if err := d.Mount(first); err != nil {
		t.Fatal(err)
	}
	if err := d.Mount(second); err != nil {
		t.Fatal(err)
	}

	it, err := d.Select("*").From("/m").Iter()
	if err != nil {
		t.Fatalf("select: %v", err)
	}
	defer it.Release()

	seen := make(map[string]string)
	for it.Next() {
		r := it.Result()
		seen[r.ID] = string(r.Value.([]byte))
	}
	if len(seen) != 4 {
		t.Fatalf("results = %v, want exactly {a b c d}", seen)
	}
	// Equal specificity: registration order breaks the tie, so the first
	// mount's b wins.
	if seen["b"] != `"first-b"` {
		t.Errorf("b = %s, want the first mount's result", seen["b"])
	}
}

func TestMountSpecificityOrdering(t *testing.T) {
	d, _ := newTestDispatcher(t)
	shallow := newFixedMount("shallow", "/m", domain.RemoteSource, []Result{
		{ID: "sub/x", Name: "x", Parent: "sub", Value: []byte(`"shallow"`)},
	})
	deep := newFixedMount("deep", "/m/sub", domain.RemoteSource, []Result{
		{ID: "x", Name: "x", Value: []byte(`"deep"`)},
	})
	// Register the shallow mount first: specificity, not registration
	// order, must decide.
	_ = d.Mount(shallow)
	_ = d.Mount(deep)

	it, err := d.Select("x").From("/m/sub").Iter()
	if err != nil {
		t.Fatalf("select: %v", err)
	}
	defer it.Release()

	if !it.Next() {
		t.Fatal("no results")
	}
	if got := string(it.Result().Value.([]byte)); got != `"deep"` {
		t.Errorf("winner = %s, want the more specific mount's result", got)
	}
}

func TestSubscribeBeforeDeclareGetsOneDefine(t *testing.T) {
	d, ns := newTestDispatcher(t)

	var events []Event
	sub, err := d.Subscribe("a").From("/").Callback(func(e Event) {
		events = append(events, e)
	})
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer func() { _ = d.Unsubscribe(sub.ID()) }()

	obj, _ := ns.Declare(nil, "a", metamodel.Int32Type, "me")
	defer obj.Release()
	_ = ns.Define(obj, "me")

	var defines int
	for _, e := range events {
		if e.Type == domain.EventDefine {
			defines++
		}
	}
	if defines != 1 {
		t.Errorf("DEFINE events = %d, want exactly 1", defines)
	}
}

func TestAlignmentDeliversCurrentState(t *testing.T) {
	d, ns := newTestDispatcher(t)
	for _, name := range []string{"x", "y"} {
		obj, _ := ns.Declare(nil, name, metamodel.StringType, "me")
		_ = ns.Define(obj, "me")
		obj.Release()
	}

	var aligned []string
	sub, err := d.Subscribe("*").From("/").Callback(func(e Event) {
		if e.Type == domain.EventDefine {
			aligned = append(aligned, e.Result.ID)
		}
	})
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer func() { _ = d.Unsubscribe(sub.ID()) }()

	if len(aligned) != 2 {
		t.Errorf("alignment delivered %v, want both existing objects", aligned)
	}
}

func TestPublishUnmaterializedReachesSubscribers(t *testing.T) {
	d, ns := newTestDispatcher(t)

	var events []Event
	sub, err := d.Subscribe("x/*").From("/").Callback(func(e Event) {
		events = append(events, e)
	})
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer func() { _ = d.Unsubscribe(sub.ID()) }()

	err = d.Publish(domain.EventUpdate, "x/y").
		ContentType("application/json").
		Value([]byte(`{"v":1}`)).
		Do()
	if err != nil {
		t.Fatalf("publish: %v", err)
	}

	if len(events) != 1 || events[0].Type != domain.EventUpdate {
		t.Fatalf("events = %v, want one update", events)
	}
	// No object was materialised.
	if _, err := ns.Lookup(nil, "/x/y"); !errors.Is(err, errors.NotFound) {
		t.Errorf("lookup after publish = %v, want NotFound", err)
	}
}

func TestPublishIntoStoredObjectUpdatesIt(t *testing.T) {
	d, ns := newTestDispatcher(t)
	obj, _ := ns.Declare(nil, "a", metamodel.Float64Type, "me")
	defer obj.Release()
	_ = ns.Define(obj, "me")

	err := d.Publish(domain.EventUpdate, "/a").
		ContentType("application/json").
		Value([]byte(`42`)).
		Do()
	if err != nil {
		t.Fatalf("publish: %v", err)
	}
	if obj.Payload != float64(42) {
		t.Errorf("payload = %v, want 42 decoded into the stored object", obj.Payload)
	}
}

func TestDisabledSubscriptionReplaysInOrder(t *testing.T) {
	d, _ := newTestDispatcher(t)

	var got []string
	sub, err := d.Subscribe("x/*").From("/").
		Dispatcher(observer.SyncDispatcher{}).
		Disabled().
		Callback(func(e Event) {
			got = append(got, string(e.Result.Value.([]byte)))
		})
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer func() { _ = d.Unsubscribe(sub.ID()) }()

	for _, v := range []string{`"1"`, `"2"`, `"3"`} {
		err := d.Publish(domain.EventUpdate, "x/y").
			ContentType("application/json").
			Value([]byte(v)).
			Do()
		if err != nil {
			t.Fatalf("publish: %v", err)
		}
	}
	if len(got) != 0 {
		t.Fatalf("disabled subscription delivered %v", got)
	}

	sub.Enable()
	want := []string{`"1"`, `"2"`, `"3"`}
	if len(got) != 3 {
		t.Fatalf("replayed %v, want all three in order", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("replay order = %v, want %v", got, want)
		}
	}
}

func TestLoopbackSuppression(t *testing.T) {
	d, ns := newTestDispatcher(t)

	var events int
	sub, err := d.Subscribe("a").From("/").
		Instance("mount-1").
		Callback(func(Event) { events++ })
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer func() { _ = d.Unsubscribe(sub.ID()) }()

	obj, _ := ns.Declare(nil, "a", metamodel.Int32Type, "mount-1")
	defer obj.Release()
	_ = ns.Define(obj, "other")
	_ = ns.UpdateFrom(obj, "mount-1") // own echo: suppressed
	_ = ns.UpdateFrom(obj, "other")   // someone else: delivered

	if events != 2 {
		t.Errorf("delivered %d events, want 2 (define + other's update)", events)
	}
}

func TestCheckWriteOwnership(t *testing.T) {
	d, _ := newTestDispatcher(t)
	remoteM := newFixedMount("remote", "/r", domain.RemoteSource, nil)
	localM := newFixedMount("local", "/l", domain.LocalSource, nil)
	cacheM := newFixedMount("cache", "/c", domain.CacheOwner, nil)
	_ = d.Mount(remoteM)
	_ = d.Mount(localM)
	_ = d.Mount(cacheM)

	if err := d.CheckWrite("/r/obj", nil, "", "me"); !errors.Is(err, errors.Conflict) {
		t.Errorf("remote-source write = %v, want Conflict", err)
	}
	// The owning mount itself may write.
	if err := d.CheckWrite("/r/obj", nil, "", remoteM.ID()); err != nil {
		t.Errorf("mount's own write rejected: %v", err)
	}
	if err := d.CheckWrite("/l/obj", nil, "", "me"); err != nil {
		t.Errorf("local-source write = %v, want accepted", err)
	}
	if err := d.CheckWrite("/c/obj", []byte(`1`), "application/json", "me"); err != nil {
		t.Errorf("cache-owner write = %v, want forwarded", err)
	}
	if len(cacheM.publish) != 1 || cacheM.publish[0] != "obj" {
		t.Errorf("forwarded writes = %v, want [obj]", cacheM.publish)
	}
	if err := d.CheckWrite("/elsewhere", nil, "", "me"); err != nil {
		t.Errorf("unmounted path write = %v, want accepted", err)
	}
}

func TestUnmountStopsRouting(t *testing.T) {
	d, _ := newTestDispatcher(t)
	m := newFixedMount("m", "/m", domain.RemoteSource, []Result{{ID: "a", Name: "a"}})
	_ = d.Mount(m)

	n, _ := d.Select("*").From("/m").Count()
	if n != 1 {
		t.Fatalf("count before unmount = %d, want 1", n)
	}
	if err := d.Unmount(m.ID()); err != nil {
		t.Fatalf("unmount: %v", err)
	}
	n, _ = d.Select("*").From("/m").Count()
	if n != 0 {
		t.Errorf("count after unmount = %d, want 0", n)
	}
	if err := d.Unmount(m.ID()); !errors.Is(err, errors.NotFound) {
		t.Errorf("double unmount = %v, want NotFound", err)
	}
}

func TestYieldUnknownKeepsPlaceholders(t *testing.T) {
	d, _ := newTestDispatcher(t)
	m := newFixedMount("m", "/m", domain.RemoteSource, []Result{
		{ID: "a", Name: "a"},
		{ID: "a", Name: "a", Unknown: true},
	})
	_ = d.Mount(m)

	n, _ := d.Select("*").From("/m").Count()
	if n != 1 {
		t.Errorf("count without yield_unknown = %d, want 1 (placeholder deduplicated)", n)
	}

	n, _ = d.Select("*").From("/m").YieldUnknown().Count()
	if n != 2 {
		t.Errorf("count with yield_unknown = %d, want 2 (placeholder coexists)", n)
	}
}

func TestResumeMaterialisesMountResults(t *testing.T) {
	d, ns := newTestDispatcher(t)
	m := newFixedMount("m", "/m", domain.RemoteSource, []Result{
		{ID: "a", Name: "a", Type: "string", Value: "hello"},
	})
	_ = d.Mount(m)

	if err := d.Select("*").From("/m").Resume(); err != nil {
		t.Fatalf("resume: %v", err)
	}

	obj, err := ns.Lookup(nil, "/m/a")
	if err != nil {
		t.Fatalf("lookup resumed object: %v", err)
	}
	defer obj.Release()
	if !obj.State().Has(object.Valid) {
		t.Errorf("resumed state = %v, want valid", obj.State())
	}
	if obj.Payload != "hello" {
		t.Errorf("resumed payload = %v, want hello", obj.Payload)
	}
}

func TestHistoryWindowedSamples(t *testing.T) {
	d, ns := newTestDispatcher(t)
	obj, _ := ns.Declare(nil, "a", metamodel.Int32Type, "me")
	defer obj.Release()
	_ = ns.Define(obj, "me")
	for i := 1; i <= 3; i++ {
		obj.Payload = int32(i)
		_ = ns.UpdateEnd(obj, "me")
	}

	it, err := d.Select("a").From("/").ForDuration(time.Hour).SLimit(2).Iter()
	if err != nil {
		t.Fatalf("select: %v", err)
	}
	defer it.Release()
	if !it.Next() {
		t.Fatal("no result")
	}
	h := it.Result().History
	if h == nil {
		t.Fatal("no history iterator on a history-windowed query")
	}
	defer h.Release()
	samples := 0
	for h.Next() {
		samples++
	}
	if samples != 2 {
		t.Errorf("samples = %d, want slimit-capped 2", samples)
	}
}

func TestIterObjectsYieldsAnonymous(t *testing.T) {
	d, ns := newTestDispatcher(t)
	obj, _ := ns.Declare(nil, "a", metamodel.StringType, "me")
	obj.Payload = "v"
	_ = ns.Define(obj, "me")
	obj.Release()

	it, err := d.Select("a").From("/").IterObjects()
	if err != nil {
		t.Fatalf("iter objects: %v", err)
	}
	defer it.Release()
	if !it.Next() {
		t.Fatal("no objects")
	}
	anon := it.Object()
	if anon.Name() != "" || anon.Parent() != nil {
		t.Error("iterated object should be anonymous and detached")
	}
	if anon.Payload != "v" {
		t.Errorf("payload = %v, want v", anon.Payload)
	}
}
