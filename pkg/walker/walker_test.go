package walker

import (
	"container/list"
	"testing"

	"github.com/arborstore/arbor/pkg/errors"
	"github.com/arborstore/arbor/pkg/metamodel"
)

func pointType(t *testing.T) *metamodel.Type {
	t.Helper()
	typ := metamodel.NewComposite("point", nil, metamodel.Delegates{},
		metamodel.Member{Name: "x", Type: metamodel.Int32Type},
		metamodel.Member{Name: "y", Type: metamodel.Int32Type},
		metamodel.Member{Name: "label", Type: metamodel.StringType, Modifiers: metamodel.ModPrivate},
	)
	if err := typ.Finalize(); err != nil {
		t.Fatalf("finalize: %v", err)
	}
	return typ
}

func TestWalkCompositeVisitsMembersInOrder(t *testing.T) {
	typ := pointType(t)
	value := map[string]interface{}{"x": int32(1), "y": int32(2), "label": "p1"}

	var visited []string
	w := New(Policy{})
	w.OnPos[PosMember] = func(v *Value) error {
		visited = append(visited, v.Member.Name)
		return nil
	}
	if err := w.Walk(value, typ, ReflectAccessor{}); err != nil {
		t.Fatalf("walk: %v", err)
	}
	want := []string{"x", "y", "label"}
	if len(visited) != len(want) {
		t.Fatalf("visited %v, want %v", visited, want)
	}
	for i := range want {
		if visited[i] != want[i] {
			t.Fatalf("visited %v, want declaration order %v", visited, want)
		}
	}
}

func TestWalkAccessMaskFiltersMembers(t *testing.T) {
	typ := pointType(t)
	value := map[string]interface{}{"x": int32(1), "y": int32(2), "label": "p1"}

	var visited []string
	w := New(Policy{AccessMask: metamodel.ModPrivate, AccessOp: AccessNot})
	w.OnPos[PosMember] = func(v *Value) error {
		visited = append(visited, v.Member.Name)
		return nil
	}
	if err := w.Walk(value, typ, ReflectAccessor{}); err != nil {
		t.Fatalf("walk: %v", err)
	}
	for _, name := range visited {
		if name == "label" {
			t.Error("private member visited despite AccessNot mask")
		}
	}
	if len(visited) != 2 {
		t.Errorf("visited %d members, want 2", len(visited))
	}
}

func TestWalkKeyActions(t *testing.T) {
	typ := metamodel.NewComposite("rec", nil, metamodel.Delegates{},
		metamodel.Member{Name: "id", Type: metamodel.StringType, Modifiers: metamodel.ModKey},
		metamodel.Member{Name: "data", Type: metamodel.Int64Type},
	)
	if err := typ.Finalize(); err != nil {
		t.Fatalf("finalize: %v", err)
	}
	value := map[string]interface{}{"id": "r1", "data": int64(9)}

	collect := func(action KeyAction) []string {
		var names []string
		w := New(Policy{KeyAction: action})
		w.OnPos[PosMember] = func(v *Value) error {
			names = append(names, v.Member.Name)
			return nil
		}
		if err := w.Walk(value, typ, ReflectAccessor{}); err != nil {
			t.Fatalf("walk: %v", err)
		}
		return names
	}

	if got := collect(KeyActionKeysOnly); len(got) != 1 || got[0] != "id" {
		t.Errorf("keys-only visited %v, want [id]", got)
	}
	if got := collect(KeyActionDataOnly); len(got) != 1 || got[0] != "data" {
		t.Errorf("data-only visited %v, want [data]", got)
	}
	if got := collect(KeyActionAll); len(got) != 2 {
		t.Errorf("all visited %v, want both members", got)
	}
}

func TestWalkOptionalOnlyIfSet(t *testing.T) {
	typ := metamodel.NewComposite("doc", nil, metamodel.Delegates{},
		metamodel.Member{Name: "mode", Type: metamodel.StringType},
		metamodel.Member{
			Name: "detail", Type: metamodel.StringType,
			Modifiers: metamodel.ModOptional,
			Condition: metamodel.Condition{Field: "mode", Op: "eq", Literal: "full"},
		},
	)
	if err := typ.Finalize(); err != nil {
		t.Fatalf("finalize: %v", err)
	}

	var visited []string
	w := New(Policy{Optional: OptionalOnlyIfSet})
	w.OnPos[PosMember] = func(v *Value) error {
		visited = append(visited, v.Member.Name)
		return nil
	}

	if err := w.Walk(map[string]interface{}{"mode": "lite", "detail": "d"}, typ, ReflectAccessor{}); err != nil {
		t.Fatalf("walk: %v", err)
	}
	for _, n := range visited {
		if n == "detail" {
			t.Error("unset optional member visited")
		}
	}

	visited = nil
	if err := w.Walk(map[string]interface{}{"mode": "full", "detail": "d"}, typ, ReflectAccessor{}); err != nil {
		t.Fatalf("walk: %v", err)
	}
	found := false
	for _, n := range visited {
		if n == "detail" {
			found = true
		}
	}
	if !found {
		t.Error("set optional member not visited")
	}
}

func TestWalkBaseBeforeMembers(t *testing.T) {
	base := metamodel.NewComposite("base", nil, metamodel.Delegates{},
		metamodel.Member{Name: "id", Type: metamodel.StringType},
	)
	derived := metamodel.NewComposite("derived", base, metamodel.Delegates{},
		metamodel.Member{Name: "extra", Type: metamodel.Int32Type},
	)
	if err := derived.Finalize(); err != nil {
		t.Fatalf("finalize: %v", err)
	}

	var order []string
	w := New(Policy{})
	w.OnPos[PosBase] = func(v *Value) error {
		order = append(order, "base")
		return nil
	}
	w.OnPos[PosMember] = func(v *Value) error {
		order = append(order, v.Member.Name)
		return nil
	}
	value := map[string]interface{}{
		"Base":  map[string]interface{}{"id": "b"},
		"extra": int32(3),
	}
	if err := w.Walk(value, derived, ReflectAccessor{}); err != nil {
		t.Fatalf("walk: %v", err)
	}
	if len(order) == 0 || order[0] != "base" {
		t.Errorf("order = %v, want base first", order)
	}
}

func TestWalkSequenceElements(t *testing.T) {
	seq := metamodel.NewCollection("ints", metamodel.Sequence, metamodel.Int32Type)
	value := []interface{}{int32(1), int32(2), int32(3)}

	count := 0
	w := New(Policy{})
	w.OnPos[PosElement] = func(v *Value) error {
		count++
		return nil
	}
	if err := w.Walk(value, seq, ReflectAccessor{}); err != nil {
		t.Fatalf("walk: %v", err)
	}
	if count != 3 {
		t.Errorf("visited %d elements, want 3", count)
	}
}

func TestWalkListContainer(t *testing.T) {
	lt := metamodel.NewCollection("strlist", metamodel.List, metamodel.StringType)
	l := list.New()
	l.PushBack("a")
	l.PushBack("b")

	var got []string
	w := New(Policy{})
	w.OnPos[PosElement] = func(v *Value) error {
		got = append(got, v.Addr.(string))
		return nil
	}
	if err := w.Walk(l, lt, ReflectAccessor{}); err != nil {
		t.Fatalf("walk: %v", err)
	}
	if len(got) != 2 || got[0] != "a" || got[1] != "b" {
		t.Errorf("list walk = %v, want [a b]", got)
	}
}

func TestWalkMapContainerInKeyOrder(t *testing.T) {
	mt := metamodel.NewCollection("strmap", metamodel.Map, metamodel.StringType)
	tr := NewTree()
	tr.ReplaceOrInsert(MapEntry{Key: "b", Value: "2"})
	tr.ReplaceOrInsert(MapEntry{Key: "a", Value: "1"})
	tr.ReplaceOrInsert(MapEntry{Key: "c", Value: "3"})

	var got []string
	w := New(Policy{})
	w.OnPos[PosMem] = func(v *Value) error {
		got = append(got, v.Addr.(string))
		return nil
	}
	if err := w.Walk(tr, mt, ReflectAccessor{}); err != nil {
		t.Fatalf("walk: %v", err)
	}
	want := []string{"1", "2", "3"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("map walk = %v, want ascending key order %v", got, want)
		}
	}
}

func TestWalkCallbackErrorAborts(t *testing.T) {
	typ := pointType(t)
	value := map[string]interface{}{"x": int32(1), "y": int32(2), "label": "p"}

	calls := 0
	w := New(Policy{})
	w.OnPos[PosMember] = func(v *Value) error {
		calls++
		return errors.New(errors.InvalidArgument, "test", 0, "stop here")
	}
	err := w.Walk(value, typ, ReflectAccessor{})
	if !errors.Is(err, errors.InvalidArgument) {
		t.Fatalf("walk error = %v, want the callback's error", err)
	}
	if calls != 1 {
		t.Errorf("callbacks after abort = %d, want 1", calls)
	}
}

func TestCompareEqualValues(t *testing.T) {
	typ := pointType(t)
	a := map[string]interface{}{"x": int32(1), "y": int32(2), "label": "p"}
	b := map[string]interface{}{"x": int32(1), "y": int32(2), "label": "p"}
	c := map[string]interface{}{"x": int32(1), "y": int32(9), "label": "p"}

	if ok, err := Compare(a, b, typ, ReflectAccessor{}); err != nil || !ok {
		t.Errorf("equal values compared unequal (err=%v)", err)
	}
	if ok, _ := Compare(a, c, typ, ReflectAccessor{}); ok {
		t.Error("differing values compared equal")
	}
}

func TestCompareList(t *testing.T) {
	lt := metamodel.NewCollection("strlist", metamodel.List, metamodel.StringType)

	build := func(values ...string) *list.List {
		l := list.New()
		for _, v := range values {
			l.PushBack(v)
		}
		return l
	}

	if ok, err := Compare(build("a", "b"), build("a", "b"), lt, ReflectAccessor{}); err != nil || !ok {
		t.Errorf("equal lists compared unequal (err=%v)", err)
	}
	if ok, _ := Compare(build("a", "b"), build("x", "y", "z"), lt, ReflectAccessor{}); ok {
		t.Error("differing lists compared equal")
	}
	if ok, _ := Compare(build("a", "b"), build("a", "c"), lt, ReflectAccessor{}); ok {
		t.Error("lists with one differing element compared equal")
	}
}

func TestCompareMap(t *testing.T) {
	mt := metamodel.NewCollection("strmap", metamodel.Map, metamodel.StringType)

	build := func(entries map[string]string) interface{} {
		tr := NewTree()
		for k, v := range entries {
			tr.ReplaceOrInsert(MapEntry{Key: k, Value: v})
		}
		return tr
	}

	if ok, err := Compare(
		build(map[string]string{"a": "1", "b": "2"}),
		build(map[string]string{"a": "1", "b": "2"}),
		mt, ReflectAccessor{},
	); err != nil || !ok {
		t.Errorf("equal maps compared unequal (err=%v)", err)
	}
	if ok, _ := Compare(
		build(map[string]string{"a": "1"}),
		build(map[string]string{"a": "1", "b": "2"}),
		mt, ReflectAccessor{},
	); ok {
		t.Error("maps of different size compared equal")
	}
	if ok, _ := Compare(
		build(map[string]string{"a": "1"}),
		build(map[string]string{"a": "2"}),
		mt, ReflectAccessor{},
	); ok {
		t.Error("maps with a differing value compared equal")
	}
	if ok, _ := Compare(
		build(map[string]string{"a": "1"}),
		build(map[string]string{"b": "1"}),
		mt, ReflectAccessor{},
	); ok {
		t.Error("maps with differing keys compared equal")
	}
}

func TestCompareSequences(t *testing.T) {
	seq := metamodel.NewCollection("ints", metamodel.Sequence, metamodel.Int32Type)
	a := []interface{}{int32(1), int32(2)}
	b := []interface{}{int32(1), int32(2)}
	short := []interface{}{int32(1)}

	if ok, err := Compare(a, b, seq, ReflectAccessor{}); err != nil || !ok {
		t.Errorf("equal sequences compared unequal (err=%v)", err)
	}
	if ok, _ := Compare(a, short, seq, ReflectAccessor{}); ok {
		t.Error("length mismatch compared equal")
	}
}
