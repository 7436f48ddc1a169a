package metamodel

import (
	"testing"
)

// TestBootstrapValidatesBuiltins verifies every built-in descriptor agrees
// with the host layout.
func TestBootstrapValidatesBuiltins(t *testing.T) {
	types, err := Bootstrap()
	if err != nil {
		t.Fatalf("bootstrap failed: %v", err)
	}
	if len(types) == 0 {
		t.Fatal("expected built-in types")
	}
	for _, typ := range types {
		if LookupBuiltin(typ.Name) != typ {
			t.Errorf("lookup %q did not return the bootstrap instance", typ.Name)
		}
	}
	if LookupBuiltin("no-such-type") != nil {
		t.Error("expected nil for unknown builtin")
	}
}

func TestFinalizeComputesLayout(t *testing.T) {
	base := NewComposite("base", nil, Delegates{},
		Member{Name: "id", Type: Int64Type, Modifiers: ModKey},
	)
	derived := NewComposite("derived", base, Delegates{},
		Member{Name: "flag", Type: BoolType},
		Member{Name: "count", Type: Int32Type},
	)
	if err := derived.Finalize(); err != nil {
		t.Fatalf("finalize: %v", err)
	}

	if base.Size != 8 {
		t.Errorf("base size = %d, want 8", base.Size)
	}
	if derived.Members[0].Offset != 8 {
		t.Errorf("flag offset = %d, want 8", derived.Members[0].Offset)
	}
	if derived.Members[1].Offset != 12 {
		t.Errorf("count offset = %d, want 12", derived.Members[1].Offset)
	}
	if derived.Size != 16 {
		t.Errorf("derived size = %d, want 16 (padded to int64 alignment)", derived.Size)
	}
	if derived.Align != 8 {
		t.Errorf("derived align = %d, want 8", derived.Align)
	}
}

func TestFinalizeAssignsMemberIDs(t *testing.T) {
	typ := NewComposite("t", nil, Delegates{},
		Member{Name: "a", Type: Int32Type},
		Member{Name: "b", Type: Int32Type},
	)
	if err := typ.Finalize(); err != nil {
		t.Fatalf("finalize: %v", err)
	}
	if typ.Members[0].ID != 1 || typ.Members[1].ID != 2 {
		t.Errorf("member ids = %d,%d, want 1,2", typ.Members[0].ID, typ.Members[1].ID)
	}
}

func TestDelegatePropagation(t *testing.T) {
	baseInitRan := false
	base := NewComposite("base", nil, Delegates{
		Init: func(self interface{}, args ...interface{}) (interface{}, error) {
			baseInitRan = true
			return nil, nil
		},
	})
	derived := NewComposite("derived", base, Delegates{})
	if err := derived.Finalize(); err != nil {
		t.Fatalf("finalize: %v", err)
	}

	if derived.Effective.Init == nil {
		t.Fatal("derived did not inherit base init")
	}
	if !derived.Flags.Has(HasInit) {
		t.Error("expected HasInit flag after propagation")
	}
	if _, err := derived.Effective.Init(nil); err != nil {
		t.Fatalf("inherited init: %v", err)
	}
	if !baseInitRan {
		t.Error("inherited init did not run the base delegate")
	}
}

func TestDelegateOverrideWins(t *testing.T) {
	base := NewComposite("base", nil, Delegates{
		Construct: func(self interface{}, args ...interface{}) (interface{}, error) {
			return "base", nil
		},
	})
	derived := NewComposite("derived", base, Delegates{
		Construct: func(self interface{}, args ...interface{}) (interface{}, error) {
			return "derived", nil
		},
	})
	if err := derived.Finalize(); err != nil {
		t.Fatalf("finalize: %v", err)
	}
	got, _ := derived.Effective.Construct(nil)
	if got != "derived" {
		t.Errorf("effective construct = %v, want the override", got)
	}
}

func TestKeycacheCollectsKeyMembers(t *testing.T) {
	typ := NewComposite("keyed", nil, Delegates{},
		Member{Name: "k1", Type: StringType, Modifiers: ModKey},
		Member{Name: "data", Type: Int64Type},
		Member{Name: "k2", Type: Int32Type, Modifiers: ModKey},
	)
	if err := typ.Finalize(); err != nil {
		t.Fatalf("finalize: %v", err)
	}
	if len(typ.Keycache) != 2 {
		t.Fatalf("keycache size = %d, want 2", len(typ.Keycache))
	}
	if typ.Keycache[0].Name != "k1" || typ.Keycache[1].Name != "k2" {
		t.Errorf("keycache order = %s,%s, want k1,k2", typ.Keycache[0].Name, typ.Keycache[1].Name)
	}
}

func TestAssignable(t *testing.T) {
	base := NewComposite("base", nil, Delegates{})
	derived := NewComposite("derived", base, Delegates{})
	other := NewComposite("other", nil, Delegates{})

	if !base.Assignable(derived) {
		t.Error("derived should be assignable to base")
	}
	if base.Assignable(other) {
		t.Error("unrelated type should not be assignable")
	}
	if !AnyType.Assignable(other) {
		t.Error("anything should be assignable to any")
	}
}

func TestConditionEval(t *testing.T) {
	fields := map[string]interface{}{"mode": "full", "extra": nil}
	tests := []struct {
		name string
		cond Condition
		want bool
	}{
		{"empty condition", Condition{}, true},
		{"eq match", Condition{Field: "mode", Op: "eq", Literal: "full"}, true},
		{"eq mismatch", Condition{Field: "mode", Op: "eq", Literal: "lite"}, false},
		{"set on nil value", Condition{Field: "extra", Op: "set"}, false},
		{"unset on missing", Condition{Field: "missing", Op: "unset"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.cond.Eval(fields); got != tt.want {
				t.Errorf("eval = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestOptionalMemberGating(t *testing.T) {
	m := Member{
		Name:      "opt",
		Type:      StringType,
		Modifiers: ModOptional,
		Condition: Condition{Field: "mode", Op: "eq", Literal: "full"},
	}
	if !m.IsOptionalSet(map[string]interface{}{"mode": "full"}) {
		t.Error("expected optional member set when condition holds")
	}
	if m.IsOptionalSet(map[string]interface{}{"mode": "lite"}) {
		t.Error("expected optional member unset when condition fails")
	}
}
