package cronmount

import (
	"testing"

	"github.com/arborstore/arbor/pkg/domain"
	"github.com/arborstore/arbor/pkg/vstore"
)

func TestAddRejectsInvalidExpression(t *testing.T) {
	m := New("sched", "/sched", nil)
	if err := m.Add("bad", "not a cron expr"); err == nil {
		t.Fatal("expected invalid expression to be rejected")
	}
	if err := m.Add("good", "* * * * *"); err != nil {
		t.Fatalf("valid expression rejected: %v", err)
	}
}

func TestOnQueryListsEntries(t *testing.T) {
	m := New("sched", "/sched", nil)
	_ = m.Add("hourly", "0 * * * *")
	_ = m.Add("daily", "0 3 * * *")

	it, err := m.OnQuery(&vstore.Query{Expr: "*"})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	defer it.Release()

	seen := map[string]bool{}
	for it.Next() {
		r := it.Result()
		if r.Type != "schedule" || !r.Flags.Has(vstore.FlagLeaf) {
			t.Errorf("result %+v not a schedule leaf", r)
		}
		seen[r.Name] = true
	}
	if !seen["hourly"] || !seen["daily"] {
		t.Errorf("entries = %v, want both schedules", seen)
	}
}

func TestOnQueryFiltersByPattern(t *testing.T) {
	m := New("sched", "/sched", nil)
	_ = m.Add("hourly", "0 * * * *")
	_ = m.Add("daily", "0 3 * * *")

	it, err := m.OnQuery(&vstore.Query{Expr: "h*"})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	defer it.Release()
	count := 0
	for it.Next() {
		if it.Result().Name != "hourly" {
			t.Errorf("unexpected entry %s", it.Result().Name)
		}
		count++
	}
	if count != 1 {
		t.Errorf("matched %d entries, want 1", count)
	}
}

func TestOnResume(t *testing.T) {
	m := New("sched", "/sched", nil)
	_ = m.Add("hourly", "0 * * * *")

	r, err := m.OnResume("", "hourly")
	if err != nil {
		t.Fatalf("resume: %v", err)
	}
	if r == nil || r.Name != "hourly" {
		t.Fatalf("resume = %+v, want the hourly entry", r)
	}
	r2, err := m.OnResume("", "absent")
	if err != nil || r2 != nil {
		t.Errorf("resume of absent entry = %+v, %v, want nil, nil", r2, err)
	}
}

func TestRemoveDropsEntry(t *testing.T) {
	m := New("sched", "/sched", nil)
	_ = m.Add("hourly", "0 * * * *")
	m.Remove("hourly")
	r, _ := m.OnResume("", "hourly")
	if r != nil {
		t.Error("removed entry still resumable")
	}
}

func TestPolicyIsLocalSource(t *testing.T) {
	m := New("sched", "/sched", nil)
	if m.Policy().Ownership != domain.LocalSource {
		t.Errorf("ownership = %v, want local source", m.Policy().Ownership)
	}
}
