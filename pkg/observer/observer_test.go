package observer

import (
	"sync"
	"testing"
	"time"

	"github.com/arborstore/arbor/pkg/domain"
)

func TestEventMaskFiltering(t *testing.T) {
	table := NewTable()
	var got []domain.EventType
	obs := &Observer{
		Events: OnDefine | OnUpdate,
		Callback: func(e domain.Event) {
			got = append(got, e.EventType())
		},
	}
	table.Subscribe("obj-1", obs)

	table.Notify("obj-1", domain.NewEvent(domain.EventDeclare, "obj-1", nil), OnSelf)
	table.Notify("obj-1", domain.NewEvent(domain.EventDefine, "obj-1", nil), OnSelf)
	table.Notify("obj-1", domain.NewEvent(domain.EventUpdate, "obj-1", nil), OnSelf)
	table.Notify("obj-1", domain.NewEvent(domain.EventDelete, "obj-1", nil), OnSelf)

	if len(got) != 2 || got[0] != domain.EventDefine || got[1] != domain.EventUpdate {
		t.Errorf("delivered %v, want [define update]", got)
	}
}

func TestScopeMaskFiltering(t *testing.T) {
	table := NewTable()
	count := 0
	obs := &Observer{
		Events:   OnUpdate,
		Scope:    OnSelf,
		Callback: func(domain.Event) { count++ },
	}
	table.Subscribe("obj-1", obs)

	table.Notify("obj-1", domain.NewEvent(domain.EventUpdate, "obj-1", nil), OnSelf)
	table.Notify("obj-1", domain.NewEvent(domain.EventUpdate, "child", nil), OnTree)
	if count != 1 {
		t.Errorf("delivered %d, want 1 (tree event filtered by self-only scope)", count)
	}
}

func TestSelfNotificationSuppressed(t *testing.T) {
	table := NewTable()
	count := 0
	obs := &Observer{
		Instance: "mount-1",
		Events:   OnUpdate,
		Callback: func(domain.Event) { count++ },
	}
	table.Subscribe("obj-1", obs)

	table.Notify("obj-1", domain.NewEventFrom(domain.EventUpdate, "obj-1", "mount-1", nil), OnSelf)
	table.Notify("obj-1", domain.NewEventFrom(domain.EventUpdate, "obj-1", "other", nil), OnSelf)
	if count != 1 {
		t.Errorf("delivered %d, want 1 (own event suppressed)", count)
	}
}

func TestOrderingPerObjectObserver(t *testing.T) {
	table := NewTable()
	var got []int
	obs := &Observer{
		Events: OnUpdate,
		Callback: func(e domain.Event) {
			got = append(got, e.Payload().(int))
		},
	}
	table.Subscribe("obj-1", obs)

	for i := 0; i < 10; i++ {
		table.Notify("obj-1", domain.NewEvent(domain.EventUpdate, "obj-1", i), OnSelf)
	}
	for i := range got {
		if got[i] != i {
			t.Fatalf("events out of order: %v", got)
		}
	}
}

func TestSilenceRemovesObserver(t *testing.T) {
	table := NewTable()
	count := 0
	obs := &Observer{Events: OnUpdate, Callback: func(domain.Event) { count++ }}
	table.Subscribe("obj-1", obs)

	table.Notify("obj-1", domain.NewEvent(domain.EventUpdate, "obj-1", nil), OnSelf)
	table.Silence("obj-1", obs)
	table.Notify("obj-1", domain.NewEvent(domain.EventUpdate, "obj-1", nil), OnSelf)

	if count != 1 {
		t.Errorf("delivered %d, want 1 after silence", count)
	}
	if table.Count("obj-1") != 0 {
		t.Errorf("live observers = %d, want 0", table.Count("obj-1"))
	}
}

func TestDeletedObserverSkippedByDispatcher(t *testing.T) {
	table := NewTable()
	disp := NewWorkerDispatcher(1, 16, Block)
	defer disp.Close()

	var mu sync.Mutex
	count := 0
	obs := &Observer{
		Events:     OnUpdate,
		Dispatcher: disp,
		Callback: func(domain.Event) {
			mu.Lock()
			count++
			mu.Unlock()
		},
	}
	table.Subscribe("obj-1", obs)

	// Occupy the single worker so both events sit in the queue.
	gate := make(chan struct{})
	started := make(chan struct{})
	disp.Dispatch(func() { close(started); <-gate })
	<-started

	table.Notify("obj-1", domain.NewEvent(domain.EventUpdate, "obj-1", nil), OnSelf)
	table.Notify("obj-1", domain.NewEvent(domain.EventUpdate, "obj-1", nil), OnSelf)
	// Delete while the events are queued; the liveness check runs at
	// dispatch time.
	obs.Delete()
	close(gate)
	time.Sleep(50 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	if count != 0 {
		t.Errorf("delivered %d events to a deleted observer, want 0", count)
	}
}

func TestWorkerDispatcherDropOldest(t *testing.T) {
	disp := NewWorkerDispatcher(1, 1, DropOldest)
	defer disp.Close()

	block := make(chan struct{})
	started := make(chan struct{})
	disp.Dispatch(func() { close(started); <-block })
	<-started

	var mu sync.Mutex
	var ran []int
	// The queue holds one entry; the second enqueue evicts the first.
	disp.Dispatch(func() { mu.Lock(); ran = append(ran, 1); mu.Unlock() })
	disp.Dispatch(func() { mu.Lock(); ran = append(ran, 2); mu.Unlock() })
	close(block)
	time.Sleep(50 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	if len(ran) != 1 || ran[0] != 2 {
		t.Errorf("ran %v, want only the newest handler [2]", ran)
	}
}

func TestSyncDispatcherRunsInline(t *testing.T) {
	ran := false
	SyncDispatcher{}.Dispatch(func() { ran = true })
	if !ran {
		t.Error("sync dispatcher deferred the handler")
	}
}
