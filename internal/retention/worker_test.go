package retention

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

type fakeSlots struct {
	mu        sync.Mutex
	calls     int
	olderThan time.Duration
	errs      []error
	deleted   int64
}

func (f *fakeSlots) DeleteStaleSlots(_ context.Context, olderThan time.Duration) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.olderThan = olderThan
	if len(f.errs) > 0 {
		err := f.errs[0]
		f.errs = f.errs[1:]
		return 0, err
	}
	return f.deleted, nil
}

func (f *fakeSlots) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeEvictor struct {
	mu  sync.Mutex
	ttl time.Duration
	now time.Time
}

func (f *fakeEvictor) EvictIdle(now time.Time, ttl time.Duration) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now, f.ttl = now, ttl
	return 1
}

func (f *fakeEvictor) Len() int { return 0 }

type fakePruner struct{ idle time.Duration }

func (f *fakePruner) Prune(idle time.Duration) int {
	f.idle = idle
	return 0
}

func TestSweep_PassesWindows(t *testing.T) {
	t.Parallel()

	slots := &fakeSlots{deleted: 2}
	machines := &fakeEvictor{}
	limiter := &fakePruner{}
	w := NewWorker(slots, machines, limiter, 720*time.Hour, time.Hour)
	fixed := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	w.now = func() time.Time { return fixed }

	w.Sweep(context.Background())

	if slots.olderThan != 720*time.Hour {
		t.Errorf("slot retention = %v", slots.olderThan)
	}
	if machines.ttl != time.Hour || !machines.now.Equal(fixed) {
		t.Errorf("evictor got ttl %v at %v", machines.ttl, machines.now)
	}
	if limiter.idle != time.Hour {
		t.Errorf("pruner idle = %v", limiter.idle)
	}
}

func TestSweep_RetriesBusyDatabase(t *testing.T) {
	t.Parallel()

	slots := &fakeSlots{errs: []error{errors.New("database is locked"), errors.New("SQLITE_BUSY")}, deleted: 1}
	w := NewWorker(slots, nil, nil, time.Hour, time.Hour)
	w.retry.BaseDelay = time.Millisecond

	w.Sweep(context.Background())

	if got := slots.callCount(); got != 3 {
		t.Fatalf("DeleteStaleSlots calls = %d, want 3", got)
	}
}

func TestSweep_DoesNotRetryOtherErrors(t *testing.T) {
	t.Parallel()

	slots := &fakeSlots{errs: []error{errors.New("disk full")}}
	w := NewWorker(slots, nil, nil, time.Hour, time.Hour)
	w.retry.BaseDelay = time.Millisecond

	w.Sweep(context.Background())

	if got := slots.callCount(); got != 1 {
		t.Fatalf("DeleteStaleSlots calls = %d, want 1", got)
	}
}

func TestStart_RunsUntilCancelled(t *testing.T) {
	t.Parallel()

	slots := &fakeSlots{}
	w := NewWorker(slots, nil, nil, time.Hour, time.Hour)
	ctx, cancel := context.WithCancel(context.Background())
	w.Start(ctx, 5*time.Millisecond)

	deadline := time.After(2 * time.Second)
	for slots.callCount() < 2 {
		select {
		case <-deadline:
			t.Fatal("worker did not sweep")
		case <-time.After(5 * time.Millisecond):
		}
	}
	cancel()

	time.Sleep(20 * time.Millisecond)
	settled := slots.callCount()
	time.Sleep(30 * time.Millisecond)
	if slots.callCount() != settled {
		t.Fatal("worker kept sweeping after cancel")
	}
}

func TestPruners_SumsMembers(t *testing.T) {
	t.Parallel()

	a, b := &fakePruner{}, &fakePruner{}
	Pruners{a, b}.Prune(time.Minute)
	if a.idle != time.Minute || b.idle != time.Minute {
		t.Errorf("idle = %v, %v", a.idle, b.idle)
	}
}
