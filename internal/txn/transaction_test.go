package txn

import (
	"testing"
	"time"

	"github.com/latticedb/lattice/internal/slab"
)

func TestBeginWriteBlocksConcurrentWriter(t *testing.T) {
	alloc := slab.AttachEmpty()
	guard := NewGuard()

	w1, err := BeginWrite(alloc, guard, 0, 0)
	if err != nil {
		t.Fatalf("BeginWrite 1: %v", err)
	}

	done := make(chan struct{})
	go func() {
		w2, err := BeginWrite(alloc, guard, 0, 0)
		if err != nil {
			t.Errorf("BeginWrite 2: %v", err)
			return
		}
		w2.Commit(1, 1)
		close(done)
	}()

	select {
	case <-done:
		t.Fatal("second writer proceeded while first still held the guard")
	case <-time.After(50 * time.Millisecond):
	}

	if err := w1.Commit(1, 1); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("second writer never proceeded after first committed")
	}
}

func TestRollbackResetsAllocator(t *testing.T) {
	alloc := slab.AttachEmpty()
	guard := NewGuard()

	w, err := BeginWrite(alloc, guard, 0, 0)
	if err != nil {
		t.Fatalf("BeginWrite: %v", err)
	}
	if _, err := w.Alloc(64); err != nil {
		t.Fatalf("Alloc: %v", err)
	}
	if err := w.Rollback(); err != nil {
		t.Fatalf("Rollback: %v", err)
	}
	if alloc.State() != slab.StateClean {
		t.Fatalf("expected Clean after rollback, got %v", alloc.State())
	}
}

func TestFrozenTransactionRejectsWrites(t *testing.T) {
	alloc := slab.AttachEmpty()
	r := BeginRead(alloc, 0, 0)
	frozen := Freeze(r)

	if !frozen.IsFrozen() {
		t.Fatal("expected IsFrozen() true")
	}
	if _, err := frozen.Alloc(8); err != ErrLogicError {
		t.Fatalf("expected ErrLogicError, got %v", err)
	}
}

func TestHistorySinceReturnsInOrder(t *testing.T) {
	h := NewHistory()
	h.Append(3, []byte("three"))
	h.Append(1, []byte("one"))
	h.Append(2, []byte("two"))

	got, err := h.Since(0)
	if err != nil {
		t.Fatalf("Since: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(got))
	}
	for i, want := range []uint64{1, 2, 3} {
		if got[i].Version != want {
			t.Errorf("entry %d: version = %d, want %d", i, got[i].Version, want)
		}
	}
	if string(got[1].Payload) != "two" {
		t.Errorf("payload = %q, want %q", got[1].Payload, "two")
	}
}

func TestHistoryTrimBeforeKeepsPinned(t *testing.T) {
	h := NewHistory()
	for v := uint64(1); v <= 5; v++ {
		h.Append(v, []byte("x"))
	}
	h.TrimBefore(3)
	got, _ := h.Since(0)
	if len(got) != 3 {
		t.Fatalf("expected 3 remaining entries, got %d", len(got))
	}
	if got[0].Version != 3 {
		t.Errorf("first remaining version = %d, want 3", got[0].Version)
	}
}
