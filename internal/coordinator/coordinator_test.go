package coordinator

import (
	"sync"
	"testing"
	"time"

	"github.com/latticedb/lattice/internal/slab"
	"github.com/latticedb/lattice/internal/telemetry"
)

func freshCoordinator(t *testing.T, path string) *Coordinator {
	t.Helper()
	ClearCache()
	alloc := slab.AttachEmpty()
	c, err := GetCoordinator(Config{Path: path}, alloc, 0, 0, telemetry.NewMetrics(nil))
	if err != nil {
		t.Fatalf("GetCoordinator: %v", err)
	}
	return c
}

func TestGetCoordinatorSingletonPerPath(t *testing.T) {
	ClearCache()
	alloc := slab.AttachEmpty()
	c1, err := GetCoordinator(Config{Path: "/db/a"}, alloc, 0, 0, nil)
	if err != nil {
		t.Fatalf("GetCoordinator 1: %v", err)
	}
	c2, err := GetCoordinator(Config{Path: "/db/a"}, alloc, 0, 0, nil)
	if err != nil {
		t.Fatalf("GetCoordinator 2: %v", err)
	}
	if c1 != c2 {
		t.Fatal("expected the same coordinator instance for the same path")
	}
}

func TestGetCoordinatorRejectsMismatchedConfig(t *testing.T) {
	ClearCache()
	alloc := slab.AttachEmpty()
	if _, err := GetCoordinator(Config{Path: "/db/b", InMemory: false}, alloc, 0, 0, nil); err != nil {
		t.Fatalf("GetCoordinator 1: %v", err)
	}
	_, err := GetCoordinator(Config{Path: "/db/b", InMemory: true}, alloc, 0, 0, nil)
	if err != ErrMismatchedConfig {
		t.Fatalf("expected ErrMismatchedConfig, got %v", err)
	}
}

// TestNotifierSkipVersion follows spec.md §8 end-to-end scenario #6: a
// thread registers a notifier with a callback and commits; the test
// checks that the worker runs the notifier at least once and catches up
// to the committed version, and that the committing realm's
// advance_to_ready then moves it to that version. The contents of the
// delivered change sets are not inspected.
func TestNotifierSkipVersion(t *testing.T) {
	c := freshCoordinator(t, "/db/skip")

	var seenVersions []uint64
	n := c.RegisterNotifier("", func(info ChangeInfo) {
		seenVersions = append(seenVersions, info.Version)
	})

	realm := c.GetRealm()
	if err := c.PromoteToWrite(realm); err != nil {
		t.Fatalf("PromoteToWrite: %v", err)
	}
	if err := c.CommitWrite(realm, true); err != nil {
		t.Fatalf("CommitWrite: %v", err)
	}

	deadline := time.After(time.Second)
	for n.HandoverVersion() < c.version {
		select {
		case <-deadline:
			t.Fatal("notifier never caught up to the committed version")
		case <-time.After(time.Millisecond):
		}
	}

	if len(seenVersions) == 0 {
		t.Fatal("expected the notifier to have run at least once")
	}

	if err := c.AdvanceToReady(realm); err != nil {
		t.Fatalf("AdvanceToReady: %v", err)
	}
	if realm.Transaction().Version() != c.version {
		t.Fatalf("expected realm advanced to %d, got %d", c.version, realm.Transaction().Version())
	}
}

func TestAdvanceToLatestBlocksUntilNotifierCaughtUp(t *testing.T) {
	c := freshCoordinator(t, "/db/latest")
	c.RegisterNotifier("", func(ChangeInfo) {})

	reader := c.GetRealm()

	realm := c.GetRealm()
	if err := c.PromoteToWrite(realm); err != nil {
		t.Fatalf("PromoteToWrite: %v", err)
	}
	if err := c.CommitWrite(realm, true); err != nil {
		t.Fatalf("CommitWrite: %v", err)
	}

	// reader was opened before the commit; nothing to do here except
	// confirm it starts behind.
	if reader.Transaction().Version() != 0 {
		t.Fatalf("expected reader to start at version 0, got %d", reader.Transaction().Version())
	}

	advanced, err := c.AdvanceToLatest(reader)
	if err != nil {
		t.Fatalf("AdvanceToLatest: %v", err)
	}
	if !advanced {
		t.Fatal("expected AdvanceToLatest to report an advance occurred")
	}
	if reader.Transaction().Version() != c.version {
		t.Fatalf("expected version %d, got %d", c.version, reader.Transaction().Version())
	}
}

func TestOldestPinnedVersionTracksFrozenRealms(t *testing.T) {
	c := freshCoordinator(t, "/db/pin")

	r1 := c.GetRealm()
	frozen := c.Freeze(r1)

	realmW := c.GetRealm()
	c.PromoteToWrite(realmW)
	c.CommitWrite(realmW, true)
	c.PromoteToWrite(c.GetRealm())

	if got := c.OldestPinnedVersion(); got != frozen.Transaction().Version() {
		t.Fatalf("expected oldest pinned version %d, got %d", frozen.Transaction().Version(), got)
	}
}

// TestDuplicateCollectionNotifiersShareChangeSet is spec.md §4.4's
// "duplicate collection observations share change-set computation":
// two notifiers registered against the same collection key must
// observe byte-identical payloads for the same commit version.
func TestDuplicateCollectionNotifiersShareChangeSet(t *testing.T) {
	c := freshCoordinator(t, "/db/dup-collection")

	var mu sync.Mutex
	var first, second []byte

	c.RegisterNotifier("Widgets", func(info ChangeInfo) {
		mu.Lock()
		first = info.Payload
		mu.Unlock()
	})
	n2 := c.RegisterNotifier("Widgets", func(info ChangeInfo) {
		mu.Lock()
		second = info.Payload
		mu.Unlock()
	})

	realm := c.GetRealm()
	if err := c.PromoteToWrite(realm); err != nil {
		t.Fatalf("PromoteToWrite: %v", err)
	}
	if err := c.CommitWrite(realm, true); err != nil {
		t.Fatalf("CommitWrite: %v", err)
	}

	deadline := time.After(time.Second)
	for n2.HandoverVersion() < c.version {
		select {
		case <-deadline:
			t.Fatal("notifiers never caught up to the committed version")
		case <-time.After(time.Millisecond):
		}
	}

	mu.Lock()
	defer mu.Unlock()
	if len(first) == 0 || len(second) == 0 {
		t.Fatal("expected both notifiers to receive a non-empty payload")
	}
	if string(first) != string(second) {
		t.Fatalf("expected duplicate collection notifiers to share a change-set, got %x and %x", first, second)
	}
}
