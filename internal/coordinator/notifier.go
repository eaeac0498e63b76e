// Notifier registration and state, spec.md §3/§4.4: a registration
// (query/collection, callback, version, state) with
// state ∈ {NotYetRun, HasRun, Delivered, Dead}.
package coordinator

import (
	"sync/atomic"

	"github.com/latticedb/lattice/internal/txn"
)

// NotifierState is the lifecycle state of one registered notifier.
type NotifierState int32

const (
	NotYetRun NotifierState = iota
	HasRun
	Delivered
	Dead
)

func (s NotifierState) String() string {
	switch s {
	case NotYetRun:
		return "NotYetRun"
	case HasRun:
		return "HasRun"
	case Delivered:
		return "Delivered"
	case Dead:
		return "Dead"
	default:
		return "Unknown"
	}
}

// ChangeInfo is the per-notifier change-set gathered by the worker
// before invoking Callback — opaque bytes here since the query/object
// layer that would interpret them is out of scope (spec.md §1).
type ChangeInfo struct {
	Version uint64
	Payload []byte
}

// Notifier is one registered observer of a collection/query.
type Notifier struct {
	id                uint64
	registeredVersion uint64
	state             atomic.Int32
	handoverVersion   atomic.Uint64
	hasCallback       bool
	Callback          func(ChangeInfo)

	// CollectionKey identifies which collection this notifier observes.
	// Two notifiers sharing a non-empty key observe the same collection;
	// the worker computes that collection's change-set once per cycle
	// and shares it across every notifier registered against it (spec.md
	// §4.4's "duplicate collection observations share change-set
	// computation").
	CollectionKey string

	pending *txn.Transaction // handover transaction, set under runningMu
}

func newNotifier(id, registeredVersion uint64, collectionKey string, cb func(ChangeInfo)) *Notifier {
	n := &Notifier{id: id, registeredVersion: registeredVersion, CollectionKey: collectionKey, Callback: cb, hasCallback: cb != nil}
	n.state.Store(int32(NotYetRun))
	return n
}

func (n *Notifier) State() NotifierState { return NotifierState(n.state.Load()) }
func (n *Notifier) setState(s NotifierState) { n.state.Store(int32(s)) }

func (n *Notifier) HandoverVersion() uint64 { return n.handoverVersion.Load() }

// run executes the notifier's callback against gathered change info and
// transitions it to HasRun. A notifier without a callback never blocks
// callers on advance_to_latest (spec.md §4.4).
func (n *Notifier) run(info ChangeInfo) {
	if n.hasCallback && n.Callback != nil {
		n.Callback(info)
	}
	n.setState(HasRun)
}

// deliver marks the notifier Delivered after advance_to_ready/
// advance_to_latest hands its change info to the caller.
func (n *Notifier) deliver() { n.setState(Delivered) }

// kill marks the notifier Dead; the worker releases its held
// transaction at the top of the next cycle (spec.md §5 Cancellation).
func (n *Notifier) kill() { n.setState(Dead) }
