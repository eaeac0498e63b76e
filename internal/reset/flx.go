// FLX (flexible sync) two-stage commit, spec.md §4.6's final paragraph:
// when a subscription store is present, recovery commits the transfer
// and the local replay as two separate transactions so an interrupted
// recovery can resume cleanly instead of leaving a half-applied file.
package reset

import "fmt"

// SubscriptionSet is the minimal view FLX recovery needs of the sync
// client's subscription store; the store itself is out of scope
// (spec.md §1 lists subscription bookkeeping as an external
// collaborator).
type SubscriptionSet interface {
	// MarkComplete supersedes every other subscription set with one
	// marked Complete, keeping the same underlying file identity.
	MarkComplete() error
	// Pending returns the subscription sets saved before recovery began,
	// to be replayed interleaved with local changesets in stage two.
	Pending() []SubscriptionSet
}

// CommitFunc commits the transaction the recovery steps below are
// mutating and reports only an error; any new top-ref/version stays
// with the caller. Recovery itself has no opinion on how a
// commit is performed — that's internal/coordinator's job — so this is
// injected rather than imported, keeping internal/reset free of an
// import on internal/coordinator.
type CommitFunc func() error

// InstallIdentity installs the new client file identity; only called
// once, at the very end of stage two, per spec.md's "only at the final
// commit install the new client file identity."
type InstallIdentity func() error

// RecoverFLX runs spec.md §4.6's two-stage FLX commit around a normal
// Recover call: stage one transfers remote state and marks the new
// subscription set Complete, committing before any local replay so a
// crash after stage one still observes a consistent, resumable state;
// stage two replays req's local changesets (see replayInterleaved), and
// only then installs the new file identity.
func RecoverFLX(req Request, subs SubscriptionSet, commit CommitFunc, installIdentity InstallIdentity) (Result, error) {
	stageOneReq := req
	stageOneReq.LocalChangesets = nil // stage one is transfer-only

	if _, err := Recover(stageOneReq); err != nil {
		return Result{}, fmt.Errorf("flx reset stage one: %w", err)
	}
	if err := subs.MarkComplete(); err != nil {
		return Result{}, fmt.Errorf("%w: marking subscription set complete: %v", ErrClientResetFailed, err)
	}
	if err := commit(); err != nil {
		return Result{}, fmt.Errorf("flx reset stage one commit: %w", err)
	}

	pending := subs.Pending()
	result, err := replayInterleaved(req, pending, commit)
	if err != nil {
		return Result{}, fmt.Errorf("flx reset stage two: %w", err)
	}

	if err := installIdentity(); err != nil {
		return result, fmt.Errorf("%w: installing new client file identity: %v", ErrClientResetFailed, err)
	}
	return result, nil
}

// replayInterleaved replays all of req's local changesets in one pass,
// then calls commit once for each pending subscription set. Subscription
// sets are not applied between changesets, and with no pending set no
// commit is made here.
func replayInterleaved(req Request, pending []SubscriptionSet, commit CommitFunc) (Result, error) {
	n, copied, err := replayLocalChangesets(req.Dst, req.LocalChangesets, req.Sink)
	if err != nil {
		return Result{}, err
	}
	for range pending {
		if err := commit(); err != nil {
			return Result{}, fmt.Errorf("committing interleaved subscription batch: %w", err)
		}
	}
	return Result{ModeUsed: req.Mode, InstructionsRan: n, ListsCopiedRaw: copied}, nil
}
