// Client-reset recovery (C10), spec.md §4.6: the top-level entry point
// a sync client calls after the server rejects continuing from the
// realm's current history. Grounded on original_source's
// client_reset.cpp (mode precheck, transfer_group orchestration) and
// client_reset_recovery.cpp (per-changeset instruction replay loop).
package reset

import (
	"errors"
	"fmt"
	"time"

	"github.com/latticedb/lattice/internal/applier"
	"github.com/latticedb/lattice/internal/telemetry"
)

var log = telemetry.Component("reset")

// Changeset is one locally-recorded batch of instructions to replay
// during Recover/RecoverOrDiscard, in original commit order.
type Changeset struct {
	Instructions []applier.Instruction
}

// Request bundles everything Recover needs: the requested mode, the
// cycle-prevention store, whether the server allows Recover for this
// client, the two transactions to reconcile, and (for Recover /
// RecoverOrDiscard) the local changesets to replay.
type Request struct {
	Mode            Mode
	Metadata        MetadataStore
	RecoveryAllowed bool
	Src             applier.Group // freshly downloaded remote state
	Dst             applier.Group // realm being reset, mutated in place
	SrcTables       []string
	DstTables       []string
	LocalChangesets []Changeset
	Sink            applier.AuditSink
}

// Result reports what recovery actually did, since RecoverOrDiscard and
// the cycle-prevention downgrade rules can silently change the
// requested mode.
type Result struct {
	ModeUsed        Mode
	ListsCopiedRaw  int // lists that fell back to manual copy
	InstructionsRan int
}

// Recover runs spec.md §4.6 end to end: resolve the effective mode
// against cycle-prevention history, transfer the schema, optionally
// replay local changes, then record this attempt in the metadata store
// (Manual mode is never recorded — spec.md's metadata row only tracks
// attempts that actually mutate state).
func Recover(req Request) (Result, error) {
	mode, err := resolveMode(req.Metadata, req.Mode, req.RecoveryAllowed)
	if err != nil {
		return Result{}, err
	}
	if mode == Manual {
		return Result{ModeUsed: Manual}, fmt.Errorf("%w: manual mode requires caller intervention", ErrClientResetFailed)
	}

	if err := TransferGroup(req.Src, req.Dst, req.SrcTables, req.DstTables); err != nil {
		return Result{}, err
	}

	result := Result{ModeUsed: mode}
	if mode == Recover || mode == RecoverOrDiscard {
		n, copied, err := replayLocalChangesets(req.Dst, req.LocalChangesets, req.Sink)
		if err != nil {
			if mode == RecoverOrDiscard && errors.Is(err, applier.ErrBadChangeset) {
				log.Info().Msg("Recover failed on a destructive op, falling back to DiscardLocal")
				result.ModeUsed = DiscardLocal
			} else {
				return Result{}, err
			}
		} else {
			result.InstructionsRan = n
			result.ListsCopiedRaw = copied
		}
	}

	if err := req.Metadata.Save(PendingReset{Version: metadataVersion, Timestamp: now(), Mode: result.ModeUsed}); err != nil {
		return result, err
	}
	return result, nil
}

// now is split out so tests can't accidentally depend on wall-clock
// ordering across a single process run; production callers get real
// time.
var now = time.Now

// replayLocalChangesets runs spec.md §4.6's "Recovery of local changes"
// loop: walk each changeset's instructions, maintaining one ListTracker
// per addressed list (keyed by table/object/field — a simplification of
// the original's full ListPath, adequate since this module doesn't
// implement nested-embedded list addressing beyond one level). Unknown
// operations degrade per spec.md's "Instruction degradation" bullets
// rather than aborting the whole recovery.
func replayLocalChangesets(dst applier.Group, changesets []Changeset, sink applier.AuditSink) (ran int, manualCopies int, err error) {
	trackers := map[string]*ListTracker{}

	for _, cs := range changesets {
		var toApply []applier.Instruction
		for _, instr := range cs.Instructions {
			switch ins := instr.(type) {
			case applier.EraseTable, applier.EraseColumn:
				return ran, manualCopies, fmt.Errorf("%w: destructive schema op during recovery aborts", ErrClientResetFailed)
			case applier.ArrayInsert:
				key := listKey(ins.Path)
				tr := trackerFor(trackers, key)
				if tr.RequiresManualCopy() {
					continue // degraded: ignored, list already queued for manual copy
				}
				if _, ok := tr.Insert(ins.Index, ins.PriorSize); !ok {
					manualCopies++
					continue
				}
				toApply = append(toApply, ins)
			case applier.ArrayMove:
				key := listKey(ins.Path)
				tr := trackerFor(trackers, key)
				if tr.RequiresManualCopy() {
					continue
				}
				if _, _, ok := tr.Move(ins.From, ins.To); !ok {
					manualCopies++
					continue
				}
				toApply = append(toApply, ins)
			case applier.ArrayErase:
				key := listKey(ins.Path)
				tr := trackerFor(trackers, key)
				if tr.RequiresManualCopy() {
					continue
				}
				if _, ok := tr.Remove(ins.Index); !ok {
					manualCopies++
					continue
				}
				toApply = append(toApply, ins)
			default:
				toApply = append(toApply, instr)
			}
		}
		if err := applier.Apply(dst, toApply, sink); err != nil {
			if errors.Is(err, applier.ErrBadChangeset) {
				log.Warn().Err(err).Msg("discarding an instruction incompatible with the post-reset schema")
				continue
			}
			return ran, manualCopies, err
		}
		ran += len(toApply)
	}
	return ran, manualCopies, nil
}

func trackerFor(trackers map[string]*ListTracker, key string) *ListTracker {
	tr, ok := trackers[key]
	if !ok {
		tr = NewListTracker()
		trackers[key] = tr
	}
	return tr
}

func listKey(p applier.Path) string {
	return fmt.Sprintf("%s/%v/%s", p.Table, p.ObjectPK.Raw, p.Field)
}
