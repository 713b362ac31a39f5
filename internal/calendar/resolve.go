package calendar

import (
	"time"

	"github.com/kincareapp/kincare/internal/model"
)

// Change classifies which sides of the mirror advanced past the watermark.
type Change int

const (
	ChangeNone Change = iota
	ChangeLocal
	ChangeExternal
	ChangeBoth
)

// Classify compares both sides' update times against the last-synced
// watermark. A nil watermark means the pair has never synced, so any
// timestamp counts as advanced.
func Classify(localUpdated time.Time, externalUpdated *time.Time, watermark *time.Time) Change {
	localAdvanced := !localUpdated.IsZero() &&
		(watermark == nil || localUpdated.After(*watermark))
	externalAdvanced := externalUpdated != nil && !externalUpdated.IsZero() &&
		(watermark == nil || externalUpdated.After(*watermark))

	switch {
	case localAdvanced && externalAdvanced:
		return ChangeBoth
	case localAdvanced:
		return ChangeLocal
	case externalAdvanced:
		return ChangeExternal
	default:
		return ChangeNone
	}
}

// Action is what the engine should do with a classified pair.
type Action int

const (
	ActionNone Action = iota
	ActionPush
	ActionPull
	ActionConflict
)

// Outcome is the decision for one event pair.
type Outcome struct {
	Action Action

	// Fields carries the snapshot to apply for push and pull, including
	// merged snapshots.
	Fields model.EventFields

	// Merged is true when Fields is a synthesized merge of both sides,
	// which must also be written back into the local source entity.
	Merged bool

	// Record is populated only for ActionConflict (manual strategy).
	Record *model.ConflictRecord
}

// Decide maps a classified change to a resolution under the connection's
// direction and strategy.
//
// Direction overrides strategy: write_only connections always keep the
// local side, read_only always keep the external side, without entering
// conflict. Only bidirectional connections consult the strategy.
func Decide(conn *model.CalendarConnection, change Change, base, local, external model.EventFields, now time.Time) Outcome {
	switch change {
	case ChangeNone:
		return Outcome{Action: ActionNone}

	case ChangeLocal:
		if !conn.PushAllowed() {
			// read_only: local edits never flow out.
			return Outcome{Action: ActionNone}
		}
		return Outcome{Action: ActionPush, Fields: local}

	case ChangeExternal:
		if !conn.PullAllowed() {
			// write_only: provider edits are overwritten on next push.
			return Outcome{Action: ActionPush, Fields: local}
		}
		return Outcome{Action: ActionPull, Fields: external}
	}

	// Both sides advanced.
	switch conn.Direction {
	case model.DirectionWriteOnly:
		return Outcome{Action: ActionPush, Fields: local}
	case model.DirectionReadOnly:
		return Outcome{Action: ActionPull, Fields: external}
	}

	// No diverging content means no conflict, just a watermark bump.
	diff := model.DiffFields(local, external)
	if len(diff) == 0 {
		return Outcome{Action: ActionPull, Fields: external}
	}

	switch conn.Strategy {
	case model.StrategyLocalWins:
		return Outcome{Action: ActionPush, Fields: local}

	case model.StrategyExternalWins:
		return Outcome{Action: ActionPull, Fields: external}

	case model.StrategyMerge:
		merged := Merge(base, local, external)
		if conn.MinimalDetails {
			merged = Redact(merged)
		}
		return Outcome{Action: ActionPush, Fields: merged, Merged: true}

	default: // manual
		return Outcome{
			Action: ActionConflict,
			Record: &model.ConflictRecord{
				Local:      local,
				External:   external,
				Fields:     diff,
				DetectedAt: now,
			},
		}
	}
}

// Merge combines two diverged snapshots field by field against the last
// synced base: a field changed on one side takes that side's value; a
// field changed on both takes the side with the more recent timestamp.
// Exact timestamp ties prefer the external provider's value, since that is
// the system the user is most likely actively looking at.
func Merge(base, local, external model.EventFields) model.EventFields {
	localNewer := local.UpdatedAt.After(external.UpdatedAt)

	pickString := func(baseV, localV, externalV string) string {
		localChanged := localV != baseV
		externalChanged := externalV != baseV
		switch {
		case localChanged && externalChanged:
			if localNewer {
				return localV
			}
			return externalV
		case localChanged:
			return localV
		case externalChanged:
			return externalV
		default:
			return baseV
		}
	}
	pickTime := func(baseV, localV, externalV time.Time) time.Time {
		localChanged := !localV.Equal(baseV)
		externalChanged := !externalV.Equal(baseV)
		switch {
		case localChanged && externalChanged:
			if localNewer {
				return localV
			}
			return externalV
		case localChanged:
			return localV
		case externalChanged:
			return externalV
		default:
			return baseV
		}
	}
	pickBool := func(baseV, localV, externalV bool) bool {
		localChanged := localV != baseV
		externalChanged := externalV != baseV
		switch {
		case localChanged && externalChanged:
			if localNewer {
				return localV
			}
			return externalV
		case localChanged:
			return localV
		case externalChanged:
			return externalV
		default:
			return baseV
		}
	}

	merged := model.EventFields{
		Title:       pickString(base.Title, local.Title, external.Title),
		Description: pickString(base.Description, local.Description, external.Description),
		Location:    pickString(base.Location, local.Location, external.Location),
		StartAt:     pickTime(base.StartAt, local.StartAt, external.StartAt),
		EndAt:       pickTime(base.EndAt, local.EndAt, external.EndAt),
		AllDay:      pickBool(base.AllDay, local.AllDay, external.AllDay),
	}
	if localNewer {
		merged.UpdatedAt = local.UpdatedAt
	} else {
		merged.UpdatedAt = external.UpdatedAt
	}
	return merged
}
