package executor

import (
	"fmt"
	"time"

	"github.com/aegislights/controller/engine/graph"
	"github.com/aegislights/controller/engine/models"
	"github.com/aegislights/controller/engine/planner"
)

// ValidationError marks a batch-level rejection: which adaptation failed
// and why (spec §4.6 "reject the whole batch if any adaptation fails").
type ValidationError struct {
	Intersection string
	Reason       error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("executor: validation failed for %q: %v", e.Intersection, e.Reason)
}

func (e *ValidationError) Unwrap() error { return e.Reason }

// RateOfChangeLimits caps how far one cycle's offset/cycle length may move
// from the node's current values when Config.EnforceRateOfChange is set (spec_full §12.2
// supplement; off by default, the phase library's pre-validation remains
// the authoritative default rule set per spec §9 Open Question (d)).
type RateOfChangeLimits struct {
	MaxOffsetDelta      float64 // seconds
	MaxCycleLengthDelta float64 // seconds
}

// validateBatch rejects the whole batch of adaptations if any one fails
// spec §4.6's rules. Plans are considered pre-validated at library load
// time, so this performs no per-apply conflict check beyond these bounds.
func validateBatch(snap graph.Snapshot, library *planner.Library, adaptations []models.Adaptation, rateLimits *RateOfChangeLimits) error {
	for _, a := range adaptations {
		n, ok := snap.Nodes[a.Intersection]
		if !ok {
			return &ValidationError{Intersection: a.Intersection, Reason: models.ErrUnknownIntersection}
		}
		if !n.Signalised() {
			return &ValidationError{Intersection: a.Intersection, Reason: models.ErrVirtualIntersection}
		}
		if a.PhaseID < 0 || a.PhaseID > 3 {
			return &ValidationError{Intersection: a.Intersection, Reason: models.ErrInvalidPhaseID}
		}
		if a.Offset < 0 || a.Offset > 300*time.Second {
			return &ValidationError{Intersection: a.Intersection, Reason: models.ErrOffsetOutOfRange}
		}
		if _, ok := library.Get(a.PlanID); !ok {
			return &ValidationError{Intersection: a.Intersection, Reason: models.ErrPlanNotInLibrary}
		}
		if rateLimits != nil {
			if delta := absFloat((a.Offset - n.CurrentOffset).Seconds()); delta > rateLimits.MaxOffsetDelta {
				return &ValidationError{Intersection: a.Intersection, Reason: fmt.Errorf("offset delta %.1fs exceeds cap %.1fs", delta, rateLimits.MaxOffsetDelta)}
			}
			if delta := absFloat((a.CycleLength - n.CycleLength).Seconds()); delta > rateLimits.MaxCycleLengthDelta {
				return &ValidationError{Intersection: a.Intersection, Reason: fmt.Errorf("cycle length delta %.1fs exceeds cap %.1fs", delta, rateLimits.MaxCycleLengthDelta)}
			}
		}
	}
	return nil
}

func absFloat(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
