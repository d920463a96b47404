package planner

import (
	"time"

	"github.com/aegislights/controller/engine/models"
)

// ReferenceLibrary returns the three-plan-per-intersection library the
// reference network (engine/topology.Reference) is exercised against when no
// phase-library file is configured: a north-south priority plan, an
// east-west priority plan, and a balanced plan, one set per signalised
// intersection A-E.
func ReferenceLibrary() *Library {
	intersections := []string{"A", "B", "C", "D", "E"}
	var entries []models.PhaseLibraryEntry
	for _, id := range intersections {
		entries = append(entries,
			models.PhaseLibraryEntry{
				PlanID: id + "_ns_priority", Intersection: id, Name: "NS priority",
				Tags: tagSet("ns_priority"), CycleLength: 90 * time.Second, PhaseID: 0,
				Timing: map[string]time.Duration{"ns": 50 * time.Second, "ew": 40 * time.Second},
			},
			models.PhaseLibraryEntry{
				PlanID: id + "_ew_priority", Intersection: id, Name: "EW priority",
				Tags: tagSet("ew_priority"), CycleLength: 90 * time.Second, PhaseID: 2,
				Timing: map[string]time.Duration{"ns": 40 * time.Second, "ew": 50 * time.Second},
			},
			models.PhaseLibraryEntry{
				PlanID: id + "_balanced", Intersection: id, Name: "Balanced",
				Tags: tagSet("balanced"), CycleLength: 80 * time.Second, PhaseID: 0,
				Timing: map[string]time.Duration{"ns": 40 * time.Second, "ew": 40 * time.Second},
			},
		)
	}
	return NewStaticLibrary(entries)
}

func tagSet(tags ...string) map[string]struct{} {
	out := make(map[string]struct{}, len(tags))
	for _, t := range tags {
		out[t] = struct{}{}
	}
	return out
}
