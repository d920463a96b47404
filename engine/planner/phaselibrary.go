package planner

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/aegislights/controller/engine/models"
)

// phaseLibraryFile is the on-disk YAML shape for a phase library (spec_full
// §11: yaml.v3 covers both config and this file format).
type phaseLibraryFile struct {
	Plans []planEntry `yaml:"plans"`
}

type planEntry struct {
	PlanID       string            `yaml:"plan_id"`
	Intersection string            `yaml:"intersection"`
	Name         string            `yaml:"name"`
	Tags         []string          `yaml:"tags"`
	CycleLength  int               `yaml:"cycle_length_seconds"`
	PhaseID      *int              `yaml:"phase_id"`
	Timing       map[string]int    `yaml:"timing_seconds"`
}

// Library is the immutable-after-load set of pre-validated plans, indexed
// by intersection and by plan id.
type Library struct {
	byIntersection map[string][]models.PhaseLibraryEntry
	byPlanID       map[string]models.PhaseLibraryEntry
}

// LoadLibraryFile parses a phase-library YAML file. Every plan is considered
// pre-validated at load time (spec §4.6: "no per-apply conflict check").
func LoadLibraryFile(path string) (*Library, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("planner: read phase library: %w", err)
	}
	var f phaseLibraryFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("planner: parse phase library: %w", err)
	}
	return newLibrary(f.Plans), nil
}

func newLibrary(plans []planEntry) *Library {
	lib := &Library{
		byIntersection: make(map[string][]models.PhaseLibraryEntry),
		byPlanID:       make(map[string]models.PhaseLibraryEntry),
	}
	for _, p := range plans {
		entry := models.PhaseLibraryEntry{
			PlanID:       p.PlanID,
			Intersection: p.Intersection,
			Name:         p.Name,
			Tags:         make(map[string]struct{}, len(p.Tags)),
			CycleLength:  time.Duration(p.CycleLength) * time.Second,
			Timing:       make(map[string]time.Duration, len(p.Timing)),
		}
		for _, tag := range p.Tags {
			entry.Tags[tag] = struct{}{}
		}
		for phase, secs := range p.Timing {
			entry.Timing[phase] = time.Duration(secs) * time.Second
		}
		if p.PhaseID != nil {
			entry.PhaseID = *p.PhaseID
		} else {
			entry.PhaseID = inferPhaseID(p.PlanID)
		}
		lib.byIntersection[p.Intersection] = append(lib.byIntersection[p.Intersection], entry)
		lib.byPlanID[p.PlanID] = entry
	}
	return lib
}

// inferPhaseID falls back to name-based inference when a plan carries no
// explicit phase id (spec §4.5 phase id extraction).
func inferPhaseID(planID string) int {
	switch {
	case strings.Contains(planID, "ns_priority"):
		return 0
	case strings.Contains(planID, "ew_priority"):
		return 2
	case strings.Contains(planID, "balanced"):
		return 0
	default:
		return 0
	}
}

// PlansFor returns every plan available at an intersection.
func (l *Library) PlansFor(intersection string) []models.PhaseLibraryEntry {
	return l.byIntersection[intersection]
}

// Get returns a plan by id, and whether it exists.
func (l *Library) Get(planID string) (models.PhaseLibraryEntry, bool) {
	e, ok := l.byPlanID[planID]
	return e, ok
}

// NewStaticLibrary builds a Library directly from entries, for tests and for
// programmatic seeding without a YAML file on disk.
func NewStaticLibrary(entries []models.PhaseLibraryEntry) *Library {
	lib := &Library{
		byIntersection: make(map[string][]models.PhaseLibraryEntry),
		byPlanID:       make(map[string]models.PhaseLibraryEntry),
	}
	for _, e := range entries {
		lib.byIntersection[e.Intersection] = append(lib.byIntersection[e.Intersection], e)
		lib.byPlanID[e.PlanID] = e
	}
	return lib
}
