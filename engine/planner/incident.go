package planner

import (
	"strings"

	"github.com/aegislights/controller/engine/models"
)

// incidentContext is the classification the original implementation's
// dedicated incident handler produces for one intersection, kept here as an
// independently testable step rather than folded directly into Plan (spec
// §4.5 "Plan selection"; spec_full §12.1 supplement).
type incidentContext struct {
	onBypassPath   bool
	bias           string // "ns" | "ew" | ""
	adjacent       bool
}

// classifyIncidentContext determines whether intersection lies on a bypass
// path (and if so, its directional bias) or is merely adjacent to an
// incident edge.
func classifyIncidentContext(intersection string, bypasses []models.Bypass, incidents []models.Incident, neighbors func(string) []string) incidentContext {
	var ctx incidentContext

	for _, bp := range bypasses {
		if !pathTouchesIntersection(bp, intersection) {
			continue
		}
		ctx.onBypassPath = true
		if bias := directionalBias(bp); bias != "" {
			ctx.bias = bias
			break
		}
	}
	if ctx.onBypassPath {
		return ctx
	}

	for _, inc := range incidents {
		if inc.From == intersection || inc.To == intersection {
			ctx.adjacent = true
			return ctx
		}
		for _, nb := range neighbors(intersection) {
			if nb == inc.From || nb == inc.To {
				ctx.adjacent = true
				return ctx
			}
		}
	}
	return ctx
}

func pathTouchesIntersection(bp models.Bypass, intersection string) bool {
	if bp.Source == intersection || bp.Destination == intersection {
		return true
	}
	for _, edgeID := range bp.Path {
		if strings.HasPrefix(edgeID, intersection) || strings.HasSuffix(edgeID, intersection) {
			return true
		}
	}
	return false
}

// directionalBias infers a heading from the hotspot edge the bypass routes
// around (bp.Bypasses, read as two single-character endpoint ids): "ns" for
// a north/south pair, "ew" for any other pair, and no bias when the id is not
// two characters long. The path's own hops are not inspected; the reference
// network has no coordinate system.
func directionalBias(bp models.Bypass) string {
	if len(bp.Bypasses) != 2 {
		return ""
	}
	from, to := bp.Bypasses[0], bp.Bypasses[1]
	if isNorthSouthPair(from, to) {
		return "ns"
	}
	return "ew"
}

// isNorthSouthPair treats the A-B and C-D pairs, in either direction, as the
// north/south axis and the rest as east/west,
// matching the reference five-intersection network's fixed layout.
func isNorthSouthPair(from, to byte) bool {
	axis := map[[2]byte]bool{
		{'A', 'B'}: true, {'B', 'A'}: true,
		{'C', 'D'}: true, {'D', 'C'}: true,
	}
	return axis[[2]byte{from, to}]
}

// preferredPlan picks the tag-matching plan for incident mode, falling back
// to the first available plan (spec §4.5).
func preferredPlan(plans []models.PhaseLibraryEntry, ctx incidentContext) models.PhaseLibraryEntry {
	if len(plans) == 0 {
		return models.PhaseLibraryEntry{}
	}
	if ctx.onBypassPath {
		var wantTag string
		switch ctx.bias {
		case "ns":
			wantTag = "ns_priority"
		case "ew":
			wantTag = "ew_priority"
		}
		if wantTag != "" {
			if p, ok := findByTag(plans, wantTag); ok {
				return p
			}
		}
	}
	if ctx.adjacent {
		if p, ok := findByTag(plans, "balanced"); ok {
			return p
		}
	}
	return plans[0]
}

func findByTag(plans []models.PhaseLibraryEntry, tag string) (models.PhaseLibraryEntry, bool) {
	for _, p := range plans {
		if p.HasTag(tag) || strings.Contains(p.PlanID, tag) {
			return p, true
		}
	}
	return models.PhaseLibraryEntry{}, false
}
