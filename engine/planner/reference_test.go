package planner

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReferenceLibraryHasThreePlansPerIntersection(t *testing.T) {
	lib := ReferenceLibrary()
	for _, id := range []string{"A", "B", "C", "D", "E"} {
		plans := lib.PlansFor(id)
		require.Len(t, plans, 3, "intersection %s", id)

		var sawNS, sawEW, sawBalanced bool
		for _, p := range plans {
			assert.Equal(t, id, p.Intersection)
			if p.HasTag("ns_priority") {
				sawNS = true
			}
			if p.HasTag("ew_priority") {
				sawEW = true
			}
			if p.HasTag("balanced") {
				sawBalanced = true
			}
		}
		assert.True(t, sawNS, "intersection %s missing ns_priority plan", id)
		assert.True(t, sawEW, "intersection %s missing ew_priority plan", id)
		assert.True(t, sawBalanced, "intersection %s missing balanced plan", id)
	}
}

func TestReferenceLibraryPlanIDsResolve(t *testing.T) {
	lib := ReferenceLibrary()
	entry, ok := lib.Get("A_ns_priority")
	require.True(t, ok)
	assert.Equal(t, "A", entry.Intersection)
	assert.Equal(t, 0, entry.PhaseID)
}
