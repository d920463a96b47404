package topology

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aegislights/controller/engine/graph"
	"github.com/aegislights/controller/engine/models"
)

func TestReferenceShape(t *testing.T) {
	spec := Reference()
	assert.Len(t, spec.Nodes, 13)
	assert.Len(t, spec.Edges, 28)

	var signalised, virtual int
	for _, n := range spec.Nodes {
		switch n.Kind {
		case "signalised":
			signalised++
		case "virtual":
			virtual++
		}
	}
	assert.Equal(t, 5, signalised)
	assert.Equal(t, 8, virtual)
}

func TestSeedPopulatesGraph(t *testing.T) {
	g := graph.New()
	Seed(g, Reference())

	a := g.GetNode("A")
	require.NotNil(t, a)
	assert.True(t, a.Signalised())
	assert.Contains(t, g.GetNode("A").Outgoing, "AB")

	one := g.GetNode("1")
	require.NotNil(t, one)
	assert.False(t, one.Signalised())
	assert.Equal(t, models.NodeVirtual, one.Kind)
}

func TestSeedIdempotent(t *testing.T) {
	g := graph.New()
	spec := Reference()
	Seed(g, spec)
	Seed(g, spec)

	assert.Len(t, g.NodeIDs(), 13)
	assert.Len(t, g.GetEdgeIDs(), 28)
}
