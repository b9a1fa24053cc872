package iabstat

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gotest.tools/v3/fs"
)

func TestTreeTopologyDepths(t *testing.T) {
	topo, err := NewTreeTopology(7, 1)
	require.NoError(t, err)

	depths, err := topo.Depths()
	require.NoError(t, err)
	assert.Equal(t, map[string]int{
		"donor": 0,
		"iab1":  1, "iab2": 1,
		"iab3": 2, "iab4": 2, "iab5": 2, "iab6": 2,
		"iab7": 3,
	}, depths)

	atts, err := topo.Attachments()
	require.NoError(t, err)
	require.Len(t, atts, 8)
	assert.Equal(t, Attachment{IMSI: 201, Address: 0, Node: "donor", Depth: 0}, atts[0])
	assert.Equal(t, Attachment{IMSI: 208, Address: 7, Node: "iab7", Depth: 3}, atts[7])

	_, err = NewTreeTopology(15, 1)
	assert.Error(t, err)
}

func TestTopologyNearestDonor(t *testing.T) {
	topo := CreateTopology("two donors")
	topo.AddDonor("d1")
	topo.AddDonor("d2")
	topo.AddRelay("a", "d1", 1)
	topo.AddRelay("b", "a", 2)
	topo.AddRelay("c", "b", 3)
	topo.AddRelay("e", "d2", 4)

	depths, err := topo.Depths()
	require.NoError(t, err)
	assert.Equal(t, 3, depths["c"])
	assert.Equal(t, 1, depths["e"])
}

func TestTopologyTooDeep(t *testing.T) {
	topo := CreateTopology("chain")
	topo.AddDonor("d")
	parent := "d"
	for idx, name := range []string{"a", "b", "c", "e"} {
		topo.AddRelay(name, parent, int64(idx+1))
		parent = name
	}
	_, err := topo.Depths()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "relay e at depth 4")
}

func TestTopologyValidate(t *testing.T) {
	topo := CreateTopology("broken")
	topo.AddDonor("d")
	topo.AddRelay("a", "nowhere", 1)
	topo.AddRelay("b", "d", 1)
	topo.AddRelay("c", "d", 250)
	topo.AddRelay("c", "c", 3)

	err := topo.Validate()
	require.Error(t, err)
	for _, want := range []string{"unknown parent nowhere", "IMSI 1 used twice", "IMSI 250", "node name c used twice", "its own parent"} {
		assert.Contains(t, err.Error(), want)
	}
}

func TestTopologyFiles(t *testing.T) {
	topo, err := NewTreeTopology(3, 2)
	require.NoError(t, err)
	dir := fs.NewDir(t, "topo")

	for _, name := range []string{"mesh.yaml", "mesh.json"} {
		require.NoError(t, topo.WriteToFile(dir.Join(name)))
		back, err := ReadTopology(dir.Join(name), isYAML(name), nil)
		require.NoError(t, err)
		assert.Equal(t, topo, back)
	}
}
