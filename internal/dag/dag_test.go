package dag

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Faultbox/vgeo/internal/cluster"
	"github.com/Faultbox/vgeo/internal/mesh"
)

func wavyGrid(size int) *mesh.Mesh {
	return mesh.Grid(mesh.GridOptions{
		Width: size, Depth: size,
		Height: func(x, z int) float32 {
			return float32(math.Sin(float64(x)*0.3)*math.Cos(float64(z)*0.2)) * 2
		},
	})
}

func buildDAG(t *testing.T, size, workers int) *DAG {
	t.Helper()
	leaves, err := cluster.ClusterTriangles(context.Background(), wavyGrid(size), cluster.MaxTriangles, workers)
	require.NoError(t, err)

	opts := DefaultOptions()
	opts.Workers = workers
	d, err := Build(context.Background(), leaves, 0, opts)
	require.NoError(t, err)
	return d
}

func checkDAG(t *testing.T, d *DAG) {
	t.Helper()
	root := d.Root()
	rootGroup := d.Groups[len(d.Groups)-1]
	assert.Equal(t, float32(RootLODError), rootGroup.MaxParentLODError)
	assert.Equal(t, float32(-1), rootGroup.MinLODError)
	assert.Equal(t, len(d.Groups)-1, root.GroupIndex)

	for ci, c := range d.Clusters {
		require.NotNil(t, c, "cluster %d", ci)
		require.NoError(t, c.Validate())
		assert.LessOrEqual(t, c.NumTris, cluster.MaxTriangles)
		require.GreaterOrEqual(t, c.GroupIndex, 0, "cluster %d has no group", ci)

		g := d.Groups[c.GroupIndex]
		assert.Contains(t, g.Children, ci)
		assert.LessOrEqual(t, c.LODError, g.MaxParentLODError, "cluster %d", ci)

		if !c.IsLeaf() {
			gen := d.Groups[c.GeneratingGroupIndex]
			assert.Equal(t, gen.MaxParentLODError, c.LODError)
			assert.Equal(t, gen.MipLevel+1, c.MipLevel)
			for _, child := range gen.Children {
				assert.True(t, c.LODBounds.Contains(d.Clusters[child].LODBounds, 1e-3))
			}
		}
	}

	for gi, g := range d.Groups[:len(d.Groups)-1] {
		assert.GreaterOrEqual(t, len(g.Children), 2, "group %d", gi)
		assert.LessOrEqual(t, g.MinLODError, g.MaxParentLODError)
		for _, ci := range g.Children {
			child := d.Clusters[ci]
			if child.IsLeaf() {
				assert.Equal(t, float32(-1), g.MinLODError)
			} else {
				// A parent level never claims less error than the level it replaces.
				assert.GreaterOrEqual(t, g.MaxParentLODError, d.Groups[child.GeneratingGroupIndex].MaxParentLODError)
			}
		}
	}
}

func TestBuildSingleGroupLevels(t *testing.T) {
	d := buildDAG(t, 32, 2)
	checkDAG(t, d)
	assert.Equal(t, 16, countLeaves(d))
	assert.Greater(t, d.Root().MipLevel, 0)
}

func TestBuildPartitionedLevels(t *testing.T) {
	d := buildDAG(t, 64, 4)
	checkDAG(t, d)
	assert.Equal(t, 64, countLeaves(d))
	assert.Greater(t, d.Root().LODError, float32(0))
}

func TestBuildDeterministic(t *testing.T) {
	a := buildDAG(t, 48, 1)
	b := buildDAG(t, 48, 4)
	require.Equal(t, len(a.Clusters), len(b.Clusters))
	for i := range a.Clusters {
		assert.Equal(t, a.Clusters[i].GUID, b.Clusters[i].GUID, "cluster %d", i)
	}
}

func TestSingleLeafIsRoot(t *testing.T) {
	leaves, err := cluster.ClusterTriangles(context.Background(), wavyGrid(4), cluster.MaxTriangles, 1)
	require.NoError(t, err)
	require.Len(t, leaves, 1)

	d, err := Build(context.Background(), leaves, 0, DefaultOptions())
	require.NoError(t, err)
	require.Len(t, d.Groups, 1)
	assert.Same(t, leaves[0], d.Root())
}

func TestReduceRejectsSmallGroup(t *testing.T) {
	leaves, err := cluster.ClusterTriangles(context.Background(), wavyGrid(4), cluster.MaxTriangles, 1)
	require.NoError(t, err)

	d := &DAG{Clusters: leaves, Groups: []ClusterGroup{{Children: []int{0}}}}
	err = d.reduce(0, nil, DefaultOptions())
	assert.ErrorIs(t, err, ErrSmallGroup)
}

func TestBuildCancelled(t *testing.T) {
	leaves, err := cluster.ClusterTriangles(context.Background(), wavyGrid(32), cluster.MaxTriangles, 1)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = Build(ctx, leaves, 0, DefaultOptions())
	assert.ErrorIs(t, err, context.Canceled)
}

func countLeaves(d *DAG) int {
	n := 0
	for _, c := range d.Clusters {
		if c.IsLeaf() {
			n++
		}
	}
	return n
}
