package encode

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Faultbox/vgeo/internal/cluster"
	"github.com/Faultbox/vgeo/internal/dag"
	"github.com/Faultbox/vgeo/internal/mesh"
	vmath "github.com/Faultbox/vgeo/pkg/math"
)

func TestConstrainFIFOWindow(t *testing.T) {
	for _, materials := range []int{1, 3} {
		c := gridCluster(t, mesh.GridOptions{Materials: materials, NumTexCoords: 2})
		BuildMaterialRanges(c)
		before := trianglePositions(c)
		ranges := append([]cluster.MaterialRange(nil), c.MaterialRanges...)

		ConstrainFIFO(c)
		require.NoError(t, VerifyConstraints(c))
		assert.Equal(t, before, trianglePositions(c))
		assert.Equal(t, ranges, c.MaterialRanges)
		for _, r := range c.MaterialRanges {
			for tri := r.RangeStart; tri < r.RangeStart+r.RangeLength; tri++ {
				assert.Equal(t, int32(r.MaterialIndex), c.MaterialIndexes[tri])
			}
		}
	}
}

// fanCluster builds a triangle fan whose hub is referenced by every
// triangle, so the hub falls out of the window and must be duplicated.
func fanCluster(numTris int) *cluster.Cluster {
	c := &cluster.Cluster{NumTris: numTris, GroupIndex: cluster.InvalidGroup, GeneratingGroupIndex: cluster.InvalidGroup}
	c.Verts = append(c.Verts, cluster.Vertex{Normal: vmath.Vec3{Z: 1}})
	for i := range numTris + 1 {
		c.Verts = append(c.Verts, cluster.Vertex{
			Position: vmath.Vec3{X: float32(i), Y: 1},
			Normal:   vmath.Vec3{Z: 1},
		})
	}
	for i := range numTris {
		c.Indexes = append(c.Indexes, 0, uint32(i+1), uint32(i+2))
		c.MaterialIndexes = append(c.MaterialIndexes, 0)
		c.ExternalEdges = append(c.ExternalEdges, 0, 0, 0)
	}
	c.NumVerts = len(c.Verts)
	return c
}

func TestVerifyConstraintsWindow(t *testing.T) {
	c := fanCluster(40)
	require.NoError(t, c.Validate())
	assert.ErrorIs(t, VerifyConstraints(c), ErrWindow)

	BuildMaterialRanges(c)
	ConstrainFIFO(c)
	require.NoError(t, VerifyConstraints(c))
	assert.Greater(t, c.NumVerts, 42, "hub must be duplicated")
}

func TestStripifyDuplicatesFanHub(t *testing.T) {
	c := fanCluster(100)
	BuildMaterialRanges(c)
	Stripify(c)
	require.NoError(t, VerifyConstraints(c))
	for tri := range c.NumTris {
		got := UnpackTriangleIndices(&c.StripDesc, c.StripIndexData, tri)
		assert.Equal(t, c.Indexes[tri*3:tri*3+3], got[:])
	}
}

func TestRemoveDegenerateTriangles(t *testing.T) {
	c := fanCluster(4)
	c.Indexes[3*2+1] = c.Indexes[3*2]
	removed := RemoveDegenerateTriangles(c)
	assert.Equal(t, 1, removed)
	assert.Equal(t, 3, c.NumTris)
	require.NoError(t, c.Validate())
}

// soupCluster builds numTris triangles that share no vertices.
func soupCluster(numTris int) *cluster.Cluster {
	c := &cluster.Cluster{NumTris: numTris, GroupIndex: 0, GeneratingGroupIndex: cluster.InvalidGroup}
	for i := range numTris {
		x := float32(i % 16)
		z := float32(i / 16)
		base := uint32(len(c.Verts))
		for _, p := range []vmath.Vec3{{X: x, Z: z}, {X: x + 0.5, Z: z}, {X: x, Z: z + 0.5}} {
			c.Verts = append(c.Verts, cluster.Vertex{Position: p, Normal: vmath.Vec3{Y: 1}})
		}
		c.Indexes = append(c.Indexes, base, base+1, base+2)
		c.MaterialIndexes = append(c.MaterialIndexes, 0)
		c.ExternalEdges = append(c.ExternalEdges, 0, 0, 0)
	}
	c.NumVerts = len(c.Verts)
	c.Bound()
	return c
}

func TestConstrainClustersSplitsVertexOverflow(t *testing.T) {
	for _, strips := range []bool{true, false} {
		c := soupCluster(cluster.MaxTriangles)
		require.NoError(t, c.Validate())
		require.Greater(t, c.NumVerts, cluster.MaxVertices)
		BuildMaterialRanges(c)

		d := &dag.DAG{
			Clusters: []*cluster.Cluster{c},
			Groups:   []dag.ClusterGroup{{Children: []int{0}}},
		}
		s, err := ConstrainClusters(context.Background(), d, strips, 2)
		require.NoError(t, err)

		assert.Equal(t, 1, s.Splits, "strips=%v", strips)
		assert.Equal(t, 1, s.InputClusters)
		assert.Equal(t, 2, s.OutputClusters)
		require.Len(t, d.Clusters, 2)
		assert.Equal(t, []int{0, 1}, d.Groups[0].Children)

		tris := 0
		for _, h := range d.Clusters {
			require.NoError(t, VerifyConstraints(h))
			assert.LessOrEqual(t, h.NumVerts, cluster.MaxVertices)
			assert.Equal(t, 0, h.GroupIndex)
			tris += h.NumTris
		}
		assert.Equal(t, cluster.MaxTriangles, tris)
	}
}
