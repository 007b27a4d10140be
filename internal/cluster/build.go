package cluster

import (
	"go.uber.org/zap"

	"github.com/Faultbox/vgeo/internal/logger"
	"github.com/Faultbox/vgeo/internal/mesh"
	vmath "github.com/Faultbox/vgeo/pkg/math"
)

// NewFromMesh builds a cluster from the triangles order[begin:end] of m.
// sortedTo maps a triangle to its position in order, and adj is the edge
// adjacency of the whole mesh; together they count the external edges.
func NewFromMesh(m *mesh.Mesh, order []int, begin, end int, sortedTo []int, adj *Adjacency) (*Cluster, error) {
	return fromRange(m, order, begin, end, sortedTo, adj, nil)
}

// fromRange is NewFromMesh with optional external counts inherited per
// source corner.
func fromRange(m *mesh.Mesh, order []int, begin, end int, sortedTo []int, adj *Adjacency, baseExternal []int8) (*Cluster, error) {
	c := newCluster(m.NumTexCoords, m.HasColors)
	numTris := end - begin
	c.Indexes = make([]uint32, 0, numTris*3)
	c.MaterialIndexes = make([]int32, 0, numTris)
	c.ExternalEdges = make([]int8, 0, numTris*3)

	oldToNew := make(map[uint32]uint32, numTris*2)
	fixedNormals := 0
	for i := begin; i < end; i++ {
		tri := order[i]
		for k := range 3 {
			old := m.Indexes[tri*3+k]
			idx, ok := oldToNew[old]
			if !ok {
				idx = uint32(len(c.Verts))
				oldToNew[old] = idx
				v := m.Verts[old]
				if l := v.Normal.LengthSquared(); !(l > 0) || !v.Normal.IsFinite() {
					v.Normal = vmath.Vec3{Z: 1}
					fixedNormals++
				}
				c.Verts = append(c.Verts, v)
			}
			c.Indexes = append(c.Indexes, idx)

			external := 0
			if baseExternal != nil {
				external = int(baseExternal[tri*3+k])
			}
			adj.ForAll(int32(tri*3+k), func(_, a int32) {
				if p := sortedTo[a/3]; p < begin || p >= end {
					external++
				}
			})
			c.ExternalEdges = append(c.ExternalEdges, int8(min(external, 127)))
		}
		c.MaterialIndexes = append(c.MaterialIndexes, m.MaterialIndexes[tri])
	}
	c.NumTris = numTris
	c.NumVerts = len(c.Verts)

	if fixedNormals > 0 {
		logger.Debug("replaced zero-length normals", zap.Int("count", fixedNormals))
	}
	if err := c.checkDegenerate(); err != nil {
		return nil, err
	}
	c.Bound()
	c.ComputeGUID()
	return c, nil
}

// NewFromTriangleRange copies triangles [begin, end) of src with the
// vertices they use. DAG placement and LOD data carry over.
func NewFromTriangleRange(src *Cluster, begin, end int) *Cluster {
	c := newCluster(src.NumTexCoords, src.HasColors)
	c.MipLevel = src.MipLevel
	c.GroupIndex = src.GroupIndex
	c.GroupPartIndex = src.GroupPartIndex
	c.GeneratingGroupIndex = src.GeneratingGroupIndex

	oldToNew := make(map[uint32]uint32, (end-begin)*2)
	for t := begin; t < end; t++ {
		for k := range 3 {
			old := src.Indexes[t*3+k]
			idx, ok := oldToNew[old]
			if !ok {
				idx = uint32(len(c.Verts))
				oldToNew[old] = idx
				c.Verts = append(c.Verts, src.Verts[old])
			}
			c.Indexes = append(c.Indexes, idx)
			c.ExternalEdges = append(c.ExternalEdges, src.ExternalEdges[t*3+k])
		}
		c.MaterialIndexes = append(c.MaterialIndexes, src.MaterialIndexes[t])
	}
	c.NumTris = end - begin
	c.NumVerts = len(c.Verts)

	c.Bound()
	c.LODBounds = src.LODBounds
	c.LODError = src.LODError
	c.ComputeGUID()
	return c
}
