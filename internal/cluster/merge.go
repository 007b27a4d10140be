package cluster

import (
	"fmt"

	"github.com/Faultbox/vgeo/internal/hashtable"
)

// Merge concatenates clusters into one, sharing exactly equal vertices.
// Edges that matched across the inputs stop counting as external.
func Merge(clusters []*Cluster) (*Cluster, error) {
	if len(clusters) == 0 {
		return nil, fmt.Errorf("%w: nothing to merge", ErrDegenerateCluster)
	}
	first := clusters[0]
	c := newCluster(first.NumTexCoords, first.HasColors)

	numVerts, numTris := 0, 0
	for _, child := range clusters {
		numVerts += child.NumVerts
		numTris += child.NumTris
		c.MipLevel = max(c.MipLevel, child.MipLevel)
	}
	c.Verts = make([]Vertex, 0, numVerts)
	c.Indexes = make([]uint32, 0, numTris*3)
	c.MaterialIndexes = make([]int32, 0, numTris)
	c.ExternalEdges = make([]int8, 0, numTris*3)

	table := hashtable.New(numVerts, numVerts)
	for _, child := range clusters {
		remap := make([]uint32, child.NumVerts)
		for i := range child.Verts {
			v := &child.Verts[i]
			key := hashtable.Key(vertexHash(v, c.NumTexCoords, c.HasColors))
			found := -1
			table.ForEach(key, func(j uint32) bool {
				if vertexEqual(&c.Verts[j], v, c.NumTexCoords, c.HasColors) {
					found = int(j)
					return false
				}
				return true
			})
			if found < 0 {
				found = len(c.Verts)
				c.Verts = append(c.Verts, *v)
				table.Add(key, uint32(found))
			}
			remap[i] = uint32(found)
		}
		for _, idx := range child.Indexes {
			c.Indexes = append(c.Indexes, remap[idx])
		}
		c.MaterialIndexes = append(c.MaterialIndexes, child.MaterialIndexes...)
		c.ExternalEdges = append(c.ExternalEdges, child.ExternalEdges...)
	}
	c.NumTris = numTris
	c.NumVerts = len(c.Verts)

	adj := c.BuildAdjacency()
	for e := range c.ExternalEdges {
		if c.ExternalEdges[e] == 0 {
			continue
		}
		adj.ForAll(int32(e), func(_, _ int32) {
			c.ExternalEdges[e]--
		})
		// Non-manifold seams can match more edges than were counted.
		c.ExternalEdges[e] = max(c.ExternalEdges[e], 0)
	}

	c.Bound()
	c.ComputeGUID()
	return c, nil
}
