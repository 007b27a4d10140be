package cluster

import (
	"context"
	"fmt"

	"github.com/Faultbox/vgeo/internal/mesh"
	"github.com/Faultbox/vgeo/internal/parallel"
	"github.com/Faultbox/vgeo/internal/partition"
	vmath "github.com/Faultbox/vgeo/pkg/math"
)

// Graph edge costs between triangles.
const (
	costSharedEdge         = 4
	costSharedEdgeMaterial = 1
	costLocality           = 1
)

// partitionTriangles partitions triangles [base, base+numTris) of an indexed
// triangle set into parts of at most maxSize. Partitioner indexes are local
// to base. Triangles connect through shared edges inside the range, and
// islands connect to nearby same-material islands through locality links.
func partitionTriangles(numTris, base int, pos func(corner int) vmath.Vec3, material func(tri int) int32, adj *Adjacency, minSize, maxSize int) (*partition.Partitioner, error) {
	local := func(edge int32) (int, bool) {
		t := int(edge)/3 - base
		return t, t >= 0 && t < numTris
	}

	islands := partition.NewDisjointSet(numTris)
	bounds := vmath.EmptyBounds()
	centers := make([]vmath.Vec3, numTris)
	groups := make([]int32, numTris)
	for t := range numTris {
		corner := (base + t) * 3
		p0, p1, p2 := pos(corner), pos(corner+1), pos(corner+2)
		centers[t] = p0.Add(p1).Add(p2).Scale(1.0 / 3)
		bounds = bounds.AddPoint(centers[t])
		groups[t] = material(base + t)
		for k := range 3 {
			adj.ForAll(int32(corner+k), func(_, a int32) {
				if o, ok := local(a); ok {
					islands.Union(uint32(t), uint32(o))
				}
			})
		}
	}

	p := partition.New(numTris)
	p.BuildLocalityLinks(islands, bounds, groups, func(i int) vmath.Vec3 { return centers[i] })

	g := partition.NewGraph(numTris, numTris*4)
	for t := range numTris {
		g.AddNode()
		corner := (base + t) * 3
		for k := range 3 {
			adj.ForAll(int32(corner+k), func(_, a int32) {
				o, ok := local(a)
				if !ok {
					return
				}
				cost := costSharedEdge
				if groups[o] == groups[t] {
					cost += costSharedEdgeMaterial
				}
				g.AddEdge(o, cost)
			})
		}
		for _, l := range p.LocalityLinks[t] {
			g.AddEdge(l, costLocality)
		}
	}

	if err := p.PartitionStrict(g, minSize, maxSize); err != nil {
		return nil, err
	}
	return p, nil
}

// Split builds one cluster per range of a partitioner run over this
// cluster's triangles. External counts add the edges cut by the split to the
// ones the cluster already had.
func (c *Cluster) Split(p *partition.Partitioner, adj *Adjacency) ([]*Cluster, error) {
	view := c.meshView()
	sortedTo := p.SortedTo()
	out := make([]*Cluster, 0, len(p.Ranges))
	for _, r := range p.Ranges {
		child, err := fromRange(view, p.Indexes, r.Begin, r.End, sortedTo, adj, c.ExternalEdges)
		if err != nil {
			return nil, err
		}
		child.MipLevel = c.MipLevel
		out = append(out, child)
	}
	return out, nil
}

// SplitToSize partitions the cluster into parts of at most maxTris
// triangles, with a slack of four below it as the soft minimum.
func (c *Cluster) SplitToSize(maxTris int) ([]*Cluster, error) {
	if maxTris <= 0 {
		return nil, fmt.Errorf("%w: split size %d", ErrCapacity, maxTris)
	}
	adj := c.BuildAdjacency()
	p, err := partitionTriangles(c.NumTris, 0, c.cornerPosition,
		func(t int) int32 { return c.MaterialIndexes[t] }, adj, max(maxTris-4, 1), maxTris)
	if err != nil {
		return nil, err
	}
	return c.Split(p, adj)
}

func (c *Cluster) meshView() *mesh.Mesh {
	return &mesh.Mesh{
		Verts:           c.Verts,
		Indexes:         c.Indexes,
		MaterialIndexes: c.MaterialIndexes,
		NumTexCoords:    c.NumTexCoords,
		HasColors:       c.HasColors,
	}
}

// ClusterTriangles partitions every section of m into leaf clusters of at
// most maxTris triangles. Clusters are built in parallel into a pre-sized
// slice in partition order.
func ClusterTriangles(ctx context.Context, m *mesh.Mesh, maxTris, workers int) ([]*Cluster, error) {
	adj, err := BuildAdjacency(ctx, len(m.Indexes), func(corner int) vmath.Vec3 {
		return m.Verts[m.Indexes[corner]].Position
	}, workers)
	if err != nil {
		return nil, err
	}

	numTris := m.NumTriangles()
	order := make([]int, 0, numTris)
	var ranges []partition.Range
	for _, sec := range m.Sections() {
		p, err := partitionTriangles(sec.End-sec.Begin, sec.Begin,
			func(corner int) vmath.Vec3 { return m.Verts[m.Indexes[corner]].Position },
			func(t int) int32 { return m.MaterialIndexes[t] },
			adj, max(maxTris-4, 1), maxTris)
		if err != nil {
			return nil, fmt.Errorf("partitioning triangles [%d, %d): %w", sec.Begin, sec.End, err)
		}
		offset := len(order)
		for _, t := range p.Indexes {
			order = append(order, t+sec.Begin)
		}
		for _, r := range p.Ranges {
			ranges = append(ranges, partition.Range{Begin: r.Begin + offset, End: r.End + offset})
		}
	}

	sortedTo := make([]int, numTris)
	for pos, t := range order {
		sortedTo[t] = pos
	}

	clusters := make([]*Cluster, len(ranges))
	err = parallel.For(ctx, len(ranges), workers, func(i int) error {
		c, err := NewFromMesh(m, order, ranges[i].Begin, ranges[i].End, sortedTo, adj)
		if err != nil {
			return fmt.Errorf("cluster %d: %w", i, err)
		}
		clusters[i] = c
		return nil
	})
	if err != nil {
		return nil, err
	}
	return clusters, nil
}
