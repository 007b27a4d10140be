package dag

import (
	"context"
	"slices"
	"sort"

	"github.com/Faultbox/vgeo/internal/cluster"
	"github.com/Faultbox/vgeo/internal/parallel"
	"github.com/Faultbox/vgeo/internal/partition"
	vmath "github.com/Faultbox/vgeo/pkg/math"
)

// groupLevel partitions one level of clusters into groups. Clusters are
// connected by the number of external edges they share and, across
// disconnected islands, by locality links.
func (d *DAG) groupLevel(ctx context.Context, level []int, opts Options) ([][]int, error) {
	n := len(level)
	offsets := make([]int, n+1)
	for i, ci := range level {
		offsets[i+1] = offsets[i] + len(d.Clusters[ci].Indexes)
	}
	owner := func(corner int) int {
		return sort.Search(n, func(i int) bool { return offsets[i+1] > corner })
	}
	pos := func(corner int) vmath.Vec3 {
		i := owner(corner)
		return d.Clusters[level[i]].Position(d.Clusters[level[i]].Indexes[corner-offsets[i]])
	}

	hash := cluster.NewEdgeHash(offsets[n])
	err := parallel.For(ctx, n, opts.Workers, func(i int) error {
		c := d.Clusters[level[i]]
		for e, count := range c.ExternalEdges {
			if count > 0 {
				hash.AddConcurrent(offsets[i]+e, pos)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	shared := make([]map[int]int, n)
	err = parallel.For(ctx, n, opts.Workers, func(i int) error {
		c := d.Clusters[level[i]]
		counts := make(map[int]int)
		for e, count := range c.ExternalEdges {
			if count == 0 {
				continue
			}
			hash.ForAllMatching(offsets[i]+e, pos, func(_, other int) {
				if o := owner(other); o != i {
					counts[o]++
				}
			})
		}
		shared[i] = counts
		return nil
	})
	if err != nil {
		return nil, err
	}

	islands := partition.NewDisjointSet(n)
	bounds := vmath.EmptyBounds()
	for i := range n {
		for o := range shared[i] {
			islands.Union(uint32(i), uint32(o))
		}
		bounds = bounds.Union(d.Clusters[level[i]].Bounds)
	}

	p := partition.New(n)
	p.BuildLocalityLinks(islands, bounds, nil, func(i int) vmath.Vec3 {
		return d.Clusters[level[i]].SphereBounds.Center
	})

	g := partition.NewGraph(n, n*8)
	for i := range n {
		g.AddNode()
		neighbors := make([]int, 0, len(shared[i]))
		for o := range shared[i] {
			neighbors = append(neighbors, o)
		}
		slices.Sort(neighbors)
		for _, o := range neighbors {
			g.AddEdge(o, shared[i][o])
		}
		for _, l := range p.LocalityLinks[i] {
			g.AddEdge(l, 1)
		}
	}

	if err := p.PartitionStrict(g, opts.MinGroupSize, opts.MaxGroupSize); err != nil {
		return nil, err
	}

	groups := make([][]int, len(p.Ranges))
	for gi, r := range p.Ranges {
		members := make([]int, 0, r.Len())
		for _, local := range p.Indexes[r.Begin:r.End] {
			members = append(members, level[local])
		}
		groups[gi] = members
	}
	return groups, nil
}
