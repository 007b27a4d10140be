package partition

import (
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	vmath "github.com/Faultbox/vgeo/pkg/math"
)

func TestDisjointSet(t *testing.T) {
	d := NewDisjointSet(6)
	d.Union(4, 2)
	d.Union(2, 5)
	d.Union(0, 1)

	assert.Equal(t, uint32(2), d.Find(5))
	assert.Equal(t, uint32(2), d.Find(4))
	assert.Equal(t, uint32(0), d.Find(1))
	assert.Equal(t, uint32(3), d.Find(3))
	assert.Equal(t, 3, d.Components())
}

func TestGraphAccumulatesCost(t *testing.T) {
	g := NewGraph(2, 4)
	g.AddNode()
	g.AddEdge(1, 4)
	g.AddEdge(1, 1)
	g.AddNode()
	g.AddEdge(0, 5)

	adj, cost := g.Edges(0)
	assert.Equal(t, []int{1}, adj)
	assert.Equal(t, []int{5}, cost)
	adj, _ = g.Edges(1)
	assert.Equal(t, []int{0}, adj)
	assert.Equal(t, 2, g.NumNodes())
}

// gridGraph builds a w*h 4-connected grid.
func gridGraph(w, h int) *Graph {
	g := NewGraph(w*h, w*h*4)
	for y := range h {
		for x := range w {
			g.AddNode()
			if x > 0 {
				g.AddEdge(y*w+x-1, 1)
			}
			if x+1 < w {
				g.AddEdge(y*w+x+1, 1)
			}
			if y > 0 {
				g.AddEdge((y-1)*w+x, 1)
			}
			if y+1 < h {
				g.AddEdge((y+1)*w+x, 1)
			}
		}
	}
	return g
}

func connected(g *Graph, nodes []int) bool {
	in := map[int]bool{}
	for _, v := range nodes {
		in[v] = true
	}
	seen := map[int]bool{nodes[0]: true}
	stack := []int{nodes[0]}
	for len(stack) > 0 {
		v := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		adj, _ := g.Edges(v)
		for _, u := range adj {
			if in[u] && !seen[u] {
				seen[u] = true
				stack = append(stack, u)
			}
		}
	}
	return len(seen) == len(nodes)
}

func TestPartitionStrictSizes(t *testing.T) {
	tests := []struct {
		name      string
		w, h      int
		min, max  int
		wantParts int
	}{
		{"fits", 4, 4, 8, 32, 1},
		{"two halves", 16, 16, 124, 128, 2},
		{"odd", 13, 11, 20, 32, 5},
		{"many", 40, 40, 124, 128, 13},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := gridGraph(tt.w, tt.h)
			p := New(tt.w * tt.h)
			require.NoError(t, p.PartitionStrict(g, tt.min, tt.max))

			require.Len(t, p.Ranges, tt.wantParts)
			perm := append([]int(nil), p.Indexes...)
			sort.Ints(perm)
			for i, v := range perm {
				require.Equal(t, i, v, "Indexes must be a permutation")
			}

			lo, hi := tt.w*tt.h, 0
			for _, r := range p.Ranges {
				assert.LessOrEqual(t, r.Len(), tt.max)
				lo, hi = min(lo, r.Len()), max(hi, r.Len())
			}
			assert.LessOrEqual(t, hi-lo, 1+tt.w*tt.h/tt.max, "parts should be near-equal")
		})
	}
}

func TestPartitionStrictHalvesAreConnected(t *testing.T) {
	g := gridGraph(16, 16)
	p := New(256)
	require.NoError(t, p.PartitionStrict(g, 124, 128))
	require.Len(t, p.Ranges, 2)
	for _, r := range p.Ranges {
		assert.Equal(t, 128, r.Len())
		assert.True(t, connected(g, p.Indexes[r.Begin:r.End]))
	}

	sortedTo := p.SortedTo()
	for pos, e := range p.Indexes {
		assert.Equal(t, pos, sortedTo[e])
	}
}

func TestPartitionStrictDisconnected(t *testing.T) {
	// Two separate 3-node chains.
	g := NewGraph(6, 8)
	edges := [][]int{{1}, {0, 2}, {1}, {4}, {3, 5}, {4}}
	for _, e := range edges {
		g.AddNode()
		for _, to := range e {
			g.AddEdge(to, 1)
		}
	}
	p := New(6)
	require.NoError(t, p.PartitionStrict(g, 1, 4))
	require.Len(t, p.Ranges, 2)
	assert.Equal(t, 3, p.Ranges[0].Len())
	assert.Equal(t, 3, p.Ranges[1].Len())
}

func TestPartitionStrictRejectsBadSizes(t *testing.T) {
	g := gridGraph(2, 2)
	p := New(4)
	assert.ErrorIs(t, p.PartitionStrict(g, 8, 4), ErrBadSize)
	assert.ErrorIs(t, New(5).PartitionStrict(g, 1, 4), ErrBadSize)
}

func TestBuildLocalityLinks(t *testing.T) {
	// Four isolated points on a line; 0,1 share an island.
	pts := []vmath.Vec3{{X: 0}, {X: 1}, {X: 2}, {X: 10}}
	islands := NewDisjointSet(4)
	islands.Union(0, 1)

	bounds := vmath.EmptyBounds()
	for _, p := range pts {
		bounds = bounds.AddPoint(p)
	}

	p := New(4)
	p.BuildLocalityLinks(islands, bounds, nil, func(i int) vmath.Vec3 { return pts[i] })

	assert.Contains(t, p.LocalityLinks[1], 2)
	assert.Contains(t, p.LocalityLinks[2], 1)
	assert.NotContains(t, p.LocalityLinks[0], 1, "same island must not link")
	for a, links := range p.LocalityLinks {
		for _, b := range links {
			assert.Contains(t, p.LocalityLinks[b], a, "links must be symmetric")
		}
	}

	grouped := New(4)
	grouped.BuildLocalityLinks(islands, bounds, []int32{0, 0, 1, 1}, func(i int) vmath.Vec3 { return pts[i] })
	assert.NotContains(t, grouped.LocalityLinks[1], 2, "different groups must not link")
	assert.Contains(t, grouped.LocalityLinks[2], 3)
}
