package cluster

import (
	"context"
	"encoding/binary"
	"math"
	"slices"

	"github.com/Faultbox/vgeo/internal/hashtable"
	"github.com/Faultbox/vgeo/internal/parallel"
	vmath "github.com/Faultbox/vgeo/pkg/math"
)

// EdgeHash finds directed edges by their endpoint positions. Edge e runs
// from corner e to the next corner of the same triangle.
type EdgeHash struct {
	table *hashtable.Table
}

// NewEdgeHash returns an empty hash sized for numEdges edges.
func NewEdgeHash(numEdges int) *EdgeHash {
	return &EdgeHash{table: hashtable.New(numEdges, numEdges)}
}

func edgeKey(p0, p1 vmath.Vec3) uint32 {
	var buf [24]byte
	for i, f := range [6]float32{p0.X, p0.Y, p0.Z, p1.X, p1.Y, p1.Z} {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return hashtable.HashBytes(buf[:])
}

// Add inserts edge. Not safe for concurrent use.
func (h *EdgeHash) Add(edge int, pos func(corner int) vmath.Vec3) {
	h.table.Add(edgeKey(pos(edge), pos(cycle3(edge))), uint32(edge))
}

// AddConcurrent inserts edge from any goroutine.
func (h *EdgeHash) AddConcurrent(edge int, pos func(corner int) vmath.Vec3) {
	h.table.AddConcurrent(edgeKey(pos(edge), pos(cycle3(edge))), uint32(edge))
}

// ForAllMatching calls fn for every edge running opposite to edge.
func (h *EdgeHash) ForAllMatching(edge int, pos func(corner int) vmath.Vec3, fn func(edge, other int)) {
	p0, p1 := pos(edge), pos(cycle3(edge))
	h.table.ForEach(edgeKey(p1, p0), func(i uint32) bool {
		other := int(i)
		if other/3 != edge/3 && pos(other) == p1 && pos(cycle3(other)) == p0 {
			fn(edge, other)
		}
		return true
	})
}

// Adjacency links each directed edge to its opposite edges.
type Adjacency struct {
	// Direct holds the lowest matching edge, or -1.
	Direct []int32
	// Extended holds further matches of non-manifold edges, ascending.
	Extended map[int32][]int32
}

// NewAdjacency returns an adjacency with no links.
func NewAdjacency(numEdges int) *Adjacency {
	a := &Adjacency{
		Direct:   make([]int32, numEdges),
		Extended: make(map[int32][]int32),
	}
	for i := range a.Direct {
		a.Direct[i] = -1
	}
	return a
}

// Link records e0 and e1 as opposite edges.
func (a *Adjacency) Link(e0, e1 int32) {
	if a.Direct[e0] < 0 && a.Direct[e1] < 0 {
		a.Direct[e0] = e1
		a.Direct[e1] = e0
		return
	}
	a.addExtended(e0, e1)
	a.addExtended(e1, e0)
}

func (a *Adjacency) addExtended(e, adj int32) {
	list := a.Extended[e]
	i, found := slices.BinarySearch(list, adj)
	if !found {
		a.Extended[e] = slices.Insert(list, i, adj)
	}
}

// ForAll calls fn for every edge adjacent to edge.
func (a *Adjacency) ForAll(edge int32, fn func(edge, adj int32)) {
	if d := a.Direct[edge]; d >= 0 {
		fn(edge, d)
	}
	for _, e := range a.Extended[edge] {
		fn(edge, e)
	}
}

// BuildAdjacency matches every directed edge against the reversed edges of
// all other triangles. Insertion runs concurrently, then lookups run
// concurrently once every insert is done. The lowest matching edge becomes
// the direct link.
func BuildAdjacency(ctx context.Context, numEdges int, pos func(corner int) vmath.Vec3, workers int) (*Adjacency, error) {
	hash := NewEdgeHash(numEdges)
	if err := parallel.For(ctx, numEdges, workers, func(e int) error {
		hash.AddConcurrent(e, pos)
		return nil
	}); err != nil {
		return nil, err
	}

	adj := NewAdjacency(numEdges)
	extra := make([][]int32, numEdges)
	if err := parallel.For(ctx, numEdges, workers, func(e int) error {
		var matches []int32
		hash.ForAllMatching(e, pos, func(_, other int) {
			matches = append(matches, int32(other))
		})
		if len(matches) == 0 {
			return nil
		}
		slices.Sort(matches)
		adj.Direct[e] = matches[0]
		if len(matches) > 1 {
			extra[e] = matches[1:]
		}
		return nil
	}); err != nil {
		return nil, err
	}

	for e, list := range extra {
		if len(list) > 0 {
			adj.Extended[int32(e)] = list
		}
	}
	return adj, nil
}

// BuildAdjacency matches the edges of the cluster's own triangles.
func (c *Cluster) BuildAdjacency() *Adjacency {
	adj, err := BuildAdjacency(context.Background(), len(c.Indexes), c.cornerPosition, 1)
	check(err == nil, "adjacency without context cannot fail")
	return adj
}

func (c *Cluster) cornerPosition(corner int) vmath.Vec3 {
	return c.Verts[c.Indexes[corner]].Position
}
