// Package partition splits weighted graphs into connected parts of bounded
// size, and provides the union-find and locality helpers used to build
// those graphs from mesh triangles and clusters.
package partition

import (
	"container/heap"
	"errors"
	"fmt"
	"sort"

	vmath "github.com/Faultbox/vgeo/pkg/math"
)

// ErrBadSize is returned when the requested part sizes are unusable.
var ErrBadSize = errors.New("invalid partition size")

const localityWindow = 16

// Range is a half-open span of Partitioner.Indexes.
type Range struct {
	Begin, End int
}

// Len returns the number of elements in r.
func (r Range) Len() int {
	return r.End - r.Begin
}

// Partitioner splits numElements elements into ranges of a permutation.
type Partitioner struct {
	// Indexes is the element permutation; every Range indexes into it.
	Indexes []int
	Ranges  []Range

	// LocalityLinks lists, per element, nearby elements of other islands.
	LocalityLinks [][]int

	numElements int
	part        []int32
	gain        []int
	nextID      int32
}

// New returns a partitioner over numElements elements.
func New(numElements int) *Partitioner {
	return &Partitioner{numElements: numElements}
}

// NumElements returns the element count.
func (p *Partitioner) NumElements() int {
	return p.numElements
}

// SortedTo returns the inverse of Indexes: the position of each element.
func (p *Partitioner) SortedTo() []int {
	out := make([]int, p.numElements)
	for pos, e := range p.Indexes {
		out[e] = pos
	}
	return out
}

// BuildLocalityLinks links each element to the closest element of a different
// island among its Morton-order neighbors. When groups is non-nil only
// elements with equal group values are linked. Links are symmetric.
func (p *Partitioner) BuildLocalityLinks(islands *DisjointSet, bounds vmath.Bounds, groups []int32, center func(i int) vmath.Vec3) {
	n := p.numElements
	p.LocalityLinks = make([][]int, n)
	if n < 2 || islands.Components() < 2 {
		return
	}

	size := bounds.Size()
	inv := vmath.Vec3{X: 1 / max(size.X, 1e-12), Y: 1 / max(size.Y, 1e-12), Z: 1 / max(size.Z, 1e-12)}

	codes := make([]uint32, n)
	order := make([]int, n)
	centers := make([]vmath.Vec3, n)
	for i := range n {
		c := center(i)
		centers[i] = c
		u := c.Sub(bounds.Min).Mul(inv)
		codes[i] = vmath.Morton3(unit10(u.X), unit10(u.Y), unit10(u.Z))
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool { return codes[order[a]] < codes[order[b]] })

	for pos, e := range order {
		root := islands.Find(uint32(e))
		best, bestDist := -1, float32(0)
		lo := max(pos-localityWindow, 0)
		hi := min(pos+localityWindow, n-1)
		for k := lo; k <= hi; k++ {
			o := order[k]
			if o == e || islands.Find(uint32(o)) == root {
				continue
			}
			if groups != nil && groups[o] != groups[e] {
				continue
			}
			d := centers[e].Sub(centers[o]).LengthSquared()
			if best < 0 || d < bestDist || (d == bestDist && o < best) {
				best, bestDist = o, d
			}
		}
		if best >= 0 {
			p.addLink(e, best)
			p.addLink(best, e)
		}
	}
}

func (p *Partitioner) addLink(a, b int) {
	for _, l := range p.LocalityLinks[a] {
		if l == b {
			return
		}
	}
	p.LocalityLinks[a] = append(p.LocalityLinks[a], b)
}

func unit10(f float32) uint32 {
	v := f*1023 + 0.5
	switch {
	case v <= 0:
		return 0
	case v >= 1023:
		return 1023
	}
	return uint32(v)
}

// PartitionStrict splits the graph into parts of at most maxSize nodes by
// recursive bisection. Each split divides the nodes in proportion to the
// number of parts needed on each side, so parts end near-equal in size.
// minSize is a soft lower bound that only constrains the part count.
func (p *Partitioner) PartitionStrict(g *Graph, minSize, maxSize int) error {
	if maxSize <= 0 || minSize > maxSize {
		return fmt.Errorf("%w: min %d max %d", ErrBadSize, minSize, maxSize)
	}
	if g.NumNodes() != p.numElements {
		return fmt.Errorf("%w: graph has %d nodes, want %d", ErrBadSize, g.NumNodes(), p.numElements)
	}

	p.Indexes = p.Indexes[:0]
	p.Ranges = p.Ranges[:0]
	p.part = make([]int32, p.numElements)
	p.gain = make([]int, p.numElements)
	p.nextID = 1

	nodes := make([]int, p.numElements)
	for i := range nodes {
		nodes[i] = i
	}
	p.bisect(g, nodes, 0, maxSize)
	p.part, p.gain = nil, nil
	return nil
}

func (p *Partitioner) bisect(g *Graph, nodes []int, id int32, maxSize int) {
	n := len(nodes)
	if n == 0 {
		return
	}
	if n <= maxSize {
		begin := len(p.Indexes)
		p.Indexes = append(p.Indexes, nodes...)
		p.Ranges = append(p.Ranges, Range{Begin: begin, End: len(p.Indexes)})
		return
	}

	k := (n + maxSize - 1) / maxSize
	leftSize := n * (k / 2) / k

	leftID, rightID := p.nextID, p.nextID+1
	p.nextID += 2
	p.grow(g, nodes, id, leftID, leftSize)

	left := make([]int, 0, leftSize)
	right := make([]int, 0, n-leftSize)
	for _, v := range nodes {
		if p.part[v] == leftID {
			left = append(left, v)
		} else {
			p.part[v] = rightID
			right = append(right, v)
		}
	}
	p.bisect(g, left, leftID, maxSize)
	p.bisect(g, right, rightID, maxSize)
}

// grow claims target nodes of subproblem id for leftID, starting from a
// pseudo-peripheral node and repeatedly taking the frontier node with the
// strongest connection to the region.
func (p *Partitioner) grow(g *Graph, nodes []int, id, leftID int32, target int) {
	h := &gainHeap{}
	count := 0
	scan := 0

	take := func(v int) {
		p.part[v] = leftID
		count++
		adj, cost := g.Edges(v)
		for i, u := range adj {
			if p.part[u] != id {
				continue
			}
			p.gain[u] += cost[i]
			heap.Push(h, gainItem{gain: p.gain[u], node: u})
		}
	}

	seed := p.peripheral(g, nodes, id)
	take(seed)
	for count < target {
		next := -1
		for h.Len() > 0 {
			it := heap.Pop(h).(gainItem)
			if p.part[it.node] == id && it.gain == p.gain[it.node] {
				next = it.node
				break
			}
		}
		if next < 0 {
			// Region is closed off: continue from the next free node.
			for scan < len(nodes) && p.part[nodes[scan]] != id {
				scan++
			}
			next = nodes[scan]
		}
		take(next)
	}

	for _, v := range nodes {
		p.gain[v] = 0
	}
}

// peripheral returns the last node reached by two breadth-first sweeps over
// the subproblem, starting at its first node.
func (p *Partitioner) peripheral(g *Graph, nodes []int, id int32) int {
	seen := make(map[int]struct{}, len(nodes))
	sweep := func(start int) int {
		clear(seen)
		queue := []int{start}
		seen[start] = struct{}{}
		last := start
		for len(queue) > 0 {
			v := queue[0]
			queue = queue[1:]
			last = v
			adj, _ := g.Edges(v)
			for _, u := range adj {
				if p.part[u] != id {
					continue
				}
				if _, ok := seen[u]; ok {
					continue
				}
				seen[u] = struct{}{}
				queue = append(queue, u)
			}
		}
		return last
	}
	return sweep(sweep(nodes[0]))
}

type gainItem struct {
	gain int
	node int
}

type gainHeap []gainItem

func (h gainHeap) Len() int { return len(h) }
func (h gainHeap) Less(i, j int) bool {
	if h[i].gain != h[j].gain {
		return h[i].gain > h[j].gain
	}
	return h[i].node < h[j].node
}
func (h gainHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *gainHeap) Push(x any) { *h = append(*h, x.(gainItem)) }

func (h *gainHeap) Pop() any {
	old := *h
	it := old[len(old)-1]
	*h = old[:len(old)-1]
	return it
}
