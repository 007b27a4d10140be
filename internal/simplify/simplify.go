// Package simplify reduces triangle meshes by quadric-error half-edge
// collapses.
//
// Vertices are welded by position into position vertices; each keeps the
// list of attribute wedges sharing its position. A collapse moves one
// position vertex onto a neighbor and remaps every wedge of the removed
// vertex to the nearest wedge (by weighted attribute distance) of the kept
// one. Locked positions never move.
package simplify

import (
	"container/heap"
	"math"

	"gonum.org/v1/gonum/spatial/r3"

	vmath "github.com/Faultbox/vgeo/pkg/math"
)

// boundaryWeight scales the planes that hold open mesh borders in place.
const boundaryWeight = 2.0

// Simplifier holds one mesh being reduced.
type Simplifier struct {
	numAttr int
	weights []float64

	attr      []float32
	indexes   []uint32
	materials []int32
	removed   []bool
	numTris   int

	wedgePV  []int32
	pvPos    []r3.Vec
	pvWedges [][]int32
	pvTris   [][]int32
	locked   []bool
	dead     []bool
	quadrics []quadric
	version  []uint32

	maxError float64
	queue    candidateHeap
}

// Result is a compacted mesh.
type Result struct {
	Positions  []vmath.Vec3
	Attributes []float32
	Indexes    []uint32
	Materials  []int32
}

// New builds a simplifier over per-wedge positions and attributes
// (numAttr floats per wedge). The inputs are copied.
func New(positions []vmath.Vec3, attributes []float32, numAttr int, indexes []uint32, materials []int32) *Simplifier {
	s := &Simplifier{
		numAttr:   numAttr,
		weights:   make([]float64, numAttr),
		attr:      append([]float32(nil), attributes...),
		indexes:   append([]uint32(nil), indexes...),
		materials: append([]int32(nil), materials...),
		removed:   make([]bool, len(indexes)/3),
		numTris:   len(indexes) / 3,
		wedgePV:   make([]int32, len(positions)),
	}
	for i := range s.weights {
		s.weights[i] = 1
	}

	weld := make(map[vmath.Vec3]int32, len(positions))
	for w, p := range positions {
		pv, ok := weld[p]
		if !ok {
			pv = int32(len(s.pvPos))
			weld[p] = pv
			s.pvPos = append(s.pvPos, r3.Vec{X: float64(p.X), Y: float64(p.Y), Z: float64(p.Z)})
			s.pvWedges = append(s.pvWedges, nil)
		}
		s.wedgePV[w] = pv
		s.pvWedges[pv] = append(s.pvWedges[pv], int32(w))
	}

	n := len(s.pvPos)
	s.pvTris = make([][]int32, n)
	s.locked = make([]bool, n)
	s.dead = make([]bool, n)
	s.quadrics = make([]quadric, n)
	s.version = make([]uint32, n)

	for t := range len(s.removed) {
		a, b, c := s.pv(t, 0), s.pv(t, 1), s.pv(t, 2)
		if a == b || b == c || a == c {
			s.removed[t] = true
			s.numTris--
			continue
		}
		for _, pv := range [3]int32{a, b, c} {
			s.pvTris[pv] = append(s.pvTris[pv], int32(t))
		}
	}
	s.buildQuadrics()
	return s
}

// SetAttributeWeights sets one weight per attribute float.
func (s *Simplifier) SetAttributeWeights(w []float32) {
	for i := range min(len(w), s.numAttr) {
		s.weights[i] = float64(w[i])
	}
}

// LockPosition pins every wedge at p.
func (s *Simplifier) LockPosition(p vmath.Vec3) {
	q := r3.Vec{X: float64(p.X), Y: float64(p.Y), Z: float64(p.Z)}
	for pv, pos := range s.pvPos {
		if pos == q {
			s.locked[pv] = true
		}
	}
}

// RemainingNumTris returns the live triangle count.
func (s *Simplifier) RemainingNumTris() int {
	return s.numTris
}

func (s *Simplifier) pv(tri, corner int) int32 {
	return s.wedgePV[s.indexes[tri*3+corner]]
}

func (s *Simplifier) buildQuadrics() {
	directed := make(map[[2]int32]int, s.numTris*3)
	for t := range s.removed {
		if s.removed[t] {
			continue
		}
		for k := range 3 {
			directed[[2]int32{s.pv(t, k), s.pv(t, (k+1)%3)}]++
		}
	}

	for t := range s.removed {
		if s.removed[t] {
			continue
		}
		a, b, c := s.pv(t, 0), s.pv(t, 1), s.pv(t, 2)
		p0, p1, p2 := s.pvPos[a], s.pvPos[b], s.pvPos[c]
		n := r3.Cross(r3.Sub(p1, p0), r3.Sub(p2, p0))
		l := r3.Norm(n)
		if l == 0 {
			continue
		}
		n = r3.Scale(1/l, n)
		area := l / 2
		d := -r3.Dot(n, p0)
		for _, pv := range [3]int32{a, b, c} {
			s.quadrics[pv].addPlane(n, d, area)
		}

		corners := [3]int32{a, b, c}
		for k := range 3 {
			u, v := corners[k], corners[(k+1)%3]
			if directed[[2]int32{v, u}] > 0 {
				continue
			}
			edge := r3.Sub(s.pvPos[v], s.pvPos[u])
			el := r3.Norm(edge)
			if el == 0 {
				continue
			}
			bn := r3.Unit(r3.Cross(edge, n))
			bd := -r3.Dot(bn, s.pvPos[u])
			w := boundaryWeight * el * el
			s.quadrics[u].addPlane(bn, bd, w)
			s.quadrics[v].addPlane(bn, bd, w)
		}
	}
}

// Simplify collapses edges while the triangle count is above targetTris, or
// while the next collapse stays within targetError, and never below
// limitTris. It returns the largest error of any collapse made so far.
func (s *Simplifier) Simplify(targetTris int, targetError float32, limitTris int) float32 {
	s.queue = s.queue[:0]
	seen := make(map[[2]int32]struct{}, s.numTris*3)
	for t := range s.removed {
		if s.removed[t] {
			continue
		}
		for k := range 3 {
			u, v := s.pv(t, k), s.pv(t, (k+1)%3)
			for _, e := range [2][2]int32{{u, v}, {v, u}} {
				if _, ok := seen[e]; ok {
					continue
				}
				seen[e] = struct{}{}
				s.push(e[0], e[1])
			}
		}
	}

	for s.queue.Len() > 0 && s.numTris > limitTris {
		c := heap.Pop(&s.queue).(candidate)
		if s.dead[c.from] || s.dead[c.to] || s.version[c.from] != c.fromVersion || s.version[c.to] != c.toVersion {
			continue
		}
		if s.numTris <= targetTris && c.err > float64(targetError) {
			break
		}
		if !s.canCollapse(c.from, c.to) {
			continue
		}
		s.collapse(c.from, c.to, c.err)
	}
	return float32(s.maxError)
}

func (s *Simplifier) push(from, to int32) {
	if s.locked[from] {
		return
	}
	err, ok := s.cost(from, to)
	if !ok {
		return
	}
	heap.Push(&s.queue, candidate{
		err:         err,
		from:        from,
		to:          to,
		fromVersion: s.version[from],
		toVersion:   s.version[to],
	})
}

// cost returns the error of moving from onto to.
func (s *Simplifier) cost(from, to int32) (float64, bool) {
	q := s.quadrics[from]
	q.add(&s.quadrics[to])
	geo := q.eval(s.pvPos[to])
	if q.area > 0 {
		geo /= q.area
	}

	var penalty float64
	for _, wu := range s.pvWedges[from] {
		_, d := s.nearestWedge(wu, to)
		penalty = max(penalty, d)
	}
	e := math.Sqrt(geo + penalty)
	if math.IsNaN(e) || math.IsInf(e, 0) {
		return 0, false
	}
	return e, true
}

func (s *Simplifier) nearestWedge(w int32, pv int32) (int32, float64) {
	best, bestDist := int32(-1), math.MaxFloat64
	a := s.attr[int(w)*s.numAttr : int(w+1)*s.numAttr]
	for _, o := range s.pvWedges[pv] {
		b := s.attr[int(o)*s.numAttr : int(o+1)*s.numAttr]
		var d float64
		for i := range a {
			x := s.weights[i] * float64(a[i]-b[i])
			d += x * x
		}
		if d < bestDist || (d == bestDist && o < best) {
			best, bestDist = o, d
		}
	}
	return best, bestDist
}

// liveTris returns the live triangles around pv, compacting the list.
func (s *Simplifier) liveTris(pv int32) []int32 {
	list := s.pvTris[pv][:0]
	for _, t := range s.pvTris[pv] {
		if !s.removed[t] {
			list = append(list, t)
		}
	}
	s.pvTris[pv] = list
	return list
}

func (s *Simplifier) neighbors(pv int32) map[int32]struct{} {
	out := make(map[int32]struct{})
	for _, t := range s.liveTris(pv) {
		for k := range 3 {
			if o := s.pv(int(t), k); o != pv {
				out[o] = struct{}{}
			}
		}
	}
	return out
}

func (s *Simplifier) contains(t int32, pv int32) bool {
	for k := range 3 {
		if s.pv(int(t), k) == pv {
			return true
		}
	}
	return false
}

// canCollapse checks the link condition and triangle flips.
func (s *Simplifier) canCollapse(u, v int32) bool {
	shared := make(map[int32]struct{})
	for _, t := range s.liveTris(u) {
		if !s.contains(t, v) {
			continue
		}
		for k := range 3 {
			if o := s.pv(int(t), k); o != u && o != v {
				shared[o] = struct{}{}
			}
		}
	}
	if len(shared) == 0 {
		return false
	}
	// Removing the only triangle of an opposite vertex would orphan it.
	for o := range shared {
		if len(s.liveTris(o)) < 2 {
			return false
		}
	}
	nv := s.neighbors(v)
	for o := range s.neighbors(u) {
		if _, ok := nv[o]; !ok {
			continue
		}
		if _, ok := shared[o]; !ok {
			return false
		}
	}

	for _, t := range s.liveTris(u) {
		if s.contains(t, v) {
			continue
		}
		var p, moved [3]r3.Vec
		for k := range 3 {
			c := s.pv(int(t), k)
			p[k] = s.pvPos[c]
			moved[k] = p[k]
			if c == u {
				moved[k] = s.pvPos[v]
			}
		}
		n0 := r3.Cross(r3.Sub(p[1], p[0]), r3.Sub(p[2], p[0]))
		n1 := r3.Cross(r3.Sub(moved[1], moved[0]), r3.Sub(moved[2], moved[0]))
		l1 := r3.Norm2(n1)
		if l1 <= 1e-12*r3.Norm2(n0) || r3.Dot(n0, n1) <= 0 {
			return false
		}
	}
	return true
}

func (s *Simplifier) collapse(u, v int32, err float64) {
	remap := make(map[int32]int32, len(s.pvWedges[u]))
	for _, wu := range s.pvWedges[u] {
		wv, _ := s.nearestWedge(wu, v)
		remap[wu] = wv
	}

	for _, t := range s.liveTris(u) {
		if s.contains(t, v) {
			s.removed[t] = true
			s.numTris--
			continue
		}
		for k := range 3 {
			i := int(t)*3 + k
			if w, ok := remap[int32(s.indexes[i])]; ok {
				s.indexes[i] = uint32(w)
			}
		}
		s.pvTris[v] = append(s.pvTris[v], t)
	}

	s.quadrics[v].add(&s.quadrics[u])
	s.dead[u] = true
	s.pvTris[u] = nil
	s.pvWedges[u] = nil
	s.maxError = max(s.maxError, err)

	s.version[v]++
	for n := range s.neighbors(v) {
		s.push(v, n)
		s.push(n, v)
	}
}

// Compact returns the live triangles and the wedges they use, in first-use
// order.
func (s *Simplifier) Compact() Result {
	var r Result
	remap := make(map[uint32]uint32)
	for t := range s.removed {
		if s.removed[t] {
			continue
		}
		for k := range 3 {
			w := s.indexes[t*3+k]
			nw, ok := remap[w]
			if !ok {
				nw = uint32(len(r.Positions))
				remap[w] = nw
				p := s.pvPos[s.wedgePV[w]]
				r.Positions = append(r.Positions, vmath.Vec3{X: float32(p.X), Y: float32(p.Y), Z: float32(p.Z)})
				r.Attributes = append(r.Attributes, s.attr[int(w)*s.numAttr:int(w+1)*s.numAttr]...)
			}
			r.Indexes = append(r.Indexes, nw)
		}
		r.Materials = append(r.Materials, s.materials[t])
	}
	return r
}

type candidate struct {
	err         float64
	from, to    int32
	fromVersion uint32
	toVersion   uint32
}

type candidateHeap []candidate

func (h candidateHeap) Len() int { return len(h) }
func (h candidateHeap) Less(i, j int) bool {
	if h[i].err != h[j].err {
		return h[i].err < h[j].err
	}
	if h[i].from != h[j].from {
		return h[i].from < h[j].from
	}
	return h[i].to < h[j].to
}
func (h candidateHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *candidateHeap) Push(x any) { *h = append(*h, x.(candidate)) }

func (h *candidateHeap) Pop() any {
	old := *h
	c := old[len(old)-1]
	*h = old[:len(old)-1]
	return c
}
