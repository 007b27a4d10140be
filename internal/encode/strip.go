package encode

import (
	"math/bits"

	"github.com/Faultbox/vgeo/internal/cluster"
	"github.com/Faultbox/vgeo/pkg/bitstream"
)

// Generalized triangle strips.
//
// Every triangle owns one bit in each of three masks per 32-triangle dword:
//
//	Start  the triangle begins a strip
//	Left   continuation: shares edge (x2, x1) of the previous triangle,
//	       otherwise edge (x0, x2). Start: bit 1 of the reference count.
//	Ref    continuation: the third vertex is a back-reference, otherwise a
//	       new vertex. Start: bit 0 of the reference count.
//
// A strip start emits its referenced corners first, followed by new
// vertices. Back-references are 5-bit distances from the newest vertex
// before the triangle and are packed in triangle order into the strip index
// data. New vertices are implicit: they take the next index. Strips never
// cross a dword, so any triangle decodes from its dword prefix counts.

const (
	stripStart = 0
	stripLeft  = 1
	stripRef   = 2

	refBits        = 5
	prefixBits     = 10
	prefixMask     = 1<<prefixBits - 1
	maxRefDistance = CacheWindow - 1
)

type stripifier struct {
	c  *cluster.Cluster
	vm *vertexMap

	visited []bool
	refs    *bitstream.Writer
	numRefs int

	desc    cluster.StripDesc
	order   []int
	rotate  []int
	indexes []uint32
}

// Stripify reorders the triangles of each material range into generalized
// strips and fills StripDesc and StripIndexData. Vertices are renumbered in
// first-use order under the same trailing window as ConstrainFIFO, and
// duplicated where a strip cannot reach them.
func Stripify(c *cluster.Cluster) {
	s := &stripifier{
		c:       c,
		vm:      newVertexMap(c.NumVerts),
		visited: make([]bool, c.NumTris),
		refs:    bitstream.NewWriter(nil),
		order:   make([]int, 0, c.NumTris),
		rotate:  make([]int, 0, c.NumTris),
		indexes: make([]uint32, 0, len(c.Indexes)),
	}

	for _, r := range c.MaterialRanges {
		begin, end := int(r.RangeStart), int(r.RangeStart+r.RangeLength)
		var prev [3]uint32
		havePrev := false
		for range end - begin {
			pos := len(s.order)
			d, b := pos>>5, pos&31
			if b == 0 && d > 0 {
				shift := uint(d-1) * prefixBits
				s.desc.NumPrevNewVerticesBeforeDwords |= uint32(s.vm.numNew()) << shift
				s.desc.NumPrevRefVerticesBeforeDwords |= uint32(s.numRefs) << shift
			}
			if havePrev && b != 0 && s.continueStrip(begin, end, &prev) {
				continue
			}
			prev = s.startStrip(begin, end)
			havePrev = true
		}
	}
	check(len(s.order) == c.NumTris, "stripify visited every triangle")

	permuteTriangles(c, s.order, s.rotate)
	c.Indexes = s.indexes
	s.vm.rebuildVerts(c)

	s.refs.Flush(1)
	c.StripDesc = s.desc
	c.StripIndexData = s.refs.Bytes()
}

func (s *stripifier) setBit(mask int) {
	pos := len(s.order)
	s.desc.Bitmasks[pos>>5][mask] |= 1 << (pos & 31)
}

func (s *stripifier) putRef(idx uint32) {
	code := uint32(s.vm.numNew()) - 1 - idx
	check(code <= maxRefDistance, "reference inside window")
	s.refs.MustPutBits(code, refBits)
	s.numRefs++
}

func (s *stripifier) emit(tri, rot int, corners [3]uint32) [3]uint32 {
	s.order = append(s.order, tri)
	s.rotate = append(s.rotate, rot)
	s.indexes = append(s.indexes, corners[:]...)
	s.visited[tri] = true
	return corners
}

// startStrip picks the best cached triangle of the range, or the first
// unvisited one, and emits it as a strip start.
func (s *stripifier) startStrip(begin, end int) [3]uint32 {
	c, vm := s.c, s.vm
	next, best := -1, int32(0)
	for t := begin; t < end; t++ {
		if s.visited[t] {
			continue
		}
		if next < 0 {
			next = t
		}
		if sc := vm.score(c, t); sc > best {
			next, best = t, sc
		}
	}
	check(next >= 0, "unvisited triangle in range")

	var old [3]uint32
	var isRef [3]bool
	test := vm.numNew()
	for k := range 3 {
		old[k] = c.Indexes[next*3+k]
		isRef[k] = vm.oldToNew[old[k]] != unmapped
		if !isRef[k] {
			test++
		}
	}
	for changed := true; changed; {
		changed = false
		for k := range 3 {
			if isRef[k] && test-1-int(vm.oldToNew[old[k]]) > maxRefDistance {
				isRef[k] = false
				test++
				changed = true
			}
		}
	}

	numRef, rot := 0, 0
	for k := range 3 {
		if isRef[k] {
			numRef++
		}
	}
	switch numRef {
	case 1:
		for k := range 3 {
			if isRef[k] {
				rot = k
			}
		}
	case 2:
		for k := range 3 {
			if !isRef[k] {
				rot = (k + 1) % 3
			}
		}
	}

	s.setBit(stripStart)
	if numRef&2 != 0 {
		s.setBit(stripLeft)
	}
	if numRef&1 != 0 {
		s.setBit(stripRef)
	}

	var corners [3]uint32
	for j := range 3 {
		v := old[(j+rot)%3]
		if j < numRef {
			corners[j] = uint32(vm.oldToNew[v])
			s.putRef(corners[j])
		} else {
			corners[j] = vm.assign(v)
		}
	}
	return s.emit(next, rot, corners)
}

// continueStrip extends the strip from prev through an unvisited neighbor,
// left edge first. It reports false when no neighbor fits the window.
func (s *stripifier) continueStrip(begin, end int, prev *[3]uint32) bool {
	vm := s.vm
	for _, left := range []bool{true, false} {
		a, b := prev[0], prev[2]
		if left {
			a, b = prev[2], prev[1]
		}
		tri, rot, ok := s.findEdge(begin, end, vm.newToOld[a], vm.newToOld[b])
		if !ok {
			continue
		}

		numNew := vm.numNew()
		y := s.c.Indexes[tri*3+(rot+2)%3]
		idx := vm.oldToNew[y]
		isRef := idx != unmapped && numNew-1-int(idx) <= maxRefDistance
		if !isRef && (numNew-int(a) > maxRefDistance || numNew-int(b) > maxRefDistance) {
			continue
		}

		if left {
			s.setBit(stripLeft)
		}
		var third uint32
		if isRef {
			s.setBit(stripRef)
			third = uint32(idx)
			s.putRef(third)
		} else {
			third = vm.assign(y)
		}
		*prev = s.emit(tri, rot, [3]uint32{a, b, third})
		return true
	}
	return false
}

// findEdge finds an unvisited triangle of [begin, end) holding the directed
// edge a->b and returns the rotation that puts a first.
func (s *stripifier) findEdge(begin, end int, a, b uint32) (int, int, bool) {
	for t := begin; t < end; t++ {
		if s.visited[t] {
			continue
		}
		for k := range 3 {
			if s.c.Indexes[t*3+k] == a && s.c.Indexes[t*3+(k+1)%3] == b {
				return t, k, true
			}
		}
	}
	return 0, 0, false
}

// UnpackTriangleIndices decodes the vertex indexes of one triangle from
// strip data produced by Stripify.
func UnpackTriangleIndices(desc *cluster.StripDesc, data []byte, tri int) [3]uint32 {
	d, b := tri>>5, tri&31
	masks := desc.Bitmasks[d]
	startMask, leftMask, refMask := masks[stripStart], masks[stripLeft], masks[stripRef]

	var numNew, refIndex uint32
	if d > 0 {
		shift := uint(d-1) * prefixBits
		numNew = desc.NumPrevNewVerticesBeforeDwords >> shift & prefixMask
		refIndex = desc.NumPrevRefVerticesBeforeDwords >> shift & prefixMask
	}

	start := bits.Len32(startMask&lowMask(b+1)) - 1
	check(start >= 0, "strip start in dword")
	below := lowMask(start)
	refs := 2*uint32(bits.OnesCount32(startMask&leftMask&below)) + uint32(bits.OnesCount32(refMask&below))
	numNew += 2*uint32(bits.OnesCount32(startMask&below)) + uint32(start) - refs
	refIndex += refs

	readRef := func() uint32 {
		code := bitstream.ExtractBits(data, int(refIndex)*refBits, refBits)
		refIndex++
		return numNew - 1 - code
	}

	var out [3]uint32
	for k := start; k <= b; k++ {
		bit := uint32(1) << k
		isLeft, isRef := leftMask&bit != 0, refMask&bit != 0
		if startMask&bit != 0 {
			numRef := 0
			if isLeft {
				numRef += 2
			}
			if isRef {
				numRef++
			}
			for j := range 3 {
				if j < numRef {
					out[j] = readRef()
				} else {
					out[j] = numNew
					numNew++
				}
			}
			continue
		}

		var y uint32
		if isRef {
			y = readRef()
		} else {
			y = numNew
			numNew++
		}
		if isLeft {
			out = [3]uint32{out[2], out[1], y}
		} else {
			out = [3]uint32{out[0], out[2], y}
		}
	}
	return out
}
