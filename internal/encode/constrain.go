package encode

import (
	"context"
	"fmt"
	"math/bits"

	"go.uber.org/zap"

	"github.com/Faultbox/vgeo/internal/cluster"
	"github.com/Faultbox/vgeo/internal/dag"
	"github.com/Faultbox/vgeo/internal/logger"
	"github.com/Faultbox/vgeo/internal/parallel"
)

// CacheWindow is the trailing vertex window every index must fall in,
// measured from the highest index emitted so far.
const CacheWindow = 32

const triangleDwords = (cluster.MaxTriangles + 31) / 32

// CacheWeightTable scores a vertex by its distance from the newest vertex.
var CacheWeightTable = [CacheWindow]int32{
	577, 616, 641, 512, 614, 635, 478, 651,
	65, 213, 719, 490, 213, 726, 863, 745,
	172, 939, 805, 885, 958, 1208, 1319, 1318,
	1475, 1779, 2342, 159, 2307, 1998, 1211, 932,
}

const unmapped = -1

// vertexMap tracks the new index of each old vertex while a cluster is
// being reordered.
type vertexMap struct {
	oldToNew []int32
	newToOld []uint32
}

func newVertexMap(numOld int) *vertexMap {
	m := &vertexMap{
		oldToNew: make([]int32, numOld),
		newToOld: make([]uint32, 0, numOld),
	}
	for i := range m.oldToNew {
		m.oldToNew[i] = unmapped
	}
	return m
}

func (m *vertexMap) numNew() int { return len(m.newToOld) }

// assign gives old vertex v the next new index.
func (m *vertexMap) assign(v uint32) uint32 {
	idx := uint32(len(m.newToOld))
	m.oldToNew[v] = int32(idx)
	m.newToOld = append(m.newToOld, v)
	return idx
}

// score sums cache weights of the mapped corners of a triangle.
func (m *vertexMap) score(c *cluster.Cluster, tri int) int32 {
	var s int32
	for k := range 3 {
		idx := m.oldToNew[c.Indexes[tri*3+k]]
		if idx == unmapped {
			continue
		}
		if pos := m.numNew() - 1 - int(idx); pos < CacheWindow {
			s += CacheWeightTable[pos]
		}
	}
	return s
}

// rebuildVerts replaces the vertex array with the new order, duplicates
// included.
func (m *vertexMap) rebuildVerts(c *cluster.Cluster) {
	verts := make([]cluster.Vertex, len(m.newToOld))
	for i, old := range m.newToOld {
		verts[i] = c.Verts[old]
	}
	c.Verts = verts
	c.NumVerts = len(verts)
}

// triangleMasks returns, per old vertex, the triangles that use it.
func triangleMasks(c *cluster.Cluster) [][triangleDwords]uint32 {
	masks := make([][triangleDwords]uint32, c.NumVerts)
	for t := range c.NumTris {
		for k := range 3 {
			masks[c.Indexes[t*3+k]][t>>5] |= 1 << (t & 31)
		}
	}
	return masks
}

// rangeMask returns the triangle bits of [start, start+length).
func rangeMask(start, length uint32) [triangleDwords]uint32 {
	var m [triangleDwords]uint32
	for i := range m {
		lo := max(int(start)-i*32, 0)
		hi := max(int(start+length)-i*32, 0)
		m[i] = lowMask(lo) ^ lowMask(hi)
	}
	return m
}

func lowMask(n int) uint32 {
	if n >= 32 {
		return 0xFFFFFFFF
	}
	return 1<<n - 1
}

// ConstrainFIFO reorders the triangles of each material range with a FIFO
// cache heuristic and renumbers vertices so that every index lies within
// CacheWindow of the highest index emitted before it. Vertices that fall out
// of the window are duplicated.
func ConstrainFIFO(c *cluster.Cluster) {
	masks := triangleMasks(c)
	vm := newVertexMap(c.NumVerts)

	var enabled, touched [triangleDwords]uint32
	order := make([]int, 0, c.NumTris)
	indexes := make([]uint32, 0, len(c.Indexes))

	for _, r := range c.MaterialRanges {
		rm := rangeMask(r.RangeStart, r.RangeLength)
		for i := range enabled {
			enabled[i] |= rm[i]
		}

		for {
			next, best := -1, int32(0)
			for d := range triangleDwords {
				for cand := touched[d] & enabled[d]; cand != 0; cand &= cand - 1 {
					t := d<<5 + bits.TrailingZeros32(cand)
					if s := vm.score(c, t); s > best {
						next, best = t, s
					}
				}
			}
			if next < 0 {
				// Separate component: restart from the first unvisited triangle.
				for d := range triangleDwords {
					if enabled[d] != 0 {
						next = d<<5 + bits.TrailingZeros32(enabled[d])
						break
					}
				}
				if next < 0 {
					break
				}
			}

			var old [3]uint32
			for k := range 3 {
				old[k] = c.Indexes[next*3+k]
				for d := range triangleDwords {
					touched[d] |= masks[old[k]][d]
				}
			}

			// Drop mapped corners that the new vertices would push out of the
			// window, repeating since each drop adds another new vertex.
			test := vm.numNew()
			for k := range 3 {
				if vm.oldToNew[old[k]] == unmapped {
					test++
				}
			}
			for changed := true; changed; {
				changed = false
				for k := range 3 {
					idx := vm.oldToNew[old[k]]
					if idx != unmapped && test-int(idx) >= CacheWindow {
						vm.oldToNew[old[k]] = unmapped
						test++
						changed = true
					}
				}
			}

			for k := range 3 {
				idx := vm.oldToNew[old[k]]
				if idx == unmapped {
					indexes = append(indexes, vm.assign(old[k]))
				} else {
					indexes = append(indexes, uint32(idx))
				}
			}
			order = append(order, next)
			enabled[next>>5] &^= 1 << (next & 31)
		}
	}
	check(len(order) == c.NumTris, "constrain visited every triangle")

	permuteTriangles(c, order, nil)
	c.Indexes = indexes
	vm.rebuildVerts(c)
}

// VerifyConstraints checks that a cluster is ready for encoding.
func VerifyConstraints(c *cluster.Cluster) error {
	if err := c.Validate(); err != nil {
		return err
	}
	if c.NumVerts > cluster.MaxVertices {
		return fmt.Errorf("%w: %d vertices", cluster.ErrCapacity, c.NumVerts)
	}
	var maxIndex uint32
	for i, idx := range c.Indexes {
		if i%3 == 0 {
			maxIndex = max(maxIndex, c.Indexes[i], c.Indexes[i+1], c.Indexes[i+2])
		}
		if maxIndex-idx >= CacheWindow {
			return fmt.Errorf("%w: index %d at corner %d is %d behind the newest vertex", ErrWindow, idx, i, maxIndex-idx)
		}
	}
	return nil
}

// RemoveDegenerateTriangles drops triangles with repeated indexes and
// returns how many were removed.
func RemoveDegenerateTriangles(c *cluster.Cluster) int {
	n := 0
	for t := range c.NumTris {
		i0, i1, i2 := c.Indexes[t*3], c.Indexes[t*3+1], c.Indexes[t*3+2]
		if i0 == i1 || i1 == i2 || i2 == i0 {
			continue
		}
		copy(c.Indexes[n*3:], c.Indexes[t*3:t*3+3])
		copy(c.ExternalEdges[n*3:], c.ExternalEdges[t*3:t*3+3])
		c.MaterialIndexes[n] = c.MaterialIndexes[t]
		n++
	}
	removed := c.NumTris - n
	c.NumTris = n
	c.Indexes = c.Indexes[:n*3]
	c.ExternalEdges = c.ExternalEdges[:n*3]
	c.MaterialIndexes = c.MaterialIndexes[:n]
	return removed
}

// constrain reorders one cluster for encoding.
func constrain(c *cluster.Cluster, strips bool) {
	if strips {
		Stripify(c)
	} else {
		ConstrainFIFO(c)
	}
}

// ConstrainStats summarizes a ConstrainClusters pass.
type ConstrainStats struct {
	InputClusters  int
	InputVerts     int
	OutputClusters int
	OutputVerts    int
	Splits         int
}

// ConstrainClusters constrains every cluster of d in parallel, then splits
// any cluster whose vertex count grew past the cap. The second half of a
// split is appended to d.Clusters and registered with its group.
func ConstrainClusters(ctx context.Context, d *dag.DAG, strips bool, workers int) (ConstrainStats, error) {
	var s ConstrainStats
	s.InputClusters = len(d.Clusters)
	for _, c := range d.Clusters {
		s.InputVerts += c.NumVerts
	}

	err := parallel.For(ctx, len(d.Clusters), workers, func(i int) error {
		constrain(d.Clusters[i], strips)
		return nil
	})
	if err != nil {
		return s, fmt.Errorf("constraining clusters: %w", err)
	}

	for i := 0; i < len(d.Clusters); i++ {
		c := d.Clusters[i]
		if c.NumVerts <= cluster.MaxVertices {
			continue
		}
		if c.NumTris < 2 {
			return s, fmt.Errorf("%w: cluster %d has %d vertices after constraining", cluster.ErrCapacity, i, c.NumVerts)
		}
		half := c.NumTris / 2
		a := cluster.NewFromTriangleRange(c, 0, half)
		b := cluster.NewFromTriangleRange(c, half, c.NumTris)
		for _, h := range []*cluster.Cluster{a, b} {
			BuildMaterialRanges(h)
			constrain(h, strips)
		}
		d.Clusters[i] = a
		d.Groups[b.GroupIndex].Children = append(d.Groups[b.GroupIndex].Children, len(d.Clusters))
		d.Clusters = append(d.Clusters, b)
		s.Splits++
		// Revisit i in case the first half still exceeds the cap.
		i--
	}

	s.OutputClusters = len(d.Clusters)
	for _, c := range d.Clusters {
		s.OutputVerts += c.NumVerts
	}
	logger.Debug("constrained clusters",
		zap.Int("input_clusters", s.InputClusters),
		zap.Int("input_verts", s.InputVerts),
		zap.Int("output_clusters", s.OutputClusters),
		zap.Int("output_verts", s.OutputVerts),
		zap.Int("splits", s.Splits))
	return s, nil
}
