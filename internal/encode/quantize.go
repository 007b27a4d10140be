package encode

import (
	"context"
	"encoding/binary"
	"math"

	"go.uber.org/zap"

	"github.com/Faultbox/vgeo/internal/cluster"
	"github.com/Faultbox/vgeo/internal/hashtable"
	"github.com/Faultbox/vgeo/internal/logger"
	"github.com/Faultbox/vgeo/internal/parallel"
	vmath "github.com/Faultbox/vgeo/pkg/math"
)

// Position quantization budget per axis.
const (
	PositionQuantizationBits = 10
	PositionQuantizationMask = 1<<PositionQuantizationBits - 1
)

// floatUint32Max is the largest float32 below 2^32.
const floatUint32Max = 4294967040.0

// gridPosition is a vertex on the mesh-wide 32-bit grid.
type gridPosition struct {
	pos [3]uint32
	id  uint32
}

// quantizeUint rounds a grid coordinate to the nearest multiple of 1<<shift
// and drops the low bits.
func quantizeUint(v [3]uint32, shift uint32) [3]uint32 {
	var round uint64
	if shift > 0 {
		round = 1 << (shift - 1)
	}
	for i := range v {
		v[i] = uint32(min(uint64(v[i])+round, math.MaxUint32) >> shift)
	}
	return v
}

func maxDelta(lo, hi [3]uint32) uint32 {
	return max(hi[0]-lo[0], hi[1]-lo[1], hi[2]-lo[2])
}

// QuantizationShift returns the smallest shift at which the grid box
// [lo, hi] spans at most PositionQuantizationMask on every axis.
func QuantizationShift(lo, hi [3]uint32) uint32 {
	shift := uint32(0)
	for maxDelta(quantizeUint(lo, shift), quantizeUint(hi, shift)) > PositionQuantizationMask {
		shift++
	}
	return shift
}

// toGrid maps a position inside bounds onto the 32-bit grid.
func toGrid(p vmath.Vec3, bounds vmath.Bounds) [3]uint32 {
	var g [3]uint32
	size := bounds.Size()
	for i := range 3 {
		extent := float64(size.Component(i))
		if extent <= 0 {
			continue
		}
		unit := float64(p.Component(i)-bounds.Min.Component(i)) / extent
		g[i] = uint32(min(max(unit*math.MaxUint32+0.5, 0), math.MaxUint32))
	}
	return g
}

func gridKey(p [3]uint32) uint32 {
	var b [12]byte
	binary.LittleEndian.PutUint32(b[0:], p[0])
	binary.LittleEndian.PutUint32(b[4:], p[1])
	binary.LittleEndian.PutUint32(b[8:], p[2])
	return hashtable.HashBytes(b[:])
}

// QuantizePositions fills the quantization frame of every cluster.
//
// Each cluster takes the smallest shift its grid box fits in. Vertices at
// the same grid position share an identity whose shift is the largest of
// any cluster touching it; clusters re-fit their box with those shifts
// until no identity changes.
func QuantizePositions(ctx context.Context, clusters []*cluster.Cluster, bounds vmath.Bounds, workers int) error {
	offsets := make([]int, len(clusters)+1)
	for i, c := range clusters {
		offsets[i+1] = offsets[i] + c.NumVerts
	}
	total := offsets[len(clusters)]
	grid := make([]gridPosition, total)

	err := parallel.For(ctx, len(clusters), workers, func(i int) error {
		c := clusters[i]
		for v := range c.NumVerts {
			grid[offsets[i]+v].pos = toGrid(c.Verts[v].Position, bounds)
		}
		return nil
	})
	if err != nil {
		return err
	}

	// Identities are assigned in cluster order so that the result does not
	// depend on scheduling.
	table := hashtable.New(total, total)
	numIDs := uint32(0)
	for i := range grid {
		key := gridKey(grid[i].pos)
		found := false
		table.ForEach(key, func(j uint32) bool {
			if grid[j].pos == grid[i].pos {
				grid[i].id = grid[j].id
				found = true
				return false
			}
			return true
		})
		if !found {
			grid[i].id = numIDs
			numIDs++
			table.Add(key, uint32(i))
		}
	}

	for i, c := range clusters {
		lo := [3]uint32{math.MaxUint32, math.MaxUint32, math.MaxUint32}
		var hi [3]uint32
		for _, g := range grid[offsets[i]:offsets[i+1]] {
			for k := range 3 {
				lo[k] = min(lo[k], g.pos[k])
				hi[k] = max(hi[k], g.pos[k])
			}
		}
		c.QuantizedPosShift = QuantizationShift(lo, hi)
	}

	idShift := make([]uint32, numIDs)
	iterations := 0
	for changed := true; changed; {
		changed = false
		iterations++
		for i, c := range clusters {
			verts := grid[offsets[i]:offsets[i+1]]
			shift := c.QuantizedPosShift
			for {
				lo := [3]uint32{math.MaxUint32, math.MaxUint32, math.MaxUint32}
				var hi [3]uint32
				for _, g := range verts {
					if shift > idShift[g.id] {
						idShift[g.id] = shift
						changed = true
					}
					q := vertexGridPosition(g, idShift[g.id], shift)
					for k := range 3 {
						lo[k] = min(lo[k], q[k])
						hi[k] = max(hi[k], q[k])
					}
				}
				if maxDelta(lo, hi) <= PositionQuantizationMask {
					c.QuantizedPosStart = lo
					break
				}
				shift++
			}
			c.QuantizedPosShift = shift
		}
	}

	scale := bounds.Size().Scale(1 / floatUint32Max)
	err = parallel.For(ctx, len(clusters), workers, func(i int) error {
		c := clusters[i]
		c.MeshBoundsMin = bounds.Min
		c.MeshBoundsDelta = scale.Scale(float32(uint64(1) << c.QuantizedPosShift))
		c.QuantizedPositions = make([][3]uint32, c.NumVerts)
		for v, g := range grid[offsets[i]:offsets[i+1]] {
			q := vertexGridPosition(g, idShift[g.id], c.QuantizedPosShift)
			for k := range 3 {
				check(q[k] >= c.QuantizedPosStart[k], "quantized position above start")
				q[k] -= c.QuantizedPosStart[k]
				check(q[k] <= PositionQuantizationMask, "quantized position inside budget")
			}
			c.QuantizedPositions[v] = q
		}
		return nil
	})
	if err != nil {
		return err
	}

	logger.Debug("quantized positions",
		zap.Int("vertices", total),
		zap.Uint32("identities", numIDs),
		zap.Int("iterations", iterations))
	return nil
}

// vertexGridPosition quantizes g at its identity shift and expresses it in
// the cluster's coarser or equal frame.
func vertexGridPosition(g gridPosition, vertexShift, clusterShift uint32) [3]uint32 {
	check(vertexShift >= clusterShift, "vertex shift at least cluster shift")
	q := quantizeUint(g.pos, vertexShift)
	for k := range q {
		q[k] <<= vertexShift - clusterShift
	}
	return q
}
