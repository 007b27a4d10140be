package encode

import (
	"fmt"
	"math/bits"
	"slices"

	"go.uber.org/zap"

	"github.com/Faultbox/vgeo/internal/cluster"
	"github.com/Faultbox/vgeo/internal/logger"
)

// MaxFastPathMaterials is the number of ranges the inline material word holds.
const MaxFastPathMaterials = 3

// BuildMaterialRanges sorts the triangles of c so that equal materials are
// contiguous, largest range first and then by material index, and records
// the ranges.
func BuildMaterialRanges(c *cluster.Cluster) {
	var counts [cluster.MaxMaterials]uint32
	for _, m := range c.MaterialIndexes {
		counts[m]++
	}

	order := make([]int, c.NumTris)
	for i := range order {
		order[i] = i
	}
	slices.SortStableFunc(order, func(a, b int) int {
		ma, mb := c.MaterialIndexes[a], c.MaterialIndexes[b]
		if counts[ma] != counts[mb] {
			return int(counts[mb]) - int(counts[ma])
		}
		return int(ma) - int(mb)
	})
	permuteTriangles(c, order, nil)

	c.MaterialRanges = c.MaterialRanges[:0]
	for t := 0; t < c.NumTris; {
		m := c.MaterialIndexes[t]
		end := t + 1
		for end < c.NumTris && c.MaterialIndexes[end] == m {
			end++
		}
		c.MaterialRanges = append(c.MaterialRanges, cluster.MaterialRange{
			RangeStart:    uint32(t),
			RangeLength:   uint32(end - t),
			MaterialIndex: uint32(m),
		})
		t = end
	}
}

// permuteTriangles reorders triangles so that new triangle i is old
// triangle order[i]. rotate, when set, gives per new triangle the corner
// rotation applied to indexes and external edges.
func permuteTriangles(c *cluster.Cluster, order []int, rotate []int) {
	indexes := make([]uint32, len(c.Indexes))
	edges := make([]int8, len(c.ExternalEdges))
	materials := make([]int32, len(c.MaterialIndexes))
	for i, old := range order {
		r := 0
		if rotate != nil {
			r = rotate[i]
		}
		for k := range 3 {
			indexes[i*3+k] = c.Indexes[old*3+(k+r)%3]
			edges[i*3+k] = c.ExternalEdges[old*3+(k+r)%3]
		}
		materials[i] = c.MaterialIndexes[old]
	}
	c.Indexes, c.ExternalEdges, c.MaterialIndexes = indexes, edges, materials
}

// UseSlowPath reports whether a cluster's materials spill to the page
// material table. The inline word stores the first range length minus one,
// so a first range of a single triangle cannot use it.
func UseSlowPath(ranges []cluster.MaterialRange) bool {
	return len(ranges) > MaxFastPathMaterials || len(ranges) > 0 && ranges[0].RangeLength < 2
}

// MaterialTableSize returns the number of table entries a cluster needs.
func MaterialTableSize(c *cluster.Cluster) uint32 {
	if UseSlowPath(c.MaterialRanges) {
		return uint32(len(c.MaterialRanges))
	}
	return 0
}

// PackMaterialTableRange packs one material table entry.
func PackMaterialTableRange(triStart, triLength, materialIndex uint32) uint32 {
	check(triStart <= cluster.MaxTriangles, "material range start")
	check(triLength <= cluster.MaxTriangles, "material range length")
	check(materialIndex < cluster.MaxMaterials, "material index")
	return triStart | triLength<<8 | materialIndex<<16
}

// PackMaterialFastPath packs up to three ranges inline. Lengths are stored
// minus one and the third range covers the remaining triangles.
func PackMaterialFastPath(m0Length, m0Index, m1Length, m1Index, m2Index uint32) uint32 {
	check(m0Length > 1 && m0Length <= cluster.MaxTriangles, "fast path first range length")
	check(m1Length <= cluster.MaxTriangles, "fast path second range length")
	check(m0Index < cluster.MaxMaterials && m1Index < cluster.MaxMaterials && m2Index < cluster.MaxMaterials, "fast path material index")
	if m1Length > 0 {
		m1Length--
	}
	return (m0Length - 1) | m0Index<<7 | m1Length<<13 | m1Index<<20 | m2Index<<26
}

// PackMaterialSlowPath packs a reference into the page material table.
func PackMaterialSlowPath(tableOffset, tableLength uint32) uint32 {
	check(tableOffset < 1<<19, "material table offset")
	check(tableLength > 0 && tableLength < 64, "material table length")
	return tableOffset<<7 | tableLength<<26
}

// PackMaterialInfo returns the material word of c, appending table entries
// to table when c takes the slow path. tableStart is the dword offset of the
// page material table.
func PackMaterialInfo(c *cluster.Cluster, table []uint32, tableStart uint32) (uint32, []uint32, error) {
	var total uint32
	for _, r := range c.MaterialRanges {
		total += r.RangeLength
	}
	if int(total) != c.NumTris {
		return 0, table, fmt.Errorf("%w: material ranges cover %d of %d triangles", ErrMaterialRanges, total, c.NumTris)
	}

	if !UseSlowPath(c.MaterialRanges) {
		var m0Len, m0Idx, m1Len, m1Idx, m2Idx uint32
		r := c.MaterialRanges
		if len(r) > 0 {
			m0Len, m0Idx = r[0].RangeLength, r[0].MaterialIndex
		}
		if len(r) > 1 {
			m1Len, m1Idx = r[1].RangeLength, r[1].MaterialIndex
		}
		if len(r) > 2 {
			m2Idx = r[2].MaterialIndex
		}
		return PackMaterialFastPath(m0Len, m0Idx, m1Len, m1Idx, m2Idx), table, nil
	}

	offset := uint32(len(table)) + tableStart
	for _, r := range c.MaterialRanges {
		table = append(table, PackMaterialTableRange(r.RangeStart, r.RangeLength, r.MaterialIndex))
	}
	return PackMaterialSlowPath(offset, uint32(len(c.MaterialRanges))), table, nil
}

// MaterialStats summarizes material usage across clusters.
type MaterialStats struct {
	UniqueMaterials  int
	FastPathClusters int
	SlowPathClusters int
	// ByRangeCount[i] counts clusters with i+1 ranges, the last bucket
	// holding four or more.
	ByRangeCount [4]int
}

// CollectMaterialStats gathers MaterialStats and logs them.
func CollectMaterialStats(clusters []*cluster.Cluster) MaterialStats {
	var s MaterialStats
	var used uint64
	for _, c := range clusters {
		s.ByRangeCount[min(len(c.MaterialRanges)-1, 3)]++
		if UseSlowPath(c.MaterialRanges) {
			s.SlowPathClusters++
		} else {
			s.FastPathClusters++
		}
		for _, r := range c.MaterialRanges {
			used |= 1 << r.MaterialIndex
		}
	}
	s.UniqueMaterials = bits.OnesCount64(used)

	logger.Debug("material stats",
		zap.Int("unique", s.UniqueMaterials),
		zap.Int("fast_path", s.FastPathClusters),
		zap.Int("slow_path", s.SlowPathClusters),
		zap.Ints("by_range_count", s.ByRangeCount[:]))
	return s
}
