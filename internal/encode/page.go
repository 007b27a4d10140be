package encode

import (
	"cmp"
	"fmt"
	"slices"

	"go.uber.org/zap"

	"github.com/Faultbox/vgeo/internal/cluster"
	"github.com/Faultbox/vgeo/internal/dag"
	"github.com/Faultbox/vgeo/internal/logger"
	"github.com/Faultbox/vgeo/pkg/formats"
	vmath "github.com/Faultbox/vgeo/pkg/math"
)

// Paging limits. Cluster fixups address a cluster inside its page with
// eight bits.
const (
	DefaultPageGPUSize = 1 << 15
	MaxClustersPerPage = 1 << 8
)

// PageSections holds the GPU byte size of each section of a page, or of one
// cluster's share of it.
type PageSections struct {
	Cluster       uint32
	MaterialTable uint32
	DecodeInfo    uint32
	Index         uint32
	Position      uint32
	Attribute     uint32
}

// Add returns the section-wise sum of s and o.
func (s PageSections) Add(o PageSections) PageSections {
	return PageSections{
		Cluster:       s.Cluster + o.Cluster,
		MaterialTable: s.MaterialTable + o.MaterialTable,
		DecodeInfo:    s.DecodeInfo + o.DecodeInfo,
		Index:         s.Index + o.Index,
		Position:      s.Position + o.Position,
		Attribute:     s.Attribute + o.Attribute,
	}
}

// materialTableAligned rounds the material table to a float4.
func (s PageSections) materialTableAligned() uint32 {
	return (s.MaterialTable + 15) &^ 15
}

// Offsets returns the start of each section in the GPU page layout.
func (s PageSections) Offsets() PageSections {
	var o PageSections
	o.Cluster = 0
	o.MaterialTable = o.Cluster + s.Cluster
	o.DecodeInfo = o.MaterialTable + s.materialTableAligned()
	o.Index = o.DecodeInfo + s.DecodeInfo
	o.Position = o.Index + s.Index
	o.Attribute = o.Position + s.Position
	return o
}

// Total returns the GPU size of the page.
func (s PageSections) Total() uint32 {
	return s.Cluster + s.materialTableAligned() + s.DecodeInfo + s.Index + s.Position + s.Attribute
}

// RawFloat4s returns the number of float4s copied verbatim to the GPU:
// clusters, material table and decode info.
func (s PageSections) RawFloat4s() uint32 {
	return (s.Cluster + s.materialTableAligned() + s.DecodeInfo) / 16
}

// Page is a fixed-budget batch of group parts.
type Page struct {
	PartsStartIndex int
	PartsNum        int
	NumClusters     int
	GpuSizes        PageSections
}

// GroupPart is the run of one group's clusters that landed on one page.
type GroupPart struct {
	Clusters []int
	Bounds   vmath.Bounds

	PageIndex         int
	GroupIndex        int
	PageClusterOffset int

	HierarchyNodeIndex  int
	HierarchyChildIndex int
}

// sortGroupClusters orders a group's children along the (1, 1, 1) diagonal
// so that spatially close clusters share a page.
func sortGroupClusters(g *dag.ClusterGroup, clusters []*cluster.Cluster) {
	diag := vmath.Vec3{X: 1, Y: 1, Z: 1}
	slices.SortStableFunc(g.Children, func(a, b int) int {
		da := clusters[a].Bounds.Center().Dot(diag)
		db := clusters[b].Bounds.Center().Dot(diag)
		return cmp.Compare(da, db)
	})
}

// groupPermutation orders groups coarse to fine, then along a Morton curve
// over their centers. The root group comes first and lands on the root page.
func groupPermutation(groups []dag.ClusterGroup) []int {
	bounds := vmath.EmptyBounds()
	for i := range groups {
		bounds = bounds.AddPoint(groups[i].Bounds.Center)
	}
	size := bounds.Size()

	codes := make([]uint32, len(groups))
	for i := range groups {
		p := groups[i].Bounds.Center.Sub(bounds.Min)
		var q [3]uint32
		for k := range 3 {
			if s := size.Component(k); s > 0 {
				q[k] = uint32(min(max(p.Component(k)/s*1023, 0), 1023))
			}
		}
		codes[i] = vmath.Morton3(q[0], q[1], q[2])
	}

	order := make([]int, len(groups))
	for i := range order {
		order[i] = i
	}
	slices.SortStableFunc(order, func(a, b int) int {
		if c := cmp.Compare(groups[b].MipLevel, groups[a].MipLevel); c != 0 {
			return c
		}
		return cmp.Compare(codes[a], codes[b])
	})
	return order
}

// AssignClustersToPages packs the clusters of every group into pages of at
// most pageGPUSize bytes and maxClusters clusters. A group spread over
// several pages is split into one part per page. Clusters, groups and parts
// are cross-linked in place.
func AssignClustersToPages(groups []dag.ClusterGroup, clusters []*cluster.Cluster, infos []EncodingInfo, pageGPUSize uint32, maxClusters int) ([]Page, []GroupPart, error) {
	check(maxClusters > 0 && maxClusters <= MaxClustersPerPage, "clusters per page")

	pages := []Page{{}}
	var parts []GroupPart

	for _, gi := range groupPermutation(groups) {
		g := &groups[gi]
		sortGroupClusters(g, clusters)

		for _, ci := range g.Children {
			size := infos[ci].GpuSizes
			if size.Total() > pageGPUSize {
				return nil, nil, fmt.Errorf("%w: cluster %d needs %d bytes, page budget %d", ErrPageBudget, ci, size.Total(), pageGPUSize)
			}

			page := &pages[len(pages)-1]
			if page.GpuSizes.Add(size).Total() > pageGPUSize || page.NumClusters+1 > maxClusters {
				pages = append(pages, Page{PartsStartIndex: len(parts)})
				page = &pages[len(pages)-1]
			}

			if page.PartsNum == 0 || parts[len(parts)-1].GroupIndex != gi {
				parts = append(parts, GroupPart{
					Bounds:              vmath.EmptyBounds(),
					PageIndex:           len(pages) - 1,
					GroupIndex:          gi,
					PageClusterOffset:   page.NumClusters,
					HierarchyNodeIndex:  -1,
					HierarchyChildIndex: -1,
				})
				page.PartsNum++
			}
			part := &parts[len(parts)-1]
			part.Clusters = append(part.Clusters, ci)
			part.Bounds = part.Bounds.Union(clusters[ci].Bounds)

			clusters[ci].GroupPartIndex = len(parts) - 1
			page.NumClusters++
			page.GpuSizes = page.GpuSizes.Add(size)
		}
	}

	for i := range groups {
		groups[i].PageIndexStart = -1
	}
	for i := range parts {
		p := &parts[i]
		g := &groups[p.GroupIndex]
		if g.PageIndexStart < 0 {
			g.PageIndexStart = p.PageIndex
		}
		g.PageIndexNum = p.PageIndex - g.PageIndexStart + 1
	}
	for i := range groups {
		if groups[i].PageIndexNum > formats.MaxGroupPartsMask {
			return nil, nil, fmt.Errorf("%w: group %d spans %d pages", ErrGroupTooLarge, i, groups[i].PageIndexNum)
		}
	}

	logger.Debug("assigned clusters to pages",
		zap.Int("pages", len(pages)),
		zap.Int("parts", len(parts)),
		zap.Int("groups", len(groups)))
	return pages, parts, nil
}
