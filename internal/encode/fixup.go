package encode

import (
	"slices"

	"go.uber.org/zap"

	"github.com/Faultbox/vgeo/internal/cluster"
	"github.com/Faultbox/vgeo/internal/dag"
	"github.com/Faultbox/vgeo/internal/logger"
	"github.com/Faultbox/vgeo/pkg/formats"
)

// Fixups holds the per-page fixup chunks and the pages each page depends
// on. Dependencies never name a root page or the page itself.
type Fixups struct {
	Chunks       []formats.FixupChunk
	Dependencies [][]uint32
}

// groupPageRange returns the non-root pages of a group.
func groupPageRange(g *dag.ClusterGroup) (uint32, uint32) {
	return formats.RemoveRootPagesFromRange(uint32(g.PageIndexStart), uint32(g.PageIndexNum))
}

// childrenResidentWithPage reports whether the generating group of c lies
// entirely on page, so c is never a leaf while page is resident.
func childrenResidentWithPage(c *cluster.Cluster, groups []dag.ClusterGroup, page int) bool {
	if c.IsLeaf() {
		return false
	}
	g := &groups[c.GeneratingGroupIndex]
	return g.PageIndexStart == page && g.PageIndexNum == 1
}

// BuildFixups computes the fixups every page carries.
//
// A hierarchy fixup enables the slot of a group part once every page of its
// group is resident, so it is stored on each of those pages. A cluster fixup
// clears the leaf flag of a parent cluster once its generating group is
// resident, and is stored on each page of that group.
func BuildFixups(pages []Page, parts []GroupPart, groups []dag.ClusterGroup, clusters []*cluster.Cluster) Fixups {
	f := Fixups{
		Chunks:       make([]formats.FixupChunk, len(pages)),
		Dependencies: make([][]uint32, len(pages)),
	}
	for i := range pages {
		f.Chunks[i].NumClusters = uint16(pages[i].NumClusters)
	}

	for i := range parts {
		part := &parts[i]
		g := &groups[part.GroupIndex]
		check(part.HierarchyNodeIndex >= 0, "part has a hierarchy slot")
		depStart, depNum := groupPageRange(g)
		for q := g.PageIndexStart; q < g.PageIndexStart+g.PageIndexNum; q++ {
			f.Chunks[q].HierarchyFixups = append(f.Chunks[q].HierarchyFixups, formats.NewHierarchyFixup(
				uint32(part.PageIndex),
				uint32(part.HierarchyNodeIndex),
				uint32(part.HierarchyChildIndex),
				uint32(part.PageClusterOffset),
				depStart, depNum))
		}
	}

	numClusterFixups := 0
	for i := range parts {
		part := &parts[i]
		for j, ci := range part.Clusters {
			c := clusters[ci]
			if c.IsLeaf() || childrenResidentWithPage(c, groups, part.PageIndex) {
				continue
			}
			g := &groups[c.GeneratingGroupIndex]
			depStart, depNum := groupPageRange(g)
			for q := g.PageIndexStart; q < g.PageIndexStart+g.PageIndexNum; q++ {
				f.Chunks[q].ClusterFixups = append(f.Chunks[q].ClusterFixups, formats.NewClusterFixup(
					uint32(part.PageIndex),
					uint32(part.PageClusterOffset+j),
					depStart, depNum))
				numClusterFixups++
			}
		}
	}

	for q := range f.Chunks {
		var deps []uint32
		for _, cf := range f.Chunks[q].ClusterFixups {
			p := cf.PageIndex()
			if formats.IsRootPage(p) || int(p) == q {
				continue
			}
			deps = append(deps, p)
		}
		slices.Sort(deps)
		f.Dependencies[q] = slices.Compact(deps)
	}

	logger.Debug("built fixups",
		zap.Int("pages", len(pages)),
		zap.Int("hierarchy_fixups", len(parts)),
		zap.Int("cluster_fixups", numClusterFixups))
	return f
}
