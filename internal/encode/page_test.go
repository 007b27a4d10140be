package encode

import (
	"slices"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Faultbox/vgeo/internal/cluster"
	"github.com/Faultbox/vgeo/internal/dag"
	"github.com/Faultbox/vgeo/pkg/formats"
	vmath "github.com/Faultbox/vgeo/pkg/math"
)

func TestPageSections(t *testing.T) {
	s := PageSections{Cluster: 256, MaterialTable: 20, DecodeInfo: 32, Index: 100, Position: 40, Attribute: 64}
	o := s.Offsets()
	assert.Equal(t, PageSections{Cluster: 0, MaterialTable: 256, DecodeInfo: 288, Index: 320, Position: 420, Attribute: 460}, o)
	assert.Equal(t, uint32(524), s.Total())
	assert.Equal(t, uint32((256+32+32)/16), s.RawFloat4s())

	sum := s.Add(s)
	assert.Equal(t, uint32(40), sum.MaterialTable)
	assert.Equal(t, uint32(512), sum.Cluster)
}

// syntheticLayout builds 41 clusters: two leaf groups of 20 along X and a
// root group holding cluster 40, generated by group 0.
func syntheticLayout() ([]dag.ClusterGroup, []*cluster.Cluster, []EncodingInfo) {
	clusters := make([]*cluster.Cluster, 41)
	infos := make([]EncodingInfo, len(clusters))
	for i := range clusters {
		p := vmath.Vec3{X: float32(i)}
		clusters[i] = &cluster.Cluster{
			Bounds:               vmath.EmptyBounds().AddPoint(p).AddPoint(p.Add(vmath.Vec3{X: 1, Y: 1, Z: 1})),
			GroupIndex:           i / 20,
			GeneratingGroupIndex: cluster.InvalidGroup,
		}
		infos[i].GpuSizes = PageSections{Cluster: 128, Index: 100, Position: 200, Attribute: 300}
	}
	clusters[40].GeneratingGroupIndex = 0
	clusters[40].MipLevel = 1
	clusters[39].GeneratingGroupIndex = 0

	groups := []dag.ClusterGroup{
		{MipLevel: 0, Bounds: vmath.Sphere{Center: vmath.Vec3{X: 10}, Radius: 10}},
		{MipLevel: 0, Bounds: vmath.Sphere{Center: vmath.Vec3{X: 30}, Radius: 10}},
		{MipLevel: 1, Bounds: vmath.Sphere{Center: vmath.Vec3{X: 20}, Radius: 20}, MinLODError: -1, MaxParentLODError: dag.RootLODError},
	}
	for i := range 20 {
		groups[0].Children = append(groups[0].Children, 19-i)
		groups[1].Children = append(groups[1].Children, 39-i)
	}
	groups[2].Children = []int{40}
	return groups, clusters, infos
}

func TestAssignClustersToPages(t *testing.T) {
	groups, clusters, infos := syntheticLayout()
	pages, parts, err := AssignClustersToPages(groups, clusters, infos, 8192, 4)
	require.NoError(t, err)
	require.Len(t, pages, 11)

	// Coarsest group first, on the root page.
	assert.Equal(t, 2, parts[0].GroupIndex)
	assert.Equal(t, 0, parts[0].PageIndex)
	assert.Equal(t, 0, groups[2].PageIndexStart)
	assert.Equal(t, 1, groups[2].PageIndexNum)
	assert.Equal(t, 0, groups[0].PageIndexStart)
	assert.Equal(t, 6, groups[0].PageIndexNum)
	assert.Equal(t, 5, groups[1].PageIndexStart)
	assert.Equal(t, 6, groups[1].PageIndexNum)

	// Children are sorted along the diagonal.
	assert.True(t, slices.IsSorted(groups[0].Children))

	seen := make([]int, len(clusters))
	for pi, p := range pages {
		assert.LessOrEqual(t, p.GpuSizes.Total(), uint32(8192))
		assert.LessOrEqual(t, p.NumClusters, 4)
		offset := 0
		for i := p.PartsStartIndex; i < p.PartsStartIndex+p.PartsNum; i++ {
			part := parts[i]
			assert.Equal(t, pi, part.PageIndex)
			assert.Equal(t, offset, part.PageClusterOffset)
			offset += len(part.Clusters)
			for _, ci := range part.Clusters {
				seen[ci]++
				assert.Equal(t, i, clusters[ci].GroupPartIndex)
				assert.Equal(t, part.GroupIndex, clusters[ci].GroupIndex)
				assert.True(t, part.Bounds.Min.X <= clusters[ci].Bounds.Min.X && part.Bounds.Max.X >= clusters[ci].Bounds.Max.X)
			}
		}
		assert.Equal(t, p.NumClusters, offset)
	}
	for ci, n := range seen {
		assert.Equal(t, 1, n, "cluster %d", ci)
	}
}

func TestAssignClustersToPagesErrors(t *testing.T) {
	groups, clusters, infos := syntheticLayout()
	_, _, err := AssignClustersToPages(groups, clusters, infos, 512, MaxClustersPerPage)
	assert.ErrorIs(t, err, ErrPageBudget)

	groups, clusters, infos = syntheticLayout()
	_, _, err = AssignClustersToPages(groups, clusters, infos, 2048, MaxClustersPerPage)
	assert.ErrorIs(t, err, ErrGroupTooLarge)
}

func TestBuildFixups(t *testing.T) {
	groups, clusters, infos := syntheticLayout()
	pages, parts, err := AssignClustersToPages(groups, clusters, infos, 8192, 4)
	require.NoError(t, err)
	BuildHierarchy(parts, groups, 1)
	f := BuildFixups(pages, parts, groups, clusters)
	require.Len(t, f.Chunks, len(pages))

	numHierarchy := 0
	for i := range parts {
		numHierarchy += groups[parts[i].GroupIndex].PageIndexNum
	}
	total := 0
	for pi, chunk := range f.Chunks {
		assert.Equal(t, uint16(pages[pi].NumClusters), chunk.NumClusters)
		total += len(chunk.HierarchyFixups)
		for _, h := range chunk.HierarchyFixups {
			part := parts[slices.IndexFunc(parts, func(p GroupPart) bool {
				return uint32(p.PageIndex) == h.PageIndex && uint32(p.HierarchyNodeIndex) == h.NodeIndex() && uint32(p.HierarchyChildIndex) == h.ChildIndex()
			})]
			g := groups[part.GroupIndex]
			assert.True(t, pi >= g.PageIndexStart && pi < g.PageIndexStart+g.PageIndexNum)
			assert.Equal(t, uint32(part.PageClusterOffset), h.ClusterGroupPartStartIndex)
			if h.DepNum() > 0 {
				assert.False(t, formats.IsRootPage(h.DepStart()))
			}
		}
	}
	assert.Equal(t, numHierarchy, total)

	// Cluster 40 sits on the root page, cluster 39 on the last page; both
	// are generated by group 0 on pages 0 to 5.
	for pi := range 6 {
		targets := map[uint32]bool{}
		for _, cf := range f.Chunks[pi].ClusterFixups {
			targets[cf.PageIndex()] = true
			assert.Equal(t, uint32(1), cf.DepStart())
			assert.Equal(t, uint32(5), cf.DepNum())
		}
		assert.Equal(t, map[uint32]bool{0: true, 10: true}, targets, "page %d", pi)
		assert.Equal(t, []uint32{10}, f.Dependencies[pi], "page %d", pi)
	}
	for pi := 6; pi < len(pages); pi++ {
		assert.Empty(t, f.Chunks[pi].ClusterFixups)
		assert.Empty(t, f.Dependencies[pi])
	}
}

func TestChildrenResidentWithPage(t *testing.T) {
	groups := []dag.ClusterGroup{{PageIndexStart: 3, PageIndexNum: 1}, {PageIndexStart: 3, PageIndexNum: 2}}
	leaf := &cluster.Cluster{GeneratingGroupIndex: cluster.InvalidGroup}
	assert.False(t, childrenResidentWithPage(leaf, groups, 3))

	c := &cluster.Cluster{GeneratingGroupIndex: 0}
	assert.True(t, childrenResidentWithPage(c, groups, 3))
	assert.False(t, childrenResidentWithPage(c, groups, 4))
	c.GeneratingGroupIndex = 1
	assert.False(t, childrenResidentWithPage(c, groups, 3))
}
