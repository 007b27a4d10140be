package encode

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Faultbox/vgeo/internal/dag"
	"github.com/Faultbox/vgeo/pkg/formats"
	vmath "github.com/Faultbox/vgeo/pkg/math"
)

// syntheticParts makes one single-cluster part per group, spread over a
// 2D lattice. Groups alternate between meshes when meshes > 1.
func syntheticParts(numPerMip []int, meshes int) ([]GroupPart, []dag.ClusterGroup) {
	var parts []GroupPart
	var groups []dag.ClusterGroup
	for mip, n := range numPerMip {
		for i := range n {
			center := vmath.Vec3{X: float32(i % 23), Z: float32(i / 23)}
			groups = append(groups, dag.ClusterGroup{
				MipLevel:          mip,
				MeshIndex:         len(groups) % meshes,
				LODBounds:         vmath.Sphere{Center: center, Radius: float32(mip + 1)},
				MinLODError:       float32(mip) - 1,
				MaxParentLODError: float32(mip),
				PageIndexStart:    1 + mip,
				PageIndexNum:      1,
			})
			parts = append(parts, GroupPart{
				Clusters:            make([]int, 1+i%5),
				Bounds:              vmath.EmptyBounds().AddPoint(center).AddPoint(center.Add(vmath.Vec3{X: 1, Y: 1, Z: 1})),
				GroupIndex:          len(groups) - 1,
				HierarchyNodeIndex:  -1,
				HierarchyChildIndex: -1,
			})
		}
	}
	return parts, groups
}

// checkHierarchy walks every tree and checks that each part is referenced
// by exactly one slot and every node is reached exactly once.
func checkHierarchy(t *testing.T, nodes []HierarchyNode, roots []uint32, parts []GroupPart) {
	t.Helper()
	partRefs := make([]int, len(parts))
	nodeRefs := make([]int, len(nodes))

	var walk func(ni int)
	walk = func(ni int) {
		nodeRefs[ni]++
		n := &nodes[ni]
		for slot := range formats.HierarchyFanout {
			switch {
			case n.NumChildren[slot] == 0:
				assert.Equal(t, -1, n.PartIndex[slot])
			case n.PartIndex[slot] >= 0:
				p := n.PartIndex[slot]
				partRefs[p]++
				assert.Equal(t, ni, parts[p].HierarchyNodeIndex)
				assert.Equal(t, slot, parts[p].HierarchyChildIndex)
				assert.Equal(t, uint32(len(parts[p].Clusters)), n.NumChildren[slot])
				assert.Equal(t, uint32(formats.InvalidChildStart), n.ChildrenStartIndex[slot])
			default:
				assert.Equal(t, uint32(InnerNodeChildren), n.NumChildren[slot])
				child := int(n.ChildrenStartIndex[slot])
				require.Greater(t, child, ni, "children follow their parent")
				require.Less(t, child, len(nodes))
				walk(child)
			}
		}
	}
	for _, r := range roots {
		walk(int(r))
	}
	for i, n := range partRefs {
		assert.Equal(t, 1, n, "part %d", i)
	}
	for i, n := range nodeRefs {
		assert.Equal(t, 1, n, "node %d", i)
	}
}

func TestBuildHierarchyCoversParts(t *testing.T) {
	parts, groups := syntheticParts([]int{700, 150, 30, 1}, 1)
	nodes, roots := BuildHierarchy(parts, groups, 1234)
	require.Len(t, roots, 1)
	assert.Equal(t, uint32(0), roots[0])
	checkHierarchy(t, nodes, roots, parts)

	// Inner slots bound their subtree.
	for ni := range nodes {
		n := &nodes[ni]
		for slot := range formats.HierarchyFanout {
			if n.NumChildren[slot] != InnerNodeChildren {
				continue
			}
			child := &nodes[n.ChildrenStartIndex[slot]]
			for cs := range formats.HierarchyFanout {
				if child.NumChildren[cs] == 0 {
					continue
				}
				assert.LessOrEqual(t, n.MinLODError[slot], child.MinLODError[cs])
				assert.GreaterOrEqual(t, n.MaxParentLODError[slot], child.MaxParentLODError[cs])
				assert.LessOrEqual(t, n.Bounds[slot].Min.X, child.Bounds[cs].Min.X)
				assert.GreaterOrEqual(t, n.Bounds[slot].Max.X, child.Bounds[cs].Max.X)
			}
		}
	}
}

func TestBuildHierarchyDeterministic(t *testing.T) {
	partsA, groupsA := syntheticParts([]int{500, 40}, 1)
	partsB, groupsB := syntheticParts([]int{500, 40}, 1)
	nodesA, rootsA := BuildHierarchy(partsA, groupsA, 7)
	nodesB, rootsB := BuildHierarchy(partsB, groupsB, 7)
	assert.Equal(t, rootsA, rootsB)
	assert.Equal(t, nodesA, nodesB)
	assert.Equal(t, partsA, partsB)
}

func TestBuildHierarchySinglePart(t *testing.T) {
	parts, groups := syntheticParts([]int{1}, 1)
	nodes, roots := BuildHierarchy(parts, groups, 1)
	require.Len(t, nodes, 1)
	assert.Equal(t, []uint32{0}, roots)
	assert.Equal(t, 0, nodes[0].PartIndex[0])
	assert.Zero(t, nodes[0].NumChildren[1])
	checkHierarchy(t, nodes, roots, parts)
}

func TestBuildHierarchyPerMesh(t *testing.T) {
	parts, groups := syntheticParts([]int{200, 10}, 2)
	nodes, roots := BuildHierarchy(parts, groups, 1)
	require.Len(t, roots, 2)
	checkHierarchy(t, nodes, roots, parts)

	// Each tree only holds its own mesh.
	var walk func(ni, mesh int)
	walk = func(ni, mesh int) {
		n := &nodes[ni]
		for slot := range formats.HierarchyFanout {
			if p := n.PartIndex[slot]; p >= 0 {
				assert.Equal(t, mesh, groups[parts[p].GroupIndex].MeshIndex)
			} else if n.NumChildren[slot] == InnerNodeChildren {
				walk(int(n.ChildrenStartIndex[slot]), mesh)
			}
		}
	}
	walk(int(roots[0]), 0)
	walk(int(roots[1]), 1)
}

func TestPackHierarchyNode(t *testing.T) {
	parts, groups := syntheticParts([]int{3, 1}, 1)
	nodes, _ := BuildHierarchy(parts, groups, 1)
	require.Len(t, nodes, 1)

	packed := PackHierarchyNode(&nodes[0], parts, groups)
	for slot := range formats.HierarchyFanout {
		misc := packed.Misc[slot]
		p := nodes[0].PartIndex[slot]
		if p < 0 {
			assert.Equal(t, uint32(formats.EmptySlotResource), misc.ResourcePageIndexNumPagesGroupPartSize)
			continue
		}
		g := groups[parts[p].GroupIndex]
		start, num, size := formats.UnpackLeafResource(misc.ResourcePageIndexNumPagesGroupPartSize)
		assert.Equal(t, uint32(g.PageIndexStart), start)
		assert.Equal(t, uint32(1), num)
		assert.Equal(t, uint32(len(parts[p].Clusters)), size)
		assert.Equal(t, g.LODBounds.Radius, packed.LODBounds[slot][3])
		assert.Equal(t, vmath.Float16(g.MaxParentLODError), uint16(misc.MinMaxLODError>>16))
		assert.Equal(t, uint32(formats.InvalidChildStart), misc.ChildStartReference)
	}
}
