package encode

import (
	"cmp"
	"math"
	"math/rand/v2"
	"slices"

	"go.uber.org/zap"

	"github.com/Faultbox/vgeo/internal/dag"
	"github.com/Faultbox/vgeo/internal/logger"
	"github.com/Faultbox/vgeo/pkg/formats"
	vmath "github.com/Faultbox/vgeo/pkg/math"
)

// Hierarchy construction constants.
const (
	kmeansIterations = 10
	// Target node fill; the rest is slack for uneven clusters.
	kmeansFill = formats.HierarchyFanout * 7 / 8

	// InnerNodeChildren is the NumChildren value of a slot that points at
	// another node.
	InnerNodeChildren = 1 << formats.MaxClustersPerGroupBits
)

// HierarchyNode is a 64-slot culling node before packing. A slot is empty
// when NumChildren is zero, a group part when PartIndex is set, and an inner
// node otherwise.
type HierarchyNode struct {
	Bounds             [formats.HierarchyFanout]vmath.Bounds
	LODBounds          [formats.HierarchyFanout]vmath.Sphere
	MinLODError        [formats.HierarchyFanout]float32
	MaxParentLODError  [formats.HierarchyFanout]float32
	ChildrenStartIndex [formats.HierarchyFanout]uint32
	NumChildren        [formats.HierarchyFanout]uint32
	PartIndex          [formats.HierarchyFanout]int
}

func newHierarchyNode() HierarchyNode {
	var n HierarchyNode
	for i := range n.PartIndex {
		n.PartIndex[i] = -1
	}
	return n
}

// treeNode is an intermediate node: a part leaf or a set of children.
type treeNode struct {
	part     int
	mip      int
	children []int

	bounds            vmath.Bounds
	lodBounds         vmath.Sphere
	minLODError       float32
	maxParentLODError float32
}

type hierarchyBuilder struct {
	nodes  []treeNode
	parts  []GroupPart
	groups []dag.ClusterGroup
	rng    *rand.Rand
	out    []HierarchyNode
}

// BuildHierarchy builds one hierarchy per mesh over the group parts and
// returns the nodes of all meshes with the root node index of each. Every
// part is referenced by exactly one slot; its HierarchyNodeIndex and
// HierarchyChildIndex are set.
//
// Parts of each mip level are clustered bottom-up with capacity-bounded
// k-means on their box centers, seeded by seed. The level trees are then
// joined under one top tree per mesh.
func BuildHierarchy(parts []GroupPart, groups []dag.ClusterGroup, seed int64) ([]HierarchyNode, []uint32) {
	b := &hierarchyBuilder{
		parts:  parts,
		groups: groups,
		rng:    rand.New(rand.NewPCG(uint64(seed), 0)),
	}

	numMeshes := 0
	for i := range groups {
		numMeshes = max(numMeshes, groups[i].MeshIndex+1)
	}
	byMesh := make([][]int, numMeshes)
	for i := range parts {
		m := groups[parts[i].GroupIndex].MeshIndex
		byMesh[m] = append(byMesh[m], i)
	}

	roots := make([]uint32, 0, numMeshes)
	for m, meshParts := range byMesh {
		if len(meshParts) == 0 {
			continue
		}
		top := b.buildMesh(meshParts)
		roots = append(roots, uint32(len(b.out)))
		b.emit(top)
		logger.Debug("built hierarchy",
			zap.Int("mesh", m),
			zap.Int("parts", len(meshParts)),
			zap.Uint32("root", roots[len(roots)-1]))
	}
	return b.out, roots
}

func (b *hierarchyBuilder) addLeaf(partIndex int) int {
	part := &b.parts[partIndex]
	g := &b.groups[part.GroupIndex]
	b.nodes = append(b.nodes, treeNode{
		part:              partIndex,
		mip:               g.MipLevel,
		bounds:            part.Bounds,
		lodBounds:         g.LODBounds,
		minLODError:       g.MinLODError,
		maxParentLODError: g.MaxParentLODError,
	})
	return len(b.nodes) - 1
}

func (b *hierarchyBuilder) addInner(children []int) int {
	n := treeNode{
		part:        -1,
		children:    children,
		bounds:      vmath.EmptyBounds(),
		minLODError: math.MaxFloat32,
	}
	spheres := make([]vmath.Sphere, len(children))
	for i, ci := range children {
		c := &b.nodes[ci]
		n.bounds = n.bounds.Union(c.bounds)
		spheres[i] = c.lodBounds
		n.minLODError = min(n.minLODError, c.minLODError)
		n.maxParentLODError = max(n.maxParentLODError, c.maxParentLODError)
		n.mip = max(n.mip, c.mip)
	}
	n.lodBounds = vmath.SphereFromSpheres(spheres)
	b.nodes = append(b.nodes, n)
	return len(b.nodes) - 1
}

func (b *hierarchyBuilder) isFull(ni int) bool {
	n := &b.nodes[ni]
	return n.part >= 0 || len(n.children) == formats.HierarchyFanout
}

func (b *hierarchyBuilder) buildMesh(meshParts []int) int {
	byMip := map[int][]int{}
	for _, p := range meshParts {
		leaf := b.addLeaf(p)
		mip := b.nodes[leaf].mip
		byMip[mip] = append(byMip[mip], leaf)
	}
	mips := make([]int, 0, len(byMip))
	for mip := range byMip {
		mips = append(mips, mip)
	}
	slices.Sort(mips)

	var levelRoots []int
	for _, mip := range mips {
		r := b.buildLevel(byMip[mip])
		if b.isFull(r) {
			levelRoots = append(levelRoots, r)
		} else {
			// Partial nodes are dissolved so the top tree can pack their
			// children more tightly.
			levelRoots = append(levelRoots, b.nodes[r].children...)
		}
	}

	top := b.buildLevel(levelRoots)
	if b.nodes[top].part >= 0 {
		top = b.addInner([]int{top})
	}
	return top
}

// buildLevel reduces nodes into a single tree and returns its root.
func (b *hierarchyBuilder) buildLevel(nodes []int) int {
	for len(nodes) > formats.HierarchyFanout {
		clusters := b.kmeans(nodes)
		next := make([]int, 0, len(clusters))
		for _, c := range clusters {
			next = append(next, b.addInner(c))
		}
		nodes = next
	}
	if len(nodes) == 1 {
		return nodes[0]
	}
	return b.addInner(nodes)
}

// kmeans clusters nodes into groups of at most HierarchyFanout members.
// Large nodes are assigned first so they pick the closest center.
func (b *hierarchyBuilder) kmeans(nodes []int) [][]int {
	n := len(nodes)
	k := (n + kmeansFill - 1) / kmeansFill

	points := make([]vmath.Vec3, n)
	for i, ni := range nodes {
		points[i] = b.nodes[ni].bounds.Center()
	}
	order := make([]int, n)
	for i := range order {
		order[i] = i
	}
	slices.SortStableFunc(order, func(x, y int) int {
		return cmp.Compare(b.nodes[nodes[y]].lodBounds.Radius, b.nodes[nodes[x]].lodBounds.Radius)
	})

	centers := make([]vmath.Vec3, k)
	for i, p := range b.rng.Perm(n)[:k] {
		centers[i] = points[p]
	}

	assign := make([]int, n)
	for i := range assign {
		assign[i] = -1
	}
	counts := make([]int, k)
	for range kmeansIterations {
		clear(counts)
		changed := false
		for _, i := range order {
			best, bestDist := -1, float32(math.MaxFloat32)
			for c := range centers {
				if counts[c] >= formats.HierarchyFanout {
					continue
				}
				if d := points[i].Sub(centers[c]).LengthSquared(); d < bestDist {
					best, bestDist = c, d
				}
			}
			check(best >= 0, "k-means center with room")
			if assign[i] != best {
				assign[i] = best
				changed = true
			}
			counts[best]++
		}
		if !changed {
			break
		}

		sums := make([]vmath.Vec3, k)
		for i, c := range assign {
			sums[c] = sums[c].Add(points[i])
		}
		for c := range centers {
			if counts[c] > 0 {
				centers[c] = sums[c].Scale(1 / float32(counts[c]))
			}
		}
	}

	clusters := make([][]int, k)
	for i, c := range assign {
		clusters[c] = append(clusters[c], nodes[i])
	}
	return slices.DeleteFunc(clusters, func(c []int) bool { return len(c) == 0 })
}

// emit appends the hierarchy node of tree node ni and its inner descendants
// in pre-order and returns its index.
func (b *hierarchyBuilder) emit(ni int) int {
	h := len(b.out)
	b.out = append(b.out, newHierarchyNode())
	check(len(b.nodes[ni].children) <= formats.HierarchyFanout, "node fan-out")

	for slot, ci := range b.nodes[ni].children {
		child := b.nodes[ci]
		if child.part >= 0 {
			part := &b.parts[child.part]
			part.HierarchyNodeIndex = h
			part.HierarchyChildIndex = slot
			b.out[h].ChildrenStartIndex[slot] = formats.InvalidChildStart
			b.out[h].NumChildren[slot] = uint32(len(part.Clusters))
			b.out[h].PartIndex[slot] = child.part
		} else {
			childIndex := b.emit(ci)
			b.out[h].ChildrenStartIndex[slot] = uint32(childIndex)
			b.out[h].NumChildren[slot] = InnerNodeChildren
		}
		node := &b.out[h]
		node.Bounds[slot] = child.bounds
		node.LODBounds[slot] = child.lodBounds
		node.MinLODError[slot] = child.minLODError
		node.MaxParentLODError[slot] = child.maxParentLODError
	}
	return h
}

// PackHierarchyNode converts a node to its wire form.
func PackHierarchyNode(n *HierarchyNode, parts []GroupPart, groups []dag.ClusterGroup) formats.PackedHierarchyNode {
	var p formats.PackedHierarchyNode
	for i := range formats.HierarchyFanout {
		if n.NumChildren[i] == 0 {
			p.Misc[i].ResourcePageIndexNumPagesGroupPartSize = formats.EmptySlotResource
			continue
		}
		s := n.LODBounds[i]
		p.LODBounds[i] = [4]float32{s.Center.X, s.Center.Y, s.Center.Z, s.Radius}

		m := &p.Misc[i]
		m.BoxBoundsCenter = vec3Array(n.Bounds[i].Center())
		m.BoxBoundsExtent = vec3Array(n.Bounds[i].Extent())
		m.MinMaxLODError = uint32(vmath.Float16(n.MinLODError[i])) | uint32(vmath.Float16(n.MaxParentLODError[i]))<<16
		m.ChildStartReference = n.ChildrenStartIndex[i]

		if n.PartIndex[i] < 0 {
			m.ResourcePageIndexNumPagesGroupPartSize = formats.InnerNodeResource
			continue
		}
		part := &parts[n.PartIndex[i]]
		start, num := groupPageRange(&groups[part.GroupIndex])
		m.ResourcePageIndexNumPagesGroupPartSize = formats.PackLeafResource(start, num, n.NumChildren[i])
	}
	return p
}

func vec3Array(v vmath.Vec3) [3]float32 {
	return [3]float32{v.X, v.Y, v.Z}
}
