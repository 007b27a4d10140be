package formats

import "fmt"

// PackedHierarchyNodeSize is the encoded size of one hierarchy node.
const PackedHierarchyNodeSize = HierarchyFanout * (16 + 16 + 16 + 4)

// Hierarchy resource field sentinels.
const (
	InvalidChildStart    = 0xFFFFFFFF
	InnerNodeResource    = 0xFFFFFFFF
	EmptySlotResource    = 0
	partSizeMask         = 1<<MaxClustersPerGroupBits - 1
	resourcePageNumShift = MaxClustersPerGroupBits
	resourcePageShift    = MaxClustersPerGroupBits + MaxGroupPartsBits
)

// HierarchyMisc holds the packed per-slot fields of a hierarchy node.
type HierarchyMisc struct {
	BoxBoundsCenter [3]float32
	BoxBoundsExtent [3]float32
	// MinLODError and MaxParentLODError as two half floats.
	MinMaxLODError uint32
	// First child node, or first cluster of a part.
	ChildStartReference uint32
	// Page range and part size for leaf slots. InnerNodeResource for inner
	// slots and EmptySlotResource for unused ones.
	ResourcePageIndexNumPagesGroupPartSize uint32
}

// PackLeafResource packs a part's page range and cluster count.
func PackLeafResource(pageStart, pageNum, partSize uint32) uint32 {
	return pageStart<<resourcePageShift | (pageNum&MaxGroupPartsMask)<<resourcePageNumShift | partSize&partSizeMask
}

// UnpackLeafResource is the inverse of PackLeafResource.
func UnpackLeafResource(v uint32) (pageStart, pageNum, partSize uint32) {
	return v >> resourcePageShift, v >> resourcePageNumShift & MaxGroupPartsMask, v & partSizeMask
}

// PackedHierarchyNode is a 64-slot culling node. On disk the slots are
// stored as four arrays: LOD spheres, box center with errors, box extent
// with child start, and the resource words.
type PackedHierarchyNode struct {
	LODBounds [HierarchyFanout][4]float32
	Misc      [HierarchyFanout]HierarchyMisc
}

// AppendBinary appends the encoded node.
func (n *PackedHierarchyNode) AppendBinary(dst []byte) []byte {
	var b [PackedHierarchyNodeSize]byte
	off := 0
	for i := range n.LODBounds {
		putFloats(b[off:], n.LODBounds[i][:]...)
		off += 16
	}
	for _, m := range n.Misc {
		putFloats(b[off:], m.BoxBoundsCenter[:]...)
		le.PutUint32(b[off+12:], m.MinMaxLODError)
		off += 16
	}
	for _, m := range n.Misc {
		putFloats(b[off:], m.BoxBoundsExtent[:]...)
		le.PutUint32(b[off+12:], m.ChildStartReference)
		off += 16
	}
	for _, m := range n.Misc {
		le.PutUint32(b[off:], m.ResourcePageIndexNumPagesGroupPartSize)
		off += 4
	}
	return append(dst, b[:]...)
}

// ParseHierarchyNode decodes one node.
func ParseHierarchyNode(b []byte) (PackedHierarchyNode, error) {
	var n PackedHierarchyNode
	if len(b) < PackedHierarchyNodeSize {
		return n, fmt.Errorf("%w: hierarchy node", ErrTruncatedData)
	}
	off := 0
	for i := range n.LODBounds {
		getFloats(b[off:], n.LODBounds[i][:])
		off += 16
	}
	for i := range n.Misc {
		getFloats(b[off:], n.Misc[i].BoxBoundsCenter[:])
		n.Misc[i].MinMaxLODError = le.Uint32(b[off+12:])
		off += 16
	}
	for i := range n.Misc {
		getFloats(b[off:], n.Misc[i].BoxBoundsExtent[:])
		n.Misc[i].ChildStartReference = le.Uint32(b[off+12:])
		off += 16
	}
	for i := range n.Misc {
		n.Misc[i].ResourcePageIndexNumPagesGroupPartSize = le.Uint32(b[off:])
		off += 4
	}
	return n, nil
}
