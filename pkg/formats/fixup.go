package formats

import "fmt"

// Fixup record sizes.
const (
	FixupChunkHeaderSize = 8
	HierarchyFixupSize   = 16
	ClusterFixupSize     = 8
)

// HierarchyFixup patches one hierarchy slot when a page streams in or out.
type HierarchyFixup struct {
	PageIndex                  uint32
	HierarchyNodeAndChildIndex uint32
	ClusterGroupPartStartIndex uint32
	PageDependencyStartAndNum  uint32
}

// NewHierarchyFixup packs a hierarchy fixup. depNum must fit MaxGroupPartsBits.
func NewHierarchyFixup(pageIndex, nodeIndex, childIndex, partStart, depStart, depNum uint32) HierarchyFixup {
	return HierarchyFixup{
		PageIndex:                  pageIndex,
		HierarchyNodeAndChildIndex: nodeIndex<<6 | childIndex&(HierarchyFanout-1),
		ClusterGroupPartStartIndex: partStart,
		PageDependencyStartAndNum:  depStart<<MaxGroupPartsBits | depNum&MaxGroupPartsMask,
	}
}

func (f HierarchyFixup) NodeIndex() uint32  { return f.HierarchyNodeAndChildIndex >> 6 }
func (f HierarchyFixup) ChildIndex() uint32 { return f.HierarchyNodeAndChildIndex & (HierarchyFanout - 1) }
func (f HierarchyFixup) DepStart() uint32   { return f.PageDependencyStartAndNum >> MaxGroupPartsBits }
func (f HierarchyFixup) DepNum() uint32     { return f.PageDependencyStartAndNum & MaxGroupPartsMask }

// ClusterFixup toggles the leaf flag of one cluster in a resident page.
type ClusterFixup struct {
	PageAndClusterIndex       uint32
	PageDependencyStartAndNum uint32
}

// NewClusterFixup packs a cluster fixup.
func NewClusterFixup(pageIndex, clusterIndex, depStart, depNum uint32) ClusterFixup {
	return ClusterFixup{
		PageAndClusterIndex:       pageIndex<<8 | clusterIndex&0xff,
		PageDependencyStartAndNum: depStart<<MaxGroupPartsBits | depNum&MaxGroupPartsMask,
	}
}

func (f ClusterFixup) PageIndex() uint32    { return f.PageAndClusterIndex >> 8 }
func (f ClusterFixup) ClusterIndex() uint32 { return f.PageAndClusterIndex & 0xff }
func (f ClusterFixup) DepStart() uint32     { return f.PageDependencyStartAndNum >> MaxGroupPartsBits }
func (f ClusterFixup) DepNum() uint32       { return f.PageDependencyStartAndNum & MaxGroupPartsMask }

// FixupChunk precedes every page in the bulk buffer. It is never compressed.
type FixupChunk struct {
	NumClusters     uint16
	HierarchyFixups []HierarchyFixup
	ClusterFixups   []ClusterFixup
}

// Size returns the encoded size in bytes.
func (c *FixupChunk) Size() int {
	return FixupChunkHeaderSize + len(c.HierarchyFixups)*HierarchyFixupSize + len(c.ClusterFixups)*ClusterFixupSize
}

// AppendBinary appends the encoded chunk.
func (c *FixupChunk) AppendBinary(dst []byte) []byte {
	var h [FixupChunkHeaderSize]byte
	le.PutUint16(h[0:], c.NumClusters)
	le.PutUint16(h[2:], uint16(len(c.HierarchyFixups)))
	le.PutUint16(h[4:], uint16(len(c.ClusterFixups)))
	dst = append(dst, h[:]...)
	for _, f := range c.HierarchyFixups {
		var b [HierarchyFixupSize]byte
		putUints(b[:], f.PageIndex, f.HierarchyNodeAndChildIndex, f.ClusterGroupPartStartIndex, f.PageDependencyStartAndNum)
		dst = append(dst, b[:]...)
	}
	for _, f := range c.ClusterFixups {
		var b [ClusterFixupSize]byte
		putUints(b[:], f.PageAndClusterIndex, f.PageDependencyStartAndNum)
		dst = append(dst, b[:]...)
	}
	return dst
}

// ParseFixupChunk decodes a chunk and returns it with its encoded size.
func ParseFixupChunk(b []byte) (*FixupChunk, int, error) {
	if len(b) < FixupChunkHeaderSize {
		return nil, 0, fmt.Errorf("%w: fixup chunk header", ErrTruncatedData)
	}
	c := &FixupChunk{
		NumClusters:     le.Uint16(b[0:]),
		HierarchyFixups: make([]HierarchyFixup, le.Uint16(b[2:])),
		ClusterFixups:   make([]ClusterFixup, le.Uint16(b[4:])),
	}
	size := c.Size()
	if len(b) < size {
		return nil, 0, fmt.Errorf("%w: fixup chunk needs %d bytes, have %d", ErrTruncatedData, size, len(b))
	}
	off := FixupChunkHeaderSize
	for i := range c.HierarchyFixups {
		var v [4]uint32
		getUints(b[off:], v[:])
		c.HierarchyFixups[i] = HierarchyFixup{v[0], v[1], v[2], v[3]}
		off += HierarchyFixupSize
	}
	for i := range c.ClusterFixups {
		c.ClusterFixups[i] = ClusterFixup{le.Uint32(b[off:]), le.Uint32(b[off+4:])}
		off += ClusterFixupSize
	}
	return c, size, nil
}
