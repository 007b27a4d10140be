package formats

import "fmt"

// Wire sizes.
const (
	PackedClusterSize  = 128
	PackedClusterSlots = PackedClusterSize / 16
	UVRangeSize        = 32
)

// Vertex color modes.
const (
	ColorModeWhite    = 0
	ColorModeConstant = 1
	ColorModeVariable = 2
)

// PackedCluster is the GPU representation of one cluster: eight float4
// slots. Pages store clusters in structure-of-arrays order, slot by slot.
type PackedCluster struct {
	// Slot 0
	QuantizedPosStart [3]uint32
	PositionOffset    uint32

	// Slot 1
	MeshBoundsMin [3]float32
	IndexOffset   uint32

	// Slot 2
	MeshBoundsDelta                           [3]float32
	NumVertsNumTrisBitsPerIndexQuantizedShift uint32

	// Slot 3: center and radius.
	LODBounds [4]float32

	// Slot 4
	BoxBoundsCenter       [3]float32
	LODErrorAndEdgeLength uint32

	// Slot 5
	BoxBoundsExtent [3]float32
	Flags           uint32

	// Slot 6
	AttributeOffsetBitsPerAttribute uint32
	DecodeInfoOffsetNumUVsColorMode uint32
	UVPrec                          uint32
	PackedMaterialInfo              uint32

	// Slot 7
	ColorMin   uint32
	ColorBits  uint32
	GroupIndex uint32
	Pad        uint32
}

// SetCounts packs vertex and triangle counts, index width and position shift.
func (p *PackedCluster) SetCounts(numVerts, numTris, bitsPerIndex, posShift uint32) {
	p.NumVertsNumTrisBitsPerIndexQuantizedShift = numVerts | numTris<<9 | bitsPerIndex<<17 | posShift<<21
}

// NumVerts returns the vertex count.
func (p *PackedCluster) NumVerts() uint32 { return p.NumVertsNumTrisBitsPerIndexQuantizedShift & 0x1ff }

// NumTris returns the triangle count.
func (p *PackedCluster) NumTris() uint32 { return p.NumVertsNumTrisBitsPerIndexQuantizedShift >> 9 & 0xff }

// BitsPerIndex returns the index width.
func (p *PackedCluster) BitsPerIndex() uint32 { return p.NumVertsNumTrisBitsPerIndexQuantizedShift >> 17 & 0xf }

// QuantizedPosShift returns the position quantization shift.
func (p *PackedCluster) QuantizedPosShift() uint32 { return p.NumVertsNumTrisBitsPerIndexQuantizedShift >> 21 & 0x3f }

// SetAttribute packs the attribute stream offset and per-vertex width.
func (p *PackedCluster) SetAttribute(offset, bitsPerAttribute uint32) {
	p.AttributeOffsetBitsPerAttribute = offset&0x3fffff | bitsPerAttribute<<22
}

// AttributeOffset returns the GPU offset of the attribute stream.
func (p *PackedCluster) AttributeOffset() uint32 { return p.AttributeOffsetBitsPerAttribute & 0x3fffff }

// BitsPerAttribute returns the per-vertex attribute width.
func (p *PackedCluster) BitsPerAttribute() uint32 { return p.AttributeOffsetBitsPerAttribute >> 22 }

// SetDecodeInfo packs the UV decode range offset, UV count and color mode.
func (p *PackedCluster) SetDecodeInfo(offset, numUVs, colorMode uint32) {
	p.DecodeInfoOffsetNumUVsColorMode = offset&0x3fffff | numUVs<<22 | colorMode<<25
}

// DecodeInfoOffset returns the GPU offset of the UV decode ranges.
func (p *PackedCluster) DecodeInfoOffset() uint32 { return p.DecodeInfoOffsetNumUVsColorMode & 0x3fffff }

// NumUVs returns the number of UV channels.
func (p *PackedCluster) NumUVs() uint32 { return p.DecodeInfoOffsetNumUVsColorMode >> 22 & 0x7 }

// ColorMode returns the vertex color mode.
func (p *PackedCluster) ColorMode() uint32 { return p.DecodeInfoOffsetNumUVsColorMode >> 25 & 0x3 }

// Slot returns float4 slot i as 16 bytes.
func (p *PackedCluster) Slot(i int) [16]byte {
	var b [16]byte
	switch i {
	case 0:
		putUints(b[:], p.QuantizedPosStart[0], p.QuantizedPosStart[1], p.QuantizedPosStart[2], p.PositionOffset)
	case 1:
		putFloats(b[:12], p.MeshBoundsMin[:]...)
		le.PutUint32(b[12:], p.IndexOffset)
	case 2:
		putFloats(b[:12], p.MeshBoundsDelta[:]...)
		le.PutUint32(b[12:], p.NumVertsNumTrisBitsPerIndexQuantizedShift)
	case 3:
		putFloats(b[:], p.LODBounds[:]...)
	case 4:
		putFloats(b[:12], p.BoxBoundsCenter[:]...)
		le.PutUint32(b[12:], p.LODErrorAndEdgeLength)
	case 5:
		putFloats(b[:12], p.BoxBoundsExtent[:]...)
		le.PutUint32(b[12:], p.Flags)
	case 6:
		putUints(b[:], p.AttributeOffsetBitsPerAttribute, p.DecodeInfoOffsetNumUVsColorMode, p.UVPrec, p.PackedMaterialInfo)
	case 7:
		putUints(b[:], p.ColorMin, p.ColorBits, p.GroupIndex, p.Pad)
	default:
		panic(fmt.Sprintf("packed cluster slot %d out of range", i))
	}
	return b
}

// SetSlot decodes float4 slot i from 16 bytes.
func (p *PackedCluster) SetSlot(i int, b []byte) {
	switch i {
	case 0:
		getUints(b, p.QuantizedPosStart[:])
		p.PositionOffset = le.Uint32(b[12:])
	case 1:
		getFloats(b, p.MeshBoundsMin[:])
		p.IndexOffset = le.Uint32(b[12:])
	case 2:
		getFloats(b, p.MeshBoundsDelta[:])
		p.NumVertsNumTrisBitsPerIndexQuantizedShift = le.Uint32(b[12:])
	case 3:
		getFloats(b, p.LODBounds[:])
	case 4:
		getFloats(b, p.BoxBoundsCenter[:])
		p.LODErrorAndEdgeLength = le.Uint32(b[12:])
	case 5:
		getFloats(b, p.BoxBoundsExtent[:])
		p.Flags = le.Uint32(b[12:])
	case 6:
		p.AttributeOffsetBitsPerAttribute = le.Uint32(b[0:])
		p.DecodeInfoOffsetNumUVsColorMode = le.Uint32(b[4:])
		p.UVPrec = le.Uint32(b[8:])
		p.PackedMaterialInfo = le.Uint32(b[12:])
	case 7:
		p.ColorMin = le.Uint32(b[0:])
		p.ColorBits = le.Uint32(b[4:])
		p.GroupIndex = le.Uint32(b[8:])
		p.Pad = le.Uint32(b[12:])
	default:
		panic(fmt.Sprintf("packed cluster slot %d out of range", i))
	}
}

// AppendClustersSOA appends clusters in structure-of-arrays order.
func AppendClustersSOA(dst []byte, clusters []PackedCluster) []byte {
	for slot := range PackedClusterSlots {
		for i := range clusters {
			s := clusters[i].Slot(slot)
			dst = append(dst, s[:]...)
		}
	}
	return dst
}

// ParseClustersSOA decodes n clusters stored in structure-of-arrays order.
func ParseClustersSOA(data []byte, n int) ([]PackedCluster, error) {
	if len(data) < n*PackedClusterSize {
		return nil, fmt.Errorf("%w: %d clusters need %d bytes, have %d", ErrTruncatedData, n, n*PackedClusterSize, len(data))
	}
	clusters := make([]PackedCluster, n)
	for slot := range PackedClusterSlots {
		for i := range clusters {
			off := (slot*n + i) * 16
			clusters[i].SetSlot(slot, data[off:off+16])
		}
	}
	return clusters, nil
}

// UVRange is the per-cluster UV decode record. Decoding adds GapLength to
// any coordinate at or past GapStart, then scales and offsets.
type UVRange struct {
	Min       [2]float32
	Scale     [2]float32
	GapStart  [2]int32
	GapLength [2]int32
}

// AppendBinary appends the 32-byte encoding of r.
func (r *UVRange) AppendBinary(dst []byte) []byte {
	var b [UVRangeSize]byte
	putFloats(b[0:8], r.Min[:]...)
	putFloats(b[8:16], r.Scale[:]...)
	putUints(b[16:32], uint32(r.GapStart[0]), uint32(r.GapStart[1]), uint32(r.GapLength[0]), uint32(r.GapLength[1]))
	return append(dst, b[:]...)
}

// ParseUVRange decodes a 32-byte UV range.
func ParseUVRange(b []byte) (UVRange, error) {
	if len(b) < UVRangeSize {
		return UVRange{}, fmt.Errorf("%w: UV range", ErrTruncatedData)
	}
	var r UVRange
	getFloats(b[0:], r.Min[:])
	getFloats(b[8:], r.Scale[:])
	r.GapStart = [2]int32{int32(le.Uint32(b[16:])), int32(le.Uint32(b[20:]))}
	r.GapLength = [2]int32{int32(le.Uint32(b[24:])), int32(le.Uint32(b[28:]))}
	return r, nil
}

func putUints(b []byte, v ...uint32) {
	for i, x := range v {
		le.PutUint32(b[i*4:], x)
	}
}

func getUints(b []byte, dst []uint32) {
	for i := range dst {
		dst[i] = le.Uint32(b[i*4:])
	}
}

func putFloats(b []byte, v ...float32) {
	for i, x := range v {
		putFloat(b[i*4:], x)
	}
}

func getFloats(b []byte, dst []float32) {
	for i := range dst {
		dst[i] = getFloat(b[i*4:])
	}
}
