package formats

import "fmt"

// Header sizes.
const (
	PageDiskHeaderSize     = 28
	ClusterDiskHeaderSize  = 24
	PageStreamingStateSize = 20
	StripBitmaskSize       = 4 * 3 * 4
	VertexRefBitmaskSize   = MaxClusterVertices / 8
)

// PageDiskHeader starts every uncompressed page.
type PageDiskHeader struct {
	NumClusters            uint32
	GpuSize                uint32
	NumRawFloat4s          uint32
	NumTexCoords           uint32
	DecodeInfoOffset       uint32
	StripBitmaskOffset     uint32
	VertexRefBitmaskOffset uint32
}

// AppendBinary appends the encoded header.
func (h *PageDiskHeader) AppendBinary(dst []byte) []byte {
	var b [PageDiskHeaderSize]byte
	putUints(b[:], h.NumClusters, h.GpuSize, h.NumRawFloat4s, h.NumTexCoords,
		h.DecodeInfoOffset, h.StripBitmaskOffset, h.VertexRefBitmaskOffset)
	return append(dst, b[:]...)
}

// ParsePageDiskHeader decodes a page header.
func ParsePageDiskHeader(b []byte) (PageDiskHeader, error) {
	if len(b) < PageDiskHeaderSize {
		return PageDiskHeader{}, fmt.Errorf("%w: page header", ErrTruncatedData)
	}
	var v [7]uint32
	getUints(b, v[:])
	return PageDiskHeader{
		NumClusters:            v[0],
		GpuSize:                v[1],
		NumRawFloat4s:          v[2],
		NumTexCoords:           v[3],
		DecodeInfoOffset:       v[4],
		StripBitmaskOffset:     v[5],
		VertexRefBitmaskOffset: v[6],
	}, nil
}

// ClusterDiskHeader locates one cluster's streams inside a page. Offsets are
// byte offsets from the start of the page.
type ClusterDiskHeader struct {
	IndexDataOffset                uint32
	VertexRefDataOffset            uint32
	PositionDataOffset             uint32
	AttributeDataOffset            uint32
	NumPrevRefVerticesBeforeDwords uint32
	NumPrevNewVerticesBeforeDwords uint32
}

// AppendBinary appends the encoded header.
func (h *ClusterDiskHeader) AppendBinary(dst []byte) []byte {
	var b [ClusterDiskHeaderSize]byte
	putUints(b[:], h.IndexDataOffset, h.VertexRefDataOffset, h.PositionDataOffset,
		h.AttributeDataOffset, h.NumPrevRefVerticesBeforeDwords, h.NumPrevNewVerticesBeforeDwords)
	return append(dst, b[:]...)
}

// ParseClusterDiskHeader decodes a cluster header.
func ParseClusterDiskHeader(b []byte) (ClusterDiskHeader, error) {
	if len(b) < ClusterDiskHeaderSize {
		return ClusterDiskHeader{}, fmt.Errorf("%w: cluster header", ErrTruncatedData)
	}
	var v [6]uint32
	getUints(b, v[:])
	return ClusterDiskHeader{
		IndexDataOffset:                v[0],
		VertexRefDataOffset:            v[1],
		PositionDataOffset:             v[2],
		AttributeDataOffset:            v[3],
		NumPrevRefVerticesBeforeDwords: v[4],
		NumPrevNewVerticesBeforeDwords: v[5],
	}, nil
}

// PageStreamingState locates a page inside its bulk buffer and lists the
// pages that must be resident before it.
type PageStreamingState struct {
	BulkOffset           uint32
	BulkSize             uint32
	PageUncompressedSize uint32
	DependenciesStart    uint32
	DependenciesNum      uint32
}

// AppendBinary appends the encoded state.
func (s *PageStreamingState) AppendBinary(dst []byte) []byte {
	var b [PageStreamingStateSize]byte
	putUints(b[:], s.BulkOffset, s.BulkSize, s.PageUncompressedSize, s.DependenciesStart, s.DependenciesNum)
	return append(dst, b[:]...)
}

// ParsePageStreamingState decodes a streaming state.
func ParsePageStreamingState(b []byte) (PageStreamingState, error) {
	if len(b) < PageStreamingStateSize {
		return PageStreamingState{}, fmt.Errorf("%w: page streaming state", ErrTruncatedData)
	}
	var v [5]uint32
	getUints(b, v[:])
	return PageStreamingState{
		BulkOffset:           v[0],
		BulkSize:             v[1],
		PageUncompressedSize: v[2],
		DependenciesStart:    v[3],
		DependenciesNum:      v[4],
	}, nil
}

// Page is a decoded view of an uncompressed cluster page.
type Page struct {
	Header         PageDiskHeader
	ClusterHeaders []ClusterDiskHeader
	Clusters       []PackedCluster
	Data           []byte
}

// ParsePage decodes the headers and packed clusters of an uncompressed page
// and checks that every stream offset lies inside the page.
func ParsePage(data []byte) (*Page, error) {
	h, err := ParsePageDiskHeader(data)
	if err != nil {
		return nil, err
	}
	n := int(h.NumClusters)
	p := &Page{Header: h, Data: data, ClusterHeaders: make([]ClusterDiskHeader, n)}

	off := PageDiskHeaderSize
	for i := range n {
		if p.ClusterHeaders[i], err = ParseClusterDiskHeader(data[min(off, len(data)):]); err != nil {
			return nil, err
		}
		off += ClusterDiskHeaderSize
	}
	if p.Clusters, err = ParseClustersSOA(data[min(off, len(data)):], n); err != nil {
		return nil, err
	}

	size := uint32(len(data))
	for _, off := range []uint32{h.DecodeInfoOffset, h.StripBitmaskOffset, h.VertexRefBitmaskOffset} {
		if off > size {
			return nil, fmt.Errorf("%w: section offset %d past page size %d", ErrCorruptPage, off, size)
		}
	}
	for i, ch := range p.ClusterHeaders {
		if ch.IndexDataOffset > size {
			return nil, fmt.Errorf("%w: cluster %d index offset %d past page size %d", ErrCorruptPage, i, ch.IndexDataOffset, size)
		}
		// Dword streams.
		for _, off := range []uint32{ch.VertexRefDataOffset, ch.PositionDataOffset, ch.AttributeDataOffset} {
			if off > size || off%4 != 0 {
				return nil, fmt.Errorf("%w: cluster %d stream offset %d (page size %d)", ErrCorruptPage, i, off, size)
			}
		}
	}
	return p, nil
}
