package formats

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
)

// FileHeaderSize is the encoded size of FileHeader.
const FileHeaderSize = 40

// Resource flags.
const (
	FlagCompressed = 1 << iota
	FlagStripIndices
)

// FileHeader starts an encoded resource file.
type FileHeader struct {
	Magic             [4]byte
	Version           Version
	Flags             uint32
	NumTexCoords      uint32
	NumPages          uint32
	NumHierarchyNodes uint32
	NumRootOffsets    uint32
	NumDependencies   uint32
	RootPageSize      uint32
	StreamableSize    uint32
}

// Compressed reports whether streamable pages are s2 compressed.
func (h *FileHeader) Compressed() bool { return h.Flags&FlagCompressed != 0 }

// StripIndices reports whether pages store strip-encoded triangle indexes
// instead of one byte per index.
func (h *FileHeader) StripIndices() bool { return h.Flags&FlagStripIndices != 0 }

// Validate checks magic and version.
func (h *FileHeader) Validate() error {
	if string(h.Magic[:]) != Magic {
		return ErrInvalidMagic
	}
	if h.Version.Major != CurrentVersion.Major {
		return fmt.Errorf("%w: %s", ErrUnsupportedVersion, h.Version)
	}
	return nil
}

// Layout holds the byte offsets of each section of a resource file.
type Layout struct {
	PageStates     int64
	RootOffsets    int64
	Dependencies   int64
	HierarchyNodes int64
	RootPage       int64
	Streamable     int64
	End            int64
}

// Layout computes section offsets from the header counts.
func (h *FileHeader) Layout() Layout {
	var l Layout
	l.PageStates = FileHeaderSize
	l.RootOffsets = l.PageStates + int64(h.NumPages)*PageStreamingStateSize
	l.Dependencies = l.RootOffsets + int64(h.NumRootOffsets)*4
	l.HierarchyNodes = l.Dependencies + int64(h.NumDependencies)*4
	l.RootPage = l.HierarchyNodes + int64(h.NumHierarchyNodes)*PackedHierarchyNodeSize
	l.Streamable = l.RootPage + int64(h.RootPageSize)
	l.End = l.Streamable + int64(h.StreamableSize)
	return l
}

// ReadFileHeader reads and validates a header.
func ReadFileHeader(r io.Reader) (FileHeader, error) {
	var h FileHeader
	if err := binary.Read(r, le, &h); err != nil {
		return h, fmt.Errorf("reading header: %w", err)
	}
	return h, h.Validate()
}

// Resources is the complete encoded output of one build.
type Resources struct {
	// RootClusterPage holds the fixup chunk and page bytes of every root page.
	RootClusterPage []byte
	// StreamableClusterPages holds the remaining pages, each a fixup chunk
	// followed by the page bytes, compressed when Compressed is set.
	StreamableClusterPages []byte

	PageStreamingStates  []PageStreamingState
	HierarchyNodes       []PackedHierarchyNode
	HierarchyRootOffsets []uint32
	PageDependencies     []uint32

	Compressed   bool
	StripIndices bool
	NumTexCoords uint32
}

// NumPages returns the total page count.
func (r *Resources) NumPages() int { return len(r.PageStreamingStates) }

// Header returns the file header describing r.
func (r *Resources) Header() FileHeader {
	h := FileHeader{
		Version:           CurrentVersion,
		NumTexCoords:      r.NumTexCoords,
		NumPages:          uint32(len(r.PageStreamingStates)),
		NumHierarchyNodes: uint32(len(r.HierarchyNodes)),
		NumRootOffsets:    uint32(len(r.HierarchyRootOffsets)),
		NumDependencies:   uint32(len(r.PageDependencies)),
		RootPageSize:      uint32(len(r.RootClusterPage)),
		StreamableSize:    uint32(len(r.StreamableClusterPages)),
	}
	copy(h.Magic[:], Magic)
	if r.Compressed {
		h.Flags |= FlagCompressed
	}
	if r.StripIndices {
		h.Flags |= FlagStripIndices
	}
	return h
}

// PageBulk returns the stored bytes of a page: fixup chunk plus page data,
// still compressed for streamable pages of a compressed resource.
func (r *Resources) PageBulk(page int) ([]byte, error) {
	if page < 0 || page >= len(r.PageStreamingStates) {
		return nil, fmt.Errorf("page %d out of range [0, %d)", page, len(r.PageStreamingStates))
	}
	s := r.PageStreamingStates[page]
	buf := r.StreamableClusterPages
	if IsRootPage(uint32(page)) {
		buf = r.RootClusterPage
	}
	end := uint64(s.BulkOffset) + uint64(s.BulkSize)
	if end > uint64(len(buf)) {
		return nil, fmt.Errorf("%w: page %d bulk [%d, %d) past buffer size %d", ErrTruncatedData, page, s.BulkOffset, end, len(buf))
	}
	return buf[s.BulkOffset:end], nil
}

// Dependencies returns the pages that must be resident before page.
func (r *Resources) Dependencies(page int) []uint32 {
	s := r.PageStreamingStates[page]
	return r.PageDependencies[s.DependenciesStart : s.DependenciesStart+s.DependenciesNum]
}

// WriteResources writes r as a resource file.
func WriteResources(w io.Writer, r *Resources) error {
	h := r.Header()
	l := h.Layout()
	buf := make([]byte, 0, l.RootPage)

	var hb bytes.Buffer
	if err := binary.Write(&hb, le, &h); err != nil {
		return fmt.Errorf("encoding header: %w", err)
	}
	buf = append(buf, hb.Bytes()...)
	for i := range r.PageStreamingStates {
		buf = r.PageStreamingStates[i].AppendBinary(buf)
	}
	for _, v := range r.HierarchyRootOffsets {
		buf = le.AppendUint32(buf, v)
	}
	for _, v := range r.PageDependencies {
		buf = le.AppendUint32(buf, v)
	}
	for i := range r.HierarchyNodes {
		buf = r.HierarchyNodes[i].AppendBinary(buf)
	}

	for _, b := range [][]byte{buf, r.RootClusterPage, r.StreamableClusterPages} {
		if _, err := w.Write(b); err != nil {
			return fmt.Errorf("writing resources: %w", err)
		}
	}
	return nil
}

// ParseResources decodes a complete resource file held in memory. The page
// buffers alias data.
func ParseResources(data []byte) (*Resources, error) {
	h, err := ReadFileHeader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	l := h.Layout()
	if int64(len(data)) < l.End {
		return nil, fmt.Errorf("%w: need %d bytes, have %d", ErrTruncatedData, l.End, len(data))
	}

	r := &Resources{
		Compressed:             h.Compressed(),
		StripIndices:           h.StripIndices(),
		NumTexCoords:           h.NumTexCoords,
		PageStreamingStates:    make([]PageStreamingState, h.NumPages),
		HierarchyRootOffsets:   make([]uint32, h.NumRootOffsets),
		PageDependencies:       make([]uint32, h.NumDependencies),
		HierarchyNodes:         make([]PackedHierarchyNode, h.NumHierarchyNodes),
		RootClusterPage:        data[l.RootPage:l.Streamable],
		StreamableClusterPages: data[l.Streamable:l.End],
	}
	for i := range r.PageStreamingStates {
		off := l.PageStates + int64(i)*PageStreamingStateSize
		if r.PageStreamingStates[i], err = ParsePageStreamingState(data[off:]); err != nil {
			return nil, err
		}
	}
	getUints(data[l.RootOffsets:], r.HierarchyRootOffsets)
	getUints(data[l.Dependencies:], r.PageDependencies)
	for i := range r.HierarchyNodes {
		off := l.HierarchyNodes + int64(i)*PackedHierarchyNodeSize
		if r.HierarchyNodes[i], err = ParseHierarchyNode(data[off:]); err != nil {
			return nil, err
		}
	}

	for i, s := range r.PageStreamingStates {
		if uint64(s.DependenciesStart)+uint64(s.DependenciesNum) > uint64(len(r.PageDependencies)) {
			return nil, fmt.Errorf("%w: page %d dependency range out of bounds", ErrCorruptPage, i)
		}
	}
	return r, nil
}
