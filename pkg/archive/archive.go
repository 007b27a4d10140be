// Package archive reads and writes encoded resource files on disk. Page
// data is read on demand so only the metadata is held in memory.
package archive

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/klauspost/compress/s2"

	"github.com/Faultbox/vgeo/pkg/formats"
)

// ErrClosed is returned by reads on a closed archive.
var ErrClosed = errors.New("archive closed")

// Archive is an opened resource file.
type Archive struct {
	mu     sync.Mutex
	file   *os.File
	header formats.FileHeader
	layout formats.Layout

	states       []formats.PageStreamingState
	rootOffsets  []uint32
	dependencies []uint32
	nodes        []formats.PackedHierarchyNode
}

// Page is one page read back from an archive.
type Page struct {
	Index  int
	Fixups *formats.FixupChunk
	// Data is the uncompressed page.
	Data []byte
	// StoredSize is the size of the page bytes on disk, fixup chunk excluded.
	StoredSize int
}

// Open opens a resource file for reading.
func Open(path string) (*Archive, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening file: %w", err)
	}

	a := &Archive{file: file}
	if err := a.readHeader(); err != nil {
		file.Close()
		return nil, fmt.Errorf("reading header: %w", err)
	}
	if err := a.readMetadata(); err != nil {
		file.Close()
		return nil, fmt.Errorf("reading metadata: %w", err)
	}
	return a, nil
}

// Close closes the archive.
func (a *Archive) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.file == nil {
		return nil
	}
	err := a.file.Close()
	a.file = nil
	return err
}

func (a *Archive) readHeader() error {
	h, err := formats.ReadFileHeader(io.NewSectionReader(a.file, 0, formats.FileHeaderSize))
	if err != nil {
		return err
	}
	a.header = h
	a.layout = h.Layout()

	info, err := a.file.Stat()
	if err != nil {
		return err
	}
	if info.Size() < a.layout.End {
		return fmt.Errorf("%w: file has %d bytes, layout needs %d", formats.ErrTruncatedData, info.Size(), a.layout.End)
	}
	return nil
}

func (a *Archive) readMetadata() error {
	l := a.layout
	meta := make([]byte, l.RootPage)
	if _, err := a.file.ReadAt(meta, 0); err != nil {
		return err
	}

	a.states = make([]formats.PageStreamingState, a.header.NumPages)
	for i := range a.states {
		off := l.PageStates + int64(i)*formats.PageStreamingStateSize
		s, err := formats.ParsePageStreamingState(meta[off:])
		if err != nil {
			return err
		}
		a.states[i] = s
	}
	a.rootOffsets = readUints(meta[l.RootOffsets:], int(a.header.NumRootOffsets))
	a.dependencies = readUints(meta[l.Dependencies:], int(a.header.NumDependencies))
	a.nodes = make([]formats.PackedHierarchyNode, a.header.NumHierarchyNodes)
	for i := range a.nodes {
		off := l.HierarchyNodes + int64(i)*formats.PackedHierarchyNodeSize
		n, err := formats.ParseHierarchyNode(meta[off:])
		if err != nil {
			return err
		}
		a.nodes[i] = n
	}

	for i, s := range a.states {
		if uint64(s.DependenciesStart)+uint64(s.DependenciesNum) > uint64(len(a.dependencies)) {
			return fmt.Errorf("%w: page %d dependency range out of bounds", formats.ErrCorruptPage, i)
		}
		size := int64(a.header.StreamableSize)
		if formats.IsRootPage(uint32(i)) {
			size = int64(a.header.RootPageSize)
		}
		if int64(s.BulkOffset)+int64(s.BulkSize) > size {
			return fmt.Errorf("%w: page %d bulk past its buffer", formats.ErrCorruptPage, i)
		}
	}
	return nil
}

func readUints(b []byte, n int) []uint32 {
	out := make([]uint32, n)
	for i := range out {
		out[i] = binary.LittleEndian.Uint32(b[i*4:])
	}
	return out
}

// Header returns the file header.
func (a *Archive) Header() formats.FileHeader { return a.header }

// NumPages returns the page count.
func (a *Archive) NumPages() int { return len(a.states) }

// StreamingState returns the streaming state of a page.
func (a *Archive) StreamingState(page int) formats.PageStreamingState { return a.states[page] }

// Dependencies returns the pages that must be resident before page.
func (a *Archive) Dependencies(page int) []uint32 {
	s := a.states[page]
	return a.dependencies[s.DependenciesStart : s.DependenciesStart+s.DependenciesNum]
}

// HierarchyNodes returns the packed hierarchy.
func (a *Archive) HierarchyNodes() []formats.PackedHierarchyNode { return a.nodes }

// HierarchyRoots returns the root node index of every mesh.
func (a *Archive) HierarchyRoots() []uint32 { return a.rootOffsets }

// ReadPage reads a page, parses its fixup chunk and decompresses the page
// bytes when the archive is compressed.
func (a *Archive) ReadPage(page int) (*Page, error) {
	if page < 0 || page >= len(a.states) {
		return nil, fmt.Errorf("page %d out of range [0, %d)", page, len(a.states))
	}
	s := a.states[page]
	base := a.layout.Streamable
	if formats.IsRootPage(uint32(page)) {
		base = a.layout.RootPage
	}

	bulk := make([]byte, s.BulkSize)
	a.mu.Lock()
	if a.file == nil {
		a.mu.Unlock()
		return nil, ErrClosed
	}
	_, err := a.file.ReadAt(bulk, base+int64(s.BulkOffset))
	a.mu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("reading page %d: %w", page, err)
	}

	chunk, n, err := formats.ParseFixupChunk(bulk)
	if err != nil {
		return nil, fmt.Errorf("page %d: %w", page, err)
	}
	p := &Page{Index: page, Fixups: chunk, Data: bulk[n:], StoredSize: len(bulk) - n}
	if a.header.Compressed() && !formats.IsRootPage(uint32(page)) {
		if p.Data, err = s2.Decode(nil, p.Data); err != nil {
			return nil, fmt.Errorf("%w: page %d: %v", formats.ErrCorruptPage, page, err)
		}
	}
	if len(p.Data) != int(s.PageUncompressedSize) {
		return nil, fmt.Errorf("%w: page %d has %d bytes, expected %d", formats.ErrCorruptPage, page, len(p.Data), s.PageUncompressedSize)
	}
	return p, nil
}

// Create writes r to path. The file is written to a temporary name in the
// same directory and renamed into place.
func Create(path string, r *formats.Resources) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("creating file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if err := formats.WriteResources(tmp, r); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing file: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("renaming file: %w", err)
	}
	return nil
}
