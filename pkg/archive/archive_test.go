package archive

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/klauspost/compress/s2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Faultbox/vgeo/pkg/formats"
)

// testResources builds a three-page resource with made-up page bytes.
func testResources(compressed bool) (*formats.Resources, [][]byte) {
	r := &formats.Resources{
		Compressed:           compressed,
		StripIndices:         true,
		NumTexCoords:         1,
		HierarchyRootOffsets: []uint32{0},
		HierarchyNodes:       make([]formats.PackedHierarchyNode, 2),
		PageDependencies:     []uint32{2},
	}
	r.HierarchyNodes[0].Misc[0].ResourcePageIndexNumPagesGroupPartSize = formats.InnerNodeResource
	r.HierarchyNodes[0].Misc[0].ChildStartReference = 1
	r.HierarchyNodes[1].Misc[0].ResourcePageIndexNumPagesGroupPartSize = formats.PackLeafResource(1, 2, 5)

	pages := [][]byte{
		bytes.Repeat([]byte{1, 2, 3, 4}, 64),
		bytes.Repeat([]byte{5, 6, 7, 8}, 300),
		bytes.Repeat([]byte{9}, 40),
	}
	for i, data := range pages {
		chunk := formats.FixupChunk{NumClusters: uint16(i + 1)}
		chunk.ClusterFixups = []formats.ClusterFixup{formats.NewClusterFixup(uint32(i), 0, 0, 0)}
		bulk := chunk.AppendBinary(nil)
		if compressed && !formats.IsRootPage(uint32(i)) {
			bulk = append(bulk, s2.Encode(nil, data)...)
		} else {
			bulk = append(bulk, data...)
		}

		st := formats.PageStreamingState{BulkSize: uint32(len(bulk)), PageUncompressedSize: uint32(len(data))}
		if formats.IsRootPage(uint32(i)) {
			st.BulkOffset = uint32(len(r.RootClusterPage))
			r.RootClusterPage = append(r.RootClusterPage, bulk...)
		} else {
			st.BulkOffset = uint32(len(r.StreamableClusterPages))
			r.StreamableClusterPages = append(r.StreamableClusterPages, bulk...)
		}
		if i == 1 {
			st.DependenciesNum = 1
		}
		r.PageStreamingStates = append(r.PageStreamingStates, st)
	}
	return r, pages
}

func TestCreateAndOpen(t *testing.T) {
	for _, compressed := range []bool{true, false} {
		r, pages := testResources(compressed)
		path := filepath.Join(t.TempDir(), "mesh.vgeo")
		require.NoError(t, Create(path, r))

		a, err := Open(path)
		require.NoError(t, err)

		h := a.Header()
		assert.Equal(t, compressed, h.Compressed())
		assert.True(t, h.StripIndices())
		assert.Equal(t, uint32(1), h.NumTexCoords)
		assert.Equal(t, 3, a.NumPages())
		assert.Equal(t, []uint32{0}, a.HierarchyRoots())
		assert.Equal(t, r.HierarchyNodes, a.HierarchyNodes())
		assert.Empty(t, a.Dependencies(0))
		assert.Equal(t, []uint32{2}, a.Dependencies(1))

		for i, want := range pages {
			p, err := a.ReadPage(i)
			require.NoError(t, err)
			assert.Equal(t, want, p.Data)
			assert.Equal(t, uint16(i+1), p.Fixups.NumClusters)
			require.Len(t, p.Fixups.ClusterFixups, 1)
			assert.Equal(t, uint32(i), p.Fixups.ClusterFixups[0].PageIndex())
		}
		if compressed {
			p, err := a.ReadPage(1)
			require.NoError(t, err)
			assert.Less(t, p.StoredSize, len(pages[1]))
		}

		_, err = a.ReadPage(3)
		assert.Error(t, err)

		require.NoError(t, a.Close())
		require.NoError(t, a.Close())
		_, err = a.ReadPage(0)
		assert.ErrorIs(t, err, ErrClosed)
	}
}

func TestCreateMatchesWriteResources(t *testing.T) {
	r, _ := testResources(true)
	path := filepath.Join(t.TempDir(), "mesh.vgeo")
	require.NoError(t, Create(path, r))

	var want bytes.Buffer
	require.NoError(t, formats.WriteResources(&want, r))
	got, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, want.Bytes(), got)

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temporary file must be removed")
}

func TestOpenErrors(t *testing.T) {
	dir := t.TempDir()

	_, err := Open(filepath.Join(dir, "missing.vgeo"))
	assert.ErrorIs(t, err, os.ErrNotExist)

	bad := filepath.Join(dir, "bad.vgeo")
	require.NoError(t, os.WriteFile(bad, bytes.Repeat([]byte{'x'}, 64), 0o644))
	_, err = Open(bad)
	assert.ErrorIs(t, err, formats.ErrInvalidMagic)

	r, _ := testResources(true)
	var buf bytes.Buffer
	require.NoError(t, formats.WriteResources(&buf, r))
	truncated := filepath.Join(dir, "truncated.vgeo")
	require.NoError(t, os.WriteFile(truncated, buf.Bytes()[:buf.Len()-10], 0o644))
	_, err = Open(truncated)
	assert.ErrorIs(t, err, formats.ErrTruncatedData)
}

func TestReadPageCorrupt(t *testing.T) {
	r, _ := testResources(true)
	// Overwrite the compressed bytes of page 1 past its fixup chunk.
	chunkSize := (&formats.FixupChunk{ClusterFixups: make([]formats.ClusterFixup, 1)}).Size()
	for i := chunkSize; i < int(r.PageStreamingStates[1].BulkSize); i++ {
		r.StreamableClusterPages[i] = 0xFF
	}
	path := filepath.Join(t.TempDir(), "mesh.vgeo")
	require.NoError(t, Create(path, r))

	a, err := Open(path)
	require.NoError(t, err)
	defer a.Close()
	_, err = a.ReadPage(1)
	assert.ErrorIs(t, err, formats.ErrCorruptPage)
}
