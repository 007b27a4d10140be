package formats

import (
	"errors"
	"testing"
)

func TestPackedClusterFields(t *testing.T) {
	var c PackedCluster
	c.SetCounts(256, 128, 8, 5)
	if c.NumVerts() != 256 || c.NumTris() != 128 || c.BitsPerIndex() != 8 || c.QuantizedPosShift() != 5 {
		t.Errorf("counts = (%d, %d, %d, %d), want (256, 128, 8, 5)",
			c.NumVerts(), c.NumTris(), c.BitsPerIndex(), c.QuantizedPosShift())
	}

	c.SetAttribute(0x1234, 52)
	if c.AttributeOffset() != 0x1234 || c.BitsPerAttribute() != 52 {
		t.Errorf("attribute = (%#x, %d), want (0x1234, 52)", c.AttributeOffset(), c.BitsPerAttribute())
	}

	c.SetDecodeInfo(640, 2, ColorModeVariable)
	if c.DecodeInfoOffset() != 640 || c.NumUVs() != 2 || c.ColorMode() != ColorModeVariable {
		t.Errorf("decode info = (%d, %d, %d), want (640, 2, %d)",
			c.DecodeInfoOffset(), c.NumUVs(), c.ColorMode(), ColorModeVariable)
	}
}

func TestClustersSOA(t *testing.T) {
	clusters := make([]PackedCluster, 3)
	for i := range clusters {
		c := &clusters[i]
		c.QuantizedPosStart = [3]uint32{uint32(i), 2, 3}
		c.MeshBoundsMin = [3]float32{-1, -2, float32(i)}
		c.LODBounds = [4]float32{0, 0, 0, float32(i + 1)}
		c.SetCounts(uint32(10+i), uint32(5+i), 4, 0)
		c.GroupIndex = uint32(100 + i)
		c.PackedMaterialInfo = 0xdeadbeef
	}

	data := AppendClustersSOA(nil, clusters)
	if len(data) != 3*PackedClusterSize {
		t.Fatalf("expected %d bytes, got %d", 3*PackedClusterSize, len(data))
	}

	// Slot 0 of every cluster comes first.
	if le.Uint32(data[16:]) != 1 {
		t.Errorf("expected cluster 1 slot 0 at offset 16, got %d", le.Uint32(data[16:]))
	}

	got, err := ParseClustersSOA(data, 3)
	if err != nil {
		t.Fatalf("ParseClustersSOA failed: %v", err)
	}
	for i := range clusters {
		if got[i] != clusters[i] {
			t.Errorf("cluster %d mismatch: got %+v, want %+v", i, got[i], clusters[i])
		}
	}

	if _, err := ParseClustersSOA(data[:100], 3); !errors.Is(err, ErrTruncatedData) {
		t.Errorf("expected ErrTruncatedData, got %v", err)
	}
}

func TestUVRange(t *testing.T) {
	r := UVRange{
		Min:       [2]float32{-0.5, 0.25},
		Scale:     [2]float32{0.001, 0.002},
		GapStart:  [2]int32{300, 1024},
		GapLength: [2]int32{12, 0},
	}
	b := r.AppendBinary(nil)
	if len(b) != UVRangeSize {
		t.Fatalf("expected %d bytes, got %d", UVRangeSize, len(b))
	}
	got, err := ParseUVRange(b)
	if err != nil {
		t.Fatalf("ParseUVRange failed: %v", err)
	}
	if got != r {
		t.Errorf("got %+v, want %+v", got, r)
	}
}

func TestFixupChunk(t *testing.T) {
	c := &FixupChunk{
		NumClusters: 17,
		HierarchyFixups: []HierarchyFixup{
			NewHierarchyFixup(3, 10, 63, 5, 2, 1),
		},
		ClusterFixups: []ClusterFixup{
			NewClusterFixup(4, 200, 7, 2),
			NewClusterFixup(5, 0, 0, 0),
		},
	}
	b := c.AppendBinary(nil)
	if len(b) != c.Size() {
		t.Fatalf("expected %d bytes, got %d", c.Size(), len(b))
	}

	got, n, err := ParseFixupChunk(append(b, 0xff, 0xff))
	if err != nil {
		t.Fatalf("ParseFixupChunk failed: %v", err)
	}
	if n != c.Size() {
		t.Errorf("expected consumed size %d, got %d", c.Size(), n)
	}
	if got.NumClusters != 17 || len(got.HierarchyFixups) != 1 || len(got.ClusterFixups) != 2 {
		t.Fatalf("unexpected chunk %+v", got)
	}

	h := got.HierarchyFixups[0]
	if h.PageIndex != 3 || h.NodeIndex() != 10 || h.ChildIndex() != 63 || h.ClusterGroupPartStartIndex != 5 ||
		h.DepStart() != 2 || h.DepNum() != 1 {
		t.Errorf("hierarchy fixup = %+v", h)
	}
	f := got.ClusterFixups[0]
	if f.PageIndex() != 4 || f.ClusterIndex() != 200 || f.DepStart() != 7 || f.DepNum() != 2 {
		t.Errorf("cluster fixup = %+v", f)
	}

	if _, _, err := ParseFixupChunk(b[:len(b)-1]); !errors.Is(err, ErrTruncatedData) {
		t.Errorf("expected ErrTruncatedData, got %v", err)
	}
}

func buildTestPage(streamOffset uint32) []byte {
	h := PageDiskHeader{NumClusters: 1}
	data := h.AppendBinary(nil)
	ch := ClusterDiskHeader{
		IndexDataOffset:     PageDiskHeaderSize + ClusterDiskHeaderSize + PackedClusterSize + 1,
		VertexRefDataOffset: streamOffset,
		PositionDataOffset:  streamOffset,
		AttributeDataOffset: streamOffset,
	}
	data = ch.AppendBinary(data)
	data = AppendClustersSOA(data, make([]PackedCluster, 1))
	return append(data, make([]byte, 16)...)
}

func TestParsePage(t *testing.T) {
	data := buildTestPage(PageDiskHeaderSize + ClusterDiskHeaderSize + PackedClusterSize + 8)
	p, err := ParsePage(data)
	if err != nil {
		t.Fatalf("ParsePage failed: %v", err)
	}
	if len(p.Clusters) != 1 || len(p.ClusterHeaders) != 1 {
		t.Errorf("expected one cluster, got %d", len(p.Clusters))
	}
}

func TestParsePage_Misaligned(t *testing.T) {
	data := buildTestPage(PageDiskHeaderSize + ClusterDiskHeaderSize + PackedClusterSize + 2)
	if _, err := ParsePage(data); !errors.Is(err, ErrCorruptPage) {
		t.Errorf("expected ErrCorruptPage, got %v", err)
	}
}

func TestParsePage_OffsetOutOfRange(t *testing.T) {
	data := buildTestPage(4096)
	if _, err := ParsePage(data); !errors.Is(err, ErrCorruptPage) {
		t.Errorf("expected ErrCorruptPage, got %v", err)
	}
}
