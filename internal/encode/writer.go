package encode

import (
	"context"
	"encoding/binary"
	"fmt"

	"github.com/cespare/xxhash/v2"
	"github.com/klauspost/compress/s2"
	"go.uber.org/zap"

	"github.com/Faultbox/vgeo/internal/cluster"
	"github.com/Faultbox/vgeo/internal/dag"
	"github.com/Faultbox/vgeo/internal/logger"
	"github.com/Faultbox/vgeo/internal/parallel"
	"github.com/Faultbox/vgeo/pkg/bitstream"
	"github.com/Faultbox/vgeo/pkg/formats"
	vmath "github.com/Faultbox/vgeo/pkg/math"
)

const (
	// Largest attribute record: normal, four 8-bit color channels and four
	// UV pairs at the bit cap.
	maxAttributeDwords = (2*NormalQuantizationBits + 4*8 + cluster.MaxUVs*2*MaxTexCoordBits + 31) / 32

	maxVertexRefCluster = 0xFF
	vertexRefMaskDwords = formats.VertexRefBitmaskSize / 4
)

// Layout is the paged arrangement of an encoded DAG.
type Layout struct {
	Clusters       []*cluster.Cluster
	Groups         []dag.ClusterGroup
	Infos          []EncodingInfo
	Pages          []Page
	Parts          []GroupPart
	Hierarchy      []HierarchyNode
	HierarchyRoots []uint32
	Fixups         Fixups
}

// pageClusters returns the clusters of a page in page order.
func (l *Layout) pageClusters(p *Page) []int {
	ids := make([]int, 0, p.NumClusters)
	for _, part := range l.Parts[p.PartsStartIndex : p.PartsStartIndex+p.PartsNum] {
		ids = append(ids, part.Clusters...)
	}
	check(len(ids) == p.NumClusters, "page cluster count")
	return ids
}

// WriteStats summarizes WritePages.
type WriteStats struct {
	Pages             int
	UncompressedBytes int
	StoredBytes       int
	NewVertices       int
	VertexRefs        int
}

// encodedPage is one page before it is placed in a bulk buffer.
type encodedPage struct {
	data        []byte
	newVertices int
	vertexRefs  int
}

// WritePages encodes every page in parallel and assembles the resource.
// Root pages are stored raw; the others are s2 compressed when compress is
// set. Each page is preceded by its uncompressed fixup chunk.
func WritePages(ctx context.Context, l *Layout, strips, compress bool, workers int) (*formats.Resources, WriteStats, error) {
	encoded := make([]encodedPage, len(l.Pages))
	bulks := make([][]byte, len(l.Pages))
	err := parallel.For(ctx, len(l.Pages), workers, func(i int) error {
		p, err := l.encodePage(i, strips)
		if err != nil {
			return fmt.Errorf("page %d: %w", i, err)
		}
		encoded[i] = p
		bulk := l.Fixups.Chunks[i].AppendBinary(nil)
		if compress && !formats.IsRootPage(uint32(i)) {
			bulk = append(bulk, s2.Encode(nil, p.data)...)
		} else {
			bulk = append(bulk, p.data...)
		}
		bulks[i] = bulk
		return nil
	})
	if err != nil {
		return nil, WriteStats{}, err
	}

	r := &formats.Resources{
		PageStreamingStates:  make([]formats.PageStreamingState, len(l.Pages)),
		HierarchyRootOffsets: l.HierarchyRoots,
		HierarchyNodes:       make([]formats.PackedHierarchyNode, len(l.Hierarchy)),
		Compressed:           compress,
		StripIndices:         strips,
	}
	for _, c := range l.Clusters {
		r.NumTexCoords = max(r.NumTexCoords, uint32(c.NumTexCoords))
	}

	var s WriteStats
	for i := range l.Pages {
		st := &r.PageStreamingStates[i]
		buf := &r.StreamableClusterPages
		if formats.IsRootPage(uint32(i)) {
			buf = &r.RootClusterPage
		}
		st.BulkOffset = uint32(len(*buf))
		st.BulkSize = uint32(len(bulks[i]))
		st.PageUncompressedSize = uint32(len(encoded[i].data))
		*buf = append(*buf, bulks[i]...)

		deps := l.Fixups.Dependencies[i]
		st.DependenciesStart = uint32(len(r.PageDependencies))
		st.DependenciesNum = uint32(len(deps))
		r.PageDependencies = append(r.PageDependencies, deps...)

		s.Pages++
		s.UncompressedBytes += len(encoded[i].data)
		s.StoredBytes += len(bulks[i])
		s.NewVertices += encoded[i].newVertices
		s.VertexRefs += encoded[i].vertexRefs
	}
	for i := range l.Hierarchy {
		r.HierarchyNodes[i] = PackHierarchyNode(&l.Hierarchy[i], l.Parts, l.Groups)
	}

	logger.Debug("wrote pages",
		zap.Int("pages", s.Pages),
		zap.Int("uncompressed_bytes", s.UncompressedBytes),
		zap.Int("stored_bytes", s.StoredBytes),
		zap.Int("new_vertices", s.NewVertices),
		zap.Int("vertex_refs", s.VertexRefs))
	return r, s, nil
}

// packCluster fills the GPU record of a cluster. offsets are the GPU
// section offsets of the cluster inside its page.
func packCluster(c *cluster.Cluster, info *EncodingInfo, offsets PageSections, leaf bool) formats.PackedCluster {
	var pc formats.PackedCluster
	pc.QuantizedPosStart = c.QuantizedPosStart
	pc.PositionOffset = offsets.Position
	pc.MeshBoundsMin = vec3Array(c.MeshBoundsMin)
	pc.IndexOffset = offsets.Index
	pc.MeshBoundsDelta = vec3Array(c.MeshBoundsDelta)
	pc.SetCounts(uint32(c.NumVerts), uint32(c.NumTris), info.BitsPerIndex, c.QuantizedPosShift)

	s := c.LODBounds
	pc.LODBounds = [4]float32{s.Center.X, s.Center.Y, s.Center.Z, s.Radius}
	pc.BoxBoundsCenter = vec3Array(c.Bounds.Center())
	pc.BoxBoundsExtent = vec3Array(c.Bounds.Extent())
	pc.LODErrorAndEdgeLength = uint32(vmath.Float16(c.LODError)) | uint32(vmath.Float16(c.EdgeLength))<<16
	if leaf {
		pc.Flags = formats.ClusterFlagLeaf
	}

	pc.SetAttribute(offsets.Attribute, info.BitsPerAttribute)
	pc.SetDecodeInfo(offsets.DecodeInfo, uint32(c.NumTexCoords), info.ColorMode)
	pc.UVPrec = info.UVPrec
	pc.ColorMin = info.ColorMinPacked()
	pc.ColorBits = info.ColorBitsPacked()
	pc.GroupIndex = uint32(c.GroupIndex)
	return pc
}

// encodingSignature hashes everything that decides how a vertex's
// quantized position and attributes decode. Vertices of clusters with equal
// signatures and equal encoded values decode identically.
func encodingSignature(c *cluster.Cluster, info *EncodingInfo) uint64 {
	b := make([]byte, 0, 64)
	b = binary.LittleEndian.AppendUint32(b, c.QuantizedPosShift)
	b = binary.LittleEndian.AppendUint32(b, info.BitsPerAttribute)
	b = binary.LittleEndian.AppendUint32(b, info.ColorMode)
	b = binary.LittleEndian.AppendUint32(b, info.ColorMinPacked())
	b = binary.LittleEndian.AppendUint32(b, info.ColorBitsPacked())
	b = binary.LittleEndian.AppendUint32(b, info.UVPrec)
	for uv := range c.NumTexCoords {
		b = info.UVs[uv].Range.AppendBinary(b)
	}
	return xxhash.Sum64(b)
}

// encodeAttributes writes the attribute record of one vertex, padded to a
// dword.
func encodeAttributes(w *bitstream.Writer, c *cluster.Cluster, info *EncodingInfo, v int) {
	vert := &c.Verts[v]
	w.MustPutBits(PackNormal(vert.Normal, NormalQuantizationBits), 2*NormalQuantizationBits)
	if info.ColorMode == formats.ColorModeVariable {
		col := ToColor8(vert.Color)
		for k := range 4 {
			w.MustPutBits(uint32(col[k]-info.ColorMin[k]), uint(info.ColorBits[k]))
		}
	}
	for uv := range c.NumTexCoords {
		u := &info.UVs[uv]
		w.MustPutBits(u.EncodeUV(vert.UVs[uv]), uint(u.BitsU+u.BitsV))
	}
	w.Flush(4)
}

type vertexKey struct {
	signature uint64
	position  [3]uint32
	attribute [maxAttributeDwords]uint32
}

type vertexLocation struct {
	cluster int
	vertex  int
}

// clusterStreams holds the disk streams of one cluster.
type clusterStreams struct {
	index         []byte
	refMask       [vertexRefMaskDwords]uint32
	refs          []byte
	positions     []byte
	attributes    []byte
	newVertices   int
	numVertexRefs int
}

// encodeStreams encodes the index, vertex reference, position and attribute
// streams of cluster k of a page. Vertices already stored by an earlier
// cluster of the page, or earlier in this one, become references.
func encodeStreams(c *cluster.Cluster, info *EncodingInfo, k int, strips bool, seen map[vertexKey]vertexLocation) clusterStreams {
	var s clusterStreams
	if strips {
		check(isStripified(c), "stripified cluster")
		s.index = append(s.index, c.StripIndexData...)
	} else {
		s.index = make([]byte, 0, c.NumTris*3)
		for _, idx := range c.Indexes {
			s.index = append(s.index, byte(idx))
		}
	}
	s.index = padTo4(s.index)

	sig := encodingSignature(c, info)
	pos := bitstream.NewWriter(nil)
	for v := range c.NumVerts {
		key := vertexKey{signature: sig}
		for a := range 3 {
			key.position[a] = c.QuantizedPosStart[a] + c.QuantizedPositions[v][a]
		}
		record := bitstream.NewWriter(make([]byte, 0, maxAttributeDwords*4))
		encodeAttributes(record, c, info, v)
		for d := range len(record.Bytes()) / 4 {
			key.attribute[d] = binary.LittleEndian.Uint32(record.Bytes()[d*4:])
		}

		if loc, ok := seen[key]; ok && k-loc.cluster <= maxVertexRefCluster {
			s.refMask[v>>5] |= 1 << (v & 31)
			s.refs = binary.LittleEndian.AppendUint16(s.refs, uint16((k-loc.cluster)<<8|loc.vertex))
			s.numVertexRefs++
			continue
		}
		seen[key] = vertexLocation{cluster: k, vertex: v}
		q := c.QuantizedPositions[v]
		for a := range 3 {
			pos.MustPutBits(q[a], PositionQuantizationBits)
		}
		s.attributes = append(s.attributes, record.Bytes()...)
		s.newVertices++
	}
	pos.Flush(4)
	s.positions = pos.Bytes()
	s.refs = padTo4(s.refs)
	return s
}

func padTo4(b []byte) []byte {
	for len(b)%4 != 0 {
		b = append(b, 0)
	}
	return b
}

// encodePage produces the uncompressed bytes of page pi.
func (l *Layout) encodePage(pi int, strips bool) (encodedPage, error) {
	page := &l.Pages[pi]
	ids := l.pageClusters(page)
	n := len(ids)

	gpu := page.GpuSizes.Offsets()
	tableStart := gpu.MaterialTable / 4
	packed := make([]formats.PackedCluster, n)
	var table []uint32
	run := gpu
	for k, ci := range ids {
		c := l.Clusters[ci]
		info := &l.Infos[ci]
		packed[k] = packCluster(c, info, run, !childrenResidentWithPage(c, l.Groups, pi))
		mat, t, err := PackMaterialInfo(c, table, tableStart)
		if err != nil {
			return encodedPage{}, fmt.Errorf("cluster %d: %w", ci, err)
		}
		table = t
		packed[k].PackedMaterialInfo = mat
		run = run.Add(info.GpuSizes)
	}
	check(uint32(len(table))*4 == page.GpuSizes.MaterialTable, "material table size")

	streams := make([]clusterStreams, n)
	seen := make(map[vertexKey]vertexLocation)
	var out encodedPage
	for k, ci := range ids {
		streams[k] = encodeStreams(l.Clusters[ci], &l.Infos[ci], k, strips, seen)
		out.newVertices += streams[k].newVertices
		out.vertexRefs += streams[k].numVertexRefs
	}

	tableBytes := page.GpuSizes.materialTableAligned()
	var numTexCoords, decodeBytes uint32
	for _, ci := range ids {
		c := l.Clusters[ci]
		numTexCoords = max(numTexCoords, uint32(c.NumTexCoords))
		decodeBytes += uint32(c.NumTexCoords) * formats.UVRangeSize
	}

	h := formats.PageDiskHeader{
		NumClusters:   uint32(n),
		GpuSize:       page.GpuSizes.Total(),
		NumRawFloat4s: page.GpuSizes.RawFloat4s(),
		NumTexCoords:  numTexCoords,
	}
	h.DecodeInfoOffset = uint32(formats.PageDiskHeaderSize+n*(formats.ClusterDiskHeaderSize+formats.PackedClusterSize)) + tableBytes

	headers := make([]formats.ClusterDiskHeader, n)
	off := h.DecodeInfoOffset + decodeBytes
	for k := range streams {
		headers[k].IndexDataOffset = off
		off += uint32(len(streams[k].index))
	}
	h.StripBitmaskOffset = off
	off += uint32(n * formats.StripBitmaskSize)
	h.VertexRefBitmaskOffset = off
	off += uint32(n * formats.VertexRefBitmaskSize)
	for k := range streams {
		headers[k].VertexRefDataOffset = off
		off += uint32(len(streams[k].refs))
	}
	for k := range streams {
		headers[k].PositionDataOffset = off
		off += uint32(len(streams[k].positions))
	}
	for k, ci := range ids {
		headers[k].AttributeDataOffset = off
		off += uint32(len(streams[k].attributes))
		desc := &l.Clusters[ci].StripDesc
		headers[k].NumPrevRefVerticesBeforeDwords = desc.NumPrevRefVerticesBeforeDwords
		headers[k].NumPrevNewVerticesBeforeDwords = desc.NumPrevNewVerticesBeforeDwords
	}

	buf := make([]byte, 0, off)
	buf = h.AppendBinary(buf)
	for k := range headers {
		buf = headers[k].AppendBinary(buf)
	}
	buf = formats.AppendClustersSOA(buf, packed)
	for _, v := range table {
		buf = binary.LittleEndian.AppendUint32(buf, v)
	}
	buf = append(buf, make([]byte, tableBytes-uint32(len(table))*4)...)
	check(uint32(len(buf)) == h.DecodeInfoOffset, "decode info offset")

	for _, ci := range ids {
		c := l.Clusters[ci]
		for uv := range c.NumTexCoords {
			buf = l.Infos[ci].UVs[uv].Range.AppendBinary(buf)
		}
	}
	for k := range streams {
		buf = append(buf, streams[k].index...)
	}
	for _, ci := range ids {
		desc := &l.Clusters[ci].StripDesc
		for d := range desc.Bitmasks {
			for m := range desc.Bitmasks[d] {
				buf = binary.LittleEndian.AppendUint32(buf, desc.Bitmasks[d][m])
			}
		}
	}
	for k := range streams {
		for _, w := range streams[k].refMask {
			buf = binary.LittleEndian.AppendUint32(buf, w)
		}
	}
	for k := range streams {
		buf = append(buf, streams[k].refs...)
	}
	for k := range streams {
		buf = append(buf, streams[k].positions...)
	}
	for k := range streams {
		buf = append(buf, streams[k].attributes...)
	}
	check(uint32(len(buf)) == off, "page size")

	out.data = buf
	return out, nil
}
