package encode

import (
	"encoding/binary"
	"fmt"

	"github.com/Faultbox/vgeo/internal/cluster"
	"github.com/Faultbox/vgeo/pkg/bitstream"
	"github.com/Faultbox/vgeo/pkg/formats"
)

// DecodedCluster is one cluster read back from an uncompressed page.
type DecodedCluster struct {
	Packed  formats.PackedCluster
	Indexes []uint32
	// Positions on the cluster's quantization grid, QuantizedPosStart
	// included.
	Positions [][3]uint32
	// Attributes holds the dword-padded attribute record of every vertex.
	Attributes [][]byte
	VertexRefs int
}

// DecodePage decodes every cluster of an uncompressed page, resolving
// vertex references. strips selects the index stream format the resource
// was written with.
func DecodePage(data []byte, strips bool) ([]DecodedCluster, error) {
	p, err := formats.ParsePage(data)
	if err != nil {
		return nil, err
	}
	out := make([]DecodedCluster, len(p.Clusters))
	for k := range out {
		if err := decodeCluster(p, k, strips, out); err != nil {
			return nil, fmt.Errorf("cluster %d: %w", k, err)
		}
	}
	return out, nil
}

func readDwords(data []byte, off uint32, dst []uint32) error {
	if uint64(off)+uint64(len(dst))*4 > uint64(len(data)) {
		return fmt.Errorf("%w: %d dwords at %d past page size %d", formats.ErrCorruptPage, len(dst), off, len(data))
	}
	for i := range dst {
		dst[i] = binary.LittleEndian.Uint32(data[off+uint32(i)*4:])
	}
	return nil
}

func decodeCluster(p *formats.Page, k int, strips bool, out []DecodedCluster) error {
	pc := p.Clusters[k]
	h := p.ClusterHeaders[k]
	data := p.Data
	numVerts, numTris := int(pc.NumVerts()), int(pc.NumTris())
	if numVerts > cluster.MaxVertices || numTris > cluster.MaxTriangles {
		return fmt.Errorf("%w: %d vertices, %d triangles", formats.ErrCorruptPage, numVerts, numTris)
	}
	d := DecodedCluster{
		Packed:     pc,
		Indexes:    make([]uint32, 0, numTris*3),
		Positions:  make([][3]uint32, numVerts),
		Attributes: make([][]byte, numVerts),
	}

	if strips {
		var desc cluster.StripDesc
		var masks [formats.StripBitmaskSize / 4]uint32
		if err := readDwords(data, p.Header.StripBitmaskOffset+uint32(k*formats.StripBitmaskSize), masks[:]); err != nil {
			return err
		}
		for i, m := range masks {
			desc.Bitmasks[i/3][i%3] = m
		}
		for dw := range (numTris + 31) / 32 {
			if desc.Bitmasks[dw][stripStart]&1 == 0 {
				return fmt.Errorf("%w: dword %d does not start a strip", formats.ErrCorruptPage, dw)
			}
		}
		desc.NumPrevNewVerticesBeforeDwords = h.NumPrevNewVerticesBeforeDwords
		desc.NumPrevRefVerticesBeforeDwords = h.NumPrevRefVerticesBeforeDwords
		for t := range numTris {
			tri := UnpackTriangleIndices(&desc, data[h.IndexDataOffset:], t)
			d.Indexes = append(d.Indexes, tri[:]...)
		}
	} else {
		end := int(h.IndexDataOffset) + numTris*3
		if end > len(data) {
			return fmt.Errorf("%w: index data past page end", formats.ErrCorruptPage)
		}
		for _, b := range data[h.IndexDataOffset:end] {
			d.Indexes = append(d.Indexes, uint32(b))
		}
	}
	for i, idx := range d.Indexes {
		if int(idx) >= numVerts {
			return fmt.Errorf("%w: index %d at corner %d, %d vertices", formats.ErrCorruptPage, idx, i, numVerts)
		}
	}

	var refMask [vertexRefMaskDwords]uint32
	if err := readDwords(data, p.Header.VertexRefBitmaskOffset+uint32(k*formats.VertexRefBitmaskSize), refMask[:]); err != nil {
		return err
	}
	attrBytes := int(pc.BitsPerAttribute()+31) / 32 * 4
	refOff, attrOff := int(h.VertexRefDataOffset), int(h.AttributeDataOffset)
	positions := data[h.PositionDataOffset:]
	numNew := 0
	for v := range numVerts {
		if refMask[v>>5]&(1<<(v&31)) != 0 {
			if refOff+2 > len(data) {
				return fmt.Errorf("%w: vertex reference past page end", formats.ErrCorruptPage)
			}
			code := binary.LittleEndian.Uint16(data[refOff:])
			refOff += 2
			delta, idx := int(code>>8), int(code&0xFF)
			src := k - delta
			if src < 0 || src == k && idx >= v || src < k && idx >= len(out[src].Positions) {
				return fmt.Errorf("%w: vertex %d references cluster %d vertex %d", formats.ErrCorruptPage, v, src, idx)
			}
			ref := &out[src]
			if src == k {
				ref = &d
			}
			d.Positions[v] = ref.Positions[idx]
			d.Attributes[v] = ref.Attributes[idx]
			d.VertexRefs++
			continue
		}

		bit := numNew * 3 * PositionQuantizationBits
		for a := range 3 {
			d.Positions[v][a] = pc.QuantizedPosStart[a] + bitstream.ExtractBits(positions, bit+a*PositionQuantizationBits, PositionQuantizationBits)
		}
		if attrOff+attrBytes > len(data) {
			return fmt.Errorf("%w: attributes past page end", formats.ErrCorruptPage)
		}
		d.Attributes[v] = data[attrOff : attrOff+attrBytes]
		attrOff += attrBytes
		numNew++
	}

	out[k] = d
	return nil
}
