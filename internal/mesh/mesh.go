// Package mesh defines the input mesh handed to the cluster builder and a
// few procedural mesh sources.
package mesh

import (
	"errors"
	"fmt"

	vmath "github.com/Faultbox/vgeo/pkg/math"
)

// Input limits.
const (
	MaxUVs       = 4
	MaxMaterials = 64
)

// Input validation errors.
var (
	ErrEmpty            = errors.New("mesh has no triangles")
	ErrMalformedIndices = errors.New("malformed index buffer")
	ErrMaterialRange    = errors.New("material index out of range")
	ErrTooManyUVs       = errors.New("too many UV channels")
	ErrNonFinite        = errors.New("non-finite vertex position")
	ErrBadRange         = errors.New("invalid triangle range")
)

// Vertex is one mesh vertex. Only the first NumTexCoords UVs and, when
// HasColors is set, Color carry data.
type Vertex struct {
	Position vmath.Vec3
	Normal   vmath.Vec3
	Color    [4]float32
	UVs      [MaxUVs]vmath.Vec2
}

// TriangleRange is a half-open span of triangles partitioned independently.
type TriangleRange struct {
	Begin, End int
}

// Mesh is an indexed triangle list with one material per triangle.
type Mesh struct {
	Verts           []Vertex
	Indexes         []uint32
	MaterialIndexes []int32
	NumTexCoords    int
	HasColors       bool

	// TriangleRanges optionally splits the mesh into sections. Empty means
	// one section spanning every triangle.
	TriangleRanges []TriangleRange
}

// NumTriangles returns the triangle count.
func (m *Mesh) NumTriangles() int {
	return len(m.Indexes) / 3
}

// Bounds returns the box around every vertex.
func (m *Mesh) Bounds() vmath.Bounds {
	b := vmath.EmptyBounds()
	for i := range m.Verts {
		b = b.AddPoint(m.Verts[i].Position)
	}
	return b
}

// Sections returns TriangleRanges, or a single range over the whole mesh.
func (m *Mesh) Sections() []TriangleRange {
	if len(m.TriangleRanges) == 0 {
		return []TriangleRange{{Begin: 0, End: m.NumTriangles()}}
	}
	return m.TriangleRanges
}

// Validate checks the index buffer, materials, UV count and positions.
func (m *Mesh) Validate() error {
	if len(m.Indexes) == 0 {
		return ErrEmpty
	}
	if len(m.Indexes)%3 != 0 {
		return fmt.Errorf("%w: %d indexes is not a multiple of 3", ErrMalformedIndices, len(m.Indexes))
	}
	numTris := m.NumTriangles()
	if len(m.MaterialIndexes) != numTris {
		return fmt.Errorf("%w: %d material indexes for %d triangles", ErrMalformedIndices, len(m.MaterialIndexes), numTris)
	}
	if m.NumTexCoords < 0 || m.NumTexCoords > MaxUVs {
		return fmt.Errorf("%w: %d", ErrTooManyUVs, m.NumTexCoords)
	}
	for i, idx := range m.Indexes {
		if int(idx) >= len(m.Verts) {
			return fmt.Errorf("%w: index %d at %d, %d vertices", ErrMalformedIndices, idx, i, len(m.Verts))
		}
	}
	for tri, mat := range m.MaterialIndexes {
		if mat < 0 || mat >= MaxMaterials {
			return fmt.Errorf("%w: triangle %d uses material %d", ErrMaterialRange, tri, mat)
		}
	}
	for i := range m.Verts {
		if !m.Verts[i].Position.IsFinite() {
			return fmt.Errorf("%w: vertex %d", ErrNonFinite, i)
		}
	}

	next := 0
	for _, r := range m.TriangleRanges {
		if r.Begin != next || r.End <= r.Begin || r.End > numTris {
			return fmt.Errorf("%w: [%d, %d)", ErrBadRange, r.Begin, r.End)
		}
		next = r.End
	}
	if len(m.TriangleRanges) > 0 && next != numTris {
		return fmt.Errorf("%w: ranges end at %d of %d triangles", ErrBadRange, next, numTris)
	}
	return nil
}
