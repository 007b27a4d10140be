package mesh

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	vmath "github.com/Faultbox/vgeo/pkg/math"
)

func TestGridShape(t *testing.T) {
	m := Grid(GridOptions{Width: 8, Depth: 16, Materials: 5, NumTexCoords: 2, Colors: true})
	require.NoError(t, m.Validate())

	assert.Equal(t, 256, m.NumTriangles())
	assert.Len(t, m.Verts, 9*17)

	used := map[int32]bool{}
	for _, mat := range m.MaterialIndexes {
		used[mat] = true
	}
	assert.Len(t, used, 5)

	b := m.Bounds()
	assert.Equal(t, vmath.Vec3{X: 8, Z: 16}, b.Max)
	assert.Equal(t, vmath.Vec2{X: 2, Y: 2}, m.Verts[len(m.Verts)-1].UVs[1])
}

func TestGridWindingFacesUp(t *testing.T) {
	m := Grid(GridOptions{Width: 2, Depth: 2})
	for tri := range m.NumTriangles() {
		p0 := m.Verts[m.Indexes[tri*3]].Position
		p1 := m.Verts[m.Indexes[tri*3+1]].Position
		p2 := m.Verts[m.Indexes[tri*3+2]].Position
		n := p1.Sub(p0).Cross(p2.Sub(p0))
		assert.Greater(t, n.Y, float32(0), "triangle %d", tri)
	}
}

func TestGridHeightSmoothsNormals(t *testing.T) {
	m := Grid(GridOptions{Width: 4, Depth: 4, Height: func(x, z int) float32 { return float32(x) }})
	for _, v := range m.Verts {
		assert.InDelta(t, 1, v.Normal.Length(), 1e-5)
		assert.Less(t, v.Normal.X, float32(0))
	}
}

func TestValidate(t *testing.T) {
	base := func() *Mesh { return Grid(GridOptions{Width: 2, Depth: 1}) }

	tests := []struct {
		name   string
		mutate func(*Mesh)
		want   error
	}{
		{"empty", func(m *Mesh) { m.Indexes = nil; m.MaterialIndexes = nil }, ErrEmpty},
		{"partial triangle", func(m *Mesh) { m.Indexes = m.Indexes[:5] }, ErrMalformedIndices},
		{"index out of range", func(m *Mesh) { m.Indexes[2] = 99 }, ErrMalformedIndices},
		{"material count", func(m *Mesh) { m.MaterialIndexes = m.MaterialIndexes[:1] }, ErrMalformedIndices},
		{"material too large", func(m *Mesh) { m.MaterialIndexes[0] = 64 }, ErrMaterialRange},
		{"negative material", func(m *Mesh) { m.MaterialIndexes[0] = -1 }, ErrMaterialRange},
		{"too many uvs", func(m *Mesh) { m.NumTexCoords = 5 }, ErrTooManyUVs},
		{"nan position", func(m *Mesh) { m.Verts[0].Position.X = float32(nan()) }, ErrNonFinite},
		{"range gap", func(m *Mesh) { m.TriangleRanges = []TriangleRange{{1, 4}} }, ErrBadRange},
		{"range short", func(m *Mesh) { m.TriangleRanges = []TriangleRange{{0, 2}} }, ErrBadRange},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := base()
			tt.mutate(m)
			assert.ErrorIs(t, m.Validate(), tt.want)
		})
	}

	m := base()
	m.TriangleRanges = []TriangleRange{{0, 1}, {1, 4}}
	require.NoError(t, m.Validate())
	assert.Len(t, m.Sections(), 2)
}

func TestFromSDFSphereIsClosed(t *testing.T) {
	s, err := Shape("sphere", 2)
	require.NoError(t, err)
	m, err := FromSDF(s, SDFOptions{Cells: 16, Materials: 6, NumTexCoords: 1})
	require.NoError(t, err)
	require.NoError(t, m.Validate())
	assert.Greater(t, m.NumTriangles(), 100)

	// Nearly every directed edge of the welded surface has a reverse twin.
	edges := map[[2]uint32]int{}
	for tri := range m.NumTriangles() {
		for k := range 3 {
			a, b := m.Indexes[tri*3+k], m.Indexes[tri*3+(k+1)%3]
			edges[[2]uint32{a, b}]++
		}
	}
	open := 0
	for e := range edges {
		if edges[[2]uint32{e[1], e[0]}] == 0 {
			open++
		}
	}
	assert.LessOrEqual(t, open, len(edges)/100)

	for _, v := range m.Verts {
		assert.InDelta(t, 1, v.Position.Length(), 0.1)
	}
}

func TestShapeUnknown(t *testing.T) {
	_, err := Shape("teapot", 1)
	assert.ErrorIs(t, err, ErrUnknownShape)
}

func nan() float64 {
	zero := 0.0
	return zero / zero
}
