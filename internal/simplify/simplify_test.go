package simplify

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Faultbox/vgeo/internal/mesh"
	vmath "github.com/Faultbox/vgeo/pkg/math"
)

func fromMesh(m *mesh.Mesh) *Simplifier {
	pos := make([]vmath.Vec3, len(m.Verts))
	attr := make([]float32, 0, len(m.Verts)*3)
	for i, v := range m.Verts {
		pos[i] = v.Position
		attr = append(attr, v.Normal.X, v.Normal.Y, v.Normal.Z)
	}
	return New(pos, attr, 3, m.Indexes, m.MaterialIndexes)
}

func checkResult(t *testing.T, r Result) {
	t.Helper()
	require.Equal(t, len(r.Indexes), len(r.Materials)*3)
	require.Equal(t, len(r.Attributes), len(r.Positions)*3)
	for _, i := range r.Indexes {
		require.Less(t, int(i), len(r.Positions))
	}
}

func TestPlanarGridCollapsesWithoutError(t *testing.T) {
	m := mesh.Grid(mesh.GridOptions{Width: 8, Depth: 8})
	s := fromMesh(m)

	err := s.Simplify(16, 0, 0)
	assert.InDelta(t, 0, err, 1e-4)
	assert.LessOrEqual(t, s.RemainingNumTris(), 16)
	assert.Greater(t, s.RemainingNumTris(), 0)

	r := s.Compact()
	checkResult(t, r)

	// Corners of the grid hold the border in place.
	b := vmath.EmptyBounds()
	for _, p := range r.Positions {
		b = b.AddPoint(p)
	}
	assert.Equal(t, vmath.Vec3{}, b.Min)
	assert.Equal(t, vmath.Vec3{X: 8, Z: 8}, b.Max)
}

func TestLockedPositionsSurvive(t *testing.T) {
	m := mesh.Grid(mesh.GridOptions{Width: 6, Depth: 6})
	s := fromMesh(m)

	var locked []vmath.Vec3
	for _, v := range m.Verts {
		if v.Position.Z == 0 {
			locked = append(locked, v.Position)
			s.LockPosition(v.Position)
		}
	}

	s.Simplify(8, 0, 0)
	r := s.Compact()
	checkResult(t, r)

	have := map[vmath.Vec3]bool{}
	for _, p := range r.Positions {
		have[p] = true
	}
	for _, p := range locked {
		assert.True(t, have[p], "locked %v was removed", p)
	}
}

func TestCurvedSurfaceReportsError(t *testing.T) {
	m := mesh.Grid(mesh.GridOptions{
		Width: 10, Depth: 10,
		Height: func(x, z int) float32 { return float32((x-5)*(x-5)+(z-5)*(z-5)) * 0.1 },
	})
	s := fromMesh(m)

	err := s.Simplify(20, 0, 0)
	assert.Greater(t, err, float32(0))
	assert.LessOrEqual(t, s.RemainingNumTris(), 20)
	checkResult(t, s.Compact())
}

func TestLimitStopsErrorDrivenCollapse(t *testing.T) {
	m := mesh.Grid(mesh.GridOptions{Width: 8, Depth: 8})
	s := fromMesh(m)

	// Every planar collapse is free, so only the limit stops it.
	s.Simplify(0, 1, 40)
	assert.GreaterOrEqual(t, s.RemainingNumTris(), 39)
	assert.LessOrEqual(t, s.RemainingNumTris(), 40)
}

func TestAttributeSeamRaisesCost(t *testing.T) {
	m := mesh.Grid(mesh.GridOptions{Width: 2, Depth: 2})
	s := fromMesh(m)
	center := int32(s.wedgePV[4])
	neighbor := int32(s.wedgePV[1])

	base, ok := s.cost(center, neighbor)
	require.True(t, ok)

	s.attr[1*3+0] = 1 // bend the neighbor normal
	s.SetAttributeWeights([]float32{4, 4, 4})
	bent, ok := s.cost(center, neighbor)
	require.True(t, ok)
	assert.Greater(t, bent, base)
}

func TestDegenerateInputTrianglesDropped(t *testing.T) {
	pos := []vmath.Vec3{{}, {X: 1}, {Z: 1}, {X: 1}}
	attr := make([]float32, 4*3)
	// Second triangle repeats a position through a different wedge.
	s := New(pos, attr, 3, []uint32{0, 2, 1, 0, 1, 3}, []int32{0, 0})
	assert.Equal(t, 1, s.RemainingNumTris())
	r := s.Compact()
	assert.Len(t, r.Materials, 1)
}
