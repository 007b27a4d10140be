package math

import (
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFloat16KnownValues(t *testing.T) {
	cases := []struct {
		in   float32
		want uint16
	}{
		{0, 0x0000},
		{1, 0x3c00},
		{-2, 0xc000},
		{0.5, 0x3800},
		{65504, 0x7bff},
		{1e10, 0x7bff},
		{-1, 0xbc00},
	}
	for _, c := range cases {
		assert.Equalf(t, c.want, Float16(c.in), "Float16(%v)", c.in)
	}
}

func TestFloat16RoundTrip(t *testing.T) {
	for _, f := range []float32{0.25, 3.140625, 1024, -0.001, 6.1035156e-05, 5.9604645e-06} {
		got := Float16ToFloat32(Float16(f))
		assert.InEpsilonf(t, f, got, 1e-3, "round trip of %v", f)
	}
}

func TestMortonOrdering(t *testing.T) {
	assert.Equal(t, uint32(0), Morton3(0, 0, 0))
	assert.Equal(t, uint32(1), Morton3(1, 0, 0))
	assert.Equal(t, uint32(2), Morton3(0, 1, 0))
	assert.Equal(t, uint32(4), Morton3(0, 0, 1))
	assert.Equal(t, uint32(7), Morton3(1, 1, 1))
	assert.Equal(t, uint32(0x3fffffff), Morton3(1023, 1023, 1023))

	// Points inside one octant sort before any point of the next octant.
	codes := []uint32{Morton3(600, 0, 0), Morton3(10, 10, 10), Morton3(0, 600, 0)}
	sort.Slice(codes, func(i, j int) bool { return codes[i] < codes[j] })
	require.Equal(t, Morton3(10, 10, 10), codes[0])
}

func TestLog2(t *testing.T) {
	assert.Equal(t, uint32(0), FloorLog2(1))
	assert.Equal(t, uint32(7), FloorLog2(255))
	assert.Equal(t, uint32(8), FloorLog2(256))
	assert.Equal(t, uint32(0), CeilLog2(1))
	assert.Equal(t, uint32(8), CeilLog2(256))
	assert.Equal(t, uint32(9), CeilLog2(257))
}

func TestSphereFromPointsContainsAll(t *testing.T) {
	points := []Vec3{{0, 0, 0}, {10, 0, 0}, {0, 7, 0}, {3, 3, 9}, {-4, 2, 1}}
	s := SphereFromPoints(points)
	for _, p := range points {
		assert.LessOrEqual(t, p.Distance(s.Center), s.Radius*1.0001)
	}
}

func TestSphereUnion(t *testing.T) {
	a := Sphere{Center: Vec3{0, 0, 0}, Radius: 1}
	b := Sphere{Center: Vec3{4, 0, 0}, Radius: 1}
	u := a.Union(b)
	assert.InDelta(t, 3, u.Radius, 1e-5)
	assert.InDelta(t, 2, u.Center.X, 1e-5)
	assert.True(t, u.Contains(a, 1e-4))
	assert.True(t, u.Contains(b, 1e-4))

	inner := Sphere{Center: Vec3{0.1, 0, 0}, Radius: 0.2}
	assert.Equal(t, a, a.Union(inner))
}
