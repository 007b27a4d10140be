package cluster

import (
	"math"

	"go.uber.org/zap"

	"github.com/Faultbox/vgeo/internal/logger"
	"github.com/Faultbox/vgeo/internal/simplify"
	vmath "github.com/Faultbox/vgeo/pkg/math"
)

// Weights controls attribute importance during simplification.
type Weights struct {
	Normal float32
	Color  float32
	// MinUVSize floors the average UV edge length used for UV weights.
	MinUVSize float32
	// TriangleSize is the edge length positions are rescaled toward.
	TriangleSize float32
}

// DefaultWeights returns the standard attribute weights.
func DefaultWeights() Weights {
	return Weights{
		Normal:       1,
		Color:        0.0625,
		MinUVSize:    1.0 / (1 << 14),
		TriangleSize: 0.25,
	}
}

// Simplify reduces the cluster with DefaultWeights.
func (c *Cluster) Simplify(targetNumTris int, targetError float32, limitNumTris int) (float32, error) {
	return c.SimplifyWeighted(DefaultWeights(), targetNumTris, targetError, limitNumTris)
}

// SimplifyWeighted reduces the cluster toward targetNumTris triangles, or
// further while the error stays within targetError, never below
// limitNumTris. Positions on external edges are locked. It returns the
// largest geometric error introduced, in mesh units.
//
// A cluster already at or below the target with no error allowance is
// left untouched and reports zero.
func (c *Cluster) SimplifyWeighted(w Weights, targetNumTris int, targetError float32, limitNumTris int) (float32, error) {
	if c.NumTris <= targetNumTris && targetError == 0 {
		return 0, nil
	}
	if err := c.checkDegenerate(); err != nil {
		return 0, err
	}

	// Power of two rescale so positions round trip exactly.
	scale := 1.0
	if c.NumTris > 0 && c.SurfaceArea > 0 {
		size := math.Sqrt(float64(c.SurfaceArea) / float64(c.NumTris))
		_, exp := math.Frexp(float64(w.TriangleSize) / size)
		scale = math.Ldexp(1, exp)
	}
	fscale := float32(scale)

	numAttr := c.numAttributes()
	weights := make([]float32, 0, numAttr)
	weights = append(weights, w.Normal, w.Normal, w.Normal)
	if c.HasColors {
		weights = append(weights, w.Color, w.Color, w.Color, w.Color)
	}
	for uv := range c.NumTexCoords {
		uw := c.uvWeight(uv, w.MinUVSize)
		weights = append(weights, uw, uw)
	}

	positions := make([]vmath.Vec3, c.NumVerts)
	attributes := make([]float32, 0, c.NumVerts*numAttr)
	for i := range c.Verts {
		v := &c.Verts[i]
		positions[i] = v.Position.Scale(fscale)
		attributes = append(attributes, v.Normal.X, v.Normal.Y, v.Normal.Z)
		if c.HasColors {
			attributes = append(attributes, v.Color[:]...)
		}
		for uv := range c.NumTexCoords {
			attributes = append(attributes, v.UVs[uv].X, v.UVs[uv].Y)
		}
	}

	s := simplify.New(positions, attributes, numAttr, c.Indexes, c.MaterialIndexes)
	s.SetAttributeWeights(weights)

	external := make(map[[2]vmath.Vec3]int8)
	for e, count := range c.ExternalEdges {
		if count == 0 {
			continue
		}
		p0 := positions[c.Indexes[e]]
		p1 := positions[c.Indexes[cycle3(e)]]
		s.LockPosition(p0)
		s.LockPosition(p1)
		external[[2]vmath.Vec3{p0, p1}] = count
	}

	maxErr := s.Simplify(targetNumTris, targetError*fscale, limitNumTris)
	r := s.Compact()
	if len(r.Indexes) == 0 || len(r.Positions) == 0 {
		return 0, ErrEmptySimplify
	}

	verts := make([]Vertex, len(r.Positions))
	for i := range verts {
		v := &verts[i]
		v.Position = r.Positions[i].Scale(1 / fscale)
		a := r.Attributes[i*numAttr : (i+1)*numAttr]
		v.Normal = vmath.Vec3{X: a[0], Y: a[1], Z: a[2]}.Normalize()
		if !(v.Normal.LengthSquared() > 0) {
			v.Normal = vmath.Vec3{Z: 1}
		}
		a = a[3:]
		if c.HasColors {
			copy(v.Color[:], a[:4])
			a = a[4:]
		}
		for uv := range c.NumTexCoords {
			v.UVs[uv] = vmath.Vec2{X: a[uv*2], Y: a[uv*2+1]}
		}
	}

	c.Verts = verts
	c.Indexes = r.Indexes
	c.MaterialIndexes = r.Materials
	c.NumVerts = len(verts)
	c.NumTris = len(r.Indexes) / 3
	c.ExternalEdges = make([]int8, len(c.Indexes))
	for e := range c.Indexes {
		p0 := r.Positions[c.Indexes[e]]
		p1 := r.Positions[c.Indexes[cycle3(e)]]
		c.ExternalEdges[e] = external[[2]vmath.Vec3{p0, p1}]
	}

	c.Bound()
	c.ComputeGUID()
	return maxErr / fscale, nil
}

func (c *Cluster) numAttributes() int {
	n := 3 + 2*c.NumTexCoords
	if c.HasColors {
		n += 4
	}
	return n
}

// uvWeight is inversely proportional to the average UV edge length of a
// channel, floored at minUVSize.
func (c *Cluster) uvWeight(uv int, minUVSize float32) float32 {
	var area float64
	for t := range c.NumTris {
		a := c.Verts[c.Indexes[t*3]].UVs[uv]
		b := c.Verts[c.Indexes[t*3+1]].UVs[uv]
		d := c.Verts[c.Indexes[t*3+2]].UVs[uv]
		area += math.Abs(float64(b.Sub(a).Cross(d.Sub(a)))) * 0.5
	}
	size := float32(math.Sqrt(area / float64(max(c.NumTris, 1))))
	if size < minUVSize {
		logger.Debug("clamping degenerate UV area",
			zap.Int("channel", uv), zap.Float32("size", size), zap.Float32("min", minUVSize))
		size = minUVSize
	}
	return 1 / (128 * size)
}
