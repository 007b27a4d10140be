package mesh

import (
	"errors"
	"fmt"
	"math"

	"github.com/deadsy/sdfx/render"
	"github.com/deadsy/sdfx/sdf"
	v3 "github.com/deadsy/sdfx/vec/v3"

	vmath "github.com/Faultbox/vgeo/pkg/math"
)

// ErrUnknownShape is returned by Shape for unsupported shape names.
var ErrUnknownShape = errors.New("unknown shape")

// SDFOptions controls tessellation of a signed distance field.
type SDFOptions struct {
	// Cells is the marching cubes resolution along the longest axis.
	Cells        int
	NumTexCoords int
	Colors       bool
	// Materials assigns materials by dominant normal axis and sign, modulo
	// Materials, when above 1.
	Materials int
}

// FromSDF tessellates s with uniform marching cubes and welds the triangle
// soup into an indexed mesh with smoothed normals. Triangles that collapse
// during welding are dropped.
func FromSDF(s sdf.SDF3, opts SDFOptions) (*Mesh, error) {
	cells := opts.Cells
	if cells <= 0 {
		cells = 64
	}
	tris := render.ToTriangles(s, render.NewMarchingCubesUniform(cells))
	if len(tris) == 0 {
		return nil, ErrEmpty
	}

	bb := s.BoundingBox()
	lo := vmath.Vec3{X: float32(bb.Min.X), Y: float32(bb.Min.Y), Z: float32(bb.Min.Z)}
	size := vmath.Vec3{X: float32(bb.Max.X - bb.Min.X), Y: float32(bb.Max.Y - bb.Min.Y), Z: float32(bb.Max.Z - bb.Min.Z)}

	// Corners shared by neighboring cubes may differ in the last bits, so
	// welding snaps to a grid far finer than a cell.
	snap := float64(max(size.X, size.Y, size.Z)) * 1e-6 / float64(cells)
	m := &Mesh{NumTexCoords: opts.NumTexCoords, HasColors: opts.Colors}
	weld := make(map[[3]int64]uint32, len(tris))
	for _, tri := range tris {
		var idx [3]uint32
		for j := range 3 {
			p := vmath.Vec3{X: float32(tri[j].X), Y: float32(tri[j].Y), Z: float32(tri[j].Z)}
			key := [3]int64{
				int64(math.Round(tri[j].X / snap)),
				int64(math.Round(tri[j].Y / snap)),
				int64(math.Round(tri[j].Z / snap)),
			}
			i, ok := weld[key]
			if !ok {
				i = uint32(len(m.Verts))
				weld[key] = i
				m.Verts = append(m.Verts, sdfVertex(p, lo, size, opts))
			}
			idx[j] = i
		}
		if idx[0] == idx[1] || idx[1] == idx[2] || idx[0] == idx[2] {
			continue
		}
		m.Indexes = append(m.Indexes, idx[0], idx[1], idx[2])
		m.MaterialIndexes = append(m.MaterialIndexes, axisMaterial(tri.Normal(), opts.Materials))
	}
	if len(m.Indexes) == 0 {
		return nil, ErrEmpty
	}
	SmoothNormals(m)
	return m, nil
}

func sdfVertex(p, lo, size vmath.Vec3, opts SDFOptions) Vertex {
	v := Vertex{Position: p}
	u := p.Sub(lo)
	uv := vmath.Vec2{X: u.X / max(size.X, 1e-6), Y: u.Z / max(size.Z, 1e-6)}
	for c := range opts.NumTexCoords {
		v.UVs[c] = uv.Scale(float32(c + 1))
	}
	if opts.Colors {
		v.Color = [4]float32{uv.X, uv.Y, u.Y / max(size.Y, 1e-6), 1}
	}
	return v
}

func axisMaterial(n v3.Vec, materials int) int32 {
	if materials <= 1 {
		return 0
	}
	ax, ay, az := math.Abs(n.X), math.Abs(n.Y), math.Abs(n.Z)
	axis, sign := 0, n.X
	switch {
	case ay >= ax && ay >= az:
		axis, sign = 1, n.Y
	case az >= ax && az >= ay:
		axis, sign = 2, n.Z
	}
	slot := axis * 2
	if sign < 0 {
		slot++
	}
	return int32(slot % materials)
}

// Shape builds a named procedural solid: "sphere", "box" or "capsule".
// size is the overall extent of the solid.
func Shape(name string, size float64) (sdf.SDF3, error) {
	switch name {
	case "sphere":
		return sdf.Sphere3D(size / 2)
	case "box":
		return sdf.Box3D(v3.Vec{X: size, Y: size, Z: size}, size*0.1)
	case "capsule":
		body, err := sdf.Cylinder3D(size, size/4, size/16)
		if err != nil {
			return nil, err
		}
		cap0, err := sdf.Sphere3D(size / 3)
		if err != nil {
			return nil, err
		}
		top := sdf.Transform3D(cap0, sdf.Translate3d(v3.Vec{Z: size / 2}))
		return sdf.Union3D(body, top), nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownShape, name)
}
