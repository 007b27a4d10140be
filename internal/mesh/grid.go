package mesh

import (
	vmath "github.com/Faultbox/vgeo/pkg/math"
)

// GridOptions describes a planar grid in the XZ plane.
type GridOptions struct {
	// Width and Depth are quad counts; the grid has 2*Width*Depth triangles.
	Width, Depth int
	TileSize     float32
	// Materials cycles material indexes per quad when above 1.
	Materials    int
	NumTexCoords int
	Colors       bool
	// Height optionally displaces each grid corner along +Y.
	Height func(x, z int) float32
}

// Grid builds a shared-vertex grid mesh. Quads are split along the
// corner-to-corner diagonal with counter-clockwise winding seen from +Y.
func Grid(opts GridOptions) *Mesh {
	w, d := opts.Width, opts.Depth
	size := opts.TileSize
	if size == 0 {
		size = 1
	}

	verts := make([]Vertex, 0, (w+1)*(d+1))
	for z := range d + 1 {
		for x := range w + 1 {
			var h float32
			if opts.Height != nil {
				h = opts.Height(x, z)
			}
			v := Vertex{
				Position: vmath.Vec3{X: float32(x) * size, Y: h, Z: float32(z) * size},
				Normal:   vmath.Vec3{Y: 1},
			}
			uv := vmath.Vec2{X: float32(x) / float32(max(w, 1)), Y: float32(z) / float32(max(d, 1))}
			for c := range opts.NumTexCoords {
				v.UVs[c] = uv.Scale(float32(c + 1))
			}
			if opts.Colors {
				v.Color = [4]float32{uv.X, uv.Y, 0.5, 1}
			}
			verts = append(verts, v)
		}
	}

	indexes := make([]uint32, 0, w*d*6)
	materials := make([]int32, 0, w*d*2)
	row := uint32(w + 1)
	for z := range d {
		for x := range w {
			i0 := uint32(z)*row + uint32(x)
			i1 := i0 + 1
			i2 := i0 + row
			i3 := i2 + 1
			indexes = append(indexes,
				i0, i2, i1,
				i1, i2, i3,
			)
			var mat int32
			if opts.Materials > 1 {
				mat = int32((z*w + x) % opts.Materials)
			}
			materials = append(materials, mat, mat)
		}
	}

	m := &Mesh{
		Verts:           verts,
		Indexes:         indexes,
		MaterialIndexes: materials,
		NumTexCoords:    opts.NumTexCoords,
		HasColors:       opts.Colors,
	}
	if opts.Height != nil {
		SmoothNormals(m)
	}
	return m
}

// SmoothNormals recomputes vertex normals as area-weighted face normal sums.
// Vertices with no area fall back to +Y.
func SmoothNormals(m *Mesh) {
	acc := make([]vmath.Vec3, len(m.Verts))
	for t := 0; t+2 < len(m.Indexes); t += 3 {
		a, b, c := m.Indexes[t], m.Indexes[t+1], m.Indexes[t+2]
		p0, p1, p2 := m.Verts[a].Position, m.Verts[b].Position, m.Verts[c].Position
		n := p1.Sub(p0).Cross(p2.Sub(p0))
		acc[a] = acc[a].Add(n)
		acc[b] = acc[b].Add(n)
		acc[c] = acc[c].Add(n)
	}
	for i := range m.Verts {
		if acc[i].LengthSquared() == 0 {
			m.Verts[i].Normal = vmath.Vec3{Y: 1}
			continue
		}
		m.Verts[i].Normal = acc[i].Normalize()
	}
}
