package simplify

import "gonum.org/v1/gonum/spatial/r3"

// quadric is a symmetric 4x4 plane quadric plus the area it accumulated.
type quadric struct {
	xx, xy, xz, xw float64
	yy, yz, yw     float64
	zz, zw         float64
	ww             float64
	area           float64
}

// addPlane adds weight * (n.p + d)^2. n must be unit length.
func (q *quadric) addPlane(n r3.Vec, d, weight float64) {
	q.xx += weight * n.X * n.X
	q.xy += weight * n.X * n.Y
	q.xz += weight * n.X * n.Z
	q.xw += weight * n.X * d
	q.yy += weight * n.Y * n.Y
	q.yz += weight * n.Y * n.Z
	q.yw += weight * n.Y * d
	q.zz += weight * n.Z * n.Z
	q.zw += weight * n.Z * d
	q.ww += weight * d * d
	q.area += weight
}

func (q *quadric) add(o *quadric) {
	q.xx += o.xx
	q.xy += o.xy
	q.xz += o.xz
	q.xw += o.xw
	q.yy += o.yy
	q.yz += o.yz
	q.yw += o.yw
	q.zz += o.zz
	q.zw += o.zw
	q.ww += o.ww
	q.area += o.area
}

// eval returns the weighted squared plane distance sum at p.
func (q *quadric) eval(p r3.Vec) float64 {
	x, y, z := p.X, p.Y, p.Z
	v := q.xx*x*x + 2*q.xy*x*y + 2*q.xz*x*z + 2*q.xw*x +
		q.yy*y*y + 2*q.yz*y*z + 2*q.yw*y +
		q.zz*z*z + 2*q.zw*z +
		q.ww
	return max(v, 0)
}
