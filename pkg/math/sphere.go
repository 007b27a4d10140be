package math

// Sphere is a bounding sphere.
type Sphere struct {
	Center Vec3
	Radius float32
}

// SphereFromPoints builds a bounding sphere with Ritter's method.
// The result always contains every point.
func SphereFromPoints(points []Vec3) Sphere {
	if len(points) == 0 {
		return Sphere{}
	}

	// Farthest point from the first point, then farthest from that one.
	a := farthest(points, points[0])
	b := farthest(points, a)

	s := Sphere{Center: a.Add(b).Scale(0.5), Radius: a.Distance(b) * 0.5}
	for _, p := range points {
		d := p.Distance(s.Center)
		if d > s.Radius {
			newRadius := (s.Radius + d) * 0.5
			s.Center = s.Center.Add(p.Sub(s.Center).Scale((newRadius - s.Radius) / d))
			s.Radius = newRadius
		}
	}

	// Float slack from the incremental updates.
	for _, p := range points {
		if d := p.Distance(s.Center); d > s.Radius {
			s.Radius = d
		}
	}
	return s
}

func farthest(points []Vec3, from Vec3) Vec3 {
	best := points[0]
	bestDist := float32(-1)
	for _, p := range points {
		if d := p.Sub(from).LengthSquared(); d > bestDist {
			best, bestDist = p, d
		}
	}
	return best
}

// Union returns a sphere enclosing both s and other.
func (s Sphere) Union(other Sphere) Sphere {
	delta := other.Center.Sub(s.Center)
	dist := delta.Length()

	if dist+other.Radius <= s.Radius {
		return s
	}
	if dist+s.Radius <= other.Radius {
		return other
	}

	radius := (dist + s.Radius + other.Radius) * 0.5
	center := s.Center
	if dist > 0 {
		center = s.Center.Add(delta.Scale((radius - s.Radius) / dist))
	}
	return Sphere{Center: center, Radius: radius}
}

// SphereFromSpheres returns a sphere enclosing all given spheres.
func SphereFromSpheres(spheres []Sphere) Sphere {
	if len(spheres) == 0 {
		return Sphere{}
	}
	s := spheres[0]
	for _, o := range spheres[1:] {
		s = s.Union(o)
	}
	return s
}

// Contains reports whether other lies inside s within tolerance.
func (s Sphere) Contains(other Sphere, tolerance float32) bool {
	return s.Center.Distance(other.Center)+other.Radius <= s.Radius+tolerance
}
