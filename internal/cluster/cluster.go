// Package cluster implements the fixed-capacity triangle clusters the DAG is
// built from: construction from a mesh range, merging, splitting and
// simplification, plus the edge matching that finds shared boundaries.
package cluster

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	"github.com/cespare/xxhash/v2"

	"github.com/Faultbox/vgeo/internal/mesh"
	vmath "github.com/Faultbox/vgeo/pkg/math"
)

// Capacity limits.
const (
	MaxTriangles = 128
	MaxVertices  = 256
	MaxMaterials = mesh.MaxMaterials
	MaxUVs       = mesh.MaxUVs

	// InvalidGroup marks a cluster with no generating group (a leaf).
	InvalidGroup = -1
)

// Construction errors.
var (
	ErrDegenerateCluster = errors.New("degenerate cluster")
	ErrEmptySimplify     = errors.New("simplification removed every triangle")
	ErrCapacity          = errors.New("cluster capacity exceeded")
)

// Vertex is a cluster vertex.
type Vertex = mesh.Vertex

// MaterialRange is a contiguous run of triangles sharing one material.
type MaterialRange struct {
	RangeStart    uint32
	RangeLength   uint32
	MaterialIndex uint32
}

// StripDesc holds the per-32-triangle strip bitmasks and the per-dword
// prefix counts of new and referenced vertices.
type StripDesc struct {
	// Bitmasks[dword] is {Start, Left, Ref}.
	Bitmasks [4][3]uint32
	// Three 10-bit prefix counts, for dwords 1 to 3.
	NumPrevNewVerticesBeforeDwords uint32
	NumPrevRefVerticesBeforeDwords uint32
}

// Cluster is a bounded batch of triangles with private vertices.
type Cluster struct {
	Verts           []Vertex
	Indexes         []uint32
	MaterialIndexes []int32
	// ExternalEdges[corner] counts adjacent triangles outside the cluster
	// across the edge starting at that corner.
	ExternalEdges []int8
	NumTris       int
	NumVerts      int

	NumTexCoords int
	HasColors    bool

	Bounds       vmath.Bounds
	SphereBounds vmath.Sphere
	LODBounds    vmath.Sphere
	LODError     float32
	EdgeLength   float32
	SurfaceArea  float32

	GUID                 uint64
	MipLevel             int
	GroupIndex           int
	GroupPartIndex       int
	GeneratingGroupIndex int

	MaterialRanges []MaterialRange

	QuantizedPosStart  [3]uint32
	QuantizedPosShift  uint32
	QuantizedPositions [][3]uint32
	MeshBoundsMin      vmath.Vec3
	MeshBoundsDelta    vmath.Vec3

	StripDesc      StripDesc
	StripIndexData []byte
}

func newCluster(numTexCoords int, hasColors bool) *Cluster {
	return &Cluster{
		NumTexCoords:         numTexCoords,
		HasColors:            hasColors,
		GroupIndex:           InvalidGroup,
		GroupPartIndex:       -1,
		GeneratingGroupIndex: InvalidGroup,
	}
}

// Position returns the position of vertex i.
func (c *Cluster) Position(i uint32) vmath.Vec3 {
	return c.Verts[i].Position
}

// IsLeaf reports whether the cluster came straight from the source mesh.
func (c *Cluster) IsLeaf() bool {
	return c.GeneratingGroupIndex == InvalidGroup
}

// Validate checks the index invariants.
func (c *Cluster) Validate() error {
	if c.NumTris*3 != len(c.Indexes) || len(c.MaterialIndexes) != c.NumTris || len(c.ExternalEdges) != len(c.Indexes) {
		return fmt.Errorf("%w: %d triangles, %d indexes, %d materials", mesh.ErrMalformedIndices, c.NumTris, len(c.Indexes), len(c.MaterialIndexes))
	}
	if c.NumVerts != len(c.Verts) {
		return fmt.Errorf("%w: %d vertices recorded, %d present", mesh.ErrMalformedIndices, c.NumVerts, len(c.Verts))
	}
	for i, idx := range c.Indexes {
		if int(idx) >= c.NumVerts {
			return fmt.Errorf("%w: index %d at %d, %d vertices", mesh.ErrMalformedIndices, idx, i, c.NumVerts)
		}
	}
	return nil
}

// Bound computes bounds, area, edge length and the bounding sphere. LOD
// bounds start equal to the sphere.
func (c *Cluster) Bound() {
	b := vmath.EmptyBounds()
	points := make([]vmath.Vec3, len(c.Verts))
	for i := range c.Verts {
		points[i] = c.Verts[i].Position
		b = b.AddPoint(points[i])
	}
	c.Bounds = b

	var area, maxEdge float32
	for t := range c.NumTris {
		p0 := c.Position(c.Indexes[t*3])
		p1 := c.Position(c.Indexes[t*3+1])
		p2 := c.Position(c.Indexes[t*3+2])
		area += 0.5 * p1.Sub(p0).Cross(p2.Sub(p0)).Length()
		maxEdge = max(maxEdge, p0.Distance(p1), p1.Distance(p2), p2.Distance(p0))
	}
	c.SurfaceArea = area
	c.EdgeLength = maxEdge
	c.SphereBounds = vmath.SphereFromPoints(points)
	c.LODBounds = c.SphereBounds
}

// totalEdgeLength sums the three edge lengths of every triangle.
func (c *Cluster) totalEdgeLength() float64 {
	var sum float64
	for t := range c.NumTris {
		for k := range 3 {
			a := c.Position(c.Indexes[t*3+k])
			b := c.Position(c.Indexes[t*3+cycle3(k)])
			sum += float64(a.Distance(b))
		}
	}
	return sum
}

// checkDegenerate rejects clusters whose edges sum to almost nothing.
func (c *Cluster) checkDegenerate() error {
	if l := c.totalEdgeLength(); l < 1e-8 || math.IsNaN(l) {
		return fmt.Errorf("%w: total edge length %g", ErrDegenerateCluster, l)
	}
	return nil
}

// ComputeGUID hashes positions and indexes.
func (c *Cluster) ComputeGUID() {
	d := xxhash.New()
	var buf [12]byte
	for i := range c.Verts {
		p := c.Verts[i].Position
		binary.LittleEndian.PutUint32(buf[0:], math.Float32bits(p.X))
		binary.LittleEndian.PutUint32(buf[4:], math.Float32bits(p.Y))
		binary.LittleEndian.PutUint32(buf[8:], math.Float32bits(p.Z))
		_, _ = d.Write(buf[:])
	}
	for _, idx := range c.Indexes {
		binary.LittleEndian.PutUint32(buf[0:], idx)
		_, _ = d.Write(buf[:4])
	}
	c.GUID = d.Sum64()
}

// cycle3 returns the next corner of the same triangle.
func cycle3(corner int) int {
	if corner%3 == 2 {
		return corner - 2
	}
	return corner + 1
}

// vertexHash hashes the live channels of v.
func vertexHash(v *Vertex, numTexCoords int, hasColors bool) uint64 {
	var buf [4 * (6 + 4 + 2*MaxUVs)]byte
	n := 0
	put := func(f float32) {
		binary.LittleEndian.PutUint32(buf[n:], math.Float32bits(f))
		n += 4
	}
	put(v.Position.X)
	put(v.Position.Y)
	put(v.Position.Z)
	put(v.Normal.X)
	put(v.Normal.Y)
	put(v.Normal.Z)
	if hasColors {
		for _, f := range v.Color {
			put(f)
		}
	}
	for i := range numTexCoords {
		put(v.UVs[i].X)
		put(v.UVs[i].Y)
	}
	return xxhash.Sum64(buf[:n])
}

// vertexEqual compares the live channels of a and b.
func vertexEqual(a, b *Vertex, numTexCoords int, hasColors bool) bool {
	if a.Position != b.Position || a.Normal != b.Normal {
		return false
	}
	if hasColors && a.Color != b.Color {
		return false
	}
	for i := range numTexCoords {
		if a.UVs[i] != b.UVs[i] {
			return false
		}
	}
	return true
}

// VertexHash hashes the live channels of vertex i.
func (c *Cluster) VertexHash(i int) uint64 {
	return vertexHash(&c.Verts[i], c.NumTexCoords, c.HasColors)
}

// VertexEqual compares vertex i of c with vertex j of o over the live
// channels of c.
func (c *Cluster) VertexEqual(i int, o *Cluster, j int) bool {
	return vertexEqual(&c.Verts[i], &o.Verts[j], c.NumTexCoords, c.HasColors)
}

func check(ok bool, msg string) {
	if !ok {
		panic("cluster: " + msg)
	}
}
