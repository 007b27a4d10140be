package encode

import (
	"context"
	"math"
	"slices"

	"go.uber.org/zap"

	"github.com/Faultbox/vgeo/internal/cluster"
	"github.com/Faultbox/vgeo/internal/logger"
	"github.com/Faultbox/vgeo/internal/parallel"
	"github.com/Faultbox/vgeo/pkg/formats"
	vmath "github.com/Faultbox/vgeo/pkg/math"
)

// Attribute encoding constants.
const (
	NormalQuantizationBits = 9
	MaxTexCoordBits        = 10

	leafUVPrecision  = 1 << 14
	innerUVPrecision = 1 << 12
	smallNumber      = 1e-8
)

// UVInfo holds the per-channel UV decode range and the values needed to
// encode coordinates into it.
type UVInfo struct {
	Range    formats.UVRange
	Delta    vmath.Vec2
	RcpDelta vmath.Vec2
	NU, NV   int32
	BitsU    uint32
	BitsV    uint32
}

// EncodingInfo holds the bit widths and section sizes of one cluster.
type EncodingInfo struct {
	BitsPerIndex     uint32
	BitsPerAttribute uint32
	UVPrec           uint32

	ColorMode uint32
	ColorMin  [4]int32
	ColorBits [4]int32

	UVs [cluster.MaxUVs]UVInfo

	GpuSizes PageSections
}

// ColorMinPacked returns ColorMin as one RGBA8 word.
func (e *EncodingInfo) ColorMinPacked() uint32 {
	return uint32(e.ColorMin[0]) | uint32(e.ColorMin[1])<<8 | uint32(e.ColorMin[2])<<16 | uint32(e.ColorMin[3])<<24
}

// ColorBitsPacked returns ColorBits as four 4-bit fields.
func (e *EncodingInfo) ColorBitsPacked() uint32 {
	return uint32(e.ColorBits[0]) | uint32(e.ColorBits[1])<<4 | uint32(e.ColorBits[2])<<8 | uint32(e.ColorBits[3])<<12
}

// BytesPerAttribute returns the dword-aligned size of one vertex's
// attributes.
func (e *EncodingInfo) BytesPerAttribute() uint32 {
	return (e.BitsPerAttribute + 31) / 32 * 4
}

// ToColor8 converts a linear color to 8 bits per channel without gamma.
func ToColor8(c [4]float32) [4]int32 {
	var out [4]int32
	for i, v := range c {
		out[i] = int32(min(max(int(v*255.999), 0), 255))
	}
	return out
}

// CalculateEncodingInfo computes the encoding of one cluster.
func CalculateEncodingInfo(c *cluster.Cluster) EncodingInfo {
	numVerts := uint32(c.NumVerts)
	check(numVerts > 0, "cluster has vertices")

	var info EncodingInfo
	if numVerts > 1 {
		info.BitsPerIndex = vmath.FloorLog2(numVerts-1) + 1
	}
	info.BitsPerAttribute = 2 * NormalQuantizationBits

	info.ColorMode = formats.ColorModeWhite
	info.ColorMin = [4]int32{255, 255, 255, 255}
	if c.HasColors {
		lo := [4]int32{255, 255, 255, 255}
		var hi [4]int32
		for i := range c.Verts {
			col := ToColor8(c.Verts[i].Color)
			for k := range 4 {
				lo[k] = min(lo[k], col[k])
				hi[k] = max(hi[k], col[k])
			}
		}
		var numBits uint32
		for k := range 4 {
			info.ColorBits[k] = int32(vmath.CeilLog2(uint32(hi[k]-lo[k]) + 1))
			numBits += uint32(info.ColorBits[k])
		}
		info.BitsPerAttribute += numBits
		info.ColorMin = lo
		switch {
		case numBits > 0:
			info.ColorMode = formats.ColorModeVariable
		case lo != [4]int32{255, 255, 255, 255}:
			info.ColorMode = formats.ColorModeConstant
		}
	}

	precision := float32(leafUVPrecision)
	if !c.IsLeaf() {
		precision = innerUVPrecision
	}
	for uv := range c.NumTexCoords {
		info.UVs[uv] = uvInfo(c, uv, precision)
		u := &info.UVs[uv]
		info.UVPrec |= (u.BitsV<<4 | u.BitsU) << (uv * 8)
		info.BitsPerAttribute += u.BitsU + u.BitsV
	}

	info.GpuSizes = PageSections{
		Cluster:       formats.PackedClusterSize,
		MaterialTable: MaterialTableSize(c) * 4,
		DecodeInfo:    uint32(c.NumTexCoords) * formats.UVRangeSize,
		Index:         indexDataSize(c),
		Position:      (numVerts*3*PositionQuantizationBits + 31) / 32 * 4,
		// Attributes are flushed to a dword per vertex.
		Attribute: numVerts * info.BytesPerAttribute(),
	}
	return info
}

// indexDataSize returns the dword-aligned size of a cluster's index stream:
// strip references when the cluster was stripified, otherwise one byte per
// corner.
func indexDataSize(c *cluster.Cluster) uint32 {
	if isStripified(c) {
		return align4(uint32(len(c.StripIndexData)))
	}
	return align4(uint32(c.NumTris * 3))
}

// isStripified reports whether Stripify produced c's triangle order. Every
// stripified cluster has at least one strip start.
func isStripified(c *cluster.Cluster) bool {
	return c.StripDesc.Bitmasks[0][stripStart] != 0
}

func align4(n uint32) uint32 {
	return (n + 3) &^ 3
}

// uvInfo fits a decode range to one UV channel, leaving out the largest
// gap between sorted coordinates so that atlas seams do not cost bits.
func uvInfo(c *cluster.Cluster, uv int, precision float32) UVInfo {
	n := c.NumVerts
	us := make([]float32, n)
	vs := make([]float32, n)
	for i := range c.Verts {
		us[i] = c.Verts[i].UVs[uv].X
		vs[i] = c.Verts[i].UVs[uv].Y
	}
	slices.Sort(us)
	slices.Sort(vs)

	gapStart := vmath.Vec2{X: us[0], Y: vs[0]}
	gapEnd := gapStart
	for i := range n - 1 {
		if us[i+1]-us[i] > gapEnd.X-gapStart.X {
			gapStart.X, gapEnd.X = us[i], us[i+1]
		}
		if vs[i+1]-vs[i] > gapEnd.Y-gapStart.Y {
			gapStart.Y, gapEnd.Y = vs[i], vs[i+1]
		}
	}

	uvMin := vmath.Vec2{X: us[0], Y: vs[0]}
	uvMax := vmath.Vec2{X: us[n-1], Y: vs[n-1]}
	delta := uvMax.Sub(uvMin)

	var rcp vmath.Vec2
	if delta.X > smallNumber {
		rcp.X = 1 / delta.X
	}
	if delta.Y > smallNumber {
		rcp.Y = 1 / delta.Y
	}

	nonGap := delta.Sub(gapEnd.Sub(gapStart)).Max(vmath.Vec2{})
	normGapStart := gapStart.Sub(uvMin).Mul(rcp)
	normGapEnd := gapEnd.Sub(uvMin).Mul(rcp)
	normNonGap := nonGap.Mul(rcp)

	info := UVInfo{Delta: delta, RcpDelta: rcp}
	info.BitsU = min(vmath.CeilLog2(uint32(math.Ceil(float64(nonGap.X*precision)))), MaxTexCoordBits)
	info.BitsV = min(vmath.CeilLog2(uint32(math.Ceil(float64(nonGap.Y*precision)))), MaxTexCoordBits)

	maxU := int32(1)<<info.BitsU - 1
	maxV := int32(1)<<info.BitsV - 1
	info.NU = uvSteps(normNonGap.X, maxU)
	info.NV = uvSteps(normNonGap.Y, maxV)

	gapStartU, gapLenU := uvGap(info.NU, maxU, normGapStart.X, normGapEnd.X)
	gapStartV, gapLenV := uvGap(info.NV, maxV, normGapStart.Y, normGapEnd.Y)

	info.Range = formats.UVRange{
		Min:       [2]float32{uvMin.X, uvMin.Y},
		GapStart:  [2]int32{gapStartU, gapStartV},
		GapLength: [2]int32{gapLenU, gapLenV},
	}
	if info.NU > 0 {
		info.Range.Scale[0] = delta.X / float32(info.NU)
	}
	if info.NV > 0 {
		info.Range.Scale[1] = delta.Y / float32(info.NV)
	}
	return info
}

// uvSteps returns the number of quantization steps spanning the full range
// so that the non-gap part fits in maxValue.
func uvSteps(normNonGap float32, maxValue int32) int32 {
	var n float32
	if normNonGap > smallNumber {
		n = float32(maxValue-2) / normNonGap
	}
	return int32(min(max(n, float32(maxValue)), 0xFFFF))
}

func uvGap(steps, maxValue int32, normStart, normEnd float32) (start, length int32) {
	if steps <= maxValue {
		return maxValue + 1, 0
	}
	start = int32(normStart*float32(steps)+0.5) + 1
	end := int32(normEnd*float32(steps) + 0.5)
	return start, max(end-start, 0)
}

// EncodeUV quantizes one coordinate pair into its decode range.
func (u *UVInfo) EncodeUV(uv vmath.Vec2) uint32 {
	norm := uv.Sub(vmath.Vec2{X: u.Range.Min[0], Y: u.Range.Min[1]}).Mul(u.RcpDelta).Clamp(0, 1)
	x := int32(norm.X*float32(u.NU) + 0.5)
	y := int32(norm.Y*float32(u.NV) + 0.5)
	if x >= u.Range.GapStart[0] {
		check(x >= u.Range.GapStart[0]+u.Range.GapLength[0], "u outside gap")
		x -= u.Range.GapLength[0]
	}
	if y >= u.Range.GapStart[1] {
		check(y >= u.Range.GapStart[1]+u.Range.GapLength[1], "v outside gap")
		y -= u.Range.GapLength[1]
	}
	check(x >= 0 && x <= int32(1)<<u.BitsU-1, "u inside range")
	check(y >= 0 && y <= int32(1)<<u.BitsV-1, "v inside range")
	return uint32(y)<<u.BitsU | uint32(x)
}

// CalculateEncodingInfos computes the encoding of every cluster.
func CalculateEncodingInfos(ctx context.Context, clusters []*cluster.Cluster, workers int) ([]EncodingInfo, error) {
	infos := make([]EncodingInfo, len(clusters))
	err := parallel.For(ctx, len(clusters), workers, func(i int) error {
		infos[i] = CalculateEncodingInfo(clusters[i])
		return nil
	})
	if err != nil {
		return nil, err
	}

	var total PageSections
	for i := range infos {
		total = total.Add(infos[i].GpuSizes)
	}
	logger.Debug("encoding info",
		zap.Int("clusters", len(infos)),
		zap.Uint32("index_bytes", total.Index),
		zap.Uint32("position_bytes", total.Position),
		zap.Uint32("attribute_bytes", total.Attribute))
	return infos, nil
}

// octahedronEncode maps a direction onto the [-1, 1] octahedron square.
func octahedronEncode(n vmath.Vec3) vmath.Vec2 {
	sum := abs32(n.X) + abs32(n.Y) + abs32(n.Z)
	if sum == 0 {
		logger.Debug("zero-length normal replaced with +Z")
		return vmath.Vec2{}
	}
	n = n.Scale(1 / sum)
	if n.Z < 0 {
		x, y := n.X, n.Y
		n.X = signNotZero(x) * (1 - abs32(y))
		n.Y = signNotZero(y) * (1 - abs32(x))
	}
	return vmath.Vec2{X: n.X, Y: n.Y}
}

// octahedronDecode is the inverse of octahedronEncode on quantized values.
func octahedronDecode(x, y int32, bits uint) vmath.Vec3 {
	maxValue := float32(int32(1)<<bits - 1)
	fx := float32(x)*(2/maxValue) - 1
	fy := float32(y)*(2/maxValue) - 1
	fz := 1 - abs32(fx) - abs32(fy)
	t := min(max(-fz, 0), 1)
	if fx >= 0 {
		fx -= t
	} else {
		fx += t
	}
	if fy >= 0 {
		fy -= t
	} else {
		fy += t
	}
	return vmath.Vec3{X: fx, Y: fy, Z: fz}.Normalize()
}

// OctahedronEncodePrecise quantizes a normal, choosing among the four grid
// points around the direct quantization the one closest in angle.
func OctahedronEncodePrecise(n vmath.Vec3, bits uint) (int32, int32) {
	maxValue := int32(1)<<bits - 1
	coord := octahedronEncode(n)
	if coord == (vmath.Vec2{}) && n.LengthSquared() == 0 {
		n = vmath.Vec3{Z: 1}
	}

	scale := 0.5 * float32(maxValue)
	nx := min(max(int32(coord.X*scale+scale), 0), maxValue)
	ny := min(max(int32(coord.Y*scale+scale), 0), maxValue)

	minErr := float32(1)
	var bestX, bestY int32
	for oy := range int32(2) {
		for ox := range int32(2) {
			tx, ty := nx+ox, ny+oy
			if tx > maxValue || ty > maxValue {
				continue
			}
			if e := abs32(1 - octahedronDecode(tx, ty, bits).Dot(n)); e < minErr {
				minErr, bestX, bestY = e, tx, ty
			}
		}
	}
	return bestX, bestY
}

// PackNormal packs an octahedral normal as two fields, X low.
func PackNormal(n vmath.Vec3, bits uint) uint32 {
	x, y := OctahedronEncodePrecise(n, bits)
	return uint32(y)<<bits | uint32(x)
}

func abs32(f float32) float32 {
	return float32(math.Abs(float64(f)))
}

func signNotZero(f float32) float32 {
	if f >= 0 {
		return 1
	}
	return -1
}
