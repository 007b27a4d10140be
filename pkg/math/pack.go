package math

import (
	"math"
	"math/bits"
)

// Float16 converts f to IEEE half precision bits, rounding to nearest even.
// Values too large for a half are clamped to the largest finite half.
func Float16(f float32) uint16 {
	b := math.Float32bits(f)
	sign := uint16(b>>16) & 0x8000
	mant := b & 0x7fffff
	exp := int((b>>23)&0xff) - 127 + 15

	if b&0x7fffffff >= 0x7f800000 {
		if mant != 0 {
			return sign | 0x7e00
		}
		return sign | 0x7bff
	}

	if exp >= 31 {
		return sign | 0x7bff
	}

	if exp <= 0 {
		if exp < -10 {
			return sign
		}
		mant |= 0x800000
		shift := uint(14 - exp)
		half := mant >> shift
		roundBit := uint32(1) << (shift - 1)
		if mant&roundBit != 0 && (mant&(roundBit-1) != 0 || half&1 != 0) {
			half++
		}
		return sign | uint16(half)
	}

	half := uint32(exp)<<10 | mant>>13
	if mant&0x1000 != 0 && (mant&0xfff != 0 || half&1 != 0) {
		half++
	}
	if half >= 0x7c00 {
		half = 0x7bff
	}
	return sign | uint16(half)
}

// Float16ToFloat32 expands half precision bits to a float32.
func Float16ToFloat32(h uint16) float32 {
	sign := uint32(h&0x8000) << 16
	exp := uint32(h>>10) & 0x1f
	mant := uint32(h & 0x3ff)

	switch {
	case exp == 0 && mant == 0:
		return math.Float32frombits(sign)
	case exp == 0:
		// Subnormal: renormalize.
		shift := uint32(bits.LeadingZeros32(mant)) - 21
		mant = (mant << shift) & 0x3ff
		exp = 1 - shift
		return math.Float32frombits(sign | (exp+127-15)<<23 | mant<<13)
	case exp == 31:
		return math.Float32frombits(sign | 0x7f800000 | mant<<13)
	}
	return math.Float32frombits(sign | (exp+127-15)<<23 | mant<<13)
}

// MortonCode3 spreads the low 10 bits of v so that two zero bits follow each bit.
func MortonCode3(v uint32) uint32 {
	v &= 0x3ff
	v = (v | (v << 16)) & 0x030000FF
	v = (v | (v << 8)) & 0x0300F00F
	v = (v | (v << 4)) & 0x030C30C3
	v = (v | (v << 2)) & 0x09249249
	return v
}

// Morton3 interleaves three 10-bit coordinates, X in the lowest bit.
func Morton3(x, y, z uint32) uint32 {
	return MortonCode3(z)<<2 | MortonCode3(y)<<1 | MortonCode3(x)
}

// FloorLog2 returns floor(log2(v)), with FloorLog2(0) == 0.
func FloorLog2(v uint32) uint32 {
	if v == 0 {
		return 0
	}
	return uint32(31 - bits.LeadingZeros32(v))
}

// CeilLog2 returns ceil(log2(v)), with CeilLog2(0) == CeilLog2(1) == 0.
func CeilLog2(v uint32) uint32 {
	if v <= 1 {
		return 0
	}
	return FloorLog2(v-1) + 1
}
