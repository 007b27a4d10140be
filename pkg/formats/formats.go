// Package formats defines the wire types of an encoded virtualized-geometry
// resource and their little-endian binary serialization.
//
// A resource is a set of fixed-budget cluster pages plus a hierarchy of
// 64-ary culling nodes. Page 0 is the root page and is stored uncompressed;
// the remaining pages are streamable and may be compressed.
package formats

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

// Resource format errors.
var (
	ErrInvalidMagic       = errors.New("invalid resource magic: expected 'VGEO'")
	ErrUnsupportedVersion = errors.New("unsupported resource version")
	ErrTruncatedData      = errors.New("truncated resource data")
	ErrCorruptPage        = errors.New("corrupt cluster page")
)

// Format constants.
const (
	Magic = "VGEO"

	// NumRootPages is the number of leading pages that are always resident.
	NumRootPages = 1

	// MaxClusterVertices bounds the per-cluster vertex reference bitmask.
	MaxClusterVertices = 256

	// HierarchyFanout is the number of child slots per hierarchy node.
	HierarchyFanout = 64

	// MaxGroupPartsBits is the width of page-count fields.
	MaxGroupPartsBits = 3
	MaxGroupPartsMask = 1<<MaxGroupPartsBits - 1

	// MaxClustersPerGroupBits is the width of the group-part size field.
	MaxClustersPerGroupBits = 9

	// ClusterFlagLeaf marks a cluster whose children are not resident.
	ClusterFlagLeaf = 1
)

// Version identifies the resource layout revision.
type Version struct {
	Major uint16
	Minor uint16
}

// CurrentVersion is written by WriteResources.
var CurrentVersion = Version{Major: 1, Minor: 0}

// String returns the version as "Major.Minor".
func (v Version) String() string {
	return fmt.Sprintf("%d.%d", v.Major, v.Minor)
}

// IsRootPage reports whether a page is always resident.
func IsRootPage(pageIndex uint32) bool {
	return pageIndex < NumRootPages
}

// RemoveRootPagesFromRange drops root pages from a [start, start+num) page
// range. An empty result is normalized to (0, 0).
func RemoveRootPagesFromRange(start, num uint32) (uint32, uint32) {
	if start < NumRootPages {
		skip := min(NumRootPages-start, num)
		start += skip
		num -= skip
	}
	if num == 0 {
		start = 0
	}
	return start, num
}

// le is the byte order of every format in this package.
var le = binary.LittleEndian

func putFloat(b []byte, f float32) {
	le.PutUint32(b, math.Float32bits(f))
}

func getFloat(b []byte) float32 {
	return math.Float32frombits(le.Uint32(b))
}
