// Package dag builds the cluster level-of-detail DAG: it groups sibling
// clusters, reduces every group into coarser parents and repeats level by
// level until a single root cluster remains.
package dag

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"go.uber.org/zap"

	"github.com/Faultbox/vgeo/internal/cluster"
	"github.com/Faultbox/vgeo/internal/logger"
	"github.com/Faultbox/vgeo/internal/parallel"
	vmath "github.com/Faultbox/vgeo/pkg/math"
)

// RootLODError is the parent error of the root group: always visible.
const RootLODError = 1e10

// DAG errors.
var (
	ErrSmallGroup = errors.New("group has fewer than two clusters")
	ErrNoProgress = errors.New("DAG level did not reduce the cluster count")
)

// ClusterGroup is a set of sibling clusters reduced together.
type ClusterGroup struct {
	Children          []int
	Bounds            vmath.Sphere
	LODBounds         vmath.Sphere
	MinLODError       float32
	MaxParentLODError float32
	MipLevel          int
	MeshIndex         int

	PageIndexStart int
	PageIndexNum   int
}

// Options controls grouping and reduction.
type Options struct {
	MinGroupSize int
	MaxGroupSize int
	MaxTriangles int
	Workers      int
	Weights      cluster.Weights
}

// DefaultOptions returns the standard DAG settings.
func DefaultOptions() Options {
	return Options{
		MinGroupSize: 8,
		MaxGroupSize: 32,
		MaxTriangles: cluster.MaxTriangles,
		Weights:      cluster.DefaultWeights(),
	}
}

// DAG is the arena of clusters and groups. Clusters are stored level by
// level, leaves first; the last group is the root group.
type DAG struct {
	Clusters []*cluster.Cluster
	Groups   []ClusterGroup
}

// Build reduces leaves into a DAG. Leaves are taken over and become the
// first level of Clusters.
func Build(ctx context.Context, leaves []*cluster.Cluster, meshIndex int, opts Options) (*DAG, error) {
	d := &DAG{Clusters: leaves}
	for _, c := range leaves {
		c.MipLevel = 0
		c.GeneratingGroupIndex = cluster.InvalidGroup
	}
	if len(leaves) == 0 {
		return nil, fmt.Errorf("%w: no clusters", ErrSmallGroup)
	}

	levelStart, levelEnd := 0, len(leaves)
	for mip := 0; levelEnd-levelStart >= 2; mip++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		start := time.Now()
		n := levelEnd - levelStart

		level := make([]int, n)
		for i := range level {
			level[i] = levelStart + i
		}
		var groups [][]int
		if n <= opts.MaxGroupSize {
			groups = [][]int{level}
		} else {
			var err error
			groups, err = d.groupLevel(ctx, level, opts)
			if err != nil {
				return nil, fmt.Errorf("grouping level %d: %w", mip, err)
			}
		}

		if err := d.reduceLevel(ctx, groups, mip, meshIndex, opts); err != nil {
			return nil, fmt.Errorf("reducing level %d: %w", mip, err)
		}

		levelStart, levelEnd = levelEnd, len(d.Clusters)
		logger.Debug("DAG level reduced",
			zap.Int("mip", mip),
			zap.Int("clusters", n),
			zap.Int("groups", len(groups)),
			zap.Int("parents", levelEnd-levelStart),
			zap.Duration("elapsed", time.Since(start)))

		if levelEnd-levelStart >= n {
			return nil, fmt.Errorf("%w: level %d has %d clusters, parents %d", ErrNoProgress, mip, n, levelEnd-levelStart)
		}
	}

	d.addRoot(levelStart, meshIndex)
	return d, nil
}

// reduceLevel reduces every group of one level in parallel. Parents claim
// slots of a pre-sized cluster array and are sorted by GUID afterwards.
func (d *DAG) reduceLevel(ctx context.Context, children [][]int, mip, meshIndex int, opts Options) error {
	groupBase := len(d.Groups)
	levelEnd := len(d.Clusters)

	capacity := levelEnd
	for _, ch := range children {
		tris := 0
		for _, c := range ch {
			tris += d.Clusters[c].NumTris
		}
		capacity += (tris+opts.MaxTriangles-1)/opts.MaxTriangles + 1
	}
	d.Clusters = slices.Grow(d.Clusters, capacity-levelEnd)[:capacity]
	d.Groups = append(d.Groups, make([]ClusterGroup, len(children))...)

	alloc := parallel.NewAllocator(levelEnd, capacity)
	err := parallel.For(ctx, len(children), opts.Workers, func(i int) error {
		g := &d.Groups[groupBase+i]
		g.Children = children[i]
		g.MipLevel = mip
		g.MeshIndex = meshIndex
		return d.reduce(groupBase+i, alloc, opts)
	})
	if err != nil {
		return err
	}

	d.Clusters = d.Clusters[:alloc.Len()]
	parents := d.Clusters[levelEnd:]
	slices.SortStableFunc(parents, func(a, b *cluster.Cluster) int {
		switch {
		case a.GUID < b.GUID:
			return -1
		case a.GUID > b.GUID:
			return 1
		}
		return a.GeneratingGroupIndex - b.GeneratingGroupIndex
	})
	return nil
}

// reduce merges a group, simplifies it toward half the triangles and splits
// it into parent clusters. Target cluster sizes shrink until the split
// yields no more parents than wanted.
func (d *DAG) reduce(groupIndex int, alloc *parallel.Allocator, opts Options) error {
	g := &d.Groups[groupIndex]
	if len(g.Children) < 2 {
		return fmt.Errorf("%w: group %d has %d", ErrSmallGroup, groupIndex, len(g.Children))
	}

	children := make([]*cluster.Cluster, len(g.Children))
	lodSpheres := make([]vmath.Sphere, len(g.Children))
	spheres := make([]vmath.Sphere, len(g.Children))
	var childMaxErr float32
	g.MinLODError = float32(RootLODError)
	for i, ci := range g.Children {
		c := d.Clusters[ci]
		children[i] = c
		lodSpheres[i] = c.LODBounds
		spheres[i] = c.SphereBounds
		childMaxErr = max(childMaxErr, c.LODError)
		childErr := c.LODError
		if c.IsLeaf() {
			childErr = -1
		}
		g.MinLODError = min(g.MinLODError, childErr)
		c.GroupIndex = groupIndex
	}

	merged, err := cluster.Merge(children)
	if err != nil {
		return err
	}

	maxTris := opts.MaxTriangles
	numParents := (len(children) + 1) / 2
	targetSize := maxTris - 2
	var parents []*cluster.Cluster
	var simplifyErr float32
	for {
		e, err := merged.SimplifyWeighted(opts.Weights, numParents*targetSize, 0, 0)
		if err != nil {
			return fmt.Errorf("group %d: %w", groupIndex, err)
		}
		simplifyErr = max(simplifyErr, e)

		if numParents == 1 && merged.NumTris <= maxTris {
			parents = []*cluster.Cluster{merged}
			break
		}
		parts, err := merged.SplitToSize(maxTris)
		if err != nil {
			return fmt.Errorf("group %d: %w", groupIndex, err)
		}
		targetSize -= 2
		if len(parts) <= numParents || targetSize <= maxTris/2 {
			parents = parts
			break
		}
	}

	parentErr := max(simplifyErr, childMaxErr)
	lodBounds := vmath.SphereFromSpheres(lodSpheres)
	g.Bounds = vmath.SphereFromSpheres(spheres)
	g.LODBounds = lodBounds
	g.MaxParentLODError = parentErr

	start := alloc.Claim(len(parents))
	for i, p := range parents {
		p.LODBounds = lodBounds
		p.LODError = parentErr
		p.GeneratingGroupIndex = groupIndex
		p.MipLevel = g.MipLevel + 1
		p.GroupIndex = cluster.InvalidGroup
		d.Clusters[start+i] = p
	}
	return nil
}

// addRoot closes the DAG with a group holding only the root cluster.
func (d *DAG) addRoot(rootIndex, meshIndex int) {
	root := d.Clusters[rootIndex]
	root.GroupIndex = len(d.Groups)
	d.Groups = append(d.Groups, ClusterGroup{
		Children:          []int{rootIndex},
		Bounds:            root.SphereBounds,
		MinLODError:       -1,
		MaxParentLODError: RootLODError,
		MipLevel:          root.MipLevel,
		MeshIndex:         meshIndex,
	})
}

// Root returns the root cluster.
func (d *DAG) Root() *cluster.Cluster {
	root := d.Groups[len(d.Groups)-1]
	return d.Clusters[root.Children[0]]
}
