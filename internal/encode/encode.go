// Package encode turns a cluster DAG into streamable GPU pages: it reorders
// and constrains clusters, quantizes positions and attributes, packs
// clusters into fixed-budget pages with their fixups, builds the 64-ary
// culling hierarchy and writes the page bytes.
package encode

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/Faultbox/vgeo/internal/dag"
	"github.com/Faultbox/vgeo/internal/logger"
	"github.com/Faultbox/vgeo/internal/parallel"
	"github.com/Faultbox/vgeo/pkg/formats"
	vmath "github.com/Faultbox/vgeo/pkg/math"
)

// Encoding errors.
var (
	ErrMaterialRanges = errors.New("material ranges do not cover the cluster")
	ErrWindow         = errors.New("index outside the vertex window")
	ErrPageBudget     = errors.New("cluster exceeds the page budget")
	ErrGroupTooLarge  = errors.New("group spans too many pages")
)

func check(ok bool, msg string) {
	if !ok {
		panic("encode: " + msg)
	}
}

// Options controls the encode pass.
type Options struct {
	StripIndices       bool
	Compress           bool
	PageGPUSize        uint32
	MaxClustersPerPage int
	HierarchySeed      int64
	Workers            int
}

// DefaultOptions returns the standard encode settings.
func DefaultOptions() Options {
	return Options{
		StripIndices:       true,
		Compress:           true,
		PageGPUSize:        DefaultPageGPUSize,
		MaxClustersPerPage: MaxClustersPerPage,
		HierarchySeed:      1234,
	}
}

// Stats summarizes an encode pass.
type Stats struct {
	DegenerateTriangles int
	Constrain           ConstrainStats
	Materials           MaterialStats
	Pages               int
	Parts               int
	HierarchyNodes      int
	Write               WriteStats
	StageDurations      map[string]time.Duration
}

// Encode runs the encode pass over d and returns the resource. bounds must
// contain every vertex of d. The clusters of d are modified in place.
func Encode(ctx context.Context, d *dag.DAG, bounds vmath.Bounds, opts Options) (*formats.Resources, Stats, error) {
	s := Stats{StageDurations: map[string]time.Duration{}}
	stage := func(name string, fn func() error) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		start := time.Now()
		if err := fn(); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
		s.StageDurations[name] = time.Since(start)
		return nil
	}

	err := stage("prepare", func() error {
		for _, c := range d.Clusters {
			s.DegenerateTriangles += RemoveDegenerateTriangles(c)
			BuildMaterialRanges(c)
		}
		return nil
	})
	if err != nil {
		return nil, s, err
	}

	err = stage("constrain", func() error {
		var err error
		if s.Constrain, err = ConstrainClusters(ctx, d, opts.StripIndices, opts.Workers); err != nil {
			return err
		}
		return parallel.For(ctx, len(d.Clusters), opts.Workers, func(i int) error {
			if err := VerifyConstraints(d.Clusters[i]); err != nil {
				return fmt.Errorf("cluster %d: %w", i, err)
			}
			return nil
		})
	})
	if err != nil {
		return nil, s, err
	}

	if err = stage("quantize", func() error {
		return QuantizePositions(ctx, d.Clusters, bounds, opts.Workers)
	}); err != nil {
		return nil, s, err
	}
	s.Materials = CollectMaterialStats(d.Clusters)

	var infos []EncodingInfo
	if err = stage("encoding_info", func() error {
		var err error
		infos, err = CalculateEncodingInfos(ctx, d.Clusters, opts.Workers)
		return err
	}); err != nil {
		return nil, s, err
	}

	l := &Layout{Clusters: d.Clusters, Groups: d.Groups, Infos: infos}
	if err = stage("paging", func() error {
		var err error
		l.Pages, l.Parts, err = AssignClustersToPages(d.Groups, d.Clusters, infos, opts.PageGPUSize, opts.MaxClustersPerPage)
		return err
	}); err != nil {
		return nil, s, err
	}

	if err = stage("hierarchy", func() error {
		l.Hierarchy, l.HierarchyRoots = BuildHierarchy(l.Parts, d.Groups, opts.HierarchySeed)
		l.Fixups = BuildFixups(l.Pages, l.Parts, d.Groups, d.Clusters)
		return nil
	}); err != nil {
		return nil, s, err
	}

	var r *formats.Resources
	if err = stage("write", func() error {
		var err error
		r, s.Write, err = WritePages(ctx, l, opts.StripIndices, opts.Compress, opts.Workers)
		return err
	}); err != nil {
		return nil, s, err
	}

	s.Pages = len(l.Pages)
	s.Parts = len(l.Parts)
	s.HierarchyNodes = len(l.Hierarchy)
	logger.Debug("encoded DAG",
		zap.Int("clusters", len(d.Clusters)),
		zap.Int("pages", s.Pages),
		zap.Int("parts", s.Parts),
		zap.Int("hierarchy_nodes", s.HierarchyNodes),
		zap.Int("degenerate_triangles", s.DegenerateTriangles))
	return r, s, nil
}
