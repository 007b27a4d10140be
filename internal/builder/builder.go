// Package builder runs the whole pipeline from an input mesh to an encoded
// resource: leaf clustering, DAG reduction and encoding.
package builder

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"
	"go.uber.org/zap"

	"github.com/Faultbox/vgeo/internal/cluster"
	"github.com/Faultbox/vgeo/internal/config"
	"github.com/Faultbox/vgeo/internal/dag"
	"github.com/Faultbox/vgeo/internal/encode"
	"github.com/Faultbox/vgeo/internal/logger"
	"github.com/Faultbox/vgeo/internal/mesh"
	"github.com/Faultbox/vgeo/internal/metrics"
	"github.com/Faultbox/vgeo/internal/parallel"
	"github.com/Faultbox/vgeo/pkg/formats"
)

// Stats summarizes one build.
type Stats struct {
	BuildID   string `json:"build_id"`
	Triangles int    `json:"triangles"`
	Vertices  int    `json:"vertices"`
	Materials int    `json:"materials"`

	LeafClusters int `json:"leaf_clusters"`
	Clusters     int `json:"clusters"`
	Groups       int `json:"groups"`
	MipLevels    int `json:"mip_levels"`
	// MaxLODError is the largest LOD error of any cluster.
	MaxLODError float32 `json:"max_lod_error"`

	Pages             int `json:"pages"`
	HierarchyNodes    int `json:"hierarchy_nodes"`
	UncompressedBytes int `json:"uncompressed_bytes"`
	StoredBytes       int `json:"stored_bytes"`
	VertexRefs        int `json:"vertex_refs"`

	Encode encode.Stats             `json:"-"`
	Stages map[string]time.Duration `json:"stage_durations_ns"`
}

// Option configures a build.
type Option func(*options)

type options struct {
	metrics *metrics.Registry
	buildID string
}

// WithMetrics records the build in reg.
func WithMetrics(reg *metrics.Registry) Option {
	return func(o *options) { o.metrics = reg }
}

// WithBuildID overrides the generated build id.
func WithBuildID(id string) Option {
	return func(o *options) { o.buildID = id }
}

// DAGOptions maps the build settings onto DAG options.
func DAGOptions(cfg *config.Config) dag.Options {
	opts := dag.DefaultOptions()
	opts.MinGroupSize = cfg.Build.MinGroupSize
	opts.MaxGroupSize = cfg.Build.MaxGroupSize
	opts.MaxTriangles = cfg.Build.MaxClusterTriangles
	opts.Workers = parallel.Workers(cfg.Build.Workers)
	opts.Weights = cluster.Weights{
		Normal:       cfg.Simplify.NormalWeight,
		Color:        cfg.Simplify.ColorWeight,
		MinUVSize:    cfg.Simplify.MinUVSize,
		TriangleSize: cfg.Simplify.DesiredTriangleSize,
	}
	return opts
}

// EncodeOptions maps the encode settings onto encode options.
func EncodeOptions(cfg *config.Config) encode.Options {
	return encode.Options{
		StripIndices:       cfg.Encode.StripIndices,
		Compress:           cfg.Encode.CompressPages,
		PageGPUSize:        uint32(cfg.Encode.PageGPUSize),
		MaxClustersPerPage: cfg.Encode.MaxClustersPerPage,
		HierarchySeed:      cfg.Encode.HierarchySeed,
		Workers:            parallel.Workers(cfg.Build.Workers),
	}
}

// Build validates m and turns it into an encoded resource. Cancellation is
// checked between stages. m is not modified.
func Build(ctx context.Context, m *mesh.Mesh, cfg *config.Config, opt ...Option) (res *formats.Resources, s Stats, err error) {
	o := options{buildID: uuid.NewString()}
	for _, fn := range opt {
		fn(&o)
	}
	s = Stats{BuildID: o.buildID, Stages: map[string]time.Duration{}}
	log := logger.Named("builder").With(zap.String("build_id", s.BuildID))
	if o.metrics != nil {
		defer func() { o.metrics.BuildDone(err) }()
	}

	stage := func(name string, fn func() error) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		start := time.Now()
		if err := fn(); err != nil {
			log.Warn("stage failed", zap.String("stage", name), zap.Error(err))
			return fmt.Errorf("%s: %w", name, err)
		}
		elapsed := time.Since(start)
		s.Stages[name] = elapsed
		if o.metrics != nil {
			o.metrics.ObserveStage(name, elapsed)
		}
		log.Debug("stage done", zap.String("stage", name), zap.Duration("elapsed", elapsed))
		return nil
	}

	if err = stage("validate", func() error {
		if err := cfg.Validate(); err != nil {
			return err
		}
		return m.Validate()
	}); err != nil {
		return nil, s, err
	}
	s.Triangles = m.NumTriangles()
	s.Vertices = len(m.Verts)
	s.Materials = len(lo.Uniq(m.MaterialIndexes))
	log.Info("build started",
		zap.Int("triangles", s.Triangles),
		zap.Int("vertices", s.Vertices),
		zap.Int("materials", s.Materials))

	dagOpts := DAGOptions(cfg)
	var leaves []*cluster.Cluster
	if err = stage("leaves", func() error {
		var err error
		leaves, err = cluster.ClusterTriangles(ctx, m, cfg.Build.MaxClusterTriangles, dagOpts.Workers)
		return err
	}); err != nil {
		return nil, s, err
	}
	s.LeafClusters = len(leaves)

	var d *dag.DAG
	if err = stage("dag", func() error {
		var err error
		d, err = dag.Build(ctx, leaves, 0, dagOpts)
		return err
	}); err != nil {
		return nil, s, err
	}
	s.Clusters = len(d.Clusters)
	s.Groups = len(d.Groups)
	s.MipLevels = lo.MaxBy(d.Clusters, func(a, b *cluster.Cluster) bool { return a.MipLevel > b.MipLevel }).MipLevel + 1
	s.MaxLODError = lo.Max(lo.Map(d.Clusters, func(c *cluster.Cluster, _ int) float32 { return c.LODError }))

	if err = stage("encode", func() error {
		var err error
		res, s.Encode, err = encode.Encode(ctx, d, m.Bounds(), EncodeOptions(cfg))
		return err
	}); err != nil {
		return nil, s, err
	}
	for name, elapsed := range s.Encode.StageDurations {
		s.Stages["encode."+name] = elapsed
	}
	s.Pages = s.Encode.Pages
	s.HierarchyNodes = s.Encode.HierarchyNodes
	s.UncompressedBytes = s.Encode.Write.UncompressedBytes
	s.StoredBytes = s.Encode.Write.StoredBytes
	s.VertexRefs = s.Encode.Write.VertexRefs

	if o.metrics != nil {
		o.metrics.AddClusters(s.LeafClusters, s.Clusters-s.LeafClusters)
		o.metrics.AddGroups(s.Groups)
		root := min(s.Pages, formats.NumRootPages)
		o.metrics.AddPages(root, s.Pages-root)
		o.metrics.AddPageBytes(s.UncompressedBytes, s.StoredBytes)
	}

	log.Info("build finished",
		zap.Int("clusters", s.Clusters),
		zap.Int("groups", s.Groups),
		zap.Int("mip_levels", s.MipLevels),
		zap.Int("pages", s.Pages),
		zap.Int("stored_bytes", s.StoredBytes),
		zap.Int("degenerate_triangles", s.Encode.DegenerateTriangles))
	return res, s, nil
}
