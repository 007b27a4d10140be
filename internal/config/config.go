// Package config handles build configuration loading and management.
package config

import (
	"errors"
	"fmt"
)

// Hard format limits. Settings may lower them but never raise them.
const (
	LimitClusterTriangles = 128
	LimitClusterVertices  = 256
	LimitClustersPerPage  = 256
	LimitPageGPUSize      = 1 << 17
)

// ErrInvalid is returned by Validate for inconsistent settings.
var ErrInvalid = errors.New("invalid config")

// Config holds all build settings.
type Config struct {
	Build    BuildConfig    `yaml:"build"`
	Simplify SimplifyConfig `yaml:"simplify"`
	Encode   EncodeConfig   `yaml:"encode"`
	Output   OutputConfig   `yaml:"output"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// BuildConfig holds clustering and DAG settings.
type BuildConfig struct {
	MaxClusterTriangles int `yaml:"max_cluster_triangles"`
	MaxClusterVertices  int `yaml:"max_cluster_vertices"`
	MinGroupSize        int `yaml:"min_group_size"`
	MaxGroupSize        int `yaml:"max_group_size"`
	Workers             int `yaml:"workers"` // 0 = GOMAXPROCS
}

// SimplifyConfig holds attribute weights for cluster simplification.
type SimplifyConfig struct {
	ColorWeight         float32 `yaml:"color_weight"`
	NormalWeight        float32 `yaml:"normal_weight"`
	MinUVSize           float32 `yaml:"min_uv_size"`
	DesiredTriangleSize float32 `yaml:"desired_triangle_size"`
}

// EncodeConfig holds page and hierarchy encoding settings.
type EncodeConfig struct {
	StripIndices       bool  `yaml:"strip_indices"`
	CompressPages      bool  `yaml:"compress_pages"`
	PageGPUSize        int   `yaml:"page_gpu_size"`
	MaxClustersPerPage int   `yaml:"max_clusters_per_page"`
	HierarchySeed      int64 `yaml:"hierarchy_seed"`
}

// OutputConfig holds output file paths.
type OutputConfig struct {
	Path        string `yaml:"path"`
	MetricsFile string `yaml:"metrics_file"`
	ReportFile  string `yaml:"report_file"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level   string `yaml:"level"`
	Format  string `yaml:"format"` // console or json
	LogFile string `yaml:"log_file"`
}

// Default returns a Config with sensible default values.
func Default() *Config {
	return &Config{
		Build: BuildConfig{
			MaxClusterTriangles: LimitClusterTriangles,
			MaxClusterVertices:  LimitClusterVertices,
			MinGroupSize:        8,
			MaxGroupSize:        32,
		},
		Simplify: SimplifyConfig{
			ColorWeight:         0.0625,
			NormalWeight:        1.0,
			MinUVSize:           1.0 / (1 << 14),
			DesiredTriangleSize: 0.25,
		},
		Encode: EncodeConfig{
			StripIndices:       true,
			CompressPages:      true,
			PageGPUSize:        LimitPageGPUSize,
			MaxClustersPerPage: LimitClustersPerPage,
			HierarchySeed:      1234,
		},
		Output: OutputConfig{
			Path: "out.vgeo",
		},
		Logging: LoggingConfig{
			Level:   "info",
			Format:  "console",
			LogFile: "",
		},
	}
}

// Validate rejects settings the encoder cannot honor.
func (c *Config) Validate() error {
	b := c.Build
	switch {
	case b.MaxClusterTriangles < 8 || b.MaxClusterTriangles > LimitClusterTriangles:
		return fmt.Errorf("%w: max_cluster_triangles %d not in [8, %d]", ErrInvalid, b.MaxClusterTriangles, LimitClusterTriangles)
	case b.MaxClusterVertices < 3 || b.MaxClusterVertices > LimitClusterVertices:
		return fmt.Errorf("%w: max_cluster_vertices %d not in [3, %d]", ErrInvalid, b.MaxClusterVertices, LimitClusterVertices)
	case b.MinGroupSize < 2:
		return fmt.Errorf("%w: min_group_size %d below 2", ErrInvalid, b.MinGroupSize)
	case b.MinGroupSize > b.MaxGroupSize:
		return fmt.Errorf("%w: min_group_size %d above max_group_size %d", ErrInvalid, b.MinGroupSize, b.MaxGroupSize)
	case b.Workers < 0:
		return fmt.Errorf("%w: negative workers", ErrInvalid)
	}

	s := c.Simplify
	if s.ColorWeight < 0 || s.NormalWeight < 0 || s.MinUVSize <= 0 || s.DesiredTriangleSize <= 0 {
		return fmt.Errorf("%w: simplify weights must be positive", ErrInvalid)
	}

	e := c.Encode
	if e.PageGPUSize <= 0 || e.PageGPUSize > LimitPageGPUSize {
		return fmt.Errorf("%w: page_gpu_size %d not in (0, %d]", ErrInvalid, e.PageGPUSize, LimitPageGPUSize)
	}
	if e.MaxClustersPerPage <= 0 || e.MaxClustersPerPage > LimitClustersPerPage {
		return fmt.Errorf("%w: max_clusters_per_page %d not in (0, %d]", ErrInvalid, e.MaxClustersPerPage, LimitClustersPerPage)
	}

	if f := c.Logging.Format; f != "console" && f != "json" {
		return fmt.Errorf("%w: logging format %q", ErrInvalid, f)
	}
	return nil
}
