// Package metrics records build statistics in a Prometheus registry that
// can be exported as a node-exporter textfile.
package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	stageLabel  = "stage"
	kindLabel   = "kind"
	resultLabel = "result"
)

// Registry holds the collectors of one process.
type Registry struct {
	reg *prometheus.Registry

	builds        *prometheus.CounterVec
	clusters      *prometheus.CounterVec
	groups        prometheus.Counter
	pages         *prometheus.CounterVec
	bytes         *prometheus.CounterVec
	stageDuration *prometheus.HistogramVec
}

// New returns a registry with every collector registered.
func New() *Registry {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)
	return &Registry{
		reg: reg,
		builds: f.NewCounterVec(prometheus.CounterOpts{
			Name: "vgeo_builds_total",
			Help: "The number of builds by result.",
		}, []string{
			resultLabel,
		}),
		clusters: f.NewCounterVec(prometheus.CounterOpts{
			Name: "vgeo_clusters_total",
			Help: "The number of clusters built, split into leaf and reduced clusters.",
		}, []string{
			kindLabel,
		}),
		groups: f.NewCounter(prometheus.CounterOpts{
			Name: "vgeo_groups_total",
			Help: "The number of cluster groups built.",
		}),
		pages: f.NewCounterVec(prometheus.CounterOpts{
			Name: "vgeo_pages_total",
			Help: "The number of pages written, split into root and streaming pages.",
		}, []string{
			kindLabel,
		}),
		bytes: f.NewCounterVec(prometheus.CounterOpts{
			Name: "vgeo_page_bytes_total",
			Help: "Page bytes before and after compression.",
		}, []string{
			kindLabel,
		}),
		stageDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "vgeo_stage_duration_seconds",
			Help:    "The time spent in each build stage.",
			Buckets: prometheus.ExponentialBuckets(0.001, 4, 10),
		}, []string{
			stageLabel,
		}),
	}
}

// Gatherer exposes the underlying registry.
func (r *Registry) Gatherer() prometheus.Gatherer { return r.reg }

// ObserveStage records the duration of a stage.
func (r *Registry) ObserveStage(stage string, d time.Duration) {
	r.stageDuration.With(prometheus.Labels{
		stageLabel: stage,
	}).Observe(d.Seconds())
}

// StageTimer returns a func that records the time since the call.
func (r *Registry) StageTimer(stage string) func() {
	start := time.Now()
	return func() { r.ObserveStage(stage, time.Since(start)) }
}

// AddClusters counts leaf and reduced clusters.
func (r *Registry) AddClusters(leaves, reduced int) {
	r.clusters.With(prometheus.Labels{kindLabel: "leaf"}).Add(float64(leaves))
	r.clusters.With(prometheus.Labels{kindLabel: "reduced"}).Add(float64(reduced))
}

// AddGroups counts cluster groups.
func (r *Registry) AddGroups(n int) {
	r.groups.Add(float64(n))
}

// AddPages counts root and streaming pages.
func (r *Registry) AddPages(root, streaming int) {
	r.pages.With(prometheus.Labels{kindLabel: "root"}).Add(float64(root))
	r.pages.With(prometheus.Labels{kindLabel: "streaming"}).Add(float64(streaming))
}

// AddPageBytes counts page bytes before and after compression.
func (r *Registry) AddPageBytes(uncompressed, stored int) {
	r.bytes.With(prometheus.Labels{kindLabel: "uncompressed"}).Add(float64(uncompressed))
	r.bytes.With(prometheus.Labels{kindLabel: "stored"}).Add(float64(stored))
}

// BuildDone counts a finished build.
func (r *Registry) BuildDone(err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	r.builds.With(prometheus.Labels{resultLabel: result}).Inc()
}

// WriteTextfile writes every metric to path in the text exposition format.
func (r *Registry) WriteTextfile(path string) error {
	if err := prometheus.WriteToTextfile(path, r.reg); err != nil {
		return fmt.Errorf("writing metrics: %w", err)
	}
	return nil
}
