package main

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Faultbox/vgeo/internal/builder"
	"github.com/Faultbox/vgeo/internal/config"
	"github.com/Faultbox/vgeo/internal/mesh"
	"github.com/Faultbox/vgeo/pkg/archive"
)

func buildArchive(t *testing.T, mutate func(*config.Config)) (string, builder.Stats) {
	t.Helper()
	s, err := mesh.Shape("sphere", 10)
	require.NoError(t, err)
	m, err := mesh.FromSDF(s, mesh.SDFOptions{Cells: 32, NumTexCoords: 1, Materials: 3})
	require.NoError(t, err)

	cfg := config.Default()
	cfg.Encode.PageGPUSize = 16 << 10
	if mutate != nil {
		mutate(cfg)
	}
	res, stats, err := builder.Build(context.Background(), m, cfg)
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "sphere.vgeo")
	require.NoError(t, archive.Create(path, res))
	return path, stats
}

func TestVerifyArchive(t *testing.T) {
	for _, tt := range []struct {
		name   string
		mutate func(*config.Config)
	}{
		{"default", nil},
		{"raw", func(c *config.Config) {
			c.Encode.StripIndices = false
			c.Encode.CompressPages = false
		}},
	} {
		t.Run(tt.name, func(t *testing.T) {
			path, stats := buildArchive(t, tt.mutate)
			a, err := archive.Open(path)
			require.NoError(t, err)
			defer a.Close()

			r, err := verifyArchive(a)
			require.NoError(t, err)
			assert.Equal(t, stats.Pages, r.Pages)
			assert.Equal(t, stats.VertexRefs, r.VertexRefs)
			assert.Equal(t, stats.Encode.Constrain.OutputClusters, r.Clusters)
		})
	}
}

func TestVerifyArchiveBadRoot(t *testing.T) {
	s, err := mesh.Shape("box", 4)
	require.NoError(t, err)
	m, err := mesh.FromSDF(s, mesh.SDFOptions{Cells: 16})
	require.NoError(t, err)
	res, _, err := builder.Build(context.Background(), m, config.Default())
	require.NoError(t, err)
	res.HierarchyRootOffsets = []uint32{uint32(len(res.HierarchyNodes))}

	path := filepath.Join(t.TempDir(), "box.vgeo")
	require.NoError(t, archive.Create(path, res))
	a, err := archive.Open(path)
	require.NoError(t, err)
	defer a.Close()

	_, err = verifyArchive(a)
	assert.ErrorIs(t, err, errVerify)
	assert.ErrorContains(t, err, "hierarchy root")
}
