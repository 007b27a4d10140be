package metrics

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCounters(t *testing.T) {
	r := New()
	r.AddClusters(30, 12)
	r.AddClusters(2, 1)
	r.AddGroups(5)
	r.AddPages(1, 7)
	r.AddPageBytes(1000, 400)
	r.BuildDone(nil)
	r.BuildDone(errors.New("boom"))
	r.BuildDone(nil)

	assert.Equal(t, 32.0, testutil.ToFloat64(r.clusters.WithLabelValues("leaf")))
	assert.Equal(t, 13.0, testutil.ToFloat64(r.clusters.WithLabelValues("reduced")))
	assert.Equal(t, 5.0, testutil.ToFloat64(r.groups))
	assert.Equal(t, 7.0, testutil.ToFloat64(r.pages.WithLabelValues("streaming")))
	assert.Equal(t, 400.0, testutil.ToFloat64(r.bytes.WithLabelValues("stored")))
	assert.Equal(t, 2.0, testutil.ToFloat64(r.builds.WithLabelValues("ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.builds.WithLabelValues("error")))
}

func TestStageDuration(t *testing.T) {
	r := New()
	r.ObserveStage("dag", 20*time.Millisecond)
	done := r.StageTimer("encode")
	done()

	assert.Equal(t, 2, testutil.CollectAndCount(r.stageDuration))
}

func TestRegistriesAreIndependent(t *testing.T) {
	a, b := New(), New()
	a.AddGroups(3)
	assert.Equal(t, 0.0, testutil.ToFloat64(b.groups))
}

func TestWriteTextfile(t *testing.T) {
	r := New()
	r.AddGroups(4)
	r.ObserveStage("leaves", time.Second)

	path := filepath.Join(t.TempDir(), "vgeo.prom")
	require.NoError(t, r.WriteTextfile(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	text := string(data)
	assert.Contains(t, text, "vgeo_groups_total 4")
	assert.True(t, strings.Contains(text, `vgeo_stage_duration_seconds_count{stage="leaves"} 1`))

	err = r.WriteTextfile(filepath.Join(t.TempDir(), "missing", "vgeo.prom"))
	assert.Error(t, err)
}
