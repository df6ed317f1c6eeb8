package bronze

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_NilReceiver(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.file(StageIngest, "ingested")
		m.row(OutcomeInserted)
		m.dropped()
		m.recordError()
		m.warnings(3)
		m.observeFile(StageParse, time.Second)
		m.finished(StageParse, time.Now())
	})
}

func TestMetrics_CountersAndTextfile(t *testing.T) {
	m := NewMetrics()
	m.file(StageIngest, "ingested")
	m.file(StageIngest, "ingested")
	m.row(OutcomeSuperseded)
	m.warnings(0)
	m.warnings(2)
	m.finished(StageIngest, time.Unix(1700000000, 0))

	assert.Equal(t, 2.0, testutil.ToFloat64(m.Files.WithLabelValues(StageIngest, "ingested")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Rows.WithLabelValues("superseded")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.PayloadWarnings))
	assert.Equal(t, 1700000000.0, testutil.ToFloat64(m.LastRun.WithLabelValues(StageIngest)))

	// a second registry must not collide with the first
	other := NewMetrics()
	assert.Equal(t, 0.0, testutil.ToFloat64(other.Files.WithLabelValues(StageIngest, "ingested")))

	path := filepath.Join(t.TempDir(), "bronze.prom")
	require.NoError(t, m.WriteTextfile(path))
	b, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(b), `bronze_files_total{outcome="ingested",stage="ingest"} 2`)
	assert.Contains(t, string(b), "bronze_payload_warnings_total 2")
}
