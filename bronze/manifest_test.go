package bronze

import (
	"encoding/json"
	"os"
	"path/filepath"
	"regexp"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRunID(t *testing.T) {
	at := time.Date(2024, 3, 4, 5, 6, 7, 0, time.UTC)
	id := NewRunID(StageIngest, SourceEnam, at)
	assert.Regexp(t, regexp.MustCompile(`^ingest_enam_20240304_050607_[0-9a-f]{8}$`), id)
	assert.NotEqual(t, id, NewRunID(StageIngest, SourceEnam, at))
}

func TestManifest_CountersAndJSON(t *testing.T) {
	start := time.Date(2024, 3, 4, 5, 6, 7, 0, time.UTC)
	m := NewManifest(StageParse, SourceAgmarknet, start)
	m.FileProcessed(ProcessedFile{FileID: "f1", Inserted: 3, Skipped: 1, Updated: 2})
	m.FileSkipped(SkippedFile{FileID: "f2", Reason: "no_records"})
	m.Warning(ManifestWarning{FileID: "f1", Line: 2, Reason: "malformed JSON"})
	m.RecordDropped(ManifestError{FileID: "f1", Row: 4, Error: "invalid record"})
	m.RecordError(ManifestError{FileID: "f1", Row: 5, Error: "boom"})
	m.Finish(start.Add(time.Second))

	stats := m.Snapshot()
	assert.Equal(t, 1, stats[StatFilesProcessed])
	assert.Equal(t, 3, stats[StatRowsInserted])
	assert.Equal(t, 1, stats[StatRowsSkipped])
	assert.Equal(t, 2, stats[StatRowsUpdated])
	assert.Equal(t, 1, stats[StatFilesSkipped])
	assert.Equal(t, 1, stats[StatPayloadWarnings])
	assert.Equal(t, 1, stats[StatRecordsDropped])
	assert.Equal(t, 1, stats[StatRecordErrors])
	assert.Equal(t, 0, stats[StatFilesErrored])

	b, err := json.Marshal(m)
	require.NoError(t, err)
	var doc map[string]any
	require.NoError(t, json.Unmarshal(b, &doc))
	for _, k := range []string{"run_id", "started_at", "ended_at", "ingested_files", "processed_files", "skipped_files", "errors", "stats"} {
		assert.Contains(t, doc, k)
	}
	assert.Equal(t, "parse", doc["stage"])
	assert.Len(t, doc["errors"], 2)
	assert.Empty(t, doc["ingested_files"])
}

func TestManifest_IngestStatsPresentWhenZero(t *testing.T) {
	m := NewManifest(StageIngest, SourceAgmarknet, time.Now())
	for _, k := range ingestStats {
		v, ok := m.Stats[k]
		assert.True(t, ok, k)
		assert.Equal(t, 0, v, k)
	}
}

func TestManifest_ConcurrentUse(t *testing.T) {
	m := NewManifest(StageIngest, SourceAgmarknet, time.Now())
	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			m.FileIngested(IngestedFile{FileID: "x", RowCount: 2})
			m.FileError(ManifestError{Path: "p", Error: "e"})
		}()
	}
	wg.Wait()
	assert.Equal(t, 100, m.Stat(StatFilesIngested))
	assert.Equal(t, 200, m.Stat(StatRowsIngested))
	assert.Equal(t, 100, m.Stat(StatFilesErrored))
}

func TestManifest_Write(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "manifests")
	m := NewManifest(StageIngest, SourceAgmarknet, time.Now())
	m.FileIngested(IngestedFile{FileID: "abc", Path: "/raw/a.json", RowCount: 1})
	m.Finish(time.Now())

	path, err := m.Write(dir)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "manifest_"+m.RunID+".json"), path)

	b, err := os.ReadFile(path)
	require.NoError(t, err)
	var back struct {
		RunID string         `json:"run_id"`
		Stats map[string]int `json:"stats"`
	}
	require.NoError(t, json.Unmarshal(b, &back))
	assert.Equal(t, m.RunID, back.RunID)
	assert.Equal(t, 1, back.Stats[StatFilesIngested])
}

func TestManifest_WriteFailureIsReported(t *testing.T) {
	tmp := t.TempDir()
	blocker := filepath.Join(tmp, "file")
	require.NoError(t, os.WriteFile(blocker, []byte("x"), 0o644))

	m := NewManifest(StageIngest, SourceAgmarknet, time.Now())
	_, err := m.Write(filepath.Join(blocker, "manifests"))
	assert.Error(t, err)
}
