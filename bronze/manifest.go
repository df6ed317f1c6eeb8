package bronze

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
)

const (
	StageIngest = "ingest"
	StageParse  = "parse"
)

// Stat keys written to the manifest stats object.
const (
	StatFilesScanned    = "total_files_scanned"
	StatFilesIngested   = "files_ingested"
	StatFilesSkipped    = "files_skipped"
	StatFilesErrored    = "files_errored"
	StatRowsIngested    = "total_rows_ingested"
	StatFilesProcessed  = "files_processed"
	StatRowsInserted    = "rows_inserted"
	StatRowsSkipped     = "rows_skipped"
	StatRowsUpdated     = "rows_updated"
	StatRecordsDropped  = "records_dropped"
	StatRecordErrors    = "record_errors"
	StatPayloadWarnings = "payload_warnings"
)

var ingestStats = []string{StatFilesScanned, StatFilesIngested, StatFilesSkipped, StatFilesErrored, StatRowsIngested}

var parseStats = []string{
	StatFilesProcessed, StatFilesSkipped, StatFilesErrored,
	StatRowsInserted, StatRowsSkipped, StatRowsUpdated,
	StatRecordsDropped, StatRecordErrors, StatPayloadWarnings,
}

type IngestedFile struct {
	FileID        string `json:"file_id"`
	Path          string `json:"path"`
	RowCount      int    `json:"row_count"`
	PartitionPath string `json:"partition_path"`
}

type ProcessedFile struct {
	FileID   string `json:"file_id"`
	Filename string `json:"filename"`
	Inserted int    `json:"inserted"`
	Skipped  int    `json:"skipped"`
	Updated  int    `json:"updated"`
}

type SkippedFile struct {
	Path   string `json:"path,omitempty"`
	FileID string `json:"file_id,omitempty"`
	Reason string `json:"reason"`
}

type ManifestWarning struct {
	FileID string `json:"file_id,omitempty"`
	Line   int    `json:"line,omitempty"`
	Reason string `json:"reason"`
}

// ManifestError is a file or record level failure. Row is the 1-based record
// index within the file and is zero for file errors.
type ManifestError struct {
	Path   string `json:"path,omitempty"`
	FileID string `json:"file_id,omitempty"`
	Row    int    `json:"row,omitempty"`
	Error  string `json:"error"`
}

// Manifest accumulates one run's audit trail. All methods are safe for
// concurrent use.
type Manifest struct {
	mu sync.Mutex

	RunID          string            `json:"run_id"`
	Stage          string            `json:"stage"`
	Source         Source            `json:"source"`
	StartedAt      time.Time         `json:"started_at"`
	EndedAt        *time.Time        `json:"ended_at"`
	IngestedFiles  []IngestedFile    `json:"ingested_files"`
	ProcessedFiles []ProcessedFile   `json:"processed_files"`
	SkippedFiles   []SkippedFile     `json:"skipped_files"`
	Warnings       []ManifestWarning `json:"warnings"`
	Errors         []ManifestError   `json:"errors"`
	Stats          map[string]int    `json:"stats"`
}

// NewRunID returns <stage>_<source>_<YYYYMMDD_HHMMSS>_<8 hex>.
func NewRunID(stage string, src Source, at time.Time) string {
	return fmt.Sprintf("%s_%s_%s_%s", stage, src, at.UTC().Format("20060102_150405"), uuid.NewString()[:8])
}

func NewManifest(stage string, src Source, startedAt time.Time) *Manifest {
	m := &Manifest{
		RunID:          NewRunID(stage, src, startedAt),
		Stage:          stage,
		Source:         src,
		StartedAt:      startedAt.UTC(),
		IngestedFiles:  []IngestedFile{},
		ProcessedFiles: []ProcessedFile{},
		SkippedFiles:   []SkippedFile{},
		Warnings:       []ManifestWarning{},
		Errors:         []ManifestError{},
		Stats:          map[string]int{},
	}
	keys := ingestStats
	if stage == StageParse {
		keys = parseStats
	}
	for _, k := range keys {
		m.Stats[k] = 0
	}
	return m
}

func (m *Manifest) Scanned(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Stats[StatFilesScanned] += n
}

func (m *Manifest) FileIngested(f IngestedFile) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.IngestedFiles = append(m.IngestedFiles, f)
	m.Stats[StatFilesIngested]++
	m.Stats[StatRowsIngested] += f.RowCount
}

func (m *Manifest) FileSkipped(s SkippedFile) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.SkippedFiles = append(m.SkippedFiles, s)
	m.Stats[StatFilesSkipped]++
}

func (m *Manifest) FileProcessed(p ProcessedFile) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ProcessedFiles = append(m.ProcessedFiles, p)
	m.Stats[StatFilesProcessed]++
	m.Stats[StatRowsInserted] += p.Inserted
	m.Stats[StatRowsSkipped] += p.Skipped
	m.Stats[StatRowsUpdated] += p.Updated
}

func (m *Manifest) Warning(w ManifestWarning) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Warnings = append(m.Warnings, w)
	m.Stats[StatPayloadWarnings]++
}

// RecordDropped counts a record rejected by validation. Dropped records are
// listed as errors too so operators can find them.
func (m *Manifest) RecordDropped(e ManifestError) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Errors = append(m.Errors, e)
	m.Stats[StatRecordsDropped]++
}

func (m *Manifest) RecordError(e ManifestError) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Errors = append(m.Errors, e)
	m.Stats[StatRecordErrors]++
}

func (m *Manifest) FileError(e ManifestError) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Errors = append(m.Errors, e)
	m.Stats[StatFilesErrored]++
}

func (m *Manifest) Finish(now time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t := now.UTC()
	m.EndedAt = &t
}

// Stat returns one counter.
func (m *Manifest) Stat(key string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.Stats[key]
}

// Snapshot copies the counters.
func (m *Manifest) Snapshot() map[string]int {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]int, len(m.Stats))
	for k, v := range m.Stats {
		out[k] = v
	}
	return out
}

func (m *Manifest) Filename() string {
	return "manifest_" + m.RunID + ".json"
}

func (m *Manifest) MarshalJSON() ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	type plain Manifest
	return json.Marshal((*plain)(m))
}

// Write stores the manifest under dir and returns the final path.
func (m *Manifest) Write(dir string) (string, error) {
	b, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encode manifest: %w", err)
	}
	return WriteFileAtomic(filepath.Join(dir, m.Filename()), b)
}
