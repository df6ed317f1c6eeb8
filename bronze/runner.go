package bronze

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"strings"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
)

type RunnerConfig struct {
	DBPath      string
	Sources     []SourceInput
	ManifestDir string
	// MetricsFile, when set, receives a Prometheus textfile after each stage.
	MetricsFile     string
	JobLabel        string
	Debug           bool
	Workers         int
	ParseWorkers    int
	MaxPayloadBytes int64

	Logger *zap.SugaredLogger
	Clock  clockwork.Clock
}

type Runner struct {
	cfg     RunnerConfig
	store   *GormStore
	log     *zap.SugaredLogger
	clock   clockwork.Clock
	metrics *Metrics
}

func (r *Runner) debugf(format string, args ...any) {
	if r == nil || !r.cfg.Debug {
		return
	}
	r.log.Debugf(format, args...)
}

// NewRunner validates cfg and opens the store. A store that cannot be opened
// aborts before any file is scanned.
func NewRunner(cfg RunnerConfig) (*Runner, error) {
	if strings.TrimSpace(cfg.DBPath) == "" {
		return nil, fmt.Errorf("DBPath is required")
	}
	if len(cfg.Sources) == 0 {
		return nil, fmt.Errorf("at least one source input is required")
	}
	for _, in := range cfg.Sources {
		if _, err := ParseSource(string(in.Source)); err != nil {
			return nil, err
		}
		if strings.TrimSpace(in.Dir) == "" {
			return nil, fmt.Errorf("source %s: dir is required", in.Source)
		}
	}
	if strings.TrimSpace(cfg.ManifestDir) == "" {
		cfg.ManifestDir = "manifests"
	}
	if cfg.Workers <= 0 {
		cfg.Workers = runtime.NumCPU()
	}
	if cfg.ParseWorkers <= 0 {
		cfg.ParseWorkers = 1
	}
	if cfg.MaxPayloadBytes <= 0 {
		cfg.MaxPayloadBytes = DefaultMaxPayloadBytes
	}

	log := orNopLogger(cfg.Logger)
	if cfg.JobLabel != "" {
		log = log.With("job", cfg.JobLabel)
	}
	db, err := OpenDB(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("open store %s: %w", cfg.DBPath, err)
	}
	return &Runner{
		cfg:     cfg,
		store:   NewGormStore(db),
		log:     log,
		clock:   orRealClock(cfg.Clock),
		metrics: NewMetrics(),
	}, nil
}

func (r *Runner) Close() error {
	if r == nil {
		return nil
	}
	return r.store.Close()
}

func (r *Runner) Metrics() *Metrics {
	return r.metrics
}

// RunIngest ingests every configured source directory. One manifest is
// written per source, even when every file failed.
func (r *Runner) RunIngest(ctx context.Context) ([]*Manifest, error) {
	var out []*Manifest
	var errs []error
	for _, in := range r.cfg.Sources {
		m, err := r.ingestSource(ctx, in)
		out = append(out, m)
		if err != nil {
			errs = append(errs, err)
		}
		if ctx.Err() != nil {
			break
		}
	}
	r.exportMetrics()
	return out, errors.Join(errs...)
}

func (r *Runner) ingestSource(ctx context.Context, in SourceInput) (*Manifest, error) {
	m := NewManifest(StageIngest, in.Source, r.clock.Now())
	defer r.finish(m)
	r.debugf("ingest start: run=%s source=%s dir=%q workers=%d", m.RunID, in.Source, in.Dir, r.cfg.Workers)

	seen, err := r.store.LoadChecksums(ctx)
	if err != nil {
		m.FileError(ManifestError{Path: in.Dir, Error: err.Error()})
		return m, err
	}
	ing := NewIngestor(IngestorConfig{
		Store:           r.store,
		Manifest:        m,
		Seen:            seen,
		Clock:           r.clock,
		Logger:          r.log,
		Metrics:         r.metrics,
		Workers:         r.cfg.Workers,
		MaxPayloadBytes: r.cfg.MaxPayloadBytes,
		JobID:           m.RunID,
	})
	if err := ing.Ingest(ctx, in.Dir, in.Source); err != nil {
		if !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
			m.FileError(ManifestError{Path: in.Dir, Error: err.Error()})
		}
		return m, err
	}
	return m, nil
}

// RunParse parses the bronze files of every configured source.
func (r *Runner) RunParse(ctx context.Context) ([]*Manifest, error) {
	var out []*Manifest
	var errs []error
	for _, src := range r.sources() {
		m, err := r.parseSource(ctx, src)
		out = append(out, m)
		if err != nil {
			errs = append(errs, err)
		}
		if ctx.Err() != nil {
			break
		}
	}
	r.exportMetrics()
	return out, errors.Join(errs...)
}

func (r *Runner) parseSource(ctx context.Context, src Source) (*Manifest, error) {
	m := NewManifest(StageParse, src, r.clock.Now())
	defer r.finish(m)
	r.debugf("parse start: run=%s source=%s workers=%d", m.RunID, src, r.cfg.ParseWorkers)

	p := NewParser(ParserConfig{
		Store:     r.store,
		Versioner: NewVersioner(r.store, r.clock, m.RunID),
		Manifest:  m,
		Clock:     r.clock,
		Logger:    r.log,
		Metrics:   r.metrics,
		Workers:   r.cfg.ParseWorkers,
	})
	if err := p.Parse(ctx, src); err != nil {
		if !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
			m.FileError(ManifestError{Error: err.Error()})
		}
		return m, err
	}
	return m, nil
}

// RunAll ingests then parses. Parsing still runs when some files failed to
// ingest; it stops only on cancellation.
func (r *Runner) RunAll(ctx context.Context) ([]*Manifest, error) {
	ingested, ingestErr := r.RunIngest(ctx)
	if ctx.Err() != nil {
		return ingested, ingestErr
	}
	parsed, parseErr := r.RunParse(ctx)
	return append(ingested, parsed...), errors.Join(ingestErr, parseErr)
}

// sources returns each configured source once, in config order.
func (r *Runner) sources() []Source {
	seen := make(map[Source]struct{}, len(r.cfg.Sources))
	var out []Source
	for _, in := range r.cfg.Sources {
		if _, ok := seen[in.Source]; ok {
			continue
		}
		seen[in.Source] = struct{}{}
		out = append(out, in.Source)
	}
	return out
}

// finish closes the manifest and writes it. A write failure is logged only:
// the store has already committed.
func (r *Runner) finish(m *Manifest) {
	now := r.clock.Now()
	m.Finish(now)
	r.metrics.finished(m.Stage, now)
	path, err := m.Write(r.cfg.ManifestDir)
	if err != nil {
		r.log.Errorw("write manifest failed", "run_id", m.RunID, "dir", r.cfg.ManifestDir, "error", err)
		return
	}
	r.log.Infow("run finished", "run_id", m.RunID, "stage", m.Stage, "source", m.Source,
		"manifest", path, "stats", m.Snapshot())
}

func (r *Runner) exportMetrics() {
	if strings.TrimSpace(r.cfg.MetricsFile) == "" {
		return
	}
	if err := r.metrics.WriteTextfile(r.cfg.MetricsFile); err != nil {
		r.log.Warnw("write metrics textfile failed", "path", r.cfg.MetricsFile, "error", err)
	}
}
