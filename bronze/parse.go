package bronze

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"

	"github.com/cespare/xxhash/v2"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
)

type ParserConfig struct {
	Store     Store
	Versioner *Versioner
	Manifest  *Manifest
	Clock     clockwork.Clock
	Logger    *zap.SugaredLogger
	Metrics   *Metrics
	// Workers is the number of versioning goroutines per file. Records are
	// sharded by natural key so one key always lands on the same worker.
	Workers int
}

// Parser explodes bronze files of one source into versioned rows.
type Parser struct {
	cfg ParserConfig
	log *zap.SugaredLogger
}

func NewParser(cfg ParserConfig) *Parser {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	cfg.Clock = orRealClock(cfg.Clock)
	return &Parser{cfg: cfg, log: orNopLogger(cfg.Logger)}
}

// Parse handles every bronze file of src in ingest order. Cancellation is
// checked between files; a file that has started is always finished.
func (p *Parser) Parse(ctx context.Context, src Source) error {
	ids, err := p.cfg.Store.ListFileIDs(ctx, string(src))
	if err != nil {
		return err
	}
	p.log.Infow("parse start", "source", src, "files", len(ids))
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return err
		}
		f, err := p.cfg.Store.GetFile(ctx, id)
		if err != nil {
			p.log.Warnw("load bronze file failed", "file_id", id, "error", err)
			p.cfg.Manifest.FileError(ManifestError{FileID: id, Error: err.Error()})
			p.cfg.Metrics.file(StageParse, "errored")
			continue
		}
		p.parseFile(context.WithoutCancel(ctx), src, f)
	}
	return nil
}

type parsedRecord struct {
	row int
	obs Observation
}

type fileTally struct {
	mu       sync.Mutex
	inserted int
	skipped  int
	updated  int
}

func (t *fileTally) add(o Outcome) {
	t.mu.Lock()
	defer t.mu.Unlock()
	switch o {
	case OutcomeInserted:
		t.inserted++
	case OutcomeSkipped:
		t.skipped++
	case OutcomeSuperseded:
		t.updated++
	}
}

func (p *Parser) parseFile(ctx context.Context, src Source, f *BronzeFile) {
	start := p.cfg.Clock.Now()
	if IsSentinel(f.RawPayload) {
		p.skip(f, "payload_error")
		return
	}
	if strings.TrimSpace(f.RawPayload) == "" {
		p.skip(f, "no_records")
		return
	}

	raws, warnings := ParsePayload(f.RawPayload)
	for _, w := range warnings {
		p.cfg.Manifest.Warning(ManifestWarning{FileID: f.FileID, Line: w.Line, Reason: w.Err})
	}
	p.cfg.Metrics.warnings(len(warnings))
	if len(raws) == 0 {
		p.skip(f, "no_records")
		return
	}

	shards := make([][]parsedRecord, p.cfg.Workers)
	for i, raw := range raws {
		rec, ok := p.decode(src, f.FileID, i+1, raw)
		if !ok {
			continue
		}
		key, _ := NaturalKey(rec.obs)
		shard := int(xxhash.Sum64String(key) % uint64(len(shards)))
		shards[shard] = append(shards[shard], rec)
	}

	tally := &fileTally{}
	var wg sync.WaitGroup
	for _, shard := range shards {
		if len(shard) == 0 {
			continue
		}
		wg.Add(1)
		go func(recs []parsedRecord) {
			defer wg.Done()
			for _, rec := range recs {
				p.apply(ctx, f.FileID, rec, tally)
			}
		}(shard)
	}
	wg.Wait()

	p.cfg.Manifest.FileProcessed(ProcessedFile{
		FileID:   f.FileID,
		Filename: f.OriginalFilename,
		Inserted: tally.inserted,
		Skipped:  tally.skipped,
		Updated:  tally.updated,
	})
	p.cfg.Metrics.file(StageParse, "processed")
	p.cfg.Metrics.observeFile(StageParse, p.cfg.Clock.Since(start))
	p.log.Debugw("parsed", "file_id", f.FileID, "records", len(raws),
		"inserted", tally.inserted, "skipped", tally.skipped, "updated", tally.updated)
}

// decode turns one raw object into a validated record. Failures are recorded
// and reported as !ok.
func (p *Parser) decode(src Source, fileID string, row int, raw json.RawMessage) (parsedRecord, bool) {
	obs, err := DecodeObservation(src, raw)
	if err != nil {
		p.recordError(fileID, row, err)
		return parsedRecord{}, false
	}
	if _, err := NaturalKey(obs); err != nil {
		p.dropped(fileID, row, err)
		return parsedRecord{}, false
	}
	return parsedRecord{row: row, obs: obs}, true
}

func (p *Parser) apply(ctx context.Context, fileID string, rec parsedRecord, tally *fileTally) {
	outcome, _, err := p.cfg.Versioner.Apply(ctx, fileID, rec.obs, rec.row)
	if errors.Is(err, ErrInvalidRecord) {
		p.dropped(fileID, rec.row, err)
		return
	}
	if err != nil {
		p.recordError(fileID, rec.row, err)
		return
	}
	tally.add(outcome)
	p.cfg.Metrics.row(outcome)
}

func (p *Parser) skip(f *BronzeFile, reason string) {
	p.cfg.Manifest.FileSkipped(SkippedFile{FileID: f.FileID, Path: f.FilePath, Reason: reason})
	p.cfg.Metrics.file(StageParse, "skipped")
	p.log.Debugw("parse skipped", "file_id", f.FileID, "reason", reason)
}

func (p *Parser) dropped(fileID string, row int, err error) {
	p.log.Debugw("record dropped", "file_id", fileID, "row", row, "error", err)
	p.cfg.Manifest.RecordDropped(ManifestError{FileID: fileID, Row: row, Error: err.Error()})
	p.cfg.Metrics.dropped()
}

func (p *Parser) recordError(fileID string, row int, err error) {
	p.log.Warnw("record failed", "file_id", fileID, "row", row, "error", err)
	p.cfg.Manifest.RecordError(ManifestError{FileID: fileID, Row: row, Error: err.Error()})
	p.cfg.Metrics.recordError()
}
