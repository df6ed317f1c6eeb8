package bronze

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/klauspost/compress/gzip"
	"go.uber.org/zap"
)

// DefaultMaxPayloadBytes caps the payload stored inline on a bronze file.
const DefaultMaxPayloadBytes int64 = 100 * 1024 * 1024

type IngestorConfig struct {
	Store    Store
	Manifest *Manifest
	// Seen is the checksum set loaded from the store at run start. Inserted
	// checksums are added to it.
	Seen            ChecksumSet
	Clock           clockwork.Clock
	Logger          *zap.SugaredLogger
	Metrics         *Metrics
	Workers         int
	MaxPayloadBytes int64
	JobID           string
}

// Ingestor turns a directory tree into bronze files, one per new checksum.
type Ingestor struct {
	cfg IngestorConfig
	log *zap.SugaredLogger
}

func NewIngestor(cfg IngestorConfig) *Ingestor {
	if cfg.Workers <= 0 {
		cfg.Workers = runtime.NumCPU()
	}
	if cfg.MaxPayloadBytes <= 0 {
		cfg.MaxPayloadBytes = DefaultMaxPayloadBytes
	}
	if cfg.Seen == nil {
		cfg.Seen = ChecksumSet{}
	}
	cfg.Clock = orRealClock(cfg.Clock)
	return &Ingestor{cfg: cfg, log: orNopLogger(cfg.Logger)}
}

type checksumResult struct {
	path string
	sum  string
	err  error
}

// Ingest scans root in lexicographic order. Per-file failures go to the
// manifest; only an unreadable root or cancellation is returned.
func (in *Ingestor) Ingest(ctx context.Context, root string, src Source) error {
	paths, err := ListDataFiles(root)
	if err != nil {
		return err
	}
	start := in.cfg.Clock.Now()
	in.cfg.Manifest.Scanned(len(paths))
	in.log.Infow("ingest scan", "root", root, "source", src, "files", len(paths))

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	results := in.checksumAll(ctx, paths)

	for i, p := range paths {
		if err := ctx.Err(); err != nil {
			return err
		}
		// the producer stops feeding jobs on cancel, so results[i] may never arrive
		var res checksumResult
		select {
		case res = <-results[i]:
		case <-ctx.Done():
			return ctx.Err()
		}
		if res.err != nil {
			in.fileError(res.path, "", res.err)
			continue
		}
		if in.cfg.Seen.Has(res.sum) {
			in.cfg.Manifest.FileSkipped(SkippedFile{Path: p, FileID: res.sum, Reason: "already_ingested"})
			in.cfg.Metrics.file(StageIngest, "skipped")
			continue
		}
		if err := in.ingestFile(ctx, p, res.sum, src); err != nil {
			if errors.Is(err, ErrDuplicateFile) {
				in.cfg.Seen.Add(res.sum)
				in.cfg.Manifest.FileSkipped(SkippedFile{Path: p, FileID: res.sum, Reason: "already_ingested"})
				in.cfg.Metrics.file(StageIngest, "skipped")
				continue
			}
			in.fileError(p, res.sum, err)
		}
	}
	in.log.Infow("ingest done", "root", root, "source", src, "elapsed", ingestDuration(in.cfg.Clock, start))
	return nil
}

// checksumAll fans paths out to a bounded pool. results[i] receives exactly
// one value for paths[i] unless ctx is cancelled first; callers must select
// on ctx.Done() while waiting.
func (in *Ingestor) checksumAll(ctx context.Context, paths []string) []chan checksumResult {
	results := make([]chan checksumResult, len(paths))
	for i := range results {
		results[i] = make(chan checksumResult, 1)
	}
	jobs := make(chan int)
	for w := 0; w < in.cfg.Workers; w++ {
		go func() {
			for i := range jobs {
				sum, err := FileChecksum(paths[i])
				results[i] <- checksumResult{path: paths[i], sum: sum, err: err}
			}
		}()
	}
	go func() {
		defer close(jobs)
		for i := range paths {
			select {
			case jobs <- i:
			case <-ctx.Done():
				return
			}
		}
	}()
	return results
}

func (in *Ingestor) fileError(path string, fileID string, err error) {
	in.log.Warnw("ingest file failed", "path", path, "error", err)
	in.cfg.Manifest.FileError(ManifestError{Path: path, FileID: fileID, Error: err.Error()})
	in.cfg.Metrics.file(StageIngest, "errored")
}

func (in *Ingestor) ingestFile(ctx context.Context, path string, sum string, src Source) error {
	start := in.cfg.Clock.Now()
	info, err := os.Stat(path)
	if err != nil {
		return classifyFileErr(path, err)
	}
	md := ExtractMetadata(path, info.ModTime())
	format, compression, _ := DetectFormat(path)

	payload := in.readPayload(path, info.Size(), compression)
	rowCount, countErr := in.rowCount(path, payload, format, compression)
	if countErr != nil {
		in.cfg.Manifest.Warning(ManifestWarning{FileID: sum, Reason: fmt.Sprintf("row count: %v", countErr)})
	}

	now := nowUTC(in.cfg.Clock)
	f := &BronzeFile{
		FileID:           sum,
		Checksum:         sum,
		Source:           string(src),
		OriginalFilename: filepath.Base(path),
		FilePath:         resolvePath(path),
		FileSizeBytes:    info.Size(),
		Country:          "IN",
		StateName:        md.Place.State,
		DistrictName:     md.Place.District,
		MarketNameRaw:    md.Place.Market,
		MarketNameNorm:   NormalizeOptional(md.Place.Market),
		Year:             md.Year,
		Month:            md.Month,
		ReportedDate:     md.ReportedDate,
		RawPayload:       payload,
		RowCount:         rowCount,
		DataFormat:       format,
		Compression:      compression,
		PartitionPath:    md.PartitionPath,
		IngestJobID:      in.cfg.JobID,
		IngestTS:         now,
		IngestDurationMS: in.cfg.Clock.Since(start).Milliseconds(),
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if err := in.cfg.Store.InsertFile(ctx, f); err != nil {
		return err
	}
	in.cfg.Seen.Add(sum)
	in.cfg.Manifest.FileIngested(IngestedFile{FileID: sum, Path: path, RowCount: rowCount, PartitionPath: md.PartitionPath})
	in.cfg.Metrics.file(StageIngest, "ingested")
	in.cfg.Metrics.observeFile(StageIngest, in.cfg.Clock.Since(start))
	in.log.Debugw("ingested", "path", path, "file_id", sum, "rows", rowCount, "partition", md.PartitionPath)
	return nil
}

// readPayload returns the decoded text, or a sentinel when the content is over
// the cap or cannot be read. The cap applies after decompression.
func (in *Ingestor) readPayload(path string, size int64, compression string) string {
	limit := in.cfg.MaxPayloadBytes
	if compression == "" && size > limit {
		return tooLargeSentinel(size)
	}
	r, closeFn, err := openPayload(path, compression)
	if err != nil {
		return readErrorSentinel(err)
	}
	defer closeFn()

	var buf bytes.Buffer
	n, err := io.Copy(&buf, io.LimitReader(r, limit+1))
	if err != nil {
		return readErrorSentinel(err)
	}
	if n > limit {
		rest, err := io.Copy(io.Discard, r)
		if err != nil {
			return readErrorSentinel(err)
		}
		return tooLargeSentinel(n + rest)
	}
	return buf.String()
}

func (in *Ingestor) rowCount(path string, payload string, format string, compression string) (int, error) {
	if IsSentinel(payload) {
		if strings.HasPrefix(payload, sentinelReadError) {
			return 0, nil
		}
		r, closeFn, err := openPayload(path, compression)
		if err != nil {
			return 0, err
		}
		defer closeFn()
		return countRows(format, r)
	}
	return countRows(format, bytes.NewReader([]byte(payload)))
}

func openPayload(path string, compression string) (io.Reader, func(), error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, err
	}
	if compression != CompressionGzip {
		return f, func() { _ = f.Close() }, nil
	}
	zr, err := gzip.NewReader(f)
	if err != nil {
		_ = f.Close()
		return nil, nil, fmt.Errorf("gzip: %w", err)
	}
	return zr, func() {
		_ = zr.Close()
		_ = f.Close()
	}, nil
}

// ListDataFiles returns regular files under root with a recognized data
// extension, sorted lexicographically.
func ListDataFiles(root string) ([]string, error) {
	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("scan %s: %w", root, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("scan %s: not a directory", root)
	}
	var out []string
	err = filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			// unreadable subtrees are skipped, not fatal
			if d != nil && d.IsDir() && p != root {
				return fs.SkipDir
			}
			return err
		}
		if !d.Type().IsRegular() {
			return nil
		}
		if _, _, ok := DetectFormat(p); ok {
			out = append(out, p)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan %s: %w", root, err)
	}
	sort.Strings(out)
	return out, nil
}

// ingestDuration is how long an Ingest call has been running, for logs.
func ingestDuration(c clockwork.Clock, start time.Time) time.Duration {
	return c.Since(start).Round(time.Millisecond)
}
