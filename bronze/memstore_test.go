package bronze

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// memStore is an in-memory Store with the same conflict rules as GormStore:
// (natural_key, version) is unique and supersession requires the row to
// still be latest.
type memStore struct {
	mu    sync.Mutex
	files map[string]*BronzeFile
	rows  map[string]*BronzeRow

	// afterLatest runs after LatestVersion has read, outside the lock.
	afterLatest func()
}

func newMemStore() *memStore {
	return &memStore{files: map[string]*BronzeFile{}, rows: map[string]*BronzeRow{}}
}

func (s *memStore) LoadChecksums(ctx context.Context) (ChecksumSet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	set := ChecksumSet{}
	for _, f := range s.files {
		set.Add(f.Checksum)
	}
	return set, nil
}

func (s *memStore) InsertFile(ctx context.Context, f *BronzeFile) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.files[f.FileID]; ok {
		return fmt.Errorf("insert file %s: %w", f.FileID, ErrDuplicateFile)
	}
	cp := *f
	s.files[f.FileID] = &cp
	return nil
}

func (s *memStore) ListFileIDs(ctx context.Context, source string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var files []*BronzeFile
	for _, f := range s.files {
		if source == "" || f.Source == source {
			files = append(files, f)
		}
	}
	sort.Slice(files, func(i, j int) bool {
		if !files[i].IngestTS.Equal(files[j].IngestTS) {
			return files[i].IngestTS.Before(files[j].IngestTS)
		}
		return files[i].FileID < files[j].FileID
	})
	ids := make([]string, 0, len(files))
	for _, f := range files {
		ids = append(ids, f.FileID)
	}
	return ids, nil
}

func (s *memStore) GetFile(ctx context.Context, fileID string) (*BronzeFile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, ok := s.files[fileID]
	if !ok {
		return nil, fmt.Errorf("get file %s: not found", fileID)
	}
	cp := *f
	return &cp, nil
}

func (s *memStore) LatestVersion(ctx context.Context, naturalKey string) (*BronzeRow, error) {
	s.mu.Lock()
	var best *BronzeRow
	for _, r := range s.rows {
		if r.NaturalKey == naturalKey && (best == nil || r.Version > best.Version) {
			best = r
		}
	}
	var out *BronzeRow
	if best != nil {
		cp := *best
		out = &cp
	}
	s.mu.Unlock()
	if s.afterLatest != nil {
		s.afterLatest()
	}
	return out, nil
}

func (s *memStore) HasObservation(ctx context.Context, naturalKey string, fileID string, rowNumber int, recordHash string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.rows {
		if r.NaturalKey == naturalKey && r.FileID == fileID && r.SourceRowNumber == rowNumber && r.RecordHash == recordHash {
			return true, nil
		}
	}
	return false, nil
}

func (s *memStore) InsertFirstVersion(ctx context.Context, row *BronzeRow) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.insertLocked(row)
}

func (s *memStore) SupersedeAndInsert(ctx context.Context, prev *BronzeRow, next *BronzeRow, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.rows[prev.RowID]
	if !ok || !cur.IsLatest {
		return fmt.Errorf("supersede %s: %w", prev.RowID, ErrVersionConflict)
	}
	if err := s.insertLocked(next); err != nil {
		return err
	}
	cur.IsLatest = false
	by := next.RowID
	cur.SupersededBy = &by
	t := at
	cur.SupersededAt = &t
	return nil
}

func (s *memStore) insertLocked(row *BronzeRow) error {
	for _, r := range s.rows {
		if r.NaturalKey == row.NaturalKey && r.Version == row.Version {
			return fmt.Errorf("insert row %s v%d: %w", row.NaturalKey, row.Version, ErrVersionConflict)
		}
	}
	if _, ok := s.rows[row.RowID]; ok {
		return fmt.Errorf("insert row %s: duplicate row id", row.RowID)
	}
	cp := *row
	s.rows[row.RowID] = &cp
	return nil
}

// history returns the rows of one key ordered by version.
func (s *memStore) history(naturalKey string) []BronzeRow {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []BronzeRow
	for _, r := range s.rows {
		if r.NaturalKey == naturalKey {
			out = append(out, *r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Version < out[j].Version })
	return out
}
