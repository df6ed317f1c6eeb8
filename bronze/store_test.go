package bronze

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *GormStore {
	t.Helper()
	db, err := OpenDB(filepath.Join(t.TempDir(), "bronze.db"))
	require.NoError(t, err)
	s := NewGormStore(db)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func testFile(id string, src Source, ingestTS time.Time) *BronzeFile {
	return &BronzeFile{
		FileID:           id,
		Checksum:         id,
		Source:           string(src),
		OriginalFilename: id + ".jsonl",
		FilePath:         "/raw/" + id + ".jsonl",
		Year:             2024,
		Month:            1,
		RawPayload:       "",
		DataFormat:       FormatJSONL,
		IngestJobID:      "test",
		IngestTS:         ingestTS,
	}
}

func insertTestFile(t *testing.T, s Store, id string) {
	t.Helper()
	require.NoError(t, s.InsertFile(context.Background(), testFile(id, SourceAgmarknet, time.Now().UTC())))
}

func TestGormStore_InsertFileDuplicate(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	f := testFile("aaa", SourceAgmarknet, time.Now().UTC())
	require.NoError(t, s.InsertFile(ctx, f))

	err := s.InsertFile(ctx, testFile("aaa", SourceAgmarknet, time.Now().UTC()))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrDuplicateFile), "got %v", err)

	sums, err := s.LoadChecksums(ctx)
	require.NoError(t, err)
	assert.Len(t, sums, 1)
	assert.True(t, sums.Has("aaa"))
}

func TestGormStore_ListFileIDsOrder(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, s.InsertFile(ctx, testFile("c", SourceAgmarknet, base.Add(time.Hour))))
	require.NoError(t, s.InsertFile(ctx, testFile("b", SourceAgmarknet, base)))
	require.NoError(t, s.InsertFile(ctx, testFile("a", SourceAgmarknet, base)))
	require.NoError(t, s.InsertFile(ctx, testFile("z", SourceEnam, base)))

	ids, err := s.ListFileIDs(ctx, string(SourceAgmarknet))
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c"}, ids)

	all, err := s.ListFileIDs(ctx, "")
	require.NoError(t, err)
	assert.Len(t, all, 4)
}

func TestGormStore_VersionUniqueness(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	insertTestFile(t, s, "f1")

	row := &BronzeRow{RowID: "r1", FileID: "f1", Source: "agmarknet", NaturalKey: "k", Version: 1,
		MarketName: "Alpha", CommodityName: "Wheat", ReportedDate: "2024-01-01", Year: 2024, Month: 1, Day: 1,
		RecordHash: "h1", IsLatest: true, IngestJobID: "test", IngestTS: time.Now().UTC()}
	require.NoError(t, s.InsertFirstVersion(ctx, row))

	dup := *row
	dup.RowID = "r2"
	err := s.InsertFirstVersion(ctx, &dup)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrVersionConflict), "got %v", err)

	latest, err := s.LatestVersion(ctx, "k")
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.Equal(t, "r1", latest.RowID)

	none, err := s.LatestVersion(ctx, "missing")
	require.NoError(t, err)
	assert.Nil(t, none)
}

func TestGormStore_SupersedeRequiresLatest(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	insertTestFile(t, s, "f1")
	now := time.Now().UTC()

	v1 := &BronzeRow{RowID: "r1", FileID: "f1", Source: "agmarknet", NaturalKey: "k", Version: 1,
		MarketName: "Alpha", CommodityName: "Wheat", ReportedDate: "2024-01-01", Year: 2024, Month: 1, Day: 1,
		RecordHash: "h1", IsLatest: true, IngestJobID: "test", IngestTS: now}
	require.NoError(t, s.InsertFirstVersion(ctx, v1))

	v2 := *v1
	v2.RowID, v2.Version, v2.RecordHash = "r2", 2, "h2"
	require.NoError(t, s.SupersedeAndInsert(ctx, v1, &v2, now))

	// v1 is no longer latest, so a second writer holding the stale row loses.
	v2b := *v1
	v2b.RowID, v2b.Version, v2b.RecordHash = "r3", 2, "h3"
	err := s.SupersedeAndInsert(ctx, v1, &v2b, now)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrVersionConflict), "got %v", err)

	var rows []BronzeRow
	require.NoError(t, s.db.Order("version asc").Find(&rows).Error)
	require.Len(t, rows, 2)
	assert.False(t, rows[0].IsLatest)
	require.NotNil(t, rows[0].SupersededBy)
	assert.Equal(t, "r2", *rows[0].SupersededBy)
	assert.NotNil(t, rows[0].SupersededAt)
	assert.True(t, rows[1].IsLatest)

	seen, err := s.HasObservation(ctx, "k", "f1", 0, "h1")
	require.NoError(t, err)
	assert.True(t, seen)
	seen, err = s.HasObservation(ctx, "k", "f2", 0, "h1")
	require.NoError(t, err)
	assert.False(t, seen)
	seen, err = s.HasObservation(ctx, "k", "f1", 7, "h1")
	require.NoError(t, err)
	assert.False(t, seen)
}

func TestGormStore_RowNeedsFile(t *testing.T) {
	s := newTestStore(t)
	row := &BronzeRow{RowID: "r1", FileID: "nope", Source: "agmarknet", NaturalKey: "k", Version: 1,
		MarketName: "Alpha", CommodityName: "Wheat", ReportedDate: "2024-01-01", Year: 2024, Month: 1, Day: 1,
		RecordHash: "h1", IsLatest: true, IngestJobID: "test", IngestTS: time.Now().UTC()}
	require.Error(t, s.InsertFirstVersion(context.Background(), row))
}

func TestGormStore_ForeignKeyPointsAtFiles(t *testing.T) {
	s := newTestStore(t)
	var rowsDDL, filesDDL string
	require.NoError(t, s.db.Raw("SELECT sql FROM sqlite_master WHERE type = 'table' AND name = 'bronze_rows'").Scan(&rowsDDL).Error)
	require.NoError(t, s.db.Raw("SELECT sql FROM sqlite_master WHERE type = 'table' AND name = 'bronze_files'").Scan(&filesDDL).Error)
	assert.Contains(t, rowsDDL, "REFERENCES `bronze_files`")
	assert.NotContains(t, filesDDL, "REFERENCES")

	insertTestFile(t, s, "f1")
	f, err := s.GetFile(context.Background(), "f1")
	require.NoError(t, err)
	assert.Equal(t, "f1", f.FileID)
}
