package bronze

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

var (
	// ErrVersionConflict is returned when another writer already claimed the
	// version being inserted for a natural key.
	ErrVersionConflict = errors.New("version conflict")
	// ErrDuplicateFile is returned when a bronze file with the same checksum exists.
	ErrDuplicateFile = errors.New("bronze file already exists")
)

// Store is the persistence boundary used by the ingest and parse stages.
type Store interface {
	LoadChecksums(ctx context.Context) (ChecksumSet, error)
	InsertFile(ctx context.Context, f *BronzeFile) error
	ListFileIDs(ctx context.Context, source string) ([]string, error)
	GetFile(ctx context.Context, fileID string) (*BronzeFile, error)

	// LatestVersion returns the row with the highest version for the key, or nil.
	LatestVersion(ctx context.Context, naturalKey string) (*BronzeRow, error)
	// HasObservation reports whether the record at rowNumber of fileID already
	// produced a version of the key with this record hash.
	HasObservation(ctx context.Context, naturalKey string, fileID string, rowNumber int, recordHash string) (bool, error)
	InsertFirstVersion(ctx context.Context, row *BronzeRow) error
	// SupersedeAndInsert retires prev and inserts next in one transaction.
	SupersedeAndInsert(ctx context.Context, prev *BronzeRow, next *BronzeRow, at time.Time) error
}

func sqliteDSN(path string) string {
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	return path + sep + "_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"
}

func OpenDB(path string) (*gorm.DB, error) {
	db, err := gorm.Open(sqlite.Open(sqliteDSN(path)), &gorm.Config{
		TranslateError: true,
		Logger:         logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	// One connection: the store has a single owner per run and sqlite serializes writers anyway.
	sqlDB.SetMaxOpenConns(1)
	if err := db.AutoMigrate(&BronzeFile{}, &BronzeRow{}); err != nil {
		_ = sqlDB.Close()
		return nil, err
	}
	return db, nil
}

// OpenQueryDB opens an existing SQLite DB for querying without mutating schema.
func OpenQueryDB(path string) (*gorm.DB, error) {
	return gorm.Open(sqlite.Open(path), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
}

// GormStore implements Store on top of gorm.
type GormStore struct {
	db *gorm.DB
}

func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

func (s *GormStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	err = sqlDB.Close()
	s.db = nil
	return err
}

func (s *GormStore) LoadChecksums(ctx context.Context) (ChecksumSet, error) {
	var sums []string
	if err := s.db.WithContext(ctx).Model(&BronzeFile{}).Pluck("checksum", &sums).Error; err != nil {
		return nil, fmt.Errorf("load checksums: %w", err)
	}
	set := make(ChecksumSet, len(sums))
	for _, c := range sums {
		if c != "" {
			set.Add(c)
		}
	}
	return set, nil
}

func (s *GormStore) InsertFile(ctx context.Context, f *BronzeFile) error {
	err := s.db.WithContext(ctx).Create(f).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return fmt.Errorf("insert file %s: %w", f.FileID, ErrDuplicateFile)
	}
	if err != nil {
		return fmt.Errorf("insert file %s: %w", f.FileID, err)
	}
	return nil
}

func (s *GormStore) ListFileIDs(ctx context.Context, source string) ([]string, error) {
	var ids []string
	q := s.db.WithContext(ctx).Model(&BronzeFile{})
	if source != "" {
		q = q.Where("source = ?", source)
	}
	if err := q.Order("ingest_ts asc").Order("file_id asc").Pluck("file_id", &ids).Error; err != nil {
		return nil, fmt.Errorf("list files: %w", err)
	}
	return ids, nil
}

func (s *GormStore) GetFile(ctx context.Context, fileID string) (*BronzeFile, error) {
	var f BronzeFile
	if err := s.db.WithContext(ctx).Where("file_id = ?", fileID).Take(&f).Error; err != nil {
		return nil, fmt.Errorf("get file %s: %w", fileID, err)
	}
	return &f, nil
}

func (s *GormStore) LatestVersion(ctx context.Context, naturalKey string) (*BronzeRow, error) {
	var row BronzeRow
	err := s.db.WithContext(ctx).
		Where("natural_key = ?", naturalKey).
		Order("version desc").
		Limit(1).
		Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("latest version %q: %w", naturalKey, err)
	}
	return &row, nil
}

func (s *GormStore) HasObservation(ctx context.Context, naturalKey string, fileID string, rowNumber int, recordHash string) (bool, error) {
	var n int64
	err := s.db.WithContext(ctx).Model(&BronzeRow{}).
		Where("natural_key = ? AND file_id = ? AND source_row_number = ? AND record_hash = ?",
			naturalKey, fileID, rowNumber, recordHash).
		Count(&n).Error
	if err != nil {
		return false, fmt.Errorf("lookup observation %q: %w", naturalKey, err)
	}
	return n > 0, nil
}

func (s *GormStore) InsertFirstVersion(ctx context.Context, row *BronzeRow) error {
	return createRow(s.db.WithContext(ctx), row)
}

func (s *GormStore) SupersedeAndInsert(ctx context.Context, prev *BronzeRow, next *BronzeRow, at time.Time) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&BronzeRow{}).
			Where("row_id = ? AND is_latest = ?", prev.RowID, true).
			Updates(map[string]any{
				"is_latest":     false,
				"superseded_by": next.RowID,
				"superseded_at": at,
				"updated_at":    at,
			})
		if res.Error != nil {
			return fmt.Errorf("supersede %s: %w", prev.RowID, res.Error)
		}
		if res.RowsAffected == 0 {
			return fmt.Errorf("supersede %s: row is no longer latest: %w", prev.RowID, ErrVersionConflict)
		}
		return createRow(tx, next)
	})
}

func createRow(db *gorm.DB, row *BronzeRow) error {
	err := db.Omit(clause.Associations).Create(row).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return fmt.Errorf("insert row %s v%d: %w", row.NaturalKey, row.Version, ErrVersionConflict)
	}
	if err != nil {
		return fmt.Errorf("insert row %s v%d: %w", row.NaturalKey, row.Version, err)
	}
	return nil
}
