package bronze

import (
	"time"

	"gorm.io/datatypes"
)

// BronzeFile is one immutable record per distinct checksum. It is created once
// by the ingest stage and never updated afterwards.
type BronzeFile struct {
	FileID           string `gorm:"primaryKey;size:64"`
	Checksum         string `gorm:"uniqueIndex;size:64;not null"`
	Source           string `gorm:"index;size:32;not null"`
	OriginalFilename string `gorm:"size:512;not null"`
	FilePath         string `gorm:"size:2048;not null"`
	FileSizeBytes    int64
	Country          string `gorm:"size:8;default:IN"`
	StateName        *string
	DistrictName     *string
	MarketNameRaw    *string
	MarketNameNorm   *string `gorm:"index"`
	CommodityName    *string
	Year             int     `gorm:"index:idx_files_year_month"`
	Month            int     `gorm:"index:idx_files_year_month"`
	ReportedDate     *string `gorm:"size:10"`
	RawPayload       string  `gorm:"type:text"`
	RowCount         int
	// DataFormat is json or jsonl; Compression is "" or gzip.
	DataFormat       string    `gorm:"size:8"`
	Compression      string    `gorm:"size:8"`
	PartitionPath    string    `gorm:"size:512"`
	IngestJobID      string    `gorm:"index;size:128;not null"`
	IngestTS         time.Time `gorm:"index;not null"`
	IngestDurationMS int64
	CreatedAt        time.Time `gorm:"index"`
	UpdatedAt        time.Time

	// Rows is never loaded; it declares the bronze_rows.file_id foreign key.
	Rows []BronzeRow `gorm:"foreignKey:FileID;references:FileID;constraint:OnUpdate:RESTRICT,OnDelete:RESTRICT"`
}

// BronzeRow is one version of one observation. RowID is the physical key;
// (NaturalKey, Version) is the logical identity.
type BronzeRow struct {
	RowID  string `gorm:"primaryKey;size:32"`
	FileID string `gorm:"index;size:64;not null"`
	Source string `gorm:"index;size:32;not null"`

	NaturalKey string `gorm:"uniqueIndex:uniq_rows_key_version,priority:1;size:512;not null"`
	Version    int    `gorm:"uniqueIndex:uniq_rows_key_version,priority:2;not null;default:1"`

	Country        string `gorm:"size:8;default:IN"`
	StateName      *string
	DistrictName   *string
	MarketName     string `gorm:"not null"`
	MarketNameNorm string `gorm:"index:idx_rows_market_date,priority:1"`
	CommodityName  string `gorm:"not null"`
	CommodityNorm  string `gorm:"index:idx_rows_commodity_date,priority:1"`
	CommodityGroup *string
	Variety        *string
	Grade          *string
	ReportedDate   string `gorm:"size:10;not null;index;index:idx_rows_market_date,priority:2;index:idx_rows_commodity_date,priority:2"`
	Year           int    `gorm:"not null;index:idx_rows_year_month"`
	Month          int    `gorm:"not null;index:idx_rows_year_month"`
	Day            int    `gorm:"not null"`

	Arrivals   *float64
	Traded     *float64
	MinPrice   *float64
	MaxPrice   *float64
	ModalPrice *float64

	HasNulls       bool
	IsComplete     bool
	NullFieldCount int

	RecordHash   string  `gorm:"index;size:32;not null"`
	IsLatest     bool    `gorm:"index;not null;default:true"`
	SupersededBy *string `gorm:"size:32"`
	SupersededAt *time.Time

	IngestJobID     string    `gorm:"index;size:128;not null"`
	IngestTS        time.Time `gorm:"not null"`
	SourceRowNumber int
	RawRecord       datatypes.JSON

	CreatedAt time.Time `gorm:"index"`
	UpdatedAt time.Time
}
