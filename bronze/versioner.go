package bronze

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/jonboulle/clockwork"
	"gorm.io/datatypes"
)

// ErrInvalidRecord marks records dropped before versioning: a missing market
// or commodity, or a reported date that does not parse.
var ErrInvalidRecord = errors.New("invalid record")

// Outcome is the transition taken for one observation.
type Outcome int

const (
	OutcomeInserted Outcome = iota + 1
	OutcomeSkipped
	OutcomeSuperseded
)

func (o Outcome) String() string {
	switch o {
	case OutcomeInserted:
		return "inserted"
	case OutcomeSkipped:
		return "skipped"
	case OutcomeSuperseded:
		return "superseded"
	default:
		return "unknown"
	}
}

// keyState is what the store says about one natural key: either no version
// yet, or a latest row with its version and hash.
type keyState struct {
	latest *BronzeRow
}

func (s keyState) hasLatest() bool { return s.latest != nil }

// identity is the validated, normalized form of an observation.
type identity struct {
	naturalKey    string
	marketNorm    string
	commodityNorm string
	varietyNorm   string
	gradeNorm     string
	date          string
	year          int
	month         int
	day           int
}

func (id identity) rowID(fileID string, version int) string {
	return HashHex(strings.Join([]string{
		fileID, id.marketNorm, id.commodityNorm, id.varietyNorm, id.gradeNorm, id.date, strconv.Itoa(version),
	}, "|"), 32)
}

// NaturalKey validates obs and returns its grouping key. The error wraps
// ErrInvalidRecord.
func NaturalKey(obs Observation) (string, error) {
	id, err := resolveIdentity(obs)
	if err != nil {
		return "", err
	}
	return id.naturalKey, nil
}

func resolveIdentity(obs Observation) (identity, error) {
	market := NormalizeKey(obs.Market)
	if market == "" {
		return identity{}, fmt.Errorf("%w: missing market", ErrInvalidRecord)
	}
	commodity := NormalizeKey(obs.Commodity)
	if commodity == "" {
		return identity{}, fmt.Errorf("%w: missing commodity", ErrInvalidRecord)
	}
	day, ok := ParseReportedDate(obs.ReportedDate)
	if !ok {
		return identity{}, fmt.Errorf("%w: unparseable reported date %q", ErrInvalidRecord, obs.ReportedDate)
	}
	id := identity{
		marketNorm:    market,
		commodityNorm: commodity,
		varietyNorm:   deref(NormalizeOptional(obs.Variety)),
		gradeNorm:     deref(NormalizeOptional(obs.Grade)),
		date:          day.Format(dateLayoutISO),
		year:          day.Year(),
		month:         int(day.Month()),
		day:           day.Day(),
	}
	id.naturalKey = strings.Join([]string{
		string(obs.Source), id.marketNorm, id.commodityNorm, id.varietyNorm, id.gradeNorm, id.date,
	}, "|")
	return id, nil
}

// RecordHash hashes the measurement fields only, serialized as JSON with sorted keys.
func RecordHash(obs Observation) string {
	// encoding/json sorts map keys.
	b, _ := json.Marshal(obs.Measurements.fields(obs.Source))
	return HashHex(string(b), 32)
}

// Versioner applies SCD2 versioning for observations against a Store.
type Versioner struct {
	store Store
	clock clockwork.Clock
	locks *KeyedMutex
	jobID string
}

func NewVersioner(store Store, clock clockwork.Clock, jobID string) *Versioner {
	return &Versioner{
		store: store,
		clock: orRealClock(clock),
		locks: NewKeyedMutex(),
		jobID: jobID,
	}
}

// Apply records obs from fileID. It inserts version 1 for a new key, skips an
// observation equal to the latest one or already recorded from the same
// source row, or retires the latest row and inserts the next version.
// Invalid records return an error wrapping ErrInvalidRecord and touch nothing.
func (v *Versioner) Apply(ctx context.Context, fileID string, obs Observation, rowNumber int) (Outcome, *BronzeRow, error) {
	id, err := resolveIdentity(obs)
	if err != nil {
		return 0, nil, err
	}
	hash := RecordHash(obs)

	unlock := v.locks.Lock(id.naturalKey)
	defer unlock()

	latest, err := v.store.LatestVersion(ctx, id.naturalKey)
	if err != nil {
		return 0, nil, err
	}
	state := keyState{latest: latest}

	if !state.hasLatest() {
		row := v.newRow(fileID, obs, id, hash, 1, rowNumber)
		if err := v.store.InsertFirstVersion(ctx, row); err != nil {
			return 0, nil, err
		}
		return OutcomeInserted, row, nil
	}

	if state.latest.RecordHash == hash {
		return OutcomeSkipped, state.latest, nil
	}
	// A re-parse of an older record must not resurrect its superseded value.
	seen, err := v.store.HasObservation(ctx, id.naturalKey, fileID, rowNumber, hash)
	if err != nil {
		return 0, nil, err
	}
	if seen {
		return OutcomeSkipped, state.latest, nil
	}

	row := v.newRow(fileID, obs, id, hash, state.latest.Version+1, rowNumber)
	if err := v.store.SupersedeAndInsert(ctx, state.latest, row, row.IngestTS); err != nil {
		return 0, nil, err
	}
	return OutcomeSuperseded, row, nil
}

func (v *Versioner) newRow(fileID string, obs Observation, id identity, hash string, version int, rowNumber int) *BronzeRow {
	now := nowUTC(v.clock)
	q := Assess(obs)
	m := obs.Measurements
	row := &BronzeRow{
		RowID:           id.rowID(fileID, version),
		FileID:          fileID,
		Source:          string(obs.Source),
		NaturalKey:      id.naturalKey,
		Version:         version,
		Country:         "IN",
		StateName:       obs.State,
		DistrictName:    obs.District,
		MarketName:      obs.Market,
		MarketNameNorm:  id.marketNorm,
		CommodityName:   obs.Commodity,
		CommodityNorm:   id.commodityNorm,
		CommodityGroup:  obs.Group,
		Variety:         obs.Variety,
		Grade:           obs.Grade,
		ReportedDate:    id.date,
		Year:            id.year,
		Month:           id.month,
		Day:             id.day,
		Arrivals:        m.Arrivals.Value,
		Traded:          m.Traded.Value,
		MinPrice:        m.MinPrice.Value,
		MaxPrice:        m.MaxPrice.Value,
		ModalPrice:      m.ModalPrice.Value,
		HasNulls:        q.HasNulls,
		IsComplete:      q.IsComplete,
		NullFieldCount:  q.NullFieldCount,
		RecordHash:      hash,
		IsLatest:        true,
		IngestJobID:     v.jobID,
		IngestTS:        now,
		SourceRowNumber: rowNumber,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if len(obs.Raw) > 0 {
		row.RawRecord = datatypes.JSON(append([]byte(nil), obs.Raw...))
	}
	return row
}
