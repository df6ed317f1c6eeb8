package bronze

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

const dateLayoutISO = "2006-01-02"

var reportedDateLayouts = []string{
	"02 Jan 2006",
	"02-Jan-2006",
	dateLayoutISO,
	"02/01/2006",
}

// ParseReportedDate accepts the date spellings used by the market feeds and
// returns the day in UTC.
func ParseReportedDate(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range reportedDateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), true
		}
	}
	// Timestamps such as 2024-01-01T10:00:00+05:30 keep their calendar day.
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC), true
	}
	if len(s) >= 10 {
		if t, err := time.Parse(dateLayoutISO, s[:10]); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// Measurements are every value that takes part in the record hash.
type Measurements struct {
	Arrivals   NullableNumber
	Traded     NullableNumber
	MinPrice   NullableNumber
	MaxPrice   NullableNumber
	ModalPrice NullableNumber
}

// fields returns the measurements keyed by their stored column name. Only keys
// the source layout defines are included.
func (m Measurements) fields(src Source) map[string]*float64 {
	out := map[string]*float64{
		"arrivals":    m.Arrivals.Value,
		"min_price":   m.MinPrice.Value,
		"max_price":   m.MaxPrice.Value,
		"modal_price": m.ModalPrice.Value,
	}
	if src == SourceEnam {
		out["traded"] = m.Traded.Value
	}
	return out
}

// Observation is a source record reduced to the shared identity, date and
// measurement shape used for versioning.
type Observation struct {
	Source       Source
	State        *string
	District     *string
	Market       string
	Commodity    string
	Group        *string
	Variety      *string
	Grade        *string
	ReportedDate string
	Measurements Measurements
	Raw          json.RawMessage
}

// AgmarknetRecord is one line of an Agmarknet daily price report.
type AgmarknetRecord struct {
	StateName     *string        `json:"state_name"`
	DistrictName  *string        `json:"district_name"`
	MarketName    *string        `json:"market_name"`
	CommodityName *string        `json:"commodity_name"`
	Group         *string        `json:"group"`
	Variety       *string        `json:"variety"`
	Grade         *string        `json:"grade"`
	ReportedDate  *string        `json:"reported_date"`
	Arrivals      NullableNumber `json:"arrivals"`
	MinPrice      NullableNumber `json:"min_price"`
	MaxPrice      NullableNumber `json:"max_price"`
	ModalPrice    NullableNumber `json:"modal_price"`
}

func (r AgmarknetRecord) Observation() Observation {
	return Observation{
		Source:       SourceAgmarknet,
		State:        trimOrNil(deref(r.StateName)),
		District:     trimOrNil(deref(r.DistrictName)),
		Market:       strings.TrimSpace(deref(r.MarketName)),
		Commodity:    strings.TrimSpace(deref(r.CommodityName)),
		Group:        trimOrNil(deref(r.Group)),
		Variety:      trimOrNil(deref(r.Variety)),
		Grade:        trimOrNil(deref(r.Grade)),
		ReportedDate: strings.TrimSpace(deref(r.ReportedDate)),
		Measurements: Measurements{
			Arrivals:   r.Arrivals,
			MinPrice:   r.MinPrice,
			MaxPrice:   r.MaxPrice,
			ModalPrice: r.ModalPrice,
		},
	}
}

// EnamRecord is one APMC trade summary from the e-NAM dashboard.
type EnamRecord struct {
	State             *string        `json:"state"`
	APMC              *string        `json:"apmc"`
	Commodity         *string        `json:"commodity"`
	CreatedAt         *string        `json:"created_at"`
	MinPrice          NullableNumber `json:"min_price"`
	ModalPrice        NullableNumber `json:"modal_price"`
	MaxPrice          NullableNumber `json:"max_price"`
	CommodityArrivals NullableNumber `json:"commodity_arrivals"`
	CommodityTraded   NullableNumber `json:"commodity_traded"`
}

func (r EnamRecord) Observation() Observation {
	return Observation{
		Source:       SourceEnam,
		State:        trimOrNil(deref(r.State)),
		Market:       strings.TrimSpace(deref(r.APMC)),
		Commodity:    strings.TrimSpace(deref(r.Commodity)),
		ReportedDate: strings.TrimSpace(deref(r.CreatedAt)),
		Measurements: Measurements{
			Arrivals:   r.CommodityArrivals,
			Traded:     r.CommodityTraded,
			MinPrice:   r.MinPrice,
			MaxPrice:   r.MaxPrice,
			ModalPrice: r.ModalPrice,
		},
	}
}

// DecodeObservation decodes one raw record object using the layout of src.
func DecodeObservation(src Source, raw json.RawMessage) (Observation, error) {
	var obs Observation
	switch src {
	case SourceAgmarknet:
		var rec AgmarknetRecord
		if err := json.Unmarshal(raw, &rec); err != nil {
			return Observation{}, fmt.Errorf("decode %s record: %w", src, err)
		}
		obs = rec.Observation()
	case SourceEnam:
		var rec EnamRecord
		if err := json.Unmarshal(raw, &rec); err != nil {
			return Observation{}, fmt.Errorf("decode %s record: %w", src, err)
		}
		obs = rec.Observation()
	default:
		return Observation{}, fmt.Errorf("decode record: unknown source %q", src)
	}
	obs.Raw = raw
	return obs, nil
}
