package bronze

// Quality is the advisory data-quality summary stored on each inserted row.
type Quality struct {
	HasNulls       bool
	IsComplete     bool
	NullFieldCount int
}

// Assess counts missing required identity fields and measurements that were
// present but null. It never rejects a record.
func Assess(obs Observation) Quality {
	missing := 0
	for _, v := range requiredFields(obs) {
		if v == "" {
			missing++
		}
	}

	nulls := 0
	m := obs.Measurements
	for _, n := range []NullableNumber{m.Arrivals, m.Traded, m.MinPrice, m.MaxPrice, m.ModalPrice} {
		if n.Null() {
			nulls++
		}
	}

	return Quality{
		HasNulls:       nulls > 0,
		IsComplete:     missing == 0,
		NullFieldCount: missing + nulls,
	}
}

func requiredFields(obs Observation) []string {
	switch obs.Source {
	case SourceEnam:
		return []string{deref(obs.State), obs.Market, obs.Commodity, obs.ReportedDate}
	default:
		return []string{deref(obs.State), deref(obs.District), obs.Market, obs.Commodity, obs.ReportedDate}
	}
}
