package domain

// InstrumentMaster identifies a tradable symbol on an exchange.
// Symbol+Exchange is unique across the registry.
type InstrumentMaster struct {
	Symbol       string
	Exchange     string
	ActiveFromMs int64  // first tradable timestamp (ms)
	ActiveToMs   *int64 // nil while instrument is still active
}

// Active reports whether the instrument is tradable at ts.
func (m *InstrumentMaster) Active(ts int64) bool {
	if ts < m.ActiveFromMs {
		return false
	}
	if m.ActiveToMs != nil && ts > *m.ActiveToMs {
		return false
	}
	return true
}
