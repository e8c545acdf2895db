package domain

// FundamentalsRow represents one published financial-statement fact set.
// PublishedAtMs is mandatory: a fundamentals row without a publication
// timestamp cannot participate in point-in-time resolution and is rejected
// at the store boundary.
//
// IngestSeq is assigned by the registry at insert time and orders rows that
// share an identical PublishedAtMs. Corrections are new rows with a later
// IngestSeq, never in-place updates.
type FundamentalsRow struct {
	Symbol        string
	PublishedAtMs int64
	IngestSeq     int64
	Fields        map[string]float64 // e.g. "pe_ratio", "eps", "revenue"
}

// Field returns the named fundamental value and whether it is present.
func (r *FundamentalsRow) Field(name string) (float64, bool) {
	v, ok := r.Fields[name]
	return v, ok
}

// CorporateAction types.
const (
	ActionTypeSplit    = "split"
	ActionTypeDividend = "dividend"
)

// CorporateAction represents a split, dividend or comparable event.
// EffectiveAtMs is mandatory and is the action's publication-equivalent
// timestamp for point-in-time resolution.
type CorporateAction struct {
	Symbol        string
	EffectiveAtMs int64
	IngestSeq     int64
	ActionType    string  // ActionTypeSplit | ActionTypeDividend
	Value         float64 // split ratio (new/old) or dividend per share
}

// RatingEvent represents one analyst rating change.
// RevisedAtMs is mandatory.
type RatingEvent struct {
	Symbol      string
	RevisedAtMs int64
	IngestSeq   int64
	Agency      string
	Rating      string // e.g. "buy", "hold", "sell"
}
