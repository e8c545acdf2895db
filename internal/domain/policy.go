package domain

import "time"

// AdjustmentPolicy controls how corporate actions are applied to candles
// during world-state assembly.
type AdjustmentPolicy string

// Adjustment policy constants.
const (
	AdjustNone    AdjustmentPolicy = "none"
	AdjustBack    AdjustmentPolicy = "back_adjust"
	AdjustForward AdjustmentPolicy = "forward_adjust"
)

// Valid reports whether p is a known adjustment policy.
func (p AdjustmentPolicy) Valid() bool {
	switch p {
	case AdjustNone, AdjustBack, AdjustForward:
		return true
	}
	return false
}

// TieBreak selects the winning row when two rows for the same key share an
// identical publication timestamp.
type TieBreak string

// Tie-break constants. LastWriteWins is the default.
const (
	LastWriteWins  TieBreak = "last_write_wins"
	FirstWriteWins TieBreak = "first_write_wins"
)

// Valid reports whether t is a known tie-break rule.
func (t TieBreak) Valid() bool {
	return t == LastWriteWins || t == FirstWriteWins
}

// SessionCloseUTC is the offset from UTC midnight to the daily decision
// timestamp. Decisions for a trading day are made at that day's session
// close (21:00 UTC, NYSE close).
const SessionCloseUTC = 21 * time.Hour

// DateLayout is the wire format for date-range boundaries.
const DateLayout = "2006-01-02"

// DecisionTs returns the decision timestamp (ms) for the trading day
// containing the given UTC date.
func DecisionTs(day time.Time) int64 {
	midnight := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, time.UTC)
	return midnight.Add(SessionCloseUTC).UnixMilli()
}

// ParseDate parses a "YYYY-MM-DD" boundary into a UTC midnight time.
func ParseDate(s string) (time.Time, error) {
	return time.ParseInLocation(DateLayout, s, time.UTC)
}
