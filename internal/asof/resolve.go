// Package asof answers "what was known at this instant" questions over
// event-sourced datasets. Every function takes rows in store order
// (publication timestamp ASC, ingest sequence ASC) and a decision timestamp,
// and returns only what was published at or before that timestamp.
package asof

import (
	"market-pit-lab/internal/domain"
)

// FundamentalsAt returns the latest fundamentals row published at or before
// asOf, applying tieBreak among rows sharing the winning publication
// timestamp. Returns nil if nothing was published yet (valid case, not an
// error).
func FundamentalsAt(asOf int64, rows []*domain.FundamentalsRow, tieBreak domain.TieBreak) *domain.FundamentalsRow {
	// Find the last row published at or before asOf
	last := -1
	for i := len(rows) - 1; i >= 0; i-- {
		if rows[i].PublishedAtMs <= asOf {
			last = i
			break
		}
	}
	if last < 0 {
		return nil
	}

	if tieBreak == domain.FirstWriteWins {
		// Walk back to the first row sharing the winning timestamp
		for last > 0 && rows[last-1].PublishedAtMs == rows[last].PublishedAtMs {
			last--
		}
	}
	return rows[last]
}

// RatingAt returns the latest rating event revised at or before asOf,
// applying tieBreak among events sharing the winning revision timestamp.
// Returns nil if no rating was published yet.
func RatingAt(asOf int64, events []*domain.RatingEvent, tieBreak domain.TieBreak) *domain.RatingEvent {
	last := -1
	for i := len(events) - 1; i >= 0; i-- {
		if events[i].RevisedAtMs <= asOf {
			last = i
			break
		}
	}
	if last < 0 {
		return nil
	}

	if tieBreak == domain.FirstWriteWins {
		for last > 0 && events[last-1].RevisedAtMs == events[last].RevisedAtMs {
			last--
		}
	}
	return events[last]
}

// ActionsThrough returns all corporate actions effective at or before asOf,
// in effective-timestamp order. Price adjustment folds these cumulatively.
func ActionsThrough(asOf int64, actions []*domain.CorporateAction) []*domain.CorporateAction {
	var result []*domain.CorporateAction
	for _, a := range actions {
		if a.EffectiveAtMs > asOf {
			break
		}
		result = append(result, a)
	}
	return result
}

// CandleAt returns the candle whose session timestamp is the latest at or
// before asOf. Returns nil if the range starts after asOf.
func CandleAt(asOf int64, candles []*domain.Candle) *domain.Candle {
	for i := len(candles) - 1; i >= 0; i-- {
		if candles[i].TimestampMs <= asOf {
			return candles[i]
		}
	}
	return nil
}
