// Package worldstate assembles point-in-time snapshots: for every session in
// a range, the exact market view that was observable at that session's close.
// Leak-freedom is structural; a frame simply never contains a row published
// after its decision timestamp.
package worldstate

import (
	"market-pit-lab/internal/domain"
)

// SymbolFrame is one symbol's view at a decision timestamp.
type SymbolFrame struct {
	Candle       *domain.Candle     // session bar, adjusted per policy
	Features     map[string]float64 // technicals published at or before the decision ts
	Fundamentals *domain.FundamentalsRow
	Rating       *domain.RatingEvent
	Actions      []*domain.CorporateAction // effective at or before the decision ts
}

// DayFrame is the full universe view at one session close.
type DayFrame struct {
	Date         string // "YYYY-MM-DD"
	DecisionTsMs int64
	Symbols      map[string]*SymbolFrame
}

// Snapshot is an assembled world state plus the manifest that pins it.
// Frames are ordered by decision timestamp ASC.
type Snapshot struct {
	Manifest *domain.WorldStateManifest
	Days     []*DayFrame
}

// FrameAt returns the day frame for a decision timestamp, or nil.
func (s *Snapshot) FrameAt(decisionTsMs int64) *DayFrame {
	for _, day := range s.Days {
		if day.DecisionTsMs == decisionTsMs {
			return day
		}
	}
	return nil
}
