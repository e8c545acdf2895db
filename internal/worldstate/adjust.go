package worldstate

import (
	"market-pit-lab/internal/domain"
)

// adjustCandles applies the split adjustment policy to a symbol's bars.
// Input bars are store-ordered (timestamp ASC) and are not mutated.
//
// back_adjust scales bars before each split down by the split ratio so the
// series is continuous in the latest price basis. forward_adjust scales bars
// at or after each split up by the ratio, keeping the original basis.
// Dividends never alter bars; they are exposed on the frame instead.
func adjustCandles(policy domain.AdjustmentPolicy, candles []*domain.Candle, actions []*domain.CorporateAction) []*domain.Candle {
	adjusted := make([]*domain.Candle, len(candles))
	for i, c := range candles {
		copy := *c
		adjusted[i] = &copy
	}
	if policy == domain.AdjustNone {
		return adjusted
	}

	for _, action := range actions {
		if action.ActionType != domain.ActionTypeSplit || action.Value <= 0 {
			continue
		}
		for _, c := range adjusted {
			switch policy {
			case domain.AdjustBack:
				if c.TimestampMs < action.EffectiveAtMs {
					scaleCandle(c, 1/action.Value)
				}
			case domain.AdjustForward:
				if c.TimestampMs >= action.EffectiveAtMs {
					scaleCandle(c, action.Value)
				}
			}
		}
	}
	return adjusted
}

// scaleCandle scales prices by factor and volume by the inverse so notional
// is preserved.
func scaleCandle(c *domain.Candle, factor float64) {
	c.Open *= factor
	c.High *= factor
	c.Low *= factor
	c.Close *= factor
	if factor != 0 {
		c.Volume /= factor
	}
}
