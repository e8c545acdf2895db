package domain

// Candle represents one OHLCV price bar.
// Corresponds to the market_ohlcv dataset in the registry.
// A candle's publication timestamp equals its bar timestamp: the bar is
// observable the moment the session that produced it closes.
type Candle struct {
	Symbol      string
	TimestampMs int64 // bar close timestamp (ms, UTC)
	Open        float64
	High        float64
	Low         float64
	Close       float64
	Volume      float64
}

// PublishedAt returns the publication-equivalent timestamp of the bar.
func (c *Candle) PublishedAt() int64 {
	return c.TimestampMs
}

// FeaturePoint represents one derived technical indicator value.
// Computed only from candles with timestamp <= its own timestamp, so its
// publication timestamp equals its bar timestamp.
type FeaturePoint struct {
	Symbol      string
	TimestampMs int64
	Name        string // e.g. "sma_short", "sma_long"
	Value       float64
}

// PublishedAt returns the publication-equivalent timestamp of the feature.
func (f *FeaturePoint) PublishedAt() int64 {
	return f.TimestampMs
}
