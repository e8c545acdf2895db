// Package artifacts persists backtest outputs: a trade blotter and signal
// context as CSV, the equity curve and assembled frames as Parquet. Files
// are named by run ID so artifact sets from different runs never collide.
package artifacts

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/parquet-go/parquet-go"

	"market-pit-lab/internal/backtest"
	"market-pit-lab/internal/worldstate"
)

// Paths lists where one run's artifacts landed.
type Paths struct {
	TradeBlotter  string
	SignalContext string
	EquityCurve   string
	Frames        string
}

// Writer writes run artifacts under a root directory.
type Writer struct {
	dir string
}

// NewWriter creates a writer rooted at dir.
func NewWriter(dir string) *Writer {
	return &Writer{dir: dir}
}

// EquityRecord is the Parquet schema for the equity curve.
type EquityRecord struct {
	Date     string  `parquet:"date"`
	Equity   float64 `parquet:"equity"`
	Drawdown float64 `parquet:"drawdown"`
}

// FrameRecord is the Parquet schema for one symbol-session slice of a
// snapshot, flattened for columnar analysis.
type FrameRecord struct {
	Date         string  `parquet:"date"`
	DecisionTsMs int64   `parquet:"decision_ts,timestamp(millisecond)"`
	Symbol       string  `parquet:"symbol"`
	Open         float64 `parquet:"open"`
	High         float64 `parquet:"high"`
	Low          float64 `parquet:"low"`
	Close        float64 `parquet:"close"`
	Volume       float64 `parquet:"volume"`
}

// WriteRun persists all artifacts for one finalized run.
func (w *Writer) WriteRun(runID string, res *backtest.Result) (*Paths, error) {
	runDir := filepath.Join(w.dir, "runs")
	if err := os.MkdirAll(runDir, 0o755); err != nil {
		return nil, fmt.Errorf("create artifact dir: %w", err)
	}

	paths := &Paths{
		TradeBlotter:  filepath.Join(runDir, fmt.Sprintf("trades-%s.csv", runID)),
		SignalContext: filepath.Join(runDir, fmt.Sprintf("signals-%s.csv", runID)),
		EquityCurve:   filepath.Join(runDir, fmt.Sprintf("equity-%s.parquet", runID)),
	}

	if err := writeTradeBlotter(paths.TradeBlotter, res.Trades); err != nil {
		return nil, err
	}
	if err := writeSignalContext(paths.SignalContext, res.Signals); err != nil {
		return nil, err
	}

	equity := make([]EquityRecord, len(res.EquityCurve))
	for i, p := range res.EquityCurve {
		equity[i] = EquityRecord{Date: p.Date, Equity: p.Equity, Drawdown: p.Drawdown}
	}
	if err := parquet.WriteFile(paths.EquityCurve, equity); err != nil {
		return nil, fmt.Errorf("write equity curve: %w", err)
	}
	return paths, nil
}

// WriteFrames exports a snapshot's bar frames for offline analysis.
func (w *Writer) WriteFrames(manifestID string, snap *worldstate.Snapshot) (string, error) {
	dir := filepath.Join(w.dir, "frames")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create artifact dir: %w", err)
	}
	path := filepath.Join(dir, fmt.Sprintf("frames-%s.parquet", manifestID))

	var records []FrameRecord
	for _, day := range snap.Days {
		for _, sym := range snap.Manifest.Universe {
			frame := day.Symbols[sym]
			if frame == nil || frame.Candle == nil {
				continue
			}
			c := frame.Candle
			records = append(records, FrameRecord{
				Date:         day.Date,
				DecisionTsMs: day.DecisionTsMs,
				Symbol:       sym,
				Open:         c.Open,
				High:         c.High,
				Low:          c.Low,
				Close:        c.Close,
				Volume:       c.Volume,
			})
		}
	}
	if err := parquet.WriteFile(path, records); err != nil {
		return "", fmt.Errorf("write frames: %w", err)
	}
	return path, nil
}

// ReadEquityCurve loads a previously written equity curve.
func ReadEquityCurve(path string) ([]EquityRecord, error) {
	return parquet.ReadFile[EquityRecord](path)
}

// ReadFrames loads a previously written frame export.
func ReadFrames(path string) ([]FrameRecord, error) {
	return parquet.ReadFile[FrameRecord](path)
}

func writeTradeBlotter(path string, trades []backtest.Trade) error {
	return writeCSV(path, []string{
		"symbol", "entry_ts", "exit_ts", "entry_price", "exit_price", "pnl", "entry_reason", "exit_reason",
	}, len(trades), func(i int) []string {
		t := trades[i]
		return []string{
			t.Symbol, t.EntryDate, t.ExitDate,
			formatFloat(t.EntryPrice), formatFloat(t.ExitPrice), formatFloat(t.PnL),
			t.EntryCode, t.ExitCode,
		}
	})
}

func writeSignalContext(path string, signals []backtest.SignalRecord) error {
	return writeCSV(path, []string{
		"symbol", "timestamp", "close", "sma_short", "sma_long", "signal", "reason_code",
	}, len(signals), func(i int) []string {
		s := signals[i]
		return []string{
			s.Symbol, s.Date,
			formatFloat(s.Close), formatFloat(s.ShortMA), formatFloat(s.LongMA),
			s.Side, s.ReasonCode,
		}
	})
}

func writeCSV(path string, header []string, n int, row func(int) []string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	defer f.Close()

	cw := csv.NewWriter(f)
	if err := cw.Write(header); err != nil {
		return err
	}
	for i := 0; i < n; i++ {
		if err := cw.Write(row(i)); err != nil {
			return err
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return err
	}
	return f.Close()
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}
