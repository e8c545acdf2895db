// Package main provides the registry ingestion entry point.
// Loads instrument, candle, technical, fundamentals, corporate action, and
// rating CSVs into the configured storage backend.
package main

import (
	"context"
	"encoding/csv"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"market-pit-lab/internal/config"
	"market-pit-lab/internal/domain"
	"market-pit-lab/internal/storage"
	chstore "market-pit-lab/internal/storage/clickhouse"
	"market-pit-lab/internal/storage/memory"
	pgstore "market-pit-lab/internal/storage/postgres"
)

func main() {
	// Parse flags
	configPath := flag.String("config", "", "Path to YAML/JSON config file")
	instrumentsPath := flag.String("instruments", "", "Instruments CSV: symbol,exchange,active_from_ms")
	candlesPath := flag.String("candles", "", "Candles CSV: symbol,date,open,high,low,close,volume")
	featuresPath := flag.String("features", "", "Technicals CSV: symbol,date,name,value")
	fundamentalsPath := flag.String("fundamentals", "", "Fundamentals CSV: symbol,published_at_ms,ingest_seq,field,value")
	actionsPath := flag.String("actions", "", "Corporate actions CSV: symbol,effective_at_ms,ingest_seq,action_type,value")
	ratingsPath := flag.String("ratings", "", "Ratings CSV: symbol,revised_at_ms,ingest_seq,agency,rating")
	flag.Parse()

	logger := log.New(os.Stderr, "[ingest] ", log.LstdFlags)

	cfg := config.Default()
	if *configPath != "" {
		var err error
		if cfg, err = config.LoadFromFile(*configPath); err != nil {
			logger.Fatalf("load config: %v", err)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Printf("Received signal %v, shutting down...", sig)
		cancel()
	}()

	ing, closeStores := newIngester(ctx, logger, cfg)
	defer closeStores()

	loads := []struct {
		name string
		path string
		fn   func(context.Context, string) (int, error)
	}{
		{"instruments", *instrumentsPath, ing.loadInstruments},
		{"candles", *candlesPath, ing.loadCandles},
		{"features", *featuresPath, ing.loadFeatures},
		{"fundamentals", *fundamentalsPath, ing.loadFundamentals},
		{"actions", *actionsPath, ing.loadActions},
		{"ratings", *ratingsPath, ing.loadRatings},
	}

	loaded := false
	for _, l := range loads {
		if l.path == "" {
			continue
		}
		loaded = true
		n, err := l.fn(ctx, l.path)
		if err != nil {
			logger.Fatalf("load %s: %v", l.name, err)
		}
		logger.Printf("Loaded %d %s rows from %s", n, l.name, l.path)
	}
	if !loaded {
		logger.Fatal("no input files given; see --help")
	}
}

// ingester writes dataset rows into a storage backend.
type ingester struct {
	instruments  storage.InstrumentStore
	candles      storage.CandleStore
	features     storage.FeatureStore
	fundamentals storage.FundamentalsStore
	actions      storage.CorporateActionStore
	ratings      storage.RatingStore
}

func newIngester(ctx context.Context, logger *log.Logger, cfg *config.Config) (*ingester, func()) {
	if cfg.Storage.Backend == "memory" {
		logger.Println("warning: memory backend discards everything at exit")
		return &ingester{
			instruments:  memory.NewInstrumentStore(),
			candles:      memory.NewCandleStore(),
			features:     memory.NewFeatureStore(),
			fundamentals: memory.NewFundamentalsStore(),
			actions:      memory.NewCorporateActionStore(),
			ratings:      memory.NewRatingStore(),
		}, func() {}
	}

	pool, err := pgstore.NewPool(ctx, cfg.Storage.PostgresDSN)
	if err != nil {
		logger.Fatalf("connect to postgres: %v", err)
	}
	conn, err := chstore.NewConn(ctx, cfg.Storage.ClickHouseDSN)
	if err != nil {
		pool.Close()
		logger.Fatalf("connect to clickhouse: %v", err)
	}

	return &ingester{
			instruments:  pgstore.NewInstrumentStore(pool),
			candles:      chstore.NewCandleStore(conn),
			features:     chstore.NewFeatureStore(conn),
			fundamentals: chstore.NewFundamentalsStore(conn),
			actions:      chstore.NewCorporateActionStore(conn),
			ratings:      chstore.NewRatingStore(conn),
		}, func() {
			conn.Close()
			pool.Close()
		}
}

func (g *ingester) loadInstruments(ctx context.Context, path string) (int, error) {
	n := 0
	err := forEachRow(path, 3, func(rec []string) error {
		activeFrom, err := strconv.ParseInt(rec[2], 10, 64)
		if err != nil {
			return fmt.Errorf("parse active_from_ms %q: %w", rec[2], err)
		}
		if err := g.instruments.Insert(ctx, &domain.InstrumentMaster{
			Symbol: rec[0], Exchange: rec[1], ActiveFromMs: activeFrom,
		}); err != nil {
			return err
		}
		n++
		return nil
	})
	return n, err
}

func (g *ingester) loadCandles(ctx context.Context, path string) (int, error) {
	var bars []*domain.Candle
	err := forEachRow(path, 7, func(rec []string) error {
		day, err := domain.ParseDate(rec[1])
		if err != nil {
			return err
		}
		vals, err := parseFloats(rec[2:7])
		if err != nil {
			return err
		}
		bars = append(bars, &domain.Candle{
			Symbol: rec[0], TimestampMs: domain.DecisionTs(day),
			Open: vals[0], High: vals[1], Low: vals[2], Close: vals[3], Volume: vals[4],
		})
		return nil
	})
	if err != nil {
		return 0, err
	}
	return len(bars), g.candles.InsertBulk(ctx, bars)
}

func (g *ingester) loadFeatures(ctx context.Context, path string) (int, error) {
	var points []*domain.FeaturePoint
	err := forEachRow(path, 4, func(rec []string) error {
		day, err := domain.ParseDate(rec[1])
		if err != nil {
			return err
		}
		value, err := strconv.ParseFloat(rec[3], 64)
		if err != nil {
			return fmt.Errorf("parse value %q: %w", rec[3], err)
		}
		points = append(points, &domain.FeaturePoint{
			Symbol: rec[0], TimestampMs: domain.DecisionTs(day), Name: rec[2], Value: value,
		})
		return nil
	})
	if err != nil {
		return 0, err
	}
	return len(points), g.features.InsertBulk(ctx, points)
}

func (g *ingester) loadFundamentals(ctx context.Context, path string) (int, error) {
	// One CSV row per (symbol, published_at_ms, ingest_seq, field); fields
	// sharing a key collapse into one row.
	type key struct {
		symbol    string
		published int64
		seq       int64
	}
	grouped := map[key]*domain.FundamentalsRow{}
	var order []key

	err := forEachRow(path, 5, func(rec []string) error {
		published, err := strconv.ParseInt(rec[1], 10, 64)
		if err != nil {
			return fmt.Errorf("parse published_at_ms %q: %w", rec[1], err)
		}
		seq, err := strconv.ParseInt(rec[2], 10, 64)
		if err != nil {
			return fmt.Errorf("parse ingest_seq %q: %w", rec[2], err)
		}
		value, err := strconv.ParseFloat(rec[4], 64)
		if err != nil {
			return fmt.Errorf("parse value %q: %w", rec[4], err)
		}

		k := key{rec[0], published, seq}
		row, ok := grouped[k]
		if !ok {
			row = &domain.FundamentalsRow{
				Symbol: rec[0], PublishedAtMs: published, IngestSeq: seq,
				Fields: map[string]float64{},
			}
			grouped[k] = row
			order = append(order, k)
		}
		row.Fields[rec[3]] = value
		return nil
	})
	if err != nil {
		return 0, err
	}

	rows := make([]*domain.FundamentalsRow, len(order))
	for i, k := range order {
		rows[i] = grouped[k]
	}
	return len(rows), g.fundamentals.InsertBulk(ctx, rows)
}

func (g *ingester) loadActions(ctx context.Context, path string) (int, error) {
	var actions []*domain.CorporateAction
	err := forEachRow(path, 5, func(rec []string) error {
		effective, err := strconv.ParseInt(rec[1], 10, 64)
		if err != nil {
			return fmt.Errorf("parse effective_at_ms %q: %w", rec[1], err)
		}
		seq, err := strconv.ParseInt(rec[2], 10, 64)
		if err != nil {
			return fmt.Errorf("parse ingest_seq %q: %w", rec[2], err)
		}
		value, err := strconv.ParseFloat(rec[4], 64)
		if err != nil {
			return fmt.Errorf("parse value %q: %w", rec[4], err)
		}
		actions = append(actions, &domain.CorporateAction{
			Symbol: rec[0], EffectiveAtMs: effective, IngestSeq: seq,
			ActionType: rec[3], Value: value,
		})
		return nil
	})
	if err != nil {
		return 0, err
	}
	return len(actions), g.actions.InsertBulk(ctx, actions)
}

func (g *ingester) loadRatings(ctx context.Context, path string) (int, error) {
	var events []*domain.RatingEvent
	err := forEachRow(path, 5, func(rec []string) error {
		revised, err := strconv.ParseInt(rec[1], 10, 64)
		if err != nil {
			return fmt.Errorf("parse revised_at_ms %q: %w", rec[1], err)
		}
		seq, err := strconv.ParseInt(rec[2], 10, 64)
		if err != nil {
			return fmt.Errorf("parse ingest_seq %q: %w", rec[2], err)
		}
		events = append(events, &domain.RatingEvent{
			Symbol: rec[0], RevisedAtMs: revised, IngestSeq: seq,
			Agency: rec[3], Rating: rec[4],
		})
		return nil
	})
	if err != nil {
		return 0, err
	}
	return len(events), g.ratings.InsertBulk(ctx, events)
}

// forEachRow streams a headered CSV, asserting a minimum column count.
func forEachRow(path string, minCols int, fn func([]string) error) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	r := csv.NewReader(f)
	if _, err := r.Read(); err != nil {
		return fmt.Errorf("read header: %w", err)
	}
	line := 1
	for {
		rec, err := r.Read()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		line++
		if len(rec) < minCols {
			return fmt.Errorf("line %d has %d columns, want %d", line, len(rec), minCols)
		}
		if err := fn(rec); err != nil {
			return fmt.Errorf("line %d: %w", line, err)
		}
	}
}

func parseFloats(fields []string) ([]float64, error) {
	out := make([]float64, len(fields))
	for i, s := range fields {
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return nil, fmt.Errorf("parse %q: %w", s, err)
		}
		out[i] = v
	}
	return out, nil
}
