package clickhouse

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"market-pit-lab/internal/domain"
)

func TestFundamentalsStore_RoundTrip(t *testing.T) {
	conn, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := NewFundamentalsStore(conn)

	rows := []*domain.FundamentalsRow{
		{Symbol: "AAPL", PublishedAtMs: 5000, IngestSeq: 1, Fields: map[string]float64{"eps": 2.1, "pe_ratio": 30.5}},
		{Symbol: "AAPL", PublishedAtMs: 5000, IngestSeq: 2, Fields: map[string]float64{"eps": 2.2}},
		{Symbol: "AAPL", PublishedAtMs: 9000, IngestSeq: 3, Fields: map[string]float64{"eps": 2.4}},
	}
	require.NoError(t, store.InsertBulk(ctx, rows))

	got, err := store.GetBySymbol(ctx, "AAPL")
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, int64(1), got[0].IngestSeq)
	assert.Equal(t, 30.5, got[0].Fields["pe_ratio"])

	// As-of boundary is inclusive on the publication timestamp.
	upTo, err := store.GetPublishedUpTo(ctx, "AAPL", 5000)
	require.NoError(t, err)
	require.Len(t, upTo, 2)
	assert.Equal(t, int64(5000), upTo[1].PublishedAtMs)
}
