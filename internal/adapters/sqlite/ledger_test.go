package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fxcockpit/internal/domain"
)

type nopLogger struct{}

func (nopLogger) Debug(ctx context.Context, msg string, fields ...map[string]interface{}) {}
func (nopLogger) Info(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (nopLogger) Warn(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (nopLogger) Error(ctx context.Context, err error, msg string, fields ...map[string]interface{}) {
}

func newTestLedger(t *testing.T) *Ledger {
	t.Helper()
	ledger, err := NewLedger(Config{
		DBPath: filepath.Join(t.TempDir(), "ledger.db"),
		Logger: nopLogger{},
	})
	require.NoError(t, err)
	t.Cleanup(func() { ledger.Close() })
	return ledger
}

func openTrade(id string, entry time.Time) *domain.Trade {
	return &domain.Trade{
		TradeID:     id,
		Symbol:      "USDJPY",
		Direction:   domain.Long,
		EntryPrice:  149.80,
		Size:        0.5,
		EntryTime:   entry,
		EntryTicket: 100,
		CreatedAt:   entry.Add(time.Minute),
	}
}

func closedTrade(id string, entry time.Time) *domain.Trade {
	t := openTrade(id, entry)
	t.ExitPrice = 150.10
	t.ExitTime = entry.Add(2 * time.Hour)
	t.ExitTicket = 101
	t.RealizedPnL = 9.3
	mins := int64(120)
	t.DurationMinutes = &mins
	return t
}

func TestGet_AbsentRowReturnsNilNil(t *testing.T) {
	ledger := newTestLedger(t)

	trade, err := ledger.Get(context.Background(), "does-not-exist")
	require.NoError(t, err)
	assert.Nil(t, trade)
}

func TestUpsert_OpenTradeRoundtrip(t *testing.T) {
	ledger := newTestLedger(t)
	entry := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)
	want := openTrade("100", entry)

	require.NoError(t, ledger.Upsert(context.Background(), want))

	got, err := ledger.Get(context.Background(), "100")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, want.TradeID, got.TradeID)
	assert.Equal(t, want.Symbol, got.Symbol)
	assert.Equal(t, want.Direction, got.Direction)
	assert.Equal(t, want.EntryPrice, got.EntryPrice)
	assert.Equal(t, want.Size, got.Size)
	assert.True(t, got.EntryTime.Equal(want.EntryTime))
	assert.Equal(t, want.EntryTicket, got.EntryTicket)
	assert.False(t, got.IsClosed())
	assert.Zero(t, got.ExitPrice)
	assert.True(t, got.ExitTime.IsZero())
	assert.Nil(t, got.DurationMinutes)
}

func TestUpsert_ClosedTradeRoundtrip(t *testing.T) {
	ledger := newTestLedger(t)
	entry := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)
	want := closedTrade("100", entry)

	require.NoError(t, ledger.Upsert(context.Background(), want))

	got, err := ledger.Get(context.Background(), "100")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.True(t, got.IsClosed())
	assert.Equal(t, want.ExitPrice, got.ExitPrice)
	assert.True(t, got.ExitTime.Equal(want.ExitTime))
	assert.Equal(t, want.ExitTicket, got.ExitTicket)
	assert.Equal(t, want.RealizedPnL, got.RealizedPnL)
	require.NotNil(t, got.DurationMinutes)
	assert.Equal(t, int64(120), *got.DurationMinutes)
}

func TestUpsert_SecondWritePreservesCreatedAt(t *testing.T) {
	ledger := newTestLedger(t)
	entry := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)

	first := openTrade("100", entry)
	require.NoError(t, ledger.Upsert(context.Background(), first))

	// Same trade, later pass closes it with a different CreatedAt; the
	// original CreatedAt must survive.
	second := closedTrade("100", entry)
	second.CreatedAt = entry.Add(48 * time.Hour)
	require.NoError(t, ledger.Upsert(context.Background(), second))

	got, err := ledger.Get(context.Background(), "100")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.True(t, got.CreatedAt.Equal(first.CreatedAt))
	assert.True(t, got.IsClosed())
}

func TestUpsert_NeverCreatesDuplicateRows(t *testing.T) {
	ledger := newTestLedger(t)
	entry := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)

	for i := 0; i < 3; i++ {
		require.NoError(t, ledger.Upsert(context.Background(), closedTrade("100", entry)))
	}

	trades, err := ledger.List(context.Background(), 10, 0)
	require.NoError(t, err)
	assert.Len(t, trades, 1)
}

func TestList_OrdersByEntryTimeDescending(t *testing.T) {
	ledger := newTestLedger(t)
	base := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)

	require.NoError(t, ledger.Upsert(context.Background(), openTrade("1", base)))
	require.NoError(t, ledger.Upsert(context.Background(), openTrade("2", base.Add(time.Hour))))
	require.NoError(t, ledger.Upsert(context.Background(), openTrade("3", base.Add(2*time.Hour))))

	trades, err := ledger.List(context.Background(), 10, 0)
	require.NoError(t, err)
	require.Len(t, trades, 3)
	assert.Equal(t, "3", trades[0].TradeID)
	assert.Equal(t, "2", trades[1].TradeID)
	assert.Equal(t, "1", trades[2].TradeID)

	page, err := ledger.List(context.Background(), 1, 1)
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, "2", page[0].TradeID)
}

func TestStats(t *testing.T) {
	ledger := newTestLedger(t)
	base := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)

	win := closedTrade("1", base)
	win.RealizedPnL = 10.0
	loss := closedTrade("2", base.Add(time.Hour))
	loss.RealizedPnL = -4.0
	open := openTrade("3", base.Add(2*time.Hour))

	require.NoError(t, ledger.Upsert(context.Background(), win))
	require.NoError(t, ledger.Upsert(context.Background(), loss))
	require.NoError(t, ledger.Upsert(context.Background(), open))

	stats, err := ledger.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, stats.TotalTrades)
	assert.Equal(t, 2, stats.ClosedTrades)
	assert.Equal(t, 1, stats.Wins)
	assert.Equal(t, 1, stats.Losses)
	assert.InDelta(t, 0.5, stats.WinRate, 1e-9)
	assert.InDelta(t, 6.0, stats.TotalPnL, 1e-9)
	assert.InDelta(t, 120.0, stats.AvgDurationMinutes, 1e-9)
}

func TestStats_EmptyLedger(t *testing.T) {
	ledger := newTestLedger(t)

	stats, err := ledger.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, stats.TotalTrades)
	assert.Equal(t, 0, stats.ClosedTrades)
	assert.Zero(t, stats.WinRate)
	assert.Zero(t, stats.TotalPnL)
}
