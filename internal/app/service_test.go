package app

import (
	"context"
	"net/http"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fxcockpit/internal/domain"
	"fxcockpit/internal/ports"
	"fxcockpit/internal/reconcile"
	"fxcockpit/internal/terminal"
)

type nopLogger struct{}

func (nopLogger) Debug(ctx context.Context, msg string, fields ...map[string]interface{}) {}
func (nopLogger) Info(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (nopLogger) Warn(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (nopLogger) Error(ctx context.Context, err error, msg string, fields ...map[string]interface{}) {
}

type stubDriver struct{}

func (stubDriver) Connect(ctx context.Context, path string) error { return nil }
func (stubDriver) Disconnect(ctx context.Context) error           { return nil }
func (stubDriver) TerminalInfo(ctx context.Context) (*ports.TerminalInfo, error) {
	return &ports.TerminalInfo{Connected: true}, nil
}
func (stubDriver) SelectSymbol(ctx context.Context, symbol string) error { return nil }
func (stubDriver) Symbols(ctx context.Context) ([]string, error)         { return nil, nil }
func (stubDriver) SymbolTick(ctx context.Context, symbol string) (*domain.Tick, error) {
	return &domain.Tick{Symbol: symbol}, nil
}
func (stubDriver) Rates(ctx context.Context, symbol string, tf domain.Timeframe, count int) ([]domain.Bar, error) {
	return nil, nil
}
func (stubDriver) HistoryDeals(ctx context.Context, from, to time.Time) ([]domain.Deal, error) {
	return nil, nil
}
func (stubDriver) Positions(ctx context.Context) ([]domain.Position, error) { return nil, nil }

type countingMarket struct {
	calls atomic.Int64
}

func (m *countingMarket) Positions(ctx context.Context) ([]domain.Position, error) {
	m.calls.Add(1)
	return nil, nil
}

func (m *countingMarket) Deals(ctx context.Context, from, to time.Time) ([]domain.Deal, error) {
	return nil, nil
}

type nopLedger struct{}

func (nopLedger) Get(ctx context.Context, tradeID string) (*domain.Trade, error) { return nil, nil }
func (nopLedger) Upsert(ctx context.Context, trade *domain.Trade) error          { return nil }

func newTestService(t *testing.T, market *countingMarket) *Service {
	t.Helper()
	manager, err := terminal.NewManager(terminal.Config{
		Symbol: "USDJPY",
		Driver: stubDriver{},
		Logger: nopLogger{},
	})
	require.NoError(t, err)

	engine, err := reconcile.NewEngine(reconcile.Config{
		Market: market,
		Ledger: nopLedger{},
		Logger: nopLogger{},
	})
	require.NoError(t, err)

	svc, err := NewService(Config{
		Manager:      manager,
		Engine:       engine,
		Handler:      http.NotFoundHandler(),
		Logger:       nopLogger{},
		HTTPAddr:     "127.0.0.1:0",
		SyncInterval: time.Hour, // only the startup pass should run
	})
	require.NoError(t, err)
	return svc
}

func TestNewService_ValidatesDependencies(t *testing.T) {
	_, err := NewService(Config{})
	assert.Error(t, err)
}

func TestRun_StartupSyncAndGracefulStop(t *testing.T) {
	market := &countingMarket{}
	svc := newTestService(t, market)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- svc.Run(ctx) }()

	// Wait for the startup sync pass, then shut down.
	require.Eventually(t, func() bool {
		return market.calls.Load() >= 1
	}, 2*time.Second, 10*time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("service did not stop after context cancellation")
	}
}
