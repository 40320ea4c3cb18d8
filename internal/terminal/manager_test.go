package terminal

import (
	"context"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fxcockpit/internal/domain"
	"fxcockpit/internal/ports"
)

// --- Mock driver ---

type mockDriver struct {
	connectFunc      func(ctx context.Context, path string) error
	disconnectFunc   func(ctx context.Context) error
	terminalInfoFunc func(ctx context.Context) (*ports.TerminalInfo, error)
	selectSymbolFunc func(ctx context.Context, symbol string) error
	symbolsFunc      func(ctx context.Context) ([]string, error)
	symbolTickFunc   func(ctx context.Context, symbol string) (*domain.Tick, error)

	connectCalls    atomic.Int64
	disconnectCalls atomic.Int64
}

func (m *mockDriver) Connect(ctx context.Context, path string) error {
	m.connectCalls.Add(1)
	if m.connectFunc != nil {
		return m.connectFunc(ctx, path)
	}
	return nil
}

func (m *mockDriver) Disconnect(ctx context.Context) error {
	m.disconnectCalls.Add(1)
	if m.disconnectFunc != nil {
		return m.disconnectFunc(ctx)
	}
	return nil
}

func (m *mockDriver) TerminalInfo(ctx context.Context) (*ports.TerminalInfo, error) {
	if m.terminalInfoFunc != nil {
		return m.terminalInfoFunc(ctx)
	}
	return &ports.TerminalInfo{Connected: true, Server: "TestServer"}, nil
}

func (m *mockDriver) SelectSymbol(ctx context.Context, symbol string) error {
	if m.selectSymbolFunc != nil {
		return m.selectSymbolFunc(ctx, symbol)
	}
	return nil
}

func (m *mockDriver) Symbols(ctx context.Context) ([]string, error) {
	if m.symbolsFunc != nil {
		return m.symbolsFunc(ctx)
	}
	return nil, nil
}

func (m *mockDriver) SymbolTick(ctx context.Context, symbol string) (*domain.Tick, error) {
	if m.symbolTickFunc != nil {
		return m.symbolTickFunc(ctx, symbol)
	}
	return &domain.Tick{Symbol: symbol}, nil
}

func (m *mockDriver) Rates(ctx context.Context, symbol string, tf domain.Timeframe, count int) ([]domain.Bar, error) {
	return nil, nil
}

func (m *mockDriver) HistoryDeals(ctx context.Context, from, to time.Time) ([]domain.Deal, error) {
	return nil, nil
}

func (m *mockDriver) Positions(ctx context.Context) ([]domain.Position, error) {
	return nil, nil
}

type nopLogger struct{}

func (nopLogger) Debug(ctx context.Context, msg string, fields ...map[string]interface{}) {}
func (nopLogger) Info(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (nopLogger) Warn(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (nopLogger) Error(ctx context.Context, err error, msg string, fields ...map[string]interface{}) {
}

func newTestManager(t *testing.T, driver *mockDriver, clk clock.Clock, mutate func(*Config)) *Manager {
	t.Helper()
	cfg := Config{
		Symbol: "USDJPY",
		Driver: driver,
		Logger: nopLogger{},
		Clock:  clk,
	}
	if mutate != nil {
		mutate(&cfg)
	}
	m, err := NewManager(cfg)
	require.NoError(t, err)
	t.Cleanup(m.Close)
	return m
}

// --- Tests ---

func TestInitialize_Succeeds(t *testing.T) {
	driver := &mockDriver{}
	m := newTestManager(t, driver, clock.NewMock(), nil)

	assert.True(t, m.Initialize(context.Background()))
	assert.True(t, m.IsConnected())
	assert.Equal(t, domain.StateConnected, m.State())
	assert.Equal(t, "USDJPY", m.Symbol())
}

func TestInitialize_AlreadyConnectedIsNoop(t *testing.T) {
	driver := &mockDriver{}
	m := newTestManager(t, driver, clock.NewMock(), nil)

	require.True(t, m.Initialize(context.Background()))
	require.True(t, m.Initialize(context.Background()))
	assert.Equal(t, int64(1), driver.connectCalls.Load())
}

func TestInitialize_SingleAttemptInFlight(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	driver := &mockDriver{
		connectFunc: func(ctx context.Context, path string) error {
			close(started)
			<-release
			return nil
		},
	}
	m := newTestManager(t, driver, clock.New(), nil)

	firstDone := make(chan bool, 1)
	go func() { firstDone <- m.Initialize(context.Background()) }()
	<-started

	// A second caller arriving mid-attempt must not start another one.
	assert.False(t, m.Initialize(context.Background()))
	assert.Equal(t, int64(1), driver.connectCalls.Load())

	close(release)
	assert.True(t, <-firstDone)
	assert.Equal(t, int64(1), driver.connectCalls.Load())
}

func TestInitialize_CircuitBreakerSkipsRetriesWithinWindow(t *testing.T) {
	mockClk := clock.NewMock()
	driver := &mockDriver{
		connectFunc: func(ctx context.Context, path string) error {
			return ports.ErrConnectionFailed
		},
	}
	m := newTestManager(t, driver, mockClk, nil)

	assert.False(t, m.Initialize(context.Background()))
	assert.Equal(t, domain.StateBackoffWait, m.State())
	require.Equal(t, int64(1), driver.connectCalls.Load())

	// Within the 60s window the terminal must not be contacted again.
	mockClk.Add(30 * time.Second)
	assert.False(t, m.Initialize(context.Background()))
	assert.Equal(t, int64(1), driver.connectCalls.Load())

	// Past the window a fresh attempt runs.
	mockClk.Add(31 * time.Second)
	assert.False(t, m.Initialize(context.Background()))
	assert.Equal(t, int64(2), driver.connectCalls.Load())
}

func TestInitialize_RecoversAfterBackoffWindow(t *testing.T) {
	mockClk := clock.NewMock()
	var fail atomic.Bool
	fail.Store(true)
	driver := &mockDriver{
		connectFunc: func(ctx context.Context, path string) error {
			if fail.Load() {
				return ports.ErrConnectionFailed
			}
			return nil
		},
	}
	m := newTestManager(t, driver, mockClk, nil)

	require.False(t, m.Initialize(context.Background()))
	fail.Store(false)
	mockClk.Add(61 * time.Second)
	assert.True(t, m.Initialize(context.Background()))
	assert.True(t, m.IsConnected())
}

func TestInitialize_SymbolSuffixFallback(t *testing.T) {
	driver := &mockDriver{
		selectSymbolFunc: func(ctx context.Context, symbol string) error {
			if symbol == "USDJPYm" {
				return nil
			}
			return ports.ErrNotFound
		},
		symbolsFunc: func(ctx context.Context) ([]string, error) {
			return []string{"EURUSD", "GBPJPY", "USDJPYm"}, nil
		},
	}
	m := newTestManager(t, driver, clock.NewMock(), nil)

	require.True(t, m.Initialize(context.Background()))
	assert.Equal(t, "USDJPYm", m.Symbol())
}

func TestInitialize_KeepsConfiguredSymbolWhenNothingMatches(t *testing.T) {
	driver := &mockDriver{
		selectSymbolFunc: func(ctx context.Context, symbol string) error {
			return ports.ErrNotFound
		},
		symbolsFunc: func(ctx context.Context) ([]string, error) {
			return []string{"EURUSD", "GBPUSD"}, nil
		},
	}
	m := newTestManager(t, driver, clock.NewMock(), nil)

	// Connection still succeeds; the data calls will surface the problem.
	require.True(t, m.Initialize(context.Background()))
	assert.Equal(t, "USDJPY", m.Symbol())
}

func TestInitialize_VenueMismatchDisconnects(t *testing.T) {
	driver := &mockDriver{
		terminalInfoFunc: func(ctx context.Context) (*ports.TerminalInfo, error) {
			return &ports.TerminalInfo{Connected: true, Server: "OtherBroker-Live", Path: `C:\Other\terminal64.exe`}, nil
		},
	}
	m := newTestManager(t, driver, clock.NewMock(), func(cfg *Config) {
		cfg.ExpectedServer = "OANDA"
		cfg.AutoLaunch = false
	})

	assert.False(t, m.Initialize(context.Background()))
	assert.Equal(t, domain.StateBackoffWait, m.State())
	assert.Equal(t, int64(1), driver.disconnectCalls.Load())
}

func TestInitialize_VenueMatchOnPath(t *testing.T) {
	driver := &mockDriver{
		terminalInfoFunc: func(ctx context.Context) (*ports.TerminalInfo, error) {
			return &ports.TerminalInfo{Connected: true, Server: "Live-7", Path: `C:\Program Files\OANDA MetaTrader 5\terminal64.exe`}, nil
		},
	}
	m := newTestManager(t, driver, clock.NewMock(), func(cfg *Config) {
		cfg.ExpectedServer = "OANDA"
	})

	assert.True(t, m.Initialize(context.Background()))
}

func TestInitialize_AutoDiscoveryLaunchesTerminal(t *testing.T) {
	var launchedPath atomic.Value
	driver := &mockDriver{
		connectFunc: func(ctx context.Context, path string) error {
			if path == "" {
				return ports.ErrConnectionFailed
			}
			launchedPath.Store(path)
			return nil
		},
	}
	m := newTestManager(t, driver, clock.New(), func(cfg *Config) {
		cfg.AutoLaunch = true
		cfg.TerminalPaths = []string{`C:\missing\terminal64.exe`, `C:\present\terminal64.exe`}
		cfg.LaunchWait = time.Second
	})
	m.statFunc = func(path string) (os.FileInfo, error) {
		if path == `C:\present\terminal64.exe` {
			return nil, nil
		}
		return nil, os.ErrNotExist
	}

	assert.True(t, m.Initialize(context.Background()))
	assert.Equal(t, `C:\present\terminal64.exe`, launchedPath.Load())
}

func TestInitialize_AutoDiscoveryFailsWhenNoExecutableExists(t *testing.T) {
	driver := &mockDriver{
		connectFunc: func(ctx context.Context, path string) error {
			return ports.ErrConnectionFailed
		},
	}
	m := newTestManager(t, driver, clock.NewMock(), func(cfg *Config) {
		cfg.AutoLaunch = true
		cfg.TerminalPaths = []string{`C:\missing\terminal64.exe`}
	})
	m.statFunc = func(path string) (os.FileInfo, error) {
		return nil, os.ErrNotExist
	}

	assert.False(t, m.Initialize(context.Background()))
	assert.Equal(t, domain.StateBackoffWait, m.State())
}

func TestShutdown_IsIdempotent(t *testing.T) {
	driver := &mockDriver{}
	m := newTestManager(t, driver, clock.NewMock(), nil)
	require.True(t, m.Initialize(context.Background()))

	m.Shutdown(context.Background())
	m.Shutdown(context.Background())
	m.Shutdown(context.Background())

	assert.Equal(t, domain.StateDisconnected, m.State())
	assert.Equal(t, int64(1), driver.disconnectCalls.Load())
}

func TestShutdown_BeforeConnectDoesNothing(t *testing.T) {
	driver := &mockDriver{}
	m := newTestManager(t, driver, clock.NewMock(), nil)

	m.Shutdown(context.Background())
	assert.Equal(t, int64(0), driver.disconnectCalls.Load())
}

func TestExec_TimeoutAbandonsWaitButLaneStaysBusy(t *testing.T) {
	release := make(chan struct{})
	driver := &mockDriver{
		symbolTickFunc: func(ctx context.Context, symbol string) (*domain.Tick, error) {
			<-release
			return &domain.Tick{Symbol: symbol}, nil
		},
	}
	defer close(release)

	m := newTestManager(t, driver, clock.New(), func(cfg *Config) {
		cfg.OperationTimeout = 50 * time.Millisecond
	})
	require.True(t, m.Initialize(context.Background()))

	// First call hangs inside the native layer and times out.
	_, err := m.Tick(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ports.ErrTimeout)

	// The abandoned call still occupies the lane, so the next caller times
	// out waiting for it.
	_, err = m.Tick(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ports.ErrTimeout)
}

func TestExec_CallerCancellationAbandonsWait(t *testing.T) {
	release := make(chan struct{})
	driver := &mockDriver{
		symbolTickFunc: func(ctx context.Context, symbol string) (*domain.Tick, error) {
			<-release
			return &domain.Tick{Symbol: symbol}, nil
		},
	}
	defer close(release)

	m := newTestManager(t, driver, clock.New(), func(cfg *Config) {
		cfg.OperationTimeout = 10 * time.Second
	})
	require.True(t, m.Initialize(context.Background()))

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()
	_, err := m.Tick(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestDataOps_ConnectionLossResetsState(t *testing.T) {
	driver := &mockDriver{
		symbolTickFunc: func(ctx context.Context, symbol string) (*domain.Tick, error) {
			return nil, ports.ErrConnectionFailed
		},
	}
	m := newTestManager(t, driver, clock.NewMock(), nil)
	require.True(t, m.Initialize(context.Background()))

	_, err := m.Tick(context.Background())
	require.Error(t, err)
	assert.Equal(t, domain.StateDisconnected, m.State())
}

func TestClose_RejectsFurtherCalls(t *testing.T) {
	driver := &mockDriver{}
	m := newTestManager(t, driver, clock.NewMock(), nil)
	m.Close()

	_, err := m.Tick(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ports.ErrUnavailable)
}

func TestMatchSymbol(t *testing.T) {
	names := []string{"EURUSD", "usdjpy.pro", "GBPJPY"}
	assert.Equal(t, "usdjpy.pro", matchSymbol("USDJPY", names))
	assert.Equal(t, "", matchSymbol("USDJPY", []string{"EURUSD"}))
	assert.Equal(t, "", matchSymbol("USD", names))
}

func TestNewManager_ValidatesDependencies(t *testing.T) {
	_, err := NewManager(Config{Symbol: "USDJPY", Logger: nopLogger{}})
	assert.Error(t, err)

	_, err = NewManager(Config{Symbol: "USDJPY", Driver: &mockDriver{}})
	assert.Error(t, err)

	_, err = NewManager(Config{Driver: &mockDriver{}, Logger: nopLogger{}})
	assert.Error(t, err)
}
