// Package terminal owns the lifecycle of the single connection to the
// trading terminal. The native API behind the bridge is synchronous,
// stateful and corrupts under concurrent use, so every native call is
// funneled through one serialized worker lane. The package also implements
// the connect circuit breaker, symbol resolution, optional auto-discovery of
// the terminal process, and venue verification.
package terminal

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/cenkalti/backoff/v4"

	"fxcockpit/internal/domain"
	"fxcockpit/internal/ports"
)

var errServerNotReady = errors.New("terminal launched but not connected to its server")

// Manager serializes access to the terminal and owns its ConnectionState.
type Manager struct {
	driver ports.TerminalDriver
	logger ports.Logger
	clk    clock.Clock
	cfg    Config

	requests chan func()
	stop     chan struct{}
	stopOnce sync.Once

	// statFunc probes install paths during auto-discovery; overridable in
	// tests.
	statFunc func(string) (os.FileInfo, error)

	mu            sync.Mutex
	state         domain.ConnectionState
	lastAttemptAt time.Time
	symbol        string // resolved symbol, may differ from the configured one
}

// Config holds configuration for the connection manager.
type Config struct {
	Symbol           string
	RetryInterval    time.Duration // Circuit-breaker window after a failed connect
	ConnectTimeout   time.Duration // Bound on a single connect attempt
	OperationTimeout time.Duration // Per-call bound for quote/position fetches
	HistoryTimeout   time.Duration // Per-call bound for bulk history fetches
	LaunchWait       time.Duration // Window to wait for a launched terminal to reach its server
	AutoLaunch       bool
	TerminalPaths    []string
	ExpectedServer   string // Optional venue check; empty disables it

	Driver ports.TerminalDriver
	Logger ports.Logger
	Clock  clock.Clock // Defaults to the real clock
}

// NewManager creates the manager and starts its worker lane.
func NewManager(cfg Config) (*Manager, error) {
	if cfg.Driver == nil {
		return nil, fmt.Errorf("terminal driver is required")
	}
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if cfg.Symbol == "" {
		return nil, fmt.Errorf("symbol is required")
	}
	if cfg.RetryInterval <= 0 {
		cfg.RetryInterval = 60 * time.Second
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 30 * time.Second
	}
	if cfg.OperationTimeout <= 0 {
		cfg.OperationTimeout = 5 * time.Second
	}
	if cfg.HistoryTimeout <= 0 {
		cfg.HistoryTimeout = 30 * time.Second
	}
	if cfg.LaunchWait <= 0 {
		cfg.LaunchWait = 30 * time.Second
	}
	clk := cfg.Clock
	if clk == nil {
		clk = clock.New()
	}

	m := &Manager{
		driver:   cfg.Driver,
		logger:   cfg.Logger,
		clk:      clk,
		cfg:      cfg,
		requests: make(chan func()),
		stop:     make(chan struct{}),
		statFunc: os.Stat,
		state:    domain.StateDisconnected,
		symbol:   cfg.Symbol,
	}
	go m.worker()
	return m, nil
}

// worker executes queued native calls strictly one at a time in submission
// order.
func (m *Manager) worker() {
	for {
		select {
		case task := <-m.requests:
			task()
		case <-m.stop:
			return
		}
	}
}

// Close stops the worker lane. The terminal connection itself is released
// via Shutdown.
func (m *Manager) Close() {
	m.stopOnce.Do(func() { close(m.stop) })
}

// exec runs fn on the worker lane with a bound on how long the caller
// waits. The bound covers queueing and execution; when it elapses only the
// wait is abandoned, the native call keeps occupying the lane until it
// returns on its own.
func (m *Manager) exec(ctx context.Context, timeout time.Duration, op string, fn func(ctx context.Context) error) error {
	done := make(chan error, 1)
	// The native call cannot be interrupted once started, so it runs with a
	// context detached from the caller's cancellation.
	callCtx := context.WithoutCancel(ctx)
	task := func() {
		done <- fn(callCtx)
	}

	timer := m.clk.Timer(timeout)
	defer timer.Stop()

	select {
	case m.requests <- task:
	case <-timer.C:
		m.logger.Warn(ctx, "Terminal call timed out waiting for the lane", map[string]interface{}{"op": op, "timeout": timeout.String()})
		return fmt.Errorf("%s: lane busy: %w", op, ports.ErrTimeout)
	case <-ctx.Done():
		return fmt.Errorf("%s: %w", op, ctx.Err())
	case <-m.stop:
		return fmt.Errorf("%s: manager closed: %w", op, ports.ErrUnavailable)
	}

	select {
	case err := <-done:
		return err
	case <-timer.C:
		m.logger.Warn(ctx, "Terminal call abandoned after timeout; native call still in flight", map[string]interface{}{"op": op, "timeout": timeout.String()})
		return fmt.Errorf("%s: %w", op, ports.ErrTimeout)
	case <-ctx.Done():
		return fmt.Errorf("%s: %w", op, ctx.Err())
	}
}

// --- State machine ---

// State returns the current connection state.
func (m *Manager) State() domain.ConnectionState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// IsConnected reports whether the manager holds an established connection.
func (m *Manager) IsConnected() bool {
	return m.State() == domain.StateConnected
}

// Symbol returns the resolved instrument name, which may differ from the
// configured one after a suffix fallback.
func (m *Manager) Symbol() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.symbol
}

func (m *Manager) setState(s domain.ConnectionState) {
	m.mu.Lock()
	m.state = s
	m.mu.Unlock()
}

// Initialize attempts to establish the terminal connection. It returns false
// without touching the terminal while the circuit breaker is open
// (a previous attempt failed less than RetryInterval ago).
func (m *Manager) Initialize(ctx context.Context) bool {
	m.mu.Lock()
	now := m.clk.Now()
	switch m.state {
	case domain.StateConnected:
		m.mu.Unlock()
		return true
	case domain.StateConnecting:
		// Another caller is mid-attempt; at most one attempt runs at a time.
		m.mu.Unlock()
		m.logger.Debug(ctx, "Connect attempt already in progress, skipping")
		return false
	case domain.StateBackoffWait:
		if elapsed := now.Sub(m.lastAttemptAt); elapsed < m.cfg.RetryInterval {
			remaining := m.cfg.RetryInterval - elapsed
			m.mu.Unlock()
			m.logger.Debug(ctx, "Connect attempt skipped, backoff active", map[string]interface{}{"retryIn": remaining.String()})
			return false
		}
	}
	m.state = domain.StateConnecting
	m.lastAttemptAt = now
	m.mu.Unlock()

	m.logger.Info(ctx, "Initializing terminal connection", map[string]interface{}{"symbol": m.cfg.Symbol})

	if err := m.connect(ctx); err != nil {
		m.logger.Error(ctx, err, "Terminal connection failed")
		m.setState(domain.StateBackoffWait)
		return false
	}

	m.resolveSymbol(ctx)
	m.setState(domain.StateConnected)
	m.logger.Info(ctx, "Terminal connected", map[string]interface{}{"symbol": m.Symbol()})
	return true
}

// connect attaches to a running terminal, verifying the venue when
// configured, and falls back to auto-discovery when attaching fails.
func (m *Manager) connect(ctx context.Context) error {
	attachErr := m.exec(ctx, m.cfg.ConnectTimeout, "Connect", func(c context.Context) error {
		return m.driver.Connect(c, "")
	})
	if attachErr == nil {
		if err := m.verifyVenue(ctx); err == nil {
			return nil
		} else if !errors.Is(err, ports.ErrTerminalMismatch) {
			// Metadata fetch failed; treat the session as usable anyway.
			m.logger.Warn(ctx, "Could not verify terminal venue", map[string]interface{}{"error": err.Error()})
			return nil
		} else if !m.cfg.AutoLaunch {
			return err
		}
		m.logger.Warn(ctx, "Connected terminal is not the expected venue, retrying via discovery")
		attachErr = errors.Join(attachErr, ports.ErrTerminalMismatch)
	}

	if !m.cfg.AutoLaunch {
		return attachErr
	}
	return m.discover(ctx, attachErr)
}

// verifyVenue checks terminal metadata against the configured venue and
// disconnects on mismatch.
func (m *Manager) verifyVenue(ctx context.Context) error {
	if m.cfg.ExpectedServer == "" {
		return nil
	}
	var info *ports.TerminalInfo
	err := m.exec(ctx, m.cfg.OperationTimeout, "TerminalInfo", func(c context.Context) error {
		var e error
		info, e = m.driver.TerminalInfo(c)
		return e
	})
	if err != nil {
		return err
	}

	expected := strings.ToLower(m.cfg.ExpectedServer)
	if strings.Contains(strings.ToLower(info.Server), expected) ||
		strings.Contains(strings.ToLower(info.Path), expected) {
		m.logger.Debug(ctx, "Terminal venue confirmed", map[string]interface{}{"server": info.Server, "path": info.Path})
		return nil
	}

	m.logger.Warn(ctx, "Terminal venue mismatch, disconnecting", map[string]interface{}{
		"expected": m.cfg.ExpectedServer, "server": info.Server, "path": info.Path,
	})
	if derr := m.exec(ctx, m.cfg.OperationTimeout, "Disconnect", m.driver.Disconnect); derr != nil {
		m.logger.Warn(ctx, "Disconnect after venue mismatch failed", map[string]interface{}{"error": derr.Error()})
	}
	return fmt.Errorf("expected venue %q, terminal reports server %q path %q: %w",
		m.cfg.ExpectedServer, info.Server, info.Path, ports.ErrTerminalMismatch)
}

// discover probes well-known install paths, launches the first terminal
// found and waits a bounded window for it to reach its trade server.
// Best-effort: any failure leaves the original error to the caller.
func (m *Manager) discover(ctx context.Context, attachErr error) error {
	m.logger.Info(ctx, "Terminal not reachable, attempting auto-discovery")
	for _, path := range m.cfg.TerminalPaths {
		if _, err := m.statFunc(path); err != nil {
			continue
		}
		m.logger.Info(ctx, "Found terminal executable, launching", map[string]interface{}{"path": path})

		// Launching may take much longer than a plain attach.
		err := m.exec(ctx, 2*m.cfg.ConnectTimeout, "Connect(launch)", func(c context.Context) error {
			return m.driver.Connect(c, path)
		})
		if err != nil {
			m.logger.Error(ctx, err, "Failed to launch terminal", map[string]interface{}{"path": path})
			continue
		}

		if err := m.waitForServer(ctx); err != nil {
			// Original behavior: proceed with the session, data may be stale
			// until the terminal finishes logging in.
			m.logger.Warn(ctx, "Terminal launched but not yet connected to its server", map[string]interface{}{"path": path})
		}
		return nil
	}
	m.logger.Error(ctx, attachErr, "Auto-discovery failed, no terminal executable found")
	return fmt.Errorf("auto-discovery failed: %w", attachErr)
}

// waitForServer polls terminal status once per second until the terminal
// reports a server connection or the launch window elapses.
func (m *Manager) waitForServer(ctx context.Context) error {
	attempts := uint64(m.cfg.LaunchWait / time.Second)
	if attempts == 0 {
		attempts = 1
	}
	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewConstantBackOff(time.Second), attempts), ctx)

	operation := func() error {
		var info *ports.TerminalInfo
		err := m.exec(ctx, m.cfg.OperationTimeout, "TerminalInfo", func(c context.Context) error {
			var e error
			info, e = m.driver.TerminalInfo(c)
			return e
		})
		if err != nil {
			return err
		}
		if !info.Connected {
			return errServerNotReady
		}
		m.logger.Info(ctx, "Terminal connected to its trade server", map[string]interface{}{"server": info.Server})
		return nil
	}
	return backoff.Retry(operation, policy)
}

// resolveSymbol selects the configured instrument, falling back to a scan of
// the terminal's instrument list for a name carrying both currency codes
// (broker suffix variants such as "USDJPYm"). Best effort: on failure the
// configured symbol is kept.
func (m *Manager) resolveSymbol(ctx context.Context) {
	selectErr := m.exec(ctx, m.cfg.OperationTimeout, "SelectSymbol", func(c context.Context) error {
		return m.driver.SelectSymbol(c, m.cfg.Symbol)
	})
	if selectErr == nil {
		m.mu.Lock()
		m.symbol = m.cfg.Symbol
		m.mu.Unlock()
		return
	}
	m.logger.Warn(ctx, "Configured symbol not selectable, scanning instrument list", map[string]interface{}{"symbol": m.cfg.Symbol})

	var names []string
	err := m.exec(ctx, m.cfg.OperationTimeout, "Symbols", func(c context.Context) error {
		var e error
		names, e = m.driver.Symbols(c)
		return e
	})
	if err != nil {
		m.logger.Error(ctx, err, "Instrument list fetch failed, keeping configured symbol")
		return
	}

	match := matchSymbol(m.cfg.Symbol, names)
	if match == "" {
		m.logger.Error(ctx, selectErr, "No matching instrument found, keeping configured symbol", map[string]interface{}{"symbol": m.cfg.Symbol})
		return
	}

	err = m.exec(ctx, m.cfg.OperationTimeout, "SelectSymbol", func(c context.Context) error {
		return m.driver.SelectSymbol(c, match)
	})
	if err != nil {
		m.logger.Error(ctx, err, "Failed to select matched instrument, keeping configured symbol", map[string]interface{}{"match": match})
		return
	}

	m.mu.Lock()
	m.symbol = match
	m.mu.Unlock()
	m.logger.Info(ctx, "Switched to matching instrument", map[string]interface{}{"configured": m.cfg.Symbol, "selected": match})
}

// matchSymbol returns the first instrument whose name contains both currency
// codes of the configured pair, case-insensitive. Returns "" when no
// instrument matches or the pair cannot be split into codes.
func matchSymbol(configured string, names []string) string {
	if len(configured) < 6 {
		return ""
	}
	base := strings.ToLower(configured[:3])
	quote := strings.ToLower(configured[3:6])
	for _, name := range names {
		lower := strings.ToLower(name)
		if strings.Contains(lower, base) && strings.Contains(lower, quote) {
			return name
		}
	}
	return ""
}

// Shutdown releases the terminal connection and resets state to
// Disconnected. Safe to call repeatedly.
func (m *Manager) Shutdown(ctx context.Context) {
	m.mu.Lock()
	if m.state == domain.StateDisconnected {
		m.mu.Unlock()
		return
	}
	m.state = domain.StateDisconnected
	m.mu.Unlock()

	if err := m.exec(ctx, m.cfg.OperationTimeout, "Disconnect", m.driver.Disconnect); err != nil {
		m.logger.Warn(ctx, "Terminal disconnect failed", map[string]interface{}{"error": err.Error()})
		return
	}
	m.logger.Info(ctx, "Terminal connection closed")
}

// markFailed transitions to Disconnected after a fatal terminal error so the
// next call re-initializes instead of reusing a dead session.
func (m *Manager) markFailed(ctx context.Context, err error) {
	if errors.Is(err, ports.ErrConnectionFailed) {
		m.logger.Warn(ctx, "Terminal connection lost", map[string]interface{}{"error": err.Error()})
		m.setState(domain.StateDisconnected)
	}
}

// --- Serialized data operations ---

// Tick fetches the most recent quote for the resolved symbol.
func (m *Manager) Tick(ctx context.Context) (*domain.Tick, error) {
	symbol := m.Symbol()
	var tick *domain.Tick
	err := m.exec(ctx, m.cfg.OperationTimeout, "SymbolTick", func(c context.Context) error {
		var e error
		tick, e = m.driver.SymbolTick(c, symbol)
		return e
	})
	if err != nil {
		m.markFailed(ctx, err)
		return nil, err
	}
	return tick, nil
}

// Bars fetches up to count bars for the resolved symbol, time ascending.
func (m *Manager) Bars(ctx context.Context, tf domain.Timeframe, count int) ([]domain.Bar, error) {
	symbol := m.Symbol()
	var bars []domain.Bar
	err := m.exec(ctx, m.cfg.HistoryTimeout, "Rates", func(c context.Context) error {
		var e error
		bars, e = m.driver.Rates(c, symbol, tf, count)
		return e
	})
	if err != nil {
		m.markFailed(ctx, err)
		return nil, err
	}
	return bars, nil
}

// Deals fetches the deal history within [from, to].
func (m *Manager) Deals(ctx context.Context, from, to time.Time) ([]domain.Deal, error) {
	var deals []domain.Deal
	err := m.exec(ctx, m.cfg.HistoryTimeout, "HistoryDeals", func(c context.Context) error {
		var e error
		deals, e = m.driver.HistoryDeals(c, from, to)
		return e
	})
	if err != nil {
		m.markFailed(ctx, err)
		return nil, err
	}
	return deals, nil
}

// Positions fetches all currently open positions.
func (m *Manager) Positions(ctx context.Context) ([]domain.Position, error) {
	var positions []domain.Position
	err := m.exec(ctx, m.cfg.OperationTimeout, "Positions", func(c context.Context) error {
		var e error
		positions, e = m.driver.Positions(c)
		return e
	})
	if err != nil {
		m.markFailed(ctx, err)
		return nil, err
	}
	return positions, nil
}
