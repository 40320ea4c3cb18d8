// Package httpapi exposes the cockpit over HTTP: live quotes, bar history,
// market status, the trade journal and a manual sync trigger.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"fxcockpit/internal/domain"
	"fxcockpit/internal/indicators"
	"fxcockpit/internal/journal"
	"fxcockpit/internal/ports"
	"fxcockpit/internal/reconcile"
)

const defaultListLimit = 100

// Quotes is the market-data surface the API reads from.
type Quotes interface {
	CurrentPrice(ctx context.Context) (*domain.Tick, error)
	HistoricalBars(ctx context.Context, tf domain.Timeframe, count int) []domain.Bar
	IsMarketOpen(ctx context.Context) bool
	Symbol() string
}

// Syncer triggers a reconciliation pass on demand.
type Syncer interface {
	Sync(ctx context.Context) (*reconcile.Result, error)
}

// Server is the cockpit HTTP API.
type Server struct {
	quotes  Quotes
	ledger  ports.LedgerStore
	journal ports.TradeJournal
	syncer  Syncer
	logger  ports.Logger
	router  chi.Router
}

// Config holds the server's dependencies.
type Config struct {
	Quotes  Quotes
	Ledger  ports.LedgerStore
	Journal ports.TradeJournal
	Syncer  Syncer
	Logger  ports.Logger
}

// NewServer wires the route table.
func NewServer(cfg Config) (*Server, error) {
	if cfg.Quotes == nil || cfg.Ledger == nil || cfg.Journal == nil || cfg.Syncer == nil || cfg.Logger == nil {
		return nil, errors.New("missing required dependencies for HTTP server")
	}
	s := &Server{
		quotes:  cfg.Quotes,
		ledger:  cfg.Ledger,
		journal: cfg.Journal,
		syncer:  cfg.Syncer,
		logger:  cfg.Logger,
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Get("/health", s.handleHealth)
	r.Route("/prices", func(r chi.Router) {
		r.Get("/current", s.handleCurrentPrice)
		r.Get("/history", s.handlePriceHistory)
		r.Get("/indicators", s.handleIndicators)
	})
	r.Get("/market/status", s.handleMarketStatus)
	r.Route("/trades", func(r chi.Router) {
		r.Get("/", s.handleListTrades)
		r.Post("/", s.handleCreateTrade)
		r.Get("/stats", s.handleStats)
		r.Get("/performance", s.handlePerformance)
		r.Post("/sync", s.handleSync)
	})

	s.router = r
	return s, nil
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, r, http.StatusOK, map[string]interface{}{
		"status": "ok",
		"symbol": s.quotes.Symbol(),
	})
}

func (s *Server) handleCurrentPrice(w http.ResponseWriter, r *http.Request) {
	tick, err := s.quotes.CurrentPrice(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, r, http.StatusOK, tick)
}

func (s *Server) handlePriceHistory(w http.ResponseWriter, r *http.Request) {
	tf := domain.Timeframe(r.URL.Query().Get("timeframe"))
	if tf == "" {
		tf = domain.TimeframeM5
	}
	if !tf.IsValid() {
		s.writeJSON(w, r, http.StatusBadRequest, map[string]string{"error": "invalid timeframe"})
		return
	}
	count := queryInt(r, "count", 100)
	if count <= 0 || count > 5000 {
		s.writeJSON(w, r, http.StatusBadRequest, map[string]string{"error": "count must be between 1 and 5000"})
		return
	}

	bars := s.quotes.HistoricalBars(r.Context(), tf, count)
	s.writeJSON(w, r, http.StatusOK, map[string]interface{}{
		"symbol":    s.quotes.Symbol(),
		"timeframe": tf,
		"bars":      bars,
	})
}

// chartIndicators is the fixed overlay set rendered on the cockpit chart.
var chartIndicators = map[string]indicators.Indicator{
	"sma20": indicators.NewMovingAverage(indicators.MovingAverageConfig{
		IndicatorConfig: indicators.IndicatorConfig{Period: 20},
		Type:            indicators.SimpleMovingAverage,
	}),
	"sma50": indicators.NewMovingAverage(indicators.MovingAverageConfig{
		IndicatorConfig: indicators.IndicatorConfig{Period: 50},
		Type:            indicators.SimpleMovingAverage,
	}),
	"ema20": indicators.NewMovingAverage(indicators.MovingAverageConfig{
		IndicatorConfig: indicators.IndicatorConfig{Period: 20},
		Type:            indicators.ExponentialMovingAverage,
	}),
	"rsi14": indicators.NewRSI(indicators.RSIConfig{
		IndicatorConfig: indicators.IndicatorConfig{Period: 14},
		Overbought:      70,
		Oversold:        30,
	}),
	"atr14": indicators.NewATR(indicators.ATRConfig{
		IndicatorConfig: indicators.IndicatorConfig{Period: 14},
	}),
}

func (s *Server) handleIndicators(w http.ResponseWriter, r *http.Request) {
	tf := domain.Timeframe(r.URL.Query().Get("timeframe"))
	if tf == "" {
		tf = domain.TimeframeM5
	}
	if !tf.IsValid() {
		s.writeJSON(w, r, http.StatusBadRequest, map[string]string{"error": "invalid timeframe"})
		return
	}
	count := queryInt(r, "count", 200)
	if count <= 0 || count > 5000 {
		s.writeJSON(w, r, http.StatusBadRequest, map[string]string{"error": "count must be between 1 and 5000"})
		return
	}

	bars := s.quotes.HistoricalBars(r.Context(), tf, count)
	values := make(map[string]float64, len(chartIndicators))
	for key, ind := range chartIndicators {
		v, err := ind.Calculate(r.Context(), bars)
		if err != nil {
			// Not enough bars for this overlay; leave it out of the response.
			s.logger.Debug(r.Context(), "Indicator calculation skipped", map[string]interface{}{
				"indicator": ind.Name(), "error": err.Error(),
			})
			continue
		}
		values[key] = v
	}
	s.writeJSON(w, r, http.StatusOK, map[string]interface{}{
		"symbol":     s.quotes.Symbol(),
		"timeframe":  tf,
		"barCount":   len(bars),
		"indicators": values,
	})
}

func (s *Server) handleMarketStatus(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, r, http.StatusOK, map[string]interface{}{
		"symbol": s.quotes.Symbol(),
		"open":   s.quotes.IsMarketOpen(r.Context()),
	})
}

func (s *Server) handleListTrades(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", defaultListLimit)
	offset := queryInt(r, "offset", 0)
	if limit <= 0 || limit > 1000 || offset < 0 {
		s.writeJSON(w, r, http.StatusBadRequest, map[string]string{"error": "invalid limit or offset"})
		return
	}

	trades, err := s.journal.List(r.Context(), limit, offset)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, r, http.StatusOK, map[string]interface{}{"trades": trades, "count": len(trades)})
}

// createTradeRequest is a manual journal entry for trades made outside the
// connected terminal (another broker, a paper trade).
type createTradeRequest struct {
	Symbol     string     `json:"symbol"`
	Direction  string     `json:"direction"`
	EntryPrice float64    `json:"entryPrice"`
	ExitPrice  float64    `json:"exitPrice,omitempty"`
	Size       float64    `json:"size"`
	EntryTime  time.Time  `json:"entryTime"`
	ExitTime   *time.Time `json:"exitTime,omitempty"`
	PnL        float64    `json:"pnl,omitempty"`
}

func (s *Server) handleCreateTrade(w http.ResponseWriter, r *http.Request) {
	var req createTradeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeJSON(w, r, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}

	dir := domain.Direction(req.Direction)
	if dir != domain.Long && dir != domain.Short {
		s.writeJSON(w, r, http.StatusBadRequest, map[string]string{"error": "direction must be LONG or SHORT"})
		return
	}
	if req.Symbol == "" || req.Size <= 0 || req.EntryPrice <= 0 || req.EntryTime.IsZero() {
		s.writeJSON(w, r, http.StatusBadRequest, map[string]string{"error": "symbol, size, entryPrice and entryTime are required"})
		return
	}

	// Manual entries get a UUID key so they can never collide with
	// broker-derived trade ids, which are numeric.
	trade := &domain.Trade{
		TradeID:    "manual-" + uuid.NewString(),
		Symbol:     req.Symbol,
		Direction:  dir,
		EntryPrice: req.EntryPrice,
		Size:       req.Size,
		EntryTime:  req.EntryTime,
		CreatedAt:  time.Now().UTC(),
	}
	if req.ExitTime != nil && req.ExitPrice > 0 {
		trade.ExitPrice = req.ExitPrice
		trade.ExitTime = *req.ExitTime
		trade.RealizedPnL = req.PnL
		if trade.EntryTime.Before(trade.ExitTime) {
			mins := int64(trade.ExitTime.Sub(trade.EntryTime) / time.Minute)
			trade.DurationMinutes = &mins
		}
	}

	if err := s.ledger.Upsert(r.Context(), trade); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, r, http.StatusCreated, trade)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.journal.Stats(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, r, http.StatusOK, stats)
}

func (s *Server) handlePerformance(w http.ResponseWriter, r *http.Request) {
	// The performance report walks every row, so page through the journal.
	var trades []*domain.Trade
	for offset := 0; ; offset += 1000 {
		page, err := s.journal.List(r.Context(), 1000, offset)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		trades = append(trades, page...)
		if len(page) < 1000 {
			break
		}
	}
	s.writeJSON(w, r, http.StatusOK, journal.Summarize(trades))
}

func (s *Server) handleSync(w http.ResponseWriter, r *http.Request) {
	res, err := s.syncer.Sync(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, r, http.StatusOK, res)
}

// --- Response Helpers ---

func (s *Server) writeJSON(w http.ResponseWriter, r *http.Request, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.logger.Error(r.Context(), err, "Failed to encode response", map[string]interface{}{"path": r.URL.Path})
	}
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, ports.ErrUnavailable), errors.Is(err, ports.ErrConnectionFailed):
		status = http.StatusServiceUnavailable
	case errors.Is(err, ports.ErrTimeout):
		status = http.StatusGatewayTimeout
	case errors.Is(err, ports.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, ports.ErrInvalidRequest):
		status = http.StatusBadRequest
	}
	s.logger.Warn(r.Context(), "Request failed", map[string]interface{}{
		"path": r.URL.Path, "status": status, "error": err.Error(),
	})
	s.writeJSON(w, r, status, map[string]string{"error": err.Error()})
}

func queryInt(r *http.Request, key string, def int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return v
}
