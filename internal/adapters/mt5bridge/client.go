// Package mt5bridge implements ports.TerminalDriver against the local
// terminal bridge process, a small sidecar that exposes the terminal's
// native API over HTTP/JSON on localhost. The bridge forwards each request
// to the synchronous native API, so requests must never be issued
// concurrently; the connection manager's serialized lane guarantees that.
package mt5bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"fxcockpit/internal/domain"
	"fxcockpit/internal/ports"
)

// Client talks to the terminal bridge. It is not goroutine-safe by contract
// (see ports.TerminalDriver).
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     ports.Logger
}

// Config holds configuration for the bridge client.
type Config struct {
	BaseURL string
	Logger  ports.Logger
}

// New creates a bridge client. The HTTP client carries no timeout of its
// own: call bounds are owned by the connection manager.
func New(cfg Config) (*Client, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required for bridge client")
	}
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("base URL is required for bridge client")
	}
	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		httpClient: &http.Client{},
		logger:     cfg.Logger,
	}, nil
}

// --- Wire records (native field names, as the bridge reports them) ---

type terminalInfoRecord struct {
	Connected bool   `json:"connected"`
	Path      string `json:"path"`
	Server    string `json:"server"`
	Company   string `json:"company"`
	Build     int    `json:"build"`
}

type tickRecord struct {
	Time   int64   `json:"time"`
	Bid    float64 `json:"bid"`
	Ask    float64 `json:"ask"`
	Last   float64 `json:"last"`
	Volume uint64  `json:"volume"`
}

type rateRecord struct {
	Time       int64   `json:"time"`
	Open       float64 `json:"open"`
	High       float64 `json:"high"`
	Low        float64 `json:"low"`
	Close      float64 `json:"close"`
	TickVolume int64   `json:"tick_volume"`
}

type dealRecord struct {
	Ticket     int64   `json:"ticket"`
	PositionID int64   `json:"position_id"`
	Symbol     string  `json:"symbol"`
	Type       int     `json:"type"`  // 0 buy, 1 sell, others are balance operations
	Entry      int     `json:"entry"` // 0 in, 1 out
	Volume     float64 `json:"volume"`
	Price      float64 `json:"price"`
	Time       int64   `json:"time"`
	Profit     float64 `json:"profit"`
	Swap       float64 `json:"swap"`
	Commission float64 `json:"commission"`
}

type positionRecord struct {
	Ticket     int64   `json:"ticket"`
	PositionID int64   `json:"position_id"`
	Symbol     string  `json:"symbol"`
	Type       int     `json:"type"` // 0 buy, 1 sell
	Volume     float64 `json:"volume"`
	PriceOpen  float64 `json:"price_open"`
	Time       int64   `json:"time"`
	Profit     float64 `json:"profit"`
	Swap       float64 `json:"swap"`
}

type errorBody struct {
	Error string `json:"error"`
}

// --- TerminalDriver implementation ---

// Connect attaches to a running terminal; a non-empty path launches the
// executable at that path first.
func (c *Client) Connect(ctx context.Context, path string) error {
	payload := map[string]string{}
	if path != "" {
		payload["path"] = path
	}
	return c.post(ctx, "/initialize", payload, nil)
}

// Disconnect releases the bridge's native connection.
func (c *Client) Disconnect(ctx context.Context) error {
	return c.post(ctx, "/shutdown", nil, nil)
}

// TerminalInfo returns metadata about the attached terminal.
func (c *Client) TerminalInfo(ctx context.Context) (*ports.TerminalInfo, error) {
	var rec terminalInfoRecord
	if err := c.get(ctx, "/terminal_info", nil, &rec); err != nil {
		return nil, err
	}
	return &ports.TerminalInfo{
		Connected: rec.Connected,
		Path:      rec.Path,
		Server:    rec.Server,
		Company:   rec.Company,
		Build:     rec.Build,
	}, nil
}

// SelectSymbol makes the symbol visible for quote and history requests.
func (c *Client) SelectSymbol(ctx context.Context, symbol string) error {
	return c.post(ctx, "/symbol_select", map[string]string{"symbol": symbol}, nil)
}

// Symbols returns the terminal's full instrument list.
func (c *Client) Symbols(ctx context.Context) ([]string, error) {
	var resp struct {
		Symbols []string `json:"symbols"`
	}
	if err := c.get(ctx, "/symbols", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Symbols, nil
}

// SymbolTick returns the most recent quote for the symbol.
func (c *Client) SymbolTick(ctx context.Context, symbol string) (*domain.Tick, error) {
	var rec tickRecord
	if err := c.get(ctx, "/tick", url.Values{"symbol": {symbol}}, &rec); err != nil {
		return nil, err
	}
	return &domain.Tick{
		Symbol: symbol,
		Time:   time.Unix(rec.Time, 0),
		Bid:    rec.Bid,
		Ask:    rec.Ask,
		Last:   rec.Last,
		Volume: rec.Volume,
	}, nil
}

// Rates returns up to count bars ordered by time ascending.
func (c *Client) Rates(ctx context.Context, symbol string, tf domain.Timeframe, count int) ([]domain.Bar, error) {
	if !tf.IsValid() {
		return nil, fmt.Errorf("unsupported timeframe %q: %w", tf, ports.ErrInvalidRequest)
	}
	params := url.Values{
		"symbol":    {symbol},
		"timeframe": {string(tf)},
		"count":     {strconv.Itoa(count)},
	}
	var recs []rateRecord
	if err := c.get(ctx, "/rates", params, &recs); err != nil {
		return nil, err
	}
	bars := make([]domain.Bar, 0, len(recs))
	for _, r := range recs {
		bars = append(bars, domain.Bar{
			Time:       time.Unix(r.Time, 0),
			Open:       r.Open,
			High:       r.High,
			Low:        r.Low,
			Close:      r.Close,
			TickVolume: r.TickVolume,
		})
	}
	return bars, nil
}

// HistoryDeals returns the deal history within [from, to]. Balance and
// credit operations reported by the terminal carry no market side and are
// dropped at this boundary.
func (c *Client) HistoryDeals(ctx context.Context, from, to time.Time) ([]domain.Deal, error) {
	params := url.Values{
		"from": {strconv.FormatInt(from.Unix(), 10)},
		"to":   {strconv.FormatInt(to.Unix(), 10)},
	}
	var recs []dealRecord
	if err := c.get(ctx, "/deals", params, &recs); err != nil {
		return nil, err
	}
	deals := make([]domain.Deal, 0, len(recs))
	for _, r := range recs {
		direction, ok := translateSide(r.Type)
		if !ok {
			c.logger.Debug(ctx, "Skipping non-market deal record", map[string]interface{}{"ticket": r.Ticket, "type": r.Type})
			continue
		}
		kind := domain.DealEntry
		if r.Entry == 1 {
			kind = domain.DealExit
		}
		deals = append(deals, domain.Deal{
			Ticket:     r.Ticket,
			PositionID: r.PositionID,
			Symbol:     r.Symbol,
			Kind:       kind,
			Direction:  direction,
			Volume:     r.Volume,
			Price:      r.Price,
			Time:       time.Unix(r.Time, 0),
			Profit:     r.Profit,
			Swap:       r.Swap,
			Commission: r.Commission,
		})
	}
	return deals, nil
}

// Positions returns all currently open positions.
func (c *Client) Positions(ctx context.Context) ([]domain.Position, error) {
	var recs []positionRecord
	if err := c.get(ctx, "/positions", nil, &recs); err != nil {
		return nil, err
	}
	positions := make([]domain.Position, 0, len(recs))
	for _, r := range recs {
		direction, ok := translateSide(r.Type)
		if !ok {
			c.logger.Warn(ctx, "Skipping position with unknown side", map[string]interface{}{"ticket": r.Ticket, "type": r.Type})
			continue
		}
		positions = append(positions, domain.Position{
			PositionID: r.PositionID,
			Ticket:     r.Ticket,
			Symbol:     r.Symbol,
			Direction:  direction,
			Volume:     r.Volume,
			OpenPrice:  r.PriceOpen,
			OpenTime:   time.Unix(r.Time, 0),
			Profit:     r.Profit,
			Swap:       r.Swap,
		})
	}
	return positions, nil
}

// --- Transport helpers ---

func (c *Client) get(ctx context.Context, path string, params url.Values, out interface{}) error {
	endpoint := c.baseURL + path
	if len(params) > 0 {
		endpoint += "?" + params.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fmt.Errorf("building request for %s: %w", path, err)
	}
	return c.do(req, path, out)
}

func (c *Client) post(ctx context.Context, path string, payload interface{}, out interface{}) error {
	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("encoding request for %s: %w", path, err)
		}
		body = strings.NewReader(string(raw))
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("building request for %s: %w", path, err)
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, path, out)
}

func (c *Client) do(req *http.Request, path string, out interface{}) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return c.translateTransportError(req.Context(), err, path)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return c.translateStatus(resp, path)
	}
	if out == nil {
		io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding response from %s: %w", path, err)
	}
	return nil
}

func (c *Client) translateTransportError(ctx context.Context, err error, path string) error {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("bridge call %s: %w: %w", path, ports.ErrTimeout, err)
	case errors.Is(err, context.Canceled):
		return fmt.Errorf("bridge call %s canceled: %w", path, err)
	default:
		c.logger.Debug(ctx, "Bridge transport failure", map[string]interface{}{"path": path, "error": err.Error()})
		return fmt.Errorf("bridge call %s: %w: %w", path, ports.ErrConnectionFailed, err)
	}
}

func (c *Client) translateStatus(resp *http.Response, path string) error {
	var body errorBody
	msg := resp.Status
	if err := json.NewDecoder(resp.Body).Decode(&body); err == nil && body.Error != "" {
		msg = body.Error
	}

	var sentinel error
	switch resp.StatusCode {
	case http.StatusNotFound:
		sentinel = ports.ErrNotFound
	case http.StatusBadRequest:
		sentinel = ports.ErrInvalidRequest
	case http.StatusServiceUnavailable, http.StatusBadGateway:
		sentinel = ports.ErrUnavailable
	default:
		sentinel = ports.ErrConnectionFailed
	}
	return fmt.Errorf("bridge call %s: %s: %w", path, msg, sentinel)
}

func translateSide(nativeType int) (domain.Direction, bool) {
	switch nativeType {
	case 0:
		return domain.Long, true
	case 1:
		return domain.Short, true
	default:
		return "", false
	}
}
