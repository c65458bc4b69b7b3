package binance

import (
	"bytes"
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

	"github.com/rustyeddy/spottrader/broker"
	"github.com/rustyeddy/spottrader/market"
)

var ErrMissingCredentials = errors.New("binance: api key and secret are required")

func init() {
	broker.Register("binance", func(c broker.Credentials) (broker.Exchange, error) {
		cl, err := New(c.APIKey, c.SecretKey, c.Testnet)
		if err != nil {
			return nil, err
		}
		cl.BaseURL = BaseURL(c.Testnet, c.BaseURL)
		return cl, nil
	})
}

// APIError is a non-transient error response from the exchange.
type APIError struct {
	Status int    `json:"-"`
	Code   int    `json:"code"`
	Msg    string `json:"msg"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("binance http %d: code %d: %s", e.Status, e.Code, e.Msg)
}

// Client is a minimal Binance spot REST client. Public endpoints work
// without credentials.
type Client struct {
	BaseURL    string
	APIKey     string
	RecvWindow time.Duration
	HTTP       *http.Client

	signer *Signer
	now    func() time.Time
}

// New returns an authenticated client. Both keys must be set.
func New(apiKey, secretKey string, testnet bool) (*Client, error) {
	if strings.TrimSpace(apiKey) == "" || strings.TrimSpace(secretKey) == "" {
		return nil, ErrMissingCredentials
	}
	c := NewPublic(BaseURL(testnet, ""))
	c.APIKey = apiKey
	c.signer = NewSigner(secretKey)
	return c, nil
}

// Close wipes the secret. Signed calls fail with ErrMissingCredentials
// afterwards; public endpoints keep working.
func (c *Client) Close() error {
	c.signer.Wipe()
	c.signer = nil
	return nil
}

// NewPublic returns a client for market data endpoints only.
func NewPublic(baseURL string) *Client {
	return &Client{
		BaseURL:    BaseURL(false, baseURL),
		RecvWindow: 5 * time.Second,
		HTTP:       &http.Client{Timeout: 15 * time.Second},
		now:        time.Now,
	}
}

type balance struct {
	Asset  string `json:"asset"`
	Free   string `json:"free"`
	Locked string `json:"locked"`
}

type accountResponse struct {
	Balances []balance `json:"balances"`
}

// Balance returns the free amount of asset. Unknown assets are zero.
func (c *Client) Balance(ctx context.Context, asset string) (float64, error) {
	var resp accountResponse
	if err := c.do(ctx, http.MethodGet, "/api/v3/account", url.Values{}, true, &resp); err != nil {
		return 0, err
	}
	for _, b := range resp.Balances {
		if strings.EqualFold(b.Asset, asset) {
			return parseFloat("free", b.Free)
		}
	}
	return 0, nil
}

// Candles returns up to limit klines, oldest first.
func (c *Client) Candles(ctx context.Context, symbol, interval string, limit int) ([]market.Candle, error) {
	if symbol == "" {
		return nil, fmt.Errorf("symbol is required")
	}
	if limit <= 0 || limit > 1000 {
		return nil, fmt.Errorf("limit must be in 1..1000, got %d", limit)
	}

	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("interval", interval)
	params.Set("limit", strconv.Itoa(limit))

	var raw [][]json.RawMessage
	if err := c.do(ctx, http.MethodGet, "/api/v3/klines", params, false, &raw); err != nil {
		return nil, err
	}

	candles := make([]market.Candle, 0, len(raw))
	for i, k := range raw {
		if len(k) < 6 {
			return nil, fmt.Errorf("kline %d: want at least 6 fields, got %d", i, len(k))
		}
		var openMs int64
		if err := json.Unmarshal(k[0], &openMs); err != nil {
			return nil, fmt.Errorf("kline %d open time: %w", i, err)
		}
		var vals [5]float64
		for j := range vals {
			var s string
			if err := json.Unmarshal(k[j+1], &s); err != nil {
				return nil, fmt.Errorf("kline %d field %d: %w", i, j+1, err)
			}
			v, err := parseFloat("kline", s)
			if err != nil {
				return nil, err
			}
			vals[j] = v
		}
		candles = append(candles, market.Candle{
			OpenTime: time.UnixMilli(openMs).UTC(),
			Open:     vals[0],
			High:     vals[1],
			Low:      vals[2],
			Close:    vals[3],
			Volume:   vals[4],
		})
	}
	return candles, nil
}

func (c *Client) RecentCloses(ctx context.Context, symbol, interval string, limit int) ([]float64, error) {
	candles, err := c.Candles(ctx, symbol, interval, limit)
	if err != nil {
		return nil, err
	}
	return market.Closes(candles), nil
}

type exchangeInfoResponse struct {
	Symbols []struct {
		Symbol     string           `json:"symbol"`
		Status     string           `json:"status"`
		BaseAsset  string           `json:"baseAsset"`
		QuoteAsset string           `json:"quoteAsset"`
		Filters    []map[string]any `json:"filters"`
	} `json:"symbols"`
}

func (c *Client) SymbolInfo(ctx context.Context, symbol string) (market.SymbolInfo, error) {
	params := url.Values{}
	params.Set("symbol", symbol)

	var resp exchangeInfoResponse
	if err := c.do(ctx, http.MethodGet, "/api/v3/exchangeInfo", params, false, &resp); err != nil {
		return market.SymbolInfo{}, err
	}

	for _, s := range resp.Symbols {
		if !strings.EqualFold(s.Symbol, symbol) {
			continue
		}
		info := market.SymbolInfo{
			Symbol:     s.Symbol,
			BaseAsset:  s.BaseAsset,
			QuoteAsset: s.QuoteAsset,
		}
		for _, f := range s.Filters {
			kind, _ := f["filterType"].(string)
			params := make(map[string]string, len(f))
			for k, v := range f {
				if k == "filterType" {
					continue
				}
				params[k] = stringify(v)
			}
			info.Filters = append(info.Filters, market.Filter{Type: kind, Params: params})
		}
		return info, nil
	}
	return market.SymbolInfo{}, fmt.Errorf("symbol %s not listed", symbol)
}

type orderResponse struct {
	Symbol              string      `json:"symbol"`
	OrderID             json.Number `json:"orderId"`
	Status              string      `json:"status"`
	Side                string      `json:"side"`
	TransactTime        int64       `json:"transactTime"`
	ExecutedQty         string      `json:"executedQty"`
	CummulativeQuoteQty string      `json:"cummulativeQuoteQty"`
}

func (c *Client) MarketBuy(ctx context.Context, symbol string, qty float64) (broker.Fill, error) {
	return c.marketOrder(ctx, symbol, "BUY", qty)
}

func (c *Client) MarketSell(ctx context.Context, symbol string, qty float64) (broker.Fill, error) {
	return c.marketOrder(ctx, symbol, "SELL", qty)
}

func (c *Client) marketOrder(ctx context.Context, symbol, side string, qty float64) (broker.Fill, error) {
	if qty <= 0 {
		return broker.Fill{}, fmt.Errorf("order quantity must be positive, got %v", qty)
	}

	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("side", side)
	params.Set("type", "MARKET")
	params.Set("quantity", strconv.FormatFloat(qty, 'f', -1, 64))
	params.Set("newOrderRespType", "RESULT")

	var resp orderResponse
	if err := c.do(ctx, http.MethodPost, "/api/v3/order", params, true, &resp); err != nil {
		return broker.Fill{}, err
	}

	executed, err := parseFloat("executedQty", resp.ExecutedQty)
	if err != nil {
		return broker.Fill{}, err
	}
	quote, err := parseFloat("cummulativeQuoteQty", resp.CummulativeQuoteQty)
	if err != nil {
		return broker.Fill{}, err
	}

	return broker.Fill{
		OrderID:     resp.OrderID.String(),
		Symbol:      resp.Symbol,
		Side:        side,
		ExecutedQty: executed,
		QuoteQty:    quote,
		Time:        time.UnixMilli(resp.TransactTime).UTC(),
	}, nil
}

// do sends one request. SIGNED requests carry timestamp, recvWindow and
// the signature in the query string.
func (c *Client) do(ctx context.Context, method, path string, params url.Values, signed bool, out any) error {
	httpClient := c.HTTP
	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	if signed {
		if c.signer == nil || c.APIKey == "" {
			return ErrMissingCredentials
		}
		now := c.now
		if now == nil {
			now = time.Now
		}
		params.Set("timestamp", strconv.FormatInt(now().UnixMilli(), 10))
		if c.RecvWindow > 0 {
			params.Set("recvWindow", strconv.FormatInt(c.RecvWindow.Milliseconds(), 10))
		}
	}

	query := params.Encode()
	if signed {
		query += "&signature=" + c.signer.Sign(query)
	}

	u := c.BaseURL + path
	if query != "" {
		u += "?" + query
	}

	req, err := http.NewRequestWithContext(ctx, method, u, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if c.APIKey != "" {
		req.Header.Set("X-MBX-APIKEY", c.APIKey)
	}

	resp, err := httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %s %s: %v", broker.ErrTransient, method, path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return fmt.Errorf("%w: read %s: %v", broker.ErrTransient, path, err)
	}

	if resp.StatusCode != http.StatusOK {
		apiErr := &APIError{Status: resp.StatusCode}
		if jerr := json.Unmarshal(body, apiErr); jerr != nil || apiErr.Msg == "" {
			apiErr.Msg = strings.TrimSpace(string(body))
		}
		if transientStatus(resp.StatusCode) {
			return fmt.Errorf("%w: %w", broker.ErrTransient, apiErr)
		}
		return apiErr
	}

	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	if err := dec.Decode(out); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}

// 418 is Binance's IP ban after ignoring 429s; both clear with time.
func transientStatus(code int) bool {
	return code >= 500 || code == http.StatusTooManyRequests || code == http.StatusTeapot
}

func parseFloat(field, s string) (float64, error) {
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("parse %s %q: %w", field, s, err)
	}
	return v, nil
}

func stringify(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case json.Number:
		return x.String()
	case bool:
		return strconv.FormatBool(x)
	case nil:
		return ""
	default:
		return fmt.Sprint(x)
	}
}
