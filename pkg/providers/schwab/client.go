package schwab

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/finsight-ai/finsight/pkg/providers"
)

const (
	marketDataBase = "https://api.schwabapi.com/marketdata/v1"
	traderBase     = "https://api.schwabapi.com/trader/v1"
)

// Client is a Schwab API client bound to one logical app ("market" or
// "trader"). Requests go through the shared retrying transport; a 401
// triggers a single token refresh followed by one retry.
type Client struct {
	transport *providers.Transport
	tokens    *TokenManager
	baseURL   string
	traderURL string
}

// NewClient creates a Schwab client for one app.
func NewClient(transport *providers.Transport, tokens *TokenManager) *Client {
	return &Client{transport: transport, tokens: tokens, baseURL: marketDataBase, traderURL: traderBase}
}

// SetBaseURL overrides the API bases, for tests.
func (c *Client) SetBaseURL(base string) {
	c.baseURL = base
	c.traderURL = base
}

// get performs an authenticated GET with the refresh-once-on-401 policy.
func (c *Client) get(ctx context.Context, path string, query url.Values) ([]byte, error) {
	body, err := c.getOnce(ctx, path, query)
	if err == nil || !errors.Is(err, providers.ErrUnauthorized) {
		return body, err
	}

	// One silent refresh, then one retry. A second 401 surfaces as-is.
	if refreshErr := c.tokens.Refresh(ctx); refreshErr != nil {
		return nil, fmt.Errorf("%w: token refresh failed: %v", providers.ErrUnauthorized, refreshErr)
	}
	return c.getOnce(ctx, path, query)
}

func (c *Client) getOnce(ctx context.Context, path string, query url.Values) ([]byte, error) {
	accessToken, err := c.tokens.AccessToken()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", providers.ErrUnauthorized, err)
	}
	return c.transport.Do(ctx, &providers.Request{
		Method:   http.MethodGet,
		URL:      c.baseURL + path,
		Query:    query,
		Endpoint: path,
		Headers: map[string]string{
			"Authorization": "Bearer " + accessToken,
			"Accept":        "application/json",
		},
	})
}

// QuoteEntry is the wire shape of one symbol in a Schwab quotes response.
type QuoteEntry struct {
	Symbol    string `json:"symbol"`
	QuoteData struct {
		LastPrice     float64 `json:"lastPrice"`
		NetChange     float64 `json:"netChange"`
		PercentChange float64 `json:"netPercentChange"`
		TotalVolume   int64   `json:"totalVolume"`
		BidPrice      float64 `json:"bidPrice"`
		AskPrice      float64 `json:"askPrice"`
		OpenPrice     float64 `json:"openPrice"`
		ClosePrice    float64 `json:"closePrice"`
		HighPrice     float64 `json:"highPrice"`
		LowPrice      float64 `json:"lowPrice"`
		Week52High    float64 `json:"52WeekHigh"`
		Week52Low     float64 `json:"52WeekLow"`
		QuoteTimeMS   int64   `json:"quoteTime"`
	} `json:"quote"`
	Fundamental struct {
		PERatio  float64 `json:"peRatio"`
		DivYield float64 `json:"divYield"`
	} `json:"fundamental"`
}

// Quotes fetches quotes for one or more symbols in a single call.
func (c *Client) Quotes(ctx context.Context, symbols []string) (map[string]QuoteEntry, error) {
	if len(symbols) == 0 {
		return nil, fmt.Errorf("quotes: no symbols")
	}
	q := url.Values{}
	q.Set("symbols", strings.ToUpper(strings.Join(symbols, ",")))
	q.Set("fields", "quote,fundamental")

	body, err := c.get(ctx, "/quotes", q)
	if err != nil {
		return nil, err
	}

	out := map[string]QuoteEntry{}
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("decode quotes: %w", err)
	}
	return out, nil
}

// CandleEntry is one candle of a Schwab price-history response. Datetime is
// a millisecond epoch.
type CandleEntry struct {
	Open     float64 `json:"open"`
	High     float64 `json:"high"`
	Low      float64 `json:"low"`
	Close    float64 `json:"close"`
	Volume   int64   `json:"volume"`
	Datetime int64   `json:"datetime"`
}

// PriceHistory fetches daily candles. periodType/period follow the Schwab
// parameter table (month/1, year/5, ...).
func (c *Client) PriceHistory(ctx context.Context, symbol, periodType string, period int) ([]CandleEntry, error) {
	q := url.Values{}
	q.Set("symbol", strings.ToUpper(symbol))
	q.Set("periodType", periodType)
	q.Set("period", fmt.Sprintf("%d", period))
	q.Set("frequencyType", "daily")
	q.Set("frequency", "1")

	body, err := c.get(ctx, "/pricehistory", q)
	if err != nil {
		return nil, err
	}

	var payload struct {
		Candles []CandleEntry `json:"candles"`
		Empty   bool          `json:"empty"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("decode price history: %w", err)
	}
	if payload.Empty {
		return nil, nil
	}
	return payload.Candles, nil
}

// MoverEntry is one row of a Schwab movers response.
type MoverEntry struct {
	Symbol      string  `json:"symbol"`
	LastPrice   float64 `json:"lastPrice"`
	NetChange   float64 `json:"netChange"`
	Direction   string  `json:"direction"`
	TotalVolume int64   `json:"totalVolume"`
}

// Movers fetches the top movers for an index symbol ($SPX, $DJI, $COMPX).
func (c *Client) Movers(ctx context.Context, index, sort string) ([]MoverEntry, error) {
	q := url.Values{}
	q.Set("sort", sort)

	body, err := c.get(ctx, "/movers/"+url.PathEscape(index), q)
	if err != nil {
		return nil, err
	}

	var payload struct {
		Screeners []MoverEntry `json:"screeners"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("decode movers: %w", err)
	}
	return payload.Screeners, nil
}

// HoursEntry is one market/product session in a Schwab hours response.
type HoursEntry struct {
	MarketType   string `json:"marketType"`
	Product      string `json:"product"`
	IsOpen       bool   `json:"isOpen"`
	Date         string `json:"date"`
	SessionHours map[string][]struct {
		Start string `json:"start"`
		End   string `json:"end"`
	} `json:"sessionHours"`
}

// MarketHours fetches today's session hours for the given markets.
func (c *Client) MarketHours(ctx context.Context, markets []string) (map[string]map[string]HoursEntry, error) {
	q := url.Values{}
	q.Set("markets", strings.Join(markets, ","))

	body, err := c.get(ctx, "/markets", q)
	if err != nil {
		return nil, err
	}

	out := map[string]map[string]HoursEntry{}
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("decode market hours: %w", err)
	}
	return out, nil
}

// Accounts fetches account summaries from the trader API. Only used by the
// trade-controls surface.
func (c *Client) Accounts(ctx context.Context) (json.RawMessage, error) {
	return c.getFrom(ctx, c.traderURL, "/accounts", nil)
}

// Orders fetches open orders for an account from the trader API.
func (c *Client) Orders(ctx context.Context, accountHash string) (json.RawMessage, error) {
	return c.getFrom(ctx, c.traderURL, "/accounts/"+url.PathEscape(accountHash)+"/orders", nil)
}

func (c *Client) getFrom(ctx context.Context, base, path string, query url.Values) ([]byte, error) {
	saved := c.baseURL
	if base != saved {
		clone := *c
		clone.baseURL = base
		return clone.get(ctx, path, query)
	}
	return c.get(ctx, path, query)
}
