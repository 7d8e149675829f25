// Package alpaca is the typed client for the Alpaca market-data API, used as
// the fallback (or preferred, by configuration) quote and history source.
package alpaca

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/finsight-ai/finsight/pkg/providers"
)

const defaultBaseURL = "https://data.alpaca.markets"

// Client is an Alpaca data API client. Authentication is header-based, so
// there is no token lifecycle.
type Client struct {
	transport *providers.Transport
	keyID     string
	secretKey string
	baseURL   string
}

// NewClient creates an Alpaca client. baseURL falls back to the production
// data host when empty.
func NewClient(transport *providers.Transport, keyID, secretKey, baseURL string) *Client {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	return &Client{transport: transport, keyID: keyID, secretKey: secretKey, baseURL: baseURL}
}

func (c *Client) get(ctx context.Context, path string, query url.Values) ([]byte, error) {
	return c.transport.Do(ctx, &providers.Request{
		Method:   http.MethodGet,
		URL:      c.baseURL + path,
		Query:    query,
		Endpoint: path,
		Headers: map[string]string{
			"APCA-API-KEY-ID":     c.keyID,
			"APCA-API-SECRET-KEY": c.secretKey,
			"Accept":              "application/json",
		},
	})
}

// Snapshot is the wire shape of one symbol in a snapshots response.
type Snapshot struct {
	LatestTrade struct {
		Price     float64   `json:"p"`
		Size      int64     `json:"s"`
		Timestamp time.Time `json:"t"`
	} `json:"latestTrade"`
	LatestQuote struct {
		BidPrice float64 `json:"bp"`
		AskPrice float64 `json:"ap"`
	} `json:"latestQuote"`
	DailyBar struct {
		Open   float64 `json:"o"`
		High   float64 `json:"h"`
		Low    float64 `json:"l"`
		Close  float64 `json:"c"`
		Volume int64   `json:"v"`
	} `json:"dailyBar"`
	PrevDailyBar struct {
		Close float64 `json:"c"`
	} `json:"prevDailyBar"`
}

// Snapshots fetches quote snapshots for one or more symbols.
func (c *Client) Snapshots(ctx context.Context, symbols []string) (map[string]Snapshot, error) {
	if len(symbols) == 0 {
		return nil, fmt.Errorf("snapshots: no symbols")
	}
	q := url.Values{}
	q.Set("symbols", strings.ToUpper(strings.Join(symbols, ",")))

	body, err := c.get(ctx, "/v2/stocks/snapshots", q)
	if err != nil {
		return nil, err
	}

	out := map[string]Snapshot{}
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("decode snapshots: %w", err)
	}
	return out, nil
}

// Bar is one daily bar. Timestamp is RFC3339.
type Bar struct {
	Timestamp time.Time `json:"t"`
	Open      float64   `json:"o"`
	High      float64   `json:"h"`
	Low       float64   `json:"l"`
	Close     float64   `json:"c"`
	Volume    int64     `json:"v"`
}

// Bars fetches daily bars going back the given number of calendar days.
// Pagination is followed until exhausted.
func (c *Client) Bars(ctx context.Context, symbol string, days int) ([]Bar, error) {
	symbol = strings.ToUpper(symbol)
	start := time.Now().UTC().AddDate(0, 0, -days)

	var bars []Bar
	pageToken := ""
	for {
		q := url.Values{}
		q.Set("timeframe", "1Day")
		q.Set("start", start.Format(time.RFC3339))
		q.Set("limit", "1000")
		if pageToken != "" {
			q.Set("page_token", pageToken)
		}

		body, err := c.get(ctx, "/v2/stocks/"+url.PathEscape(symbol)+"/bars", q)
		if err != nil {
			return nil, err
		}

		var payload struct {
			Bars          []Bar  `json:"bars"`
			NextPageToken string `json:"next_page_token"`
		}
		if err := json.Unmarshal(body, &payload); err != nil {
			return nil, fmt.Errorf("decode bars: %w", err)
		}
		bars = append(bars, payload.Bars...)
		if payload.NextPageToken == "" {
			break
		}
		pageToken = payload.NextPageToken
	}
	return bars, nil
}

// NewsItem is one article from the Alpaca news API.
type NewsItem struct {
	Headline  string    `json:"headline"`
	Summary   string    `json:"summary"`
	Source    string    `json:"source"`
	URL       string    `json:"url"`
	Symbols   []string  `json:"symbols"`
	CreatedAt time.Time `json:"created_at"`
}

// News fetches recent articles, optionally filtered by symbols.
func (c *Client) News(ctx context.Context, symbols []string, limit int) ([]NewsItem, error) {
	q := url.Values{}
	if len(symbols) > 0 {
		q.Set("symbols", strings.ToUpper(strings.Join(symbols, ",")))
	}
	if limit > 0 {
		q.Set("limit", fmt.Sprintf("%d", limit))
	}

	body, err := c.get(ctx, "/v1beta1/news", q)
	if err != nil {
		return nil, err
	}

	var payload struct {
		News []NewsItem `json:"news"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("decode news: %w", err)
	}
	return payload.News, nil
}
