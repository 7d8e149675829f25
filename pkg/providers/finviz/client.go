// Package finviz scrapes Finviz for screener rows, analyst ratings, and
// insider trades. Scraping concurrency is bounded by a counting semaphore so
// universe-sized reports stay polite.
package finviz

import (
	"context"
	"encoding/csv"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"golang.org/x/sync/semaphore"

	"github.com/finsight-ai/finsight/pkg/models"
	"github.com/finsight-ai/finsight/pkg/providers"
)

const defaultBaseURL = "https://finviz.com"

// maxConcurrentScrapes bounds concurrent Finviz requests process-wide.
const maxConcurrentScrapes = 3

// Client scrapes Finviz endpoints. All calls acquire the shared semaphore
// before touching the network.
type Client struct {
	transport *providers.Transport
	baseURL   string
	sem       *semaphore.Weighted
}

// NewClient creates a Finviz client.
func NewClient(transport *providers.Transport) *Client {
	return &Client{
		transport: transport,
		baseURL:   defaultBaseURL,
		sem:       semaphore.NewWeighted(maxConcurrentScrapes),
	}
}

// SetBaseURL overrides the host, for tests.
func (c *Client) SetBaseURL(base string) { c.baseURL = base }

func (c *Client) get(ctx context.Context, path string, query url.Values) ([]byte, error) {
	if err := c.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer c.sem.Release(1)

	return c.transport.Do(ctx, &providers.Request{
		Method:   http.MethodGet,
		URL:      c.baseURL + path,
		Query:    query,
		Endpoint: path,
		Headers:  map[string]string{"User-Agent": "Mozilla/5.0 (compatible; finsight/1.0)"},
	})
}

// ScreenerRow is one company row from the screener CSV export.
type ScreenerRow struct {
	Ticker    string
	Company   string
	Sector    string
	Industry  string
	MarketCap float64 // millions
	PE        float64
	Price     float64
	Change    float64 // percent
	Volume    int64
}

// Screener fetches screener rows for a sector filter (empty = all) up to
// limit rows, using the CSV export endpoint.
func (c *Client) Screener(ctx context.Context, sector string, limit int) ([]ScreenerRow, error) {
	q := url.Values{}
	q.Set("v", "111")
	if sector != "" {
		q.Set("f", "sec_"+sectorFilter(sector))
	}

	body, err := c.get(ctx, "/export.ashx", q)
	if err != nil {
		return nil, err
	}

	records, err := csv.NewReader(strings.NewReader(string(body))).ReadAll()
	if err != nil {
		return nil, fmt.Errorf("parse screener csv: %w", err)
	}
	if len(records) < 2 {
		return nil, nil
	}

	col := indexColumns(records[0])
	var rows []ScreenerRow
	for _, rec := range records[1:] {
		if limit > 0 && len(rows) >= limit {
			break
		}
		rows = append(rows, ScreenerRow{
			Ticker:    field(rec, col, "Ticker"),
			Company:   field(rec, col, "Company"),
			Sector:    field(rec, col, "Sector"),
			Industry:  field(rec, col, "Industry"),
			MarketCap: parseFloat(field(rec, col, "Market Cap")),
			PE:        parseFloat(field(rec, col, "P/E")),
			Price:     parseFloat(field(rec, col, "Price")),
			Change:    parsePercent(field(rec, col, "Change")),
			Volume:    parseInt(field(rec, col, "Volume")),
		})
	}
	return rows, nil
}

// Overview fetches the screener row for a single ticker.
func (c *Client) Overview(ctx context.Context, symbol string) (*ScreenerRow, error) {
	q := url.Values{}
	q.Set("v", "111")
	q.Set("t", strings.ToUpper(symbol))

	body, err := c.get(ctx, "/export.ashx", q)
	if err != nil {
		return nil, err
	}

	records, err := csv.NewReader(strings.NewReader(string(body))).ReadAll()
	if err != nil {
		return nil, fmt.Errorf("parse overview csv: %w", err)
	}
	if len(records) < 2 {
		return nil, fmt.Errorf("no overview row for %s", strings.ToUpper(symbol))
	}

	col := indexColumns(records[0])
	rec := records[1]
	return &ScreenerRow{
		Ticker:    field(rec, col, "Ticker"),
		Company:   field(rec, col, "Company"),
		Sector:    field(rec, col, "Sector"),
		Industry:  field(rec, col, "Industry"),
		MarketCap: parseFloat(field(rec, col, "Market Cap")),
		PE:        parseFloat(field(rec, col, "P/E")),
		Price:     parseFloat(field(rec, col, "Price")),
		Change:    parsePercent(field(rec, col, "Change")),
		Volume:    parseInt(field(rec, col, "Volume")),
	}, nil
}

// Ratings fetches recent analyst actions for a symbol from the quote page
// export.
func (c *Client) Ratings(ctx context.Context, symbol string) ([]models.AnalystRating, error) {
	q := url.Values{}
	q.Set("t", strings.ToUpper(symbol))
	q.Set("ty", "ra")

	body, err := c.get(ctx, "/quote_export.ashx", q)
	if err != nil {
		return nil, err
	}

	records, err := csv.NewReader(strings.NewReader(string(body))).ReadAll()
	if err != nil {
		return nil, fmt.Errorf("parse ratings csv: %w", err)
	}
	if len(records) < 2 {
		return nil, nil
	}

	col := indexColumns(records[0])
	var ratings []models.AnalystRating
	for _, rec := range records[1:] {
		ratings = append(ratings, models.AnalystRating{
			Symbol:      strings.ToUpper(symbol),
			Date:        field(rec, col, "Date"),
			Action:      field(rec, col, "Status"),
			Firm:        field(rec, col, "Outfit"),
			Rating:      field(rec, col, "Rating"),
			PriceTarget: field(rec, col, "Price Target"),
		})
	}
	return ratings, nil
}

// InsiderTrades fetches recent insider transactions for a symbol.
func (c *Client) InsiderTrades(ctx context.Context, symbol string) ([]models.InsiderTrade, error) {
	q := url.Values{}
	q.Set("t", strings.ToUpper(symbol))
	q.Set("ty", "it")

	body, err := c.get(ctx, "/quote_export.ashx", q)
	if err != nil {
		return nil, err
	}

	records, err := csv.NewReader(strings.NewReader(string(body))).ReadAll()
	if err != nil {
		return nil, fmt.Errorf("parse insider csv: %w", err)
	}
	if len(records) < 2 {
		return nil, nil
	}

	col := indexColumns(records[0])
	var trades []models.InsiderTrade
	for _, rec := range records[1:] {
		trades = append(trades, models.InsiderTrade{
			Symbol:      strings.ToUpper(symbol),
			Insider:     field(rec, col, "Insider Trading"),
			Relation:    field(rec, col, "Relationship"),
			Date:        field(rec, col, "Date"),
			Transaction: strings.ToLower(field(rec, col, "Transaction")),
			Shares:      parseInt(field(rec, col, "#Shares")),
			Value:       parseFloat(field(rec, col, "Value ($)")),
		})
	}
	return trades, nil
}

func sectorFilter(sector string) string {
	return strings.ToLower(strings.ReplaceAll(strings.TrimSpace(sector), " ", ""))
}

func indexColumns(header []string) map[string]int {
	col := make(map[string]int, len(header))
	for i, name := range header {
		col[strings.TrimSpace(name)] = i
	}
	return col
}

func field(rec []string, col map[string]int, name string) string {
	idx, ok := col[name]
	if !ok || idx >= len(rec) {
		return ""
	}
	return strings.TrimSpace(rec[idx])
}

func parseFloat(s string) float64 {
	s = strings.ReplaceAll(strings.TrimSpace(s), ",", "")
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return v
}

func parsePercent(s string) float64 {
	return parseFloat(strings.TrimSuffix(strings.TrimSpace(s), "%"))
}

func parseInt(s string) int64 {
	s = strings.ReplaceAll(strings.TrimSpace(s), ",", "")
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0
	}
	return v
}
