// Package fred is the typed client for the FRED economic data API used by
// the macro agent and the macro report builder.
package fred

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"github.com/finsight-ai/finsight/pkg/models"
	"github.com/finsight-ai/finsight/pkg/providers"
)

const defaultBaseURL = "https://api.stlouisfed.org/fred"

// CoreSeries are the series fetched for the standing macro summary.
var CoreSeries = []string{"GDP", "UNRATE", "CPIAUCSL", "FEDFUNDS", "DGS10", "DGS2"}

// Client is a FRED API client.
type Client struct {
	transport *providers.Transport
	apiKey    string
	baseURL   string
}

// NewClient creates a FRED client.
func NewClient(transport *providers.Transport, apiKey string) *Client {
	return &Client{transport: transport, apiKey: apiKey, baseURL: defaultBaseURL}
}

// SetBaseURL overrides the API base, for tests.
func (c *Client) SetBaseURL(base string) { c.baseURL = base }

func (c *Client) get(ctx context.Context, path string, query url.Values) ([]byte, error) {
	query.Set("api_key", c.apiKey)
	query.Set("file_type", "json")
	return c.transport.Do(ctx, &providers.Request{
		Method:   http.MethodGet,
		URL:      c.baseURL + path,
		Query:    query,
		Endpoint: path,
	})
}

// Observations fetches the most recent observations of a series, newest
// last. Missing values (".") are skipped.
func (c *Client) Observations(ctx context.Context, seriesID string, limit int) (*models.EconomicSeries, error) {
	q := url.Values{}
	q.Set("series_id", seriesID)
	q.Set("sort_order", "desc")
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}

	body, err := c.get(ctx, "/series/observations", q)
	if err != nil {
		return nil, err
	}

	var payload struct {
		Observations []struct {
			Date  string `json:"date"`
			Value string `json:"value"`
		} `json:"observations"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("decode observations: %w", err)
	}

	series := &models.EconomicSeries{SeriesID: seriesID}
	// FRED returns newest-first with sort_order=desc; reverse to oldest-first.
	for i := len(payload.Observations) - 1; i >= 0; i-- {
		obs := payload.Observations[i]
		if obs.Value == "." {
			continue
		}
		v, err := strconv.ParseFloat(obs.Value, 64)
		if err != nil {
			continue
		}
		series.Observations = append(series.Observations, models.EconomicReading{Date: obs.Date, Value: v})
	}
	return series, nil
}

// SeriesInfo is metadata about one series from a search.
type SeriesInfo struct {
	ID    string `json:"id"`
	Title string `json:"title"`
	Units string `json:"units"`
}

// Search finds series matching the given text.
func (c *Client) Search(ctx context.Context, text string, limit int) ([]SeriesInfo, error) {
	q := url.Values{}
	q.Set("search_text", text)
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}

	body, err := c.get(ctx, "/series/search", q)
	if err != nil {
		return nil, err
	}

	var payload struct {
		Seriess []SeriesInfo `json:"seriess"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("decode series search: %w", err)
	}
	return payload.Seriess, nil
}
