// Package tools declares the tool contracts that mediate every specialist's
// access to provider data. A contract names the tool's source and endpoint,
// the input schema, and the projected output fields; the projection is the
// only cross-agent surface — raw responses are diagnostics.
package tools

import (
	"encoding/json"
	"fmt"
	"sort"
)

// Tool names. Closed set; the registry is the source of truth.
const (
	ToolQuote            = "quote"
	ToolHistoricalPrices = "historical_prices"
	ToolCompanyProfile   = "company_profile"
	ToolMarketMovers     = "market_movers"
	ToolStockNews        = "stock_news"
	ToolMarketHours      = "market_hours"
	ToolCompanyOverview  = "company_overview"
	ToolAnalystRatings   = "analyst_ratings"
	ToolInsiderTrades    = "insider_trades"
	ToolCompanyNews      = "company_news"
)

// Contract describes one tool: where its data comes from, what it accepts,
// and which fields survive projection.
type Contract struct {
	Name         string            `json:"name"`
	Source       string            `json:"source"`
	Endpoint     string            `json:"endpoint"`
	InputSchema  map[string]string `json:"input_schema"`
	OutputFields []string          `json:"output_fields"`
	MaxRows      int               `json:"max_rows,omitempty"` // list truncation; 0 = scalar tool
}

var registry = map[string]Contract{
	ToolQuote: {
		Name:        ToolQuote,
		Source:      "marketdata",
		Endpoint:    "/quotes",
		InputSchema: map[string]string{"symbols": "comma-separated ticker list"},
		OutputFields: []string{
			"symbol", "price", "change", "percent_change", "volume",
			"week_52_high", "week_52_low", "pe_ratio", "dividend_yield", "provider",
		},
		MaxRows: 50,
	},
	ToolHistoricalPrices: {
		Name:         ToolHistoricalPrices,
		Source:       "marketdata",
		Endpoint:     "/pricehistory",
		InputSchema:  map[string]string{"symbol": "ticker", "days": "lookback in calendar days"},
		OutputFields: []string{"symbol", "date", "open", "high", "low", "close", "volume"},
		MaxRows:      120,
	},
	ToolCompanyProfile: {
		Name:         ToolCompanyProfile,
		Source:       "finviz",
		Endpoint:     "/export.ashx",
		InputSchema:  map[string]string{"symbol": "ticker"},
		OutputFields: []string{"symbol", "name", "sector", "industry", "market_cap"},
	},
	ToolMarketMovers: {
		Name:         ToolMarketMovers,
		Source:       "schwab",
		Endpoint:     "/movers",
		InputSchema:  map[string]string{"index": "$SPX|$DJI|$COMPX", "sort": "sort order"},
		OutputFields: []string{"index", "sort", "movers"},
		MaxRows:      10,
	},
	ToolStockNews: {
		Name:         ToolStockNews,
		Source:       "alpaca",
		Endpoint:     "/v1beta1/news",
		InputSchema:  map[string]string{"symbols": "optional ticker list", "limit": "max articles"},
		OutputFields: []string{"title", "source", "url", "published_at"},
		MaxRows:      10,
	},
	ToolMarketHours: {
		Name:         ToolMarketHours,
		Source:       "schwab",
		Endpoint:     "/markets",
		InputSchema:  map[string]string{"markets": "equity|option|bond|future|forex list"},
		OutputFields: []string{"market", "product", "is_open", "date", "session_hours"},
		MaxRows:      10,
	},
	ToolCompanyOverview: {
		Name:        ToolCompanyOverview,
		Source:      "finviz",
		Endpoint:    "/export.ashx",
		InputSchema: map[string]string{"symbol": "ticker"},
		OutputFields: []string{
			"symbol", "name", "sector", "market_cap", "pe_ratio", "forward_pe",
			"peg_ratio", "price_to_book", "eps", "revenue_growth", "profit_margin",
			"roe", "debt_to_equity", "dividend_yield", "beta",
		},
	},
	ToolAnalystRatings: {
		Name:         ToolAnalystRatings,
		Source:       "finviz",
		Endpoint:     "/quote_export.ashx?ty=ra",
		InputSchema:  map[string]string{"symbol": "ticker"},
		OutputFields: []string{"symbol", "firm", "action", "rating", "price_target", "date"},
		MaxRows:      20,
	},
	ToolInsiderTrades: {
		Name:         ToolInsiderTrades,
		Source:       "finviz",
		Endpoint:     "/quote_export.ashx?ty=it",
		InputSchema:  map[string]string{"symbol": "ticker"},
		OutputFields: []string{"symbol", "insider", "relation", "transaction", "shares", "value", "date"},
		MaxRows:      20,
	},
	ToolCompanyNews: {
		Name:         ToolCompanyNews,
		Source:       "alpaca",
		Endpoint:     "/v1beta1/news",
		InputSchema:  map[string]string{"symbol": "ticker", "limit": "max articles"},
		OutputFields: []string{"title", "summary", "source", "url", "published_at"},
		MaxRows:      10,
	},
}

// Lookup returns the contract for a tool name.
func Lookup(name string) (Contract, error) {
	c, ok := registry[name]
	if !ok {
		return Contract{}, fmt.Errorf("unknown tool %q", name)
	}
	return c, nil
}

// Contracts returns every registered contract, sorted by name.
func Contracts() []Contract {
	out := make([]Contract, 0, len(registry))
	for _, c := range registry {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Project reduces a raw tool response to the contract's output fields. Lists
// are truncated to the contract's MaxRows; objects keep only declared fields,
// and any declared field that is itself a list is truncated too.
func Project(name string, raw any) (json.RawMessage, error) {
	contract, err := Lookup(name)
	if err != nil {
		return nil, err
	}

	encoded, err := json.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("project %s: marshal raw: %w", name, err)
	}

	var generic any
	if err := json.Unmarshal(encoded, &generic); err != nil {
		return nil, fmt.Errorf("project %s: %w", name, err)
	}

	projected := projectValue(generic, contract)
	out, err := json.Marshal(projected)
	if err != nil {
		return nil, fmt.Errorf("project %s: marshal output: %w", name, err)
	}
	return out, nil
}

func projectValue(v any, contract Contract) any {
	switch value := v.(type) {
	case []any:
		if contract.MaxRows > 0 && len(value) > contract.MaxRows {
			value = value[:contract.MaxRows]
		}
		out := make([]any, 0, len(value))
		for _, elem := range value {
			out = append(out, projectValue(elem, contract))
		}
		return out
	case map[string]any:
		out := map[string]any{}
		for _, field := range contract.OutputFields {
			inner, ok := value[field]
			if !ok {
				continue
			}
			if list, isList := inner.([]any); isList && contract.MaxRows > 0 && len(list) > contract.MaxRows {
				inner = list[:contract.MaxRows]
			}
			out[field] = inner
		}
		return out
	default:
		return value
	}
}
