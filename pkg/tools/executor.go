package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/finsight-ai/finsight/pkg/models"
	"github.com/finsight-ai/finsight/pkg/providers/finviz"
)

// MarketData is the unified market data surface the executor dispatches to.
type MarketData interface {
	Quotes(ctx context.Context, symbols []string) (map[string]models.Quote, error)
	History(ctx context.Context, symbol string, days int) ([]models.Candle, error)
	Movers(ctx context.Context, index, sort string) (*models.Movers, error)
	Hours(ctx context.Context, markets []string) ([]models.MarketHours, error)
	News(ctx context.Context, symbols []string, limit int) ([]models.NewsItem, error)
	Profile(ctx context.Context, symbol string) (*models.CompanyProfile, error)
}

// ResearchData supplies the Finviz-backed tools.
type ResearchData interface {
	Ratings(ctx context.Context, symbol string) ([]models.AnalystRating, error)
	InsiderTrades(ctx context.Context, symbol string) ([]models.InsiderTrade, error)
	Overview(ctx context.Context, symbol string) (*finviz.ScreenerRow, error)
}

// Executor resolves tool calls against the data services and wraps results
// in ToolCallPayloads carrying both the projection and the raw response.
type Executor struct {
	market   MarketData
	research ResearchData
}

// NewExecutor creates a tool executor.
func NewExecutor(market MarketData, research ResearchData) *Executor {
	return &Executor{market: market, research: research}
}

// Call runs one tool and returns its payload. The Output field is the
// contract projection; downstream agents read nothing else.
func (e *Executor) Call(ctx context.Context, tool string, input map[string]any) (*models.ToolCallPayload, error) {
	contract, err := Lookup(tool)
	if err != nil {
		return nil, err
	}

	raw, err := e.dispatch(ctx, tool, input)
	if err != nil {
		return nil, fmt.Errorf("tool %s: %w", tool, err)
	}

	projected, err := Project(tool, raw)
	if err != nil {
		return nil, err
	}

	inputJSON, _ := json.Marshal(input)
	rawJSON, _ := json.Marshal(raw)
	return &models.ToolCallPayload{
		Tool:     tool,
		Input:    inputJSON,
		Contract: contract.Source + ":" + contract.Endpoint,
		Output:   projected,
		Raw:      rawJSON,
	}, nil
}

func (e *Executor) dispatch(ctx context.Context, tool string, input map[string]any) (any, error) {
	switch tool {
	case ToolQuote:
		quotes, err := e.market.Quotes(ctx, symbolList(input, "symbols"))
		if err != nil {
			return nil, err
		}
		return sortedQuotes(quotes), nil

	case ToolHistoricalPrices:
		return e.market.History(ctx, symbolArg(input), intArg(input, "days", 30))

	case ToolCompanyProfile:
		return e.market.Profile(ctx, symbolArg(input))

	case ToolMarketMovers:
		return e.market.Movers(ctx, stringArg(input, "index"), stringArg(input, "sort"))

	case ToolStockNews:
		return e.market.News(ctx, symbolList(input, "symbols"), intArg(input, "limit", 10))

	case ToolMarketHours:
		markets := symbolList(input, "markets")
		lowered := make([]string, len(markets))
		for i, m := range markets {
			lowered[i] = strings.ToLower(m)
		}
		return e.market.Hours(ctx, lowered)

	case ToolCompanyOverview:
		return e.overview(ctx, symbolArg(input))

	case ToolAnalystRatings:
		return e.research.Ratings(ctx, symbolArg(input))

	case ToolInsiderTrades:
		return e.research.InsiderTrades(ctx, symbolArg(input))

	case ToolCompanyNews:
		return e.market.News(ctx, []string{symbolArg(input)}, intArg(input, "limit", 10))

	default:
		return nil, fmt.Errorf("unknown tool %q", tool)
	}
}

// overview merges the Finviz screener row with quote fundamentals into the
// normalized overview shape.
func (e *Executor) overview(ctx context.Context, symbol string) (*models.CompanyOverview, error) {
	row, err := e.research.Overview(ctx, symbol)
	if err != nil {
		return nil, err
	}
	out := &models.CompanyOverview{
		Symbol:    strings.ToUpper(symbol),
		Name:      row.Company,
		Sector:    row.Sector,
		MarketCap: int64(row.MarketCap * 1e6),
		PERatio:   row.PE,
	}
	if quotes, qErr := e.market.Quotes(ctx, []string{symbol}); qErr == nil {
		if q, ok := quotes[strings.ToUpper(symbol)]; ok {
			if out.PERatio == 0 {
				out.PERatio = q.PERatio
			}
			out.DividendYield = q.DividendYield
		}
	}
	return out, nil
}

func sortedQuotes(quotes map[string]models.Quote) []models.Quote {
	symbols := make([]string, 0, len(quotes))
	for sym := range quotes {
		symbols = append(symbols, sym)
	}
	sort.Strings(symbols)
	out := make([]models.Quote, 0, len(symbols))
	for _, sym := range symbols {
		out = append(out, quotes[sym])
	}
	return out
}

func symbolArg(input map[string]any) string {
	return strings.ToUpper(strings.TrimSpace(stringArg(input, "symbol")))
}

func stringArg(input map[string]any, key string) string {
	s, _ := input[key].(string)
	return s
}

func intArg(input map[string]any, key string, def int) int {
	switch v := input[key].(type) {
	case int:
		return v
	case float64:
		return int(v)
	default:
		return def
	}
}

// symbolList accepts either a []string/[]any or a comma-separated string.
func symbolList(input map[string]any, key string) []string {
	switch v := input[key].(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, elem := range v {
			if s, ok := elem.(string); ok {
				out = append(out, s)
			}
		}
		return out
	case string:
		if v == "" {
			return nil
		}
		return strings.Split(v, ",")
	default:
		return nil
	}
}
