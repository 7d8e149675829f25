package reports

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/finsight-ai/finsight/pkg/models"
	"github.com/finsight-ai/finsight/pkg/providers/finviz"
	"github.com/finsight-ai/finsight/pkg/providers/tavily"
)

// gatherTimeout bounds the whole sub-agent fan-out for one report. On elapse
// the bundle ships with whatever collectors finished.
const gatherTimeout = 25 * time.Second

// maxScrapeConcurrency bounds concurrent per-symbol scrapes in universe-sized
// reports.
const maxScrapeConcurrency = 3

// MarketData is the unified market data surface the collectors use.
type MarketData interface {
	Quotes(ctx context.Context, symbols []string) (map[string]models.Quote, error)
	History(ctx context.Context, symbol string, days int) ([]models.Candle, error)
	News(ctx context.Context, symbols []string, limit int) ([]models.NewsItem, error)
	Profile(ctx context.Context, symbol string) (*models.CompanyProfile, error)
}

// Research is the scrape-backed research surface.
type Research interface {
	Overview(ctx context.Context, symbol string) (*finviz.ScreenerRow, error)
	Ratings(ctx context.Context, symbol string) ([]models.AnalystRating, error)
	InsiderTrades(ctx context.Context, symbol string) ([]models.InsiderTrade, error)
	Screener(ctx context.Context, sector string, limit int) ([]finviz.ScreenerRow, error)
}

// WebSearch is the web sentiment/news surface.
type WebSearch interface {
	Search(ctx context.Context, query, depth string, maxResults int) (*tavily.Response, error)
}

// Economic is the FRED series surface.
type Economic interface {
	Observations(ctx context.Context, seriesID string, limit int) (*models.EconomicSeries, error)
}

// Collector runs the report sub-agent fan-out. Individual collector failures
// degrade to empty fields, never abort the gather.
type Collector struct {
	market   MarketData
	research Research
	web      WebSearch
	econ     Economic
	logger   *slog.Logger
}

// NewCollector wires the collector. web and econ may be nil.
func NewCollector(market MarketData, research Research, web WebSearch, econ Economic, logger *slog.Logger) *Collector {
	return &Collector{market: market, research: research, web: web, econ: econ, logger: logger.With("component", "report_collector")}
}

// TickerBundle is everything the single-ticker builders consume.
type TickerBundle struct {
	Symbol       string
	Quote        *models.Quote
	History      []models.Candle
	Overview     *finviz.ScreenerRow
	Ratings      []models.AnalystRating
	Insiders     []models.InsiderTrade
	News         []models.NewsItem
	WebSentiment *tavily.Response
	WebNews      *tavily.Response
	Macro        *models.EconomicSeries
	Sources      []string
}

// GatherTicker runs the single-ticker collectors concurrently under the
// gather timeout.
func (c *Collector) GatherTicker(ctx context.Context, symbol string, includeMacro bool) *TickerBundle {
	ctx, cancel := context.WithTimeout(ctx, gatherTimeout)
	defer cancel()

	bundle := &TickerBundle{Symbol: symbol}
	var mu sync.Mutex
	addSource := func(name string) {
		mu.Lock()
		bundle.Sources = append(bundle.Sources, name)
		mu.Unlock()
	}

	var g errgroup.Group
	g.Go(func() error {
		quotes, err := c.market.Quotes(ctx, []string{symbol})
		if err != nil {
			c.logger.Warn("quote collector failed", "symbol", symbol, "error", err)
			return nil
		}
		if q, ok := quotes[symbol]; ok {
			bundle.Quote = &q
			addSource("quote")
		}
		return nil
	})
	g.Go(func() error {
		rows, err := c.market.History(ctx, symbol, 365)
		if err != nil {
			c.logger.Warn("history collector failed", "symbol", symbol, "error", err)
			return nil
		}
		bundle.History = rows
		if len(rows) > 0 {
			addSource("historical_prices")
		}
		return nil
	})
	g.Go(func() error {
		row, err := c.research.Overview(ctx, symbol)
		if err != nil {
			c.logger.Warn("overview collector failed", "symbol", symbol, "error", err)
			return nil
		}
		bundle.Overview = row
		addSource("company_overview")
		return nil
	})
	g.Go(func() error {
		ratings, err := c.research.Ratings(ctx, symbol)
		if err != nil {
			c.logger.Warn("ratings collector failed", "symbol", symbol, "error", err)
			return nil
		}
		bundle.Ratings = ratings
		if len(ratings) > 0 {
			addSource("analyst_ratings")
		}
		return nil
	})
	g.Go(func() error {
		trades, err := c.research.InsiderTrades(ctx, symbol)
		if err != nil {
			c.logger.Warn("insider collector failed", "symbol", symbol, "error", err)
			return nil
		}
		bundle.Insiders = trades
		if len(trades) > 0 {
			addSource("insider_trades")
		}
		return nil
	})
	g.Go(func() error {
		items, err := c.market.News(ctx, []string{symbol}, 10)
		if err != nil {
			c.logger.Warn("news collector failed", "symbol", symbol, "error", err)
			return nil
		}
		bundle.News = items
		if len(items) > 0 {
			addSource("stock_news")
		}
		return nil
	})
	if c.web != nil {
		g.Go(func() error {
			resp, err := c.web.Search(ctx, symbol+" stock investor sentiment", "basic", 5)
			if err != nil {
				c.logger.Warn("web sentiment collector failed", "symbol", symbol, "error", err)
				return nil
			}
			bundle.WebSentiment = resp
			addSource("web_sentiment")
			return nil
		})
		g.Go(func() error {
			resp, err := c.web.Search(ctx, symbol+" stock news this week", "basic", 5)
			if err != nil {
				c.logger.Warn("web news collector failed", "symbol", symbol, "error", err)
				return nil
			}
			bundle.WebNews = resp
			addSource("web_news")
			return nil
		})
	}
	if includeMacro && c.econ != nil {
		g.Go(func() error {
			series, err := c.econ.Observations(ctx, "FEDFUNDS", 13)
			if err != nil {
				c.logger.Warn("macro collector failed", "error", err)
				return nil
			}
			bundle.Macro = series
			addSource("fred:FEDFUNDS")
			return nil
		})
	}

	g.Wait() //nolint:errcheck // collectors never return errors

	sort.Strings(bundle.Sources)
	return bundle
}

// UniverseBundle is the screener-style input: one batch quote call plus
// bounded per-symbol overview scrapes.
type UniverseBundle struct {
	Rows    []finviz.ScreenerRow
	Quotes  map[string]models.Quote
	Sources []string
}

// GatherUniverse screens a sector and enriches the rows: quotes in one batch
// call, per-symbol finviz scrapes limited to maxScrapeConcurrency.
func (c *Collector) GatherUniverse(ctx context.Context, sector string, limit int) *UniverseBundle {
	ctx, cancel := context.WithTimeout(ctx, gatherTimeout)
	defer cancel()

	bundle := &UniverseBundle{Quotes: map[string]models.Quote{}}

	rows, err := c.research.Screener(ctx, sector, limit)
	if err != nil {
		c.logger.Warn("screener failed", "sector", sector, "error", err)
		return bundle
	}
	bundle.Rows = rows
	bundle.Sources = append(bundle.Sources, "screener")

	symbols := make([]string, 0, len(rows))
	for _, r := range rows {
		symbols = append(symbols, r.Ticker)
	}
	if len(symbols) == 0 {
		return bundle
	}

	if quotes, err := c.market.Quotes(ctx, symbols); err == nil {
		bundle.Quotes = quotes
		bundle.Sources = append(bundle.Sources, "quote")
	} else {
		c.logger.Warn("batch quotes failed", "error", err)
	}

	// Refresh each row from its detail page, at most three scrapes in flight.
	sem := semaphore.NewWeighted(maxScrapeConcurrency)
	var wg sync.WaitGroup
	for i := range bundle.Rows {
		if err := sem.Acquire(ctx, 1); err != nil {
			break
		}
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			defer sem.Release(1)
			row, err := c.research.Overview(ctx, bundle.Rows[i].Ticker)
			if err != nil || row == nil {
				return
			}
			bundle.Rows[i] = *row
		}(i)
	}
	wg.Wait()
	return bundle
}
