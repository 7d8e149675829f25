// Package marketdata is the unified market data service. It fronts the
// Schwab and Alpaca provider clients with one normalized surface (quotes,
// history, movers, hours, news, profile), applies the category TTL cache,
// and falls back between providers when the preferred one fails or returns
// stale history.
package marketdata

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/finsight-ai/finsight/pkg/cache"
	"github.com/finsight-ai/finsight/pkg/config"
	"github.com/finsight-ai/finsight/pkg/models"
	"github.com/finsight-ai/finsight/pkg/providers/alpaca"
	"github.com/finsight-ai/finsight/pkg/providers/finviz"
	"github.com/finsight-ai/finsight/pkg/providers/schwab"
)

// SchwabAPI is the slice of the Schwab client the service consumes.
type SchwabAPI interface {
	Quotes(ctx context.Context, symbols []string) (map[string]schwab.QuoteEntry, error)
	PriceHistory(ctx context.Context, symbol, periodType string, period int) ([]schwab.CandleEntry, error)
	Movers(ctx context.Context, index, sort string) ([]schwab.MoverEntry, error)
	MarketHours(ctx context.Context, markets []string) (map[string]map[string]schwab.HoursEntry, error)
}

// AlpacaAPI is the slice of the Alpaca client the service consumes.
type AlpacaAPI interface {
	Snapshots(ctx context.Context, symbols []string) (map[string]alpaca.Snapshot, error)
	Bars(ctx context.Context, symbol string, days int) ([]alpaca.Bar, error)
	News(ctx context.Context, symbols []string, limit int) ([]alpaca.NewsItem, error)
}

// ProfileAPI supplies company descriptive rows.
type ProfileAPI interface {
	Overview(ctx context.Context, symbol string) (*finviz.ScreenerRow, error)
}

// Service is the unified market data facade. A nil provider is simply not in
// the rotation, so partial credential setups still work.
type Service struct {
	schwab  SchwabAPI
	alpaca  AlpacaAPI
	profile ProfileAPI
	cache   cache.Store
	cfg     config.MarketDataConfig
	logger  *slog.Logger

	now func() time.Time
}

// NewService creates the service. cache may not be nil; use the in-memory
// store when no Redis URL is configured.
func NewService(schwabClient SchwabAPI, alpacaClient AlpacaAPI, profileClient ProfileAPI, store cache.Store, cfg config.MarketDataConfig, logger *slog.Logger) *Service {
	return &Service{
		schwab:  schwabClient,
		alpaca:  alpacaClient,
		profile: profileClient,
		cache:   store,
		cfg:     cfg,
		logger:  logger.With("component", "marketdata"),
		now:     time.Now,
	}
}

// providerOrder returns the providers to try, preferred first.
func (s *Service) providerOrder() []string {
	switch s.cfg.Provider {
	case config.ProviderSchwab:
		return []string{"schwab", "alpaca"}
	case config.ProviderAlpaca:
		return []string{"alpaca", "schwab"}
	default: // auto
		return []string{"schwab", "alpaca"}
	}
}

// Quotes fetches normalized quotes for the given symbols, trying providers
// in the configured order. Symbols are upper-cased and deduplicated.
func (s *Service) Quotes(ctx context.Context, symbols []string) (map[string]models.Quote, error) {
	symbols = normalizeSymbols(symbols)
	if len(symbols) == 0 {
		return nil, fmt.Errorf("quotes: no symbols")
	}

	key := "quote:" + strings.Join(symbols, ",")
	data, err := s.cache.GetOrFetch(ctx, key, cache.CategoryQuote, func(ctx context.Context) ([]byte, error) {
		quotes, err := s.fetchQuotes(ctx, symbols)
		if err != nil {
			return nil, err
		}
		return json.Marshal(quotes)
	})
	if err != nil {
		return nil, err
	}

	out := map[string]models.Quote{}
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("decode cached quotes: %w", err)
	}
	return out, nil
}

func (s *Service) fetchQuotes(ctx context.Context, symbols []string) (map[string]models.Quote, error) {
	var lastErr error
	for _, name := range s.providerOrder() {
		switch name {
		case "schwab":
			if s.schwab == nil {
				continue
			}
			entries, err := s.schwab.Quotes(ctx, symbols)
			if err != nil {
				lastErr = err
				s.logger.Warn("schwab quotes failed, trying fallback", "error", err)
				continue
			}
			return normalizeSchwabQuotes(entries), nil
		case "alpaca":
			if s.alpaca == nil {
				continue
			}
			snaps, err := s.alpaca.Snapshots(ctx, symbols)
			if err != nil {
				lastErr = err
				s.logger.Warn("alpaca quotes failed, trying fallback", "error", err)
				continue
			}
			return normalizeAlpacaQuotes(snaps), nil
		}
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("no market data provider configured")
	}
	return nil, fmt.Errorf("quotes for %s: %w", strings.Join(symbols, ","), lastErr)
}

// ErrStaleHistory marks a history fetch where every provider's freshest
// candle exceeded the configured max age. Stale rows are treated as empty
// and never returned; callers can match the marker to qualify their answer.
var ErrStaleHistory = errors.New("history may be stale")

// History fetches normalized daily candles covering roughly the last `days`
// calendar days, newest last. Stale history (last candle older than the
// configured max age) triggers provider fallback; a candle exactly at the
// boundary is still fresh. When every provider is stale the error wraps
// ErrStaleHistory.
func (s *Service) History(ctx context.Context, symbol string, days int) ([]models.Candle, error) {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	if symbol == "" {
		return nil, fmt.Errorf("history: empty symbol")
	}
	if days <= 0 {
		days = 30
	}

	key := fmt.Sprintf("history:%s:%d", symbol, days)
	data, err := s.cache.GetOrFetch(ctx, key, cache.CategoryPriceHistory, func(ctx context.Context) ([]byte, error) {
		candles, err := s.fetchHistory(ctx, symbol, days)
		if err != nil {
			return nil, err
		}
		return json.Marshal(candles)
	})
	if err != nil {
		return nil, err
	}

	var out []models.Candle
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("decode cached history: %w", err)
	}
	return out, nil
}

func (s *Service) fetchHistory(ctx context.Context, symbol string, days int) ([]models.Candle, error) {
	var (
		lastErr  error
		sawStale bool
	)
	for _, name := range s.providerOrder() {
		var (
			rows []models.Candle
			err  error
		)
		switch name {
		case "schwab":
			if s.schwab == nil {
				continue
			}
			periodType, period := PeriodFor(days)
			entries, perr := s.schwab.PriceHistory(ctx, symbol, periodType, period)
			if perr != nil {
				err = perr
			} else {
				rows = normalizeSchwabCandles(symbol, entries)
			}
		case "alpaca":
			if s.alpaca == nil {
				continue
			}
			bars, perr := s.alpaca.Bars(ctx, symbol, days)
			if perr != nil {
				err = perr
			} else {
				rows = normalizeAlpacaBars(symbol, bars)
			}
		}

		if err != nil {
			lastErr = err
			s.logger.Warn("history fetch failed, trying fallback", "provider", name, "symbol", symbol, "error", err)
			continue
		}
		if len(rows) == 0 {
			lastErr = fmt.Errorf("%s returned no candles for %s", name, symbol)
			continue
		}
		rows = trimRows(rows, days)
		if s.isStale(rows) {
			s.logger.Warn("history is stale, trying fallback",
				"provider", name, "symbol", symbol, "last_date", rows[len(rows)-1].Date)
			sawStale = true
			lastErr = fmt.Errorf("%s history for %s is stale", name, symbol)
			continue
		}
		return rows, nil
	}

	// Every provider was stale or failed. Stale history counts as empty.
	if sawStale {
		return nil, fmt.Errorf("history for %s: %w", symbol, ErrStaleHistory)
	}
	return nil, fmt.Errorf("history for %s: %w", symbol, lastErr)
}

// isStale reports whether the newest candle is older than the configured max
// age. A candle dated exactly MaxAgeDays ago is not stale.
func (s *Service) isStale(rows []models.Candle) bool {
	if len(rows) == 0 {
		return true
	}
	last, err := time.Parse("2006-01-02", rows[len(rows)-1].Date)
	if err != nil {
		return true
	}
	cutoff := s.now().UTC().Truncate(24 * time.Hour).AddDate(0, 0, -s.cfg.MaxAgeDays)
	return last.Before(cutoff)
}

// Movers fetches normalized movers for an index symbol ($SPX, $DJI, $COMPX).
func (s *Service) Movers(ctx context.Context, index, sort string) (*models.Movers, error) {
	if index == "" {
		index = "$SPX"
	}
	if sort == "" {
		sort = "PERCENT_CHANGE_UP"
	}
	if s.schwab == nil {
		return nil, fmt.Errorf("movers: schwab provider not configured")
	}

	key := "movers:" + index + ":" + sort
	data, err := s.cache.GetOrFetch(ctx, key, cache.CategoryDefault, func(ctx context.Context) ([]byte, error) {
		entries, err := s.schwab.Movers(ctx, index, sort)
		if err != nil {
			return nil, err
		}
		out := &models.Movers{Index: index, Sort: sort}
		for _, e := range entries {
			direction := e.Direction
			if direction == "" {
				if e.NetChange >= 0 {
					direction = "up"
				} else {
					direction = "down"
				}
			}
			out.Movers = append(out.Movers, models.Mover{
				Symbol:    e.Symbol,
				LastPrice: e.LastPrice,
				Change:    e.NetChange,
				Direction: direction,
				Volume:    e.TotalVolume,
			})
		}
		return json.Marshal(out)
	})
	if err != nil {
		return nil, err
	}

	var out models.Movers
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("decode cached movers: %w", err)
	}
	return &out, nil
}

// Hours fetches today's session status for the given markets (equity,
// option, bond, future, forex).
func (s *Service) Hours(ctx context.Context, markets []string) ([]models.MarketHours, error) {
	if len(markets) == 0 {
		markets = []string{"equity"}
	}
	if s.schwab == nil {
		return nil, fmt.Errorf("market hours: schwab provider not configured")
	}

	key := "hours:" + strings.Join(markets, ",")
	data, err := s.cache.GetOrFetch(ctx, key, cache.CategoryDefault, func(ctx context.Context) ([]byte, error) {
		resp, err := s.schwab.MarketHours(ctx, markets)
		if err != nil {
			return nil, err
		}
		var out []models.MarketHours
		for market, products := range resp {
			for product, entry := range products {
				out = append(out, models.MarketHours{
					Market:       market,
					Product:      product,
					IsOpen:       entry.IsOpen,
					Date:         entry.Date,
					SessionHours: formatSessions(entry),
				})
			}
		}
		return json.Marshal(out)
	})
	if err != nil {
		return nil, err
	}

	var out []models.MarketHours
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("decode cached hours: %w", err)
	}
	return out, nil
}

// News fetches recent headlines, optionally scoped to symbols.
func (s *Service) News(ctx context.Context, symbols []string, limit int) ([]models.NewsItem, error) {
	if s.alpaca == nil {
		return nil, fmt.Errorf("news: alpaca provider not configured")
	}
	symbols = normalizeSymbols(symbols)
	if limit <= 0 {
		limit = 10
	}

	key := "news:" + strings.Join(symbols, ",") + ":" + strconv.Itoa(limit)
	data, err := s.cache.GetOrFetch(ctx, key, cache.CategoryNews, func(ctx context.Context) ([]byte, error) {
		items, err := s.alpaca.News(ctx, symbols, limit)
		if err != nil {
			return nil, err
		}
		out := make([]models.NewsItem, 0, len(items))
		for _, item := range items {
			out = append(out, models.NewsItem{
				Title:       item.Headline,
				Summary:     item.Summary,
				Source:      item.Source,
				URL:         item.URL,
				Symbols:     item.Symbols,
				PublishedAt: item.CreatedAt,
			})
		}
		return json.Marshal(out)
	})
	if err != nil {
		return nil, err
	}

	var out []models.NewsItem
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("decode cached news: %w", err)
	}
	return out, nil
}

// Profile fetches descriptive company data for one symbol.
func (s *Service) Profile(ctx context.Context, symbol string) (*models.CompanyProfile, error) {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	if symbol == "" {
		return nil, fmt.Errorf("profile: empty symbol")
	}
	if s.profile == nil {
		return nil, fmt.Errorf("profile: finviz provider not configured")
	}

	key := "profile:" + symbol
	data, err := s.cache.GetOrFetch(ctx, key, cache.CategoryRatings, func(ctx context.Context) ([]byte, error) {
		row, err := s.profile.Overview(ctx, symbol)
		if err != nil {
			return nil, err
		}
		return json.Marshal(&models.CompanyProfile{
			Symbol:    symbol,
			Name:      row.Company,
			Sector:    row.Sector,
			Industry:  row.Industry,
			MarketCap: int64(row.MarketCap * 1e6),
		})
	})
	if err != nil {
		return nil, err
	}

	var out models.CompanyProfile
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("decode cached profile: %w", err)
	}
	return &out, nil
}

// PeriodFor maps a lookback in calendar days to Schwab's periodType/period
// parameter pair.
func PeriodFor(days int) (string, int) {
	switch {
	case days <= 30:
		return "month", 1
	case days <= 60:
		return "month", 2
	case days <= 90:
		return "month", 3
	case days <= 180:
		return "month", 6
	case days <= 365:
		return "year", 1
	case days <= 730:
		return "year", 2
	case days <= 1825:
		return "year", 5
	default:
		return "year", 10
	}
}

func normalizeSymbols(symbols []string) []string {
	seen := map[string]bool{}
	var out []string
	for _, sym := range symbols {
		sym = strings.ToUpper(strings.TrimSpace(sym))
		if sym == "" || seen[sym] {
			continue
		}
		seen[sym] = true
		out = append(out, sym)
	}
	return out
}

func normalizeSchwabQuotes(entries map[string]schwab.QuoteEntry) map[string]models.Quote {
	out := make(map[string]models.Quote, len(entries))
	for sym, e := range entries {
		q := e.QuoteData
		ts := ""
		if q.QuoteTimeMS > 0 {
			ts = time.UnixMilli(q.QuoteTimeMS).UTC().Format(time.RFC3339)
		}
		out[strings.ToUpper(sym)] = models.Quote{
			Symbol:        strings.ToUpper(sym),
			Price:         q.LastPrice,
			Change:        q.NetChange,
			PercentChange: q.PercentChange,
			Volume:        q.TotalVolume,
			Bid:           q.BidPrice,
			Ask:           q.AskPrice,
			Open:          q.OpenPrice,
			Close:         q.ClosePrice,
			High:          q.HighPrice,
			Low:           q.LowPrice,
			Week52High:    q.Week52High,
			Week52Low:     q.Week52Low,
			PERatio:       e.Fundamental.PERatio,
			DividendYield: e.Fundamental.DivYield,
			Timestamp:     ts,
			Provider:      "schwab",
		}
	}
	return out
}

func normalizeAlpacaQuotes(snaps map[string]alpaca.Snapshot) map[string]models.Quote {
	out := make(map[string]models.Quote, len(snaps))
	for sym, snap := range snaps {
		price := snap.LatestTrade.Price
		prevClose := snap.PrevDailyBar.Close
		change := 0.0
		pct := 0.0
		if prevClose != 0 {
			change = price - prevClose
			pct = change / prevClose * 100
		}
		ts := ""
		if !snap.LatestTrade.Timestamp.IsZero() {
			ts = snap.LatestTrade.Timestamp.UTC().Format(time.RFC3339)
		}
		out[strings.ToUpper(sym)] = models.Quote{
			Symbol:        strings.ToUpper(sym),
			Price:         price,
			Change:        change,
			PercentChange: pct,
			Volume:        snap.DailyBar.Volume,
			Bid:           snap.LatestQuote.BidPrice,
			Ask:           snap.LatestQuote.AskPrice,
			Open:          snap.DailyBar.Open,
			Close:         prevClose,
			High:          snap.DailyBar.High,
			Low:           snap.DailyBar.Low,
			Timestamp:     ts,
			Provider:      "alpaca",
		}
	}
	return out
}

func normalizeSchwabCandles(symbol string, entries []schwab.CandleEntry) []models.Candle {
	out := make([]models.Candle, 0, len(entries))
	for _, e := range entries {
		out = append(out, models.Candle{
			Symbol: symbol,
			Date:   time.UnixMilli(e.Datetime).UTC().Format("2006-01-02"),
			Open:   e.Open,
			High:   e.High,
			Low:    e.Low,
			Close:  e.Close,
			Volume: e.Volume,
		})
	}
	return out
}

func normalizeAlpacaBars(symbol string, bars []alpaca.Bar) []models.Candle {
	out := make([]models.Candle, 0, len(bars))
	for _, b := range bars {
		out = append(out, models.Candle{
			Symbol: symbol,
			Date:   b.Timestamp.UTC().Format("2006-01-02"),
			Open:   b.Open,
			High:   b.High,
			Low:    b.Low,
			Close:  b.Close,
			Volume: b.Volume,
		})
	}
	return out
}

func trimRows(rows []models.Candle, days int) []models.Candle {
	if len(rows) > days {
		return rows[len(rows)-days:]
	}
	return rows
}

func formatSessions(entry schwab.HoursEntry) string {
	var parts []string
	for name, windows := range entry.SessionHours {
		for _, w := range windows {
			parts = append(parts, fmt.Sprintf("%s %s-%s", name, w.Start, w.End))
		}
	}
	return strings.Join(parts, "; ")
}
