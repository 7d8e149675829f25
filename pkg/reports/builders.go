package reports

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/finsight-ai/finsight/pkg/models"
)

// ErrInvalidPayload marks builder input validation failures (4xx on the HTTP
// surface).
var ErrInvalidPayload = errors.New("invalid report payload")

// Builder constructs the ten report types from collector bundles.
type Builder struct {
	collector *Collector
	logger    *slog.Logger
	now       func() time.Time
}

// NewBuilder creates a report builder.
func NewBuilder(collector *Collector, logger *slog.Logger) *Builder {
	return &Builder{collector: collector, logger: logger.With("component", "report_builder"), now: time.Now}
}

// Build dispatches to the builder for reportType.
func (b *Builder) Build(ctx context.Context, reportType string, payload Payload) (*Report, error) {
	switch reportType {
	case TypeCitadelTechnical:
		return b.citadelTechnical(ctx, payload)
	case TypeGoldmanScreener:
		return b.goldmanScreener(ctx, payload)
	case TypeJPMFundamental:
		return b.jpmFundamental(ctx, payload)
	case TypeBridgewaterMacro:
		return b.bridgewaterMacro(ctx, payload)
	case TypeBlackrockRisk:
		return b.blackrockRisk(ctx, payload)
	case TypeVanguardDividend:
		return b.vanguardDividend(ctx, payload)
	case TypeRenaissanceQuant:
		return b.renaissanceQuant(ctx, payload)
	case TypeMorganStanleyEarning:
		return b.morganstanleyEarnings(ctx, payload)
	case TypeBerkshireMoat:
		return b.berkshireMoat(ctx, payload)
	case TypeCitronShort:
		return b.citronShort(ctx, payload)
	default:
		return nil, fmt.Errorf("%w: unknown report type %q", ErrInvalidPayload, reportType)
	}
}

func requireTicker(payload Payload) (string, error) {
	ticker := strings.ToUpper(strings.TrimSpace(payload.Ticker))
	if ticker == "" {
		return "", fmt.Errorf("%w: ticker is required", ErrInvalidPayload)
	}
	return ticker, nil
}

func closesOf(candles []models.Candle) []float64 {
	out := make([]float64, 0, len(candles))
	for _, c := range candles {
		out = append(out, c.Close)
	}
	return out
}

func (b *Builder) report(reportType, title string, bundleSources []string, toolPlan []string) *Report {
	return &Report{
		ReportType:  reportType,
		Title:       title,
		GeneratedAt: b.now().UTC(),
		Data:        map[string]any{},
		SourcesUsed: bundleSources,
		ToolPlan:    toolPlan,
	}
}

func (b *Builder) citadelTechnical(ctx context.Context, payload Payload) (*Report, error) {
	ticker, err := requireTicker(payload)
	if err != nil {
		return nil, err
	}
	bundle := b.collector.GatherTicker(ctx, ticker, false)

	r := b.report(TypeCitadelTechnical, fmt.Sprintf("Technical Analysis: %s", ticker), bundle.Sources,
		[]string{"quote", "historical_prices"})

	closes := closesOf(bundle.History)
	mom := Momentum(closes)

	var md strings.Builder
	fmt.Fprintf(&md, "# Technical Analysis: %s\n\n", ticker)
	if bundle.Quote != nil {
		fmt.Fprintf(&md, "Last trade %.2f (%+.2f%%), volume %d.\n\n", bundle.Quote.Price, bundle.Quote.PercentChange, bundle.Quote.Volume)
	}
	if mom != nil {
		r.Data["momentum"] = mom
		md.WriteString("| Indicator | Value |\n|-----------|-------|\n")
		fmt.Fprintf(&md, "| RSI(14) | %.1f |\n", mom.RSI)
		fmt.Fprintf(&md, "| MACD | %.2f (signal %.2f) |\n", mom.MACD, mom.Signal)
		fmt.Fprintf(&md, "| SMA50 | %.2f |\n| SMA200 | %.2f |\n", mom.SMA50, mom.SMA200)
		fmt.Fprintf(&md, "| Composite score | %+.2f |\n\n", mom.Score)
		trend := "bearish"
		if mom.LastClose > mom.SMA50 {
			trend = "bullish"
		}
		fmt.Fprintf(&md, "Trend reads **%s**: last close %.2f vs SMA50 %.2f.\n", trend, mom.LastClose, mom.SMA50)
	} else {
		fmt.Fprintf(&md, "Insufficient price history for the full indicator battery (%d closes, need 200).\n", len(closes))
		r.Limitations = append(r.Limitations, "price history shorter than 200 sessions; indicator battery skipped")
	}
	if n := len(bundle.History); n >= 20 {
		lo, hi := bundle.History[n-20].Low, bundle.History[n-20].High
		for _, c := range bundle.History[n-20:] {
			if c.Low < lo {
				lo = c.Low
			}
			if c.High > hi {
				hi = c.High
			}
		}
		fmt.Fprintf(&md, "\n20-day range: support %.2f / resistance %.2f.\n", lo, hi)
		r.Data["support"] = lo
		r.Data["resistance"] = hi
	}

	r.Markdown = md.String()
	r.Assumptions = append(r.Assumptions, "indicators computed on daily closes over the past year")
	r.Limitations = append(r.Limitations, "technical signals describe price action only, not business fundamentals")
	return r, nil
}

func (b *Builder) goldmanScreener(ctx context.Context, payload Payload) (*Report, error) {
	sector := strings.TrimSpace(payload.Sector)
	if sector == "" {
		return nil, fmt.Errorf("%w: sector is required", ErrInvalidPayload)
	}
	limit := payload.Limit
	if limit <= 0 || limit > 50 {
		limit = 10
	}
	bundle := b.collector.GatherUniverse(ctx, sector, limit)

	r := b.report(TypeGoldmanScreener, fmt.Sprintf("Sector Screen: %s", sector), bundle.Sources,
		[]string{"screener", "quote"})
	r.Data["sector"] = sector
	r.Data["universe_size"] = len(bundle.Rows)

	rows := append([]ScreenerRanking(nil), rankScreener(bundle)...)
	r.Data["rankings"] = rows

	var md strings.Builder
	fmt.Fprintf(&md, "# Sector Screen: %s\n\n", sector)
	if len(rows) == 0 {
		md.WriteString("No names passed the screen.\n")
		r.Limitations = append(r.Limitations, "screener returned an empty universe")
	} else {
		md.WriteString("| Rank | Ticker | Company | P/E | Mkt Cap ($M) | Day Change |\n")
		md.WriteString("|------|--------|---------|-----|--------------|------------|\n")
		for i, row := range rows {
			fmt.Fprintf(&md, "| %d | %s | %s | %.1f | %.0f | %+.2f%% |\n",
				i+1, row.Ticker, row.Company, row.PE, row.MarketCap, row.Change)
		}
	}
	r.Markdown = md.String()
	r.Assumptions = append(r.Assumptions, "ranking favors positive momentum with a non-negative earnings multiple")
	r.Limitations = append(r.Limitations, "screen reflects a single trading day; no fundamental deep-dive per name")
	return r, nil
}

// ScreenerRanking is one ranked screener row.
type ScreenerRanking struct {
	Ticker    string  `json:"ticker"`
	Company   string  `json:"company"`
	PE        float64 `json:"pe"`
	MarketCap float64 `json:"market_cap_millions"`
	Change    float64 `json:"change_percent"`
}

func rankScreener(bundle *UniverseBundle) []ScreenerRanking {
	out := make([]ScreenerRanking, 0, len(bundle.Rows))
	for _, row := range bundle.Rows {
		change := row.Change
		if q, ok := bundle.Quotes[row.Ticker]; ok && q.PercentChange != 0 {
			change = q.PercentChange
		}
		out = append(out, ScreenerRanking{
			Ticker:    row.Ticker,
			Company:   row.Company,
			PE:        row.PE,
			MarketCap: row.MarketCap,
			Change:    change,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Change > out[j].Change })
	return out
}

func (b *Builder) jpmFundamental(ctx context.Context, payload Payload) (*Report, error) {
	ticker, err := requireTicker(payload)
	if err != nil {
		return nil, err
	}
	bundle := b.collector.GatherTicker(ctx, ticker, false)

	r := b.report(TypeJPMFundamental, fmt.Sprintf("Fundamental Review: %s", ticker), bundle.Sources,
		[]string{"company_overview", "quote", "analyst_ratings"})

	var md strings.Builder
	fmt.Fprintf(&md, "# Fundamental Review: %s\n\n", ticker)

	var price, pe, marketCapM float64
	if bundle.Quote != nil {
		price = bundle.Quote.Price
		pe = bundle.Quote.PERatio
	}
	if bundle.Overview != nil {
		marketCapM = bundle.Overview.MarketCap
		if bundle.Overview.PE > 0 {
			pe = bundle.Overview.PE
		}
		fmt.Fprintf(&md, "%s operates in %s / %s with a market cap of $%.0fM.\n\n",
			bundle.Overview.Company, bundle.Overview.Sector, bundle.Overview.Industry, marketCapM)
	}
	if pe > 0 && price > 0 {
		fmt.Fprintf(&md, "| Metric | Value |\n|--------|-------|\n| Price | %.2f |\n| P/E | %.1f |\n| Implied earnings yield | %.1f%% |\n\n",
			price, pe, 100/pe)
	}

	// DCF on a free-cash-flow proxy of 4% of market cap.
	if marketCapM > 0 {
		fcf := marketCapM * 1e6 * 0.04
		dcf := DCF(fcf, 0.08, 0.09, 0.025, 5)
		if dcf != nil {
			r.Data["dcf"] = dcf
			upside := (dcf.FairValue/(marketCapM*1e6) - 1) * 100
			fmt.Fprintf(&md, "## Valuation\n\nFive-year DCF values the enterprise at $%.0fM (%+.1f%% vs market cap).\n\n",
				dcf.FairValue/1e6, upside)
			md.WriteString("Sensitivity (fair value, $M):\n\n")
			keys := make([]string, 0, len(dcf.Sensitivity))
			for k := range dcf.Sensitivity {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			for _, k := range keys {
				fmt.Fprintf(&md, "- %s: %.0f\n", k, dcf.Sensitivity[k]/1e6)
			}
			md.WriteString("\n")
		}
	} else {
		r.Limitations = append(r.Limitations, "market cap unavailable; DCF skipped")
	}

	if len(bundle.Ratings) > 0 {
		md.WriteString("## Street View\n\n")
		for i, rating := range bundle.Ratings {
			if i == 5 {
				break
			}
			fmt.Fprintf(&md, "- %s: %s %s (target %s)\n", rating.Firm, rating.Action, rating.Rating, rating.PriceTarget)
		}
	}

	r.Markdown = md.String()
	r.Assumptions = append(r.Assumptions,
		"free cash flow proxied at 4% of market cap",
		"8% growth for five years, 9% discount rate, 2.5% terminal growth")
	r.Limitations = append(r.Limitations, "DCF inputs are heuristic; refine with reported financials before acting")
	return r, nil
}

// macroSeries is the series set the macro report renders, in order.
var macroSeries = []struct{ ID, Label string }{
	{"FEDFUNDS", "Fed Funds Rate"},
	{"CPIAUCSL", "CPI (All Urban)"},
	{"UNRATE", "Unemployment Rate"},
	{"DGS10", "10Y Treasury Yield"},
	{"DGS2", "2Y Treasury Yield"},
}

func (b *Builder) bridgewaterMacro(ctx context.Context, _ Payload) (*Report, error) {
	r := b.report(TypeBridgewaterMacro, "Macro Regime Readout", nil, []string{"fred_series"})
	if b.collector.econ == nil {
		return nil, fmt.Errorf("%w: no economic data source configured", ErrInvalidPayload)
	}

	ctx, cancel := context.WithTimeout(ctx, gatherTimeout)
	defer cancel()

	series := make([]*models.EconomicSeries, len(macroSeries))
	var wg sync.WaitGroup
	for i, s := range macroSeries {
		wg.Add(1)
		go func(i int, id string) {
			defer wg.Done()
			got, err := b.collector.econ.Observations(ctx, id, 13)
			if err != nil {
				b.logger.Warn("macro series fetch failed", "series", id, "error", err)
				return
			}
			series[i] = got
		}(i, s.ID)
	}
	wg.Wait()

	var md strings.Builder
	md.WriteString("# Macro Regime Readout\n\n| Series | Latest | Prior | Direction |\n|--------|--------|-------|-----------|\n")
	got := 0
	for i, meta := range macroSeries {
		s := series[i]
		if s == nil || len(s.Observations) == 0 {
			continue
		}
		got++
		r.SourcesUsed = append(r.SourcesUsed, "fred:"+meta.ID)
		latest := s.Observations[len(s.Observations)-1]
		prior := latest
		if len(s.Observations) > 1 {
			prior = s.Observations[len(s.Observations)-2]
		}
		direction := "flat"
		if latest.Value > prior.Value {
			direction = "rising"
		} else if latest.Value < prior.Value {
			direction = "falling"
		}
		fmt.Fprintf(&md, "| %s | %.2f (%s) | %.2f | %s |\n", meta.Label, latest.Value, latest.Date, prior.Value, direction)
		r.Data[meta.ID] = latest.Value
	}
	if got == 0 {
		md.WriteString("\nNo series data was available.\n")
		r.Limitations = append(r.Limitations, "all FRED series fetches failed")
	}

	r.Markdown = md.String()
	r.Assumptions = append(r.Assumptions, "regime read uses latest published observations; revisions lag")
	r.Limitations = append(r.Limitations, "macro indicators are backward-looking and subject to revision")
	return r, nil
}

func (b *Builder) blackrockRisk(ctx context.Context, payload Payload) (*Report, error) {
	if len(payload.Holdings) < 2 {
		return nil, fmt.Errorf("%w: risk report needs at least two holdings", ErrInvalidPayload)
	}

	ctx, cancel := context.WithTimeout(ctx, gatherTimeout)
	defer cancel()

	closes := map[string][]float64{}
	var mu sync.Mutex
	var wg sync.WaitGroup
	for _, h := range payload.Holdings {
		wg.Add(1)
		go func(symbol string) {
			defer wg.Done()
			rows, err := b.collector.market.History(ctx, symbol, 180)
			if err != nil {
				b.logger.Warn("risk history fetch failed", "symbol", symbol, "error", err)
				return
			}
			mu.Lock()
			closes[symbol] = closesOf(rows)
			mu.Unlock()
		}(strings.ToUpper(h.Symbol))
	}
	wg.Wait()

	r := b.report(TypeBlackrockRisk, "Portfolio Risk Profile", []string{"historical_prices"},
		[]string{"historical_prices"})

	var md strings.Builder
	md.WriteString("# Portfolio Risk Profile\n\n")

	// Concentration.
	var maxWeight float64
	var maxSymbol string
	for _, h := range payload.Holdings {
		if h.Weight > maxWeight {
			maxWeight, maxSymbol = h.Weight, strings.ToUpper(h.Symbol)
		}
	}
	fmt.Fprintf(&md, "Largest position: %s at %.1f%% of the portfolio.\n\n", maxSymbol, maxWeight*100)
	r.Data["max_weight"] = maxWeight
	r.Data["max_weight_symbol"] = maxSymbol
	if maxWeight > 0.25 {
		r.Limitations = append(r.Limitations, fmt.Sprintf("concentration risk: %s exceeds 25%% of the book", maxSymbol))
	}

	symbols, corr := CorrelationMatrix(closes)
	if corr != nil {
		md.WriteString("## Correlation (daily returns, 180d)\n\n|  | " + strings.Join(symbols, " | ") + " |\n")
		md.WriteString("|--" + strings.Repeat("|--", len(symbols)) + "|\n")
		pairs := map[string]float64{}
		for i, rowSym := range symbols {
			fmt.Fprintf(&md, "| **%s** ", rowSym)
			for j := range symbols {
				fmt.Fprintf(&md, "| %.2f ", corr.At(i, j))
				if i < j {
					pairs[rowSym+"/"+symbols[j]] = corr.At(i, j)
				}
			}
			md.WriteString("|\n")
		}
		r.Data["correlations"] = pairs
	} else {
		md.WriteString("Not enough overlapping history to compute correlations.\n")
		r.Limitations = append(r.Limitations, "insufficient price history for the correlation matrix")
	}

	r.Markdown = md.String()
	r.Assumptions = append(r.Assumptions, "correlations computed on up to 180 daily returns per holding")
	r.Limitations = append(r.Limitations, "correlation is historical and regime-dependent")
	return r, nil
}

func (b *Builder) vanguardDividend(ctx context.Context, payload Payload) (*Report, error) {
	ticker, err := requireTicker(payload)
	if err != nil {
		return nil, err
	}
	bundle := b.collector.GatherTicker(ctx, ticker, false)

	r := b.report(TypeVanguardDividend, fmt.Sprintf("Dividend Safety: %s", ticker), bundle.Sources,
		[]string{"quote", "company_overview"})

	var yield, pe float64
	if bundle.Quote != nil {
		yield = bundle.Quote.DividendYield / 100
		pe = bundle.Quote.PERatio
	}
	if bundle.Overview != nil && bundle.Overview.PE > 0 {
		pe = bundle.Overview.PE
	}
	// Payout ratio from yield and multiple: DPS/EPS = yield * P/E.
	payout := yield * pe

	safety := DividendSafety(payout, yield, pe)
	r.Data["dividend_safety"] = safety
	r.Data["payout_ratio"] = payout

	var md strings.Builder
	fmt.Fprintf(&md, "# Dividend Safety: %s\n\n", ticker)
	fmt.Fprintf(&md, "Safety score **%.0f/100** (%s).\n\n", safety.Score, safety.Grade)
	fmt.Fprintf(&md, "| Metric | Value |\n|--------|-------|\n| Yield | %.2f%% |\n| P/E | %.1f |\n| Implied payout ratio | %.0f%% |\n\n",
		yield*100, pe, payout*100)
	md.WriteString("Factors:\n\n")
	for _, f := range safety.Factors {
		md.WriteString("- " + f + "\n")
	}

	r.Markdown = md.String()
	r.Assumptions = append(r.Assumptions, "payout ratio derived as yield x P/E; actual payout may differ on cash-flow basis")
	r.Limitations = append(r.Limitations, "score ignores dividend growth history and balance-sheet detail")
	return r, nil
}

func (b *Builder) renaissanceQuant(ctx context.Context, payload Payload) (*Report, error) {
	ticker, err := requireTicker(payload)
	if err != nil {
		return nil, err
	}
	bundle := b.collector.GatherTicker(ctx, ticker, false)

	r := b.report(TypeRenaissanceQuant, fmt.Sprintf("Quantitative Profile: %s", ticker), bundle.Sources,
		[]string{"historical_prices"})

	var md strings.Builder
	fmt.Fprintf(&md, "# Quantitative Profile: %s\n\n", ticker)

	closes := closesOf(bundle.History)
	if mom := Momentum(closes); mom != nil {
		r.Data["momentum"] = mom
		fmt.Fprintf(&md, "Momentum composite %+.2f (RSI %.1f, MACD %+.2f vs signal %+.2f).\n\n",
			mom.Score, mom.RSI, mom.MACD, mom.Signal)
	} else {
		r.Limitations = append(r.Limitations, "under 200 closes; momentum battery skipped")
	}

	if season := Seasonality(bundle.History); season != nil {
		r.Data["seasonality"] = season
		fmt.Fprintf(&md, "## Seasonality\n\nBest month historically: **%s** (avg %+0.2f%%/day).\n\n",
			season.BestMonth, season.ByMonth[season.BestMonth]*100)
		md.WriteString("| Weekday | Avg return |\n|---------|------------|\n")
		for _, day := range []string{"Monday", "Tuesday", "Wednesday", "Thursday", "Friday"} {
			if v, ok := season.ByWeekday[day]; ok {
				fmt.Fprintf(&md, "| %s | %+.3f%% |\n", day, v*100)
			}
		}
	} else {
		r.Limitations = append(r.Limitations, "insufficient history for seasonality buckets")
	}

	r.Markdown = md.String()
	r.Assumptions = append(r.Assumptions, "statistics computed on one year of daily closes")
	r.Limitations = append(r.Limitations, "historical seasonality carries no forward guarantee")
	return r, nil
}

func (b *Builder) morganstanleyEarnings(ctx context.Context, payload Payload) (*Report, error) {
	ticker, err := requireTicker(payload)
	if err != nil {
		return nil, err
	}
	bundle := b.collector.GatherTicker(ctx, ticker, false)

	r := b.report(TypeMorganStanleyEarning, fmt.Sprintf("Earnings Preview: %s", ticker), bundle.Sources,
		[]string{"analyst_ratings", "stock_news", "company_overview"})

	var md strings.Builder
	fmt.Fprintf(&md, "# Earnings Preview: %s\n\n", ticker)

	if bundle.Quote != nil && bundle.Quote.PERatio > 0 {
		fmt.Fprintf(&md, "Trading at %.2f, %.1fx earnings going into the print.\n\n", bundle.Quote.Price, bundle.Quote.PERatio)
	}

	upgrades, downgrades := 0, 0
	for _, rating := range bundle.Ratings {
		switch strings.ToLower(rating.Action) {
		case "upgrade":
			upgrades++
		case "downgrade":
			downgrades++
		}
	}
	r.Data["upgrades"] = upgrades
	r.Data["downgrades"] = downgrades
	fmt.Fprintf(&md, "## Street Positioning\n\nRecent actions: %d upgrades, %d downgrades.\n\n", upgrades, downgrades)
	for i, rating := range bundle.Ratings {
		if i == 5 {
			break
		}
		fmt.Fprintf(&md, "- %s %s: %s (target %s)\n", rating.Date, rating.Firm, rating.Rating, rating.PriceTarget)
	}

	if len(bundle.News) > 0 {
		md.WriteString("\n## Into the Print\n\n")
		for i, item := range bundle.News {
			if i == 5 {
				break
			}
			fmt.Fprintf(&md, "- %s\n", item.Title)
		}
	}

	r.Markdown = md.String()
	r.Assumptions = append(r.Assumptions, "street positioning inferred from recent published analyst actions")
	r.Limitations = append(r.Limitations, "no consensus estimate feed; directional read only")
	return r, nil
}

func (b *Builder) berkshireMoat(ctx context.Context, payload Payload) (*Report, error) {
	ticker, err := requireTicker(payload)
	if err != nil {
		return nil, err
	}
	bundle := b.collector.GatherTicker(ctx, ticker, false)

	r := b.report(TypeBerkshireMoat, fmt.Sprintf("Moat Assessment: %s", ticker), bundle.Sources,
		[]string{"company_overview", "quote"})

	score := 0
	var checks []string
	if bundle.Overview != nil {
		if bundle.Overview.MarketCap > 100_000 { // $100B+, scale advantage
			score++
			checks = append(checks, "scale: mega-cap incumbency")
		}
		if bundle.Overview.PE > 0 && bundle.Overview.PE < 30 {
			score++
			checks = append(checks, fmt.Sprintf("valuation discipline: %.1fx earnings", bundle.Overview.PE))
		}
	}
	if bundle.Quote != nil {
		if bundle.Quote.DividendYield > 0 {
			score++
			checks = append(checks, fmt.Sprintf("capital return: %.2f%% yield", bundle.Quote.DividendYield))
		}
		if bundle.Quote.Week52Low > 0 && bundle.Quote.Price > 0 {
			drawdown := (bundle.Quote.Week52High - bundle.Quote.Price) / bundle.Quote.Week52High
			if drawdown < 0.15 {
				score++
				checks = append(checks, "resilience: trading within 15% of 52-week high")
			}
		}
	}
	r.Data["moat_score"] = score
	r.Data["checks"] = checks

	var md strings.Builder
	fmt.Fprintf(&md, "# Moat Assessment: %s\n\nMoat checklist score: **%d/4**.\n\n", ticker, score)
	for _, c := range checks {
		md.WriteString("- " + c + "\n")
	}
	if len(checks) == 0 {
		md.WriteString("No moat signals surfaced from the available data.\n")
	}

	r.Markdown = md.String()
	r.Assumptions = append(r.Assumptions, "checklist proxies durable advantage from market data; not a substitute for reading filings")
	r.Limitations = append(r.Limitations, "true moat analysis requires unit economics unavailable from quote data")
	return r, nil
}

func (b *Builder) citronShort(ctx context.Context, payload Payload) (*Report, error) {
	ticker, err := requireTicker(payload)
	if err != nil {
		return nil, err
	}
	bundle := b.collector.GatherTicker(ctx, ticker, false)

	r := b.report(TypeCitronShort, fmt.Sprintf("Short Thesis Screen: %s", ticker), bundle.Sources,
		[]string{"insider_trades", "quote", "company_overview", "stock_news"})

	flags := 0
	var signals []string

	sells, buys := 0, 0
	for _, t := range bundle.Insiders {
		if strings.EqualFold(t.Transaction, "sale") {
			sells++
		} else {
			buys++
		}
	}
	if sells > 0 && sells >= buys*3 {
		flags++
		signals = append(signals, fmt.Sprintf("insider selling skew: %d sales vs %d buys", sells, buys))
	}
	r.Data["insider_sells"] = sells
	r.Data["insider_buys"] = buys

	var pe float64
	if bundle.Overview != nil {
		pe = bundle.Overview.PE
	}
	if pe == 0 && bundle.Quote != nil {
		pe = bundle.Quote.PERatio
	}
	if pe > 60 {
		flags++
		signals = append(signals, fmt.Sprintf("valuation stretch: %.0fx earnings", pe))
	} else if pe <= 0 {
		flags++
		signals = append(signals, "unprofitable: no positive earnings multiple")
	}

	if bundle.Quote != nil && bundle.Quote.Week52High > 0 {
		drawdown := (bundle.Quote.Week52High - bundle.Quote.Price) / bundle.Quote.Week52High
		if drawdown > 0.4 {
			flags++
			signals = append(signals, fmt.Sprintf("broken chart: %.0f%% off the 52-week high", drawdown*100))
		}
		r.Data["drawdown_from_high"] = drawdown
	}
	r.Data["red_flags"] = flags

	var md strings.Builder
	fmt.Fprintf(&md, "# Short Thesis Screen: %s\n\nRed flags raised: **%d**.\n\n", ticker, flags)
	for _, s := range signals {
		md.WriteString("- " + s + "\n")
	}
	if flags == 0 {
		md.WriteString("No mechanical short signals triggered; this screen does not support a short thesis.\n")
	}
	if bundle.WebSentiment != nil && bundle.WebSentiment.Answer != "" {
		fmt.Fprintf(&md, "\n## Sentiment Read\n\n%s\n", bundle.WebSentiment.Answer)
	}

	r.Markdown = md.String()
	r.Assumptions = append(r.Assumptions, "mechanical screen only; no forensic accounting performed")
	r.Limitations = append(r.Limitations, "short selling carries unbounded risk; signals here are screening-grade")
	return r, nil
}
