package marketdata

import (
	"context"
	"fmt"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/finsight-ai/finsight/pkg/cache"
	"github.com/finsight-ai/finsight/pkg/config"
	"github.com/finsight-ai/finsight/pkg/providers/alpaca"
	"github.com/finsight-ai/finsight/pkg/providers/schwab"
)

type fakeSchwab struct {
	quotes     map[string]schwab.QuoteEntry
	quotesErr  error
	candles    []schwab.CandleEntry
	historyErr error
	movers     []schwab.MoverEntry

	quoteCalls   int
	historyCalls int

	gotPeriodType string
	gotPeriod     int
}

func (f *fakeSchwab) Quotes(_ context.Context, _ []string) (map[string]schwab.QuoteEntry, error) {
	f.quoteCalls++
	return f.quotes, f.quotesErr
}

func (f *fakeSchwab) PriceHistory(_ context.Context, _, periodType string, period int) ([]schwab.CandleEntry, error) {
	f.historyCalls++
	f.gotPeriodType = periodType
	f.gotPeriod = period
	return f.candles, f.historyErr
}

func (f *fakeSchwab) Movers(_ context.Context, _, _ string) ([]schwab.MoverEntry, error) {
	return f.movers, nil
}

func (f *fakeSchwab) MarketHours(_ context.Context, _ []string) (map[string]map[string]schwab.HoursEntry, error) {
	return map[string]map[string]schwab.HoursEntry{
		"equity": {"EQ": {MarketType: "EQUITY", Product: "EQ", IsOpen: true, Date: "2026-08-24"}},
	}, nil
}

type fakeAlpaca struct {
	snaps    map[string]alpaca.Snapshot
	snapsErr error
	bars     []alpaca.Bar
	barsErr  error

	snapCalls int
	barCalls  int
}

func (f *fakeAlpaca) Snapshots(_ context.Context, _ []string) (map[string]alpaca.Snapshot, error) {
	f.snapCalls++
	return f.snaps, f.snapsErr
}

func (f *fakeAlpaca) Bars(_ context.Context, _ string, _ int) ([]alpaca.Bar, error) {
	f.barCalls++
	return f.bars, f.barsErr
}

func (f *fakeAlpaca) News(_ context.Context, _ []string, _ int) ([]alpaca.NewsItem, error) {
	return []alpaca.NewsItem{{Headline: "Chips rally", Source: "wire"}}, nil
}

func newTestService(t *testing.T, sw *fakeSchwab, al *fakeAlpaca, provider config.MarketDataProvider) *Service {
	t.Helper()
	cfg := config.MarketDataConfig{Provider: provider, MaxAgeDays: 7}
	svc := NewService(sw, al, nil, cache.NewMemoryStore(), cfg, slog.Default())
	svc.now = func() time.Time { return time.Date(2026, 8, 24, 15, 0, 0, 0, time.UTC) }
	return svc
}

func TestPeriodFor(t *testing.T) {
	tests := []struct {
		days       int
		periodType string
		period     int
	}{
		{30, "month", 1},
		{31, "month", 2},
		{60, "month", 2},
		{90, "month", 3},
		{180, "month", 6},
		{365, "year", 1},
		{730, "year", 2},
		{1825, "year", 5},
		{3650, "year", 10},
	}
	for _, tc := range tests {
		t.Run(fmt.Sprintf("%d_days", tc.days), func(t *testing.T) {
			periodType, period := PeriodFor(tc.days)
			assert.Equal(t, tc.periodType, periodType)
			assert.Equal(t, tc.period, period)
		})
	}
}

func TestQuotes_SchwabPreferred(t *testing.T) {
	sw := &fakeSchwab{quotes: map[string]schwab.QuoteEntry{
		"AAPL": {Symbol: "AAPL"},
	}}
	sw.quotes["AAPL"] = func() schwab.QuoteEntry {
		e := sw.quotes["AAPL"]
		e.QuoteData.LastPrice = 231.5
		e.QuoteData.NetChange = 1.2
		e.QuoteData.TotalVolume = 1000
		return e
	}()
	al := &fakeAlpaca{}

	svc := newTestService(t, sw, al, config.ProviderAuto)
	quotes, err := svc.Quotes(context.Background(), []string{"aapl", "AAPL"})
	require.NoError(t, err)
	require.Len(t, quotes, 1)
	assert.Equal(t, 231.5, quotes["AAPL"].Price)
	assert.Equal(t, "schwab", quotes["AAPL"].Provider)
	assert.Equal(t, 0, al.snapCalls)
}

func TestQuotes_FallsBackToAlpaca(t *testing.T) {
	sw := &fakeSchwab{quotesErr: fmt.Errorf("schwab down")}
	al := &fakeAlpaca{snaps: map[string]alpaca.Snapshot{"AAPL": {}}}
	snap := al.snaps["AAPL"]
	snap.LatestTrade.Price = 230.0
	snap.PrevDailyBar.Close = 220.0
	al.snaps["AAPL"] = snap

	svc := newTestService(t, sw, al, config.ProviderAuto)
	quotes, err := svc.Quotes(context.Background(), []string{"AAPL"})
	require.NoError(t, err)
	assert.Equal(t, "alpaca", quotes["AAPL"].Provider)
	assert.InDelta(t, 10.0, quotes["AAPL"].Change, 1e-9)
	assert.InDelta(t, 4.545, quotes["AAPL"].PercentChange, 0.01)
	assert.Equal(t, 1, sw.quoteCalls)
	assert.Equal(t, 1, al.snapCalls)
}

func TestQuotes_AlpacaPreferredOrdering(t *testing.T) {
	sw := &fakeSchwab{quotes: map[string]schwab.QuoteEntry{"AAPL": {Symbol: "AAPL"}}}
	al := &fakeAlpaca{snaps: map[string]alpaca.Snapshot{"AAPL": {}}}

	svc := newTestService(t, sw, al, config.ProviderAlpaca)
	quotes, err := svc.Quotes(context.Background(), []string{"AAPL"})
	require.NoError(t, err)
	assert.Equal(t, "alpaca", quotes["AAPL"].Provider)
	assert.Equal(t, 0, sw.quoteCalls)
}

func TestHistory_NormalizesSchwabCandles(t *testing.T) {
	// 2026-08-21 and 2026-08-24 in ms epoch.
	sw := &fakeSchwab{candles: []schwab.CandleEntry{
		{Open: 1, High: 2, Low: 0.5, Close: 1.5, Volume: 100, Datetime: time.Date(2026, 8, 21, 0, 0, 0, 0, time.UTC).UnixMilli()},
		{Open: 1.5, High: 2.5, Low: 1, Close: 2, Volume: 200, Datetime: time.Date(2026, 8, 24, 0, 0, 0, 0, time.UTC).UnixMilli()},
	}}
	svc := newTestService(t, sw, &fakeAlpaca{}, config.ProviderAuto)

	rows, err := svc.History(context.Background(), "nvda", 30)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "NVDA", rows[0].Symbol)
	assert.Equal(t, "2026-08-21", rows[0].Date)
	assert.Equal(t, "2026-08-24", rows[1].Date)
	assert.Equal(t, "month", sw.gotPeriodType)
	assert.Equal(t, 1, sw.gotPeriod)
}

func TestHistory_StaleTriggersFallback(t *testing.T) {
	// Schwab's newest candle is 8 days old against a 7-day window: stale.
	sw := &fakeSchwab{candles: []schwab.CandleEntry{
		{Close: 1, Datetime: time.Date(2026, 8, 16, 0, 0, 0, 0, time.UTC).UnixMilli()},
	}}
	al := &fakeAlpaca{bars: []alpaca.Bar{
		{Timestamp: time.Date(2026, 8, 24, 4, 0, 0, 0, time.UTC), Close: 2},
	}}

	svc := newTestService(t, sw, al, config.ProviderAuto)
	rows, err := svc.History(context.Background(), "AAPL", 30)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, 2.0, rows[0].Close)
	assert.Equal(t, 1, sw.historyCalls)
	assert.Equal(t, 1, al.barCalls)
}

func TestHistory_ExactBoundaryIsFresh(t *testing.T) {
	// Newest candle is exactly MaxAgeDays (7) old: not stale, no fallback.
	sw := &fakeSchwab{candles: []schwab.CandleEntry{
		{Close: 1, Datetime: time.Date(2026, 8, 17, 0, 0, 0, 0, time.UTC).UnixMilli()},
	}}
	al := &fakeAlpaca{}

	svc := newTestService(t, sw, al, config.ProviderAuto)
	rows, err := svc.History(context.Background(), "AAPL", 30)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, 0, al.barCalls)
}

func TestHistory_AllStaleIsTreatedAsEmpty(t *testing.T) {
	sw := &fakeSchwab{candles: []schwab.CandleEntry{
		{Close: 1, Datetime: time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC).UnixMilli()},
		{Close: 1.1, Datetime: time.Date(2026, 8, 2, 0, 0, 0, 0, time.UTC).UnixMilli()},
	}}
	al := &fakeAlpaca{bars: []alpaca.Bar{
		{Timestamp: time.Date(2026, 8, 2, 0, 0, 0, 0, time.UTC), Close: 2},
	}}

	svc := newTestService(t, sw, al, config.ProviderAuto)
	rows, err := svc.History(context.Background(), "AAPL", 30)
	require.ErrorIs(t, err, ErrStaleHistory)
	assert.Empty(t, rows)
	// Both providers were consulted before giving up.
	assert.Equal(t, 1, sw.historyCalls)
	assert.Equal(t, 1, al.barCalls)
}

func TestHistory_TrimsToRequestedWindow(t *testing.T) {
	var candles []schwab.CandleEntry
	for i := 0; i < 40; i++ {
		candles = append(candles, schwab.CandleEntry{
			Close:    float64(i),
			Datetime: time.Date(2026, 7, 16, 0, 0, 0, 0, time.UTC).AddDate(0, 0, i).UnixMilli(),
		})
	}
	sw := &fakeSchwab{candles: candles}

	svc := newTestService(t, sw, &fakeAlpaca{}, config.ProviderAuto)
	rows, err := svc.History(context.Background(), "AAPL", 30)
	require.NoError(t, err)
	require.Len(t, rows, 30)
	assert.Equal(t, 39.0, rows[len(rows)-1].Close)
}

func TestMovers_Normalizes(t *testing.T) {
	sw := &fakeSchwab{movers: []schwab.MoverEntry{
		{Symbol: "NVDA", LastPrice: 900, NetChange: 12.5, TotalVolume: 5000},
		{Symbol: "INTC", LastPrice: 30, NetChange: -1.5, TotalVolume: 9000},
	}}

	svc := newTestService(t, sw, &fakeAlpaca{}, config.ProviderAuto)
	movers, err := svc.Movers(context.Background(), "", "")
	require.NoError(t, err)
	assert.Equal(t, "$SPX", movers.Index)
	require.Len(t, movers.Movers, 2)
	assert.Equal(t, "up", movers.Movers[0].Direction)
	assert.Equal(t, "down", movers.Movers[1].Direction)
}

func TestNews_Normalizes(t *testing.T) {
	svc := newTestService(t, &fakeSchwab{}, &fakeAlpaca{}, config.ProviderAuto)
	items, err := svc.News(context.Background(), []string{"nvda"}, 5)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "Chips rally", items[0].Title)
}

func TestQuotes_CachesAcrossCalls(t *testing.T) {
	sw := &fakeSchwab{quotes: map[string]schwab.QuoteEntry{"AAPL": {Symbol: "AAPL"}}}
	svc := newTestService(t, sw, &fakeAlpaca{}, config.ProviderAuto)

	_, err := svc.Quotes(context.Background(), []string{"AAPL"})
	require.NoError(t, err)
	_, err = svc.Quotes(context.Background(), []string{"AAPL"})
	require.NoError(t, err)
	assert.Equal(t, 1, sw.quoteCalls)
}
