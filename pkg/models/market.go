package models

import "time"

// Quote is the provider-normalized quote shape. Fields that a provider does
// not supply are zero-valued.
type Quote struct {
	Symbol        string  `json:"symbol"`
	Price         float64 `json:"price"`
	Change        float64 `json:"change"`
	PercentChange float64 `json:"percent_change"`
	Volume        int64   `json:"volume"`
	Bid           float64 `json:"bid"`
	Ask           float64 `json:"ask"`
	Open          float64 `json:"open"`
	Close         float64 `json:"close"`
	High          float64 `json:"high"`
	Low           float64 `json:"low"`
	Week52High    float64 `json:"week_52_high"`
	Week52Low     float64 `json:"week_52_low"`
	PERatio       float64 `json:"pe_ratio,omitempty"`
	DividendYield float64 `json:"dividend_yield,omitempty"`
	Timestamp     string  `json:"timestamp"`
	Provider      string  `json:"provider"`
}

// Candle is one normalized history row: upper-cased symbol, YYYY-MM-DD date,
// OHLCV preserved from the provider.
type Candle struct {
	Symbol string  `json:"symbol"`
	Date   string  `json:"date"`
	Open   float64 `json:"open"`
	High   float64 `json:"high"`
	Low    float64 `json:"low"`
	Close  float64 `json:"close"`
	Volume int64   `json:"volume"`
}

// Mover is one row of a market movers response.
type Mover struct {
	Symbol    string  `json:"symbol"`
	LastPrice float64 `json:"last_price"`
	Change    float64 `json:"change"`
	Direction string  `json:"direction"` // "up" or "down"
	Volume    int64   `json:"volume"`
}

// Movers is the normalized movers response for one index.
type Movers struct {
	Index  string  `json:"index"`
	Sort   string  `json:"sort"`
	Movers []Mover `json:"movers"`
}

// MarketHours describes one market/product session.
type MarketHours struct {
	Market       string `json:"market"`
	Product      string `json:"product"`
	IsOpen       bool   `json:"is_open"`
	Date         string `json:"date"`
	SessionHours string `json:"session_hours,omitempty"`
}

// NewsItem is a normalized news headline.
type NewsItem struct {
	Title       string    `json:"title"`
	Summary     string    `json:"summary,omitempty"`
	Source      string    `json:"source,omitempty"`
	URL         string    `json:"url,omitempty"`
	Symbols     []string  `json:"symbols,omitempty"`
	PublishedAt time.Time `json:"published_at,omitempty"`
}

// CompanyProfile is basic descriptive data about a listed company.
type CompanyProfile struct {
	Symbol      string `json:"symbol"`
	Name        string `json:"name"`
	Exchange    string `json:"exchange,omitempty"`
	Sector      string `json:"sector,omitempty"`
	Industry    string `json:"industry,omitempty"`
	Description string `json:"description,omitempty"`
	Website     string `json:"website,omitempty"`
	MarketCap   int64  `json:"market_cap,omitempty"`
	Employees   int64  `json:"employees,omitempty"`
}

// CompanyOverview is the fundamentals snapshot used by the fundamentals agent
// and the report builders.
type CompanyOverview struct {
	Symbol          string  `json:"symbol"`
	Name            string  `json:"name"`
	Sector          string  `json:"sector,omitempty"`
	MarketCap       int64   `json:"market_cap,omitempty"`
	PERatio         float64 `json:"pe_ratio,omitempty"`
	ForwardPE       float64 `json:"forward_pe,omitempty"`
	PEGRatio        float64 `json:"peg_ratio,omitempty"`
	PriceToBook     float64 `json:"price_to_book,omitempty"`
	EPS             float64 `json:"eps,omitempty"`
	RevenueGrowth   float64 `json:"revenue_growth,omitempty"`
	ProfitMargin    float64 `json:"profit_margin,omitempty"`
	OperatingMargin float64 `json:"operating_margin,omitempty"`
	ROE             float64 `json:"roe,omitempty"`
	DebtToEquity    float64 `json:"debt_to_equity,omitempty"`
	CurrentRatio    float64 `json:"current_ratio,omitempty"`
	DividendYield   float64 `json:"dividend_yield,omitempty"`
	PayoutRatio     float64 `json:"payout_ratio,omitempty"`
	FreeCashFlow    float64 `json:"free_cash_flow,omitempty"`
	Beta            float64 `json:"beta,omitempty"`
}

// AnalystRating is one analyst action on a symbol.
type AnalystRating struct {
	Symbol      string `json:"symbol"`
	Firm        string `json:"firm"`
	Action      string `json:"action,omitempty"` // upgrade, downgrade, initiate, reiterate
	Rating      string `json:"rating,omitempty"`
	PriceTarget string `json:"price_target,omitempty"`
	Date        string `json:"date,omitempty"`
}

// InsiderTrade is one reported insider transaction.
type InsiderTrade struct {
	Symbol      string  `json:"symbol"`
	Insider     string  `json:"insider"`
	Relation    string  `json:"relation,omitempty"`
	Transaction string  `json:"transaction"` // buy or sale
	Shares      int64   `json:"shares,omitempty"`
	Value       float64 `json:"value,omitempty"`
	Date        string  `json:"date,omitempty"`
}

// EconomicSeries is a normalized FRED-style series slice.
type EconomicSeries struct {
	SeriesID     string            `json:"series_id"`
	Title        string            `json:"title,omitempty"`
	Units        string            `json:"units,omitempty"`
	Observations []EconomicReading `json:"observations"`
}

// EconomicReading is one dated value of an economic series.
type EconomicReading struct {
	Date  string  `json:"date"`
	Value float64 `json:"value"`
}

// SentimentSnippet is one source's sentiment read on a topic.
type SentimentSnippet struct {
	Source  string  `json:"source"` // reddit, news, political_trades
	Topic   string  `json:"topic,omitempty"`
	Score   float64 `json:"score,omitempty"` // -1..1 when the source scores
	Summary string  `json:"summary"`
}
