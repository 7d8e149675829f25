// Package reports implements the institutional report subsystem: ten
// templated builders with parallel sub-agent fan-out, a weighted quality gate
// with repair, a synthesizer, and thread-scoped follow-up conversations.
package reports

import "time"

// Report type identifiers. Each maps to one builder and one default prompt.
const (
	TypeCitadelTechnical     = "citadel_technical"
	TypeGoldmanScreener      = "goldman_screener"
	TypeJPMFundamental       = "jpm_fundamental"
	TypeBridgewaterMacro     = "bridgewater_macro"
	TypeBlackrockRisk        = "blackrock_risk"
	TypeVanguardDividend     = "vanguard_dividend"
	TypeRenaissanceQuant     = "renaissance_quant"
	TypeMorganStanleyEarning = "morganstanley_earnings"
	TypeBerkshireMoat        = "berkshire_moat"
	TypeCitronShort          = "citron_short"
)

// AllTypes lists every report type in presentation order.
func AllTypes() []string {
	return []string{
		TypeCitadelTechnical,
		TypeGoldmanScreener,
		TypeJPMFundamental,
		TypeBridgewaterMacro,
		TypeBlackrockRisk,
		TypeVanguardDividend,
		TypeRenaissanceQuant,
		TypeMorganStanleyEarning,
		TypeBerkshireMoat,
		TypeCitronShort,
	}
}

// ValidType reports whether t names a known report type.
func ValidType(t string) bool {
	for _, known := range AllTypes() {
		if known == t {
			return true
		}
	}
	return false
}

// Payload is the builder input. Ticker-scoped reports need Ticker; screener
// and macro reports use Sector/Limit; risk reports use Holdings.
type Payload struct {
	Ticker   string    `json:"ticker,omitempty"`
	Holdings []Holding `json:"holdings,omitempty"`
	Sector   string    `json:"sector,omitempty"`
	Limit    int       `json:"limit,omitempty"`
}

// Holding is one portfolio position for risk reports.
type Holding struct {
	Symbol string  `json:"symbol"`
	Weight float64 `json:"weight"`
}

// Report is the builder output plus gate metadata.
type Report struct {
	ReportType  string         `json:"report_type"`
	Title       string         `json:"title"`
	GeneratedAt time.Time      `json:"generated_at"`
	Data        map[string]any `json:"data,omitempty"`
	Markdown    string         `json:"markdown"`
	Assumptions []string       `json:"assumptions,omitempty"`
	Limitations []string       `json:"limitations,omitempty"`
	SourcesUsed []string       `json:"sources_used,omitempty"`
	ToolPlan    []string       `json:"tool_plan,omitempty"`
	Quality     *QualityResult `json:"quality,omitempty"`
}

// QualityResult is the gate's verdict over one report.
type QualityResult struct {
	Score    float64         `json:"score"`
	Passed   bool            `json:"passed"`
	Checks   map[string]bool `json:"checks"`
	Repaired bool            `json:"repaired,omitempty"`
}
