package models

import (
	"encoding/json"
	"time"
)

// ReportType identifies one of the templated institutional-style analyses.
type ReportType string

// The ten report types. Institution-specific detection patterns are ordered
// before generic ones in the streaming classifier.
const (
	ReportCitadelTechnical     ReportType = "citadel_technical"
	ReportGoldmanScreener      ReportType = "goldman_screener"
	ReportJPMFundamental       ReportType = "jpm_fundamental"
	ReportBridgewaterMacro     ReportType = "bridgewater_macro"
	ReportBlackRockRisk        ReportType = "blackrock_risk"
	ReportVanguardDividend     ReportType = "vanguard_dividend"
	ReportRenaissanceQuant     ReportType = "renaissance_quant"
	ReportMorganStanleyEarning ReportType = "morganstanley_earnings"
	ReportBerkshireMoat        ReportType = "berkshire_moat"
	ReportCitronShort          ReportType = "citron_short"
)

// AllReportTypes lists every report type in presentation order.
func AllReportTypes() []ReportType {
	return []ReportType{
		ReportCitadelTechnical, ReportGoldmanScreener, ReportJPMFundamental,
		ReportBridgewaterMacro, ReportBlackRockRisk, ReportVanguardDividend,
		ReportRenaissanceQuant, ReportMorganStanleyEarning,
		ReportBerkshireMoat, ReportCitronShort,
	}
}

// ValidReportType reports whether s names a known report type.
func ValidReportType(s string) (ReportType, bool) {
	for _, rt := range AllReportTypes() {
		if string(rt) == s {
			return rt, true
		}
	}
	return "", false
}

// ReportPayload is the validated input to a report builder.
type ReportPayload struct {
	Ticker   string    `json:"ticker,omitempty"`
	Holdings []Holding `json:"holdings,omitempty"`
	Sector   string    `json:"sector,omitempty"`
	Limit    int       `json:"limit,omitempty"`
}

// Holding is one position in a holdings-style payload.
type Holding struct {
	Symbol string  `json:"symbol"`
	Weight float64 `json:"weight,omitempty"`
	Shares float64 `json:"shares,omitempty"`
}

// Report is a generated analysis: structured data plus rendered markdown and
// the provenance fields scored by the quality gate.
type Report struct {
	ReportType   ReportType      `json:"report_type"`
	Title        string          `json:"title"`
	GeneratedAt  time.Time       `json:"generated_at"`
	Data         json.RawMessage `json:"data,omitempty"`
	Markdown     string          `json:"markdown"`
	Assumptions  []string        `json:"assumptions,omitempty"`
	Limitations  []string        `json:"limitations,omitempty"`
	SourcesUsed  []string        `json:"sources_used,omitempty"`
	ToolPlan     []string        `json:"tool_plan,omitempty"`
	ThreadID     string          `json:"thread_id,omitempty"`
	QualityScore float64         `json:"quality_score,omitempty"`
}

// ReportThread is a persisted per-owner conversation scoped to one report
// type. The report type is immutable for the thread's lifetime.
type ReportThread struct {
	ID              string          `json:"id"`
	OwnerKey        string          `json:"owner_key"`
	ReportType      ReportType      `json:"report_type"`
	BasePayload     ReportPayload   `json:"base_payload"`
	EffectivePrompt string          `json:"effective_prompt"`
	LatestReport    json.RawMessage `json:"latest_report,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

// ThreadMessage is one entry of a thread's ordered message log.
type ThreadMessage struct {
	ThreadID  string          `json:"thread_id"`
	Role      string          `json:"role"`
	Content   string          `json:"content"`
	Metadata  json.RawMessage `json:"metadata,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}

// PromptOverride is a per-owner saved prompt for one report type.
type PromptOverride struct {
	OwnerKey   string     `json:"owner_key"`
	ReportType ReportType `json:"report_type"`
	PromptText string     `json:"prompt_text"`
	CreatedAt  time.Time  `json:"created_at,omitempty"`
	UpdatedAt  time.Time  `json:"updated_at,omitempty"`
}

// ReportRun records one orchestrated report generation.
type ReportRun struct {
	ID          string          `json:"id"`
	ReportType  ReportType      `json:"report_type"`
	Payload     json.RawMessage `json:"payload"`
	Report      json.RawMessage `json:"report"`
	GeneratedAt time.Time       `json:"generated_at"`
}
