package stream

import (
	"regexp"
	"strings"

	"github.com/finsight-ai/finsight/pkg/models"
	"github.com/finsight-ai/finsight/pkg/reports"
)

// RouteKind is the classifier verdict for one turn.
type RouteKind int

const (
	RouteChat RouteKind = iota
	RouteReport
	RouteReportFollowup
)

// FollowupRef is the explicit report follow-up reference a chat request may
// carry.
type FollowupRef struct {
	ReportType  string `json:"report_type"`
	ThreadID    string `json:"thread_id"`
	RefreshData bool   `json:"refresh_data,omitempty"`
}

// ChatRequest is the chat endpoint payload.
type ChatRequest struct {
	Messages       []models.Message `json:"messages"`
	UserID         string           `json:"user_id,omitempty"`
	TenantID       string           `json:"tenant_id,omitempty"`
	ConversationID string           `json:"conversation_id,omitempty"`
	ReportFollowup *FollowupRef     `json:"report_followup,omitempty"`
}

// Classification routes a turn to chat, a report run, or a report follow-up.
type Classification struct {
	Kind       RouteKind
	ReportType string
	Ticker     string
	Sector     string
	Followup   *FollowupRef
}

// reportPattern is one classifier rule. Institution-specific rules come
// before generic ones so "Citadel technical report" never lands on the
// generic technical rule of another bank.
type reportPattern struct {
	re         *regexp.Regexp
	reportType string
}

var reportPatterns = []reportPattern{
	{regexp.MustCompile(`(?i)\bcitadel\b`), reports.TypeCitadelTechnical},
	{regexp.MustCompile(`(?i)\bgoldman\b`), reports.TypeGoldmanScreener},
	{regexp.MustCompile(`(?i)\bjp ?morgan\b|\bjpm\b`), reports.TypeJPMFundamental},
	{regexp.MustCompile(`(?i)\bbridgewater\b`), reports.TypeBridgewaterMacro},
	{regexp.MustCompile(`(?i)\bblackrock\b`), reports.TypeBlackrockRisk},
	{regexp.MustCompile(`(?i)\bvanguard\b`), reports.TypeVanguardDividend},
	{regexp.MustCompile(`(?i)\brenaissance\b|\brentec\b`), reports.TypeRenaissanceQuant},
	{regexp.MustCompile(`(?i)\bmorgan ?stanley\b`), reports.TypeMorganStanleyEarning},
	{regexp.MustCompile(`(?i)\bberkshire\b|\bbuffett\b`), reports.TypeBerkshireMoat},
	{regexp.MustCompile(`(?i)\bcitron\b`), reports.TypeCitronShort},

	{regexp.MustCompile(`(?i)\btechnical (report|analysis report)\b`), reports.TypeCitadelTechnical},
	{regexp.MustCompile(`(?i)\b(screener report|stock screener|sector screen)\b`), reports.TypeGoldmanScreener},
	{regexp.MustCompile(`(?i)\bfundamental (report|analysis report)\b`), reports.TypeJPMFundamental},
	{regexp.MustCompile(`(?i)\bmacro report\b`), reports.TypeBridgewaterMacro},
	{regexp.MustCompile(`(?i)\b(risk report|portfolio risk)\b`), reports.TypeBlackrockRisk},
	{regexp.MustCompile(`(?i)\bdividend (report|safety report)\b`), reports.TypeVanguardDividend},
	{regexp.MustCompile(`(?i)\b(quant report|quantitative report)\b`), reports.TypeRenaissanceQuant},
	{regexp.MustCompile(`(?i)\b(earnings report|earnings preview)\b`), reports.TypeMorganStanleyEarning},
	{regexp.MustCompile(`(?i)\bmoat (report|analysis)\b`), reports.TypeBerkshireMoat},
	{regexp.MustCompile(`(?i)\b(short report|short thesis)\b`), reports.TypeCitronShort},
}

// reportIntentRe guards the implicit route: the turn has to talk about a
// report at all before the per-type patterns apply.
var reportIntentRe = regexp.MustCompile(`(?i)\b(report|screener|thesis|analysis)\b`)

var (
	bracketTickerRe = regexp.MustCompile(`\[([A-Za-z]{1,5})\]`)
	analyzeTickerRe = regexp.MustCompile(`(?i)analyze:\s*\$?([A-Za-z]{1,5})\b`)
	upperTokenRe    = regexp.MustCompile(`\b([A-Z]{2,5})\b`)
)

// classifierStopwords are uppercase tokens that never count as the ticker of
// an implicit report request.
var classifierStopwords = map[string]bool{
	"ETF": true, "IPO": true, "DCF": true, "RSI": true, "MACD": true,
	"JPM": true, "PDF": true, "CEO": true, "USA": true, "AI": true,
}

var sectorKeywords = []string{
	"technology", "tech", "healthcare", "health care", "energy", "financials",
	"financial", "utilities", "industrials", "consumer", "materials",
	"real estate", "communication",
}

// Classify routes the latest user message. Explicit follow-up references win;
// then implicit report requests; chat is the default.
func Classify(req ChatRequest) Classification {
	if f := req.ReportFollowup; f != nil && f.ReportType != "" && f.ThreadID != "" {
		return Classification{Kind: RouteReportFollowup, ReportType: f.ReportType, Followup: f}
	}

	text := latestUserText(req.Messages)
	if text == "" || !reportIntentRe.MatchString(text) {
		return Classification{Kind: RouteChat}
	}

	for _, p := range reportPatterns {
		if !p.re.MatchString(text) {
			continue
		}
		c := Classification{Kind: RouteReport, ReportType: p.reportType}
		c.Ticker = extractTicker(text)
		c.Sector = extractSector(text)
		return c
	}
	return Classification{Kind: RouteChat}
}

func latestUserText(messages []models.Message) string {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == models.RoleUser {
			return messages[i].Content
		}
	}
	return ""
}

// extractTicker tries [TICKER], then "analyze: TICKER", then the last bare
// 2-5 char uppercase token.
func extractTicker(text string) string {
	if m := bracketTickerRe.FindStringSubmatch(text); m != nil {
		return strings.ToUpper(m[1])
	}
	if m := analyzeTickerRe.FindStringSubmatch(text); m != nil {
		return strings.ToUpper(m[1])
	}
	matches := upperTokenRe.FindAllStringSubmatch(text, -1)
	for i := len(matches) - 1; i >= 0; i-- {
		if tok := matches[i][1]; !classifierStopwords[tok] {
			return tok
		}
	}
	return ""
}

func extractSector(text string) string {
	lower := strings.ToLower(text)
	for _, kw := range sectorKeywords {
		if strings.Contains(lower, kw) {
			return kw
		}
	}
	return ""
}
