package reports

import (
	"fmt"
	"strings"
)

// PassThreshold is the minimum weighted score a report needs to clear the
// gate without repair.
const PassThreshold = 0.75

// qualityWeights sum to 1.0.
var qualityWeights = map[string]float64{
	"has_markdown":         0.25,
	"has_sources":          0.15,
	"has_tool_plan":        0.10,
	"has_assumptions":      0.15,
	"has_limitations":      0.15,
	"mentions_report_type": 0.10,
	"mentions_ticker":      0.10,
}

// Score runs the quality checks over a report. The ticker check is satisfied
// vacuously for reports with no ticker in the payload.
func Score(report *Report, payload Payload) *QualityResult {
	lower := strings.ToLower(report.Markdown)
	checks := map[string]bool{
		"has_markdown":         strings.TrimSpace(report.Markdown) != "",
		"has_sources":          len(report.SourcesUsed) > 0,
		"has_tool_plan":        len(report.ToolPlan) > 0,
		"has_assumptions":      len(report.Assumptions) > 0,
		"has_limitations":      len(report.Limitations) > 0,
		"mentions_report_type": mentionsReportType(lower, report.ReportType),
		"mentions_ticker":      payload.Ticker == "" || strings.Contains(lower, strings.ToLower(payload.Ticker)),
	}

	var score float64
	for name, ok := range checks {
		if ok {
			score += qualityWeights[name]
		}
	}
	return &QualityResult{Score: score, Passed: score >= PassThreshold, Checks: checks}
}

// mentionsReportType accepts either the raw identifier or its human words
// ("technical", "screener", ...) appearing in the markdown.
func mentionsReportType(lowerMarkdown, reportType string) bool {
	if strings.Contains(lowerMarkdown, reportType) {
		return true
	}
	for _, word := range reportTypeWords(reportType) {
		if strings.Contains(lowerMarkdown, word) {
			return true
		}
	}
	return false
}

func reportTypeWords(reportType string) []string {
	switch reportType {
	case TypeCitadelTechnical:
		return []string{"technical"}
	case TypeGoldmanScreener:
		return []string{"screen"}
	case TypeJPMFundamental:
		return []string{"fundamental"}
	case TypeBridgewaterMacro:
		return []string{"macro"}
	case TypeBlackrockRisk:
		return []string{"risk"}
	case TypeVanguardDividend:
		return []string{"dividend"}
	case TypeRenaissanceQuant:
		return []string{"quant"}
	case TypeMorganStanleyEarning:
		return []string{"earnings"}
	case TypeBerkshireMoat:
		return []string{"moat"}
	case TypeCitronShort:
		return []string{"short"}
	default:
		return nil
	}
}

// Repair fixes every failing check in place with default content, then
// re-scores. Repair never lowers the score.
func Repair(report *Report, payload Payload, result *QualityResult) *QualityResult {
	if !result.Checks["has_markdown"] {
		report.Markdown = fmt.Sprintf("# %s\n\nNo report content was generated for this run.", report.Title)
	}
	if !result.Checks["has_sources"] {
		report.SourcesUsed = []string{"none available"}
	}
	if !result.Checks["has_tool_plan"] {
		report.ToolPlan = []string{"no tools executed"}
	}
	if !result.Checks["has_assumptions"] {
		report.Assumptions = []string{"standard market-data assumptions apply"}
	}
	if !result.Checks["has_limitations"] {
		report.Limitations = []string{"automated report; verify figures before acting"}
	}
	if !result.Checks["mentions_report_type"] {
		report.Markdown += fmt.Sprintf("\n\nReport type: %s.", report.ReportType)
	}
	if !result.Checks["mentions_ticker"] {
		report.Markdown += fmt.Sprintf("\n\nTicker: %s.", strings.ToUpper(payload.Ticker))
	}

	repaired := Score(report, payload)
	repaired.Repaired = true
	return repaired
}
