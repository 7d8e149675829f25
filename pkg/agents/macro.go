package agents

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/finsight-ai/finsight/pkg/llm"
	"github.com/finsight-ai/finsight/pkg/models"
	"github.com/finsight-ai/finsight/pkg/providers/fred"
)

// EconomicData is the FRED surface the macro agent consumes.
type EconomicData interface {
	Observations(ctx context.Context, seriesID string, limit int) (*models.EconomicSeries, error)
	Search(ctx context.Context, text string, limit int) ([]fred.SeriesInfo, error)
}

// seriesKeywords routes query language to specific FRED series.
var seriesKeywords = []struct {
	keyword  string
	seriesID string
	label    string
}{
	{"unemployment", "UNRATE", "Unemployment rate"},
	{"inflation", "CPIAUCSL", "CPI (all urban consumers)"},
	{"cpi", "CPIAUCSL", "CPI (all urban consumers)"},
	{"gdp", "GDP", "Gross domestic product"},
	{"fed funds", "FEDFUNDS", "Federal funds rate"},
	{"interest rate", "FEDFUNDS", "Federal funds rate"},
	{"10-year", "DGS10", "10-year treasury yield"},
	{"10 year", "DGS10", "10-year treasury yield"},
	{"2-year", "DGS2", "2-year treasury yield"},
	{"yield curve", "DGS10", "10-year treasury yield"},
}

var seriesLabels = map[string]string{
	"GDP":      "Gross domestic product",
	"UNRATE":   "Unemployment rate",
	"CPIAUCSL": "CPI (all urban consumers)",
	"FEDFUNDS": "Federal funds rate",
	"DGS10":    "10-year treasury yield",
	"DGS2":     "2-year treasury yield",
}

// MacroAgent answers macroeconomic questions from FRED series data. Specific
// indicators mentioned in the query are fetched directly; otherwise the core
// series summary runs.
type MacroAgent struct {
	fred   EconomicData
	llm    llm.Client
	logger *slog.Logger
}

// NewMacroAgent creates the macro specialist.
func NewMacroAgent(economic EconomicData, client llm.Client, logger *slog.Logger) *MacroAgent {
	return &MacroAgent{fred: economic, llm: client, logger: logger.With("agent", models.AgentMacro)}
}

// Name implements Specialist.
func (a *MacroAgent) Name() models.AgentName { return models.AgentMacro }

// Execute implements Specialist.
func (a *MacroAgent) Execute(ctx context.Context, state *models.ConversationState, events Events) *models.StateUpdate {
	tasks := ReadyTasks(state, a.Name())
	if len(tasks) == 0 {
		return &models.StateUpdate{}
	}
	query := compositeQuery(tasks)

	if a.fred == nil {
		return update(a.Name(), tasks, models.AgentResult{Error: "economic data source not configured"})
	}

	seriesIDs := matchSeries(query)
	if len(seriesIDs) == 0 {
		seriesIDs = fred.CoreSeries
	}

	var lines []string
	for _, id := range seriesIDs {
		series, err := a.fred.Observations(ctx, id, 13)
		if err != nil {
			a.logger.Warn("series fetch failed", "series", id, "error", err)
			continue
		}
		if line := summarizeSeries(id, series); line != "" {
			lines = append(lines, line)
		}
	}

	if len(lines) == 0 {
		return update(a.Name(), tasks, models.AgentResult{Error: "no economic data available"})
	}

	content := "Macro indicators:\n" + strings.Join(lines, "\n")
	if a.llm != nil {
		prompt := fmt.Sprintf("%s\n\nAnswer using only this data: %s", content, query)
		if answer, err := a.llm.Generate(ctx, "You are a macroeconomics analyst. Be concise and cite the readings.", []models.Message{{Role: models.RoleUser, Content: prompt}}); err == nil && answer != "" {
			content = answer
		} else if err != nil {
			a.logger.Warn("llm phrasing failed, returning rendered evidence", "error", err)
		}
	}

	return update(a.Name(), tasks, models.AgentResult{Content: content})
}

func matchSeries(query string) []string {
	lower := strings.ToLower(query)
	seen := map[string]bool{}
	var out []string
	for _, entry := range seriesKeywords {
		if strings.Contains(lower, entry.keyword) && !seen[entry.seriesID] {
			seen[entry.seriesID] = true
			out = append(out, entry.seriesID)
		}
	}
	return out
}

func summarizeSeries(id string, series *models.EconomicSeries) string {
	if series == nil || len(series.Observations) == 0 {
		return ""
	}
	obs := series.Observations
	latest := obs[len(obs)-1]
	label := seriesLabels[id]
	if label == "" {
		label = id
	}
	line := fmt.Sprintf("- %s (%s): %.2f as of %s", label, id, latest.Value, latest.Date)
	if len(obs) >= 2 {
		prev := obs[len(obs)-2]
		line += fmt.Sprintf(" (prior %.2f on %s)", prev.Value, prev.Date)
	}
	return line
}
