package tools

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Render turns a projected payload into a short text summary for LLM
// consumption. Unknown tools or undecodable payloads render to an empty
// string rather than an error; rendering is advisory.
func Render(name string, projected json.RawMessage) string {
	var generic any
	if err := json.Unmarshal(projected, &generic); err != nil {
		return ""
	}

	switch name {
	case ToolQuote:
		return renderQuotes(generic)
	case ToolHistoricalPrices:
		return renderHistory(generic)
	case ToolCompanyProfile, ToolCompanyOverview:
		return renderObject(generic)
	case ToolMarketMovers:
		return renderMovers(generic)
	case ToolStockNews, ToolCompanyNews:
		return renderNews(generic)
	case ToolMarketHours:
		return renderHours(generic)
	case ToolAnalystRatings:
		return renderRatings(generic)
	case ToolInsiderTrades:
		return renderInsiders(generic)
	default:
		return ""
	}
}

func renderQuotes(v any) string {
	rows, ok := v.([]any)
	if !ok {
		return ""
	}
	var lines []string
	for _, r := range rows {
		m, ok := r.(map[string]any)
		if !ok {
			continue
		}
		lines = append(lines, fmt.Sprintf("%s %.2f (%+.2f, %+.2f%%) vol %s",
			str(m, "symbol"), num(m, "price"), num(m, "change"), num(m, "percent_change"), intStr(m, "volume")))
	}
	return strings.Join(lines, "\n")
}

func renderHistory(v any) string {
	rows, ok := v.([]any)
	if !ok || len(rows) == 0 {
		return ""
	}
	first, _ := rows[0].(map[string]any)
	last, _ := rows[len(rows)-1].(map[string]any)
	if first == nil || last == nil {
		return ""
	}
	start, end := num(first, "close"), num(last, "close")
	pct := 0.0
	if start != 0 {
		pct = (end - start) / start * 100
	}
	return fmt.Sprintf("%s: %d daily candles %s to %s, close %.2f -> %.2f (%+.2f%%)",
		str(last, "symbol"), len(rows), str(first, "date"), str(last, "date"), start, end, pct)
}

func renderObject(v any) string {
	m, ok := v.(map[string]any)
	if !ok {
		return ""
	}
	keys := []string{"symbol", "name", "sector", "industry", "market_cap", "pe_ratio", "eps", "roe", "dividend_yield", "beta"}
	var parts []string
	for _, k := range keys {
		if val, present := m[k]; present && val != nil && val != "" {
			parts = append(parts, fmt.Sprintf("%s=%v", k, val))
		}
	}
	return strings.Join(parts, " ")
}

func renderMovers(v any) string {
	m, ok := v.(map[string]any)
	if !ok {
		return ""
	}
	rows, _ := m["movers"].([]any)
	var lines []string
	for _, r := range rows {
		row, ok := r.(map[string]any)
		if !ok {
			continue
		}
		lines = append(lines, fmt.Sprintf("%s %.2f (%+.2f, %s)",
			str(row, "symbol"), num(row, "last_price"), num(row, "change"), str(row, "direction")))
	}
	return fmt.Sprintf("Movers %s (%s):\n%s", str(m, "index"), str(m, "sort"), strings.Join(lines, "\n"))
}

func renderNews(v any) string {
	rows, ok := v.([]any)
	if !ok {
		return ""
	}
	var lines []string
	for _, r := range rows {
		m, ok := r.(map[string]any)
		if !ok {
			continue
		}
		line := "- " + str(m, "title")
		if src := str(m, "source"); src != "" {
			line += " (" + src + ")"
		}
		lines = append(lines, line)
	}
	return strings.Join(lines, "\n")
}

func renderHours(v any) string {
	rows, ok := v.([]any)
	if !ok {
		return ""
	}
	var lines []string
	for _, r := range rows {
		m, ok := r.(map[string]any)
		if !ok {
			continue
		}
		state := "closed"
		if b, _ := m["is_open"].(bool); b {
			state = "open"
		}
		lines = append(lines, fmt.Sprintf("%s/%s %s on %s", str(m, "market"), str(m, "product"), state, str(m, "date")))
	}
	return strings.Join(lines, "\n")
}

func renderRatings(v any) string {
	rows, ok := v.([]any)
	if !ok {
		return ""
	}
	var lines []string
	for _, r := range rows {
		m, ok := r.(map[string]any)
		if !ok {
			continue
		}
		lines = append(lines, fmt.Sprintf("- %s %s: %s %s (PT %s)",
			str(m, "date"), str(m, "firm"), str(m, "action"), str(m, "rating"), str(m, "price_target")))
	}
	return strings.Join(lines, "\n")
}

func renderInsiders(v any) string {
	rows, ok := v.([]any)
	if !ok {
		return ""
	}
	var lines []string
	for _, r := range rows {
		m, ok := r.(map[string]any)
		if !ok {
			continue
		}
		lines = append(lines, fmt.Sprintf("- %s %s (%s) %s %s shares ($%.0f)",
			str(m, "date"), str(m, "insider"), str(m, "relation"), str(m, "transaction"), intStr(m, "shares"), num(m, "value")))
	}
	return strings.Join(lines, "\n")
}

func str(m map[string]any, key string) string {
	s, _ := m[key].(string)
	return s
}

func num(m map[string]any, key string) float64 {
	f, _ := m[key].(float64)
	return f
}

func intStr(m map[string]any, key string) string {
	f, ok := m[key].(float64)
	if !ok {
		return "0"
	}
	return fmt.Sprintf("%.0f", f)
}
