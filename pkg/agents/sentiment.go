package agents

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/finsight-ai/finsight/pkg/models"
	"github.com/finsight-ai/finsight/pkg/providers/reddit"
	"github.com/finsight-ai/finsight/pkg/providers/tavily"
	"github.com/finsight-ai/finsight/pkg/tools"
)

// RedditSource is the Reddit surface the sentiment agent consumes.
type RedditSource interface {
	SearchAll(ctx context.Context, query string, perSub int) ([]reddit.Post, error)
}

// WebSearch is the web-search surface for news and political-trade chatter.
type WebSearch interface {
	Search(ctx context.Context, query, depth string, maxResults int) (*tavily.Response, error)
}

// SentimentAgent reads social and news sentiment. Sources are fetched in
// parallel and gated by query keywords: "reddit" or "news" narrows to that
// source, "congress"/"political" adds the political-trades read; otherwise
// Reddit and news both run.
type SentimentAgent struct {
	reddit RedditSource
	web    WebSearch
	tools  ToolCaller
	logger *slog.Logger
}

// NewSentimentAgent creates the sentiment specialist. Either source may be
// nil when its credentials are not configured.
func NewSentimentAgent(redditSource RedditSource, web WebSearch, toolCaller ToolCaller, logger *slog.Logger) *SentimentAgent {
	return &SentimentAgent{reddit: redditSource, web: web, tools: toolCaller, logger: logger.With("agent", models.AgentSentiment)}
}

// Name implements Specialist.
func (a *SentimentAgent) Name() models.AgentName { return models.AgentSentiment }

// Execute implements Specialist.
func (a *SentimentAgent) Execute(ctx context.Context, state *models.ConversationState, events Events) *models.StateUpdate {
	tasks := ReadyTasks(state, a.Name())
	if len(tasks) == 0 {
		return &models.StateUpdate{}
	}
	query := compositeQuery(tasks)

	symbols := ExtractSymbols(query)
	topic := query
	if len(symbols) > 0 {
		topic = symbols[0]
	}

	lower := strings.ToLower(query)
	wantReddit := a.reddit != nil && (!strings.Contains(lower, "news") || strings.Contains(lower, "reddit"))
	wantNews := !strings.Contains(lower, "reddit") || strings.Contains(lower, "news")
	wantPolitical := a.web != nil && (strings.Contains(lower, "congress") || strings.Contains(lower, "political"))

	var (
		mu       sync.Mutex
		sections []string
		wg       sync.WaitGroup
	)
	addSection := func(s string) {
		if s == "" {
			return
		}
		mu.Lock()
		sections = append(sections, s)
		mu.Unlock()
	}

	if wantReddit {
		wg.Add(1)
		go func() {
			defer wg.Done()
			addSection(a.redditSection(ctx, topic))
		}()
	}
	if wantNews {
		wg.Add(1)
		go func() {
			defer wg.Done()
			addSection(a.newsSection(ctx, symbols, topic, events))
		}()
	}
	if wantPolitical {
		wg.Add(1)
		go func() {
			defer wg.Done()
			addSection(a.politicalSection(ctx, topic))
		}()
	}
	wg.Wait()

	if len(sections) == 0 {
		return update(a.Name(), tasks, models.AgentResult{Symbols: symbols, Error: "no sentiment sources returned data"})
	}
	return update(a.Name(), tasks, models.AgentResult{
		Content: strings.Join(sections, "\n\n"),
		Symbols: symbols,
	})
}

func (a *SentimentAgent) redditSection(ctx context.Context, topic string) string {
	posts, err := a.reddit.SearchAll(ctx, topic, 5)
	if err != nil {
		a.logger.Warn("reddit fetch failed", "error", err)
		return ""
	}
	if len(posts) == 0 {
		return ""
	}
	if len(posts) > 5 {
		posts = posts[:5]
	}
	var b strings.Builder
	b.WriteString("**Reddit** (top posts this week):\n")
	for _, p := range posts {
		fmt.Fprintf(&b, "- [r/%s, %d points] %s\n", p.Subreddit, p.Score, p.Title)
	}
	return b.String()
}

func (a *SentimentAgent) newsSection(ctx context.Context, symbols []string, topic string, events Events) string {
	// Prefer the normalized news tool; fall back to web search.
	if a.tools != nil && len(symbols) > 0 {
		if payload, err := callTool(ctx, a.tools, events, tools.ToolStockNews, map[string]any{"symbols": strings.Join(symbols, ","), "limit": 5}); err == nil {
			if rendered := tools.Render(tools.ToolStockNews, payload.Output); rendered != "" {
				return "**News**:\n" + rendered
			}
		}
	}
	if a.web == nil {
		return ""
	}
	resp, err := a.web.Search(ctx, topic+" stock sentiment", "basic", 5)
	if err != nil {
		a.logger.Warn("web news fetch failed", "error", err)
		return ""
	}
	var b strings.Builder
	b.WriteString("**News**:\n")
	if resp.Answer != "" {
		b.WriteString(resp.Answer + "\n")
	}
	for _, r := range resp.Results {
		fmt.Fprintf(&b, "- %s\n", r.Title)
	}
	return b.String()
}

func (a *SentimentAgent) politicalSection(ctx context.Context, topic string) string {
	resp, err := a.web.Search(ctx, "congressional stock trades "+topic, "basic", 5)
	if err != nil {
		a.logger.Warn("political trades fetch failed", "error", err)
		return ""
	}
	if resp.Answer == "" && len(resp.Results) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("**Political trades**:\n")
	if resp.Answer != "" {
		b.WriteString(resp.Answer + "\n")
	}
	for _, r := range resp.Results {
		fmt.Fprintf(&b, "- %s\n", r.Title)
	}
	return b.String()
}
