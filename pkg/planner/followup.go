// Package planner turns a user turn into a normalized ExecutionPlan: it
// resolves follow-up context deterministically, asks the LLM for a task
// decomposition, parses the JSON defensively, and normalizes the result into
// a sound DAG. Every failure path lands on a deterministic fallback plan.
package planner

import (
	"regexp"
	"strings"

	"github.com/finsight-ai/finsight/pkg/agents"
)

var (
	// Matches any run of affirmative tokens ("yes", "yes please", "ok sure",
	// "yeah do it"), not just a single token.
	affirmativeRe = regexp.MustCompile(`(?i)^\s*(?:(?:yes|yeah|yep|yup|ok|okay|sure|please|do it|go ahead|sounds good)[\s,.!]*)+$`)
	ambiguousRe   = regexp.MustCompile(`(?i)\b(that|this|same|continue|more on that)\b`)
)

// ResolveFollowup rewrites short follow-up turns into standalone requests
// using the previous assistant reply. Rules, in order:
//
//  1. An affirmative reply to an assistant turn that offered a "catalyst
//     probability breakdown" and "trade plan" expands into that request,
//     carrying the prior symbol.
//  2. A very short or anaphoric message ("more on that") becomes an explicit
//     continue-prior-request instruction with a symbol hint.
//
// Anything else passes through unchanged.
func ResolveFollowup(latest, prevAssistant string) string {
	if affirmativeRe.MatchString(latest) &&
		strings.Contains(prevAssistant, "catalyst probability breakdown") &&
		strings.Contains(prevAssistant, "trade plan") {
		request := "Provide the catalyst probability breakdown and trade plan"
		if syms := agents.ExtractSymbols(prevAssistant); len(syms) > 0 {
			request += " for " + syms[0]
		}
		return request
	}

	trimmed := strings.TrimSpace(latest)
	if len(trimmed) < 12 || ambiguousRe.MatchString(trimmed) {
		rewrite := "Continue the prior request: " + trimmed
		if syms := agents.ExtractSymbols(prevAssistant); len(syms) > 0 {
			rewrite += " (context symbol: " + syms[0] + ")"
		}
		return rewrite
	}

	return latest
}
