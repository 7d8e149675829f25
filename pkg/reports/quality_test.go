package reports

import (
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func completeReport() *Report {
	return &Report{
		ReportType:  TypeCitadelTechnical,
		Title:       "Technical Analysis: AAPL",
		Markdown:    "# Technical Analysis: AAPL\n\nTrend reads bullish for AAPL.",
		Assumptions: []string{"daily closes"},
		Limitations: []string{"price action only"},
		SourcesUsed: []string{"quote", "historical_prices"},
		ToolPlan:    []string{"quote", "historical_prices"},
	}
}

func TestScore_CompleteReportPasses(t *testing.T) {
	result := Score(completeReport(), Payload{Ticker: "AAPL"})

	assert.InDelta(t, 1.0, result.Score, 1e-9)
	assert.True(t, result.Passed)
	for name, ok := range result.Checks {
		assert.True(t, ok, name)
	}
}

func TestScore_MissingPiecesFail(t *testing.T) {
	r := completeReport()
	r.Markdown = ""
	r.SourcesUsed = nil
	r.Assumptions = nil

	result := Score(r, Payload{Ticker: "AAPL"})
	assert.False(t, result.Passed)
	assert.False(t, result.Checks["has_markdown"])
	assert.False(t, result.Checks["has_sources"])
	assert.False(t, result.Checks["has_assumptions"])
}

func TestScore_TickerCheckVacuousWithoutTicker(t *testing.T) {
	r := completeReport()
	r.Markdown = "# Macro Regime Readout\n\nmacro content"
	r.ReportType = TypeBridgewaterMacro

	result := Score(r, Payload{})
	assert.True(t, result.Checks["mentions_ticker"])
}

func TestRepair_FixesEveryFailingCheck(t *testing.T) {
	r := &Report{ReportType: TypeCitronShort, Title: "Short Thesis Screen: XYZ"}
	payload := Payload{Ticker: "XYZ"}

	before := Score(r, payload)
	require.False(t, before.Passed)

	after := Repair(r, payload, before)
	assert.True(t, after.Passed)
	assert.True(t, after.Repaired)
	for name, ok := range after.Checks {
		assert.True(t, ok, name)
	}
	assert.Contains(t, r.Markdown, "Ticker: XYZ")
}

// TestQualityMonotonicityProperty: repair turns every failing check true and
// never lowers the score.
func TestQualityMonotonicityProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	types := AllTypes()

	properties.Property("repair is monotone and total", prop.ForAll(
		func(typeIdx int, hasMD, hasSrc, hasPlan, hasAssume, hasLimit, hasTicker bool) bool {
			reportType := types[typeIdx%len(types)]
			r := &Report{ReportType: reportType, Title: "t"}
			if hasMD {
				r.Markdown = "# Some Heading\n\nbody text"
			}
			if hasSrc {
				r.SourcesUsed = []string{"quote"}
			}
			if hasPlan {
				r.ToolPlan = []string{"quote"}
			}
			if hasAssume {
				r.Assumptions = []string{"a"}
			}
			if hasLimit {
				r.Limitations = []string{"l"}
			}
			payload := Payload{}
			if hasTicker {
				payload.Ticker = "ZZT"
			}

			before := Score(r, payload)
			after := Repair(r, payload, before)

			if after.Score < before.Score {
				return false
			}
			for _, ok := range after.Checks {
				if !ok {
					return false
				}
			}
			return after.Passed
		},
		gen.IntRange(0, len(types)-1),
		gen.Bool(), gen.Bool(), gen.Bool(), gen.Bool(), gen.Bool(), gen.Bool(),
	))

	properties.TestingRun(t)
}

func TestSynthesize_CleansArtifacts(t *testing.T) {
	r := &Report{
		Markdown:    "# Title\n\n[object Object], real content   \n\n\n\nmore",
		Limitations: []string{"screening-grade only"},
	}
	Synthesize(r, "")

	assert.NotContains(t, r.Markdown, "[object Object]")
	assert.NotContains(t, r.Markdown, "\n\n\n")
	assert.Contains(t, r.Markdown, "> Note: screening-grade only.")
}

func TestSynthesize_FollowupLabel(t *testing.T) {
	r := &Report{Markdown: "# Title\n\nbody"}
	Synthesize(r, "what changed since last week?")
	assert.True(t, len(r.Markdown) > 0)
	assert.Contains(t, r.Markdown, "**Follow-up**: what changed since last week?\n\n# Title")
}

func TestEffectivePrompt_Precedence(t *testing.T) {
	def := DefaultPrompt(TypeJPMFundamental)
	require.NotEmpty(t, def)

	assert.Equal(t, "inline", EffectivePrompt("inline", "saved", TypeJPMFundamental))
	assert.Equal(t, "saved", EffectivePrompt("", "saved", TypeJPMFundamental))
	assert.Equal(t, def, EffectivePrompt("", "", TypeJPMFundamental))
}

func TestDefaultPrompts_CoverEveryType(t *testing.T) {
	for _, reportType := range AllTypes() {
		assert.NotEmpty(t, DefaultPrompt(reportType), reportType)
	}
}
