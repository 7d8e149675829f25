package reports

import (
	"regexp"
	"strings"
)

var (
	objectArtifactRe = regexp.MustCompile(`\[object Object\],?\s?`)
	excessBlanksRe   = regexp.MustCompile(`\n{3,}`)
	trailingSpaceRe  = regexp.MustCompile(`[ \t]+\n`)
)

// Synthesize normalizes a built report's markdown for presentation: serializer
// artifacts are removed, whitespace is collapsed, an optional follow-up label
// is prepended, and at most one critical limitation note is appended.
func Synthesize(report *Report, followupLabel string) {
	md := report.Markdown
	md = objectArtifactRe.ReplaceAllString(md, "")
	md = trailingSpaceRe.ReplaceAllString(md, "\n")
	md = excessBlanksRe.ReplaceAllString(md, "\n\n")
	md = strings.TrimSpace(md)

	if followupLabel != "" {
		md = "**Follow-up**: " + followupLabel + "\n\n" + md
	}

	if len(report.Limitations) > 0 {
		note := report.Limitations[0]
		if !strings.Contains(md, note) {
			md += "\n\n> Note: " + note + "."
		}
	}

	report.Markdown = md
}
