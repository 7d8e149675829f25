package reports

import (
	_ "embed"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed prompts.yaml
var defaultPromptsYAML []byte

var defaultPrompts = mustLoadPrompts()

func mustLoadPrompts() map[string]string {
	out := map[string]string{}
	if err := yaml.Unmarshal(defaultPromptsYAML, &out); err != nil {
		panic(fmt.Sprintf("reports: invalid embedded prompts.yaml: %v", err))
	}
	for t, p := range out {
		out[t] = strings.TrimSpace(p)
	}
	return out
}

// LoadPromptsFile overlays prompts from a YAML file onto the embedded
// defaults. Unknown report types in the file are rejected.
func LoadPromptsFile(path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read prompts file: %w", err)
	}
	overlay := map[string]string{}
	if err := yaml.Unmarshal(raw, &overlay); err != nil {
		return fmt.Errorf("parse prompts file: %w", err)
	}
	for reportType, prompt := range overlay {
		if !ValidType(reportType) {
			return fmt.Errorf("prompts file: unknown report type %q", reportType)
		}
		defaultPrompts[reportType] = strings.TrimSpace(prompt)
	}
	return nil
}

// DefaultPrompt returns the system default prompt for a report type.
func DefaultPrompt(reportType string) string {
	return defaultPrompts[reportType]
}

// EffectivePrompt resolves the prompt actually used for a run:
// inline override > per-owner saved override > system default.
func EffectivePrompt(inline, saved, reportType string) string {
	if p := strings.TrimSpace(inline); p != "" {
		return p
	}
	if p := strings.TrimSpace(saved); p != "" {
		return p
	}
	return DefaultPrompt(reportType)
}
