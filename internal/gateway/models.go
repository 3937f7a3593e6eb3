package gateway

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Models names the Gemini models used per call class.
type Models struct {
	// Fast serves jurisdiction lookup and regional analysis.
	Fast string `yaml:"fast"`
	// Standard serves lists, refinement, images, insight and comps.
	Standard string `yaml:"standard"`
	// Planner serves plan generation.
	Planner               string `yaml:"planner"`
	PlannerThinkingBudget int32  `yaml:"planner_thinking_budget"`
}

// DefaultModels returns the built-in model selection.
func DefaultModels() Models {
	return Models{
		Fast:                  "gemini-flash-lite-latest",
		Standard:              "gemini-2.5-flash",
		Planner:               "gemini-2.5-pro",
		PlannerThinkingBudget: 32768,
	}
}

// LoadModels overlays the YAML file at path onto DefaultModels.
// An empty path returns the defaults.
func LoadModels(path string) (Models, error) {
	m := DefaultModels()
	if path == "" {
		return m, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return m, fmt.Errorf("read models file: %w", err)
	}
	var overlay Models
	if err := yaml.Unmarshal(data, &overlay); err != nil {
		return m, fmt.Errorf("parse models file %s: %w", path, err)
	}
	if overlay.Fast != "" {
		m.Fast = overlay.Fast
	}
	if overlay.Standard != "" {
		m.Standard = overlay.Standard
	}
	if overlay.Planner != "" {
		m.Planner = overlay.Planner
	}
	if overlay.PlannerThinkingBudget < 0 {
		return m, fmt.Errorf("models file %s: planner_thinking_budget must be >= 0", path)
	}
	if overlay.PlannerThinkingBudget > 0 {
		m.PlannerThinkingBudget = overlay.PlannerThinkingBudget
	}
	return m, nil
}
