package engine

import (
	"encoding/json"

	"alphaforge.app/scout/internal/model"
)

// PromptSource builds the prompt pair for a research run. Prompt content
// is a collaborator concern; the engine only needs something to send and
// swaps sources without touching execution.
type PromptSource interface {
	Build(mode model.Mode, snapshot json.RawMessage) (system, user string)
}

// StaticPrompts is the built-in prompt table, keyed by mode.
type StaticPrompts struct{}

const systemPrompt = "You are an equity research strategist. Propose concrete, testable " +
	"trading-strategy candidates. Each candidate needs a category, the symbols it " +
	"applies to, a thesis, entry rules, exit rules, and scores between 0 and 1 for " +
	"structure, validation, robustness, and freshness."

var modeBriefs = map[model.Mode]string{
	model.ModeNewsPulse: "Scan the last few hours of market-moving news and propose " +
		"short-horizon candidates that react to it. Favor fresh, narrow setups over broad themes.",
	model.ModeMarketScan: "Sweep current market structure for dislocations: unusual volume, " +
		"sector rotation, breadth divergences. Propose candidates exploiting what you find.",
	model.ModeThemeExplorer: "Explore one emerging theme in depth and derive candidates from " +
		"it. Prefer theses that would survive a regime change over momentum chasing.",
	model.ModeDeepDive: "Do one thorough dive: pick the most promising open question in the " +
		"current market and build well-validated candidates around it, including explicit " +
		"invalidation conditions.",
}

func (StaticPrompts) Build(mode model.Mode, snapshot json.RawMessage) (string, string) {
	user, ok := modeBriefs[mode]
	if !ok {
		user = "Propose trading-strategy candidates for the current market."
	}
	if len(snapshot) > 0 {
		user += "\n\nRun context: " + string(snapshot)
	}
	return systemPrompt, user
}
