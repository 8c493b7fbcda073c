package generate

import (
	"fmt"

	"scriptoria/internal/model"
)

// BuildPrompt returns the instruction prompt sent to the completion backend. Modes without a
// dedicated template get the screenplay prompt.
func BuildPrompt(idea string, mode model.Mode) string {
	switch mode.Normalize() {
	case model.ModeCharacters:
		return fmt.Sprintf(`You are a helpful assistant that creates character profiles.

Idea: %s

Provide 3 characters with name, age, short arc, and a brief logline for each.`, idea)
	case model.ModePlan:
		return fmt.Sprintf(`You are a production planner.

Idea: %s

Produce a concise production plan including: budget estimate, key crew roles, shooting schedule (high level), and essential locations.`, idea)
	default:
		return fmt.Sprintf(`Write a short screenplay scene inspired by the following idea.

Idea: %s

Write about 6-12 paragraphs with clear scene headings and dialogue.`, idea)
	}
}
