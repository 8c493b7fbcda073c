package generate

import (
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"

	"scriptoria/internal/model"
)

var archetypes = []string{"Protagonist", "Antagonist", "Supporting"}

// Fallback produces deterministic text for idea without any backend. It never returns an empty
// string, and its output depends on the idea (first word, length) so modes are not the only
// source of variation.
func Fallback(idea string, mode model.Mode) string {
	switch mode.Normalize() {
	case model.ModeCharacters:
		return fallbackCharacters(idea)
	case model.ModePlan:
		return fallbackPlan(idea)
	default:
		return fallbackScreenplay(idea)
	}
}

func fallbackCharacters(idea string) string {
	token := ideaToken(idea)
	ideaLen := utf8.RuneCountInString(idea)
	excerpt := truncateRunes(idea, 40)

	blocks := make([]string, 0, len(archetypes))
	for i, archetype := range archetypes {
		name := fmt.Sprintf("%s %d (%s)", archetype, i+1, token)
		age := 30 + i*5 + ideaLen%7
		var b strings.Builder
		fmt.Fprintf(&b, "Name: %s\n", name)
		fmt.Fprintf(&b, "Age: %d\n", age)
		fmt.Fprintf(&b, "Arc: Starts as %s connected to '%s', ends transformed by conflict related to the idea.\n", strings.ToLower(archetype), token)
		fmt.Fprintf(&b, "Logline: %s faces a choice tied to the idea '%s'. This decision defines the story's emotional core.\n", name, excerpt)
		blocks = append(blocks, b.String())
	}
	return strings.Join(blocks, "\n")
}

func fallbackPlan(idea string) string {
	return fmt.Sprintf(`Production Plan for: %s

- Budget (estimate): $50k - $250k (depends on scale)
- Key Crew: Director, DoP, Producer, Production Designer, Sound Mixer
- Schedule: 10 shooting days (2-3 locations per day)
- Locations: 3 primary interiors, 2 exteriors

Notes: Start with a 2-day prep and 2-day post shoot for editing and sound.
`, idea)
}

func fallbackScreenplay(idea string) string {
	return fmt.Sprintf(`INT. ROOM - DAY

A short scene inspired by: %s

A: (quiet) This is the beginning.
B: (soft) And this is the response.

They move toward a decision, the stakes quietly rising.

CUT TO:
`, idea)
}

// ideaToken is the idea's first word with only its first letter upper-cased.
func ideaToken(idea string) string {
	fields := strings.Fields(idea)
	if len(fields) == 0 {
		return "Persona"
	}
	return capitalize(fields[0])
}

func capitalize(s string) string {
	r, size := utf8.DecodeRuneInString(s)
	if r == utf8.RuneError && size <= 1 {
		return s
	}
	return string(unicode.ToUpper(r)) + strings.ToLower(s[size:])
}

func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}
