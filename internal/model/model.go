package model

import (
	"encoding/json"
	"strings"
)

type Mode string

const (
	ModeScreenplay Mode = "screenplay"
	ModeCharacters Mode = "characters"
	ModePlan       Mode = "plan"
)

// Modes lists the modes with a dedicated prompt template, in display order.
var Modes = []Mode{ModeScreenplay, ModeCharacters, ModePlan}

// Normalize maps unknown or empty modes to screenplay.
func (m Mode) Normalize() Mode {
	switch Mode(strings.TrimSpace(string(m))) {
	case ModeCharacters:
		return ModeCharacters
	case ModePlan:
		return ModePlan
	default:
		return ModeScreenplay
	}
}

const (
	DefaultProject = "default"
	DefaultMode    = ModeScreenplay
)

// Entry is one persisted generation event.
//
// Optional keys are omitted when unset so documents written by older builds (and by the form
// route, which records no project or generation parameters) round-trip unchanged.
type Entry struct {
	Project     string   `json:"project,omitempty"`
	Idea        string   `json:"idea"`
	Mode        Mode     `json:"mode"`
	Output      string   `json:"output"`
	Temperature *float64 `json:"temperature,omitempty"`
	MaxTokens   *int     `json:"max_tokens,omitempty"`
	Favorite    bool     `json:"favorite,omitempty"`
	Tags        []string `json:"tags,omitempty"`

	// Extra holds keys this build does not model, and values that could not be coerced, so
	// rewriting the document keeps them.
	Extra map[string]json.RawMessage `json:"-"`
}

// ProjectOrDefault returns the entry's project as stored, or "default" when none was recorded.
// Stored names are not trimmed, so " demo " and "demo" are distinct projects.
func (e Entry) ProjectOrDefault() string {
	if e.Project != "" {
		return e.Project
	}
	return DefaultProject
}

// ModeOrDefault returns the entry's mode as stored, or "screenplay" when none was recorded.
func (e Entry) ModeOrDefault() Mode {
	if e.Mode != "" {
		return e.Mode
	}
	return DefaultMode
}

// Clone returns a deep copy so callers never share slices or pointers with the store.
func (e Entry) Clone() Entry {
	out := e
	if e.Temperature != nil {
		v := *e.Temperature
		out.Temperature = &v
	}
	if e.MaxTokens != nil {
		v := *e.MaxTokens
		out.MaxTokens = &v
	}
	if e.Tags != nil {
		out.Tags = append([]string(nil), e.Tags...)
	}
	if e.Extra != nil {
		out.Extra = make(map[string]json.RawMessage, len(e.Extra))
		for k, v := range e.Extra {
			out.Extra[k] = append(json.RawMessage(nil), v...)
		}
	}
	return out
}

// EntryPatch is a shallow partial update. Nil fields are left untouched; Tags replaces the
// whole list.
type EntryPatch struct {
	Favorite *bool
	Tags     *[]string
	Project  *string
}

func (p EntryPatch) Apply(e *Entry) {
	if e == nil {
		return
	}
	if p.Favorite != nil {
		e.Favorite = *p.Favorite
		delete(e.Extra, "favorite")
	}
	if p.Tags != nil {
		e.Tags = append([]string{}, (*p.Tags)...)
		delete(e.Extra, "tags")
	}
	if p.Project != nil {
		e.Project = *p.Project
		delete(e.Extra, "project")
	}
}

type Stats struct {
	Projects map[string]int `json:"projects"`
	Modes    map[string]int `json:"modes"`
	Total    int            `json:"total"`
}

// ComputeStats counts entries per defaulted project and per defaulted mode.
func ComputeStats(entries []Entry) Stats {
	st := Stats{
		Projects: map[string]int{},
		Modes:    map[string]int{},
		Total:    len(entries),
	}
	for _, e := range entries {
		st.Projects[e.ProjectOrDefault()]++
		st.Modes[string(e.ModeOrDefault())]++
	}
	return st
}

func BoolPtr(b bool) *bool { return &b }

func StringsPtr(s []string) *[]string { return &s }

func StringPtr(s string) *string { return &s }
