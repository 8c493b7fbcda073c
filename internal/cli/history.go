package cli

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	xansi "github.com/charmbracelet/x/ansi"
	"github.com/spf13/cobra"

	"scriptoria/internal/archive"
	"scriptoria/internal/model"
	"scriptoria/internal/tui"
)

// indexedEntry is an entry together with its position in the unfiltered history; positions are
// the only identity entries have.
type indexedEntry struct {
	Index int `json:"index"`
	model.Entry
}

// MarshalJSON puts "index" ahead of the entry's own keys; the embedded Entry's method would
// otherwise drop it.
func (e indexedEntry) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(e.Entry); err != nil {
		return nil, err
	}
	b := bytes.TrimRight(buf.Bytes(), "\n")
	out := []byte(`{"index":` + strconv.Itoa(e.Index))
	if len(b) > 2 {
		out = append(out, ',')
	}
	return append(out, b[1:]...), nil
}

func (e *indexedEntry) UnmarshalJSON(b []byte) error {
	var idx struct {
		Index int `json:"index"`
	}
	if err := json.Unmarshal(b, &idx); err != nil {
		return err
	}
	if err := json.Unmarshal(b, &e.Entry); err != nil {
		return err
	}
	e.Index = idx.Index
	delete(e.Entry.Extra, "index")
	return nil
}

type historyTable []indexedEntry

func (historyTable) Header() []string {
	return []string{"#", "MODE", "PROJECT", "★", "TAGS", "IDEA"}
}

func (t historyTable) Rows() [][]string {
	rows := make([][]string, 0, len(t))
	for _, e := range t {
		fav := ""
		if e.Favorite {
			fav = "★"
		}
		rows = append(rows, []string{
			strconv.Itoa(e.Index),
			string(e.ModeOrDefault()),
			e.ProjectOrDefault(),
			fav,
			strings.Join(e.Tags, ","),
			xansi.Truncate(oneLine(e.Idea), 48, "…"),
		})
	}
	return rows
}

func oneLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func parseIndex(arg string) (int, error) {
	i, err := strconv.Atoi(strings.TrimSpace(arg))
	if err != nil || i < 0 {
		return 0, invalidIndexError{arg: arg}
	}
	return i, nil
}

func newHistoryCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Inspect and edit the generation history",
	}
	cmd.AddCommand(newHistoryListCmd(app))
	cmd.AddCommand(newHistoryShowCmd(app))
	cmd.AddCommand(newHistoryDeleteCmd(app))
	cmd.AddCommand(newHistoryFavoriteCmd(app))
	cmd.AddCommand(newHistoryTagCmd(app))
	cmd.AddCommand(newHistoryProjectCmd(app))
	cmd.AddCommand(newHistoryClearCmd(app))
	return cmd
}

func newHistoryListCmd(app *App) *cobra.Command {
	var project string
	var favorites bool

	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List history entries, newest first",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			hist, err := app.openHistory()
			if err != nil {
				return writeErr(cmd, err)
			}
			entries, err := hist.Read("")
			if err != nil {
				return writeErr(cmd, err)
			}
			project = strings.TrimSpace(project)
			out := historyTable{}
			for i, e := range entries {
				if project != "" && e.ProjectOrDefault() != project {
					continue
				}
				if favorites && !e.Favorite {
					continue
				}
				out = append(out, indexedEntry{Index: i, Entry: e})
			}
			return writeOut(cmd, app, out, out)
		},
	}
	cmd.Flags().StringVar(&project, "project", "", "Only entries of this project (entries without one count as \"default\")")
	cmd.Flags().BoolVar(&favorites, "favorites", false, "Only favorite entries")
	return cmd
}

func newHistoryShowCmd(app *App) *cobra.Command {
	var raw, render bool

	cmd := &cobra.Command{
		Use:   "show <index>",
		Short: "Show one history entry",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			i, err := parseIndex(args[0])
			if err != nil {
				return writeErr(cmd, err)
			}
			hist, err := app.openHistory()
			if err != nil {
				return writeErr(cmd, err)
			}
			e, ok, err := hist.Get(i)
			if err != nil {
				return writeErr(cmd, err)
			}
			if !ok {
				return writeErr(cmd, errNotFound("entry", args[0]))
			}
			switch {
			case raw:
				fmt.Fprintln(cmd.OutOrStdout(), e.Output)
				return nil
			case render:
				fmt.Fprintln(cmd.OutOrStdout(), tui.RenderMarkdown(tui.PreserveLineBreaks(e.Output), terminalWrap))
				return nil
			}
			ie := indexedEntry{Index: i, Entry: e}
			return writeOut(cmd, app, ie, historyTable{ie})
		},
	}
	cmd.Flags().BoolVar(&raw, "raw", false, "Print only the generated text")
	cmd.Flags().BoolVar(&render, "render", false, "Render the generated text for the terminal")
	return cmd
}

func newHistoryDeleteCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:     "delete <index>",
		Aliases: []string{"rm"},
		Short:   "Delete one entry; later entries shift down by one",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			i, err := parseIndex(args[0])
			if err != nil {
				return writeErr(cmd, err)
			}
			hist, err := app.openHistory()
			if err != nil {
				return writeErr(cmd, err)
			}
			removed, ok, err := hist.Delete(i)
			if err != nil {
				return writeErr(cmd, err)
			}
			if !ok {
				return writeErr(cmd, errNotFound("entry", args[0]))
			}
			if err := app.archiveEntries(cmd, archive.ReasonDeleted, []model.Entry{removed}); err != nil {
				return writeErr(cmd, err)
			}
			return writeOut(cmd, app, map[string]any{"index": i, "deleted": removed}, nil)
		},
	}
}

func newHistoryFavoriteCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:     "favorite <index>",
		Aliases: []string{"fav"},
		Short:   "Toggle the favorite flag of an entry",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			i, err := parseIndex(args[0])
			if err != nil {
				return writeErr(cmd, err)
			}
			hist, err := app.openHistory()
			if err != nil {
				return writeErr(cmd, err)
			}
			fav, ok, err := hist.ToggleFavorite(i)
			if err != nil {
				return writeErr(cmd, err)
			}
			if !ok {
				return writeErr(cmd, errNotFound("entry", args[0]))
			}
			return writeOut(cmd, app, map[string]any{"index": i, "favorite": fav}, nil)
		},
	}
}

func newHistoryTagCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "tag <index> [tag...]",
		Short: "Replace the tags of an entry (no tags clears them)",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			i, err := parseIndex(args[0])
			if err != nil {
				return writeErr(cmd, err)
			}
			tags := []string{}
			for _, t := range args[1:] {
				if t = strings.TrimSpace(t); t != "" {
					tags = append(tags, t)
				}
			}
			hist, err := app.openHistory()
			if err != nil {
				return writeErr(cmd, err)
			}
			e, ok, err := hist.Update(i, model.EntryPatch{Tags: &tags})
			if err != nil {
				return writeErr(cmd, err)
			}
			if !ok {
				return writeErr(cmd, errNotFound("entry", args[0]))
			}
			return writeOut(cmd, app, map[string]any{"index": i, "tags": e.Tags}, nil)
		},
	}
}

func newHistoryProjectCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "project <index> <name>",
		Short: "Move an entry to another project",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			i, err := parseIndex(args[0])
			if err != nil {
				return writeErr(cmd, err)
			}
			name := strings.TrimSpace(args[1])
			if name == "" {
				name = model.DefaultProject
			}
			hist, err := app.openHistory()
			if err != nil {
				return writeErr(cmd, err)
			}
			e, ok, err := hist.Update(i, model.EntryPatch{Project: &name})
			if err != nil {
				return writeErr(cmd, err)
			}
			if !ok {
				return writeErr(cmd, errNotFound("entry", args[0]))
			}
			return writeOut(cmd, app, indexedEntry{Index: i, Entry: e}, nil)
		},
	}
}

func newHistoryClearCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "clear",
		Short: "Remove every entry from the history",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			hist, err := app.openHistory()
			if err != nil {
				return writeErr(cmd, err)
			}
			removed, err := hist.Clear()
			if err != nil {
				return writeErr(cmd, err)
			}
			if err := app.archiveEntries(cmd, archive.ReasonCleared, removed); err != nil {
				return writeErr(cmd, err)
			}
			return writeOut(cmd, app, map[string]any{"cleared": len(removed)}, nil)
		},
	}
}
