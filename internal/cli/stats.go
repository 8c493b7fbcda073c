package cli

import (
	"sort"
	"strconv"

	"github.com/spf13/cobra"

	"scriptoria/internal/model"
)

type statsTable model.Stats

func (statsTable) Header() []string { return []string{"KIND", "NAME", "COUNT"} }

func (t statsTable) Rows() [][]string {
	var rows [][]string
	add := func(kind string, m map[string]int) {
		names := make([]string, 0, len(m))
		for name := range m {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			rows = append(rows, []string{kind, name, strconv.Itoa(m[name])})
		}
	}
	add("project", t.Projects)
	add("mode", t.Modes)
	rows = append(rows, []string{"total", "", strconv.Itoa(t.Total)})
	return rows
}

func newStatsCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Count history entries per project and mode",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			hist, err := app.openHistory()
			if err != nil {
				return writeErr(cmd, err)
			}
			st, err := hist.Stats()
			if err != nil {
				return writeErr(cmd, err)
			}
			return writeOut(cmd, app, st, statsTable(st))
		},
	}
}
