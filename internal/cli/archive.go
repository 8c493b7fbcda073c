package cli

import (
	"strconv"
	"time"

	xansi "github.com/charmbracelet/x/ansi"
	"github.com/spf13/cobra"

	"scriptoria/internal/archive"
)

type archiveTable []archive.Record

func (archiveTable) Header() []string {
	return []string{"ID", "REASON", "ARCHIVED", "PROJECT", "MODE", "IDEA"}
}

func (t archiveTable) Rows() [][]string {
	rows := make([][]string, 0, len(t))
	for _, r := range t {
		rows = append(rows, []string{
			strconv.FormatInt(r.ID, 10),
			string(r.Reason),
			r.ArchivedAt.Local().Format(time.DateTime),
			r.Entry.ProjectOrDefault(),
			string(r.Entry.ModeOrDefault()),
			xansi.Truncate(oneLine(r.Entry.Idea), 40, "…"),
		})
	}
	return rows
}

func newArchiveCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "archive",
		Short: "Entries that left the history (evicted, deleted or cleared)",
	}
	cmd.AddCommand(newArchiveListCmd(app))
	return cmd
}

func newArchiveListCmd(app *App) *cobra.Command {
	var project string
	var limit int

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List archived entries, most recently archived first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			arc, err := app.openArchive(cmd.Context())
			if err != nil {
				return writeErr(cmd, err)
			}
			defer arc.Close()
			records, err := arc.List(cmd.Context(), archive.ListOptions{Project: project, Limit: limit})
			if err != nil {
				return writeErr(cmd, err)
			}
			return writeOut(cmd, app, records, archiveTable(records))
		},
	}
	cmd.Flags().StringVar(&project, "project", "", "Only entries of this project")
	cmd.Flags().IntVar(&limit, "limit", 50, "Maximum number of records (0 = all)")
	return cmd
}
