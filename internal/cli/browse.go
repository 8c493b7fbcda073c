package cli

import (
	"github.com/spf13/cobra"

	"scriptoria/internal/tui"
)

func newBrowseCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "browse",
		Short: "Browse, favorite and delete history entries in the terminal",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBrowse(cmd, app)
		},
	}
}

func runBrowse(cmd *cobra.Command, app *App) error {
	hist, err := app.openHistory()
	if err != nil {
		return writeErr(cmd, err)
	}
	arc, err := app.openArchive(cmd.Context())
	if err != nil {
		return writeErr(cmd, err)
	}
	defer arc.Close()
	if err := tui.Run(hist, arc); err != nil {
		return writeErr(cmd, err)
	}
	return nil
}
