package cli

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"scriptoria/internal/archive"
	"scriptoria/internal/generate"
	"scriptoria/internal/model"
	"scriptoria/internal/tui"
)

const terminalWrap = 80

func newGenerateCmd(app *App) *cobra.Command {
	var (
		mode        string
		temperature float64
		maxTokens   int
		project     string
		noSave      bool
		raw         bool
	)

	cmd := &cobra.Command{
		Use:   "generate <idea...>",
		Short: "Generate a screenplay scene, characters or a production plan",
		Long: strings.TrimSpace(`
Generate text for an idea and append it to the history, the same way POST /api/generate does.

Output is rendered for the terminal by default. Use --raw for the plain text, or
--format json for the stored entry.
`),
		Example: strings.TrimSpace(`
scriptoria generate "A lighthouse keeper finds a message in a bottle"
scriptoria generate --mode plan --project demo "Heist on a night train"
scriptoria generate --raw --no-save --mode characters "Robots learn to paint"
`),
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			idea := strings.TrimSpace(strings.Join(args, " "))
			if idea == "" {
				return writeErr(cmd, errors.New("idea is required"))
			}
			m := model.Mode(strings.TrimSpace(mode))
			if m == "" {
				m = model.DefaultMode
			}
			p := strings.TrimSpace(project)
			if p == "" {
				p = model.DefaultProject
			}

			logger, err := app.logger(cmd)
			if err != nil {
				return writeErr(cmd, err)
			}
			gen, err := app.newService(logger)
			if err != nil {
				return writeErr(cmd, err)
			}

			output, source := gen.GenerateWithSource(cmd.Context(), generate.Request{
				Idea:        idea,
				Mode:        m,
				Temperature: temperature,
				MaxTokens:   maxTokens,
			})
			entry := model.Entry{
				Project:     p,
				Idea:        idea,
				Mode:        m,
				Output:      output,
				Temperature: &temperature,
				MaxTokens:   &maxTokens,
			}

			saved := false
			if !noSave {
				if err := app.appendEntry(cmd, entry); err != nil {
					return writeErr(cmd, err)
				}
				saved = true
			}

			switch {
			case raw:
				fmt.Fprintln(cmd.OutOrStdout(), output)
				return nil
			case app.formatExplicit(cmd):
				return writeOut(cmd, app, map[string]any{
					"output": output,
					"entry":  entry,
					"source": string(source),
					"saved":  saved,
				}, nil)
			default:
				fmt.Fprintln(cmd.OutOrStdout(), tui.RenderMarkdown(tui.PreserveLineBreaks(output), terminalWrap))
				return nil
			}
		},
	}

	cmd.Flags().StringVar(&mode, "mode", string(model.DefaultMode), "Generation mode (screenplay|characters|plan)")
	cmd.Flags().Float64Var(&temperature, "temperature", generate.DefaultTemperature, "Sampling temperature passed to the backend")
	cmd.Flags().IntVar(&maxTokens, "max-tokens", generate.DefaultMaxTokens, "Maximum tokens requested from the backend")
	cmd.Flags().StringVar(&project, "project", model.DefaultProject, "Project to file the entry under")
	cmd.Flags().BoolVar(&noSave, "no-save", false, "Do not append the result to the history")
	cmd.Flags().BoolVar(&raw, "raw", false, "Print the plain generated text")
	return cmd
}

// appendEntry stores e and archives anything pushed out of the retention window.
func (app *App) appendEntry(cmd *cobra.Command, e model.Entry) error {
	hist, err := app.openHistory()
	if err != nil {
		return err
	}
	evicted, err := hist.Append(e)
	if err != nil {
		return err
	}
	return app.archiveEntries(cmd, archive.ReasonEvicted, evicted)
}

func (app *App) archiveEntries(cmd *cobra.Command, reason archive.Reason, entries []model.Entry) error {
	if len(entries) == 0 {
		return nil
	}
	arc, err := app.openArchive(cmd.Context())
	if err != nil {
		return err
	}
	defer arc.Close()
	return arc.Put(cmd.Context(), reason, entries)
}
