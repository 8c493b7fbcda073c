package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"scriptoria/internal/archive"
	"scriptoria/internal/config"
	"scriptoria/internal/format"
	"scriptoria/internal/generate"
	"scriptoria/internal/logging"
	"scriptoria/internal/store"
)

type App struct {
	ConfigPath  string
	HistoryPath string
	ArchivePath string
	LogLevel    string
	PrettyJSON  bool
	Format      string

	cfg *config.Config
}

func NewRootCmd() *cobra.Command {
	app := &App{}

	cmd := &cobra.Command{
		Use:          "scriptoria",
		Short:        "Turn short ideas into screenplay scenes, characters and production plans",
		SilenceUsage: true,
		Example: strings.TrimSpace(`
  # Browse the history interactively
  scriptoria

  # Serve the web UI and JSON API
  scriptoria serve --addr 127.0.0.1:5000

  # Generate from the terminal
  scriptoria generate --mode characters "A lighthouse keeper finds a message in a bottle"

  # Show a history entry (shortcut for: scriptoria history show <index>)
  scriptoria 0
`),
		RunE: func(cmd *cobra.Command, args []string) error {
			// No subcommand => interactive browser.
			if cmd.HasSubCommands() && len(args) == 0 {
				return runBrowse(cmd, app)
			}
			return cmd.Help()
		},
	}

	cmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		return app.resolveConfig(cmd)
	}

	cmd.PersistentFlags().StringVar(&app.ConfigPath, "config", "", "Path to config.yaml (default: $SCRIPTORIA_CONFIG, then ~/.scriptoria/config.yaml)")
	cmd.PersistentFlags().StringVar(&app.HistoryPath, "history", "", "Path to history.json (overrides config and SCRIPTORIA_HISTORY)")
	cmd.PersistentFlags().StringVar(&app.ArchivePath, "archive", "", "Path to the SQLite archive; pass an empty value to disable archiving")
	cmd.PersistentFlags().StringVar(&app.LogLevel, "log-level", "", "Log level (debug|info|warn|error)")
	cmd.PersistentFlags().BoolVar(&app.PrettyJSON, "pretty", false, "Pretty-print JSON output (rounded borders for tables)")
	cmd.PersistentFlags().StringVar(&app.Format, "format", envOr("SCRIPTORIA_FORMAT", "json"), "Output format (json|table)")

	cmd.AddCommand(newServeCmd(app))
	cmd.AddCommand(newGenerateCmd(app))
	cmd.AddCommand(newHistoryCmd(app))
	cmd.AddCommand(newStatsCmd(app))
	cmd.AddCommand(newArchiveCmd(app))
	cmd.AddCommand(newSmokeCmd(app))
	cmd.AddCommand(newBrowseCmd(app))

	return cmd
}

// resolveConfig loads the config file and environment, then applies persistent flags on top.
func (app *App) resolveConfig(cmd *cobra.Command) error {
	cfg, err := config.Load(app.ConfigPath)
	if err != nil {
		return writeErr(cmd, err)
	}
	if p := strings.TrimSpace(app.HistoryPath); p != "" {
		cfg.HistoryPath = p
	}
	if cmd.Flags().Changed("archive") {
		p := strings.TrimSpace(app.ArchivePath)
		cfg.ArchivePath = &p
	}
	if lvl := strings.TrimSpace(app.LogLevel); lvl != "" {
		cfg.Log.Level = lvl
	}
	app.cfg = cfg
	return nil
}

func (app *App) config() *config.Config {
	if app.cfg == nil {
		// Commands always run after PersistentPreRunE; this only guards direct calls.
		cfg, err := config.Load(app.ConfigPath)
		if err != nil {
			cfg = &config.Config{}
		}
		app.cfg = cfg
	}
	return app.cfg
}

func (app *App) logger(cmd *cobra.Command) (*slog.Logger, error) {
	cfg := app.config()
	return logging.New(cmd.ErrOrStderr(), cfg.Log.Level, cfg.Log.Format)
}

func (app *App) openHistory() (*store.History, error) {
	return store.NewHistory(app.config().HistoryPath)
}

// openArchive returns nil (archiving disabled) when no archive path is configured.
func (app *App) openArchive(ctx context.Context) (*archive.Archive, error) {
	p := app.config().ResolvedArchivePath()
	if p == "" {
		return nil, nil
	}
	return archive.Open(ctx, p)
}

func (app *App) newService(logger *slog.Logger) (*generate.Service, error) {
	cfg := app.config()
	client, err := generate.NewOpenAIClient(generate.OpenAIConfig{
		APIKey:  cfg.OpenAI.APIKey,
		BaseURL: cfg.OpenAI.BaseURL,
		Model:   cfg.OpenAI.Model,
		Timeout: cfg.OpenAI.Timeout,
	})
	if err != nil {
		return nil, err
	}
	var completer generate.Completer
	if client.Available() {
		completer = client
	}
	return generate.NewService(generate.ServiceConfig{
		Completer: completer,
		CacheSize: cfg.CacheSize,
		Logger:    logger,
	})
}

// formatExplicit reports whether the caller asked for a structured format rather than the
// command's default presentation.
func (app *App) formatExplicit(cmd *cobra.Command) bool {
	return cmd.Flags().Changed("format") || strings.TrimSpace(os.Getenv("SCRIPTORIA_FORMAT")) != ""
}

func envOr(k, d string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return d
}

// writeOut writes {"data": v} as JSON, or tab when --format table is requested.
func writeOut(cmd *cobra.Command, app *App, v any, tab format.Tabular) error {
	if app.Format == "table" && tab != nil {
		return format.Write(cmd.OutOrStdout(), tab, app.Format, app.PrettyJSON)
	}
	return format.Write(cmd.OutOrStdout(), map[string]any{"data": v}, app.Format, app.PrettyJSON)
}

func writeErr(cmd *cobra.Command, err error) error {
	fmt.Fprintln(cmd.ErrOrStderr(), err.Error())
	return err
}
