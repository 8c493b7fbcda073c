package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"scriptoria/internal/model"
)

const (
	smokeIdea    = "A lonely lighthouse keeper discovers a secret message in a bottle."
	smokeExcerpt = 600
)

type smokeResult struct {
	Mode   model.Mode `json:"mode"`
	Status int        `json:"status"`
	Output string     `json:"output,omitempty"`
	Error  string     `json:"error,omitempty"`
}

func newSmokeCmd(app *App) *cobra.Command {
	var (
		baseURL string
		idea    string
		timeout time.Duration
	)

	cmd := &cobra.Command{
		Use:   "smoke",
		Short: "Post one idea to a running server in every mode and print the results",
		Example: strings.TrimSpace(`
scriptoria serve &
scriptoria smoke --url http://127.0.0.1:5000
`),
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			client := &http.Client{Timeout: timeout}
			endpoint := strings.TrimSuffix(strings.TrimSpace(baseURL), "/") + "/api/generate"

			results := make([]smokeResult, 0, len(model.Modes))
			for _, m := range model.Modes {
				results = append(results, smokePost(cmd.Context(), client, endpoint, idea, m))
			}

			if app.formatExplicit(cmd) {
				return writeOut(cmd, app, results, nil)
			}
			out := cmd.OutOrStdout()
			for _, r := range results {
				fmt.Fprintln(out, "MODE:", r.Mode)
				if r.Error != "" {
					fmt.Fprintln(out, "RESPONSE:", truncateRunes(r.Error, smokeExcerpt))
				} else {
					fmt.Fprintln(out, truncateRunes(r.Output, smokeExcerpt))
				}
				fmt.Fprintln(out, "\n"+strings.Repeat("-", 60)+"\n")
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&baseURL, "url", "http://127.0.0.1:5000", "Base URL of a running scriptoria server")
	cmd.Flags().StringVar(&idea, "idea", smokeIdea, "Idea to post")
	cmd.Flags().DurationVar(&timeout, "timeout", 10*time.Second, "Per-request timeout")
	return cmd
}

// smokePost never fails: transport and decode problems are reported in the result.
func smokePost(ctx context.Context, client *http.Client, endpoint, idea string, mode model.Mode) smokeResult {
	res := smokeResult{Mode: mode}
	body, _ := json.Marshal(map[string]any{
		"idea":        idea,
		"mode":        mode,
		"temperature": 0.5,
		"max_tokens":  300,
	})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		res.Error = err.Error()
		return res
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		res.Error = err.Error()
		return res
	}
	defer resp.Body.Close()
	res.Status = resp.StatusCode

	b, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		res.Error = err.Error()
		return res
	}
	var decoded struct {
		Output *string `json:"output"`
	}
	if err := json.Unmarshal(b, &decoded); err != nil || decoded.Output == nil {
		res.Error = string(b)
		return res
	}
	res.Output = *decoded.Output
	return res
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
