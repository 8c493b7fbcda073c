package format

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
)

// Tabular is implemented by CLI results that can be shown as a table.
type Tabular interface {
	Header() []string
	Rows() [][]string
}

// Write writes output in the requested format.
//
// Supported formats:
// - json (default)
// - table (values implementing Tabular)
func Write(w io.Writer, v any, format string, pretty bool) error {
	switch format {
	case "", "json":
		return WriteJSON(w, v, pretty)
	case "table":
		t, ok := v.(Tabular)
		if !ok {
			return fmt.Errorf("table output is not available for %T", v)
		}
		return WriteTable(w, t, pretty)
	default:
		return fmt.Errorf("unknown format: %s (expected json|table)", format)
	}
}

// WriteJSON writes strict JSON. Non-ASCII and HTML characters in generated text are kept as-is.
func WriteJSON(w io.Writer, v any, pretty bool) error {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if pretty {
		enc.SetIndent("", "  ")
	}
	if err := enc.Encode(v); err != nil {
		return err
	}
	_, err := w.Write(buf.Bytes())
	return err
}

var headerStyle = lipgloss.NewStyle().Bold(true).Padding(0, 1)

var cellStyle = lipgloss.NewStyle().Padding(0, 1)

// WriteTable renders t with lipgloss. pretty switches to rounded borders and a bold header.
func WriteTable(w io.Writer, t Tabular, pretty bool) error {
	tbl := table.New().
		Headers(t.Header()...).
		Rows(t.Rows()...)
	if pretty {
		tbl = tbl.Border(lipgloss.RoundedBorder()).
			StyleFunc(func(row, col int) lipgloss.Style {
				if row == table.HeaderRow {
					return headerStyle
				}
				return cellStyle
			})
	} else {
		tbl = tbl.Border(lipgloss.NormalBorder()).
			StyleFunc(func(row, col int) lipgloss.Style { return cellStyle })
	}
	_, err := fmt.Fprintln(w, tbl.String())
	return err
}
