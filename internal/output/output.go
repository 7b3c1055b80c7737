// Package output writes reports and run results as JSON, YAML or text tables.
package output

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"

	"gopkg.in/yaml.v3"
)

type Format string

const (
	FormatJSON  Format = "json"
	FormatYAML  Format = "yaml"
	FormatTable Format = "table"
)

var (
	ErrUnknownFormat = errors.New("output: unknown format")
	ErrNotTabular    = errors.New("output: value has no table form")
)

// Table is a grid of cells. A cell may hold several lines separated by "\n";
// the row then spans as many lines as its tallest cell.
type Table struct {
	Header []string
	Rows   [][]string
}

// Tabler is implemented by values that can be written as FormatTable.
type Tabler interface {
	Table() Table
}

// ParseFormat accepts json, yaml, yml or table; empty means json.
func ParseFormat(raw string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", "json":
		return FormatJSON, nil
	case "yaml", "yml":
		return FormatYAML, nil
	case "table":
		return FormatTable, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownFormat, raw)
	}
}

// Write encodes v to w.
func Write(w io.Writer, format Format, v any) error {
	switch format {
	case FormatJSON, "":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	case FormatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return err
		}
		return enc.Close()
	case FormatTable:
		t, ok := v.(Tabler)
		if !ok {
			return fmt.Errorf("%w: %T", ErrNotTabular, v)
		}
		return WriteTable(w, t.Table())
	default:
		return fmt.Errorf("%w: %q", ErrUnknownFormat, format)
	}
}

// WriteTable renders t as aligned columns.
func WriteTable(w io.Writer, t Table) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	if len(t.Header) > 0 {
		fmt.Fprintln(tw, strings.Join(t.Header, "\t"))
		rule := make([]string, len(t.Header))
		for i, h := range t.Header {
			rule[i] = strings.Repeat("-", max(len(h), 1))
		}
		fmt.Fprintln(tw, strings.Join(rule, "\t"))
	}
	for _, row := range t.Rows {
		cells := make([][]string, len(row))
		height := 1
		for i, cell := range row {
			cells[i] = strings.Split(strings.TrimRight(cell, "\n"), "\n")
			height = max(height, len(cells[i]))
		}
		for line := 0; line < height; line++ {
			out := make([]string, len(row))
			for i, lines := range cells {
				if line < len(lines) {
					out[i] = lines[line]
				}
			}
			fmt.Fprintln(tw, strings.Join(out, "\t"))
		}
	}
	return tw.Flush()
}

// WriteFile encodes v to path, or to stdout when path is empty or "-".
func WriteFile(path string, format Format, v any) error {
	if path == "" || path == "-" {
		return Write(os.Stdout, format, v)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := Write(f, format, v); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
