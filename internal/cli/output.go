// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/glamour"

	"github.com/jeranaias/deepagro/internal/util"
)

// =============================================================================
// JSON OUTPUT
// =============================================================================

// JSONResponse is the envelope printed by commands run with --json.
type JSONResponse struct {
	Success   bool    `json:"success"`
	Data      any     `json:"data"`
	Error     *string `json:"error"`
	Timestamp string  `json:"timestamp"`
	Command   string  `json:"command,omitempty"`
}

// NewJSONResponse creates a successful response.
func NewJSONResponse(command string, data any) *JSONResponse {
	return &JSONResponse{
		Success:   true,
		Data:      data,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Command:   command,
	}
}

// NewJSONErrorResponse creates a failed response.
func NewJSONErrorResponse(command string, err error) *JSONResponse {
	msg := err.Error()
	return &JSONResponse{
		Error:     &msg,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Command:   command,
	}
}

// Write encodes the response to w, indented.
func (r *JSONResponse) Write(w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(r)
}

// =============================================================================
// TEXT OUTPUT
// =============================================================================

// printField prints an aligned "label  value" line.
func printField(w io.Writer, label, value string) {
	fmt.Fprintf(w, "  %s %s\n", LabelStyle.Render(label), ValueStyle.Render(value))
}

// table prints rows under headers, truncating cells to widths. A width of
// zero means the column takes whatever is left of maxWidth.
func table(w io.Writer, maxWidth int, headers []string, widths []int, rows [][]string) {
	fixed := 0
	flex := -1
	for i, wd := range widths {
		if wd == 0 {
			flex = i
			continue
		}
		fixed += wd
	}
	widths = append([]int(nil), widths...)
	if flex >= 0 {
		rest := maxWidth - fixed - 2*len(widths)
		if rest < 10 {
			rest = 10
		}
		widths[flex] = rest
	}

	line := func(cells []string, style func(string) string) {
		parts := make([]string, len(cells))
		for i, c := range cells {
			parts[i] = util.Pad(util.SingleLine(c), widths[i])
		}
		fmt.Fprintln(w, style(strings.TrimRight(strings.Join(parts, "  "), " ")))
	}

	line(headers, func(s string) string { return TableHeaderStyle.Render(s) })
	for _, row := range rows {
		line(row, func(s string) string { return s })
	}
}

// formatPercent renders a 0..1 confidence as a percentage.
func formatPercent(v float64) string {
	return fmt.Sprintf("%.1f%%", v*100)
}

// renderMarkdown renders content for the terminal with the named glamour
// style. An empty style and rendering failures give the raw text.
func renderMarkdown(content, style string, width int) string {
	if style == "" {
		return content
	}
	r, err := glamour.NewTermRenderer(
		glamour.WithStandardStyle(style),
		glamour.WithWordWrap(width),
	)
	if err != nil {
		return content
	}
	out, err := r.Render(content)
	if err != nil {
		return content
	}
	return out
}
