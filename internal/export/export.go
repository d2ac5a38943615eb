// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package export

import (
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/jeranaias/deepagro/internal/storage"
	"github.com/jeranaias/deepagro/internal/util"
)

// ErrEmpty is returned when there is nothing to export.
var ErrEmpty = errors.New("no history to export")

// =============================================================================
// EXPORT INTERFACE
// =============================================================================

// Report is one export: a user's records, newest first.
type Report struct {
	Owner     string
	Type      storage.RecordType // empty means all types
	Records   []storage.Record
	Generated time.Time
}

// Exporter converts a Report to a document.
type Exporter interface {
	Export(r *Report) ([]byte, error)

	// FileExtension returns the extension including the dot, e.g. ".md".
	FileExtension() string

	MimeType() string
}

// =============================================================================
// EXPORT OPTIONS
// =============================================================================

// Options configures export behavior.
type Options struct {
	// OutputDir is where ExportToFile writes. Default: current directory.
	OutputDir string

	// IncludeDetails adds the readings behind each entry and full chat
	// replies.
	IncludeDetails bool

	// Theme for HTML export, "light" or "dark". Default: "light", which
	// prints better.
	Theme string
}

// DefaultOptions returns default export options.
func DefaultOptions() *Options {
	return &Options{
		OutputDir:      ".",
		IncludeDetails: true,
		Theme:          "light",
	}
}

// Formats lists the names ForFormat accepts.
var Formats = []string{"md", "json", "html"}

// ForFormat returns the exporter for a format name.
func ForFormat(name string, opts *Options) (Exporter, error) {
	switch strings.ToLower(strings.TrimPrefix(name, ".")) {
	case "md", "markdown":
		return NewMarkdownExporter(opts), nil
	case "json":
		return NewJSONExporter(opts), nil
	case "html", "htm":
		return NewHTMLExporter(opts), nil
	default:
		return nil, fmt.Errorf("unknown export format %q (valid: %s)", name, strings.Join(Formats, ", "))
	}
}

// =============================================================================
// EXPORT FUNCTIONS
// =============================================================================

// ExportToFile exports r with exporter and returns the written path. The
// file is private to the user since history holds farm details.
func ExportToFile(r *Report, exporter Exporter, opts *Options) (string, error) {
	if opts == nil {
		opts = DefaultOptions()
	}
	content, err := exporter.Export(r)
	if err != nil {
		return "", fmt.Errorf("export failed: %w", err)
	}

	dir := opts.OutputDir
	if dir == "" {
		dir = "."
	}
	path := filepath.Join(dir, Filename(r, exporter))
	if err := util.AtomicWriteFile(path, content, 0o600); err != nil {
		return "", fmt.Errorf("write file: %w", err)
	}
	return path, nil
}

// Filename is the default file name for r, e.g.
// deepagro_history_crop_20250114_093000.md.
func Filename(r *Report, exporter Exporter) string {
	kind := "all"
	if r.Type != "" {
		kind = string(r.Type)
	}
	ts := r.Generated
	if ts.IsZero() {
		ts = time.Now()
	}
	return fmt.Sprintf("deepagro_history_%s_%s%s", kind, ts.Format("20060102_150405"), exporter.FileExtension())
}

// =============================================================================
// HELPER FUNCTIONS
// =============================================================================

func validate(r *Report) error {
	if r == nil || len(r.Records) == 0 {
		return ErrEmpty
	}
	return nil
}

func generated(r *Report) time.Time {
	if r.Generated.IsZero() {
		return time.Now()
	}
	return r.Generated
}

// title is the document heading for r.
func title(r *Report) string {
	t := "DeepAgro history"
	if r.Owner != "" {
		t += " of " + r.Owner
	}
	return t
}

// detailKeys returns d's keys in a stable order, with chat text last.
func detailKeys(d map[string]string) []string {
	keys := make([]string, 0, len(d))
	for k := range d {
		if k != "question" && k != "reply" {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys
}

func formatConfidence(v float64) string {
	if v <= 0 {
		return ""
	}
	return fmt.Sprintf("%.1f%%", v*100)
}

func formatTimestamp(t time.Time) string {
	return t.Local().Format("2006-01-02 15:04")
}
