// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package export

import (
	"fmt"
	"strings"
	"time"

	"github.com/jeranaias/deepagro/internal/storage"
	"github.com/jeranaias/deepagro/internal/util"
)

// =============================================================================
// MARKDOWN EXPORTER
// =============================================================================

// MarkdownExporter writes a summary table followed by one section per entry.
type MarkdownExporter struct {
	options *Options
}

// NewMarkdownExporter creates a new Markdown exporter.
func NewMarkdownExporter(opts *Options) *MarkdownExporter {
	if opts == nil {
		opts = DefaultOptions()
	}
	return &MarkdownExporter{options: opts}
}

// Export converts the report to Markdown.
func (e *MarkdownExporter) Export(r *Report) ([]byte, error) {
	if err := validate(r); err != nil {
		return nil, err
	}
	var sb strings.Builder

	// YAML frontmatter
	sb.WriteString("---\n")
	fmt.Fprintf(&sb, "title: %s\n", escapeYAML(title(r)))
	if r.Type != "" {
		fmt.Fprintf(&sb, "type: %s\n", r.Type)
	}
	fmt.Fprintf(&sb, "entries: %d\n", len(r.Records))
	fmt.Fprintf(&sb, "exported: %s\n", generated(r).Format(time.RFC3339))
	sb.WriteString("generator: deepagro\n")
	sb.WriteString("---\n\n")

	fmt.Fprintf(&sb, "# %s\n\n", escapeMarkdown(title(r)))

	sb.WriteString("| Date | Type | Title | Result | Confidence |\n")
	sb.WriteString("|------|------|-------|--------|------------|\n")
	for _, rec := range r.Records {
		fmt.Fprintf(&sb, "| %s | %s | %s | %s | %s |\n",
			formatTimestamp(rec.CreatedAt),
			typeLabel(rec.Type),
			escapeCell(rec.Title),
			escapeCell(util.TruncateRunes(util.SingleLine(rec.Result), 80)),
			formatConfidence(rec.Confidence))
	}

	if e.options.IncludeDetails {
		sb.WriteString("\n## Details\n")
		for _, rec := range r.Records {
			e.writeDetails(&sb, &rec)
		}
	}

	fmt.Fprintf(&sb, "\n---\n\n*Exported from DeepAgro on %s*\n",
		generated(r).Format("January 2, 2006 at 3:04 PM"))
	return []byte(sb.String()), nil
}

func (e *MarkdownExporter) writeDetails(sb *strings.Builder, rec *storage.Record) {
	fmt.Fprintf(sb, "\n### %s <sub>%s</sub>\n\n", escapeMarkdown(rec.Title), formatTimestamp(rec.CreatedAt))

	if rec.Type == storage.RecordChat {
		if q := rec.Details["question"]; q != "" {
			fmt.Fprintf(sb, "> %s\n\n", strings.ReplaceAll(strings.TrimSpace(q), "\n", "\n> "))
		}
		reply := rec.Details["reply"]
		if reply == "" {
			reply = rec.Result
		}
		sb.WriteString(strings.TrimSpace(reply))
		sb.WriteString("\n")
		return
	}

	fmt.Fprintf(sb, "- **Result**: %s\n", rec.Result)
	if c := formatConfidence(rec.Confidence); c != "" {
		fmt.Fprintf(sb, "- **Confidence**: %s\n", c)
	}
	for _, k := range detailKeys(rec.Details) {
		fmt.Fprintf(sb, "- %s: %s\n", k, rec.Details[k])
	}
}

func (e *MarkdownExporter) FileExtension() string { return ".md" }

func (e *MarkdownExporter) MimeType() string { return "text/markdown" }

// =============================================================================
// ESCAPING HELPERS
// =============================================================================

func typeLabel(t storage.RecordType) string {
	s := string(t)
	if s == "" {
		return ""
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

// escapeMarkdown escapes characters that break headings.
func escapeMarkdown(s string) string {
	return strings.NewReplacer(
		"#", "\\#",
		"*", "\\*",
		"_", "\\_",
		"[", "\\[",
		"]", "\\]",
	).Replace(s)
}

// escapeCell keeps a value on one table row.
func escapeCell(s string) string {
	return strings.ReplaceAll(escapeMarkdown(util.SingleLine(s)), "|", "\\|")
}

// escapeYAML quotes a frontmatter value when needed.
func escapeYAML(s string) string {
	if strings.ContainsAny(s, ":#|>@`\"'[]{}!%&*\n\r\\") || strings.HasPrefix(s, " ") || strings.HasSuffix(s, " ") {
		s = strings.ReplaceAll(s, "\\", "\\\\")
		s = strings.ReplaceAll(s, "\"", "\\\"")
		s = strings.ReplaceAll(s, "\n", "\\n")
		s = strings.ReplaceAll(s, "\r", "\\r")
		return "\"" + s + "\""
	}
	return s
}
