// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package export

import (
	"bytes"
	"html/template"
	"time"

	"github.com/jeranaias/deepagro/internal/storage"
)

// =============================================================================
// HTML EXPORTER
// =============================================================================

// HTMLExporter writes a standalone page with embedded CSS.
type HTMLExporter struct {
	options *Options
}

// NewHTMLExporter creates a new HTML exporter.
func NewHTMLExporter(opts *Options) *HTMLExporter {
	if opts == nil {
		opts = DefaultOptions()
	}
	return &HTMLExporter{options: opts}
}

type htmlEntry struct {
	storage.Record
	TypeLabel  string
	Date       string
	Confidence string
	Question   string
	Reply      string
	Readings   [][2]string
}

type htmlPage struct {
	Title     string
	Dark      bool
	Generated string
	ISODate   string
	Details   bool
	Entries   []htmlEntry
}

// Export converts the report to HTML.
func (e *HTMLExporter) Export(r *Report) ([]byte, error) {
	if err := validate(r); err != nil {
		return nil, err
	}
	gen := generated(r)
	page := htmlPage{
		Title:     title(r),
		Dark:      e.options.Theme == "dark",
		Generated: gen.Format("January 2, 2006 at 3:04 PM"),
		ISODate:   gen.Format(time.RFC3339),
		Details:   e.options.IncludeDetails,
	}
	for _, rec := range r.Records {
		entry := htmlEntry{
			Record:     rec,
			TypeLabel:  typeLabel(rec.Type),
			Date:       formatTimestamp(rec.CreatedAt),
			Confidence: formatConfidence(rec.Confidence),
		}
		if rec.Type == storage.RecordChat {
			entry.Question = rec.Details["question"]
			entry.Reply = rec.Details["reply"]
			if entry.Reply == "" {
				entry.Reply = rec.Result
			}
		}
		for _, k := range detailKeys(rec.Details) {
			entry.Readings = append(entry.Readings, [2]string{k, rec.Details[k]})
		}
		page.Entries = append(page.Entries, entry)
	}

	var buf bytes.Buffer
	if err := pageTemplate.Execute(&buf, page); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (e *HTMLExporter) FileExtension() string { return ".html" }

func (e *HTMLExporter) MimeType() string { return "text/html; charset=utf-8" }

var pageTemplate = template.Must(template.New("history").Parse(`<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="UTF-8">
<meta name="viewport" content="width=device-width, initial-scale=1.0">
<meta name="generator" content="deepagro">
<meta name="date" content="{{.ISODate}}">
<title>{{.Title}}</title>
<style>
body { font-family: system-ui, sans-serif; max-width: 960px; margin: 2rem auto; padding: 0 1rem;
  {{if .Dark}}background: #1c1f1a; color: #e6e9e2;{{else}}background: #fbfaf6; color: #23261f;{{end}} }
h1 { color: #3d8b37; }
table { border-collapse: collapse; width: 100%; margin-bottom: 2rem; }
th, td { text-align: left; padding: .4rem .6rem; border-bottom: 1px solid {{if .Dark}}#3a3f36{{else}}#dcd8cc{{end}}; }
th { color: #8a6a3c; }
section { margin: 1.5rem 0; }
.date { color: #888; font-size: .85em; }
blockquote { margin: .5rem 0; padding-left: .8rem; border-left: 3px solid #3d8b37; }
.reply { white-space: pre-wrap; }
footer { margin-top: 3rem; color: #888; font-size: .85em; }
</style>
</head>
<body>
<h1>{{.Title}}</h1>
<table>
<thead><tr><th>Date</th><th>Type</th><th>Title</th><th>Result</th><th>Confidence</th></tr></thead>
<tbody>
{{- range .Entries}}
<tr><td>{{.Date}}</td><td>{{.TypeLabel}}</td><td>{{.Title}}</td><td>{{.Result}}</td><td>{{.Confidence}}</td></tr>
{{- end}}
</tbody>
</table>
{{- if .Details}}
{{- range .Entries}}
<section>
<h3>{{.Title}} <span class="date">{{.Date}}</span></h3>
{{- if .Question}}
<blockquote>{{.Question}}</blockquote>
<div class="reply">{{.Reply}}</div>
{{- else}}
<ul>
{{- range .Readings}}
<li>{{index . 0}}: {{index . 1}}</li>
{{- end}}
</ul>
{{- end}}
</section>
{{- end}}
{{- end}}
<footer>Exported from DeepAgro on {{.Generated}}</footer>
</body>
</html>
`))
