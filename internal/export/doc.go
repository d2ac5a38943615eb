// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package export writes a farmer's history as a shareable document.
//
// # Key Types
//
//   - Report: the records to export plus who and when
//   - Exporter: converts a Report to one format
//   - Options: output directory, detail level and HTML theme
//
// # Supported Formats
//
//   - Markdown: a table plus per-entry details, readable anywhere
//   - JSON: the records as stored, for re-import or spreadsheets
//   - HTML: a standalone styled page for printing
//
// # Usage
//
//	exp, err := export.ForFormat("md", nil)
//	path, err := export.ExportToFile(report, exp, &export.Options{OutputDir: "."})
package export
