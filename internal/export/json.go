// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package export

import (
	"encoding/json"
	"time"

	"github.com/jeranaias/deepagro/internal/storage"
)

// =============================================================================
// JSON EXPORTER
// =============================================================================

// JSONExporter writes records as stored. Details are always included so the
// file can be re-imported.
type JSONExporter struct {
	options *Options
}

// NewJSONExporter creates a new JSON exporter.
func NewJSONExporter(opts *Options) *JSONExporter {
	if opts == nil {
		opts = DefaultOptions()
	}
	return &JSONExporter{options: opts}
}

type jsonReport struct {
	Owner     string           `json:"owner,omitempty"`
	Type      string           `json:"type,omitempty"`
	Generated time.Time        `json:"generated"`
	Count     int              `json:"count"`
	Records   []storage.Record `json:"records"`
}

// Export converts the report to indented JSON.
func (e *JSONExporter) Export(r *Report) ([]byte, error) {
	if err := validate(r); err != nil {
		return nil, err
	}
	return json.MarshalIndent(jsonReport{
		Owner:     r.Owner,
		Type:      string(r.Type),
		Generated: generated(r).UTC(),
		Count:     len(r.Records),
		Records:   r.Records,
	}, "", "  ")
}

func (e *JSONExporter) FileExtension() string { return ".json" }

func (e *JSONExporter) MimeType() string { return "application/json" }
