// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package advisor

import (
	"strconv"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/jeranaias/deepagro/internal/storage"
	"github.com/jeranaias/deepagro/internal/util"
)

// CropRecord is the history entry for a crop prediction.
func CropRecord(in CropInput, p *CropPrediction) *storage.Record {
	return &storage.Record{
		Type:       storage.RecordCrop,
		Title:      titleCase(p.Crop) + " Prediction",
		Result:     p.Crop,
		Confidence: p.Confidence(),
		Details: map[string]string{
			"N":           formatFloat(in.N),
			"P":           formatFloat(in.P),
			"K":           formatFloat(in.K),
			"temperature": formatFloat(in.Temperature),
			"humidity":    formatFloat(in.Humidity),
			"ph":          formatFloat(in.PH),
			"rainfall":    formatFloat(in.Rainfall),
		},
	}
}

// FertilizerRecord is the history entry for a fertilizer recommendation.
func FertilizerRecord(in FertilizerInput, p *FertilizerPrediction) *storage.Record {
	return &storage.Record{
		Type:   storage.RecordFertilizer,
		Title:  titleCase(p.Fertilizer) + " Recommendation",
		Result: p.Fertilizer,
		Details: map[string]string{
			"temperature": formatFloat(in.Temperature),
			"humidity":    formatFloat(in.Humidity),
			"moisture":    formatFloat(in.Moisture),
			"N":           formatFloat(in.N),
			"P":           formatFloat(in.P),
			"K":           formatFloat(in.K),
			"ph":          formatFloat(in.PH),
		},
	}
}

// DiseaseRecord is the history entry for a leaf diagnosis.
func DiseaseRecord(filename string, res *DiseaseResult) *storage.Record {
	return &storage.Record{
		Type:       storage.RecordDisease,
		Title:      titleCase(res.Disease) + " Detection",
		Result:     res.Disease,
		Confidence: res.Confidence,
		Details:    map[string]string{"filename": filename},
	}
}

// ChatRecord is the history entry for one answered question.
func ChatRecord(question, reply string) *storage.Record {
	return &storage.Record{
		Type:    storage.RecordChat,
		Title:   util.TruncateRunes(util.SingleLine(question), 60),
		Result:  util.TruncateRunes(util.SingleLine(reply), 120),
		Details: map[string]string{"question": question, "reply": reply},
	}
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// titleCase turns backend labels like "rice" or "leaf blight" into history
// titles. Acronyms such as "NPK" are left alone.
func titleCase(label string) string {
	return cases.Title(language.English, cases.NoLower).String(label)
}
