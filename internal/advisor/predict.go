// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package advisor

import (
	"context"
	"errors"
	"fmt"
	"math"
)

// CropInput holds soil and climate readings for crop prediction.
type CropInput struct {
	N           float64 `json:"N"`
	P           float64 `json:"P"`
	K           float64 `json:"K"`
	Temperature float64 `json:"temperature"`
	Humidity    float64 `json:"humidity"`
	PH          float64 `json:"ph"`
	Rainfall    float64 `json:"rainfall"`
}

// Validate checks the ranges accepted by the crop form.
func (in CropInput) Validate() error {
	return errors.Join(
		checkRange("N", in.N, 0, 200),
		checkRange("P", in.P, 0, 200),
		checkRange("K", in.K, 0, 200),
		checkRange("temperature", in.Temperature, 0, 50),
		checkRange("humidity", in.Humidity, 0, 100),
		checkRange("ph", in.PH, 0, 14),
		checkRange("rainfall", in.Rainfall, 0, math.Inf(1)),
	)
}

// CropScore is one ranked candidate.
type CropScore struct {
	Crop       string  `json:"crop"`
	Confidence float64 `json:"confidence"`
}

// CropPrediction is the backend's crop recommendation.
type CropPrediction struct {
	Crop string      `json:"crop"`
	Top3 []CropScore `json:"top3"`
}

// Confidence returns the score of the recommended crop, or 0 if the backend
// did not rank it.
func (p *CropPrediction) Confidence() float64 {
	for _, s := range p.Top3 {
		if s.Crop == p.Crop {
			return s.Confidence
		}
	}
	return 0
}

// FertilizerInput holds readings for fertilizer recommendation.
type FertilizerInput struct {
	Temperature float64 `json:"temperature"`
	Humidity    float64 `json:"humidity"`
	Moisture    float64 `json:"moisture"`
	N           float64 `json:"N"`
	P           float64 `json:"P"`
	K           float64 `json:"K"`
	PH          float64 `json:"ph"`
}

// Validate checks the ranges accepted by the fertilizer form.
func (in FertilizerInput) Validate() error {
	return errors.Join(
		checkRange("temperature", in.Temperature, math.Inf(-1), math.Inf(1)),
		checkRange("humidity", in.Humidity, 0, 100),
		checkRange("moisture", in.Moisture, 0, 100),
		checkRange("N", in.N, 0, math.Inf(1)),
		checkRange("P", in.P, 0, math.Inf(1)),
		checkRange("K", in.K, 0, math.Inf(1)),
		checkRange("ph", in.PH, 0, 14),
	)
}

// FertilizerPrediction is the backend's fertilizer recommendation.
type FertilizerPrediction struct {
	Fertilizer string `json:"fertilizer"`
}

func checkRange(field string, v, lo, hi float64) error {
	switch {
	case math.IsNaN(v):
		return &ValidationError{Field: field, Message: "must be a number"}
	case math.IsInf(hi, 1) && v < lo:
		return &ValidationError{Field: field, Message: fmt.Sprintf("must be at least %g", lo)}
	case v < lo || v > hi:
		return &ValidationError{Field: field, Message: fmt.Sprintf("must be between %g and %g", lo, hi)}
	}
	return nil
}

// PredictCrop asks the backend for the best crop for in.
func (c *Client) PredictCrop(ctx context.Context, in CropInput) (*CropPrediction, error) {
	if err := in.Validate(); err != nil {
		return nil, err
	}
	var out CropPrediction
	if err := c.postJSON(ctx, "/api/crop", in, &out, true); err != nil {
		return nil, fmt.Errorf("crop prediction failed: %w", err)
	}
	if out.Crop == "" {
		return nil, errors.New("crop prediction failed: empty result")
	}
	return &out, nil
}

// PredictFertilizer asks the backend for a fertilizer recommendation.
func (c *Client) PredictFertilizer(ctx context.Context, in FertilizerInput) (*FertilizerPrediction, error) {
	if err := in.Validate(); err != nil {
		return nil, err
	}
	var out FertilizerPrediction
	if err := c.postJSON(ctx, "/api/fertilizer", in, &out, true); err != nil {
		return nil, fmt.Errorf("fertilizer prediction failed: %w", err)
	}
	if out.Fertilizer == "" {
		return nil, errors.New("fertilizer prediction failed: empty result")
	}
	return &out, nil
}
