// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package server

import (
	"errors"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/jeranaias/deepagro/internal/advisor"
	"github.com/jeranaias/deepagro/internal/storage"
)

// ============================================================================
// Advisory Proxies
// ============================================================================

// notice is the localized toast shown with a prediction result.
type notice struct {
	Title   string `json:"title"`
	Message string `json:"message"`
}

type cropResponse struct {
	*advisor.CropPrediction
	Confidence float64 `json:"confidence"`
	Notice     notice  `json:"notice"`
}

func (s *Server) handleCrop(w http.ResponseWriter, r *http.Request) {
	var in advisor.CropInput
	if !decodeJSON(w, r, &in) {
		return
	}
	pred, err := s.adv.PredictCrop(r.Context(), in)
	if err != nil {
		s.writeUpstreamError(w, r, err)
		return
	}
	s.stats.Predictions.Add(1)

	s.recordHistory(r, advisor.CropRecord(in, pred))

	tr := s.catalog.For(s.language(r))
	writeJSON(w, http.StatusOK, cropResponse{
		CropPrediction: pred,
		Confidence:     pred.Confidence(),
		Notice: notice{
			Title:   tr.T("prediction_complete"),
			Message: tr.T("best_crop", "crop", pred.Crop),
		},
	})
}

type fertilizerResponse struct {
	*advisor.FertilizerPrediction
	Notice notice `json:"notice"`
}

func (s *Server) handleFertilizer(w http.ResponseWriter, r *http.Request) {
	var in advisor.FertilizerInput
	if !decodeJSON(w, r, &in) {
		return
	}
	pred, err := s.adv.PredictFertilizer(r.Context(), in)
	if err != nil {
		s.writeUpstreamError(w, r, err)
		return
	}
	s.stats.Predictions.Add(1)

	s.recordHistory(r, advisor.FertilizerRecord(in, pred))

	tr := s.catalog.For(s.language(r))
	writeJSON(w, http.StatusOK, fertilizerResponse{
		FertilizerPrediction: pred,
		Notice: notice{
			Title:   tr.T("recommendation_ready"),
			Message: tr.T("best_fertilizer", "fertilizer", pred.Fertilizer),
		},
	})
}

type diseaseResponse struct {
	*advisor.DiseaseResult
	Notice notice `json:"notice"`
}

// handleDisease accepts a multipart upload with the leaf photo in "image".
func (s *Server) handleDisease(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, advisor.MaxImageSize+(1<<20))
	file, header, err := r.FormFile("image")
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writeError(w, http.StatusRequestEntityTooLarge, "too_large", "Image too large")
			return
		}
		writeError(w, http.StatusBadRequest, "invalid_input", "Expected a multipart image field")
		return
	}
	defer file.Close()

	res, err := s.adv.DetectDisease(r.Context(), header.Filename, file)
	if err != nil {
		s.writeUpstreamError(w, r, err)
		return
	}
	s.stats.Predictions.Add(1)

	s.recordHistory(r, advisor.DiseaseRecord(header.Filename, res))

	tr := s.catalog.For(s.language(r))
	writeJSON(w, http.StatusOK, diseaseResponse{
		DiseaseResult: res,
		Notice: notice{
			Title:   tr.T("analysis_complete"),
			Message: tr.T("disease_detected", "disease", res.Disease),
		},
	})
}

// recordHistory stores rec for signed-in users. Failures are logged only;
// the prediction itself succeeded.
func (s *Server) recordHistory(r *http.Request, rec *storage.Record) {
	u := UserFromContext(r.Context())
	if u == nil {
		return
	}
	rec.UserID = u.ID
	if _, err := s.store.AddHistory(r.Context(), rec); err != nil {
		zerolog.Ctx(r.Context()).Warn().Err(err).Str("type", string(rec.Type)).Msg("failed to record history")
	}
}
