// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package advisor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"path/filepath"
	"strings"
)

// MaxImageSize is the largest leaf photo accepted for disease detection.
const MaxImageSize = 10 * 1024 * 1024

// DiseaseResult is the backend's diagnosis of a leaf image.
type DiseaseResult struct {
	Disease    string  `json:"disease"`
	Confidence float64 `json:"confidence"`
}

// ReadImage reads at most MaxImageSize bytes from r and checks that they
// look like an image. It returns the data and its sniffed content type.
func ReadImage(r io.Reader) ([]byte, string, error) {
	data, err := io.ReadAll(io.LimitReader(r, MaxImageSize+1))
	if err != nil {
		return nil, "", fmt.Errorf("failed to read image: %w", err)
	}
	if len(data) == 0 {
		return nil, "", &ValidationError{Field: "image", Message: "file is empty"}
	}
	if len(data) > MaxImageSize {
		return nil, "", &ValidationError{Field: "image", Message: fmt.Sprintf("larger than %d MiB", MaxImageSize>>20)}
	}
	ct := http.DetectContentType(data)
	if !strings.HasPrefix(ct, "image/") {
		return nil, "", &ValidationError{Field: "image", Message: fmt.Sprintf("not an image (%s)", ct)}
	}
	return data, ct, nil
}

// DetectDisease uploads a leaf image as the multipart field "image".
func (c *Client) DetectDisease(ctx context.Context, filename string, r io.Reader) (*DiseaseResult, error) {
	data, ct, err := ReadImage(r)
	if err != nil {
		return nil, err
	}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="image"; filename=%q`, filepath.Base(filename)))
	h.Set("Content-Type", ct)
	part, err := mw.CreatePart(h)
	if err != nil {
		return nil, err
	}
	if _, err := part.Write(data); err != nil {
		return nil, err
	}
	if err := mw.Close(); err != nil {
		return nil, err
	}

	var out DiseaseResult
	if err := c.do(ctx, "/api/disease", mw.FormDataContentType(), body.Bytes(), &out, true); err != nil {
		return nil, fmt.Errorf("disease detection failed: %w", err)
	}
	if out.Disease == "" {
		return nil, errors.New("disease detection failed: empty result")
	}
	return &out, nil
}
