// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package advisor is the HTTP client for the DeepAgro advisory backend.
//
// It covers crop and fertilizer prediction, leaf-image disease detection and
// the chat assistant, both as a single reply and as a token stream consumed
// by the stream package.
//
// # Key Types
//
//   - Client: the backend client, safe for concurrent use
//   - CropInput / FertilizerInput: form values with range validation
//   - CropPrediction / FertilizerPrediction / DiseaseResult: responses
//
// # Usage
//
//	client := advisor.New(advisor.OptionsFromConfig(cfg.API))
//	res, err := client.ChatStream(ctx, conv.History(), stream.Options{
//	    OnUpdate: func(u stream.Update) { fmt.Print(u.Delta) },
//	})
//
// Prediction calls are paced by a client-side rate limiter and retried with
// exponential backoff on 5xx responses and transport errors. Chat calls are
// never retried.
package advisor
