// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package server is the HTTP backend-for-frontend used by the DeepAgro
// mobile app.
//
// It proxies predictions and chat to the advisory backend, keeps accounts,
// profiles and history in the local store, and serves translations.
//
// # Endpoints
//
//   - GET    /health                 - Health check with counters
//   - POST   /api/auth/register      - Create an account
//   - POST   /api/auth/login         - Open a session (TOTP code when enrolled)
//   - POST   /api/auth/logout        - Close the current session
//   - POST   /api/auth/totp/enroll   - Enroll an authenticator app
//   - GET    /api/profile            - Farmer profile
//   - PUT    /api/profile            - Update the profile
//   - GET    /api/history?type=      - Prediction and chat history
//   - DELETE /api/history[/{id}]     - Delete history
//   - POST   /api/crop               - Crop recommendation
//   - POST   /api/fertilizer         - Fertilizer recommendation
//   - POST   /api/disease            - Leaf disease detection (multipart)
//   - POST   /api/chat/stream        - Chat reply as Server-Sent Events
//   - GET    /api/chat/ws            - Chat over a websocket
//   - GET    /api/i18n/{lang}        - Translation dictionary
//
// Errors use the body {"error":{"code":"...","message":"..."}}. Backend
// rate limits (429) and exhausted quotas (402) keep their status codes.
//
// # Key Types
//
//   - Server: HTTP server with routes and middleware
//   - Options: listen address, CORS origins, rate limit and chat settings
//   - Advisor: the advisory backend interface (implemented by advisor.Client)
//
// # Usage
//
//	srv := server.New(client, store, authSvc, server.OptionsFromConfig(cfg))
//	go srv.Start()
//	defer srv.Shutdown(ctx)
package server
