// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package i18n holds the DeepAgro translation dictionaries.
//
// Dictionaries are YAML files embedded from locales/. Nested keys are
// flattened with dots, so nav: {home: Home} is looked up as "nav.home".
// A missing key falls back to English and then to the key itself.
//
// # Usage
//
//	cat := i18n.Default()
//	lang := cat.Match(r.Header.Get("Accept-Language"))
//	fmt.Println(cat.T(lang, "best_crop", "crop", "Rice"))
package i18n
