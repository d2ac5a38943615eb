// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package storage persists DeepAgro accounts, profiles and activity history
// in a local SQLite database (modernc.org/sqlite, no cgo).
//
// # Key Types
//
//   - Store: the database handle; all methods take a context
//   - User / Session: accounts and hashed session tokens
//   - Profile: farmer profile and notification preferences
//   - Record: one history entry (crop, fertilizer, disease or chat)
//
// # Usage
//
//	store, err := storage.Open(path)
//	if err != nil {
//	    return err
//	}
//	defer store.Close()
//
//	id, err := store.AddHistory(ctx, &storage.Record{
//	    UserID: user.ID,
//	    Type:   storage.RecordCrop,
//	    Title:  "Crop prediction",
//	    Result: "rice",
//	})
//
// Lookups that find nothing return ErrNotFound; unique violations return
// ErrDuplicate.
package storage
