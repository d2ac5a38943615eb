// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// RecordType is the kind of activity a history entry describes.
type RecordType string

const (
	RecordCrop       RecordType = "crop"
	RecordFertilizer RecordType = "fertilizer"
	RecordDisease    RecordType = "disease"
	RecordChat       RecordType = "chat"
)

// Valid reports whether t is a known record type.
func (t RecordType) Valid() bool {
	switch t {
	case RecordCrop, RecordFertilizer, RecordDisease, RecordChat:
		return true
	}
	return false
}

// ParseRecordType accepts a type name; "" and "all" mean no filter.
func ParseRecordType(s string) (RecordType, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" || s == "all" {
		return "", nil
	}
	t := RecordType(s)
	if !t.Valid() {
		return "", fmt.Errorf("unknown history type %q", s)
	}
	return t, nil
}

// Record is one history entry.
type Record struct {
	ID         int64             `json:"id"`
	UserID     int64             `json:"-"`
	Type       RecordType        `json:"type"`
	Title      string            `json:"title"`
	Result     string            `json:"result"`
	Confidence float64           `json:"confidence,omitempty"`
	Details    map[string]string `json:"details,omitempty"`
	CreatedAt  time.Time         `json:"created_at"`
}

// AddHistory inserts r and returns its ID.
func (s *Store) AddHistory(ctx context.Context, r *Record) (int64, error) {
	if !r.Type.Valid() {
		return 0, fmt.Errorf("invalid history type %q", r.Type)
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now()
	}
	details := []byte("{}")
	if len(r.Details) > 0 {
		var err error
		if details, err = json.Marshal(r.Details); err != nil {
			return 0, err
		}
	}

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO history (user_id, type, title, result, confidence, details, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		r.UserID, string(r.Type), r.Title, r.Result, r.Confidence, string(details), toMillis(r.CreatedAt))
	if err != nil {
		return 0, fmt.Errorf("failed to add history: %w", err)
	}
	r.ID, err = res.LastInsertId()
	return r.ID, err
}

// ListHistory returns a user's records newest first, optionally filtered by
// type. limit <= 0 means no limit.
func (s *Store) ListHistory(ctx context.Context, userID int64, typ RecordType, limit int) ([]Record, error) {
	query := `SELECT id, type, title, result, confidence, details, created_at
	          FROM history WHERE user_id = ?`
	args := []any{userID}
	if typ != "" {
		query += ` AND type = ?`
		args = append(args, string(typ))
	}
	query += ` ORDER BY created_at DESC, id DESC`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	records := make([]Record, 0)
	for rows.Next() {
		r := Record{UserID: userID}
		var typ, details string
		var created int64
		if err := rows.Scan(&r.ID, &typ, &r.Title, &r.Result, &r.Confidence, &details, &created); err != nil {
			return nil, err
		}
		r.Type = RecordType(typ)
		r.CreatedAt = fromMillis(created)
		if details != "" && details != "{}" {
			if err := json.Unmarshal([]byte(details), &r.Details); err != nil {
				return nil, fmt.Errorf("corrupt details for history %d: %w", r.ID, err)
			}
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

// DeleteHistory removes one of the user's records.
func (s *Store) DeleteHistory(ctx context.Context, userID, id int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM history WHERE id = ? AND user_id = ?`, id, userID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// ClearHistory removes all of a user's records, or only those of typ, and
// returns how many were removed.
func (s *Store) ClearHistory(ctx context.Context, userID int64, typ RecordType) (int64, error) {
	query := `DELETE FROM history WHERE user_id = ?`
	args := []any{userID}
	if typ != "" {
		query += ` AND type = ?`
		args = append(args, string(typ))
	}
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
