// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// Notifications are the per-user alert toggles.
type Notifications struct {
	Push    bool `json:"push"`
	Weather bool `json:"weather"`
	Pest    bool `json:"pest"`
	Tips    bool `json:"tips"`
}

// Profile is the farmer profile shown on the profile screen.
type Profile struct {
	UserID        int64         `json:"-"`
	Name          string        `json:"name"`
	Role          string        `json:"role"`
	Location      string        `json:"location"`
	FarmSize      string        `json:"farm_size"`
	PrimaryCrops  []string      `json:"primary_crops"`
	Language      string        `json:"language"`
	Units         string        `json:"units"`
	Notifications Notifications `json:"notifications"`
	UpdatedAt     time.Time     `json:"updated_at"`
}

// DefaultProfile is what a new account sees before editing its profile.
func DefaultProfile(userID int64) *Profile {
	return &Profile{
		UserID:        userID,
		Role:          "Farmer",
		PrimaryCrops:  []string{},
		Language:      "en",
		Units:         "metric",
		Notifications: Notifications{Push: true, Weather: true, Pest: true, Tips: true},
	}
}

// GetProfile returns the stored profile or ErrNotFound.
func (s *Store) GetProfile(ctx context.Context, userID int64) (*Profile, error) {
	p := Profile{UserID: userID}
	var crops string
	var push, weather, pest, tips int
	var updated int64
	err := s.db.QueryRowContext(ctx,
		`SELECT name, role, location, farm_size, primary_crops, language, units,
		        notify_push, notify_weather, notify_pest, notify_tips, updated_at
		 FROM profiles WHERE user_id = ?`, userID).
		Scan(&p.Name, &p.Role, &p.Location, &p.FarmSize, &crops, &p.Language, &p.Units,
			&push, &weather, &pest, &tips, &updated)
	if err != nil {
		return nil, notFound(err)
	}
	if err := json.Unmarshal([]byte(crops), &p.PrimaryCrops); err != nil {
		return nil, fmt.Errorf("corrupt primary_crops for user %d: %w", userID, err)
	}
	p.Notifications = Notifications{Push: push == 1, Weather: weather == 1, Pest: pest == 1, Tips: tips == 1}
	p.UpdatedAt = fromMillis(updated)
	return &p, nil
}

// UpsertProfile creates or replaces the profile for p.UserID.
func (s *Store) UpsertProfile(ctx context.Context, p *Profile) error {
	if p.PrimaryCrops == nil {
		p.PrimaryCrops = []string{}
	}
	crops, err := json.Marshal(p.PrimaryCrops)
	if err != nil {
		return err
	}
	p.UpdatedAt = time.Now()

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO profiles (user_id, name, role, location, farm_size, primary_crops, language, units,
		                       notify_push, notify_weather, notify_pest, notify_tips, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(user_id) DO UPDATE SET
		     name = excluded.name, role = excluded.role, location = excluded.location,
		     farm_size = excluded.farm_size, primary_crops = excluded.primary_crops,
		     language = excluded.language, units = excluded.units,
		     notify_push = excluded.notify_push, notify_weather = excluded.notify_weather,
		     notify_pest = excluded.notify_pest, notify_tips = excluded.notify_tips,
		     updated_at = excluded.updated_at`,
		p.UserID, p.Name, p.Role, p.Location, p.FarmSize, string(crops), p.Language, p.Units,
		boolInt(p.Notifications.Push), boolInt(p.Notifications.Weather),
		boolInt(p.Notifications.Pest), boolInt(p.Notifications.Tips), toMillis(p.UpdatedAt))
	if err != nil {
		return fmt.Errorf("failed to save profile: %w", err)
	}
	return nil
}
