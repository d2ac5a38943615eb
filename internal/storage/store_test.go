// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package storage

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "sub", "deepagro.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func createTestUser(t *testing.T, s *Store, email string) *User {
	t.Helper()
	u := &User{Email: email, Name: "Ravi", PasswordHash: "hash"}
	require.NoError(t, s.CreateUser(context.Background(), u))
	return u
}

func TestOpenAppliesSchema(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Ping(ctx))
	v, err := s.SchemaVersion(ctx)
	require.NoError(t, err)
	assert.Equal(t, SchemaVersion, v)

	// Reopening an existing database is a no-op for the schema.
	path := s.Path()
	require.NoError(t, s.Close())
	s2, err := Open(path)
	require.NoError(t, err)
	defer s2.Close()
	v, err = s2.SchemaVersion(ctx)
	require.NoError(t, err)
	assert.Equal(t, SchemaVersion, v)
}

func TestUsers(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	u := createTestUser(t, s, " Ravi@Example.com ")
	assert.NotZero(t, u.ID)
	assert.Equal(t, "Ravi@Example.com", u.Email)

	got, err := s.UserByEmail(ctx, "ravi@example.com")
	require.NoError(t, err)
	assert.Equal(t, u.ID, got.ID)
	assert.Equal(t, "Ravi", got.Name)
	assert.False(t, got.MFAEnabled())
	assert.True(t, got.LockedUntil.IsZero())

	err = s.CreateUser(ctx, &User{Email: "RAVI@example.com", PasswordHash: "x"})
	assert.True(t, errors.Is(err, ErrDuplicate), "got %v", err)

	_, err = s.UserByEmail(ctx, "nobody@example.com")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = s.UserByID(ctx, 9999)
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, s.UpdatePassword(ctx, u.ID, "new-hash"))
	require.NoError(t, s.SetTOTPSecret(ctx, u.ID, "JBSWY3DPEHPK3PXP"))
	until := time.Now().Add(15 * time.Minute).Truncate(time.Millisecond)
	require.NoError(t, s.SetLoginState(ctx, u.ID, 3, until))

	got, err = s.UserByID(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, "new-hash", got.PasswordHash)
	assert.True(t, got.MFAEnabled())
	assert.Equal(t, 3, got.FailedLogins)
	assert.True(t, until.Equal(got.LockedUntil))

	assert.ErrorIs(t, s.UpdatePassword(ctx, 9999, "x"), ErrNotFound)
}

func TestSessions(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	u := createTestUser(t, s, "a@example.com")
	now := time.Now()

	live := &Session{TokenHash: "live", UserID: u.ID, ExpiresAt: now.Add(time.Hour)}
	old := &Session{TokenHash: "old", UserID: u.ID, ExpiresAt: now.Add(-time.Hour)}
	require.NoError(t, s.CreateSession(ctx, live))
	require.NoError(t, s.CreateSession(ctx, old))
	assert.ErrorIs(t, s.CreateSession(ctx, &Session{TokenHash: "live", UserID: u.ID}), ErrDuplicate)

	got, err := s.SessionByToken(ctx, "live")
	require.NoError(t, err)
	assert.Equal(t, u.ID, got.UserID)
	assert.False(t, got.Expired(now))
	assert.True(t, got.Expired(now.Add(2*time.Hour)))

	n, err := s.DeleteExpiredSessions(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	_, err = s.SessionByToken(ctx, "old")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, s.DeleteSession(ctx, "live"))
	require.NoError(t, s.DeleteSession(ctx, "live"))
	_, err = s.SessionByToken(ctx, "live")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, s.CreateSession(ctx, &Session{TokenHash: "a", UserID: u.ID, ExpiresAt: now.Add(time.Hour)}))
	require.NoError(t, s.CreateSession(ctx, &Session{TokenHash: "b", UserID: u.ID, ExpiresAt: now.Add(time.Hour)}))
	require.NoError(t, s.DeleteUserSessions(ctx, u.ID))
	_, err = s.SessionByToken(ctx, "a")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestProfiles(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	u := createTestUser(t, s, "p@example.com")

	_, err := s.GetProfile(ctx, u.ID)
	assert.ErrorIs(t, err, ErrNotFound)

	p := DefaultProfile(u.ID)
	p.Name = "Lakshmi"
	p.Location = "Guntur, AP"
	p.FarmSize = "5 acres"
	p.PrimaryCrops = []string{"Rice", "Cotton"}
	p.Notifications.Tips = false
	require.NoError(t, s.UpsertProfile(ctx, p))

	got, err := s.GetProfile(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, "Lakshmi", got.Name)
	assert.Equal(t, "Farmer", got.Role)
	assert.Equal(t, []string{"Rice", "Cotton"}, got.PrimaryCrops)
	assert.Equal(t, Notifications{Push: true, Weather: true, Pest: true, Tips: false}, got.Notifications)
	assert.False(t, got.UpdatedAt.IsZero())

	got.Language = "te"
	got.PrimaryCrops = nil
	require.NoError(t, s.UpsertProfile(ctx, got))

	got, err = s.GetProfile(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, "te", got.Language)
	assert.Empty(t, got.PrimaryCrops)
	assert.NotNil(t, got.PrimaryCrops)
}

func TestHistory(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	u := createTestUser(t, s, "h@example.com")
	other := createTestUser(t, s, "other@example.com")
	base := time.Now().Add(-time.Hour)

	add := func(userID int64, typ RecordType, title string, offset time.Duration) int64 {
		id, err := s.AddHistory(ctx, &Record{
			UserID: userID, Type: typ, Title: title, Result: "ok",
			CreatedAt: base.Add(offset),
		})
		require.NoError(t, err)
		return id
	}
	add(u.ID, RecordCrop, "crop-1", 0)
	fert := add(u.ID, RecordFertilizer, "fert-1", time.Minute)
	add(u.ID, RecordCrop, "crop-2", 2*time.Minute)
	add(other.ID, RecordCrop, "theirs", 3*time.Minute)

	id, err := s.AddHistory(ctx, &Record{
		UserID: u.ID, Type: RecordDisease, Title: "Leaf", Result: "Tomato Early Blight",
		Confidence: 0.87, Details: map[string]string{"file": "leaf.jpg"},
		CreatedAt: base.Add(4 * time.Minute),
	})
	require.NoError(t, err)

	_, err = s.AddHistory(ctx, &Record{UserID: u.ID, Type: "weather"})
	assert.Error(t, err)

	all, err := s.ListHistory(ctx, u.ID, "", 0)
	require.NoError(t, err)
	require.Len(t, all, 4)
	assert.Equal(t, id, all[0].ID)
	assert.Equal(t, 0.87, all[0].Confidence)
	assert.Equal(t, "leaf.jpg", all[0].Details["file"])
	assert.Equal(t, "crop-2", all[1].Title)
	assert.Equal(t, "crop-1", all[3].Title)

	crops, err := s.ListHistory(ctx, u.ID, RecordCrop, 0)
	require.NoError(t, err)
	assert.Len(t, crops, 2)

	limited, err := s.ListHistory(ctx, u.ID, "", 2)
	require.NoError(t, err)
	assert.Len(t, limited, 2)

	require.NoError(t, s.DeleteHistory(ctx, u.ID, fert))
	assert.ErrorIs(t, s.DeleteHistory(ctx, u.ID, fert), ErrNotFound)
	assert.ErrorIs(t, s.DeleteHistory(ctx, other.ID, id), ErrNotFound)

	n, err := s.ClearHistory(ctx, u.ID, RecordCrop)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	n, err = s.ClearHistory(ctx, u.ID, "")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	theirs, err := s.ListHistory(ctx, other.ID, "", 0)
	require.NoError(t, err)
	assert.Len(t, theirs, 1)
}

func TestParseRecordType(t *testing.T) {
	for in, want := range map[string]RecordType{"": "", "all": "", "Crop": RecordCrop, " chat ": RecordChat} {
		got, err := ParseRecordType(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	_, err := ParseRecordType("weather")
	assert.Error(t, err)
}
