// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"io"
	"strconv"
	"strings"

	"golang.org/x/crypto/pbkdf2"
)

const (
	// PBKDF2Iterations is the work factor for new password hashes.
	PBKDF2Iterations = 100000

	// SaltSize is the random salt length in bytes.
	SaltSize = 16

	// KeySize is the derived key length in bytes.
	KeySize = 32

	hashScheme = "pbkdf2-sha256"
)

// HashPassword returns an encoded hash of the form
// pbkdf2-sha256$<iterations>$<salt>$<key>.
func HashPassword(password string) (string, error) {
	salt := make([]byte, SaltSize)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return "", fmt.Errorf("failed to generate salt: %w", err)
	}
	return encodeHash(password, salt, PBKDF2Iterations), nil
}

func encodeHash(password string, salt []byte, iterations int) string {
	key := pbkdf2.Key([]byte(password), salt, iterations, KeySize, sha256.New)
	return strings.Join([]string{
		hashScheme,
		strconv.Itoa(iterations),
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(key),
	}, "$")
}

// CheckPassword reports whether password matches the encoded hash.
// Malformed hashes never match.
func CheckPassword(encoded, password string) bool {
	parts := strings.Split(encoded, "$")
	if len(parts) != 4 || parts[0] != hashScheme {
		return false
	}
	iterations, err := strconv.Atoi(parts[1])
	if err != nil || iterations <= 0 {
		return false
	}
	salt, err := base64.RawStdEncoding.DecodeString(parts[2])
	if err != nil {
		return false
	}
	want, err := base64.RawStdEncoding.DecodeString(parts[3])
	if err != nil {
		return false
	}
	got := pbkdf2.Key([]byte(password), salt, iterations, len(want), sha256.New)
	return subtle.ConstantTimeCompare(got, want) == 1
}
