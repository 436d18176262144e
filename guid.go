// Copyright (c) 2025 paklib
// SPDX-License-Identifier: MIT

package pak

import "github.com/google/uuid"

// KeyGUID identifies an encryption key on archives with version >= 7. It is
// carried in the footer so a reader holding multiple candidate keys can
// pick the right one without trial-decrypting the index.
type KeyGUID [16]byte

// NewKeyGUID generates a random encryption-key GUID, the way the writer
// stamps a fresh archive when the caller doesn't supply one explicitly.
func NewKeyGUID() (KeyGUID, error) {
	id, err := uuid.NewRandom()
	if err != nil {
		return KeyGUID{}, err
	}
	var g KeyGUID
	copy(g[:], id[:])
	return g, nil
}

// String renders the GUID in standard 8-4-4-4-12 hex form.
func (g KeyGUID) String() string {
	id, err := uuid.FromBytes(g[:])
	if err != nil {
		return ""
	}
	return id.String()
}

// ParseKeyGUID parses a standard-form UUID string into a KeyGUID.
func ParseKeyGUID(s string) (KeyGUID, error) {
	id, err := uuid.Parse(s)
	if err != nil {
		return KeyGUID{}, err
	}
	var g KeyGUID
	copy(g[:], id[:])
	return g, nil
}

func (g KeyGUID) isZero() bool {
	return g == KeyGUID{}
}
