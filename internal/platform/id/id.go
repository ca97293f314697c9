// Package id generates URL-safe identifiers for plans, steps, intents,
// and ledger entries.
//
// An identifier is the 16 bytes of a UUIDv4 encoded as unpadded base32
// (RFC 4648) and lowercased, giving a 26-character string that is safe in
// URLs, file paths, and database keys.
package id

import (
	"encoding/base32"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

var encoding = base32.StdEncoding.WithPadding(base32.NoPadding)

// NewID returns a fresh 26-character lowercase identifier.
func NewID() (string, error) {
	raw, err := uuid.NewRandom()
	if err != nil {
		return "", fmt.Errorf("generate uuid: %w", err)
	}
	return strings.ToLower(encoding.EncodeToString(raw[:])), nil
}
