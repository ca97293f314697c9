package id

import (
	"encoding/base32"
	"strings"
	"testing"
)

func TestNewID(t *testing.T) {
	generated, err := NewID()
	if err != nil {
		t.Fatalf("new id: %v", err)
	}
	if len(generated) != 26 {
		t.Fatalf("id length = %d, want 26", len(generated))
	}
	for _, r := range generated {
		if (r < 'a' || r > 'z') && (r < '2' || r > '7') {
			t.Fatalf("id %q contains character %q outside lowercase base32", generated, r)
		}
	}

	decoded, err := base32.StdEncoding.WithPadding(base32.NoPadding).DecodeString(strings.ToUpper(generated))
	if err != nil {
		t.Fatalf("decode id: %v", err)
	}
	if len(decoded) != 16 {
		t.Fatalf("decoded to %d bytes, want 16", len(decoded))
	}
	if version := decoded[6] >> 4; version != 4 {
		t.Fatalf("uuid version = %d, want 4", version)
	}
	if variant := decoded[8] & 0xC0; variant != 0x80 {
		t.Fatalf("uuid variant = 0x%X, want 0x80", variant)
	}
}

func TestNewIDUnique(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 64; i++ {
		generated, err := NewID()
		if err != nil {
			t.Fatalf("new id: %v", err)
		}
		if seen[generated] {
			t.Fatalf("duplicate id %q", generated)
		}
		seen[generated] = true
	}
}
