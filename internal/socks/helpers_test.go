package socks

import (
	"encoding/hex"
	"strings"
	"testing"
)

// unhex decodes space-separated hex; quoted runs like "example.com" can be
// spliced in by the caller with append.
func unhex(t *testing.T, s string) []byte {
	t.Helper()
	b, err := hex.DecodeString(strings.ReplaceAll(s, " ", ""))
	if err != nil {
		t.Fatalf("bad hex %q: %v", s, err)
	}
	return b
}

func cat(parts ...[]byte) []byte {
	var b []byte
	for _, p := range parts {
		b = append(b, p...)
	}
	return b
}
