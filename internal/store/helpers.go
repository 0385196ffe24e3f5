package store

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
)

func sha256Hex(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

// Sha256Hex is the exported form, used by content-hash callers outside the
// store package (e.g. legacy migration re-embedding).
func Sha256Hex(s string) string { return sha256Hex(s) }

func encodeMetadata(m map[string]string) string {
	if len(m) == 0 {
		return ""
	}
	b, err := json.Marshal(m)
	if err != nil {
		return ""
	}
	return string(b)
}

func decodeMetadata(s string) map[string]string {
	if s == "" {
		return nil
	}
	var m map[string]string
	if err := json.Unmarshal([]byte(s), &m); err != nil {
		return nil
	}
	return m
}
