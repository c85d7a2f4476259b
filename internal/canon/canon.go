// Package canon computes deterministic content hashes over record payloads.
// Payloads that are semantically identical but differ in map key order hash
// identically: encoding/json serializes map keys in sorted order at every
// nesting level, which makes the marshaled form canonical.
package canon

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// envelope fixes the serialization layout of the hashed fields. Struct fields
// marshal in declaration order, map keys in sorted order.
type envelope struct {
	Content string         `json:"content"`
	Payload map[string]any `json:"payload,omitempty"`
}

// Hash returns the hex-encoded SHA-256 digest of the canonical serialization
// of content plus payload.
func Hash(content string, payload map[string]any) (string, error) {
	data, err := json.Marshal(envelope{Content: content, Payload: payload})
	if err != nil {
		return "", fmt.Errorf("canonicalize payload: %w", err)
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}
