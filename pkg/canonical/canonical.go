// Package canonical produces deterministic byte encodings of payloads for
// signing and ledger attestation. The encoding is JSON with lexicographically
// sorted object keys, no insignificant whitespace, and UTF-8 bytes, so the
// same payload always hashes and verifies identically regardless of the key
// order it was assembled in.
package canonical

import (
	"bytes"
	"crypto/ed25519"
	"crypto/sha256"
	"encoding/json"
	"fmt"
)

// Marshal returns the canonical byte encoding of v. Struct values are lowered
// through their JSON tags into maps first, which hands key ordering to the
// encoder (Go's JSON encoder writes map keys in sorted order).
func Marshal(v interface{}) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("canonical marshal: %w", err)
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var normalized interface{}
	if err := dec.Decode(&normalized); err != nil {
		return nil, fmt.Errorf("canonical normalize: %w", err)
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(normalized); err != nil {
		return nil, fmt.Errorf("canonical encode: %w", err)
	}

	// Encode appends a trailing newline.
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

// Hash returns the SHA-256 digest of the canonical encoding of v.
func Hash(v interface{}) ([]byte, error) {
	b, err := Marshal(v)
	if err != nil {
		return nil, err
	}
	sum := sha256.Sum256(b)
	return sum[:], nil
}

// VerifySignature checks an Ed25519 signature over message. Malformed input
// (wrong key or signature length, corrupt bytes) yields false, never a panic.
func VerifySignature(message, signature, publicKey []byte) bool {
	if len(publicKey) != ed25519.PublicKeySize {
		return false
	}
	if len(signature) != ed25519.SignatureSize {
		return false
	}
	return ed25519.Verify(ed25519.PublicKey(publicKey), message, signature)
}
