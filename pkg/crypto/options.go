package crypto

import (
	"encoding/base64"
	"fmt"
)

// Options carries algorithm-specific parameters. Each supported mode has its
// own strongly-typed options struct; Validate is called once at submission so
// malformed options are rejected before any worker is occupied.
//
// Options values are serialized into cache fingerprints, so implementations
// must be plain data (JSON-marshalable, no function or channel fields).
type Options interface {
	Validate() error
}

// GCMOptions configures AES-256-GCM encryption.
type GCMOptions struct {
	// AAD is optional additional authenticated data. It is bound to the
	// ciphertext's authentication tag but not encrypted.
	AAD string `json:"aad,omitempty"`
}

// Validate implements Options.
func (o *GCMOptions) Validate() error {
	return nil
}

// CBCOptions configures AES-256-CBC encryption.
type CBCOptions struct {
	// IV is an optional base64-encoded 16-byte initialization vector.
	// When empty a random IV is generated per call, which is what callers
	// should do outside of deterministic test fixtures.
	IV string `json:"iv,omitempty"`
}

// Validate implements Options.
func (o *CBCOptions) Validate() error {
	return validateIV(o.IV)
}

// CTROptions configures AES-256-CTR encryption.
type CTROptions struct {
	// IV is an optional base64-encoded 16-byte initial counter block.
	IV string `json:"iv,omitempty"`
}

// Validate implements Options.
func (o *CTROptions) Validate() error {
	return validateIV(o.IV)
}

func validateIV(encoded string) error {
	if encoded == "" {
		return nil
	}
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return fmt.Errorf("invalid IV encoding: %w", err)
	}
	if len(raw) != 16 {
		return fmt.Errorf("IV must be 16 bytes, got %d", len(raw))
	}
	return nil
}
