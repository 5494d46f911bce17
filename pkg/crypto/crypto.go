// Package crypto defines the cryptographic primitive provider consumed by the
// scheduling and batching layers, along with a default implementation built on
// AES and the SHA-2 family.
//
// The control-plane packages (scheduler, batch, client) treat a Provider as an
// opaque collaborator: they never interpret cryptographic semantics, they only
// route data, keys and options to it and relay its results. The default
// provider derives AES-256 keys from caller passphrases with PBKDF2 or
// Argon2id and supports GCM, CBC and CTR modes.
package crypto

import "context"

// OpKind identifies the kind of cryptographic operation being requested.
type OpKind string

const (
	OpEncrypt OpKind = "encrypt"
	OpDecrypt OpKind = "decrypt"
)

// Supported algorithm identifiers.
const (
	AlgorithmAES256GCM = "aes-256-gcm"
	AlgorithmAES256CBC = "aes-256-cbc"
	AlgorithmAES256CTR = "aes-256-ctr"

	HashSHA256 = "sha256"
	HashSHA512 = "sha512"
)

// EncryptResult holds the outcome of an encryption call.
type EncryptResult struct {
	Success   bool   `json:"success"`
	Data      string `json:"data,omitempty"`
	Error     string `json:"error,omitempty"`
	Algorithm string `json:"algorithm"`
	Mode      string `json:"mode,omitempty"`
	IV        string `json:"iv,omitempty"`
}

// DecryptResult holds the outcome of a decryption call.
type DecryptResult struct {
	Success bool   `json:"success"`
	Data    string `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
}

// HashResult holds the outcome of a hash or HMAC call.
type HashResult struct {
	Success   bool   `json:"success"`
	Hash      string `json:"hash,omitempty"`
	Error     string `json:"error,omitempty"`
	Algorithm string `json:"algorithm"`
}

// Provider is the primitive boundary between the control plane and the actual
// cryptography. Implementations must be safe for concurrent use: the scheduler
// invokes a single Provider from multiple workers at once.
//
// Encrypt and Decrypt honor context cancellation by failing fast; a provider
// must not keep computing after ctx is done.
type Provider interface {
	Encrypt(ctx context.Context, data, key, algorithm string, opts Options) EncryptResult
	Decrypt(ctx context.Context, data, key, algorithm string, opts Options) DecryptResult
	Hash(data, algorithm string) HashResult
	HMAC(data, key, algorithm string) HashResult
}
