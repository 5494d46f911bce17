package crypto

import (
	"bytes"
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"hash"
	"io"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/pbkdf2"
)

// KDF selects the key derivation function used to turn caller passphrases
// into AES-256 keys.
type KDF string

const (
	KDFPBKDF2   KDF = "pbkdf2"
	KDFArgon2id KDF = "argon2id"
)

const (
	saltSize     = 16
	gcmNonceSize = 12
	blockIVSize  = 16
	keySize      = 32

	defaultPBKDF2Iterations = 10000

	// Argon2id parameters: 1 pass over 64MB with 4 lanes.
	argonTime    = 1
	argonMemory  = 64 * 1024
	argonThreads = 4
)

// ProviderConfig configures the default provider. The zero value selects
// PBKDF2 with the default iteration count.
type ProviderConfig struct {
	// KDF selects the passphrase key derivation function.
	KDF KDF

	// PBKDF2Iterations overrides the PBKDF2 iteration count. Ignored for
	// Argon2id.
	PBKDF2Iterations int
}

// DefaultProvider implements Provider with AES-256 in GCM, CBC and CTR modes.
// Every ciphertext embeds the random KDF salt and the IV/nonce, so a blob
// produced by Encrypt is decryptable by any provider configured with the same
// KDF settings. Safe for concurrent use.
type DefaultProvider struct {
	kdf        KDF
	iterations int
}

// NewDefaultProvider creates a provider with the given configuration.
func NewDefaultProvider(cfg ProviderConfig) (*DefaultProvider, error) {
	if cfg.KDF == "" {
		cfg.KDF = KDFPBKDF2
	}
	switch cfg.KDF {
	case KDFPBKDF2, KDFArgon2id:
	default:
		return nil, fmt.Errorf("unsupported KDF %q", cfg.KDF)
	}
	if cfg.PBKDF2Iterations <= 0 {
		cfg.PBKDF2Iterations = defaultPBKDF2Iterations
	}
	return &DefaultProvider{kdf: cfg.KDF, iterations: cfg.PBKDF2Iterations}, nil
}

// Encrypt encrypts data under a key derived from the passphrase. The returned
// Data field is base64(salt || iv || ciphertext).
func (p *DefaultProvider) Encrypt(ctx context.Context, data, key, algorithm string, opts Options) EncryptResult {
	fail := func(err error) EncryptResult {
		return EncryptResult{Algorithm: algorithm, Error: err.Error()}
	}

	if key == "" {
		return fail(fmt.Errorf("key must not be empty"))
	}
	if opts != nil {
		if err := opts.Validate(); err != nil {
			return fail(fmt.Errorf("invalid options: %w", err))
		}
	}
	if err := ctx.Err(); err != nil {
		return fail(err)
	}

	salt := make([]byte, saltSize)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return fail(fmt.Errorf("failed to generate salt: %w", err))
	}
	derived := p.deriveKey(key, salt)

	// Key derivation is the slow part; re-check cancellation before the
	// cipher work so a timed-out task stops here.
	if err := ctx.Err(); err != nil {
		return fail(err)
	}

	block, err := aes.NewCipher(derived)
	if err != nil {
		return fail(fmt.Errorf("failed to create cipher: %w", err))
	}

	switch algorithm {
	case AlgorithmAES256GCM:
		aad, err := gcmAAD(opts, algorithm)
		if err != nil {
			return fail(err)
		}
		gcm, err := cipher.NewGCM(block)
		if err != nil {
			return fail(fmt.Errorf("failed to create GCM: %w", err))
		}
		nonce := make([]byte, gcmNonceSize)
		if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
			return fail(fmt.Errorf("failed to generate nonce: %w", err))
		}
		sealed := gcm.Seal(nil, nonce, []byte(data), aad)
		blob := concat(salt, nonce, sealed)
		return EncryptResult{
			Success:   true,
			Data:      base64.StdEncoding.EncodeToString(blob),
			Algorithm: algorithm,
			Mode:      "gcm",
			IV:        base64.StdEncoding.EncodeToString(nonce),
		}

	case AlgorithmAES256CBC:
		iv, err := blockIV(opts, algorithm)
		if err != nil {
			return fail(err)
		}
		padded := pkcs7Pad([]byte(data), aes.BlockSize)
		out := make([]byte, len(padded))
		cipher.NewCBCEncrypter(block, iv).CryptBlocks(out, padded)
		blob := concat(salt, iv, out)
		return EncryptResult{
			Success:   true,
			Data:      base64.StdEncoding.EncodeToString(blob),
			Algorithm: algorithm,
			Mode:      "cbc",
			IV:        base64.StdEncoding.EncodeToString(iv),
		}

	case AlgorithmAES256CTR:
		iv, err := blockIV(opts, algorithm)
		if err != nil {
			return fail(err)
		}
		out := make([]byte, len(data))
		cipher.NewCTR(block, iv).XORKeyStream(out, []byte(data))
		blob := concat(salt, iv, out)
		return EncryptResult{
			Success:   true,
			Data:      base64.StdEncoding.EncodeToString(blob),
			Algorithm: algorithm,
			Mode:      "ctr",
			IV:        base64.StdEncoding.EncodeToString(iv),
		}

	default:
		return fail(fmt.Errorf("unsupported algorithm %q", algorithm))
	}
}

// Decrypt reverses Encrypt. The data argument is the base64 blob produced by
// Encrypt under the same provider configuration.
func (p *DefaultProvider) Decrypt(ctx context.Context, data, key, algorithm string, opts Options) DecryptResult {
	fail := func(err error) DecryptResult {
		return DecryptResult{Error: err.Error()}
	}

	if key == "" {
		return fail(fmt.Errorf("key must not be empty"))
	}
	if opts != nil {
		if err := opts.Validate(); err != nil {
			return fail(fmt.Errorf("invalid options: %w", err))
		}
	}
	blob, err := base64.StdEncoding.DecodeString(data)
	if err != nil {
		return fail(fmt.Errorf("invalid ciphertext encoding: %w", err))
	}
	if len(blob) < saltSize {
		return fail(fmt.Errorf("ciphertext too short"))
	}
	if err := ctx.Err(); err != nil {
		return fail(err)
	}

	salt, rest := blob[:saltSize], blob[saltSize:]
	derived := p.deriveKey(key, salt)

	if err := ctx.Err(); err != nil {
		return fail(err)
	}

	block, err := aes.NewCipher(derived)
	if err != nil {
		return fail(fmt.Errorf("failed to create cipher: %w", err))
	}

	switch algorithm {
	case AlgorithmAES256GCM:
		aad, err := gcmAAD(opts, algorithm)
		if err != nil {
			return fail(err)
		}
		if len(rest) < gcmNonceSize {
			return fail(fmt.Errorf("ciphertext too short"))
		}
		gcm, err := cipher.NewGCM(block)
		if err != nil {
			return fail(fmt.Errorf("failed to create GCM: %w", err))
		}
		nonce, sealed := rest[:gcmNonceSize], rest[gcmNonceSize:]
		plaintext, err := gcm.Open(nil, nonce, sealed, aad)
		if err != nil {
			return fail(fmt.Errorf("failed to decrypt: %w", err))
		}
		return DecryptResult{Success: true, Data: string(plaintext)}

	case AlgorithmAES256CBC:
		if len(rest) < blockIVSize || (len(rest)-blockIVSize)%aes.BlockSize != 0 {
			return fail(fmt.Errorf("malformed ciphertext"))
		}
		iv, ct := rest[:blockIVSize], rest[blockIVSize:]
		out := make([]byte, len(ct))
		cipher.NewCBCDecrypter(block, iv).CryptBlocks(out, ct)
		plaintext, err := pkcs7Unpad(out, aes.BlockSize)
		if err != nil {
			return fail(fmt.Errorf("failed to decrypt: %w", err))
		}
		return DecryptResult{Success: true, Data: string(plaintext)}

	case AlgorithmAES256CTR:
		if len(rest) < blockIVSize {
			return fail(fmt.Errorf("ciphertext too short"))
		}
		iv, ct := rest[:blockIVSize], rest[blockIVSize:]
		out := make([]byte, len(ct))
		cipher.NewCTR(block, iv).XORKeyStream(out, ct)
		return DecryptResult{Success: true, Data: string(out)}

	default:
		return fail(fmt.Errorf("unsupported algorithm %q", algorithm))
	}
}

// Hash computes a hex-encoded digest of data.
func (p *DefaultProvider) Hash(data, algorithm string) HashResult {
	h, err := newHash(algorithm)
	if err != nil {
		return HashResult{Algorithm: algorithm, Error: err.Error()}
	}
	h.Write([]byte(data))
	return HashResult{
		Success:   true,
		Hash:      hex.EncodeToString(h.Sum(nil)),
		Algorithm: algorithm,
	}
}

// HMAC computes a hex-encoded keyed digest of data.
func (p *DefaultProvider) HMAC(data, key, algorithm string) HashResult {
	if key == "" {
		return HashResult{Algorithm: algorithm, Error: "key must not be empty"}
	}
	newFn, err := hashConstructor(algorithm)
	if err != nil {
		return HashResult{Algorithm: algorithm, Error: err.Error()}
	}
	mac := hmac.New(newFn, []byte(key))
	mac.Write([]byte(data))
	return HashResult{
		Success:   true,
		Hash:      hex.EncodeToString(mac.Sum(nil)),
		Algorithm: algorithm,
	}
}

func (p *DefaultProvider) deriveKey(key string, salt []byte) []byte {
	if p.kdf == KDFArgon2id {
		return argon2.IDKey([]byte(key), salt, argonTime, argonMemory, argonThreads, keySize)
	}
	return pbkdf2.Key([]byte(key), salt, p.iterations, keySize, sha256.New)
}

func newHash(algorithm string) (hash.Hash, error) {
	newFn, err := hashConstructor(algorithm)
	if err != nil {
		return nil, err
	}
	return newFn(), nil
}

func hashConstructor(algorithm string) (func() hash.Hash, error) {
	switch algorithm {
	case HashSHA256:
		return sha256.New, nil
	case HashSHA512:
		return sha512.New, nil
	default:
		return nil, fmt.Errorf("unsupported hash algorithm %q", algorithm)
	}
}

func gcmAAD(opts Options, algorithm string) ([]byte, error) {
	if opts == nil {
		return nil, nil
	}
	gcmOpts, ok := opts.(*GCMOptions)
	if !ok {
		return nil, fmt.Errorf("options type %T not valid for %s", opts, algorithm)
	}
	if gcmOpts.AAD == "" {
		return nil, nil
	}
	return []byte(gcmOpts.AAD), nil
}

func blockIV(opts Options, algorithm string) ([]byte, error) {
	var encoded string
	switch o := opts.(type) {
	case nil:
	case *CBCOptions:
		if algorithm != AlgorithmAES256CBC {
			return nil, fmt.Errorf("options type %T not valid for %s", opts, algorithm)
		}
		encoded = o.IV
	case *CTROptions:
		if algorithm != AlgorithmAES256CTR {
			return nil, fmt.Errorf("options type %T not valid for %s", opts, algorithm)
		}
		encoded = o.IV
	default:
		return nil, fmt.Errorf("options type %T not valid for %s", opts, algorithm)
	}

	if encoded != "" {
		return base64.StdEncoding.DecodeString(encoded)
	}
	iv := make([]byte, blockIVSize)
	if _, err := io.ReadFull(rand.Reader, iv); err != nil {
		return nil, fmt.Errorf("failed to generate IV: %w", err)
	}
	return iv, nil
}

func pkcs7Pad(data []byte, blockSize int) []byte {
	padding := blockSize - len(data)%blockSize
	return append(data, bytes.Repeat([]byte{byte(padding)}, padding)...)
}

func pkcs7Unpad(data []byte, blockSize int) ([]byte, error) {
	if len(data) == 0 || len(data)%blockSize != 0 {
		return nil, fmt.Errorf("invalid padded length %d", len(data))
	}
	padding := int(data[len(data)-1])
	if padding == 0 || padding > blockSize {
		return nil, fmt.Errorf("invalid padding")
	}
	for _, b := range data[len(data)-padding:] {
		if int(b) != padding {
			return nil, fmt.Errorf("invalid padding")
		}
	}
	return data[:len(data)-padding], nil
}

func concat(parts ...[]byte) []byte {
	size := 0
	for _, p := range parts {
		size += len(p)
	}
	out := make([]byte, 0, size)
	for _, p := range parts {
		out = append(out, p...)
	}
	return out
}
