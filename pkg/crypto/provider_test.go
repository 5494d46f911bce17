package crypto

import (
	"context"
	"encoding/base64"
	"strings"
	"testing"
)

// fastProvider keeps the KDF cheap so tests stay quick.
func fastProvider(t *testing.T) *DefaultProvider {
	t.Helper()
	p, err := NewDefaultProvider(ProviderConfig{PBKDF2Iterations: 16})
	if err != nil {
		t.Fatalf("NewDefaultProvider() error = %v", err)
	}
	return p
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	p := fastProvider(t)
	ctx := context.Background()

	for _, algorithm := range []string{AlgorithmAES256GCM, AlgorithmAES256CBC, AlgorithmAES256CTR} {
		t.Run(algorithm, func(t *testing.T) {
			enc := p.Encrypt(ctx, "secret payload", "passphrase", algorithm, nil)
			if !enc.Success {
				t.Fatalf("Encrypt() failed: %s", enc.Error)
			}
			if enc.Algorithm != algorithm {
				t.Errorf("Algorithm = %q, want %q", enc.Algorithm, algorithm)
			}
			if enc.IV == "" {
				t.Error("IV should be reported")
			}

			dec := p.Decrypt(ctx, enc.Data, "passphrase", algorithm, nil)
			if !dec.Success {
				t.Fatalf("Decrypt() failed: %s", dec.Error)
			}
			if dec.Data != "secret payload" {
				t.Errorf("Decrypt() = %q, want original plaintext", dec.Data)
			}
		})
	}
}

func TestDecryptWrongKey(t *testing.T) {
	p := fastProvider(t)
	ctx := context.Background()

	enc := p.Encrypt(ctx, "secret", "right", AlgorithmAES256GCM, nil)
	if !enc.Success {
		t.Fatalf("Encrypt() failed: %s", enc.Error)
	}

	dec := p.Decrypt(ctx, enc.Data, "wrong", AlgorithmAES256GCM, nil)
	if dec.Success {
		t.Error("Decrypt() with wrong key must fail authentication")
	}
	if dec.Error == "" {
		t.Error("failure must carry an error message")
	}
}

func TestGCMAADBinding(t *testing.T) {
	p := fastProvider(t)
	ctx := context.Background()

	enc := p.Encrypt(ctx, "secret", "key", AlgorithmAES256GCM, &GCMOptions{AAD: "header"})
	if !enc.Success {
		t.Fatalf("Encrypt() failed: %s", enc.Error)
	}

	if dec := p.Decrypt(ctx, enc.Data, "key", AlgorithmAES256GCM, &GCMOptions{AAD: "header"}); !dec.Success {
		t.Errorf("Decrypt() with matching AAD failed: %s", dec.Error)
	}
	if dec := p.Decrypt(ctx, enc.Data, "key", AlgorithmAES256GCM, &GCMOptions{AAD: "tampered"}); dec.Success {
		t.Error("Decrypt() with different AAD must fail")
	}
}

func TestArgon2Provider(t *testing.T) {
	if testing.Short() {
		t.Skip("argon2 derivation is memory-heavy")
	}
	p, err := NewDefaultProvider(ProviderConfig{KDF: KDFArgon2id})
	if err != nil {
		t.Fatalf("NewDefaultProvider() error = %v", err)
	}
	ctx := context.Background()

	enc := p.Encrypt(ctx, "secret", "key", AlgorithmAES256GCM, nil)
	if !enc.Success {
		t.Fatalf("Encrypt() failed: %s", enc.Error)
	}
	dec := p.Decrypt(ctx, enc.Data, "key", AlgorithmAES256GCM, nil)
	if !dec.Success || dec.Data != "secret" {
		t.Errorf("round trip failed: %+v", dec)
	}
}

func TestUnsupportedAlgorithm(t *testing.T) {
	p := fastProvider(t)
	enc := p.Encrypt(context.Background(), "data", "key", "rot13", nil)
	if enc.Success {
		t.Error("unsupported algorithm must fail")
	}
	if !strings.Contains(enc.Error, "unsupported algorithm") {
		t.Errorf("Error = %q, want unsupported algorithm message", enc.Error)
	}
}

func TestEmptyKeyRejected(t *testing.T) {
	p := fastProvider(t)
	if enc := p.Encrypt(context.Background(), "data", "", AlgorithmAES256GCM, nil); enc.Success {
		t.Error("empty key must be rejected")
	}
	if dec := p.Decrypt(context.Background(), "data", "", AlgorithmAES256GCM, nil); dec.Success {
		t.Error("empty key must be rejected")
	}
}

func TestCancelledContext(t *testing.T) {
	p := fastProvider(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	enc := p.Encrypt(ctx, "data", "key", AlgorithmAES256GCM, nil)
	if enc.Success {
		t.Error("cancelled context must fail the call")
	}
	if !strings.Contains(enc.Error, "context canceled") {
		t.Errorf("Error = %q, want context cancellation", enc.Error)
	}
}

func TestOptionsTypeMismatch(t *testing.T) {
	p := fastProvider(t)
	enc := p.Encrypt(context.Background(), "data", "key", AlgorithmAES256GCM, &CBCOptions{})
	if enc.Success {
		t.Error("CBC options on GCM must be rejected")
	}
}

func TestInvalidIVOption(t *testing.T) {
	cases := []struct {
		name string
		opts Options
	}{
		{"bad encoding", &CBCOptions{IV: "not base64!!"}},
		{"wrong length", &CBCOptions{IV: base64.StdEncoding.EncodeToString([]byte("short"))}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if err := tc.opts.Validate(); err == nil {
				t.Error("Validate() should reject invalid IV")
			}
		})
	}
}

func TestFixedIVRoundTrip(t *testing.T) {
	p := fastProvider(t)
	ctx := context.Background()
	iv := base64.StdEncoding.EncodeToString([]byte("0123456789abcdef"))

	enc := p.Encrypt(ctx, "secret", "key", AlgorithmAES256CTR, &CTROptions{IV: iv})
	if !enc.Success {
		t.Fatalf("Encrypt() failed: %s", enc.Error)
	}
	if enc.IV != iv {
		t.Errorf("IV = %q, want caller-provided IV echoed back", enc.IV)
	}
	dec := p.Decrypt(ctx, enc.Data, "key", AlgorithmAES256CTR, nil)
	if !dec.Success || dec.Data != "secret" {
		t.Errorf("round trip failed: %+v", dec)
	}
}

func TestHashVectors(t *testing.T) {
	p := fastProvider(t)

	res := p.Hash("abc", HashSHA256)
	if !res.Success {
		t.Fatalf("Hash() failed: %s", res.Error)
	}
	want := "ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad"
	if res.Hash != want {
		t.Errorf("Hash(abc) = %s, want %s", res.Hash, want)
	}

	if res := p.Hash("abc", "md5"); res.Success {
		t.Error("unsupported hash algorithm must fail")
	}
}

func TestHMACVector(t *testing.T) {
	p := fastProvider(t)

	res := p.HMAC("The quick brown fox jumps over the lazy dog", "key", HashSHA256)
	if !res.Success {
		t.Fatalf("HMAC() failed: %s", res.Error)
	}
	want := "f7bc83f430538424b13298e6aa6fb143ef4d59a14946175997479dbc2d1a3cd8"
	if res.Hash != want {
		t.Errorf("HMAC = %s, want %s", res.Hash, want)
	}

	if res := p.HMAC("data", "", HashSHA256); res.Success {
		t.Error("empty HMAC key must be rejected")
	}
}

func TestEmptyPlaintext(t *testing.T) {
	p := fastProvider(t)
	ctx := context.Background()

	for _, algorithm := range []string{AlgorithmAES256GCM, AlgorithmAES256CBC, AlgorithmAES256CTR} {
		enc := p.Encrypt(ctx, "", "key", algorithm, nil)
		if !enc.Success {
			t.Fatalf("%s: Encrypt(empty) failed: %s", algorithm, enc.Error)
		}
		dec := p.Decrypt(ctx, enc.Data, "key", algorithm, nil)
		if !dec.Success || dec.Data != "" {
			t.Errorf("%s: empty plaintext round trip failed: %+v", algorithm, dec)
		}
	}
}

func TestMalformedCiphertext(t *testing.T) {
	p := fastProvider(t)
	ctx := context.Background()

	if dec := p.Decrypt(ctx, "!!!not-base64!!!", "key", AlgorithmAES256GCM, nil); dec.Success {
		t.Error("invalid encoding must fail")
	}
	short := base64.StdEncoding.EncodeToString([]byte("tiny"))
	if dec := p.Decrypt(ctx, short, "key", AlgorithmAES256GCM, nil); dec.Success {
		t.Error("truncated blob must fail")
	}
}
