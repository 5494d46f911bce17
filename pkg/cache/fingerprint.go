package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// Fingerprint computes a fixed-length cache key from an operation's full
// identity: kind, algorithm, input data, key material and options. Fields are
// length-prefixed before hashing so distinct tuples can never collide by
// concatenation, and the digest keeps key material out of the cache map.
//
// A serialization failure is a real error: callers must fail the operation
// rather than silently bypass the cache.
func Fingerprint(op, algorithm, data, key string, opts interface{}) (string, error) {
	h := sha256.New()
	for _, field := range []string{op, algorithm, data, key} {
		fmt.Fprintf(h, "%d:", len(field))
		h.Write([]byte(field))
	}
	if opts != nil {
		encoded, err := json.Marshal(opts)
		if err != nil {
			return "", fmt.Errorf("failed to fingerprint options: %w", err)
		}
		fmt.Fprintf(h, "%d:", len(encoded))
		h.Write(encoded)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
