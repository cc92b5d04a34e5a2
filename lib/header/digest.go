package header

import (
	"crypto/hmac"
	"fmt"
	"strings"

	"github.com/zeebo/blake3"
	"golang.org/x/crypto/sha3"
)

// DigestAlgorithm selects the keyed hash used for the identity digest.
type DigestAlgorithm string

const (
	DigestBlake3 DigestAlgorithm = "blake3" // keyed BLAKE3 (default)
	DigestSHA3   DigestAlgorithm = "sha3"   // HMAC-SHA3-256
)

// maxDigestBits is the output size of both supported algorithms.
const maxDigestBits = 256

// blake3Context is the BLAKE3 key derivation context; the configured secret
// is the key material.
const blake3Context = "dfrag 2024-01-01 identity digest"

// ParseDigestAlgorithm converts a configuration string into a DigestAlgorithm.
func ParseDigestAlgorithm(s string) (DigestAlgorithm, error) {
	switch DigestAlgorithm(strings.ToLower(strings.TrimSpace(s))) {
	case DigestBlake3, "":
		return DigestBlake3, nil
	case DigestSHA3:
		return DigestSHA3, nil
	default:
		return "", fmt.Errorf("unknown digest algorithm %q (expected blake3 or sha3)", s)
	}
}

// digestFunc returns the full 256 bit keyed digest of an identity.
type digestFunc func(identity string) []byte

func newDigestFunc(alg DigestAlgorithm, key []byte) (digestFunc, error) {
	switch alg {
	case DigestBlake3, "":
		var derived [32]byte
		blake3.DeriveKey(blake3Context, key, derived[:])

		// validate the key once so that the per call error can be ignored
		if _, err := blake3.NewKeyed(derived[:]); err != nil {
			return nil, err
		}
		return func(identity string) []byte {
			h, _ := blake3.NewKeyed(derived[:])
			_, _ = h.Write([]byte(identity))
			return h.Sum(nil)
		}, nil

	case DigestSHA3:
		keyCopy := append([]byte(nil), key...)
		return func(identity string) []byte {
			mac := hmac.New(sha3.New256, keyCopy)
			_, _ = mac.Write([]byte(identity))
			return mac.Sum(nil)
		}, nil

	default:
		return nil, fmt.Errorf("unknown digest algorithm %q", alg)
	}
}
