package policy

import (
	"crypto/ed25519"
	"fmt"

	"github.com/mr-tron/base58/base58"
	"golang.org/x/crypto/blake2b"
)

const identityIDPrefix = "ga1"

// BuildIdentityID returns a short, stable fingerprint of a base58 signing key.
func BuildIdentityID(pub string) (string, error) {
	raw, err := base58.Decode(pub)
	if err != nil || len(raw) != ed25519.PublicKeySize {
		return "", fmt.Errorf("invalid signing public key")
	}
	h := blake2b.Sum256(raw)
	return identityIDPrefix + base58.Encode(h[:20]), nil
}

func VerifyIdentityID(identityID, pub string) (bool, error) {
	expected, err := BuildIdentityID(pub)
	if err != nil {
		return false, err
	}
	return identityID == expected, nil
}
