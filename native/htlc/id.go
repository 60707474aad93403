package htlc

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

// OrderID derives the content address of an order:
// sha256(secretHash || leftpad32(initiator)). The same initiator and
// commitment always map to the same identifier.
func OrderID(initiator [20]byte, secretHash [32]byte) [32]byte {
	buf := make([]byte, 0, 64)
	buf = append(buf, secretHash[:]...)
	buf = append(buf, common.LeftPadBytes(initiator[:], 32)...)
	return sha256.Sum256(buf)
}

// HashSecret returns the commitment for secret.
func HashSecret(secret []byte) [32]byte {
	return sha256.Sum256(secret)
}

// VerifySecret reports whether secret is a preimage of hash. Any preimage
// length is accepted.
func VerifySecret(secret []byte, hash [32]byte) bool {
	digest := HashSecret(secret)
	return subtle.ConstantTimeCompare(digest[:], hash[:]) == 1
}

// NewSecret draws a random preimage and returns it with its commitment.
func NewSecret() ([]byte, [32]byte, error) {
	secret := make([]byte, SecretLength)
	if _, err := rand.Read(secret); err != nil {
		return nil, [32]byte{}, fmt.Errorf("htlc: generate secret: %w", err)
	}
	return secret, HashSecret(secret), nil
}
