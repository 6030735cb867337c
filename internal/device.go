package internal

import (
	"encoding/hex"

	"github.com/google/uuid"
	"golang.org/x/crypto/blake2b"
)

// NewDeviceID returns a random identifier for a client installation.
func NewDeviceID() string {
	return uuid.NewString()
}

// Fingerprint returns a short, stable, non-reversible tag for a secret such as a bearer
// token or session token, suitable for logs.
func Fingerprint(secret string) string {
	if secret == "" {
		return ""
	}
	sum := blake2b.Sum256([]byte(secret))
	return hex.EncodeToString(sum[:6])
}
