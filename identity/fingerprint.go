// Package identity holds the voter-facing side of the trust boundary: it
// verifies voters against the registry, simulates the OTP step and derives
// the anonymized fingerprint that is the only identity the ledger ever sees.
package identity

import (
	"crypto/sha256"
	"encoding/hex"
)

// DefaultSalt is used when no VOTER_HASH_SALT is configured. Deployments
// must override it; it exists so development setups produce stable
// fingerprints.
const DefaultSalt = "entekhablock-secure-voter-salt-2026"

// Fingerprint derives the anonymized, salted identifier stored on the chain
// in place of a voter's real identity. The salt prevents pre-computed hash
// attacks against the (low-entropy) national code space.
func Fingerprint(nationalCode, salt string) string {
	if salt == "" {
		salt = DefaultSalt
	}
	sum := sha256.Sum256([]byte(nationalCode + salt))
	return hex.EncodeToString(sum[:])
}
