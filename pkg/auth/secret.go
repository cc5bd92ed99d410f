package auth

import (
	"crypto/sha256"
	"crypto/subtle"
)

// SecretHeader carries the shared webhook secret.
const SecretHeader = "X-Webhook-Secret"

// MatchSecret compares a presented secret with the configured one in
// constant time. An empty configured secret never matches.
func MatchSecret(presented, configured string) bool {
	if configured == "" {
		return false
	}
	// Hash first so the comparison time does not depend on length.
	p := sha256.Sum256([]byte(presented))
	c := sha256.Sum256([]byte(configured))
	return subtle.ConstantTimeCompare(p[:], c[:]) == 1
}
