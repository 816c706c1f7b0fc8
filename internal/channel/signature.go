package channel

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
)

// VerifySignature reports whether hexSig is a valid lowercase-hex
// HMAC-SHA256 of body under any of secrets, supporting the platform's
// "up to two valid secrets during a rotation grace window" contract
// (spec §9, Ownership of external secrets).
func VerifySignature(body []byte, hexSig string, secrets []string) bool {
	if hexSig == "" || len(secrets) == 0 {
		return false
	}
	given, err := hex.DecodeString(hexSig)
	if err != nil {
		return false
	}
	for _, secret := range secrets {
		if secret == "" {
			continue
		}
		mac := hmac.New(sha256.New, []byte(secret))
		mac.Write(body)
		expected := mac.Sum(nil)
		if hmac.Equal(given, expected) {
			return true
		}
	}
	return false
}

// Sign computes the lowercase-hex HMAC-SHA256 of body under secret, used by
// outbound connectors (automation webhook connector) that sign their own
// requests with the same scheme providers use to sign webhooks to us.
func Sign(body []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}
