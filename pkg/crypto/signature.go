package crypto

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
)

// SignHex returns the hex HMAC-SHA256 of payload.
func SignHex(secret, payload []byte) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

// EqualSignatures compares two encoded signatures in constant time.
func EqualSignatures(a, b string) bool {
	return hmac.Equal([]byte(a), []byte(b))
}

// HashToken returns the hex SHA-256 of a high-entropy secret such as an API
// key, for lookup without storing the secret.
func HashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}
