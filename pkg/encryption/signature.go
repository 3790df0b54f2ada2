package encryption

import (
	"crypto/hmac"
	"crypto/sha256"
)

// SignHMACSHA256 returns the HMAC-SHA256 digest of payload under key.
func SignHMACSHA256(key, payload []byte) []byte {
	h := hmac.New(sha256.New, key)
	h.Write(payload)
	return h.Sum(nil)
}

// VerifyHMACSHA256 checks signature against the digest of payload in constant time.
func VerifyHMACSHA256(key, payload, signature []byte) bool {
	if len(signature) != sha256.Size {
		return false
	}
	return hmac.Equal(signature, SignHMACSHA256(key, payload))
}
