package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

const signaturePrefix = "sha256="

// VerifySignature checks an HMAC-SHA256 delivery signature
// (the X-Hub-Signature-256 scheme) over the raw payload bytes.
// The comparison is constant time.
func VerifySignature(payload []byte, signature, secret string) bool {
	if !strings.HasPrefix(signature, signaturePrefix) {
		return false
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	expected := signaturePrefix + hex.EncodeToString(mac.Sum(nil))

	return hmac.Equal([]byte(expected), []byte(signature))
}
