package webhooks

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"strings"
)

const (
	SignaturePrefix = "sha256="

	EncodingHex    = "hex"
	EncodingBase64 = "base64"
)

// Verify reports whether signatureHeader is "sha256=" followed by the hex
// HMAC-SHA256 of rawBody keyed by secret. Malformed headers and an empty
// secret report false.
func Verify(signatureHeader string, rawBody []byte, secret string) bool {
	if secret == "" {
		return false
	}
	if !strings.HasPrefix(signatureHeader, SignaturePrefix) {
		return false
	}
	return verifyEncoded(strings.TrimPrefix(signatureHeader, SignaturePrefix), rawBody, secret, EncodingHex)
}

// Sign returns the "sha256=<hex>" header value for rawBody.
func Sign(rawBody []byte, secret string) string {
	return SignaturePrefix + hex.EncodeToString(computeMAC(rawBody, secret))
}

func computeMAC(rawBody []byte, secret string) []byte {
	mac := hmac.New(sha256.New, []byte(secret))
	_, _ = mac.Write(rawBody)
	return mac.Sum(nil)
}

func verifyEncoded(signature string, rawBody []byte, secret string, encoding string) bool {
	if signature == "" || secret == "" {
		return false
	}
	var (
		decoded []byte
		err     error
	)
	switch strings.ToLower(strings.TrimSpace(encoding)) {
	case EncodingBase64:
		decoded, err = base64.StdEncoding.DecodeString(signature)
	default:
		decoded, err = hex.DecodeString(signature)
	}
	if err != nil || len(decoded) != sha256.Size {
		return false
	}
	return hmac.Equal(decoded, computeMAC(rawBody, secret))
}
