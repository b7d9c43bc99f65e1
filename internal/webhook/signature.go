package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"

	dErrors "intake/pkg/domain-errors"
)

// SignatureHeader carries "sha256=<hex hmac of the raw body>".
const SignatureHeader = "X-Hub-Signature-256"

const signaturePrefix = "sha256="

// Sign returns the header value for body under secret.
func Sign(secret, body []byte) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write(body)
	return signaturePrefix + hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature checks header against the HMAC-SHA256 of body in constant time.
func VerifySignature(secret, body []byte, header string) error {
	if len(secret) == 0 {
		return &dErrors.SignatureError{Reason: "webhook secret not configured"}
	}
	if header == "" {
		return &dErrors.SignatureError{Reason: "missing " + SignatureHeader}
	}
	if !strings.HasPrefix(header, signaturePrefix) {
		return &dErrors.SignatureError{Reason: "unsupported signature scheme"}
	}
	got, err := hex.DecodeString(strings.TrimPrefix(header, signaturePrefix))
	if err != nil {
		return &dErrors.SignatureError{Reason: "malformed signature"}
	}
	mac := hmac.New(sha256.New, secret)
	mac.Write(body)
	if !hmac.Equal(got, mac.Sum(nil)) {
		return &dErrors.SignatureError{Reason: "signature mismatch"}
	}
	return nil
}
