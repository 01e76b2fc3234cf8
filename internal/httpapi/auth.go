package httpapi

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

type authError struct {
	status  int
	code    string
	message string
}

func (e *authError) Error() string {
	return e.message
}

// verifyWebhookSignature checks a GitHub-style HMAC body signature
// header ("sha256=<hex digest>"). A bare hex digest without the
// algorithm prefix is accepted too, which is what some Tiki webhook
// plugins send.
func verifyWebhookSignature(secret, signature string, body []byte) *authError {
	if signature == "" {
		return &authError{status: 401, code: "unauthorized", message: "missing webhook signature header"}
	}
	signature = strings.ToLower(strings.TrimSpace(signature))
	signature = strings.TrimPrefix(signature, "sha256=")

	mac := hmac.New(sha256.New, []byte(secret))
	_, _ = mac.Write(body)
	expectedHex := hex.EncodeToString(mac.Sum(nil))
	if !hmac.Equal([]byte(signature), []byte(expectedHex)) {
		return &authError{status: 401, code: "unauthorized", message: "webhook signature mismatch"}
	}
	return nil
}
