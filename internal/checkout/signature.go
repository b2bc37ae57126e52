package checkout

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
)

// ErrWebhookAuth marks a webhook whose signature did not verify. The
// request must be rejected without any state change.
var ErrWebhookAuth = errors.New("webhook signature verification failed")

// SignatureVerifier checks the provider's x-signature header: a
// "ts=<unix>,v1=<hex hmac>" pair where the HMAC-SHA256 is computed over
// the manifest "id:<data.id>;request-id:<x-request-id>;ts:<ts>;".
type SignatureVerifier struct {
	secret []byte
}

func NewSignatureVerifier(secret string) *SignatureVerifier {
	return &SignatureVerifier{secret: []byte(secret)}
}

func (v *SignatureVerifier) Verify(signatureHeader, requestID, dataID string) error {
	if signatureHeader == "" {
		return fmt.Errorf("%w: missing x-signature header", ErrWebhookAuth)
	}

	var ts, v1 string
	for _, part := range strings.Split(signatureHeader, ",") {
		key, value, found := strings.Cut(strings.TrimSpace(part), "=")
		if !found {
			continue
		}
		switch key {
		case "ts":
			ts = value
		case "v1":
			v1 = value
		}
	}
	if ts == "" || v1 == "" {
		return fmt.Errorf("%w: malformed x-signature header", ErrWebhookAuth)
	}

	expected, err := hex.DecodeString(v1)
	if err != nil {
		return fmt.Errorf("%w: signature is not hex", ErrWebhookAuth)
	}

	manifest := fmt.Sprintf("id:%s;request-id:%s;ts:%s;", dataID, requestID, ts)
	mac := hmac.New(sha256.New, v.secret)
	mac.Write([]byte(manifest))

	if !hmac.Equal(mac.Sum(nil), expected) {
		return fmt.Errorf("%w: signature mismatch", ErrWebhookAuth)
	}
	return nil
}
