package checkout

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func signManifest(secret, dataID, requestID, ts string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	fmt.Fprintf(mac, "id:%s;request-id:%s;ts:%s;", dataID, requestID, ts)
	return hex.EncodeToString(mac.Sum(nil))
}

func TestSignatureVerifier_Verify(t *testing.T) {
	const (
		secret    = "super-secret"
		dataID    = "12345"
		requestID = "req-abc"
		ts        = "1700000000"
	)
	validV1 := signManifest(secret, dataID, requestID, ts)

	tests := []struct {
		name      string
		header    string
		requestID string
		dataID    string
		wantErr   bool
	}{
		{
			name:      "valid_signature",
			header:    fmt.Sprintf("ts=%s,v1=%s", ts, validV1),
			requestID: requestID,
			dataID:    dataID,
		},
		{
			name:      "valid_signature_with_spaces",
			header:    fmt.Sprintf("ts=%s, v1=%s", ts, validV1),
			requestID: requestID,
			dataID:    dataID,
		},
		{
			name:      "wrong_secret",
			header:    fmt.Sprintf("ts=%s,v1=%s", ts, signManifest("other-secret", dataID, requestID, ts)),
			requestID: requestID,
			dataID:    dataID,
			wantErr:   true,
		},
		{
			name:      "tampered_data_id",
			header:    fmt.Sprintf("ts=%s,v1=%s", ts, validV1),
			requestID: requestID,
			dataID:    "99999",
			wantErr:   true,
		},
		{
			name:      "tampered_timestamp",
			header:    fmt.Sprintf("ts=1700009999,v1=%s", validV1),
			requestID: requestID,
			dataID:    dataID,
			wantErr:   true,
		},
		{
			name:      "missing_header",
			header:    "",
			requestID: requestID,
			dataID:    dataID,
			wantErr:   true,
		},
		{
			name:      "missing_v1_part",
			header:    fmt.Sprintf("ts=%s", ts),
			requestID: requestID,
			dataID:    dataID,
			wantErr:   true,
		},
		{
			name:      "signature_not_hex",
			header:    fmt.Sprintf("ts=%s,v1=not-hex-at-all", ts),
			requestID: requestID,
			dataID:    dataID,
			wantErr:   true,
		},
	}

	v := NewSignatureVerifier(secret)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := v.Verify(tt.header, tt.requestID, tt.dataID)
			if tt.wantErr {
				assert.True(t, errors.Is(err, ErrWebhookAuth), "got %v", err)
				return
			}
			assert.NoError(t, err)
		})
	}
}
