package mailgun

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strconv"
	"time"
)

var ErrBadSignature = errors.New("invalid webhook signature")

// VerifySignature checks the timestamp/token/signature triple Mailgun attaches
// to webhook deliveries. A zero maxAge disables the freshness check.
func VerifySignature(signingKey, timestamp, token, signature string, now time.Time, maxAge time.Duration) error {
	if timestamp == "" || token == "" || signature == "" {
		return ErrBadSignature
	}
	expected := Sign(signingKey, timestamp, token)
	if !hmac.Equal([]byte(expected), []byte(signature)) {
		return ErrBadSignature
	}
	if maxAge > 0 {
		secs, err := strconv.ParseInt(timestamp, 10, 64)
		if err != nil {
			return ErrBadSignature
		}
		if now.Sub(time.Unix(secs, 0)) > maxAge {
			return ErrBadSignature
		}
	}
	return nil
}

// Sign computes the signature for timestamp and token.
func Sign(signingKey, timestamp, token string) string {
	mac := hmac.New(sha256.New, []byte(signingKey))
	mac.Write([]byte(timestamp + token))
	return hex.EncodeToString(mac.Sum(nil))
}
