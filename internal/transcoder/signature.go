package transcoder

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// SignatureHeader carries the HMAC of a request dispatched over HTTP, in the
// form "t=<unix seconds>,v1=<hex sha256>".
const SignatureHeader = "X-Streamist-Signature"

var (
	ErrSignatureMissing  = errors.New("signature not found")
	ErrSignatureMismatch = errors.New("signature mismatch")
	ErrSignatureExpired  = errors.New("signature timestamp outside tolerance")
)

func computeSignature(payload []byte, secret string, timestamp time.Time) string {
	mac := hmac.New(sha256.New, []byte(secret))
	_, _ = fmt.Fprintf(mac, "%d.", timestamp.Unix())
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

// Sign returns the signature header value for payload.
func Sign(payload []byte, secret string, timestamp time.Time) string {
	return fmt.Sprintf("t=%d,v1=%s", timestamp.Unix(), computeSignature(payload, secret, timestamp))
}

func parseSignature(header string) (string, time.Time, error) {
	var sig string
	var ts int64
	for _, part := range strings.Split(header, ",") {
		part = strings.TrimSpace(part)
		if val, ok := strings.CutPrefix(part, "t="); ok {
			n, err := strconv.ParseInt(val, 10, 64)
			if err != nil {
				return "", time.Time{}, fmt.Errorf("invalid timestamp: %w", err)
			}
			ts = n
		} else if val, ok := strings.CutPrefix(part, "v1="); ok {
			sig = val
		}
	}
	if sig == "" || ts == 0 {
		return "", time.Time{}, ErrSignatureMissing
	}
	return sig, time.Unix(ts, 0), nil
}

// Verify checks a signature header against payload. The timestamp must be
// within tolerance of now in either direction.
func Verify(header string, payload []byte, secret string, now time.Time, tolerance time.Duration) error {
	sig, ts, err := parseSignature(header)
	if err != nil {
		return err
	}
	if d := now.Sub(ts); d > tolerance || d < -tolerance {
		return ErrSignatureExpired
	}
	if !hmac.Equal([]byte(sig), []byte(computeSignature(payload, secret, ts))) {
		return ErrSignatureMismatch
	}
	return nil
}
