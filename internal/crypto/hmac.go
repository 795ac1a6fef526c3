package crypto

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"strconv"
	"time"
)

// Relay request headers.
const (
	HeaderAPIKey    = "X-Relay-Key"
	HeaderTimestamp = "X-Relay-Timestamp"
	HeaderSignature = "X-Relay-Signature"
)

// RelayAuth signs HTTP requests to the bundle relay with an API key and
// shared secret.
type RelayAuth struct {
	Key    string
	Secret string
}

// Headers returns the auth headers for a request at the current time.
func (a RelayAuth) Headers(method, path string, body []byte) map[string]string {
	return a.HeadersAt(method, path, body, time.Now().Unix())
}

// HeadersAt is Headers with a caller-supplied Unix timestamp. The signature
// is base64(HMAC-SHA256(secret, timestamp + method + path + body)).
func (a RelayAuth) HeadersAt(method, path string, body []byte, unixTS int64) map[string]string {
	ts := strconv.FormatInt(unixTS, 10)
	return map[string]string{
		HeaderAPIKey:    a.Key,
		HeaderTimestamp: ts,
		HeaderSignature: sign([]byte(a.Secret), ts+method+path+string(body)),
	}
}

// Verify checks a signature produced by HeadersAt in constant time.
func (a RelayAuth) Verify(method, path string, body []byte, ts, signature string) bool {
	want := sign([]byte(a.Secret), ts+method+path+string(body))
	return hmac.Equal([]byte(want), []byte(signature))
}

// Enabled reports whether credentials are configured.
func (a RelayAuth) Enabled() bool {
	return a.Key != "" && a.Secret != ""
}

// String is safe to log.
func (a RelayAuth) String() string {
	redact := func(s string) string {
		if len(s) <= 4 {
			return "****"
		}
		return s[:4] + "****"
	}
	return fmt.Sprintf("RelayAuth{key=%s, secret=%s}", redact(a.Key), redact(a.Secret))
}

func sign(key []byte, message string) string {
	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(message))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}
