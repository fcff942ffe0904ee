// Package signature canonicalizes payloads and computes the HMAC-SHA256
// signatures carried in the X-Webhook-Signature header.
package signature

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strings"

	"github.com/hookline/hookline/internal/werrors"
)

// Prefix is the scheme tag on every signature value.
const Prefix = "sha256="

// Canonicalize returns the deterministic form of a payload. Valid JSON is
// re-emitted with all insignificant whitespace removed, keys kept in parse
// order. Anything else is returned verbatim. The result is a fixed point:
// canonicalizing twice yields the same bytes.
func Canonicalize(payload []byte) []byte {
	trimmed := bytes.TrimSpace(payload)
	if !json.Valid(trimmed) {
		return payload
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, trimmed); err != nil {
		return payload
	}
	return buf.Bytes()
}

// Sign computes "sha256=" + hex(HMAC-SHA256(secret, canonicalize(payload))).
func Sign(payload, secret []byte) (string, error) {
	if len(secret) == 0 {
		return "", werrors.E(werrors.KindSignatureInternal, "empty signing secret")
	}
	mac := hmac.New(sha256.New, secret)
	mac.Write(Canonicalize(payload))
	return Prefix + hex.EncodeToString(mac.Sum(nil)), nil
}

// Verify checks a provided signature against the expected one for payload.
// The comparison is constant-time. Malformed input is reported as an error
// rather than a plain false so callers can distinguish reject reasons.
func Verify(payload []byte, provided string, secret []byte, webhookName string) (bool, error) {
	if provided == "" {
		return false, werrors.E(werrors.KindMissingSignature, "signature header is empty").WithWebhook(webhookName)
	}
	if !strings.HasPrefix(provided, Prefix) {
		return false, werrors.E(werrors.KindInvalidSignatureFormat, "signature must start with "+Prefix).WithWebhook(webhookName)
	}
	expected, err := Sign(payload, secret)
	if err != nil {
		return false, err
	}
	return hmac.Equal([]byte(provided), []byte(expected)), nil
}
