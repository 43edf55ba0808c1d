package mesh

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"
)

// TokenAuthority derives and verifies device identity from the single shared
// secret. It is stateless: the same device id always re-derives the same
// token, so nothing needs to be stored server-side. The flip side is that an
// individual token cannot be revoked without rotating the secret, which
// invalidates every device at once.
type TokenAuthority struct {
	secret []byte
}

func NewTokenAuthority(secret string) *TokenAuthority {
	return &TokenAuthority{secret: []byte(secret)}
}

// DeviceID derives a fresh device id from registration inputs:
// hex(sha256(name-sourceAddr-unixMillis)) truncated to 16 characters.
// Collision-resistant, not guaranteed unique; the registry retries derivation
// on the off chance of a clash.
func (a *TokenAuthority) DeviceID(name, sourceAddr string, now time.Time) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s-%s-%d", name, sourceAddr, now.UnixMilli())))
	return hex.EncodeToString(sum[:])[:16]
}

// Token returns the device token for an id: hex(hmac-sha256(secret, id)).
func (a *TokenAuthority) Token(deviceID string) string {
	m := hmac.New(sha256.New, a.secret)
	m.Write([]byte(deviceID))
	return hex.EncodeToString(m.Sum(nil))
}

// VerifyToken checks a presented token against the derived one. A byte-length
// mismatch short-circuits to false before the constant-time comparison runs.
func (a *TokenAuthority) VerifyToken(deviceID, token string) bool {
	want := a.Token(deviceID)
	if len(token) != len(want) {
		return false
	}
	return hmac.Equal([]byte(token), []byte(want))
}

// Sign binds (from, payload) with hex(hmac-sha256(secret, from-payload)).
// Signatures are attached for downstream verification; the gatekeeper itself
// does not check them on receipt.
func (a *TokenAuthority) Sign(from string, payload []byte) string {
	m := hmac.New(sha256.New, a.secret)
	m.Write([]byte(from))
	m.Write([]byte("-"))
	m.Write(payload)
	return hex.EncodeToString(m.Sum(nil))
}

// IsAdmin reports whether the caller presented the raw shared secret.
// Plain equality, not constant time: the admin token is the secret itself,
// not a derived value.
func (a *TokenAuthority) IsAdmin(token string) bool {
	return token != "" && token == string(a.secret)
}
