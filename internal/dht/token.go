package dht

import (
	"crypto/rand"
	"crypto/sha1"
	"net/netip"
	"time"
)

// tokenRotationInterval is how often the token secret rotates, per spec.md
// §4.1.7: a token minted under the current secret remains acceptable until
// that secret has rotated out twice (between one and two intervals), by
// keeping the previous secret around too.
const tokenRotationInterval = 5 * time.Minute

// TokenManager mints and validates the opaque announce_peer tokens
// get_peers responses carry, proving to us that a peer recently asked
// about this address before announcing against it.
//
// Adapted from the teacher's internal/dht/token.go: the teacher rotated
// its secret off a background ticker goroutine, which the reactor model
// forbids inside a Controller collaborator (spec.md §5). Rotation here is
// instead driven by the Controller calling MaybeRotate from Tick, using
// the injected Clock so tests can rotate deterministically.
type TokenManager struct {
	clock Clock

	currentSecret  [20]byte
	previousSecret [20]byte
	rotatedAt      time.Time
}

// NewTokenManager seeds both secrets and starts the rotation window at
// clock.Now().
func NewTokenManager(clock Clock) *TokenManager {
	tm := &TokenManager{clock: clock, rotatedAt: clock.Now()}
	_, _ = rand.Read(tm.currentSecret[:])
	_, _ = rand.Read(tm.previousSecret[:])
	return tm
}

// Generate mints a token for addr under the current secret.
func (tm *TokenManager) Generate(addr netip.Addr) string {
	return tm.generateWithSecret(addr, tm.currentSecret)
}

// Validate reports whether token could have been minted for addr under
// either the current or the just-previous secret.
func (tm *TokenManager) Validate(addr netip.Addr, token string) bool {
	if token == "" {
		return false
	}
	return token == tm.generateWithSecret(addr, tm.currentSecret) ||
		token == tm.generateWithSecret(addr, tm.previousSecret)
}

func (tm *TokenManager) generateWithSecret(addr netip.Addr, secret [20]byte) string {
	h := sha1.New()
	if addr.Is4() {
		ip4 := addr.As4()
		h.Write(ip4[:])
	} else {
		ip16 := addr.As16()
		h.Write(ip16[:])
	}
	h.Write(secret[:])
	return string(h.Sum(nil))
}

// MaybeRotate advances the secret window if tokenRotationInterval has
// elapsed since the last rotation, returning whether it rotated. The
// Controller calls this once per Tick.
func (tm *TokenManager) MaybeRotate(now time.Time) bool {
	if now.Sub(tm.rotatedAt) < tokenRotationInterval {
		return false
	}

	tm.previousSecret = tm.currentSecret
	_, _ = rand.Read(tm.currentSecret[:])
	tm.rotatedAt = now
	return true
}
