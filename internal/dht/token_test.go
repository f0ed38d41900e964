package dht

import (
	"testing"
	"time"
)

func TestTokenManager_ValidateAcceptsOwnGenerated(t *testing.T) {
	clock := NewFakeClock(time.Now())
	tm := NewTokenManager(clock)

	addr := mustAddr(t, "1.2.3.4:5000").Addr()
	token := tm.Generate(addr)

	if !tm.Validate(addr, token) {
		t.Fatalf("expected a freshly generated token to validate")
	}
}

func TestTokenManager_ValidateRejectsWrongAddr(t *testing.T) {
	clock := NewFakeClock(time.Now())
	tm := NewTokenManager(clock)

	token := tm.Generate(mustAddr(t, "1.2.3.4:5000").Addr())
	if tm.Validate(mustAddr(t, "5.6.7.8:5000").Addr(), token) {
		t.Fatalf("expected a token minted for a different address to be rejected")
	}
}

func TestTokenManager_ValidateAcceptsPreviousSecretAfterOneRotation(t *testing.T) {
	now := time.Now()
	clock := NewFakeClock(now)
	tm := NewTokenManager(clock)

	addr := mustAddr(t, "1.2.3.4:5000").Addr()
	token := tm.Generate(addr)

	clock.Advance(tokenRotationInterval + time.Second)
	if !tm.MaybeRotate(clock.Now()) {
		t.Fatalf("expected rotation to occur once the interval elapses")
	}

	if !tm.Validate(addr, token) {
		t.Fatalf("expected a token minted under the now-previous secret to still validate")
	}
}

func TestTokenManager_ValidateRejectsAfterTwoRotations(t *testing.T) {
	now := time.Now()
	clock := NewFakeClock(now)
	tm := NewTokenManager(clock)

	addr := mustAddr(t, "1.2.3.4:5000").Addr()
	token := tm.Generate(addr)

	clock.Advance(tokenRotationInterval + time.Second)
	tm.MaybeRotate(clock.Now())
	clock.Advance(tokenRotationInterval + time.Second)
	tm.MaybeRotate(clock.Now())

	if tm.Validate(addr, token) {
		t.Fatalf("expected a token to expire after its secret rotates out twice")
	}
}

func TestTokenManager_MaybeRotateNoopsBeforeInterval(t *testing.T) {
	now := time.Now()
	clock := NewFakeClock(now)
	tm := NewTokenManager(clock)

	clock.Advance(tokenRotationInterval - time.Second)
	if tm.MaybeRotate(clock.Now()) {
		t.Fatalf("expected no rotation before the interval elapses")
	}
}
