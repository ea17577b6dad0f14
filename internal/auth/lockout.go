package auth

import (
	"time"

	"github.com/lockboxhq/lockbox/backend/internal/repository"
)

// AccessState classifies whether an account may attempt a login
type AccessState int

const (
	// AccessAllowed means the account may proceed with credential checks
	AccessAllowed AccessState = iota
	// AccessTemporarilyLocked means the account is inside an active lock window
	AccessTemporarilyLocked
	// AccessPermanentlyLocked means the account carries an admin-only lock
	AccessPermanentlyLocked
)

// AccessDecision is the outcome of evaluating the lockout state
type AccessDecision struct {
	State AccessState
	// Until is set for temporary locks
	Until *time.Time
	// LazyUnlock is set when the lock window has passed and the counters
	// should be reset before proceeding
	LazyUnlock bool
}

// LockoutPolicy is a pure state-transition function over the account's
// failed-attempt counters. Persistence of the transitions is the storage
// layer's concern; the policy itself holds no state beyond configuration.
type LockoutPolicy struct {
	MaxAttempts  int
	LockDuration time.Duration
}

// NewLockoutPolicy creates a LockoutPolicy with the given thresholds
func NewLockoutPolicy(maxAttempts int, lockDuration time.Duration) *LockoutPolicy {
	return &LockoutPolicy{
		MaxAttempts:  maxAttempts,
		LockDuration: lockDuration,
	}
}

// OnFailedAttempt computes the state after one more failed attempt. When the
// new count reaches the threshold the account enters a lock window.
func (p *LockoutPolicy) OnFailedAttempt(account *repository.Account, now time.Time) repository.FailedLoginUpdate {
	update := repository.FailedLoginUpdate{
		FailedLoginAttempts: account.FailedLoginAttempts + 1,
		LastFailedLoginAt:   now,
		Locked:              account.Locked,
		LockedUntil:         account.LockedUntil,
	}

	if update.FailedLoginAttempts >= p.MaxAttempts {
		until := now.Add(p.LockDuration)
		update.Locked = true
		update.LockedUntil = &until
	}

	return update
}

// CheckAccess evaluates the lockout state at a point in time. A temporary
// lock whose window has passed reads as allowed with LazyUnlock set; callers
// reset the counters before proceeding (there is no background sweep).
func (p *LockoutPolicy) CheckAccess(account *repository.Account, now time.Time) AccessDecision {
	if !account.Locked {
		return AccessDecision{State: AccessAllowed}
	}

	if account.LockedUntil == nil {
		return AccessDecision{State: AccessPermanentlyLocked}
	}

	if account.LockedUntil.After(now) {
		return AccessDecision{State: AccessTemporarilyLocked, Until: account.LockedUntil}
	}

	return AccessDecision{State: AccessAllowed, LazyUnlock: true}
}

// RemainingAttempts reports how many failed attempts remain before the
// account locks, never below zero.
func (p *LockoutPolicy) RemainingAttempts(failedAttempts int) int {
	remaining := p.MaxAttempts - failedAttempts
	if remaining < 0 {
		return 0
	}
	return remaining
}
