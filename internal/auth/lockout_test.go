package auth

import (
	"testing"
	"time"

	"github.com/lockboxhq/lockbox/backend/internal/repository"
	"pgregory.net/rapid"
)

func TestOnFailedAttemptLocksAtThreshold(t *testing.T) {
	policy := NewLockoutPolicy(5, 30*time.Minute)
	now := time.Now().UTC()

	account := &repository.Account{FailedLoginAttempts: 3}
	update := policy.OnFailedAttempt(account, now)
	if update.FailedLoginAttempts != 4 {
		t.Errorf("expected 4 attempts, got %d", update.FailedLoginAttempts)
	}
	if update.Locked {
		t.Error("account should not lock below the threshold")
	}

	account.FailedLoginAttempts = 4
	update = policy.OnFailedAttempt(account, now)
	if update.FailedLoginAttempts != 5 {
		t.Errorf("expected 5 attempts, got %d", update.FailedLoginAttempts)
	}
	if !update.Locked {
		t.Error("account should lock at the threshold")
	}
	if update.LockedUntil == nil {
		t.Fatal("temporary lock should carry an unlock time")
	}
	want := now.Add(30 * time.Minute)
	if !update.LockedUntil.Equal(want) {
		t.Errorf("expected locked until %v, got %v", want, update.LockedUntil)
	}
}

func TestCheckAccessStates(t *testing.T) {
	policy := NewLockoutPolicy(5, 30*time.Minute)
	now := time.Now().UTC()
	past := now.Add(-time.Minute)
	future := now.Add(time.Minute)

	cases := []struct {
		name       string
		account    repository.Account
		wantState  AccessState
		wantUnlock bool
	}{
		{
			name:      "unlocked account",
			account:   repository.Account{},
			wantState: AccessAllowed,
		},
		{
			name:      "active temporary lock",
			account:   repository.Account{Locked: true, LockedUntil: &future},
			wantState: AccessTemporarilyLocked,
		},
		{
			name:       "expired temporary lock",
			account:    repository.Account{Locked: true, LockedUntil: &past},
			wantState:  AccessAllowed,
			wantUnlock: true,
		},
		{
			name:      "permanent lock",
			account:   repository.Account{Locked: true},
			wantState: AccessPermanentlyLocked,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			decision := policy.CheckAccess(&tc.account, now)
			if decision.State != tc.wantState {
				t.Errorf("expected state %v, got %v", tc.wantState, decision.State)
			}
			if decision.LazyUnlock != tc.wantUnlock {
				t.Errorf("expected LazyUnlock=%v, got %v", tc.wantUnlock, decision.LazyUnlock)
			}
		})
	}
}

func TestCheckAccessTemporaryLockCarriesUntil(t *testing.T) {
	policy := NewLockoutPolicy(5, 30*time.Minute)
	now := time.Now().UTC()
	until := now.Add(10 * time.Minute)

	decision := policy.CheckAccess(&repository.Account{Locked: true, LockedUntil: &until}, now)
	if decision.Until == nil || !decision.Until.Equal(until) {
		t.Errorf("expected Until=%v, got %v", until, decision.Until)
	}
}

func TestRemainingAttemptsNeverNegative(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		maxAttempts := rapid.IntRange(1, 20).Draw(t, "maxAttempts")
		failed := rapid.IntRange(0, 100).Draw(t, "failed")

		policy := NewLockoutPolicy(maxAttempts, 30*time.Minute)
		remaining := policy.RemainingAttempts(failed)

		if remaining < 0 {
			t.Fatalf("remaining attempts went negative: %d", remaining)
		}
		if failed < maxAttempts && remaining != maxAttempts-failed {
			t.Fatalf("expected %d remaining, got %d", maxAttempts-failed, remaining)
		}
		if failed >= maxAttempts && remaining != 0 {
			t.Fatalf("expected 0 remaining past the threshold, got %d", remaining)
		}
	})
}

func TestFailedAttemptSequenceLocksExactlyOnce(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		maxAttempts := rapid.IntRange(2, 10).Draw(t, "maxAttempts")
		policy := NewLockoutPolicy(maxAttempts, 30*time.Minute)
		now := time.Now().UTC()

		account := &repository.Account{}
		for i := 0; i < maxAttempts; i++ {
			update := policy.OnFailedAttempt(account, now)
			account.FailedLoginAttempts = update.FailedLoginAttempts
			account.Locked = update.Locked
			account.LockedUntil = update.LockedUntil

			lockedNow := i == maxAttempts-1
			if update.Locked != lockedNow {
				t.Fatalf("attempt %d: expected locked=%v, got %v", i+1, lockedNow, update.Locked)
			}
		}
	})
}
