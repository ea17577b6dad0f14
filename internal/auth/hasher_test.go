package auth

import (
	"context"
	"errors"
	"strings"
	"testing"

	"pgregory.net/rapid"
)

// fastHasherParams keeps argon2 cheap enough for unit tests
func fastHasherParams() HasherParams {
	return HasherParams{
		Time:        1,
		MemoryKiB:   8 * 1024,
		Parallelism: 1,
		KeyLength:   32,
		SaltLength:  16,
	}
}

func TestHashAndVerify(t *testing.T) {
	hasher := NewCredentialHasher(fastHasherParams())
	ctx := context.Background()

	stored, err := hasher.Hash(ctx, "client-pre-hash-value")
	if err != nil {
		t.Fatalf("Hash failed: %v", err)
	}

	if !strings.HasPrefix(stored, "$argon2id$") {
		t.Errorf("expected argon2id encoded form, got %q", stored)
	}

	match, err := hasher.Verify(ctx, stored, "client-pre-hash-value")
	if err != nil {
		t.Fatalf("Verify failed: %v", err)
	}
	if !match {
		t.Error("expected matching pre-hash to verify")
	}

	match, err = hasher.Verify(ctx, stored, "different-pre-hash")
	if err != nil {
		t.Fatalf("Verify failed: %v", err)
	}
	if match {
		t.Error("expected non-matching pre-hash to fail verification")
	}
}

func TestHashProducesUniqueSalts(t *testing.T) {
	hasher := NewCredentialHasher(fastHasherParams())
	ctx := context.Background()

	first, err := hasher.Hash(ctx, "same-input")
	if err != nil {
		t.Fatalf("Hash failed: %v", err)
	}
	second, err := hasher.Hash(ctx, "same-input")
	if err != nil {
		t.Fatalf("Hash failed: %v", err)
	}

	if first == second {
		t.Error("two hashes of the same input should differ by salt")
	}
}

func TestVerifyMalformedHash(t *testing.T) {
	hasher := NewCredentialHasher(fastHasherParams())
	ctx := context.Background()

	cases := []struct {
		name   string
		stored string
	}{
		{"empty", ""},
		{"garbage", "not-a-hash"},
		{"wrong algorithm", "$argon2i$v=19$m=8192,t=1,p=1$c2FsdA$aGFzaA"},
		{"missing sections", "$argon2id$v=19$m=8192,t=1,p=1$c2FsdA"},
		{"bad base64 salt", "$argon2id$v=19$m=8192,t=1,p=1$!!!$aGFzaA"},
		{"zero time cost", "$argon2id$v=19$m=8192,t=0,p=1$c2FsdA$aGFzaA"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			match, err := hasher.Verify(ctx, tc.stored, "anything")
			if err != nil {
				t.Fatalf("malformed hash should not error: %v", err)
			}
			if match {
				t.Error("malformed hash should never verify")
			}
		})
	}
}

func TestVerifyTamperedHash(t *testing.T) {
	hasher := NewCredentialHasher(fastHasherParams())
	ctx := context.Background()

	stored, err := hasher.Hash(ctx, "pre-hash")
	if err != nil {
		t.Fatalf("Hash failed: %v", err)
	}

	// Flip a character in the key section
	tampered := stored[:len(stored)-2] + flipChar(stored[len(stored)-2:])
	match, err := hasher.Verify(ctx, tampered, "pre-hash")
	if err != nil {
		t.Fatalf("Verify failed: %v", err)
	}
	if match {
		t.Error("tampered hash should not verify")
	}
}

func flipChar(s string) string {
	if s[0] == 'A' {
		return "B" + s[1:]
	}
	return "A" + s[1:]
}

func TestVerifyDeadlineExpiry(t *testing.T) {
	hasher := NewCredentialHasher(fastHasherParams())

	stored, err := hasher.Hash(context.Background(), "pre-hash")
	if err != nil {
		t.Fatalf("Hash failed: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = hasher.Verify(ctx, stored, "pre-hash")
	if !errors.Is(err, ErrHashTimeout) {
		t.Errorf("expected ErrHashTimeout, got %v", err)
	}
}

func TestHashRoundTripProperty(t *testing.T) {
	hasher := NewCredentialHasher(fastHasherParams())
	ctx := context.Background()

	rapid.Check(t, func(t *rapid.T) {
		preHash := rapid.StringN(1, 128, 256).Draw(t, "preHash")

		stored, err := hasher.Hash(ctx, preHash)
		if err != nil {
			t.Fatalf("Hash failed: %v", err)
		}

		match, err := hasher.Verify(ctx, stored, preHash)
		if err != nil {
			t.Fatalf("Verify failed: %v", err)
		}
		if !match {
			t.Fatalf("round trip failed for input %q", preHash)
		}
	})
}
