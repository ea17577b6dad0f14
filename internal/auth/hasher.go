package auth

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/argon2"
)

// ErrHashTimeout is returned when the hashing primitive does not finish
// before the caller's deadline.
var ErrHashTimeout = errors.New("credential hashing timed out")

// HasherParams holds the argon2id cost parameters. All of time cost, memory
// cost, parallelism, and output length are tunable.
type HasherParams struct {
	Time        uint32
	MemoryKiB   uint32
	Parallelism uint8
	KeyLength   uint32
	SaltLength  uint32
}

// DefaultHasherParams returns the baseline argon2id parameters
func DefaultHasherParams() HasherParams {
	return HasherParams{
		Time:        1,
		MemoryKiB:   64 * 1024,
		Parallelism: 4,
		KeyLength:   32,
		SaltLength:  16,
	}
}

// CredentialHasher produces and verifies stored credential hashes. Its input
// is a client-derived pre-hash, never a raw password; the server hashes it
// again with argon2id before storage.
type CredentialHasher struct {
	params HasherParams
}

// NewCredentialHasher creates a CredentialHasher with the given parameters.
// Zero-valued fields fall back to the defaults.
func NewCredentialHasher(params HasherParams) *CredentialHasher {
	defaults := DefaultHasherParams()
	if params.Time == 0 {
		params.Time = defaults.Time
	}
	if params.MemoryKiB == 0 {
		params.MemoryKiB = defaults.MemoryKiB
	}
	if params.Parallelism == 0 {
		params.Parallelism = defaults.Parallelism
	}
	if params.KeyLength == 0 {
		params.KeyLength = defaults.KeyLength
	}
	if params.SaltLength == 0 {
		params.SaltLength = defaults.SaltLength
	}
	return &CredentialHasher{params: params}
}

// Hash derives a stored hash from a pre-hash using argon2id with a fresh
// random salt and returns it in the standard encoded form.
func (h *CredentialHasher) Hash(ctx context.Context, preHash string) (string, error) {
	salt := make([]byte, h.params.SaltLength)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("failed to generate hash salt: %w", err)
	}

	key, err := h.deriveKey(ctx, []byte(preHash), salt)
	if err != nil {
		return "", err
	}

	encoded := fmt.Sprintf("$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version,
		h.params.MemoryKiB,
		h.params.Time,
		h.params.Parallelism,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(key),
	)
	return encoded, nil
}

// Verify reports whether the pre-hash matches the stored hash. Decode and
// parameter errors verify false rather than surfacing; the comparison itself
// is constant-time. A deadline expiry is the one error returned, so callers
// can distinguish a slow hasher from a wrong credential.
func (h *CredentialHasher) Verify(ctx context.Context, storedHash, preHash string) (bool, error) {
	memory, time, parallelism, salt, key, ok := decodeStoredHash(storedHash)
	if !ok {
		return false, nil
	}

	verifier := &CredentialHasher{params: HasherParams{
		Time:        time,
		MemoryKiB:   memory,
		Parallelism: parallelism,
		KeyLength:   uint32(len(key)),
		SaltLength:  uint32(len(salt)),
	}}

	candidate, err := verifier.deriveKey(ctx, []byte(preHash), salt)
	if err != nil {
		return false, err
	}

	return subtle.ConstantTimeCompare(candidate, key) == 1, nil
}

// deriveKey runs argon2id off the calling goroutine so a caller deadline can
// bound the wait. The computation itself is not cancellable; an abandoned run
// finishes in the background and is discarded.
func (h *CredentialHasher) deriveKey(ctx context.Context, preHash, salt []byte) ([]byte, error) {
	done := make(chan []byte, 1)
	go func() {
		done <- argon2.IDKey(preHash, salt, h.params.Time, h.params.MemoryKiB, h.params.Parallelism, h.params.KeyLength)
	}()

	select {
	case key := <-done:
		return key, nil
	case <-ctx.Done():
		return nil, ErrHashTimeout
	}
}

// decodeStoredHash parses the $argon2id$v=..$m=..,t=..,p=..$salt$hash form.
func decodeStoredHash(encoded string) (memory, time uint32, parallelism uint8, salt, key []byte, ok bool) {
	parts := strings.Split(encoded, "$")
	if len(parts) != 6 || parts[1] != "argon2id" {
		return 0, 0, 0, nil, nil, false
	}

	var version int
	if _, err := fmt.Sscanf(parts[2], "v=%d", &version); err != nil || version != argon2.Version {
		return 0, 0, 0, nil, nil, false
	}

	var p uint32
	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &memory, &time, &p); err != nil {
		return 0, 0, 0, nil, nil, false
	}
	if p == 0 || p > 255 || time == 0 || memory == 0 {
		return 0, 0, 0, nil, nil, false
	}
	parallelism = uint8(p)

	var err error
	salt, err = base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil || len(salt) == 0 {
		return 0, 0, 0, nil, nil, false
	}
	key, err = base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil || len(key) == 0 {
		return 0, 0, 0, nil, nil, false
	}

	return memory, time, parallelism, salt, key, true
}
