package checksum

import (
	"crypto/hmac"
	"crypto/sha512"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/blake2b"
)

// Engine names accepted by ByName.
const (
	NameConcatSHA512 = "sha512-concat"
	NameHMACSHA512   = "hmac-sha512"
	NameBLAKE2b512   = "blake2b-512"
)

// Checksum errors.
var (
	ErrUnknownEngine = errors.New("checksum: unknown engine")
	ErrKeyTooLong    = errors.New("checksum: key exceeds 64 bytes")
	ErrMalformed     = errors.New("checksum: malformed hex digest")
)

// Engine computes a keyed digest over a canonical payload.
type Engine interface {
	// Name identifies the construction (one of the Name* constants).
	Name() string

	// Sum returns the digest of payload keyed with secret as uppercase hex.
	Sum(secret, payload []byte) (string, error)
}

// ConcatSHA512 is SHA-512(secret || payload), the construction intweb
// verifies today.
type ConcatSHA512 struct{}

// Name implements Engine.
func (ConcatSHA512) Name() string { return NameConcatSHA512 }

// Sum implements Engine. It never fails.
func (ConcatSHA512) Sum(secret, payload []byte) (string, error) {
	h := sha512.New()
	h.Write(secret)
	h.Write(payload)
	return encode(h.Sum(nil)), nil
}

// HMACSHA512 is HMAC-SHA512 keyed with the device secret.
type HMACSHA512 struct{}

// Name implements Engine.
func (HMACSHA512) Name() string { return NameHMACSHA512 }

// Sum implements Engine. It never fails.
func (HMACSHA512) Sum(secret, payload []byte) (string, error) {
	mac := hmac.New(sha512.New, secret)
	mac.Write(payload)
	return encode(mac.Sum(nil)), nil
}

// BLAKE2b512 is keyed BLAKE2b with a 512-bit digest. Keys are limited to
// 64 bytes by the BLAKE2 construction.
type BLAKE2b512 struct{}

// Name implements Engine.
func (BLAKE2b512) Name() string { return NameBLAKE2b512 }

// Sum implements Engine.
func (BLAKE2b512) Sum(secret, payload []byte) (string, error) {
	if len(secret) > blake2b.Size {
		return "", ErrKeyTooLong
	}
	h, err := blake2b.New512(secret)
	if err != nil {
		return "", fmt.Errorf("checksum: blake2b: %w", err)
	}
	h.Write(payload)
	return encode(h.Sum(nil)), nil
}

// Default is the engine used when none is configured.
var Default Engine = ConcatSHA512{}

// Compile-time interface satisfaction checks.
var (
	_ Engine = ConcatSHA512{}
	_ Engine = HMACSHA512{}
	_ Engine = BLAKE2b512{}
)

// Checksum returns the default intweb checksum of canonical keyed with secret.
func Checksum(secret, canonical []byte) string {
	sum, _ := ConcatSHA512{}.Sum(secret, canonical)
	return sum
}

// ByName returns the engine registered under name. An empty name selects
// Default.
func ByName(name string) (Engine, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "":
		return Default, nil
	case NameConcatSHA512:
		return ConcatSHA512{}, nil
	case NameHMACSHA512:
		return HMACSHA512{}, nil
	case NameBLAKE2b512:
		return BLAKE2b512{}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownEngine, name)
	}
}

// Verify reports whether want is the digest of payload under e and secret.
// Hex case is ignored and the comparison runs in constant time.
func Verify(e Engine, secret, payload []byte, want string) (bool, error) {
	wantRaw, err := hex.DecodeString(want)
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	got, err := e.Sum(secret, payload)
	if err != nil {
		return false, err
	}
	gotRaw, err := hex.DecodeString(got)
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return subtle.ConstantTimeCompare(gotRaw, wantRaw) == 1, nil
}

func encode(sum []byte) string {
	return strings.ToUpper(hex.EncodeToString(sum))
}
