// Package password verifies argon2id password hashes as bounded units of
// work: every verification carries a wall-clock ceiling and a memory-cost
// ceiling so a hostile or malformed hash cannot stall the intake loop.
package password

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"golang.org/x/crypto/argon2"
)

const algorithmID = "argon2id"

var (
	// ErrHashTooExpensive rejects hashes whose declared memory cost exceeds
	// the verifier's ceiling before any work is done.
	ErrHashTooExpensive = errors.New("password hash parameters exceed memory ceiling")

	// ErrVerifyTimeout reports a verification that breached its wall-clock
	// ceiling. The computation goroutine is abandoned; the caller is not.
	ErrVerifyTimeout = errors.New("password verification timed out")

	errMalformedHash = errors.New("malformed password hash")
)

// Params are the argon2id cost parameters used when hashing.
type Params struct {
	Memory      uint32
	Time        uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32
}

// DefaultParams match the profile used for stored credentials.
var DefaultParams = Params{
	Memory:      64 * 1024,
	Time:        2,
	Parallelism: 1,
	SaltLength:  16,
	KeyLength:   32,
}

// Verifier performs deadline- and memory-bounded password verification.
type Verifier struct {
	timeout     time.Duration
	maxMemoryKB uint32
}

// NewVerifier builds a Verifier. Zero values fall back to a 5s wall clock
// and a 50MB memory-cost ceiling.
func NewVerifier(timeout time.Duration, maxMemoryKB uint32) *Verifier {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	if maxMemoryKB == 0 {
		maxMemoryKB = 50 * 1024
	}
	return &Verifier{timeout: timeout, maxMemoryKB: maxMemoryKB}
}

type verifyResult struct {
	match bool
	err   error
}

// Verify compares password against a PHC-encoded argon2id hash. The
// computation runs in its own goroutine; Verify returns ErrVerifyTimeout if
// the ceiling or the caller's context expires first.
func (v *Verifier) Verify(ctx context.Context, password, encodedHash string) (bool, error) {
	parsed, err := parsePHC(encodedHash)
	if err != nil {
		return false, err
	}
	if parsed.memory > v.maxMemoryKB {
		return false, ErrHashTooExpensive
	}

	ctx, cancel := context.WithTimeout(ctx, v.timeout)
	defer cancel()

	ch := make(chan verifyResult, 1)
	go func() {
		computed := argon2.IDKey([]byte(password), parsed.salt, parsed.time, parsed.memory, parsed.parallelism, parsed.keyLength)
		match := subtle.ConstantTimeCompare(computed, parsed.hash) == 1
		ch <- verifyResult{match: match}
	}()

	select {
	case res := <-ch:
		return res.match, res.err
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return false, ErrVerifyTimeout
		}
		return false, ctx.Err()
	}
}

// Hash produces a PHC-encoded argon2id hash with the given params.
func Hash(password string, p Params) (string, error) {
	salt := make([]byte, p.SaltLength)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return "", err
	}

	hash := argon2.IDKey([]byte(password), salt, p.Time, p.Memory, p.Parallelism, p.KeyLength)

	return fmt.Sprintf(
		"$%s$v=%d$m=%d,t=%d,p=%d$%s$%s",
		algorithmID,
		argon2.Version,
		p.Memory,
		p.Time,
		p.Parallelism,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(hash),
	), nil
}

type parsedPHC struct {
	memory      uint32
	time        uint32
	parallelism uint8
	salt        []byte
	hash        []byte
	keyLength   uint32
}

func parsePHC(encoded string) (*parsedPHC, error) {
	parts := strings.Split(encoded, "$")
	if len(parts) != 6 || parts[1] != algorithmID {
		return nil, errMalformedHash
	}

	var version int
	if _, err := fmt.Sscanf(parts[2], "v=%d", &version); err != nil || version != argon2.Version {
		return nil, errMalformedHash
	}

	var p parsedPHC
	var parallelism uint32
	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &p.memory, &p.time, &parallelism); err != nil {
		return nil, errMalformedHash
	}
	if parallelism == 0 || parallelism > 255 || p.time == 0 || p.memory == 0 {
		return nil, errMalformedHash
	}
	p.parallelism = uint8(parallelism)

	salt, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil {
		return nil, errMalformedHash
	}
	hash, err := base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil {
		return nil, errMalformedHash
	}
	if len(salt) == 0 || len(hash) == 0 {
		return nil, errMalformedHash
	}

	p.salt = salt
	p.hash = hash
	p.keyLength = uint32(len(hash))
	return &p, nil
}
