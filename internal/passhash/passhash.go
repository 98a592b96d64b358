// Package passhash manages transfer password credentials. A credential is a
// self-describing tagged string so verification can dispatch on the scheme
// without an out-of-band flag:
//
//	bcrypt$<standard bcrypt hash>          current scheme
//	legacy-sha256$<hex sha256 digest>      superseded scheme, verify-only
//
// Legacy credentials remain verifiable; callers upgrade them opportunistically
// after a successful verification (see NeedsUpgrade).
package passhash

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

type Scheme string

const (
	SchemeBcrypt       Scheme = "bcrypt"
	SchemeLegacySHA256 Scheme = "legacy-sha256"
)

const sep = "$"

var (
	ErrEmptyPassword  = errors.New("empty password")
	ErrWeakPassword   = errors.New("password shorter than 6 characters")
	ErrBadCredential  = errors.New("malformed credential")
	ErrUnknownScheme  = errors.New("unknown credential scheme")
)

// Credential is a parsed password hash with its scheme tag.
type Credential struct {
	Scheme Scheme
	Hash   string
}

// String re-encodes the credential for storage.
func (c Credential) String() string {
	return string(c.Scheme) + sep + c.Hash
}

// Parse splits a stored credential string into scheme and hash.
func Parse(s string) (Credential, error) {
	tag, hash, found := strings.Cut(s, sep)
	if !found || hash == "" {
		return Credential{}, ErrBadCredential
	}
	switch Scheme(tag) {
	case SchemeBcrypt, SchemeLegacySHA256:
		return Credential{Scheme: Scheme(tag), Hash: hash}, nil
	default:
		return Credential{}, ErrUnknownScheme
	}
}

// ValidateStrength is the pure pre-check invoked before Hash, never after.
func ValidateStrength(plaintext string) error {
	if plaintext == "" {
		return ErrEmptyPassword
	}
	if len(plaintext) < 6 {
		return ErrWeakPassword
	}
	return nil
}

// Hash produces a current-scheme credential for the plaintext.
func Hash(plaintext string) (Credential, error) {
	if plaintext == "" {
		return Credential{}, ErrEmptyPassword
	}
	h, err := bcrypt.GenerateFromPassword([]byte(plaintext), bcrypt.DefaultCost)
	if err != nil {
		return Credential{}, err
	}
	return Credential{Scheme: SchemeBcrypt, Hash: string(h)}, nil
}

// Verify reports whether plaintext matches the credential. It returns a bare
// bool: a malformed credential, an unknown scheme, and a wrong password are
// indistinguishable to the caller, so no oracle leaks through error shapes.
func Verify(plaintext string, c Credential) bool {
	switch c.Scheme {
	case SchemeBcrypt:
		return bcrypt.CompareHashAndPassword([]byte(c.Hash), []byte(plaintext)) == nil
	case SchemeLegacySHA256:
		sum := sha256.Sum256([]byte(plaintext))
		want, err := hex.DecodeString(c.Hash)
		if err != nil {
			return false
		}
		return subtle.ConstantTimeCompare(sum[:], want) == 1
	default:
		return false
	}
}

// NeedsUpgrade reports whether a successful verification against this
// credential should trigger a re-hash under the current scheme.
func NeedsUpgrade(c Credential) bool {
	return c.Scheme == SchemeLegacySHA256
}

// LegacyCredential builds a legacy-scheme credential from a plaintext. Used
// by migrations of pre-existing digests and by tests seeding the upgrade path.
func LegacyCredential(plaintext string) Credential {
	sum := sha256.Sum256([]byte(plaintext))
	return Credential{Scheme: SchemeLegacySHA256, Hash: hex.EncodeToString(sum[:])}
}
