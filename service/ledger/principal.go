package ledger

import (
	"fmt"
	"strings"

	"github.com/aviate-labs/agent-go/principal"
)

// MaxPrincipalLength is the maximum number of raw bytes in a principal.
const MaxPrincipalLength = 29

// minPrincipalTextLength is the number of base32 characters in the
// encoding of the empty principal ("aaaaa-aa").
const minPrincipalTextLength = 7

// Principal identifies an actor on the ledger (a user, a canister, or the
// anonymous caller). It is supplied by the session layer and never mutated.
// The zero value is the management principal ("aaaaa-aa").
type Principal struct {
	raw string
}

var (
	// AnonymousPrincipal is the identity of unauthenticated callers.
	AnonymousPrincipal = fromAgent(principal.AnonymousID)

	// ManagementPrincipal is the empty principal.
	ManagementPrincipal = Principal{}
)

// PrincipalFromBytes wraps raw principal bytes.
func PrincipalFromBytes(b []byte) (Principal, error) {
	if len(b) > MaxPrincipalLength {
		return Principal{}, fmt.Errorf("%w: %d bytes exceeds maximum of %d", ErrInvalidPrincipal, len(b), MaxPrincipalLength)
	}
	return Principal{raw: string(b)}, nil
}

// PrincipalFromText parses the textual principal encoding: dash-separated
// groups of five lowercase base32 characters over crc32(bytes) || bytes.
// Only the canonical form is accepted.
func PrincipalFromText(text string) (Principal, error) {
	if text == "" {
		return Principal{}, fmt.Errorf("%w: empty text", ErrInvalidPrincipal)
	}
	// Shorter than the 4-byte checksum alone.
	if len(strings.ReplaceAll(text, "-", "")) < minPrincipalTextLength {
		return Principal{}, fmt.Errorf("%w: %q is too short", ErrInvalidPrincipal, text)
	}

	decoded, err := principal.Decode(text)
	if err != nil {
		return Principal{}, fmt.Errorf("%w: %q: %v", ErrInvalidPrincipal, text, err)
	}
	p, err := PrincipalFromBytes(decoded.Raw)
	if err != nil {
		return Principal{}, err
	}
	if p.String() != text {
		return Principal{}, fmt.Errorf("%w: %q is not in canonical form", ErrInvalidPrincipal, text)
	}
	return p, nil
}

// MustPrincipalFromText is like PrincipalFromText but panics on error.
func MustPrincipalFromText(text string) Principal {
	p, err := PrincipalFromText(text)
	if err != nil {
		panic(err)
	}
	return p
}

// Bytes returns a copy of the raw principal bytes.
func (p Principal) Bytes() []byte {
	return []byte(p.raw)
}

// IsAnonymous reports whether p is the anonymous principal.
func (p Principal) IsAnonymous() bool {
	return p == AnonymousPrincipal
}

// String returns the canonical textual encoding.
func (p Principal) String() string {
	return p.agent().Encode()
}

func (p Principal) agent() principal.Principal {
	return principal.Principal{Raw: []byte(p.raw)}
}

func fromAgent(p principal.Principal) Principal {
	return Principal{raw: string(p.Raw)}
}

// MarshalText implements encoding.TextMarshaler.
func (p Principal) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (p *Principal) UnmarshalText(text []byte) error {
	parsed, err := PrincipalFromText(string(text))
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}
