package ledger

import (
	"encoding/base32"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"hash/crc32"
	"regexp"
	"strings"
)

// SubaccountLength is the fixed size of a subaccount.
const SubaccountLength = 32

// legacyAccountIDRegex matches the flat 64-hex-character account identifier
// used by older ledgers.
var legacyAccountIDRegex = regexp.MustCompile(`^[a-fA-F0-9]{64}$`)

// checksumEncoding renders the textual account checksum.
var checksumEncoding = base32.StdEncoding.WithPadding(base32.NoPadding)

// Subaccount distinguishes accounts that share an owner.
type Subaccount [SubaccountLength]byte

// IsZero reports whether s is the default (all-zero) subaccount.
func (s Subaccount) IsZero() bool {
	return s == Subaccount{}
}

// MarshalText encodes the subaccount as 64 hex characters.
func (s Subaccount) MarshalText() ([]byte, error) {
	return []byte(hex.EncodeToString(s[:])), nil
}

// UnmarshalText decodes a hex subaccount. Shorter inputs are left-padded
// with zeros, matching the textual account encoding.
func (s *Subaccount) UnmarshalText(text []byte) error {
	parsed, err := subaccountFromHex(string(text))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

func subaccountFromHex(h string) (Subaccount, error) {
	var s Subaccount
	if len(h) > 2*SubaccountLength {
		return s, fmt.Errorf("%w: subaccount %q is longer than %d bytes", ErrInvalidAddress, h, SubaccountLength)
	}
	if len(h)%2 == 1 {
		h = "0" + h
	}
	b, err := hex.DecodeString(h)
	if err != nil {
		return s, fmt.Errorf("%w: subaccount %q is not hex: %v", ErrInvalidAddress, h, err)
	}
	copy(s[SubaccountLength-len(b):], b)
	return s, nil
}

// Account is the addressable unit on the ledger: an owner and an optional
// subaccount. A nil Subaccount is the default (all-zero) subaccount.
type Account struct {
	Owner      Principal   `json:"owner"`
	Subaccount *Subaccount `json:"subaccount,omitempty"`
}

// FromIdentity returns the default account of p.
func FromIdentity(p Principal) Account {
	return Account{Owner: p}
}

// EffectiveSubaccount returns the subaccount with absent normalized to zero.
func (a Account) EffectiveSubaccount() Subaccount {
	if a.Subaccount == nil {
		return Subaccount{}
	}
	return *a.Subaccount
}

// IsDefaultSubaccount reports whether a uses the all-zero subaccount.
func (a Account) IsDefaultSubaccount() bool {
	return a.EffectiveSubaccount().IsZero()
}

// Equal reports whether a and b address the same ledger account.
func (a Account) Equal(b Account) bool {
	return a.Owner == b.Owner && a.EffectiveSubaccount() == b.EffectiveSubaccount()
}

// String returns the textual account encoding: the owner text for default
// accounts, otherwise "<owner>-<checksum>.<hex subaccount without leading zeros>".
func (a Account) String() string {
	if a.IsDefaultSubaccount() {
		return a.Owner.String()
	}
	sub := a.EffectiveSubaccount()
	return fmt.Sprintf("%s-%s.%s", a.Owner.String(), accountChecksum(a.Owner, sub), strings.TrimLeft(hex.EncodeToString(sub[:]), "0"))
}

func accountChecksum(owner Principal, sub Subaccount) string {
	buf := make([]byte, 0, len(owner.raw)+SubaccountLength)
	buf = append(buf, owner.raw...)
	buf = append(buf, sub[:]...)

	var sum [4]byte
	binary.BigEndian.PutUint32(sum[:], crc32.ChecksumIEEE(buf))
	return strings.ToLower(checksumEncoding.EncodeToString(sum[:]))
}

// ParseAccount parses the textual account encoding produced by String.
func ParseAccount(text string) (Account, error) {
	dot := strings.LastIndexByte(text, '.')
	if dot < 0 {
		owner, err := PrincipalFromText(text)
		if err != nil {
			return Account{}, err
		}
		return FromIdentity(owner), nil
	}

	head, subHex := text[:dot], text[dot+1:]
	dash := strings.LastIndexByte(head, '-')
	if dash < 0 {
		return Account{}, fmt.Errorf("%w: %q is missing a checksum", ErrInvalidAddress, text)
	}
	ownerText, checksum := head[:dash], head[dash+1:]

	owner, err := PrincipalFromText(ownerText)
	if err != nil {
		return Account{}, err
	}
	if subHex == "" || strings.HasPrefix(subHex, "0") {
		return Account{}, fmt.Errorf("%w: %q has a non-canonical subaccount", ErrInvalidAddress, text)
	}
	sub, err := subaccountFromHex(subHex)
	if err != nil {
		return Account{}, err
	}
	if sub.IsZero() {
		return Account{}, fmt.Errorf("%w: %q spells out the default subaccount", ErrInvalidAddress, text)
	}
	if accountChecksum(owner, sub) != checksum {
		return Account{}, fmt.Errorf("%w: %q has a bad checksum", ErrInvalidAddress, text)
	}
	return Account{Owner: owner, Subaccount: &sub}, nil
}

// ValidateAddress reports whether text is shaped like a recipient address:
// either a canonical principal or a 64-character hex account identifier.
// It does not check that the address exists or holds funds.
func ValidateAddress(text string) bool {
	if _, err := PrincipalFromText(text); err == nil {
		return true
	}
	return legacyAccountIDRegex.MatchString(text)
}

func ownedBy(a *Account, p Principal) bool {
	return a != nil && a.Owner == p
}
