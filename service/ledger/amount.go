package ledger

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math/big"
	"strings"

	"github.com/shopspring/decimal"
)

// Amount is a non-negative quantity of minor units. The zero value is 0.
// Amounts are immutable: every operation returns a new value.
type Amount struct {
	v *big.Int
}

// NewAmount returns an Amount of u minor units.
func NewAmount(u uint64) Amount {
	return Amount{v: new(big.Int).SetUint64(u)}
}

// AmountFromBig copies b into an Amount. Negative values are rejected.
func AmountFromBig(b *big.Int) (Amount, error) {
	if b == nil {
		return Amount{}, nil
	}
	if b.Sign() < 0 {
		return Amount{}, fmt.Errorf("%w: %s", ErrNegativeAmount, b.String())
	}
	return Amount{v: new(big.Int).Set(b)}, nil
}

// ParseAmountInt parses a base-10 count of minor units such as "123450000".
func ParseAmountInt(s string) (Amount, error) {
	if s == "" || !isDigits(s) {
		return Amount{}, fmt.Errorf("%w: %q is not a whole number of minor units", ErrInvalidFormat, s)
	}
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return Amount{}, fmt.Errorf("%w: %q is not a whole number of minor units", ErrInvalidFormat, s)
	}
	return Amount{v: v}, nil
}

func (a Amount) int() *big.Int {
	if a.v == nil {
		return new(big.Int)
	}
	return a.v
}

// BigInt returns a copy of the underlying integer.
func (a Amount) BigInt() *big.Int {
	return new(big.Int).Set(a.int())
}

// Uint64 returns a as a uint64 and whether it fits.
func (a Amount) Uint64() (uint64, bool) {
	v := a.int()
	return v.Uint64(), v.IsUint64()
}

// IsZero reports whether a is 0.
func (a Amount) IsZero() bool {
	return a.int().Sign() == 0
}

// Cmp compares a and b and returns -1, 0 or +1.
func (a Amount) Cmp(b Amount) int {
	return a.int().Cmp(b.int())
}

// Equal reports whether a and b are the same number of minor units.
func (a Amount) Equal(b Amount) bool {
	return a.Cmp(b) == 0
}

// Add returns a + b.
func (a Amount) Add(b Amount) Amount {
	return Amount{v: new(big.Int).Add(a.int(), b.int())}
}

// Sub returns a - b, or ErrNegativeAmount if b > a.
func (a Amount) Sub(b Amount) (Amount, error) {
	if a.Cmp(b) < 0 {
		return Amount{}, fmt.Errorf("%w: %s - %s", ErrNegativeAmount, a, b)
	}
	return Amount{v: new(big.Int).Sub(a.int(), b.int())}, nil
}

// String returns the minor-unit count in base 10.
func (a Amount) String() string {
	return a.int().String()
}

// Decimal returns a scaled by 10^-decimals as an exact decimal.
func (a Amount) Decimal(decimals uint8) decimal.Decimal {
	return decimal.NewFromBigInt(a.int(), -int32(decimals))
}

// MarshalJSON encodes the amount as a decimal string so that values beyond
// 2^53 survive JavaScript consumers.
func (a Amount) MarshalJSON() ([]byte, error) {
	return json.Marshal(a.String())
}

// UnmarshalJSON accepts either a JSON string or a JSON number of minor units.
func (a *Amount) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		return fmt.Errorf("%w: null amount", ErrInvalidFormat)
	}
	s := string(data)
	if len(data) > 0 && data[0] == '"' {
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
	}
	parsed, err := ParseAmountInt(s)
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}

// FormatAmount renders a with the given number of decimal places. Trailing
// zeros in the fraction are dropped but at least one fractional digit is
// kept: FormatAmount(123450000, 8) is "1.2345", FormatAmount(100000000, 8)
// is "1.0" and FormatAmount(0, 8) is "0.0".
func FormatAmount(a Amount, decimals uint8) string {
	divisor := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil)
	whole, frac := new(big.Int).QuoRem(a.int(), divisor, new(big.Int))

	fracStr := ""
	if decimals > 0 {
		fracStr = frac.String()
		fracStr = strings.Repeat("0", int(decimals)-len(fracStr)) + fracStr
		fracStr = strings.TrimRight(fracStr, "0")
	}
	if fracStr == "" {
		fracStr = "0"
	}
	return whole.String() + "." + fracStr
}

// ParseAmount converts a display string such as "1.2345" into minor units.
// A fraction longer than decimals is accepted only when the extra digits are
// zeros; anything that would be silently truncated is rejected with
// ErrInvalidFormat.
func ParseAmount(s string, decimals uint8) (Amount, error) {
	s = strings.TrimSpace(s)
	whole, frac, hasPoint := strings.Cut(s, ".")
	if strings.Contains(frac, ".") {
		return Amount{}, fmt.Errorf("%w: %q has more than one decimal point", ErrInvalidFormat, s)
	}
	if whole == "" && frac == "" {
		return Amount{}, fmt.Errorf("%w: %q has no digits", ErrInvalidFormat, s)
	}
	if !isDigits(whole) || !isDigits(frac) {
		return Amount{}, fmt.Errorf("%w: %q is not a plain decimal number", ErrInvalidFormat, s)
	}

	normalized := whole
	if normalized == "" {
		normalized = "0"
	}
	if hasPoint && frac != "" {
		normalized += "." + frac
	}

	d, err := decimal.NewFromString(normalized)
	if err != nil {
		return Amount{}, fmt.Errorf("%w: %q: %v", ErrInvalidFormat, s, err)
	}
	scaled := d.Shift(int32(decimals))
	if !scaled.Equal(scaled.Truncate(0)) {
		return Amount{}, fmt.Errorf("%w: %q has more than %d decimal places", ErrInvalidFormat, s, decimals)
	}
	return AmountFromBig(scaled.BigInt())
}

func isDigits(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}
