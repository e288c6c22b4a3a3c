package ledger

import (
	"encoding/json"
	"fmt"
	"math/big"
	"time"
)

// TokenInfo is the ledger's self-description.
type TokenInfo struct {
	Name        string `json:"name"`
	Symbol      string `json:"symbol"`
	Decimals    uint8  `json:"decimals"`
	Fee         Amount `json:"fee"`
	TotalSupply Amount `json:"total_supply"`
}

// Format renders a with the token's decimals.
func (t TokenInfo) Format(a Amount) string {
	return FormatAmount(a, t.Decimals)
}

// Parse converts a display string into minor units using the token's decimals.
func (t TokenInfo) Parse(s string) (Amount, error) {
	return ParseAmount(s, t.Decimals)
}

// Standard is an entry of icrc1_supported_standards.
type Standard struct {
	Name string `json:"name"`
	URL  string `json:"url"`
}

// MetadataValue is the tagged union carried by icrc1_metadata. Exactly one
// field is set.
type MetadataValue struct {
	Nat  *Amount
	Int  *big.Int
	Text *string
	Blob []byte
}

// String renders the value for display.
func (v MetadataValue) String() string {
	switch {
	case v.Nat != nil:
		return v.Nat.String()
	case v.Int != nil:
		return v.Int.String()
	case v.Text != nil:
		return *v.Text
	case v.Blob != nil:
		return fmt.Sprintf("%x", v.Blob)
	default:
		return ""
	}
}

func (v MetadataValue) MarshalJSON() ([]byte, error) {
	switch {
	case v.Nat != nil:
		return json.Marshal(map[string]any{"Nat": v.Nat})
	case v.Int != nil:
		return json.Marshal(map[string]string{"Int": v.Int.String()})
	case v.Text != nil:
		return json.Marshal(map[string]string{"Text": *v.Text})
	case v.Blob != nil:
		return json.Marshal(map[string][]byte{"Blob": v.Blob})
	default:
		return nil, fmt.Errorf("metadata value has no variant set")
	}
}

func (v *MetadataValue) UnmarshalJSON(data []byte) error {
	var variant struct {
		Nat  *Amount         `json:"Nat"`
		Int  json.RawMessage `json:"Int"`
		Text *string         `json:"Text"`
		Blob []byte          `json:"Blob"`
	}
	if err := json.Unmarshal(data, &variant); err != nil {
		return fmt.Errorf("decode metadata value: %w", err)
	}

	out := MetadataValue{Nat: variant.Nat, Text: variant.Text, Blob: variant.Blob}
	if len(variant.Int) > 0 {
		s := string(variant.Int)
		if variant.Int[0] == '"' {
			if err := json.Unmarshal(variant.Int, &s); err != nil {
				return fmt.Errorf("decode metadata Int: %w", err)
			}
		}
		i, ok := new(big.Int).SetString(s, 10)
		if !ok {
			return fmt.Errorf("decode metadata Int: %q is not an integer", s)
		}
		out.Int = i
	}
	if out.Nat == nil && out.Int == nil && out.Text == nil && out.Blob == nil {
		return fmt.Errorf("decode metadata value: no known variant in %s", data)
	}
	*v = out
	return nil
}

// MetadataEntry is one key/value pair of icrc1_metadata.
type MetadataEntry struct {
	Key   string        `json:"key"`
	Value MetadataValue `json:"value"`
}

// TransferRequest is the icrc1_transfer argument. Optional fields are nil
// when absent.
type TransferRequest struct {
	FromSubaccount *Subaccount `json:"from_subaccount,omitempty"`
	To             Account     `json:"to"`
	Amount         Amount      `json:"amount"`
	Fee            *Amount     `json:"fee,omitempty"`
	Memo           []byte      `json:"memo,omitempty"`
	CreatedAtTime  *uint64     `json:"created_at_time,omitempty"`
}

// TransferResult is the icrc1_transfer response: {"Ok": index} or
// {"Err": <transfer error variant>}.
type TransferResult struct {
	Ok  *uint64
	Err *TransferError
}

func (r TransferResult) MarshalJSON() ([]byte, error) {
	if r.Err != nil {
		return json.Marshal(map[string]*TransferError{"Err": r.Err})
	}
	if r.Ok == nil {
		return nil, fmt.Errorf("transfer result has neither Ok nor Err")
	}
	return json.Marshal(map[string]uint64{"Ok": *r.Ok})
}

func (r *TransferResult) UnmarshalJSON(data []byte) error {
	var variant struct {
		Ok  *Amount        `json:"Ok"`
		Err *TransferError `json:"Err"`
	}
	if err := json.Unmarshal(data, &variant); err != nil {
		return fmt.Errorf("decode transfer result: %w", err)
	}
	switch {
	case variant.Ok != nil && variant.Err != nil:
		return fmt.Errorf("decode transfer result: both Ok and Err set")
	case variant.Ok != nil:
		idx, ok := variant.Ok.Uint64()
		if !ok {
			return fmt.Errorf("decode transfer result: index %s overflows uint64", variant.Ok)
		}
		*r = TransferResult{Ok: &idx}
	case variant.Err != nil:
		*r = TransferResult{Err: variant.Err}
	default:
		return fmt.Errorf("decode transfer result: neither Ok nor Err set")
	}
	return nil
}

// GetTransactionsRequest selects a window of the transaction log.
type GetTransactionsRequest struct {
	Start  uint64 `json:"start"`
	Length uint64 `json:"length"`
}

// GetTransactionsResponse is the raw get_transactions reply. FirstIndex is
// the log index of Transactions[0]; LogLength is the total log size.
type GetTransactionsResponse struct {
	FirstIndex   uint64           `json:"first_index"`
	LogLength    uint64           `json:"log_length"`
	Transactions []RawTransaction `json:"transactions"`
}

// RawTransaction is a ledger history record as sent on the wire. A well
// formed record has exactly one of Transfer, Mint or Burn set.
type RawTransaction struct {
	Kind      string       `json:"kind"`
	Timestamp uint64       `json:"timestamp"`
	Transfer  *RawTransfer `json:"transfer,omitempty"`
	Mint      *RawMint     `json:"mint,omitempty"`
	Burn      *RawBurn     `json:"burn,omitempty"`

	// Approve records (ICRC-2) are not part of the wallet's history.
	Approve json.RawMessage `json:"approve,omitempty"`
}

// RawTransfer moves Amount from one account to another. Spender is set for
// ICRC-2 transfer_from records.
type RawTransfer struct {
	From          Account  `json:"from"`
	To            Account  `json:"to"`
	Amount        Amount   `json:"amount"`
	Fee           *Amount  `json:"fee,omitempty"`
	Memo          []byte   `json:"memo,omitempty"`
	CreatedAtTime *uint64  `json:"created_at_time,omitempty"`
	Spender       *Account `json:"spender,omitempty"`
}

// RawMint credits newly issued tokens to To.
type RawMint struct {
	To            Account `json:"to"`
	Amount        Amount  `json:"amount"`
	Memo          []byte  `json:"memo,omitempty"`
	CreatedAtTime *uint64 `json:"created_at_time,omitempty"`
}

// RawBurn destroys Amount taken from From.
type RawBurn struct {
	From          Account  `json:"from"`
	Amount        Amount   `json:"amount"`
	Memo          []byte   `json:"memo,omitempty"`
	CreatedAtTime *uint64  `json:"created_at_time,omitempty"`
	Spender       *Account `json:"spender,omitempty"`
}

// TransactionKind is the decoded category of a history record.
type TransactionKind string

const (
	TxTransfer TransactionKind = "transfer"
	TxMint     TransactionKind = "mint"
	TxBurn     TransactionKind = "burn"
)

// Transaction is a classified history record. From is nil for mints and To
// is nil for burns.
type Transaction struct {
	Index     uint64          `json:"index"`
	Timestamp uint64          `json:"timestamp"`
	Kind      TransactionKind `json:"kind"`
	Amount    Amount          `json:"amount"`
	Fee       *Amount         `json:"fee,omitempty"`
	From      *Account        `json:"from,omitempty"`
	To        *Account        `json:"to,omitempty"`
	Memo      []byte          `json:"memo,omitempty"`
}

// Time returns the ledger timestamp as a time.Time in UTC.
func (t Transaction) Time() time.Time {
	return time.Unix(0, int64(t.Timestamp)).UTC()
}

// TransactionPage is a classified window of the transaction log.
type TransactionPage struct {
	Transactions []Transaction `json:"transactions"`
	FirstIndex   uint64        `json:"first_index"`
	LogLength    uint64        `json:"log_length"`
}
