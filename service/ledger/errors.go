package ledger

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Local validation and decoding errors. These are raised before (or instead
// of) talking to the ledger.
var (
	ErrInvalidFormat        = errors.New("invalid amount format")
	ErrNegativeAmount       = errors.New("amount cannot be negative")
	ErrZeroAmount           = errors.New("amount must be greater than zero")
	ErrInvalidPrincipal     = errors.New("invalid principal")
	ErrInvalidAddress       = errors.New("invalid address")
	ErrMalformedTransaction = errors.New("malformed transaction record")
)

// MalformedTransactionKind is the API error kind for ErrMalformedTransaction.
// The ledger answered, so it is never reported as a TransportError.
const MalformedTransactionKind = "MalformedTransaction"

// TransferErrorKind names a transfer rejection. A kind is itself an error so
// callers can write errors.Is(err, ledger.KindInsufficientFunds).
type TransferErrorKind string

const (
	KindBadFee                 TransferErrorKind = "BadFee"
	KindInsufficientFunds      TransferErrorKind = "InsufficientFunds"
	KindBadBurn                TransferErrorKind = "BadBurn"
	KindTooOld                 TransferErrorKind = "TooOld"
	KindCreatedInFuture        TransferErrorKind = "CreatedInFuture"
	KindDuplicate              TransferErrorKind = "Duplicate"
	KindTemporarilyUnavailable TransferErrorKind = "TemporarilyUnavailable"
	KindGenericError           TransferErrorKind = "GenericError"

	// KindTransportError is never sent by the ledger. It marks a submission
	// for which no ledger response was obtained.
	KindTransportError TransferErrorKind = "TransportError"
)

func (k TransferErrorKind) Error() string {
	return "transfer failed: " + string(k)
}

// TransferError is the outcome of a rejected or undelivered transfer. Only
// the fields relevant to Kind are set.
type TransferError struct {
	Kind TransferErrorKind

	ExpectedFee    *Amount // BadFee
	CurrentBalance *Amount // InsufficientFunds
	MinimumBurn    *Amount // BadBurn
	LedgerTime     *uint64 // CreatedInFuture, nanoseconds
	DuplicateOf    *uint64 // Duplicate
	ErrorCode      *Amount // GenericError
	Message        string  // GenericError

	// Err is the underlying cause of a TransportError.
	Err error
}

// NewTransportError wraps a failure that happened before the ledger answered.
func NewTransportError(err error) *TransferError {
	return &TransferError{Kind: KindTransportError, Err: err}
}

func (e *TransferError) Error() string {
	switch e.Kind {
	case KindBadFee:
		return fmt.Sprintf("bad fee: expected %s", amountOrUnknown(e.ExpectedFee))
	case KindInsufficientFunds:
		return fmt.Sprintf("insufficient funds: balance %s", amountOrUnknown(e.CurrentBalance))
	case KindBadBurn:
		return fmt.Sprintf("bad burn: minimum %s", amountOrUnknown(e.MinimumBurn))
	case KindTooOld:
		return "transaction too old"
	case KindCreatedInFuture:
		if e.LedgerTime != nil {
			return fmt.Sprintf("transaction created in future: ledger time %d", *e.LedgerTime)
		}
		return "transaction created in future"
	case KindDuplicate:
		if e.DuplicateOf != nil {
			return fmt.Sprintf("duplicate transaction: original %d", *e.DuplicateOf)
		}
		return "duplicate transaction"
	case KindTemporarilyUnavailable:
		return "ledger temporarily unavailable"
	case KindGenericError:
		if e.ErrorCode != nil {
			return fmt.Sprintf("ledger error %s: %s", e.ErrorCode, e.Message)
		}
		return "ledger error: " + e.Message
	case KindTransportError:
		if e.Err != nil {
			return "transport error: " + e.Err.Error()
		}
		return "transport error"
	default:
		return "transfer failed: " + string(e.Kind)
	}
}

// Is matches a TransferErrorKind target.
func (e *TransferError) Is(target error) bool {
	k, ok := target.(TransferErrorKind)
	return ok && k == e.Kind
}

func (e *TransferError) Unwrap() error {
	return e.Err
}

// Retryable reports whether resubmitting the same request may succeed.
// Ledger rejections are terminal; transport failures and overload are not.
// Resubmitting after a transport failure is only safe when the request
// carried a created_at_time, so the ledger can deduplicate it.
func (e *TransferError) Retryable() bool {
	return e.Kind == KindTransportError || e.Kind == KindTemporarilyUnavailable
}

// UserMessage renders an actionable message with amounts in display units.
func (e *TransferError) UserMessage(decimals uint8, symbol string) string {
	display := func(a *Amount) string {
		if a == nil {
			return "unknown"
		}
		return FormatAmount(*a, decimals) + " " + symbol
	}

	switch e.Kind {
	case KindBadFee:
		return fmt.Sprintf("Incorrect fee. Expected: %s", display(e.ExpectedFee))
	case KindInsufficientFunds:
		return fmt.Sprintf("Insufficient funds. Balance: %s", display(e.CurrentBalance))
	case KindBadBurn:
		return fmt.Sprintf("Bad burn amount. Minimum: %s", display(e.MinimumBurn))
	case KindTooOld:
		return "Transaction too old. Please try again."
	case KindCreatedInFuture:
		return "Transaction created in the future. Check your device clock."
	case KindDuplicate:
		if e.DuplicateOf != nil {
			return fmt.Sprintf("Duplicate transaction. Original: #%d", *e.DuplicateOf)
		}
		return "Duplicate transaction."
	case KindTemporarilyUnavailable:
		return "Service temporarily unavailable. Please try again later."
	case KindGenericError:
		return "Error: " + e.Message
	case KindTransportError:
		return "Could not reach the ledger. Check your connection and try again."
	default:
		return "Transfer failed."
	}
}

func amountOrUnknown(a *Amount) string {
	if a == nil {
		return "unknown"
	}
	return a.String()
}

// Wire payloads of the transfer error variant.
type (
	badFeePayload struct {
		ExpectedFee Amount `json:"expected_fee"`
	}
	badBurnPayload struct {
		MinBurnAmount Amount `json:"min_burn_amount"`
	}
	insufficientFundsPayload struct {
		Balance Amount `json:"balance"`
	}
	createdInFuturePayload struct {
		LedgerTime uint64 `json:"ledger_time"`
	}
	duplicatePayload struct {
		DuplicateOf uint64 `json:"duplicate_of"`
	}
	genericErrorPayload struct {
		ErrorCode Amount `json:"error_code"`
		Message   string `json:"message"`
	}
)

// MarshalJSON encodes e as the ledger's variant, e.g.
// {"InsufficientFunds":{"balance":"10"}}. Transport errors have no wire form.
func (e *TransferError) MarshalJSON() ([]byte, error) {
	var payload any
	switch e.Kind {
	case KindBadFee:
		payload = badFeePayload{ExpectedFee: derefAmount(e.ExpectedFee)}
	case KindBadBurn:
		payload = badBurnPayload{MinBurnAmount: derefAmount(e.MinimumBurn)}
	case KindInsufficientFunds:
		payload = insufficientFundsPayload{Balance: derefAmount(e.CurrentBalance)}
	case KindCreatedInFuture:
		payload = createdInFuturePayload{LedgerTime: derefUint64(e.LedgerTime)}
	case KindDuplicate:
		payload = duplicatePayload{DuplicateOf: derefUint64(e.DuplicateOf)}
	case KindGenericError:
		payload = genericErrorPayload{ErrorCode: derefAmount(e.ErrorCode), Message: e.Message}
	case KindTooOld, KindTemporarilyUnavailable:
		payload = nil
	default:
		return nil, fmt.Errorf("transfer error kind %q has no wire form", e.Kind)
	}
	return json.Marshal(map[string]any{string(e.Kind): payload})
}

// UnmarshalJSON decodes the ledger's single-key variant object. An unknown
// variant decodes as a GenericError carrying the variant name.
func (e *TransferError) UnmarshalJSON(data []byte) error {
	var variant map[string]json.RawMessage
	if err := json.Unmarshal(data, &variant); err != nil {
		return fmt.Errorf("decode transfer error: %w", err)
	}
	if len(variant) != 1 {
		return fmt.Errorf("decode transfer error: expected exactly one variant, got %d", len(variant))
	}

	for key, raw := range variant {
		out := TransferError{Kind: TransferErrorKind(key)}
		switch out.Kind {
		case KindBadFee:
			var p badFeePayload
			if err := json.Unmarshal(raw, &p); err != nil {
				return fmt.Errorf("decode %s: %w", key, err)
			}
			out.ExpectedFee = &p.ExpectedFee
		case KindBadBurn:
			var p badBurnPayload
			if err := json.Unmarshal(raw, &p); err != nil {
				return fmt.Errorf("decode %s: %w", key, err)
			}
			out.MinimumBurn = &p.MinBurnAmount
		case KindInsufficientFunds:
			var p insufficientFundsPayload
			if err := json.Unmarshal(raw, &p); err != nil {
				return fmt.Errorf("decode %s: %w", key, err)
			}
			out.CurrentBalance = &p.Balance
		case KindCreatedInFuture:
			var p createdInFuturePayload
			if err := json.Unmarshal(raw, &p); err != nil {
				return fmt.Errorf("decode %s: %w", key, err)
			}
			out.LedgerTime = &p.LedgerTime
		case KindDuplicate:
			var p duplicatePayload
			if err := json.Unmarshal(raw, &p); err != nil {
				return fmt.Errorf("decode %s: %w", key, err)
			}
			out.DuplicateOf = &p.DuplicateOf
		case KindGenericError:
			var p genericErrorPayload
			if err := json.Unmarshal(raw, &p); err != nil {
				return fmt.Errorf("decode %s: %w", key, err)
			}
			out.ErrorCode = &p.ErrorCode
			out.Message = p.Message
		case KindTooOld, KindTemporarilyUnavailable:
		default:
			// Variants added to the standard after this client was built are
			// still ledger rejections, not transport failures.
			out = TransferError{Kind: KindGenericError, Message: key}
		}
		*e = out
	}
	return nil
}

func derefAmount(a *Amount) Amount {
	if a == nil {
		return Amount{}
	}
	return *a
}

func derefUint64(u *uint64) uint64 {
	if u == nil {
		return 0
	}
	return *u
}

// ErrAnonymousCaller is returned when the anonymous identity tries to
// submit a transfer.
var ErrAnonymousCaller = errors.New("anonymous caller cannot transfer")

// RefreshError reports that a transfer was committed at Index but the
// follow-up balance or history refresh failed. The wallet view is stale;
// the transfer itself must not be resubmitted.
type RefreshError struct {
	Index uint64
	Err   error
}

func (e *RefreshError) Error() string {
	return fmt.Sprintf("transfer %d committed but refresh failed: %v", e.Index, e.Err)
}

func (e *RefreshError) Unwrap() error {
	return e.Err
}
