package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/brojonat/kotomo/service/ledger"
	"github.com/samber/lo"
)

const (
	maxRequestBodySize = 1 << 16 // 64KB - a transfer is a few hundred bytes
	maxAddressLength   = 200     // account text with a full subaccount is ~130 chars
	maxMemoLength      = 32      // ICRC-1 ledgers reject longer memos
	defaultPageLength  = ledger.DefaultHistoryPageSize
	maxPageLength      = 2000
)

// tokenResponse is the JSON response format for token info.
type tokenResponse struct {
	Name                 string `json:"name"`
	Symbol               string `json:"symbol"`
	Decimals             uint8  `json:"decimals"`
	Fee                  string `json:"fee"`
	FeeFormatted         string `json:"fee_formatted"`
	TotalSupply          string `json:"total_supply"`
	TotalSupplyFormatted string `json:"total_supply_formatted"`
}

// balanceResponse is the JSON response format for a balance.
type balanceResponse struct {
	Account   string `json:"account"`
	Balance   string `json:"balance"`
	Formatted string `json:"formatted"`
	Symbol    string `json:"symbol"`
}

// transferRequest is the JSON request body for POST /api/v1/transfers.
type transferRequest struct {
	To     string `json:"to"`
	Amount string `json:"amount"`
	Memo   string `json:"memo,omitempty"`
}

// transferResponse is returned once the ledger has committed a transfer.
// Warning is set when the follow-up refresh failed.
type transferResponse struct {
	Index   uint64 `json:"index"`
	Warning string `json:"warning,omitempty"`
}

// transactionResponse is the JSON response format for a transaction.
type transactionResponse struct {
	Index           uint64    `json:"index"`
	Timestamp       time.Time `json:"timestamp"`
	Kind            string    `json:"kind"`
	Direction       string    `json:"direction,omitempty"`
	Amount          string    `json:"amount"`
	AmountFormatted string    `json:"amount_formatted"`
	Fee             *string   `json:"fee,omitempty"`
	From            *string   `json:"from,omitempty"`
	To              *string   `json:"to,omitempty"`
	Memo            string    `json:"memo,omitempty"`
}

// pageResponse is the JSON response format for a transaction page.
type pageResponse struct {
	Transactions []transactionResponse `json:"transactions"`
	Count        int                   `json:"count"`
	FirstIndex   uint64                `json:"first_index"`
	LogLength    uint64                `json:"log_length"`
}

// handleGetToken returns a handler that describes the ledger's token.
// GET /api/v1/token
func handleGetToken(wallet *ledger.Client, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		info, err := wallet.TokenInfo(r.Context())
		if err != nil {
			writeLedgerError(w, r, err, nil, logger)
			return
		}

		writeJSON(w, tokenToResponse(info), http.StatusOK)
	})
}

// handleGetBalance returns a handler that reads a balance. Without an
// account parameter it reads the wallet's default account.
// GET /api/v1/balance?account={account}
func handleGetBalance(wallet *ledger.Client, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		account := wallet.Account()
		if text := r.URL.Query().Get("account"); text != "" {
			parsed, err := parseRecipient(text)
			if err != nil {
				logger.DebugContext(r.Context(), "invalid account", "account", text, "error", err)
				writeError(w, err.Error(), http.StatusBadRequest)
				return
			}
			account = parsed
		}

		info, err := wallet.TokenInfo(r.Context())
		if err != nil {
			writeLedgerError(w, r, err, nil, logger)
			return
		}

		balance, err := wallet.GetBalance(r.Context(), account)
		if err != nil {
			writeLedgerError(w, r, err, info, logger)
			return
		}

		writeJSON(w, balanceResponse{
			Account:   account.String(),
			Balance:   balance.String(),
			Formatted: info.Format(balance),
			Symbol:    info.Symbol,
		}, http.StatusOK)
	})
}

// handleGetStandards returns a handler that lists supported standards.
// GET /api/v1/standards
func handleGetStandards(wallet *ledger.Client, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		standards, err := wallet.GetSupportedStandards(r.Context())
		if err != nil {
			writeLedgerError(w, r, err, nil, logger)
			return
		}
		if standards == nil {
			standards = []ledger.Standard{}
		}

		writeJSON(w, map[string]interface{}{
			"standards": standards,
			"count":     len(standards),
		}, http.StatusOK)
	})
}

// handleCreateTransfer returns a handler that submits a transfer from the
// wallet's default account. All input is validated before the ledger is
// called.
// POST /api/v1/transfers
func handleCreateTransfer(wallet *ledger.Client, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)

		var req transferRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			var maxBytesErr *http.MaxBytesError
			if errors.As(err, &maxBytesErr) {
				writeError(w, "request body too large", http.StatusBadRequest)
				return
			}
			logger.DebugContext(r.Context(), "invalid request body", "error", err)
			writeError(w, "invalid request body", http.StatusBadRequest)
			return
		}

		to, err := parseRecipient(req.To)
		if err != nil {
			logger.DebugContext(r.Context(), "invalid recipient", "to", req.To, "error", err)
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}

		if len(req.Memo) > maxMemoLength {
			writeError(w, fmt.Sprintf("memo cannot exceed %d bytes", maxMemoLength), http.StatusBadRequest)
			return
		}
		var memo []byte
		if req.Memo != "" {
			memo = []byte(req.Memo)
		}

		// Decimals are needed to parse the amount, so token info is the one
		// ledger read allowed before validation completes.
		info, err := wallet.TokenInfo(r.Context())
		if err != nil {
			writeLedgerError(w, r, err, nil, logger)
			return
		}

		if strings.TrimSpace(req.Amount) == "" {
			writeError(w, "amount is required", http.StatusBadRequest)
			return
		}
		amount, err := info.Parse(req.Amount)
		if err != nil {
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}
		if amount.IsZero() {
			writeError(w, ledger.ErrZeroAmount.Error(), http.StatusBadRequest)
			return
		}

		index, err := wallet.Transfer(r.Context(), to, amount, memo)
		var refreshErr *ledger.RefreshError
		switch {
		case err == nil:
			writeJSON(w, transferResponse{Index: index}, http.StatusCreated)
		case errors.As(err, &refreshErr):
			logger.WarnContext(r.Context(), "transfer committed but refresh failed",
				"index", index,
				"error", refreshErr.Err,
			)
			writeJSON(w, transferResponse{
				Index:   index,
				Warning: "transfer committed; balance and history may be stale",
			}, http.StatusCreated)
		default:
			writeLedgerError(w, r, err, info, logger)
		}
	})
}

// handleListTransactions returns a handler that reads a window of the
// transaction log. Without start it reads the most recent window. With
// mine=true (the default) only the wallet's transactions are returned.
// GET /api/v1/transactions?start=N&length=N&mine=BOOL
func handleListTransactions(wallet *ledger.Client, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		query := r.URL.Query()

		length := uint64(defaultPageLength)
		if lengthStr := query.Get("length"); lengthStr != "" {
			parsed, err := strconv.ParseUint(lengthStr, 10, 64)
			if err != nil {
				writeError(w, "invalid length parameter: must be a non-negative integer", http.StatusBadRequest)
				return
			}
			if parsed < 1 {
				writeError(w, "length must be at least 1", http.StatusBadRequest)
				return
			}
			if parsed > maxPageLength {
				writeError(w, fmt.Sprintf("length cannot exceed %d", maxPageLength), http.StatusBadRequest)
				return
			}
			length = parsed
		}

		mine := true
		if mineStr := query.Get("mine"); mineStr != "" {
			parsed, err := strconv.ParseBool(mineStr)
			if err != nil {
				writeError(w, "invalid mine parameter: must be a boolean", http.StatusBadRequest)
				return
			}
			mine = parsed
		}

		var start uint64
		if startStr := query.Get("start"); startStr != "" {
			parsed, err := strconv.ParseUint(startStr, 10, 64)
			if err != nil {
				writeError(w, "invalid start parameter: must be a non-negative integer", http.StatusBadRequest)
				return
			}
			start = parsed
		} else {
			count, err := wallet.TransactionCount(r.Context())
			if err != nil {
				writeLedgerError(w, r, err, nil, logger)
				return
			}
			if count > length {
				start = count - length
			}
		}

		info, err := wallet.TokenInfo(r.Context())
		if err != nil {
			writeLedgerError(w, r, err, nil, logger)
			return
		}

		var page *ledger.TransactionPage
		if mine {
			page, err = wallet.History(r.Context(), start, length)
		} else {
			page, err = wallet.GetTransactions(r.Context(), start, length)
		}
		if err != nil {
			writeLedgerError(w, r, err, info, logger)
			return
		}

		logger.DebugContext(r.Context(), "transactions listed",
			"start", start,
			"length", length,
			"mine", mine,
			"count", len(page.Transactions),
		)

		writeJSON(w, pageToResponse(page, info, wallet.Caller(), mine), http.StatusOK)
	})
}

// handleRefresh returns a handler that re-reads the wallet's balance and
// history, as the UI's refresh button does. Observers are notified.
// POST /api/v1/refresh
func handleRefresh(wallet *ledger.Client, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		info, err := wallet.TokenInfo(r.Context())
		if err != nil {
			writeLedgerError(w, r, err, nil, logger)
			return
		}

		balance, err := wallet.RefreshBalance(r.Context())
		if err != nil {
			writeLedgerError(w, r, err, info, logger)
			return
		}
		page, err := wallet.RefreshHistory(r.Context())
		if err != nil {
			writeLedgerError(w, r, err, info, logger)
			return
		}

		account := wallet.Account()
		writeJSON(w, map[string]interface{}{
			"balance": balanceResponse{
				Account:   account.String(),
				Balance:   balance.String(),
				Formatted: info.Format(balance),
				Symbol:    info.Symbol,
			},
			"history": pageToResponse(page, info, wallet.Caller(), true),
		}, http.StatusOK)
	})
}

// handleValidateAddress returns a handler that checks the shape of an address.
// GET /api/v1/validate-address?address={address}
func handleValidateAddress(logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		address := r.URL.Query().Get("address")
		if address == "" {
			writeError(w, "address query parameter is required", http.StatusBadRequest)
			return
		}

		valid := len(address) <= maxAddressLength && ledger.ValidateAddress(address)
		logger.DebugContext(r.Context(), "address validated", "address", address, "valid", valid)

		writeJSON(w, map[string]interface{}{
			"address": address,
			"valid":   valid,
		}, http.StatusOK)
	})
}

// parseRecipient accepts a principal or an ICRC-1 textual account. Legacy
// hex account identifiers pass ValidateAddress but cannot be sent to.
func parseRecipient(text string) (ledger.Account, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return ledger.Account{}, errorf("to is required")
	}
	if len(text) > maxAddressLength {
		return ledger.Account{}, errorf("address too long (max %d characters)", maxAddressLength)
	}
	for _, r := range text {
		if unicode.IsControl(r) || unicode.IsSpace(r) {
			return ledger.Account{}, errorf("address contains invalid characters")
		}
	}

	account, err := ledger.ParseAccount(text)
	if err == nil {
		return account, nil
	}
	if ledger.ValidateAddress(text) {
		return ledger.Account{}, errorf("legacy account identifiers are not supported; use a principal or ICRC-1 account")
	}
	return ledger.Account{}, errorf("invalid address: %v", err)
}

func tokenToResponse(info *ledger.TokenInfo) tokenResponse {
	return tokenResponse{
		Name:                 info.Name,
		Symbol:               info.Symbol,
		Decimals:             info.Decimals,
		Fee:                  info.Fee.String(),
		FeeFormatted:         info.Format(info.Fee),
		TotalSupply:          info.TotalSupply.String(),
		TotalSupplyFormatted: info.Format(info.TotalSupply),
	}
}

func pageToResponse(page *ledger.TransactionPage, info *ledger.TokenInfo, caller ledger.Principal, mine bool) pageResponse {
	txs := lo.Map(page.Transactions, func(tx ledger.Transaction, _ int) transactionResponse {
		resp := transactionToResponse(tx, info)
		if mine {
			resp.Direction = string(ledger.Direction(caller, tx))
		}
		return resp
	})
	return pageResponse{
		Transactions: txs,
		Count:        len(txs),
		FirstIndex:   page.FirstIndex,
		LogLength:    page.LogLength,
	}
}

// transactionToResponse converts a classified transaction to a response format.
func transactionToResponse(tx ledger.Transaction, info *ledger.TokenInfo) transactionResponse {
	resp := transactionResponse{
		Index:           tx.Index,
		Timestamp:       tx.Time(),
		Kind:            string(tx.Kind),
		Amount:          tx.Amount.String(),
		AmountFormatted: info.Format(tx.Amount),
		Memo:            string(tx.Memo),
	}
	if tx.Fee != nil {
		resp.Fee = lo.ToPtr(tx.Fee.String())
	}
	if tx.From != nil {
		resp.From = lo.ToPtr(tx.From.String())
	}
	if tx.To != nil {
		resp.To = lo.ToPtr(tx.To.String())
	}
	return resp
}

// statusForKind maps a transfer error kind to an HTTP status.
func statusForKind(kind ledger.TransferErrorKind) int {
	switch kind {
	case ledger.KindDuplicate:
		return http.StatusConflict
	case ledger.KindTemporarilyUnavailable:
		return http.StatusServiceUnavailable
	case ledger.KindTransportError:
		return http.StatusBadGateway
	default:
		return http.StatusUnprocessableEntity
	}
}

// writeLedgerError maps an error from the ledger client to a response.
// info may be nil when token info is not yet known.
func writeLedgerError(w http.ResponseWriter, r *http.Request, err error, info *ledger.TokenInfo, logger *slog.Logger) {
	var terr *ledger.TransferError
	switch {
	case errors.As(err, &terr):
		message := terr.Error()
		if info != nil {
			message = terr.UserMessage(info.Decimals, info.Symbol)
		}
		writeErrorKind(w, message, string(terr.Kind), statusForKind(terr.Kind))
	case errors.Is(err, ledger.ErrZeroAmount), errors.Is(err, ledger.ErrInvalidFormat), errors.Is(err, ledger.ErrInvalidAddress):
		writeError(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, ledger.ErrAnonymousCaller):
		writeError(w, err.Error(), http.StatusForbidden)
	case errors.Is(err, ledger.ErrMalformedTransaction):
		logger.ErrorContext(r.Context(), "ledger returned malformed transaction",
			"path", r.URL.Path,
			"error", err,
		)
		writeErrorKind(w, "ledger returned a malformed transaction", ledger.MalformedTransactionKind, http.StatusBadGateway)
	default:
		logger.ErrorContext(r.Context(), "ledger request failed",
			"path", r.URL.Path,
			"error", err,
		)
		writeErrorKind(w, "ledger unavailable", string(ledger.KindTransportError), http.StatusBadGateway)
	}
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, data interface{}, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(data)
}

// writeError writes an error response.
func writeError(w http.ResponseWriter, message string, statusCode int) {
	writeJSON(w, map[string]string{
		"error": message,
	}, statusCode)
}

// writeErrorKind writes an error response that names a transfer error kind.
func writeErrorKind(w http.ResponseWriter, message, kind string, statusCode int) {
	writeJSON(w, map[string]string{
		"error": message,
		"kind":  kind,
	}, statusCode)
}

// errorf is a helper to format validation error strings.
func errorf(format string, args ...interface{}) error {
	return &validationError{msg: strings.TrimSpace(fmt.Sprintf(format, args...))}
}

type validationError struct {
	msg string
}

func (e *validationError) Error() string {
	return e.msg
}
