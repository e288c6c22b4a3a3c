package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/brojonat/kotomo/service/ledger"
)

// TokenInfo describes the ledger's token as served by the wallet API.
type TokenInfo struct {
	Name                 string        `json:"name"`
	Symbol               string        `json:"symbol"`
	Decimals             uint8         `json:"decimals"`
	Fee                  ledger.Amount `json:"fee"`
	FeeFormatted         string        `json:"fee_formatted"`
	TotalSupply          ledger.Amount `json:"total_supply"`
	TotalSupplyFormatted string        `json:"total_supply_formatted"`
}

// Balance is the balance of one account.
type Balance struct {
	Account   string        `json:"account"`
	Balance   ledger.Amount `json:"balance"`
	Formatted string        `json:"formatted"`
	Symbol    string        `json:"symbol"`
}

// TransferResult is the outcome of a committed transfer. Warning is set when
// the server could not refresh the wallet afterwards.
type TransferResult struct {
	Index   uint64 `json:"index"`
	Warning string `json:"warning,omitempty"`
}

// Transaction is a ledger transaction as served by the wallet API.
type Transaction struct {
	Index           uint64         `json:"index"`
	Timestamp       time.Time      `json:"timestamp"`
	Kind            string         `json:"kind"`
	Direction       string         `json:"direction,omitempty"` // incoming, outgoing, self
	Amount          ledger.Amount  `json:"amount"`
	AmountFormatted string         `json:"amount_formatted"`
	Fee             *ledger.Amount `json:"fee,omitempty"`
	From            *string        `json:"from,omitempty"`
	To              *string        `json:"to,omitempty"`
	Memo            string         `json:"memo,omitempty"`
}

// TransactionPage is a window of the ledger's transaction log.
type TransactionPage struct {
	Transactions []Transaction `json:"transactions"`
	Count        int           `json:"count"`
	FirstIndex   uint64        `json:"first_index"`
	LogLength    uint64        `json:"log_length"`
}

// TransactionQuery selects a window of the log. A nil Start reads the most
// recent window; a zero Length uses the server default. All includes
// transactions that do not involve the wallet.
type TransactionQuery struct {
	Start  *uint64
	Length uint64
	All    bool
}

// RefreshResult is the wallet view after an explicit refresh.
type RefreshResult struct {
	Balance Balance         `json:"balance"`
	History TransactionPage `json:"history"`
}

// APIError is an error response from the wallet API. Kind is set for ledger
// transfer errors, so errors.Is(err, ledger.KindInsufficientFunds) works.
type APIError struct {
	Status  int
	Kind    string
	Message string
}

func (e *APIError) Error() string {
	if e.Kind != "" {
		return fmt.Sprintf("request failed (%d %s): %s", e.Status, e.Kind, e.Message)
	}
	return fmt.Sprintf("request failed (%d): %s", e.Status, e.Message)
}

// Is matches ledger.TransferErrorKind targets and
// ledger.ErrMalformedTransaction.
func (e *APIError) Is(target error) bool {
	if target == ledger.ErrMalformedTransaction {
		return e.Kind == ledger.MalformedTransactionKind
	}
	kind, ok := target.(ledger.TransferErrorKind)
	return ok && e.Kind != "" && ledger.TransferErrorKind(e.Kind) == kind
}

// Client is the HTTP client for the kotomo wallet API.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient creates a new wallet API client.
func NewClient(baseURL string, httpClient *http.Client, logger *slog.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	if logger == nil {
		logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	return &Client{
		baseURL:    baseURL,
		httpClient: httpClient,
		logger:     logger,
	}
}

// TokenInfo retrieves the token's name, symbol, decimals, fee and supply.
func (c *Client) TokenInfo(ctx context.Context) (*TokenInfo, error) {
	var info TokenInfo
	if err := c.do(ctx, "GET", "/api/v1/token", nil, nil, http.StatusOK, &info); err != nil {
		return nil, err
	}
	return &info, nil
}

// Balance retrieves the balance of account, or of the wallet when account
// is empty.
func (c *Client) Balance(ctx context.Context, account string) (*Balance, error) {
	query := url.Values{}
	if account != "" {
		query.Set("account", account)
	}

	var balance Balance
	if err := c.do(ctx, "GET", "/api/v1/balance", query, nil, http.StatusOK, &balance); err != nil {
		return nil, err
	}
	return &balance, nil
}

// Standards lists the ICRC standards the ledger supports.
func (c *Client) Standards(ctx context.Context) ([]ledger.Standard, error) {
	var response struct {
		Standards []ledger.Standard `json:"standards"`
	}
	if err := c.do(ctx, "GET", "/api/v1/standards", nil, nil, http.StatusOK, &response); err != nil {
		return nil, err
	}
	return response.Standards, nil
}

// Transfer sends amount (in display units, e.g. "1.25") from the wallet to
// to, which is a principal or an ICRC-1 textual account.
func (c *Client) Transfer(ctx context.Context, to, amount, memo string) (*TransferResult, error) {
	reqBody := map[string]string{
		"to":     to,
		"amount": amount,
	}
	if memo != "" {
		reqBody["memo"] = memo
	}

	var result TransferResult
	if err := c.do(ctx, "POST", "/api/v1/transfers", nil, reqBody, http.StatusCreated, &result); err != nil {
		return nil, err
	}

	c.logger.Debug("transfer committed", "to", to, "amount", amount, "index", result.Index)
	if result.Warning != "" {
		c.logger.Warn("transfer committed with warning", "index", result.Index, "warning", result.Warning)
	}
	return &result, nil
}

// Transactions retrieves a window of the transaction log.
func (c *Client) Transactions(ctx context.Context, q TransactionQuery) (*TransactionPage, error) {
	query := url.Values{}
	if q.Start != nil {
		query.Set("start", strconv.FormatUint(*q.Start, 10))
	}
	if q.Length > 0 {
		query.Set("length", strconv.FormatUint(q.Length, 10))
	}
	if q.All {
		query.Set("mine", "false")
	}

	var page TransactionPage
	if err := c.do(ctx, "GET", "/api/v1/transactions", query, nil, http.StatusOK, &page); err != nil {
		return nil, err
	}
	return &page, nil
}

// Refresh asks the server to re-read the wallet's balance and history.
func (c *Client) Refresh(ctx context.Context) (*RefreshResult, error) {
	var result RefreshResult
	if err := c.do(ctx, "POST", "/api/v1/refresh", nil, nil, http.StatusOK, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// ValidateAddress reports whether the server accepts address as a
// well-formed principal or account identifier.
func (c *Client) ValidateAddress(ctx context.Context, address string) (bool, error) {
	query := url.Values{}
	query.Set("address", address)

	var response struct {
		Valid bool `json:"valid"`
	}
	if err := c.do(ctx, "GET", "/api/v1/validate-address", query, nil, http.StatusOK, &response); err != nil {
		return false, err
	}
	return response.Valid, nil
}

// Health checks that the server is up.
func (c *Client) Health(ctx context.Context) error {
	return c.do(ctx, "GET", "/health", nil, nil, http.StatusOK, nil)
}

// do sends a request and decodes a JSON response into out (if non-nil).
// Any status other than want is returned as an *APIError.
func (c *Client) do(ctx context.Context, method, path string, query url.Values, reqBody interface{}, want int, out interface{}) error {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var body io.Reader
	if reqBody != nil {
		data, err := json.Marshal(reqBody)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if reqBody != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != want {
		return c.parseErrorResponse(resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// parseErrorResponse attempts to parse an error response from the server.
func (c *Client) parseErrorResponse(resp *http.Response) error {
	var errResp struct {
		Error string `json:"error"`
		Kind  string `json:"kind"`
	}

	body, _ := io.ReadAll(resp.Body)
	if err := json.Unmarshal(body, &errResp); err != nil || errResp.Error == "" {
		return &APIError{Status: resp.StatusCode, Message: string(bytes.TrimSpace(body))}
	}

	return &APIError{Status: resp.StatusCode, Kind: errResp.Kind, Message: errResp.Error}
}
