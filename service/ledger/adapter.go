package ledger

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync/atomic"
	"time"
)

// DefaultRequestTimeout bounds a single gateway round trip when no
// http.Client is supplied.
const DefaultRequestTimeout = 30 * time.Second

// CanisterIDHeader carries the ledger canister id on every gateway request.
const CanisterIDHeader = "X-Canister-Id"

// RPCRequest is a JSON-RPC 2.0 request envelope.
type RPCRequest struct {
	ID      int64  `json:"id"`
	JSONRPC string `json:"jsonrpc"`
	Method  string `json:"method"`
	Params  []any  `json:"params"`
}

// RPCResponse is a JSON-RPC 2.0 response envelope.
type RPCResponse struct {
	ID      int64           `json:"id"`
	JSONRPC string          `json:"jsonrpc"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *RPCError       `json:"error,omitempty"`
}

// RPCError is a JSON-RPC error object returned by the gateway.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("RPC error %d: %s", e.Code, e.Message)
}

// rpcService talks to an ICRC gateway that exposes ledger methods as
// JSON-RPC 2.0 over HTTP.
type rpcService struct {
	httpClient *http.Client
	endpoint   string
	canisterID Principal
	headers    map[string]string

	nextID atomic.Int64
}

// RPCOption configures the JSON-RPC service.
type RPCOption func(*rpcService)

// WithHTTPClient replaces the default http.Client. Request timeouts belong
// to this client.
func WithHTTPClient(c *http.Client) RPCOption {
	return func(s *rpcService) { s.httpClient = c }
}

// WithBearerToken authenticates every request with "Authorization: Bearer <token>".
func WithBearerToken(token string) RPCOption {
	return func(s *rpcService) {
		if token != "" {
			s.headers["Authorization"] = "Bearer " + token
		}
	}
}

// WithHeader adds a static header to every request.
func WithHeader(key, value string) RPCOption {
	return func(s *rpcService) { s.headers[key] = value }
}

// NewRPCService creates a Service backed by the gateway at endpoint for the
// ledger canister canisterID.
func NewRPCService(endpoint string, canisterID Principal, opts ...RPCOption) Service {
	s := &rpcService{
		httpClient: &http.Client{Timeout: DefaultRequestTimeout},
		endpoint:   strings.TrimSuffix(endpoint, "/"),
		canisterID: canisterID,
		headers:    make(map[string]string),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// call performs one JSON-RPC round trip and decodes the result into out.
func (s *rpcService) call(ctx context.Context, method string, out any, params ...any) error {
	if params == nil {
		params = []any{}
	}
	body, err := json.Marshal(RPCRequest{
		ID:      s.nextID.Add(1),
		JSONRPC: "2.0",
		Method:  method,
		Params:  params,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal %s request: %w", method, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create %s request: %w", method, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(CanisterIDHeader, s.canisterID.String())
	for k, v := range s.headers {
		req.Header.Set(k, v)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s request failed: %w", method, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read %s response: %w", method, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("%s: HTTP %d: %s", method, resp.StatusCode, strings.TrimSpace(string(data)))
	}

	var rpcResp RPCResponse
	if err := json.Unmarshal(data, &rpcResp); err != nil {
		return fmt.Errorf("failed to decode %s response: %w", method, err)
	}
	if rpcResp.Error != nil {
		return fmt.Errorf("%s: %w", method, rpcResp.Error)
	}
	if len(rpcResp.Result) == 0 {
		return fmt.Errorf("%s: response has no result", method)
	}
	if err := json.Unmarshal(rpcResp.Result, out); err != nil {
		return fmt.Errorf("failed to decode %s result: %w", method, err)
	}
	return nil
}

func (s *rpcService) Name(ctx context.Context) (string, error) {
	var out string
	err := s.call(ctx, "icrc1_name", &out)
	return out, err
}

func (s *rpcService) Symbol(ctx context.Context) (string, error) {
	var out string
	err := s.call(ctx, "icrc1_symbol", &out)
	return out, err
}

func (s *rpcService) Decimals(ctx context.Context) (uint8, error) {
	var out uint8
	err := s.call(ctx, "icrc1_decimals", &out)
	return out, err
}

func (s *rpcService) Fee(ctx context.Context) (Amount, error) {
	var out Amount
	err := s.call(ctx, "icrc1_fee", &out)
	return out, err
}

func (s *rpcService) TotalSupply(ctx context.Context) (Amount, error) {
	var out Amount
	err := s.call(ctx, "icrc1_total_supply", &out)
	return out, err
}

func (s *rpcService) Metadata(ctx context.Context) ([]MetadataEntry, error) {
	var out []MetadataEntry
	err := s.call(ctx, "icrc1_metadata", &out)
	return out, err
}

func (s *rpcService) MintingAccount(ctx context.Context) (*Account, error) {
	var out *Account
	err := s.call(ctx, "icrc1_minting_account", &out)
	return out, err
}

func (s *rpcService) SupportedStandards(ctx context.Context) ([]Standard, error) {
	var out []Standard
	err := s.call(ctx, "icrc1_supported_standards", &out)
	return out, err
}

func (s *rpcService) BalanceOf(ctx context.Context, account Account) (Amount, error) {
	var out Amount
	err := s.call(ctx, "icrc1_balance_of", &out, account)
	return out, err
}

func (s *rpcService) Transfer(ctx context.Context, req TransferRequest) (TransferResult, error) {
	var out TransferResult
	err := s.call(ctx, "icrc1_transfer", &out, req)
	return out, err
}

func (s *rpcService) GetTransactions(ctx context.Context, req GetTransactionsRequest) (*GetTransactionsResponse, error) {
	var out GetTransactionsResponse
	if err := s.call(ctx, "get_transactions", &out, req); err != nil {
		return nil, err
	}
	return &out, nil
}
