package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/brojonat/kotomo/service/metrics"
	"golang.org/x/sync/errgroup"
)

// DefaultHistoryPageSize is the number of log records a history refresh
// reads when no page size is configured.
const DefaultHistoryPageSize = 100

// Observer is notified after the wallet view changes. Calls happen on the
// goroutine that triggered the refresh, in order: TransferCommitted, then
// BalanceRefreshed, then HistoryRefreshed.
type Observer interface {
	TransferCommitted(ctx context.Context, from Account, req TransferRequest, index uint64)
	BalanceRefreshed(ctx context.Context, account Account, balance Amount)
	HistoryRefreshed(ctx context.Context, account Account, page *TransactionPage)
}

// Client provides wallet operations for one caller on top of a ledger Service.
type Client struct {
	svc       Service
	caller    Principal
	logger    *slog.Logger
	metrics   *metrics.Metrics
	endpoint  string // ledger identifier for metrics (e.g. canister id or host)
	observers []Observer
	now       func() time.Time
	pageSize  uint64

	mu        sync.Mutex
	tokenInfo *TokenInfo
}

// Option configures a Client.
type Option func(*Client)

// WithLogger sets the logger. The default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) { c.logger = logger }
}

// WithMetrics records ledger metrics under the given endpoint label.
// If m is nil, no metrics are recorded.
func WithMetrics(m *metrics.Metrics, endpoint string) Option {
	return func(c *Client) {
		c.metrics = m
		c.endpoint = endpoint
	}
}

// WithObserver adds an observer of wallet refreshes.
func WithObserver(o Observer) Option {
	return func(c *Client) { c.observers = append(c.observers, o) }
}

// WithClock overrides the clock used for created_at_time.
func WithClock(now func() time.Time) Option {
	return func(c *Client) { c.now = now }
}

// WithHistoryPageSize sets how many records a history refresh reads.
func WithHistoryPageSize(n uint64) Option {
	return func(c *Client) {
		if n > 0 {
			c.pageSize = n
		}
	}
}

// NewClient creates a client acting as caller against svc.
func NewClient(svc Service, caller Principal, opts ...Option) *Client {
	c := &Client{
		svc:      svc,
		caller:   caller,
		logger:   slog.Default(),
		now:      time.Now,
		pageSize: DefaultHistoryPageSize,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Caller returns the identity the client acts as.
func (c *Client) Caller() Principal {
	return c.caller
}

// Account returns the caller's default account.
func (c *Client) Account() Account {
	return FromIdentity(c.caller)
}

func (c *Client) recordCall(ctx context.Context, method string, start time.Time, err error) {
	status := "success"
	if err != nil {
		status = "error"
		c.logger.WarnContext(ctx, "ledger call failed",
			"method", method,
			"error", err,
		)
	}
	if c.metrics != nil {
		c.metrics.RecordLedgerCall(method, status, c.endpoint, time.Since(start).Seconds())
	}
}

// GetTokenInfo fetches name, symbol, decimals, fee and total supply
// concurrently and caches the result.
func (c *Client) GetTokenInfo(ctx context.Context) (*TokenInfo, error) {
	start := time.Now()
	var info TokenInfo

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		info.Name, err = c.svc.Name(gctx)
		return wrapCall("icrc1_name", err)
	})
	g.Go(func() (err error) {
		info.Symbol, err = c.svc.Symbol(gctx)
		return wrapCall("icrc1_symbol", err)
	})
	g.Go(func() (err error) {
		info.Decimals, err = c.svc.Decimals(gctx)
		return wrapCall("icrc1_decimals", err)
	})
	g.Go(func() (err error) {
		info.Fee, err = c.svc.Fee(gctx)
		return wrapCall("icrc1_fee", err)
	})
	g.Go(func() (err error) {
		info.TotalSupply, err = c.svc.TotalSupply(gctx)
		return wrapCall("icrc1_total_supply", err)
	})
	err := g.Wait()
	c.recordCall(ctx, "token_info", start, err)
	if err != nil {
		return nil, fmt.Errorf("failed to get token info: %w", err)
	}

	c.mu.Lock()
	c.tokenInfo = &info
	c.mu.Unlock()

	c.logger.DebugContext(ctx, "fetched token info",
		"symbol", info.Symbol,
		"decimals", info.Decimals,
		"fee", info.Fee.String(),
	)
	out := info
	return &out, nil
}

// TokenInfo returns the cached token info, fetching it on first use.
func (c *Client) TokenInfo(ctx context.Context) (*TokenInfo, error) {
	c.mu.Lock()
	cached := c.tokenInfo
	c.mu.Unlock()
	if cached != nil {
		out := *cached
		return &out, nil
	}
	return c.GetTokenInfo(ctx)
}

// RefreshTokenInfo discards the cached token info and refetches it.
func (c *Client) RefreshTokenInfo(ctx context.Context) (*TokenInfo, error) {
	c.mu.Lock()
	c.tokenInfo = nil
	c.mu.Unlock()
	return c.GetTokenInfo(ctx)
}

func wrapCall(method string, err error) error {
	if err != nil {
		return fmt.Errorf("%s: %w", method, err)
	}
	return nil
}

// GetBalance returns the balance of account in minor units.
func (c *Client) GetBalance(ctx context.Context, account Account) (Amount, error) {
	start := time.Now()
	balance, err := c.svc.BalanceOf(ctx, account)
	c.recordCall(ctx, "icrc1_balance_of", start, err)
	if err != nil {
		return Amount{}, fmt.Errorf("failed to get balance of %s: %w", account, err)
	}
	return balance, nil
}

// Balance returns the balance of the caller's default account.
func (c *Client) Balance(ctx context.Context) (Amount, error) {
	return c.GetBalance(ctx, c.Account())
}

// GetSupportedStandards lists the standards the ledger implements.
func (c *Client) GetSupportedStandards(ctx context.Context) ([]Standard, error) {
	start := time.Now()
	standards, err := c.svc.SupportedStandards(ctx)
	c.recordCall(ctx, "icrc1_supported_standards", start, err)
	if err != nil {
		return nil, fmt.Errorf("failed to get supported standards: %w", err)
	}
	return standards, nil
}

// GetMetadata returns the ledger's metadata entries.
func (c *Client) GetMetadata(ctx context.Context) ([]MetadataEntry, error) {
	start := time.Now()
	entries, err := c.svc.Metadata(ctx)
	c.recordCall(ctx, "icrc1_metadata", start, err)
	if err != nil {
		return nil, fmt.Errorf("failed to get metadata: %w", err)
	}
	return entries, nil
}

// GetMintingAccount returns the minting account, or nil if the ledger has none.
func (c *Client) GetMintingAccount(ctx context.Context) (*Account, error) {
	start := time.Now()
	account, err := c.svc.MintingAccount(ctx)
	c.recordCall(ctx, "icrc1_minting_account", start, err)
	if err != nil {
		return nil, fmt.Errorf("failed to get minting account: %w", err)
	}
	return account, nil
}

// Transfer sends amount from the caller's default account to to. The fee is
// left to the ledger and created_at_time is taken from the client clock.
//
// On success the balance and history are refreshed, in that order, and the
// transaction index is returned. If a refresh fails the index is still
// returned, together with a *RefreshError. On failure nothing is refreshed
// and the error is a *TransferError (or a local validation error).
func (c *Client) Transfer(ctx context.Context, to Account, amount Amount, memo []byte) (uint64, error) {
	return c.TransferWithOptions(ctx, TransferRequest{
		To:     to,
		Amount: amount,
		Memo:   memo,
	})
}

// TransferWithOptions submits req as given, filling in CreatedAtTime when it
// is nil. The refresh rule of Transfer applies.
func (c *Client) TransferWithOptions(ctx context.Context, req TransferRequest) (uint64, error) {
	if req.Amount.IsZero() {
		return 0, ErrZeroAmount
	}
	if c.caller.IsAnonymous() {
		return 0, ErrAnonymousCaller
	}
	if req.CreatedAtTime == nil {
		ts := uint64(c.now().UnixNano())
		req.CreatedAtTime = &ts
	}

	from := Account{Owner: c.caller, Subaccount: req.FromSubaccount}
	c.logger.DebugContext(ctx, "submitting transfer",
		"from", from.String(),
		"to", req.To.String(),
		"amount", req.Amount.String(),
	)

	start := time.Now()
	result, err := c.svc.Transfer(ctx, req)
	c.recordCall(ctx, "icrc1_transfer", start, err)

	if err == nil && result.Err == nil && result.Ok == nil {
		err = fmt.Errorf("empty transfer result")
	}
	if err != nil {
		return 0, c.transferFailed(ctx, NewTransportError(err))
	}
	if result.Err != nil {
		return 0, c.transferFailed(ctx, result.Err)
	}

	index := *result.Ok
	if c.metrics != nil {
		c.metrics.RecordTransfer("ok")
	}
	c.logger.InfoContext(ctx, "transfer committed",
		"index", index,
		"to", req.To.String(),
		"amount", req.Amount.String(),
	)
	for _, o := range c.observers {
		o.TransferCommitted(ctx, from, req, index)
	}

	_, balanceErr := c.RefreshBalance(ctx)
	_, historyErr := c.refreshHistory(ctx, index+1)
	if err := errors.Join(balanceErr, historyErr); err != nil {
		return index, &RefreshError{Index: index, Err: err}
	}
	return index, nil
}

func (c *Client) transferFailed(ctx context.Context, terr *TransferError) error {
	if c.metrics != nil {
		c.metrics.RecordTransfer(string(terr.Kind))
	}
	c.logger.WarnContext(ctx, "transfer failed",
		"kind", string(terr.Kind),
		"error", terr.Error(),
		"retryable", terr.Retryable(),
	)
	return terr
}

// RefreshBalance reads the caller's balance and notifies observers.
func (c *Client) RefreshBalance(ctx context.Context) (Amount, error) {
	account := c.Account()
	balance, err := c.GetBalance(ctx, account)
	if c.metrics != nil {
		c.metrics.RecordRefresh("balance", err)
	}
	if err != nil {
		return Amount{}, fmt.Errorf("refresh balance: %w", err)
	}
	for _, o := range c.observers {
		o.BalanceRefreshed(ctx, account, balance)
	}
	return balance, nil
}

// RefreshHistory reads the most recent page of the log, keeps the caller's
// transactions and notifies observers. The log length is not known up front,
// so a log longer than the page size costs two reads.
func (c *Client) RefreshHistory(ctx context.Context) (*TransactionPage, error) {
	return c.refreshHistory(ctx, 0)
}

// refreshHistory is RefreshHistory with a known lower bound on the log
// length (e.g. a committed index + 1), which lets it read the tail ending at
// that record in a single call. Zero means unknown.
func (c *Client) refreshHistory(ctx context.Context, logLength uint64) (*TransactionPage, error) {
	var (
		page *TransactionPage
		err  error
	)
	if logLength > 0 {
		page, err = c.GetTransactions(ctx, tailStart(logLength, c.pageSize), c.pageSize)
	} else {
		page, err = c.latestPage(ctx)
	}
	if c.metrics != nil {
		c.metrics.RecordRefresh("history", err)
	}
	if err != nil {
		return nil, fmt.Errorf("refresh history: %w", err)
	}

	page.Transactions = RelevantTo(c.caller, page.Transactions)
	account := c.Account()
	for _, o := range c.observers {
		o.HistoryRefreshed(ctx, account, page)
	}
	return page, nil
}

// latestPage reads the first page of the log and, if the log has grown past
// it, the last pageSize records instead.
func (c *Client) latestPage(ctx context.Context) (*TransactionPage, error) {
	page, err := c.GetTransactions(ctx, 0, c.pageSize)
	if err != nil {
		return nil, err
	}
	if page.LogLength <= c.pageSize {
		return page, nil
	}
	return c.GetTransactions(ctx, tailStart(page.LogLength, c.pageSize), c.pageSize)
}

func tailStart(logLength, pageSize uint64) uint64 {
	if logLength <= pageSize {
		return 0
	}
	return logLength - pageSize
}

// GetTransactions reads length records starting at log index start and
// classifies them. A single malformed record fails the call.
func (c *Client) GetTransactions(ctx context.Context, start, length uint64) (*TransactionPage, error) {
	began := time.Now()
	resp, err := c.svc.GetTransactions(ctx, GetTransactionsRequest{Start: start, Length: length})
	c.recordCall(ctx, "get_transactions", began, err)
	if err != nil {
		return nil, fmt.Errorf("failed to get transactions [%d, +%d): %w", start, length, err)
	}

	page, err := ClassifyPage(resp)
	if err != nil {
		if c.metrics != nil {
			c.metrics.RecordTransactionDecoded("malformed")
		}
		c.logger.ErrorContext(ctx, "failed to decode transactions",
			"start", start,
			"length", length,
			"error", err,
		)
		return nil, err
	}
	if c.metrics != nil {
		for _, tx := range page.Transactions {
			c.metrics.RecordTransactionDecoded(string(tx.Kind))
		}
	}

	c.logger.DebugContext(ctx, "fetched transactions",
		"start", start,
		"count", len(page.Transactions),
		"first_index", page.FirstIndex,
		"log_length", page.LogLength,
	)
	return page, nil
}

// History is GetTransactions restricted to the caller's transactions.
func (c *Client) History(ctx context.Context, start, length uint64) (*TransactionPage, error) {
	page, err := c.GetTransactions(ctx, start, length)
	if err != nil {
		return nil, err
	}
	page.Transactions = RelevantTo(c.caller, page.Transactions)
	return page, nil
}

// TransactionCount returns the length of the ledger's transaction log.
func (c *Client) TransactionCount(ctx context.Context) (uint64, error) {
	page, err := c.GetTransactions(ctx, 0, 1)
	if err != nil {
		return 0, err
	}
	return page.LogLength, nil
}
