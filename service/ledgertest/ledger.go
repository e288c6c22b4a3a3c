// Package ledgertest provides an in-memory ICRC-1 ledger for tests and demos.
//
// The ledger enforces the transfer rules a real ledger applies (fee check,
// balance check, mint and burn through the minting account, the
// created_at_time window and deduplication) so that wallet code can be
// exercised end to end without a network.
package ledgertest

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/brojonat/kotomo/service/ledger"
)

const (
	// TransactionWindow is how long a created_at_time stays valid, and how
	// long deduplication remembers a request.
	TransactionWindow = 24 * time.Hour

	// PermittedDrift is the clock skew tolerated between caller and ledger.
	PermittedDrift = 2 * time.Minute
)

type accountKey struct {
	owner ledger.Principal
	sub   ledger.Subaccount
}

func keyOf(a ledger.Account) accountKey {
	return accountKey{owner: a.Owner, sub: a.EffectiveSubaccount()}
}

// Ledger is a thread-safe in-memory ledger. Use As to obtain a
// ledger.Service bound to a caller.
type Ledger struct {
	mu sync.Mutex

	name     string
	symbol   string
	decimals uint8
	fee      ledger.Amount
	minBurn  ledger.Amount
	minting  *ledger.Account
	now      func() time.Time
	retain   int

	balances   map[accountKey]ledger.Amount
	supply     ledger.Amount
	log        []ledger.RawTransaction
	firstIndex uint64
	dedup      map[string]uint64

	unavailable  bool
	transportErr error
}

// Option configures a Ledger.
type Option func(*Ledger)

// WithToken sets the token name, symbol and decimals.
func WithToken(name, symbol string, decimals uint8) Option {
	return func(l *Ledger) {
		l.name = name
		l.symbol = symbol
		l.decimals = decimals
	}
}

// WithFee sets the transfer fee.
func WithFee(fee ledger.Amount) Option {
	return func(l *Ledger) { l.fee = fee }
}

// WithMintingAccount sets the account whose outgoing transfers mint and
// whose incoming transfers burn.
func WithMintingAccount(a ledger.Account) Option {
	return func(l *Ledger) { l.minting = &a }
}

// WithMinBurn sets the smallest amount a burn may destroy.
func WithMinBurn(a ledger.Amount) Option {
	return func(l *Ledger) { l.minBurn = a }
}

// WithClock overrides the ledger clock.
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) { l.now = now }
}

// WithRetention keeps only the newest n records; older ones are archived
// and no longer served, which moves first_index forward.
func WithRetention(n int) Option {
	return func(l *Ledger) { l.retain = n }
}

// New creates an empty ledger. Defaults: "Kotomo Test Token", "KOTO",
// 8 decimals, fee 10000.
func New(opts ...Option) *Ledger {
	l := &Ledger{
		name:     "Kotomo Test Token",
		symbol:   "KOTO",
		decimals: 8,
		fee:      ledger.NewAmount(10_000),
		now:      time.Now,
		balances: make(map[accountKey]ledger.Amount),
		dedup:    make(map[string]uint64),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Mint credits amount to to and records a mint. It bypasses the transfer
// rules and is meant for seeding balances.
func (l *Ledger) Mint(to ledger.Account, amount ledger.Amount, memo []byte) uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.credit(to, amount)
	l.supply = l.supply.Add(amount)
	return l.appendLocked(ledger.RawTransaction{
		Kind: "mint",
		Mint: &ledger.RawMint{To: to, Amount: amount, Memo: memo},
	})
}

// Append adds a raw record to the log without touching balances. Tests use
// it to inject records the ledger would never produce itself.
func (l *Ledger) Append(raw ledger.RawTransaction) uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.appendLocked(raw)
}

// SetUnavailable makes transfers fail with TemporarilyUnavailable.
func (l *Ledger) SetUnavailable(unavailable bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.unavailable = unavailable
}

// FailWith makes every call return err, as if the ledger were unreachable.
// A nil err restores normal operation.
func (l *Ledger) FailWith(err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.transportErr = err
}

// BalanceOf returns the balance of a without going through a caller.
func (l *Ledger) BalanceOf(a ledger.Account) ledger.Amount {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.balances[keyOf(a)]
}

// LogLength returns the total number of records ever appended.
func (l *Ledger) LogLength() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.firstIndex + uint64(len(l.log))
}

// As returns a ledger.Service whose transfers are signed by caller.
func (l *Ledger) As(caller ledger.Principal) ledger.Service {
	return &boundService{ledger: l, caller: caller}
}

func (l *Ledger) credit(a ledger.Account, amount ledger.Amount) {
	k := keyOf(a)
	l.balances[k] = l.balances[k].Add(amount)
}

func (l *Ledger) debit(a ledger.Account, amount ledger.Amount) error {
	k := keyOf(a)
	left, err := l.balances[k].Sub(amount)
	if err != nil {
		return err
	}
	if left.IsZero() {
		delete(l.balances, k)
	} else {
		l.balances[k] = left
	}
	return nil
}

func (l *Ledger) appendLocked(raw ledger.RawTransaction) uint64 {
	if raw.Timestamp == 0 {
		raw.Timestamp = uint64(l.now().UnixNano())
	}
	index := l.firstIndex + uint64(len(l.log))
	l.log = append(l.log, raw)

	if l.retain > 0 && len(l.log) > l.retain {
		drop := len(l.log) - l.retain
		l.log = append([]ledger.RawTransaction(nil), l.log[drop:]...)
		l.firstIndex += uint64(drop)
	}
	return index
}

func (l *Ledger) transfer(caller ledger.Principal, req ledger.TransferRequest) ledger.TransferResult {
	l.mu.Lock()
	defer l.mu.Unlock()

	reject := func(e *ledger.TransferError) ledger.TransferResult {
		return ledger.TransferResult{Err: e}
	}

	if l.unavailable {
		return reject(&ledger.TransferError{Kind: ledger.KindTemporarilyUnavailable})
	}

	now := l.now()
	if req.CreatedAtTime != nil {
		created := time.Unix(0, int64(*req.CreatedAtTime))
		if created.Before(now.Add(-TransactionWindow - PermittedDrift)) {
			return reject(&ledger.TransferError{Kind: ledger.KindTooOld})
		}
		if created.After(now.Add(PermittedDrift)) {
			ledgerTime := uint64(now.UnixNano())
			return reject(&ledger.TransferError{Kind: ledger.KindCreatedInFuture, LedgerTime: &ledgerTime})
		}
	}

	dedupKey := ""
	if req.CreatedAtTime != nil {
		dedupKey = dedupKeyOf(caller, req)
		if original, ok := l.dedup[dedupKey]; ok {
			return reject(&ledger.TransferError{Kind: ledger.KindDuplicate, DuplicateOf: &original})
		}
	}

	from := ledger.Account{Owner: caller, Subaccount: req.FromSubaccount}
	isMint := l.minting != nil && from.Equal(*l.minting)
	isBurn := l.minting != nil && req.To.Equal(*l.minting)

	var raw ledger.RawTransaction
	switch {
	case isMint:
		if req.Fee != nil && !req.Fee.IsZero() {
			zero := ledger.Amount{}
			return reject(&ledger.TransferError{Kind: ledger.KindBadFee, ExpectedFee: &zero})
		}
		l.credit(req.To, req.Amount)
		l.supply = l.supply.Add(req.Amount)
		raw = ledger.RawTransaction{
			Kind: "mint",
			Mint: &ledger.RawMint{To: req.To, Amount: req.Amount, Memo: req.Memo, CreatedAtTime: req.CreatedAtTime},
		}

	case isBurn:
		if req.Fee != nil && !req.Fee.IsZero() {
			zero := ledger.Amount{}
			return reject(&ledger.TransferError{Kind: ledger.KindBadFee, ExpectedFee: &zero})
		}
		if req.Amount.Cmp(l.minBurn) < 0 {
			minBurn := l.minBurn
			return reject(&ledger.TransferError{Kind: ledger.KindBadBurn, MinimumBurn: &minBurn})
		}
		if err := l.debit(from, req.Amount); err != nil {
			balance := l.balances[keyOf(from)]
			return reject(&ledger.TransferError{Kind: ledger.KindInsufficientFunds, CurrentBalance: &balance})
		}
		l.supply, _ = l.supply.Sub(req.Amount)
		raw = ledger.RawTransaction{
			Kind: "burn",
			Burn: &ledger.RawBurn{From: from, Amount: req.Amount, Memo: req.Memo, CreatedAtTime: req.CreatedAtTime},
		}

	default:
		if req.Fee != nil && !req.Fee.Equal(l.fee) {
			expected := l.fee
			return reject(&ledger.TransferError{Kind: ledger.KindBadFee, ExpectedFee: &expected})
		}
		if err := l.debit(from, req.Amount.Add(l.fee)); err != nil {
			balance := l.balances[keyOf(from)]
			return reject(&ledger.TransferError{Kind: ledger.KindInsufficientFunds, CurrentBalance: &balance})
		}
		l.credit(req.To, req.Amount)
		// Fees are burned.
		l.supply, _ = l.supply.Sub(l.fee)
		fee := l.fee
		raw = ledger.RawTransaction{
			Kind: "transfer",
			Transfer: &ledger.RawTransfer{
				From:          from,
				To:            req.To,
				Amount:        req.Amount,
				Fee:           &fee,
				Memo:          req.Memo,
				CreatedAtTime: req.CreatedAtTime,
			},
		}
	}

	raw.Timestamp = uint64(now.UnixNano())
	index := l.appendLocked(raw)
	if dedupKey != "" {
		l.dedup[dedupKey] = index
	}
	return ledger.TransferResult{Ok: &index}
}

// dedupKeyOf identifies a request for deduplication: same caller, same
// arguments.
func dedupKeyOf(caller ledger.Principal, req ledger.TransferRequest) string {
	data, err := json.Marshal(req)
	if err != nil {
		return ""
	}
	return caller.String() + "|" + string(data)
}

func (l *Ledger) getTransactions(req ledger.GetTransactionsRequest) *ledger.GetTransactionsResponse {
	l.mu.Lock()
	defer l.mu.Unlock()

	total := l.firstIndex + uint64(len(l.log))
	start := max(req.Start, l.firstIndex)
	start = min(start, total)
	end := total
	if req.Length < total-start {
		end = start + req.Length
	}

	txs := make([]ledger.RawTransaction, 0, end-start)
	txs = append(txs, l.log[start-l.firstIndex:end-l.firstIndex]...)
	return &ledger.GetTransactionsResponse{
		FirstIndex:   start,
		LogLength:    total,
		Transactions: txs,
	}
}

func (l *Ledger) failure() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.transportErr
}

// boundService is the ledger as seen by one caller.
type boundService struct {
	ledger *Ledger
	caller ledger.Principal
}

func (s *boundService) Name(ctx context.Context) (string, error) {
	if err := s.ledger.failure(); err != nil {
		return "", err
	}
	return s.ledger.name, nil
}

func (s *boundService) Symbol(ctx context.Context) (string, error) {
	if err := s.ledger.failure(); err != nil {
		return "", err
	}
	return s.ledger.symbol, nil
}

func (s *boundService) Decimals(ctx context.Context) (uint8, error) {
	if err := s.ledger.failure(); err != nil {
		return 0, err
	}
	return s.ledger.decimals, nil
}

func (s *boundService) Fee(ctx context.Context) (ledger.Amount, error) {
	if err := s.ledger.failure(); err != nil {
		return ledger.Amount{}, err
	}
	return s.ledger.fee, nil
}

func (s *boundService) TotalSupply(ctx context.Context) (ledger.Amount, error) {
	if err := s.ledger.failure(); err != nil {
		return ledger.Amount{}, err
	}
	s.ledger.mu.Lock()
	defer s.ledger.mu.Unlock()
	return s.ledger.supply, nil
}

func (s *boundService) Metadata(ctx context.Context) ([]ledger.MetadataEntry, error) {
	if err := s.ledger.failure(); err != nil {
		return nil, err
	}
	name, symbol := s.ledger.name, s.ledger.symbol
	decimals := ledger.NewAmount(uint64(s.ledger.decimals))
	fee := s.ledger.fee
	return []ledger.MetadataEntry{
		{Key: "icrc1:name", Value: ledger.MetadataValue{Text: &name}},
		{Key: "icrc1:symbol", Value: ledger.MetadataValue{Text: &symbol}},
		{Key: "icrc1:decimals", Value: ledger.MetadataValue{Nat: &decimals}},
		{Key: "icrc1:fee", Value: ledger.MetadataValue{Nat: &fee}},
	}, nil
}

func (s *boundService) MintingAccount(ctx context.Context) (*ledger.Account, error) {
	if err := s.ledger.failure(); err != nil {
		return nil, err
	}
	if s.ledger.minting == nil {
		return nil, nil
	}
	out := *s.ledger.minting
	return &out, nil
}

func (s *boundService) SupportedStandards(ctx context.Context) ([]ledger.Standard, error) {
	if err := s.ledger.failure(); err != nil {
		return nil, err
	}
	return []ledger.Standard{
		{Name: "ICRC-1", URL: "https://github.com/dfinity/ICRC-1/tree/main/standards/ICRC-1"},
	}, nil
}

func (s *boundService) BalanceOf(ctx context.Context, account ledger.Account) (ledger.Amount, error) {
	if err := s.ledger.failure(); err != nil {
		return ledger.Amount{}, err
	}
	return s.ledger.BalanceOf(account), nil
}

func (s *boundService) Transfer(ctx context.Context, req ledger.TransferRequest) (ledger.TransferResult, error) {
	if err := s.ledger.failure(); err != nil {
		return ledger.TransferResult{}, err
	}
	return s.ledger.transfer(s.caller, req), nil
}

func (s *boundService) GetTransactions(ctx context.Context, req ledger.GetTransactionsRequest) (*ledger.GetTransactionsResponse, error) {
	if err := s.ledger.failure(); err != nil {
		return nil, err
	}
	return s.ledger.getTransactions(req), nil
}
