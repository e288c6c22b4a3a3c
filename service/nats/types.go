package nats

import (
	"fmt"
	"time"

	"github.com/brojonat/kotomo/service/ledger"
	"github.com/google/uuid"
)

// EventType names what changed in the wallet.
type EventType string

const (
	EventTransferCommitted EventType = "transfer"
	EventBalanceRefreshed  EventType = "balance"
	EventHistoryRefreshed  EventType = "history"
)

// WalletEvent is published to "wallet.{principal}.{type}" in JetStream.
// Amounts are minor-unit decimal strings.
type WalletEvent struct {
	ID      string    `json:"id"`
	Type    EventType `json:"type"`
	Wallet  string    `json:"wallet"`  // owner principal text
	Account string    `json:"account"` // ICRC-1 textual account

	// Transfer events
	Index  *uint64 `json:"index,omitempty"`
	To     string  `json:"to,omitempty"`
	Amount string  `json:"amount,omitempty"`
	Memo   []byte  `json:"memo,omitempty"`

	// Balance events
	Balance string `json:"balance,omitempty"`

	// History events
	Transactions []ledger.Transaction `json:"transactions,omitempty"`
	LogLength    *uint64              `json:"log_length,omitempty"`

	PublishedAt time.Time `json:"published_at"`
}

// Subject returns the JetStream subject for the event.
func (e *WalletEvent) Subject() string {
	return fmt.Sprintf("wallet.%s.%s", e.Wallet, e.Type)
}

func newEvent(t EventType, account ledger.Account) *WalletEvent {
	return &WalletEvent{
		ID:          uuid.NewString(),
		Type:        t,
		Wallet:      account.Owner.String(),
		Account:     account.String(),
		PublishedAt: time.Now().UTC(),
	}
}

// NewTransferEvent describes a committed transfer.
func NewTransferEvent(from ledger.Account, req ledger.TransferRequest, index uint64) *WalletEvent {
	e := newEvent(EventTransferCommitted, from)
	e.Index = &index
	e.To = req.To.String()
	e.Amount = req.Amount.String()
	e.Memo = req.Memo
	return e
}

// NewBalanceEvent describes a refreshed balance.
func NewBalanceEvent(account ledger.Account, balance ledger.Amount) *WalletEvent {
	e := newEvent(EventBalanceRefreshed, account)
	e.Balance = balance.String()
	return e
}

// NewHistoryEvent describes a refreshed history page.
func NewHistoryEvent(account ledger.Account, page *ledger.TransactionPage) *WalletEvent {
	e := newEvent(EventHistoryRefreshed, account)
	logLength := page.LogLength
	e.LogLength = &logLength
	e.Transactions = page.Transactions
	return e
}
