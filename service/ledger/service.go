package ledger

import "context"

// Service is the remote ledger surface, one method per ledger call.
// Implementations are bound to a caller identity: Transfer debits the
// caller's account. This allows the client to be tested without a network.
//
// A non-nil error from any method is a transport failure: no ledger
// answer was obtained. Ledger rejections of a transfer arrive in
// TransferResult.Err with a nil error.
type Service interface {
	Name(ctx context.Context) (string, error)
	Symbol(ctx context.Context) (string, error)
	Decimals(ctx context.Context) (uint8, error)
	Fee(ctx context.Context) (Amount, error)
	TotalSupply(ctx context.Context) (Amount, error)
	Metadata(ctx context.Context) ([]MetadataEntry, error)
	MintingAccount(ctx context.Context) (*Account, error)
	SupportedStandards(ctx context.Context) ([]Standard, error)
	BalanceOf(ctx context.Context, account Account) (Amount, error)
	Transfer(ctx context.Context, req TransferRequest) (TransferResult, error)
	GetTransactions(ctx context.Context, req GetTransactionsRequest) (*GetTransactionsResponse, error)
}
