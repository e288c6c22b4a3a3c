package ledgertest

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/brojonat/kotomo/service/ledger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	minter = mustPrincipal(0x01)
	alice  = mustPrincipal(0xa1)
	bob    = mustPrincipal(0xb0)
)

func mustPrincipal(b ...byte) ledger.Principal {
	p, err := ledger.PrincipalFromBytes(b)
	if err != nil {
		panic(err)
	}
	return p
}

func fixedClock() func() time.Time {
	now := time.Unix(1_700_000_000, 0)
	return func() time.Time { return now }
}

func newLedger(opts ...Option) *Ledger {
	base := []Option{
		WithMintingAccount(ledger.FromIdentity(minter)),
		WithClock(fixedClock()),
		WithMinBurn(ledger.NewAmount(100)),
	}
	return New(append(base, opts...)...)
}

func newClient(l *Ledger, caller ledger.Principal, opts ...ledger.Option) *ledger.Client {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	opts = append([]ledger.Option{ledger.WithLogger(logger), ledger.WithClock(fixedClock())}, opts...)
	return ledger.NewClient(l.As(caller), caller, opts...)
}

func TestTransfer_MovesFundsAndBurnsFee(t *testing.T) {
	l := newLedger()
	l.Mint(ledger.FromIdentity(alice), ledger.NewAmount(1_000_000), nil)

	client := newClient(l, alice)
	index, err := client.Transfer(context.Background(), ledger.FromIdentity(bob), ledger.NewAmount(250_000), []byte("rent"))
	require.NoError(t, err)
	assert.Equal(t, uint64(1), index)

	assert.Equal(t, "740000", l.BalanceOf(ledger.FromIdentity(alice)).String())
	assert.Equal(t, "250000", l.BalanceOf(ledger.FromIdentity(bob)).String())

	info, err := client.GetTokenInfo(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "990000", info.TotalSupply.String())

	page, err := client.History(context.Background(), 0, 10)
	require.NoError(t, err)
	require.Len(t, page.Transactions, 2)
	assert.Equal(t, ledger.TxMint, page.Transactions[0].Kind)
	assert.Equal(t, ledger.TxTransfer, page.Transactions[1].Kind)
	assert.Equal(t, []byte("rent"), page.Transactions[1].Memo)
	assert.Equal(t, "10000", page.Transactions[1].Fee.String())
}

func TestTransfer_InsufficientFunds(t *testing.T) {
	l := newLedger()
	l.Mint(ledger.FromIdentity(alice), ledger.NewAmount(100), nil)

	client := newClient(l, alice)
	_, err := client.Transfer(context.Background(), ledger.FromIdentity(bob), ledger.NewAmount(100), nil)

	var terr *ledger.TransferError
	require.ErrorAs(t, err, &terr)
	assert.Equal(t, ledger.KindInsufficientFunds, terr.Kind)
	assert.Equal(t, "100", terr.CurrentBalance.String())
	assert.Equal(t, uint64(1), l.LogLength(), "rejected transfers are not logged")
}

func TestTransfer_BadFee(t *testing.T) {
	l := newLedger()
	l.Mint(ledger.FromIdentity(alice), ledger.NewAmount(1_000_000), nil)

	fee := ledger.NewAmount(1)
	client := newClient(l, alice)
	_, err := client.TransferWithOptions(context.Background(), ledger.TransferRequest{
		To:     ledger.FromIdentity(bob),
		Amount: ledger.NewAmount(10),
		Fee:    &fee,
	})

	var terr *ledger.TransferError
	require.ErrorAs(t, err, &terr)
	assert.Equal(t, ledger.KindBadFee, terr.Kind)
	assert.Equal(t, "10000", terr.ExpectedFee.String())
}

func TestTransfer_MintAndBurn(t *testing.T) {
	l := newLedger()
	ctx := context.Background()

	minterClient := newClient(l, minter)
	_, err := minterClient.Transfer(ctx, ledger.FromIdentity(alice), ledger.NewAmount(500), []byte("welcome"))
	require.NoError(t, err)
	assert.Equal(t, "500", l.BalanceOf(ledger.FromIdentity(alice)).String())

	aliceClient := newClient(l, alice)
	_, err = aliceClient.Transfer(ctx, ledger.FromIdentity(minter), ledger.NewAmount(50), nil)
	var terr *ledger.TransferError
	require.ErrorAs(t, err, &terr)
	assert.Equal(t, ledger.KindBadBurn, terr.Kind)
	assert.Equal(t, "100", terr.MinimumBurn.String())

	_, err = aliceClient.Transfer(ctx, ledger.FromIdentity(minter), ledger.NewAmount(200), nil)
	require.NoError(t, err)
	assert.Equal(t, "300", l.BalanceOf(ledger.FromIdentity(alice)).String())

	page, err := aliceClient.History(ctx, 0, 10)
	require.NoError(t, err)
	require.Len(t, page.Transactions, 2)
	assert.Equal(t, ledger.TxMint, page.Transactions[0].Kind)
	assert.Equal(t, []byte("welcome"), page.Transactions[0].Memo)
	assert.Equal(t, ledger.TxBurn, page.Transactions[1].Kind)
}

func TestTransfer_CreatedAtWindow(t *testing.T) {
	l := newLedger()
	l.Mint(ledger.FromIdentity(alice), ledger.NewAmount(1_000_000), nil)
	client := newClient(l, alice)
	now := fixedClock()()

	old := uint64(now.Add(-25 * time.Hour).UnixNano())
	_, err := client.TransferWithOptions(context.Background(), ledger.TransferRequest{
		To: ledger.FromIdentity(bob), Amount: ledger.NewAmount(1), CreatedAtTime: &old,
	})
	assert.ErrorIs(t, err, ledger.KindTooOld)

	future := uint64(now.Add(5 * time.Minute).UnixNano())
	_, err = client.TransferWithOptions(context.Background(), ledger.TransferRequest{
		To: ledger.FromIdentity(bob), Amount: ledger.NewAmount(1), CreatedAtTime: &future,
	})
	var terr *ledger.TransferError
	require.ErrorAs(t, err, &terr)
	assert.Equal(t, ledger.KindCreatedInFuture, terr.Kind)
	require.NotNil(t, terr.LedgerTime)
	assert.Equal(t, uint64(now.UnixNano()), *terr.LedgerTime)
}

func TestTransfer_Duplicate(t *testing.T) {
	l := newLedger()
	l.Mint(ledger.FromIdentity(alice), ledger.NewAmount(1_000_000), nil)
	client := newClient(l, alice)

	first, err := client.Transfer(context.Background(), ledger.FromIdentity(bob), ledger.NewAmount(5), nil)
	require.NoError(t, err)

	// Same clock, same arguments: the ledger recognizes the resubmission.
	_, err = client.Transfer(context.Background(), ledger.FromIdentity(bob), ledger.NewAmount(5), nil)
	var terr *ledger.TransferError
	require.ErrorAs(t, err, &terr)
	assert.Equal(t, ledger.KindDuplicate, terr.Kind)
	assert.Equal(t, first, *terr.DuplicateOf)
	assert.False(t, terr.Retryable())
}

func TestTransfer_Unavailable(t *testing.T) {
	l := newLedger()
	l.Mint(ledger.FromIdentity(alice), ledger.NewAmount(1_000_000), nil)
	l.SetUnavailable(true)

	client := newClient(l, alice)
	_, err := client.Transfer(context.Background(), ledger.FromIdentity(bob), ledger.NewAmount(5), nil)
	assert.ErrorIs(t, err, ledger.KindTemporarilyUnavailable)
}

func TestFailWith_TransportError(t *testing.T) {
	l := newLedger()
	cause := errors.New("no route to host")
	l.FailWith(cause)

	client := newClient(l, alice)
	_, err := client.Transfer(context.Background(), ledger.FromIdentity(bob), ledger.NewAmount(5), nil)
	assert.ErrorIs(t, err, ledger.KindTransportError)
	assert.ErrorIs(t, err, cause)

	_, err = client.Balance(context.Background())
	assert.ErrorIs(t, err, cause)

	l.FailWith(nil)
	_, err = client.Balance(context.Background())
	assert.NoError(t, err)
}

func TestGetTransactions_Window(t *testing.T) {
	l := newLedger()
	for i := 0; i < 10; i++ {
		l.Mint(ledger.FromIdentity(alice), ledger.NewAmount(uint64(i+1)), nil)
	}
	client := newClient(l, alice)

	page, err := client.GetTransactions(context.Background(), 0, 1)
	require.NoError(t, err)
	require.Len(t, page.Transactions, 1)
	assert.Equal(t, uint64(0), page.FirstIndex)
	assert.Equal(t, uint64(10), page.LogLength)

	page, err = client.GetTransactions(context.Background(), 8, 100)
	require.NoError(t, err)
	require.Len(t, page.Transactions, 2)
	assert.Equal(t, uint64(8), page.Transactions[0].Index)

	page, err = client.GetTransactions(context.Background(), 50, 5)
	require.NoError(t, err)
	assert.Empty(t, page.Transactions)
	assert.Equal(t, uint64(10), page.LogLength)
}

func TestGetTransactions_Retention(t *testing.T) {
	l := newLedger(WithRetention(3))
	for i := 0; i < 5; i++ {
		l.Mint(ledger.FromIdentity(alice), ledger.NewAmount(1), nil)
	}
	client := newClient(l, alice)

	page, err := client.GetTransactions(context.Background(), 0, 10)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), page.FirstIndex)
	assert.Equal(t, uint64(5), page.LogLength)
	require.Len(t, page.Transactions, 3)
	assert.Equal(t, uint64(2), page.Transactions[0].Index)
}

func TestMetadataAndStandards(t *testing.T) {
	l := newLedger(WithToken("Kotomo", "KOTO", 6))
	client := newClient(l, alice)
	ctx := context.Background()

	metadata, err := client.GetMetadata(ctx)
	require.NoError(t, err)
	values := map[string]string{}
	for _, e := range metadata {
		values[e.Key] = e.Value.String()
	}
	assert.Equal(t, "Kotomo", values["icrc1:name"])
	assert.Equal(t, "6", values["icrc1:decimals"])

	standards, err := client.GetSupportedStandards(ctx)
	require.NoError(t, err)
	require.NotEmpty(t, standards)
	assert.Equal(t, "ICRC-1", standards[0].Name)

	minting, err := client.GetMintingAccount(ctx)
	require.NoError(t, err)
	require.NotNil(t, minting)
	assert.Equal(t, minter, minting.Owner)
}
