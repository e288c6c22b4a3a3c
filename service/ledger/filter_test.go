package ledger

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func transferTx(index uint64, from, to Principal) Transaction {
	f, t := FromIdentity(from), FromIdentity(to)
	return Transaction{Index: index, Kind: TxTransfer, Amount: NewAmount(1), From: &f, To: &t}
}

func mintTx(index uint64, to Principal) Transaction {
	t := FromIdentity(to)
	return Transaction{Index: index, Kind: TxMint, Amount: NewAmount(1), To: &t}
}

func burnTx(index uint64, from Principal) Transaction {
	f := FromIdentity(from)
	return Transaction{Index: index, Kind: TxBurn, Amount: NewAmount(1), From: &f}
}

func indexes(txs []Transaction) []uint64 {
	out := make([]uint64, 0, len(txs))
	for _, tx := range txs {
		out = append(out, tx.Index)
	}
	return out
}

func TestRelevantTo(t *testing.T) {
	txs := []Transaction{
		transferTx(0, alice, bob),
		transferTx(1, bob, carol),
		mintTx(2, alice),
		mintTx(3, bob),
		burnTx(4, alice),
		burnTx(5, carol),
		transferTx(6, carol, alice),
	}

	assert.Equal(t, []uint64{0, 2, 4, 6}, indexes(RelevantTo(alice, txs)))
	assert.Equal(t, []uint64{0, 1, 3}, indexes(RelevantTo(bob, txs)))
	assert.Empty(t, RelevantTo(AnonymousPrincipal, txs))
}

func TestRelevantTo_MintCreditedToOther(t *testing.T) {
	txs := []Transaction{mintTx(0, bob)}
	assert.Empty(t, RelevantTo(alice, txs))
}

func TestRelevantTo_ComparesBytesNotText(t *testing.T) {
	// Principals whose textual forms share a prefix must not match.
	short := mustPrincipal([]byte{0x01})
	long := mustPrincipal([]byte{0x01, 0x00})
	txs := []Transaction{transferTx(0, long, bob)}

	assert.Empty(t, RelevantTo(short, txs))
	assert.Len(t, RelevantTo(long, txs), 1)
}

func TestRelevantToAccount(t *testing.T) {
	savings := Subaccount{31: 7}
	aliceSavings := Account{Owner: alice, Subaccount: &savings}
	aliceDefault := FromIdentity(alice)
	bobDefault := FromIdentity(bob)

	txs := []Transaction{
		{Index: 0, Kind: TxTransfer, From: &aliceDefault, To: &bobDefault},
		{Index: 1, Kind: TxTransfer, From: &bobDefault, To: &aliceSavings},
		{Index: 2, Kind: TxMint, To: &aliceSavings},
	}

	assert.Equal(t, []uint64{1, 2}, indexes(RelevantToAccount(aliceSavings, txs)))
	assert.Equal(t, []uint64{0}, indexes(RelevantToAccount(aliceDefault, txs)))
}

func TestDirection(t *testing.T) {
	assert.Equal(t, DirectionOutgoing, Direction(alice, transferTx(0, alice, bob)))
	assert.Equal(t, DirectionIncoming, Direction(bob, transferTx(0, alice, bob)))
	assert.Equal(t, DirectionSelf, Direction(alice, transferTx(0, alice, alice)))
	assert.Equal(t, DirectionUnrelated, Direction(carol, transferTx(0, alice, bob)))
	assert.Equal(t, DirectionIncoming, Direction(alice, mintTx(0, alice)))
	assert.Equal(t, DirectionOutgoing, Direction(alice, burnTx(0, alice)))
}
