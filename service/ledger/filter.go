package ledger

import "github.com/samber/lo"

// RelevantTo keeps the transactions that involve p: transfers it sent or
// received, mints credited to it and burns debited from it. Owners are
// compared by principal bytes. Input order is preserved.
func RelevantTo(p Principal, txs []Transaction) []Transaction {
	return lo.Filter(txs, func(tx Transaction, _ int) bool {
		switch tx.Kind {
		case TxTransfer:
			return ownedBy(tx.From, p) || ownedBy(tx.To, p)
		case TxMint:
			return ownedBy(tx.To, p)
		case TxBurn:
			return ownedBy(tx.From, p)
		default:
			return false
		}
	})
}

// RelevantToAccount is RelevantTo for a single account, subaccount included.
func RelevantToAccount(a Account, txs []Transaction) []Transaction {
	is := func(other *Account) bool { return other != nil && other.Equal(a) }
	return lo.Filter(txs, func(tx Transaction, _ int) bool {
		switch tx.Kind {
		case TxTransfer:
			return is(tx.From) || is(tx.To)
		case TxMint:
			return is(tx.To)
		case TxBurn:
			return is(tx.From)
		default:
			return false
		}
	})
}

// TransferDirection describes a transaction from one principal's viewpoint.
type TransferDirection string

const (
	DirectionIncoming  TransferDirection = "incoming"
	DirectionOutgoing  TransferDirection = "outgoing"
	DirectionSelf      TransferDirection = "self"
	DirectionUnrelated TransferDirection = "unrelated"
)

// Direction reports how tx moved funds relative to p.
func Direction(p Principal, tx Transaction) TransferDirection {
	from, to := ownedBy(tx.From, p), ownedBy(tx.To, p)
	switch {
	case from && to:
		return DirectionSelf
	case from:
		return DirectionOutgoing
	case to:
		return DirectionIncoming
	default:
		return DirectionUnrelated
	}
}
