package ledger

import (
	"fmt"
)

// ClassifyTransaction turns a raw history record into a Transaction.
// The record must carry exactly one of transfer, mint or burn; anything
// else is reported as ErrMalformedTransaction rather than guessed at.
func ClassifyTransaction(raw RawTransaction, index uint64) (Transaction, error) {
	present := 0
	for _, set := range []bool{raw.Transfer != nil, raw.Mint != nil, raw.Burn != nil} {
		if set {
			present++
		}
	}
	if present != 1 {
		return Transaction{}, fmt.Errorf("%w: record %d has %d of transfer/mint/burn, want exactly one (kind %q)",
			ErrMalformedTransaction, index, present, raw.Kind)
	}

	tx := Transaction{
		Index:     index,
		Timestamp: raw.Timestamp,
	}

	switch {
	case raw.Transfer != nil:
		from, to := raw.Transfer.From, raw.Transfer.To
		tx.Kind = TxTransfer
		tx.Amount = raw.Transfer.Amount
		tx.Fee = raw.Transfer.Fee
		tx.From = &from
		tx.To = &to
		tx.Memo = raw.Transfer.Memo
	case raw.Mint != nil:
		to := raw.Mint.To
		tx.Kind = TxMint
		tx.Amount = raw.Mint.Amount
		tx.To = &to
		tx.Memo = raw.Mint.Memo
	case raw.Burn != nil:
		from := raw.Burn.From
		tx.Kind = TxBurn
		tx.Amount = raw.Burn.Amount
		tx.From = &from
		tx.Memo = raw.Burn.Memo
	}
	return tx, nil
}

// ClassifyPage classifies every record of resp, numbering them from
// resp.FirstIndex. One malformed record fails the whole page.
func ClassifyPage(resp *GetTransactionsResponse) (*TransactionPage, error) {
	if resp == nil {
		return nil, fmt.Errorf("%w: empty response", ErrMalformedTransaction)
	}

	page := &TransactionPage{
		Transactions: make([]Transaction, 0, len(resp.Transactions)),
		FirstIndex:   resp.FirstIndex,
		LogLength:    resp.LogLength,
	}
	for i, raw := range resp.Transactions {
		tx, err := ClassifyTransaction(raw, resp.FirstIndex+uint64(i))
		if err != nil {
			return nil, fmt.Errorf("position %d: %w", i, err)
		}
		page.Transactions = append(page.Transactions, tx)
	}
	return page, nil
}
