package main

import (
	"fmt"
	"strings"

	"github.com/brojonat/kotomo/client"
	"github.com/brojonat/kotomo/service/ledger"
	"github.com/urfave/cli/v2"
)

func tokenCommand() *cli.Command {
	return &cli.Command{
		Name:  "token",
		Usage: "Show the ledger's token metadata",
		Action: func(c *cli.Context) error {
			info, err := newClient(c).TokenInfo(c.Context)
			if err != nil {
				return fmt.Errorf("failed to get token info: %w", err)
			}
			if c.Bool("json") {
				return printJSON(c, info)
			}

			w := c.App.Writer
			fmt.Fprintf(w, "%s (%s)\n", info.Name, info.Symbol)
			fmt.Fprintf(w, "  Decimals:     %d\n", info.Decimals)
			fmt.Fprintf(w, "  Fee:          %s %s\n", info.FeeFormatted, info.Symbol)
			fmt.Fprintf(w, "  Total supply: %s %s\n", info.TotalSupplyFormatted, info.Symbol)
			return nil
		},
	}
}

func balanceCommand() *cli.Command {
	return &cli.Command{
		Name:      "balance",
		Usage:     "Show the balance of the wallet or of another account",
		ArgsUsage: "[ACCOUNT]",
		Action: func(c *cli.Context) error {
			account := c.Args().First()
			if account != "" {
				if _, err := ledger.ParseAccount(account); err != nil {
					return fmt.Errorf("invalid account: %w", err)
				}
			}

			balance, err := newClient(c).Balance(c.Context, account)
			if err != nil {
				return fmt.Errorf("failed to get balance: %w", err)
			}
			if c.Bool("json") {
				return printJSON(c, balance)
			}

			fmt.Fprintf(c.App.Writer, "%s %s\n", balance.Formatted, balance.Symbol)
			fmt.Fprintf(c.App.Writer, "  Account: %s\n", balance.Account)
			return nil
		},
	}
}

func sendCommand() *cli.Command {
	return &cli.Command{
		Name:      "send",
		Usage:     "Send tokens from the wallet",
		ArgsUsage: "TO AMOUNT",
		Description: `Send AMOUNT (in display units, e.g. 1.25) to TO, which is a principal
or an ICRC-1 textual account. The ledger fee is charged on top of AMOUNT.`,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "memo",
				Usage: "Memo attached to the transfer (at most 32 bytes)",
			},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() != 2 {
				return fmt.Errorf("expected TO and AMOUNT arguments")
			}
			to := c.Args().Get(0)
			amountStr := c.Args().Get(1)

			// Reject bad input before touching the network.
			if _, err := ledger.ParseAccount(to); err != nil {
				return fmt.Errorf("invalid recipient: %w", err)
			}
			if len(c.String("memo")) > 32 {
				return fmt.Errorf("memo must be at most 32 bytes")
			}

			api := newClient(c)
			info, err := api.TokenInfo(c.Context)
			if err != nil {
				return fmt.Errorf("failed to get token info: %w", err)
			}

			amount, err := ledger.ParseAmount(amountStr, info.Decimals)
			if err != nil {
				return fmt.Errorf("invalid amount: %w", err)
			}
			if amount.IsZero() {
				return fmt.Errorf("amount must be greater than zero")
			}

			if !c.Bool("json") {
				total := amount.Add(info.Fee).Decimal(info.Decimals)
				fmt.Fprintf(c.App.Writer, "Sending %s %s to %s\n", ledger.FormatAmount(amount, info.Decimals), info.Symbol, to)
				fmt.Fprintf(c.App.Writer, "  Fee:   %s %s\n", info.FeeFormatted, info.Symbol)
				fmt.Fprintf(c.App.Writer, "  Total: %s %s\n", total.String(), info.Symbol)
			}

			result, err := api.Transfer(c.Context, to, amountStr, c.String("memo"))
			if err != nil {
				return fmt.Errorf("transfer failed: %w", err)
			}
			if c.Bool("json") {
				return printJSON(c, result)
			}

			fmt.Fprintf(c.App.Writer, "✓ Transfer committed at index %d\n", result.Index)
			if result.Warning != "" {
				fmt.Fprintf(c.App.Writer, "  Warning: %s\n", result.Warning)
			}
			return nil
		},
	}
}

func historyCommand() *cli.Command {
	return &cli.Command{
		Name:  "history",
		Usage: "List recent transactions",
		Flags: []cli.Flag{
			&cli.Uint64Flag{
				Name:  "start",
				Usage: "First ledger index to read (default: most recent window)",
			},
			&cli.Uint64Flag{
				Name:  "length",
				Usage: "Number of ledger entries to read",
			},
			&cli.BoolFlag{
				Name:  "all",
				Usage: "Include transactions that do not involve the wallet",
			},
			&cli.StringSliceFlag{
				Name:    "must-jq",
				Aliases: []string{"jq"},
				Usage:   "Only show transactions for which every jq filter is truthy (e.g. '.direction == \"incoming\"')",
			},
		},
		Action: func(c *cli.Context) error {
			codes, err := compileJQFilters(c.StringSlice("must-jq"))
			if err != nil {
				return err
			}

			query := client.TransactionQuery{
				Length: c.Uint64("length"),
				All:    c.Bool("all"),
			}
			if c.IsSet("start") {
				start := c.Uint64("start")
				query.Start = &start
			}

			page, err := newClient(c).Transactions(c.Context, query)
			if err != nil {
				return fmt.Errorf("failed to list transactions: %w", err)
			}

			txs := page.Transactions
			if len(codes) > 0 {
				filtered := make([]client.Transaction, 0, len(txs))
				for _, tx := range txs {
					v, err := toJQValue(tx)
					if err != nil {
						return fmt.Errorf("failed to convert transaction %d for jq: %w", tx.Index, err)
					}
					if matchesAll(codes, v) {
						filtered = append(filtered, tx)
					}
				}
				txs = filtered
			}

			if c.Bool("json") {
				return printJSON(c, txs)
			}
			printTransactions(c, txs, page.LogLength)
			return nil
		},
	}
}

func refreshCommand() *cli.Command {
	return &cli.Command{
		Name:  "refresh",
		Usage: "Re-read the wallet's balance and history from the ledger",
		Action: func(c *cli.Context) error {
			result, err := newClient(c).Refresh(c.Context)
			if err != nil {
				return fmt.Errorf("refresh failed: %w", err)
			}
			if c.Bool("json") {
				return printJSON(c, result)
			}

			fmt.Fprintf(c.App.Writer, "✓ Balance: %s %s\n", result.Balance.Formatted, result.Balance.Symbol)
			printTransactions(c, result.History.Transactions, result.History.LogLength)
			return nil
		},
	}
}

func standardsCommand() *cli.Command {
	return &cli.Command{
		Name:  "standards",
		Usage: "List the ICRC standards the ledger supports",
		Action: func(c *cli.Context) error {
			standards, err := newClient(c).Standards(c.Context)
			if err != nil {
				return fmt.Errorf("failed to get standards: %w", err)
			}
			if c.Bool("json") {
				return printJSON(c, standards)
			}
			for _, s := range standards {
				fmt.Fprintf(c.App.Writer, "%-10s %s\n", s.Name, s.URL)
			}
			return nil
		},
	}
}

func validateCommand() *cli.Command {
	return &cli.Command{
		Name:      "validate",
		Usage:     "Check whether an address is well formed",
		ArgsUsage: "ADDRESS",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "remote",
				Usage: "Ask the server instead of checking locally",
			},
		},
		Action: func(c *cli.Context) error {
			address := c.Args().First()
			if address == "" {
				return fmt.Errorf("ADDRESS argument is required")
			}

			var valid bool
			if c.Bool("remote") {
				var err error
				valid, err = newClient(c).ValidateAddress(c.Context, address)
				if err != nil {
					return fmt.Errorf("failed to validate address: %w", err)
				}
			} else {
				valid = ledger.ValidateAddress(address)
			}

			if c.Bool("json") {
				return printJSON(c, map[string]interface{}{"address": address, "valid": valid})
			}
			if valid {
				fmt.Fprintf(c.App.Writer, "✓ %s is valid\n", address)
				return nil
			}
			return fmt.Errorf("%s is not a valid address", address)
		},
	}
}

func printTransactions(c *cli.Context, txs []client.Transaction, logLength uint64) {
	w := c.App.Writer
	if len(txs) == 0 {
		fmt.Fprintf(w, "No transactions found (log length: %d)\n", logLength)
		return
	}

	fmt.Fprintf(w, "Found %d transaction(s) (log length: %d):\n\n", len(txs), logLength)
	for _, tx := range txs {
		fmt.Fprintf(w, "#%d  %s  %s", tx.Index, tx.Timestamp.UTC().Format("2006-01-02 15:04:05"), strings.ToUpper(tx.Kind))
		if tx.Direction != "" {
			fmt.Fprintf(w, " (%s)", tx.Direction)
		}
		fmt.Fprintln(w)
		fmt.Fprintf(w, "  Amount: %s\n", tx.AmountFormatted)
		if tx.From != nil {
			fmt.Fprintf(w, "  From:   %s\n", *tx.From)
		}
		if tx.To != nil {
			fmt.Fprintf(w, "  To:     %s\n", *tx.To)
		}
		if tx.Memo != "" {
			fmt.Fprintf(w, "  Memo:   %s\n", tx.Memo)
		}
		fmt.Fprintln(w)
	}
}
