package main

import (
	"fmt"

	"github.com/brojonat/kotomo/service/ledger"
	"github.com/urfave/cli/v2"
)

func decimalsFlag() cli.Flag {
	return &cli.UintFlag{
		Name:  "decimals",
		Usage: "Token decimal places",
		Value: 8,
	}
}

func formatCommand() *cli.Command {
	return &cli.Command{
		Name:      "format",
		Usage:     "Convert minor units to a display amount",
		ArgsUsage: "MINOR_UNITS",
		Flags:     []cli.Flag{decimalsFlag()},
		Action: func(c *cli.Context) error {
			decimals, err := decimalsArg(c)
			if err != nil {
				return err
			}
			amount, err := ledger.ParseAmountInt(c.Args().First())
			if err != nil {
				return fmt.Errorf("invalid amount: %w", err)
			}
			fmt.Fprintln(c.App.Writer, ledger.FormatAmount(amount, decimals))
			return nil
		},
	}
}

func parseCommand() *cli.Command {
	return &cli.Command{
		Name:      "parse",
		Usage:     "Convert a display amount to minor units",
		ArgsUsage: "AMOUNT",
		Flags:     []cli.Flag{decimalsFlag()},
		Action: func(c *cli.Context) error {
			decimals, err := decimalsArg(c)
			if err != nil {
				return err
			}
			amount, err := ledger.ParseAmount(c.Args().First(), decimals)
			if err != nil {
				return fmt.Errorf("invalid amount: %w", err)
			}
			fmt.Fprintln(c.App.Writer, amount.String())
			return nil
		},
	}
}

func decimalsArg(c *cli.Context) (uint8, error) {
	if c.NArg() != 1 {
		return 0, fmt.Errorf("expected exactly one argument")
	}
	d := c.Uint("decimals")
	if d > 255 {
		return 0, fmt.Errorf("decimals must be at most 255")
	}
	return uint8(d), nil
}
