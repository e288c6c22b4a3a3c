package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	natspkg "github.com/brojonat/kotomo/service/nats"
	"github.com/urfave/cli/v2"
)

func watchCommand() *cli.Command {
	return &cli.Command{
		Name:  "watch",
		Usage: "Stream wallet events (transfers, balance and history refreshes) via SSE",
		Description: `Connects to the server's event stream and prints each wallet event as it
arrives. Requires the server to run with NATS_URL set.`,
		Action: func(c *cli.Context) error {
			ctx, cancel := context.WithCancel(c.Context)
			defer cancel()

			sigChan := make(chan os.Signal, 1)
			signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
			defer signal.Stop(sigChan)
			go func() {
				select {
				case <-sigChan:
					cancel()
				case <-ctx.Done():
				}
			}()

			req, err := http.NewRequestWithContext(ctx, "GET", c.String("server")+"/api/v1/stream", nil)
			if err != nil {
				return fmt.Errorf("failed to create request: %w", err)
			}
			req.Header.Set("Accept", "text/event-stream")

			// No timeout for streaming
			resp, err := (&http.Client{}).Do(req)
			if err != nil {
				return fmt.Errorf("failed to connect to event stream: %w", err)
			}
			defer resp.Body.Close()

			if resp.StatusCode != http.StatusOK {
				return fmt.Errorf("server returned status %d", resp.StatusCode)
			}

			err = readEventStream(resp.Body, func(eventType, data string) error {
				return handleWalletEvent(c, eventType, data)
			})
			if err != nil && ctx.Err() == nil {
				return err
			}
			return nil
		},
	}
}

// readEventStream calls fn for every complete SSE event in r. Comment lines
// (keepalives) are skipped.
func readEventStream(r io.Reader, fn func(eventType, data string) error) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)
	var currentEvent, currentData string

	for scanner.Scan() {
		line := scanner.Text()

		// Empty line indicates end of event
		if line == "" {
			if currentEvent != "" && currentData != "" {
				if err := fn(currentEvent, currentData); err != nil {
					return err
				}
			}
			currentEvent = ""
			currentData = ""
			continue
		}

		if strings.HasPrefix(line, "event:") {
			currentEvent = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		} else if strings.HasPrefix(line, "data:") {
			currentData = strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		}
	}

	if err := scanner.Err(); err != nil {
		return fmt.Errorf("error reading event stream: %w", err)
	}
	return nil
}

func handleWalletEvent(c *cli.Context, eventType, data string) error {
	w := c.App.Writer
	jsonOutput := c.Bool("json")

	switch eventType {
	case "connected":
		if !jsonOutput {
			var info struct {
				Wallet string `json:"wallet"`
			}
			if err := json.Unmarshal([]byte(data), &info); err != nil {
				return err
			}
			fmt.Fprintf(w, "✓ Watching wallet: %s\n\n", info.Wallet)
		}
		return nil

	case "error":
		var errInfo struct {
			Error string `json:"error"`
		}
		if err := json.Unmarshal([]byte(data), &errInfo); err != nil {
			return err
		}
		return fmt.Errorf("server error: %s", errInfo.Error)

	case string(natspkg.EventTransferCommitted), string(natspkg.EventBalanceRefreshed), string(natspkg.EventHistoryRefreshed):
		if jsonOutput {
			fmt.Fprintln(w, data)
			return nil
		}
		var event natspkg.WalletEvent
		if err := json.Unmarshal([]byte(data), &event); err != nil {
			return fmt.Errorf("failed to decode %s event: %w", eventType, err)
		}
		printWalletEvent(w, &event)
		return nil

	default:
		// Unknown event type, ignore
		return nil
	}
}

func printWalletEvent(w io.Writer, e *natspkg.WalletEvent) {
	ts := e.PublishedAt.Format(time.RFC3339)
	switch e.Type {
	case natspkg.EventTransferCommitted:
		index := uint64(0)
		if e.Index != nil {
			index = *e.Index
		}
		fmt.Fprintf(w, "[%s] transfer #%d: %s to %s\n", ts, index, e.Amount, e.To)
	case natspkg.EventBalanceRefreshed:
		fmt.Fprintf(w, "[%s] balance: %s\n", ts, e.Balance)
	case natspkg.EventHistoryRefreshed:
		logLength := uint64(0)
		if e.LogLength != nil {
			logLength = *e.LogLength
		}
		fmt.Fprintf(w, "[%s] history: %d transaction(s), log length %d\n", ts, len(e.Transactions), logLength)
	}
}
