package main

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/brojonat/kotomo/client"
	"github.com/brojonat/kotomo/service/ledger"
	"github.com/brojonat/kotomo/service/ledgertest"
	"github.com/brojonat/kotomo/service/server"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	walletPrincipal = ledger.MustPrincipalFromText("kw6ia-hibai-bq")
	bobPrincipal    = ledger.MustPrincipalFromText("ryjl3-tyaaa-aaaaa-aaaba-cai")
)

// startWalletServer runs the real API over an in-memory ledger holding
// 10 KOTO for the wallet.
func startWalletServer(t *testing.T) (*ledgertest.Ledger, *httptest.Server) {
	t.Helper()

	now := time.Unix(1_700_000_000, 0)
	clock := func() time.Time { return now }
	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))

	l := ledgertest.New(ledgertest.WithClock(clock))
	l.Mint(ledger.FromIdentity(walletPrincipal), ledger.NewAmount(1_000_000_000), []byte("airdrop"))

	wallet := ledger.NewClient(l.As(walletPrincipal), walletPrincipal,
		ledger.WithLogger(logger),
		ledger.WithClock(clock),
	)
	ts := httptest.NewServer(server.New(":0", wallet, nil, nil, logger).Handler())
	t.Cleanup(ts.Close)
	return l, ts
}

// runApp runs the CLI with args and returns what it wrote.
func runApp(t *testing.T, args ...string) (string, error) {
	t.Helper()

	var out bytes.Buffer
	app := newApp()
	app.Writer = &out
	app.ErrWriter = io.Discard
	err := app.Run(append([]string{"kotomo"}, args...))
	return out.String(), err
}

func TestTokenCommand(t *testing.T) {
	_, ts := startWalletServer(t)

	out, err := runApp(t, "--server", ts.URL, "token")
	require.NoError(t, err)
	assert.Contains(t, out, "(KOTO)")
	assert.Contains(t, out, "Fee:          0.0001 KOTO")
	assert.Contains(t, out, "Total supply: 10.0 KOTO")
}

func TestBalanceCommand(t *testing.T) {
	_, ts := startWalletServer(t)

	out, err := runApp(t, "--server", ts.URL, "balance")
	require.NoError(t, err)
	assert.Contains(t, out, "10.0 KOTO")
	assert.Contains(t, out, walletPrincipal.String())

	out, err = runApp(t, "--server", ts.URL, "--json", "balance", bobPrincipal.String())
	require.NoError(t, err)

	var balance client.Balance
	require.NoError(t, json.Unmarshal([]byte(out), &balance))
	assert.True(t, balance.Balance.IsZero())
	assert.Equal(t, bobPrincipal.String(), balance.Account)
}

func TestBalanceCommand_InvalidAccount(t *testing.T) {
	_, err := runApp(t, "--server", "http://127.0.0.1:1", "balance", "not-an-account")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid account")
}

func TestSendCommand_Success(t *testing.T) {
	l, ts := startWalletServer(t)

	out, err := runApp(t, "--server", ts.URL, "send", "--memo", "lunch", bobPrincipal.String(), "1.5")
	require.NoError(t, err)

	assert.Contains(t, out, "Sending 1.5 KOTO to "+bobPrincipal.String())
	assert.Contains(t, out, "Total: 1.5001 KOTO")
	assert.Contains(t, out, "✓ Transfer committed at index 1")

	assert.Equal(t, "150000000", l.BalanceOf(ledger.FromIdentity(bobPrincipal)).String())
	// 10 - 1.5 - 0.0001
	assert.Equal(t, "849990000", l.BalanceOf(ledger.FromIdentity(walletPrincipal)).String())
}

func TestSendCommand_Rejected(t *testing.T) {
	l, ts := startWalletServer(t)

	_, err := runApp(t, "--server", ts.URL, "send", bobPrincipal.String(), "50")
	require.Error(t, err)
	assert.ErrorIs(t, err, ledger.KindInsufficientFunds)
	assert.Contains(t, err.Error(), "Insufficient funds. Balance: 10.0 KOTO")
	assert.Equal(t, uint64(1), l.LogLength())
}

func TestSendCommand_InvalidInputMakesNoRequest(t *testing.T) {
	var requests atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer ts.Close()

	tests := []struct {
		name    string
		args    []string
		wantErr string
	}{
		{"bad recipient", []string{"send", "bogus", "1"}, "invalid recipient"},
		{"missing amount", []string{"send", bobPrincipal.String()}, "expected TO and AMOUNT"},
		{"memo too long", []string{"send", "--memo", "0123456789abcdef0123456789abcdef!", bobPrincipal.String(), "1"}, "at most 32 bytes"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := runApp(t, append([]string{"--server", ts.URL}, tt.args...)...)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
	assert.Equal(t, int32(0), requests.Load())
}

func TestSendCommand_InvalidAmount(t *testing.T) {
	l, ts := startWalletServer(t)

	for _, amount := range []string{"0", "1.000000001", "-1", "abc"} {
		t.Run(amount, func(t *testing.T) {
			_, err := runApp(t, "--server", ts.URL, "send", bobPrincipal.String(), amount)
			require.Error(t, err)
		})
	}
	assert.Equal(t, uint64(1), l.LogLength())
}

func TestHistoryCommand(t *testing.T) {
	l, ts := startWalletServer(t)
	_, err := runApp(t, "--server", ts.URL, "send", bobPrincipal.String(), "2")
	require.NoError(t, err)
	l.Mint(ledger.FromIdentity(bobPrincipal), ledger.NewAmount(5), nil)

	out, err := runApp(t, "--server", ts.URL, "history")
	require.NoError(t, err)
	assert.Contains(t, out, "Found 2 transaction(s)")
	assert.Contains(t, out, "#0  2023-11-14 22:13:20  MINT (incoming)")
	assert.Contains(t, out, "Memo:   airdrop")
	assert.Contains(t, out, "#1  2023-11-14 22:13:20  TRANSFER (outgoing)")

	out, err = runApp(t, "--server", ts.URL, "history", "--all")
	require.NoError(t, err)
	assert.Contains(t, out, "Found 3 transaction(s)")
}

func TestHistoryCommand_MustJQ(t *testing.T) {
	_, ts := startWalletServer(t)
	_, err := runApp(t, "--server", ts.URL, "send", bobPrincipal.String(), "2")
	require.NoError(t, err)

	out, err := runApp(t, "--server", ts.URL, "--json", "history", "--must-jq", `.direction == "outgoing"`)
	require.NoError(t, err)

	var txs []client.Transaction
	require.NoError(t, json.Unmarshal([]byte(out), &txs))
	require.Len(t, txs, 1)
	assert.Equal(t, uint64(1), txs[0].Index)

	out, err = runApp(t, "--server", ts.URL, "--json", "history",
		"--jq", `.kind == "transfer"`,
		"--jq", `(.amount | tonumber) > 500000000`,
	)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal([]byte(out), &txs))
	assert.Empty(t, txs)
}

func TestHistoryCommand_BadFilter(t *testing.T) {
	_, err := runApp(t, "--server", "http://127.0.0.1:1", "history", "--must-jq", ".[")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse jq filter")
}

func TestRefreshCommand(t *testing.T) {
	_, ts := startWalletServer(t)

	out, err := runApp(t, "--server", ts.URL, "refresh")
	require.NoError(t, err)
	assert.Contains(t, out, "✓ Balance: 10.0 KOTO")
	assert.Contains(t, out, "Found 1 transaction(s)")
}

func TestStandardsCommand(t *testing.T) {
	_, ts := startWalletServer(t)

	out, err := runApp(t, "--server", ts.URL, "standards")
	require.NoError(t, err)
	assert.Contains(t, out, "ICRC-1")
}

func TestValidateCommand(t *testing.T) {
	out, err := runApp(t, "validate", "2vxsx-fae")
	require.NoError(t, err)
	assert.Contains(t, out, "✓ 2vxsx-fae is valid")

	_, err = runApp(t, "validate", "2vxsx-fa")
	require.Error(t, err)

	_, ts := startWalletServer(t)
	out, err = runApp(t, "--server", ts.URL, "--json", "validate", "--remote", "aaaaa-aa")
	require.NoError(t, err)
	assert.JSONEq(t, `{"address":"aaaaa-aa","valid":true}`, out)
}
