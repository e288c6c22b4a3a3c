package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/brojonat/kotomo/service/ledger"
	natspkg "github.com/brojonat/kotomo/service/nats"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeMsg struct {
	jetstream.Msg
	subject string
	data    []byte
	acked   chan<- string
}

func (m *fakeMsg) Data() []byte    { return m.data }
func (m *fakeMsg) Subject() string { return m.subject }

func (m *fakeMsg) Ack() error {
	m.acked <- m.subject
	return nil
}

type fakeConsumeContext struct {
	jetstream.ConsumeContext
}

func (fakeConsumeContext) Stop() {}

// fakeConsumer hands its messages to the handler as soon as consuming starts.
type fakeConsumer struct {
	jetstream.Consumer
	msgs []jetstream.Msg
}

func (c *fakeConsumer) Consume(handler jetstream.MessageHandler, _ ...jetstream.PullConsumeOpt) (jetstream.ConsumeContext, error) {
	go func() {
		for _, m := range c.msgs {
			handler(m)
		}
	}()
	return fakeConsumeContext{}, nil
}

type fakeConsumers struct {
	consumer jetstream.Consumer
	err      error

	stream string
	cfg    jetstream.ConsumerConfig
}

func (f *fakeConsumers) CreateOrUpdateConsumer(ctx context.Context, stream string, cfg jetstream.ConsumerConfig) (jetstream.Consumer, error) {
	f.stream, f.cfg = stream, cfg
	if f.err != nil {
		return nil, f.err
	}
	return f.consumer, nil
}

func serveStream(t *testing.T, consumers *fakeConsumers, wallet string) (*httptest.ResponseRecorder, context.CancelFunc, <-chan struct{}) {
	t.Helper()

	streamer := &EventStreamer{js: consumers, logger: testLogger()}
	ctx, cancel := context.WithCancel(context.Background())
	req := httptest.NewRequest(http.MethodGet, "/api/v1/stream", nil).WithContext(ctx)
	rec := httptest.NewRecorder()

	done := make(chan struct{})
	go func() {
		defer close(done)
		handleStreamWalletEvents(streamer, wallet, testLogger()).ServeHTTP(rec, req)
	}()
	return rec, cancel, done
}

func waitClosed(t *testing.T, done <-chan struct{}) {
	t.Helper()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("stream handler did not return")
	}
}

func TestStreamWalletEvents_Framing(t *testing.T) {
	wallet := walletPrincipal.String()
	account := ledger.FromIdentity(walletPrincipal)
	transfer := natspkg.NewTransferEvent(account, ledger.TransferRequest{
		To:     ledger.FromIdentity(bobPrincipal),
		Amount: ledger.NewAmount(150_000_000),
	}, 7)
	balance := natspkg.NewBalanceEvent(account, ledger.NewAmount(849_990_000))

	transferData, err := json.Marshal(transfer)
	require.NoError(t, err)
	balanceData, err := json.Marshal(balance)
	require.NoError(t, err)

	acked := make(chan string, 3)
	consumers := &fakeConsumers{consumer: &fakeConsumer{msgs: []jetstream.Msg{
		&fakeMsg{subject: transfer.Subject(), data: transferData, acked: acked},
		&fakeMsg{subject: "wallet." + wallet + ".garbage", data: []byte("{not json"), acked: acked},
		&fakeMsg{subject: balance.Subject(), data: balanceData, acked: acked},
	}}}

	rec, cancel, done := serveStream(t, consumers, wallet)
	defer cancel()

	// Every message is acked, including the one that cannot be decoded.
	var subjects []string
	for i := 0; i < 3; i++ {
		select {
		case s := <-acked:
			subjects = append(subjects, s)
		case <-time.After(5 * time.Second):
			t.Fatalf("timed out waiting for ack %d", i+1)
		}
	}
	cancel()
	waitClosed(t, done)

	assert.Equal(t, []string{transfer.Subject(), "wallet." + wallet + ".garbage", balance.Subject()}, subjects)

	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))
	assert.Equal(t, "no-cache", rec.Header().Get("Cache-Control"))

	want := fmt.Sprintf("event: connected\ndata: {\"wallet\":%q}\n\n", wallet) +
		fmt.Sprintf("id: %s\nevent: transfer\ndata: %s\n\n", transfer.ID, transferData) +
		fmt.Sprintf("id: %s\nevent: balance\ndata: %s\n\n", balance.ID, balanceData)
	assert.Equal(t, want, rec.Body.String())

	assert.Equal(t, natspkg.StreamName, consumers.stream)
	assert.Equal(t, "wallet."+wallet+".>", consumers.cfg.FilterSubject)
	assert.Equal(t, jetstream.DeliverNewPolicy, consumers.cfg.DeliverPolicy)
	assert.Equal(t, jetstream.AckExplicitPolicy, consumers.cfg.AckPolicy)
	assert.Empty(t, consumers.cfg.Durable)
}

func TestStreamWalletEvents_SubscribeFailure(t *testing.T) {
	consumers := &fakeConsumers{err: errors.New("stream not found")}

	rec, cancel, done := serveStream(t, consumers, walletPrincipal.String())
	defer cancel()
	waitClosed(t, done)

	assert.Equal(t, "event: error\ndata: {\"error\": \"failed to subscribe\"}\n\n", rec.Body.String())
}
