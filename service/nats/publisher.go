package nats

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/brojonat/kotomo/service/ledger"
	"github.com/brojonat/kotomo/service/metrics"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

// Publisher defines the interface for publishing wallet events to NATS.
type Publisher interface {
	// Publish publishes a single wallet event to its subject.
	Publish(ctx context.Context, event *WalletEvent) error

	// Close closes the connection to NATS.
	Close() error
}

// JetStreamPublisher publishes wallet events to NATS JetStream.
type JetStreamPublisher struct {
	nc      *nats.Conn
	js      jetstream.JetStream
	logger  *slog.Logger
	metrics *metrics.Metrics
}

const (
	// StreamName is the name of the JetStream stream for wallet events.
	StreamName = "WALLET_EVENTS"

	// StreamSubjects is the subject pattern for the stream.
	StreamSubjects = "wallet.>"

	// StreamRetention is how long messages are retained (7 days).
	StreamRetention = 7 * 24 * time.Hour
)

// NewPublisher creates a new JetStream publisher.
// It connects to NATS and ensures the stream exists.
// If m is nil, no metrics are recorded.
func NewPublisher(natsURL string, m *metrics.Metrics, logger *slog.Logger) (*JetStreamPublisher, error) {
	nc, err := nats.Connect(natsURL,
		nats.Name("kotomo-publisher"),
		nats.Timeout(10*time.Second),
		nats.ReconnectWait(1*time.Second),
		nats.MaxReconnects(-1), // Unlimited reconnects
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}

	publisher := &JetStreamPublisher{
		nc:      nc,
		js:      js,
		logger:  logger,
		metrics: m,
	}

	if err := publisher.ensureStream(); err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to ensure stream exists: %w", err)
	}

	logger.Info("NATS publisher initialized",
		"url", natsURL,
		"stream", StreamName,
	)

	return publisher, nil
}

// ensureStream creates the JetStream stream if it doesn't exist.
func (p *JetStreamPublisher) ensureStream() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	stream, err := p.js.Stream(ctx, StreamName)
	if err == nil {
		info, err := stream.Info(ctx)
		if err == nil {
			p.logger.Debug("JetStream stream already exists",
				"stream", StreamName,
				"messages", info.State.Msgs,
			)
		}
		return nil
	}

	p.logger.Info("creating JetStream stream", "stream", StreamName)

	streamConfig := jetstream.StreamConfig{
		Name:        StreamName,
		Description: "Wallet transfer, balance and history events",
		Subjects:    []string{StreamSubjects},
		Retention:   jetstream.LimitsPolicy,
		MaxAge:      StreamRetention,
		Storage:     jetstream.FileStorage,
		Replicas:    1,
		Duplicates:  2 * time.Minute,
	}

	if _, err := p.js.CreateStream(ctx, streamConfig); err != nil {
		return fmt.Errorf("failed to create stream: %w", err)
	}

	p.logger.Info("JetStream stream created successfully", "stream", StreamName)
	return nil
}

// Publish publishes a single wallet event. The event id is used as the
// JetStream message id so redelivered publishes are dropped by the server.
func (p *JetStreamPublisher) Publish(ctx context.Context, event *WalletEvent) error {
	subject := event.Subject()
	start := time.Now()

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal wallet event: %w", err)
	}

	_, err = p.js.Publish(ctx, subject, data, jetstream.WithMsgID(event.ID))
	status := "success"
	if err != nil {
		status = "error"
	}
	if p.metrics != nil {
		p.metrics.RecordNATSPublish(subject, status, time.Since(start).Seconds())
	}
	if err != nil {
		return fmt.Errorf("failed to publish wallet event: %w", err)
	}

	p.logger.Debug("published wallet event",
		"subject", subject,
		"id", event.ID,
		"type", event.Type,
	)

	return nil
}

// Close closes the connection to NATS.
func (p *JetStreamPublisher) Close() error {
	if p.nc != nil {
		p.nc.Close()
		p.logger.Info("NATS publisher closed")
	}
	return nil
}

// Observer forwards wallet refreshes to a Publisher. Publish failures are
// logged and never propagated: the ledger operation already succeeded.
type Observer struct {
	publisher Publisher
	logger    *slog.Logger
}

var _ ledger.Observer = (*Observer)(nil)

// NewObserver returns a ledger.Observer that publishes through p.
func NewObserver(p Publisher, logger *slog.Logger) *Observer {
	return &Observer{publisher: p, logger: logger}
}

func (o *Observer) publish(ctx context.Context, event *WalletEvent) {
	if err := o.publisher.Publish(ctx, event); err != nil {
		o.logger.WarnContext(ctx, "failed to publish wallet event",
			"type", event.Type,
			"wallet", event.Wallet,
			"error", err,
		)
	}
}

func (o *Observer) TransferCommitted(ctx context.Context, from ledger.Account, req ledger.TransferRequest, index uint64) {
	o.publish(ctx, NewTransferEvent(from, req, index))
}

func (o *Observer) BalanceRefreshed(ctx context.Context, account ledger.Account, balance ledger.Amount) {
	o.publish(ctx, NewBalanceEvent(account, balance))
}

func (o *Observer) HistoryRefreshed(ctx context.Context, account ledger.Account, page *ledger.TransactionPage) {
	o.publish(ctx, NewHistoryEvent(account, page))
}
