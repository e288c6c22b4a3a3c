package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	natspkg "github.com/brojonat/kotomo/service/nats"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

// keepaliveInterval is how often an idle stream sends a comment line.
const keepaliveInterval = 10 * time.Second

// consumerSource creates the per-client consumer. jetstream.JetStream
// satisfies it.
type consumerSource interface {
	CreateOrUpdateConsumer(ctx context.Context, stream string, cfg jetstream.ConsumerConfig) (jetstream.Consumer, error)
}

// EventStreamer relays wallet events from JetStream to Server-Sent Events
// clients.
type EventStreamer struct {
	nc     *nats.Conn
	js     consumerSource
	logger *slog.Logger
}

// NewEventStreamer connects to NATS for reading wallet events.
func NewEventStreamer(natsURL string, logger *slog.Logger) (*EventStreamer, error) {
	nc, err := nats.Connect(natsURL,
		nats.Name("kotomo-sse"),
		nats.Timeout(10*time.Second),
		nats.ReconnectWait(1*time.Second),
		nats.MaxReconnects(-1),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}

	logger.Info("SSE streamer initialized", "nats_url", natsURL)

	return &EventStreamer{
		nc:     nc,
		js:     js,
		logger: logger,
	}, nil
}

// Close closes the NATS connection.
func (s *EventStreamer) Close() error {
	if s.nc != nil {
		s.nc.Close()
		s.logger.Info("SSE streamer closed")
	}
	return nil
}

// handleStreamWalletEvents streams transfer, balance and history events of
// one wallet. Only events published after the client connects are sent.
// GET /api/v1/stream
func handleStreamWalletEvents(streamer *EventStreamer, wallet string, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		subject := fmt.Sprintf("wallet.%s.>", wallet)
		rc := http.NewResponseController(w)
		// Streams outlive the server's write timeout.
		_ = rc.SetWriteDeadline(time.Time{})
		flush := func() { _ = rc.Flush() }

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		flush()

		logger.DebugContext(r.Context(), "SSE client connected",
			"wallet", wallet,
			"remote_addr", r.RemoteAddr,
		)

		// Ephemeral: no durable name, removed by the server once inactive.
		cons, err := streamer.js.CreateOrUpdateConsumer(r.Context(), natspkg.StreamName, jetstream.ConsumerConfig{
			FilterSubject: subject,
			AckPolicy:     jetstream.AckExplicitPolicy,
			DeliverPolicy: jetstream.DeliverNewPolicy,
		})
		if err != nil {
			logger.ErrorContext(r.Context(), "failed to create consumer",
				"wallet", wallet,
				"error", err,
			)
			fmt.Fprintf(w, "event: error\ndata: {\"error\": \"failed to subscribe\"}\n\n")
			return
		}

		msgChan := make(chan jetstream.Msg, 10)
		doneChan := make(chan struct{})

		go func() {
			defer close(doneChan)
			cc, err := cons.Consume(func(msg jetstream.Msg) {
				select {
				case msgChan <- msg:
				case <-r.Context().Done():
				}
			})
			if err != nil {
				logger.ErrorContext(r.Context(), "failed to start consuming messages",
					"error", err,
				)
				return
			}
			<-r.Context().Done()
			cc.Stop()
		}()

		fmt.Fprintf(w, "event: connected\ndata: {\"wallet\":%q}\n\n", wallet)
		flush()

		keepalive := time.NewTicker(keepaliveInterval)
		defer keepalive.Stop()

		for {
			select {
			case <-keepalive.C:
				fmt.Fprintf(w, ": keepalive\n\n")
				flush()

			case msg := <-msgChan:
				var event natspkg.WalletEvent
				if err := json.Unmarshal(msg.Data(), &event); err != nil {
					logger.WarnContext(r.Context(), "failed to unmarshal wallet event",
						"subject", msg.Subject(),
						"error", err,
					)
					msg.Ack()
					continue
				}

				fmt.Fprintf(w, "id: %s\nevent: %s\ndata: %s\n\n", event.ID, event.Type, msg.Data())
				flush()
				msg.Ack()

				logger.DebugContext(r.Context(), "sent wallet event",
					"wallet", wallet,
					"type", event.Type,
					"id", event.ID,
				)

			case <-r.Context().Done():
				logger.DebugContext(r.Context(), "SSE client disconnected",
					"wallet", wallet,
					"remote_addr", r.RemoteAddr,
				)
				return

			case <-doneChan:
				return
			}
		}
	})
}
