package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/adskit/ads/internal/common/logger"
)

// NATSBus implements Bus on a NATS connection, letting several server
// instances share one event stream.
type NATSBus struct {
	conn   *nats.Conn
	logger *logger.Logger
}

var _ Bus = (*NATSBus)(nil)

// NATSOptions configures the connection.
type NATSOptions struct {
	URL           string
	MaxReconnects int
}

// NewNATSBus connects to NATS.
func NewNATSBus(opts NATSOptions, log *logger.Logger) (*NATSBus, error) {
	url := opts.URL
	if url == "" {
		url = nats.DefaultURL
	}
	maxReconnects := opts.MaxReconnects
	if maxReconnects == 0 {
		maxReconnects = 10
	}
	conn, err := nats.Connect(url,
		nats.MaxReconnects(maxReconnects),
		nats.ReconnectWait(2*time.Second),
		nats.Name("ads-server"),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to nats: %w", err)
	}
	return &NATSBus{conn: conn, logger: log.WithComponent("bus")}, nil
}

// Publish implements Bus.
func (b *NATSBus) Publish(_ context.Context, subject string, ev *Event) error {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}
	ev.Subject = subject
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	return b.conn.Publish(subject, data)
}

// Subscribe implements Bus. The ".*" suffix wildcard maps onto the NATS ">"
// wildcard.
func (b *NATSBus) Subscribe(subject string, handler Handler) (Subscription, error) {
	natsSubject := subject
	if prefix, ok := strings.CutSuffix(subject, ".*"); ok {
		natsSubject = prefix + ".>"
	}
	sub, err := b.conn.Subscribe(natsSubject, func(msg *nats.Msg) {
		var ev Event
		if err := json.Unmarshal(msg.Data, &ev); err != nil {
			b.logger.Warn("dropping malformed bus event",
				zap.String("subject", msg.Subject),
				zap.Error(err))
			return
		}
		if err := handler(context.Background(), &ev); err != nil {
			b.logger.Error("event handler error",
				zap.String("subject", msg.Subject),
				zap.Error(err))
		}
	})
	if err != nil {
		return nil, fmt.Errorf("subscribe %s: %w", subject, err)
	}
	return &natsSubscription{sub: sub}, nil
}

// Close drains the connection.
func (b *NATSBus) Close() error {
	if err := b.conn.Drain(); err != nil {
		b.conn.Close()
		return err
	}
	return nil
}

type natsSubscription struct {
	sub *nats.Subscription
}

func (s *natsSubscription) Unsubscribe() error {
	return s.sub.Unsubscribe()
}
