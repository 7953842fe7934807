package notify

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/pkg/errors"
	amqp "github.com/rabbitmq/amqp091-go"

	"example.com/backstage/services/auctions/config"
)

// RabbitNotifier publishes notifications to a topic exchange with the event
// name as routing key, e.g. auction.outbid
type RabbitNotifier struct {
	mu       sync.Mutex
	conn     *amqp.Connection
	ch       *amqp.Channel
	exchange string
}

// NewRabbitNotifier dials RabbitMQ and declares the exchange
func NewRabbitNotifier(cfg config.RabbitMQConfig) (*RabbitNotifier, error) {
	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return nil, errors.Wrap(err, "failed to connect to RabbitMQ")
	}

	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, errors.Wrap(err, "failed to open RabbitMQ channel")
	}

	err = ch.ExchangeDeclare(
		cfg.Exchange,
		"topic",
		true,
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		_ = conn.Close()
		return nil, errors.Wrapf(err, "failed to declare exchange %s", cfg.Exchange)
	}

	return &RabbitNotifier{conn: conn, ch: ch, exchange: cfg.Exchange}, nil
}

// RoutingKey maps an event onto the exchange routing key
func RoutingKey(event string) string {
	return "auction." + event
}

// Notify publishes a persistent message
func (n *RabbitNotifier) Notify(ctx context.Context, event string, recipients []string, snapshot Snapshot, extra map[string]any) error {
	msg := newMessage(event, recipients, snapshot, extra)
	body, err := json.Marshal(msg)
	if err != nil {
		return errors.Wrap(err, "failed to marshal notification")
	}

	// amqp channels are not safe for concurrent publishes
	n.mu.Lock()
	defer n.mu.Unlock()

	err = n.ch.PublishWithContext(ctx,
		n.exchange,
		RoutingKey(event),
		false,
		false,
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			MessageId:    msg.ID.String(),
			Timestamp:    msg.SentAt,
			Body:         body,
		},
	)
	if err != nil {
		return errors.Wrapf(err, "failed to publish to exchange %s", n.exchange)
	}
	return nil
}

// Close closes the channel and connection
func (n *RabbitNotifier) Close() error {
	if n.ch != nil {
		_ = n.ch.Close()
	}
	if n.conn != nil {
		return n.conn.Close()
	}
	return nil
}
