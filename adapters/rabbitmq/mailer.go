// Package rabbitmq delivers notification messages to the email service
// through a RabbitMQ topic exchange. Each message is published as JSON with
// routing key email.<template>.
package rabbitmq

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rabbitmq/amqp091-go"

	"flinkly/notify"
)

const DefaultExchange = "flinkly.notifications"

// Channel is the subset of *amqp091.Channel the mailer uses.
type Channel interface {
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp091.Table) error
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp091.Publishing) error
	Close() error
}

// Mailer implements notify.Mailer by publishing to an exchange.
type Mailer struct {
	conn     *amqp091.Connection
	channel  Channel
	exchange string

	mu       sync.Mutex
	declared bool
}

func sanitizeAMQPURL(raw string) (string, error) {
	clean := strings.TrimSpace(raw)
	clean = strings.Trim(clean, "\"'")
	if !strings.HasSuffix(clean, "/") {
		clean += "/"
	}
	u, err := url.Parse(clean)
	if err != nil {
		return "", err
	}
	if u.Scheme != "amqp" && u.Scheme != "amqps" {
		return "", errors.New("AMQP scheme must be either 'amqp://' or 'amqps://'")
	}
	return clean, nil
}

// Dial connects to the broker and opens a channel.
func Dial(amqpURL, exchange string) (*Mailer, error) {
	cleanURL, err := sanitizeAMQPURL(amqpURL)
	if err != nil {
		return nil, err
	}
	conn, err := amqp091.Dial(cleanURL)
	if err != nil {
		return nil, fmt.Errorf("dial amqp: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open amqp channel: %w", err)
	}
	m := NewWithChannel(ch, exchange)
	m.conn = conn
	return m, nil
}

// NewWithChannel wraps an open channel (useful for testing).
func NewWithChannel(ch Channel, exchange string) *Mailer {
	if exchange == "" {
		exchange = DefaultExchange
	}
	return &Mailer{channel: ch, exchange: exchange}
}

// RoutingKey for a message template.
func RoutingKey(template string) string { return "email." + template }

// Send publishes msg. The exchange is declared on first use.
func (m *Mailer) Send(ctx context.Context, msg notify.Message) error {
	if msg.To == "" {
		return notify.ErrNoRecipient
	}
	if err := m.declare(); err != nil {
		return err
	}
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode message: %w", err)
	}
	err = m.channel.PublishWithContext(ctx,
		m.exchange,
		RoutingKey(msg.Template),
		false,
		false,
		amqp091.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp091.Persistent,
			MessageId:    uuid.NewString(),
			Timestamp:    time.Now().UTC(),
			Type:         msg.Template,
			Body:         body,
		})
	if err != nil {
		return fmt.Errorf("publish %s: %w", RoutingKey(msg.Template), err)
	}
	return nil
}

func (m *Mailer) declare() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.declared {
		return nil
	}
	if err := m.channel.ExchangeDeclare(m.exchange, "topic", true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare exchange %s: %w", m.exchange, err)
	}
	m.declared = true
	return nil
}

// Close gracefully closes the channel and connection.
func (m *Mailer) Close() error {
	var errs []error
	if m.channel != nil {
		errs = append(errs, m.channel.Close())
	}
	if m.conn != nil {
		errs = append(errs, m.conn.Close())
	}
	return errors.Join(errs...)
}

var _ notify.Mailer = (*Mailer)(nil)
