// Package bus consumes notification events from NATS and feeds them into
// the dispatch pipeline. NATS is the single inbound transport; the admin
// API's event injection shares the same pipeline entry point.
package bus

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/driftgate/driftgate/internal/event"
)

// DefaultSubject is the subscription subject when the config omits one.
const DefaultSubject = "driftgate.events"

// Handler receives each decoded inbound event.
type Handler func(ctx context.Context, ev *event.NotificationEvent)

// Consumer owns the NATS connection and subscription.
type Consumer struct {
	conn *nats.Conn
	sub  *nats.Subscription
}

// Connect dials the NATS server with sane reconnect behavior.
func Connect(url, name string) (*Consumer, error) {
	conn, err := nats.Connect(url,
		nats.Name(name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			slog.Warn("bus: nats disconnected", "err", err)
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			slog.Info("bus: nats reconnected", "url", c.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, err
	}
	return &Consumer{conn: conn}, nil
}

// Subscribe starts consuming events on subject in queue group queue.
// Messages that do not decode to an event with an event_type are dropped
// with a log line; a poison message must not wedge the subscription.
func (c *Consumer) Subscribe(ctx context.Context, subject, queue string, handle Handler) error {
	if subject == "" {
		subject = DefaultSubject
	}

	cb := func(msg *nats.Msg) {
		var ev event.NotificationEvent
		if err := json.Unmarshal(msg.Data, &ev); err != nil {
			slog.Warn("bus: dropping undecodable message", "subject", msg.Subject, "err", err)
			return
		}
		if ev.EventType == "" {
			slog.Warn("bus: dropping message without event_type", "subject", msg.Subject)
			return
		}
		handle(ctx, &ev)
	}

	var (
		sub *nats.Subscription
		err error
	)
	if queue != "" {
		sub, err = c.conn.QueueSubscribe(subject, queue, cb)
	} else {
		sub, err = c.conn.Subscribe(subject, cb)
	}
	if err != nil {
		return err
	}
	c.sub = sub
	slog.Info("bus: subscribed", "subject", subject, "queue", queue)
	return nil
}

// Close drains the subscription so in-flight messages finish, then closes
// the connection.
func (c *Consumer) Close() {
	if c.conn == nil {
		return
	}
	if err := c.conn.Drain(); err != nil {
		slog.Warn("bus: drain failed", "err", err)
	}
	c.conn.Close()
}
