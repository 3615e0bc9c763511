package broker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"shuttle-realtime/internal/realtime"
	"shuttle-realtime/internal/shuttle"
)

// RoutingTripStatus carries a TripUpdate asserted by the CRUD layer.
const RoutingTripStatus = "trip.status"

// Bindings the consumer queue is bound with on the topic exchange.
var Bindings = []string{"trip.#", "booking.#"}

var errMalformed = errors.New("malformed message")

// Sink is the part of the router the consumer relays into.
type Sink interface {
	OnTripStatusUpdate(u shuttle.TripUpdate)
	PushAdmin(name string, data any) int
	PushUser(userID, name string, data any) int
}

type Metrics interface {
	Consumed(routingKey string)
	Rejected()
	SetConnected(connected bool)
}

// AdminUpdate is what admins see for every consumed mutation.
type AdminUpdate struct {
	Kind      string          `json:"kind"`
	Data      json.RawMessage `json:"data"`
	Timestamp time.Time       `json:"timestamp"`
}

type Options struct {
	URL        string
	Exchange   string
	Queue      string
	Prefetch   int
	RetryDelay time.Duration
}

// Consumer relays trip and booking mutations published by the CRUD layer into
// the realtime router. It reconnects on its own until its context ends.
type Consumer struct {
	opts    Options
	sink    Sink
	log     *slog.Logger
	metrics Metrics
	now     func() time.Time
}

func NewConsumer(opts Options, sink Sink, log *slog.Logger, m Metrics) *Consumer {
	if opts.Prefetch <= 0 {
		opts.Prefetch = 1
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = 5 * time.Second
	}
	return &Consumer{opts: opts, sink: sink, log: log, metrics: m, now: time.Now}
}

// Run consumes until ctx is cancelled, redialing after every failure.
func (c *Consumer) Run(ctx context.Context) error {
	for {
		err := c.consumeOnce(ctx)
		c.setConnected(false)
		if ctx.Err() != nil {
			return nil
		}
		if err != nil {
			c.log.Warn("amqp consumer stopped, retrying", "error", err, "retry_in", c.opts.RetryDelay)
		}
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(c.opts.RetryDelay):
		}
	}
}

func (c *Consumer) consumeOnce(ctx context.Context) error {
	conn, err := amqp.DialConfig(c.opts.URL, amqp.Config{
		Heartbeat: 10 * time.Second,
		Locale:    "en_US",
		Dial:      amqp.DefaultDial(30 * time.Second),
	})
	if err != nil {
		return fmt.Errorf("amqp dial: %w", err)
	}
	defer conn.Close()

	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("amqp open channel: %w", err)
	}
	defer ch.Close()

	if err := declareTopology(ch, c.opts.Exchange, c.opts.Queue); err != nil {
		return err
	}
	if err := ch.Qos(c.opts.Prefetch, 0, false); err != nil {
		return fmt.Errorf("amqp qos (prefetch=%d): %w", c.opts.Prefetch, err)
	}

	const tag = "shuttle-realtime"
	deliveries, err := ch.Consume(
		c.opts.Queue,
		tag,
		false, // autoAck
		false, // exclusive
		false, // noLocal
		false, // noWait
		nil,
	)
	if err != nil {
		return fmt.Errorf("amqp consume(%s): %w", c.opts.Queue, err)
	}
	chClosed := ch.NotifyClose(make(chan *amqp.Error, 1))

	c.setConnected(true)
	c.log.Info("amqp consumer attached", "exchange", c.opts.Exchange, "queue", c.opts.Queue)

	for {
		select {
		case <-ctx.Done():
			_ = ch.Cancel(tag, false)
			return nil

		case cerr := <-chClosed:
			if cerr != nil {
				return fmt.Errorf("amqp channel closed: %w", cerr)
			}
			return errors.New("amqp channel closed")

		case d, ok := <-deliveries:
			if !ok {
				return errors.New("amqp delivery stream ended")
			}
			if err := c.handle(d.RoutingKey, d.Body); err != nil {
				c.log.Warn("rejecting message", "routing_key", d.RoutingKey, "error", err)
				if c.metrics != nil {
					c.metrics.Rejected()
				}
				_ = d.Nack(false, false)
				continue
			}
			if c.metrics != nil {
				c.metrics.Consumed(d.RoutingKey)
			}
			_ = d.Ack(false)
		}
	}
}

func declareTopology(ch *amqp.Channel, exchange, queue string) error {
	if err := ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare exchange %s: %w", exchange, err)
	}
	if _, err := ch.QueueDeclare(queue, true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare queue %s: %w", queue, err)
	}
	for _, key := range Bindings {
		if err := ch.QueueBind(queue, key, exchange, false, nil); err != nil {
			return fmt.Errorf("bind %s to %s (%s): %w", queue, exchange, key, err)
		}
	}
	return nil
}

// handle relays one message. An error means the body is unusable and the
// message must be dropped.
func (c *Consumer) handle(routingKey string, body []byte) error {
	if !json.Valid(body) {
		return fmt.Errorf("%w: invalid json", errMalformed)
	}

	if routingKey == RoutingTripStatus {
		var u shuttle.TripUpdate
		if err := json.Unmarshal(body, &u); err != nil {
			return fmt.Errorf("%w: %v", errMalformed, err)
		}
		if u.TripID == "" || u.Status == "" {
			return fmt.Errorf("%w: trip update without tripId or status", errMalformed)
		}
		c.sink.OnTripStatusUpdate(u)
	}

	raw := json.RawMessage(body)
	c.sink.PushAdmin(realtime.EventAdminUpdate, AdminUpdate{
		Kind:      routingKey,
		Data:      raw,
		Timestamp: c.now(),
	})

	var owner struct {
		UserID string `json:"userId"`
	}
	if json.Unmarshal(body, &owner) == nil && owner.UserID != "" {
		c.sink.PushUser(owner.UserID, realtime.EventBookingUpdate, raw)
	}
	return nil
}

func (c *Consumer) setConnected(connected bool) {
	if c.metrics != nil {
		c.metrics.SetConnected(connected)
	}
}
