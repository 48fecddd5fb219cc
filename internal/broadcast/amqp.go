package broadcast

import (
	"context"
	"fmt"
	"io"

	amqp "github.com/rabbitmq/amqp091-go"

	"auction-engine/internal/models"
)

type amqpChannel interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// AMQPSink publishes events to a RabbitMQ topic exchange. Routing keys have
// the form auction.<auction_id>.<event_type>.
type AMQPSink struct {
	conn     io.Closer
	channel  amqpChannel
	exchange string
	codec    Codec
}

// DialAMQP connects to the broker and declares the durable topic exchange
func DialAMQP(url, exchange string, codec Codec) (*AMQPSink, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("amqp: dial: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("amqp: open channel: %w", err)
	}

	err = ch.ExchangeDeclare(
		exchange,
		"topic",
		true,
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("amqp: declare exchange %s: %w", exchange, err)
	}

	sink := newAMQPSink(ch, exchange, codec)
	sink.conn = conn
	return sink, nil
}

func newAMQPSink(ch amqpChannel, exchange string, codec Codec) *AMQPSink {
	return &AMQPSink{channel: ch, exchange: exchange, codec: codec}
}

func (s *AMQPSink) Name() string { return "amqp" }

// RoutingKey returns the topic routing key for event
func RoutingKey(event models.AuctionEvent) string {
	return "auction." + event.AuctionID + "." + string(event.Type)
}

func (s *AMQPSink) Publish(ctx context.Context, event models.AuctionEvent) error {
	body, err := s.codec.Encode(event)
	if err != nil {
		return fmt.Errorf("amqp: encode %s: %w", event.Type, err)
	}

	msg := amqp.Publishing{
		ContentType:  s.codec.ContentType(),
		DeliveryMode: amqp.Persistent,
		Timestamp:    event.OccurredAt,
		Type:         string(event.Type),
		Headers:      amqp.Table{"auction_id": event.AuctionID},
		Body:         body,
	}
	if err := s.channel.PublishWithContext(ctx, s.exchange, RoutingKey(event), false, false, msg); err != nil {
		return fmt.Errorf("amqp: publish %s: %w", RoutingKey(event), err)
	}
	return nil
}

func (s *AMQPSink) Close() error {
	err := s.channel.Close()
	if s.conn != nil {
		if cerr := s.conn.Close(); err == nil {
			err = cerr
		}
	}
	return err
}
