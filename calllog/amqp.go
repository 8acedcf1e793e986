package calllog

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"
	"github.com/streadway/amqp"
)

// ErrSinkClosed is returned by Write after Close.
var ErrSinkClosed = errors.New("call log sink closed")

// AMQPConfig locates the broker and queue for call records.
type AMQPConfig struct {
	URL        string
	Queue      string
	Exchange   string // empty uses the default exchange
	RoutingKey string // defaults to Queue
}

// publisher is the subset of *amqp.Channel the sink uses.
type publisher interface {
	Publish(exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// AMQPSink publishes records as persistent messages to a durable queue.
type AMQPSink struct {
	mu      sync.Mutex
	config  AMQPConfig
	encoder Encoder
	conn    *amqp.Connection
	channel publisher
	closed  bool
}

// NewAMQPSink dials the broker and declares the queue.
func NewAMQPSink(config AMQPConfig, encoder Encoder) (*AMQPSink, error) {
	if config.URL == "" || config.Queue == "" {
		return nil, fmt.Errorf("amqp url and queue are required")
	}

	conn, err := amqp.Dial(config.URL)
	if err != nil {
		return nil, fmt.Errorf("connect to amqp: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open amqp channel: %w", err)
	}
	if _, err := ch.QueueDeclare(
		config.Queue,
		true,  // durable
		false, // auto-delete
		false, // exclusive
		false, // no-wait
		nil,
	); err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("declare queue %s: %w", config.Queue, err)
	}

	logrus.WithFields(logrus.Fields{
		"function": "NewAMQPSink",
		"queue":    config.Queue,
		"exchange": config.Exchange,
	}).Info("Call log publishing to AMQP")

	s := newAMQPSink(config, encoder, ch)
	s.conn = conn
	return s, nil
}

func newAMQPSink(config AMQPConfig, encoder Encoder, ch publisher) *AMQPSink {
	if config.RoutingKey == "" {
		config.RoutingKey = config.Queue
	}
	if encoder == nil {
		encoder = JSONEncoder{}
	}
	return &AMQPSink{config: config, encoder: encoder, channel: ch}
}

// Write publishes rec.
func (s *AMQPSink) Write(ctx context.Context, rec Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	body, err := s.encoder.Encode(rec)
	if err != nil {
		return fmt.Errorf("encode call record: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrSinkClosed
	}

	msg := amqp.Publishing{
		ContentType:  s.encoder.ContentType(),
		DeliveryMode: amqp.Persistent,
		MessageId:    rec.SessionID,
		Timestamp:    rec.EndedAt,
		Type:         "call.ended",
		Body:         body,
	}
	if err := s.channel.Publish(s.config.Exchange, s.config.RoutingKey, false, false, msg); err != nil {
		logrus.WithFields(logrus.Fields{
			"function":   "AMQPSink.Write",
			"session_id": rec.SessionID,
			"error":      err.Error(),
		}).Error("Failed to publish call record")
		return fmt.Errorf("publish call record: %w", err)
	}

	logrus.WithFields(logrus.Fields{
		"function":   "AMQPSink.Write",
		"session_id": rec.SessionID,
		"bytes":      len(body),
	}).Debug("Published call record")
	return nil
}

// Close closes the channel and connection.
func (s *AMQPSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true

	var errs []error
	if s.channel != nil {
		errs = append(errs, s.channel.Close())
	}
	if s.conn != nil {
		errs = append(errs, s.conn.Close())
	}
	return errors.Join(errs...)
}
