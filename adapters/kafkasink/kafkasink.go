// Package kafkasink publishes committed events to a Kafka topic via an append
// hook. Delivery is at-least-once, consumers must dedupe on the event id.
package kafkasink

import (
	"context"

	"github.com/luno/jettison/errors"
	"github.com/segmentio/kafka-go"

	"github.com/eventfold/eventfold"
)

func New(brokers []string, topic string) *Sink {
	return &Sink{
		writer: &kafka.Writer{
			Addr:     kafka.TCP(brokers...),
			Topic:    topic,
			Balancer: &kafka.Hash{},
		},
	}
}

type Sink struct {
	writer *kafka.Writer
}

// Hook returns the append hook that publishes each committed event. Events in
// the same correlation share a key and thus a partition, so per correlation
// ordering is preserved.
func (s *Sink) Hook() eventfold.AppendHookFunc {
	return func(ctx context.Context, r eventfold.Record) error {
		b, err := eventfold.Marshal(&r)
		if err != nil {
			return errors.Wrap(err, "marshal event")
		}

		err = s.writer.WriteMessages(ctx, kafka.Message{
			Key:   []byte(r.CorrelationID),
			Value: b,
		})
		if err != nil {
			return errors.Wrap(err, "write event message")
		}

		return nil
	}
}

func (s *Sink) Close() error {
	return s.writer.Close()
}
