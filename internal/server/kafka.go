package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"

	"photoassets/internal/derivative"
	"photoassets/internal/models"
)

// Processor is the part of Pipeline the transports depend on.
type Processor interface {
	Process(ctx context.Context, filename string, force bool) (*models.Photo, error)
}

func newWriter(broker, topic string) *kafka.Writer {
	return kafka.NewWriter(kafka.WriterConfig{
		Brokers:  []string{broker},
		Topic:    topic,
		Balancer: &kafka.Hash{},
	})
}

// KafkaPublisher writes JSON values keyed by source filename to one topic.
type KafkaPublisher struct {
	writer *kafka.Writer
}

func NewKafkaPublisher(broker, topic string) *KafkaPublisher {
	return &KafkaPublisher{writer: newWriter(broker, topic)}
}

// Publish sends a result event.
func (k *KafkaPublisher) Publish(ctx context.Context, ev models.ResultEvent) error {
	return k.write(ctx, ev.Filename, ev)
}

// Enqueue sends an upload event for asynchronous processing.
func (k *KafkaPublisher) Enqueue(ctx context.Context, ev models.UploadEvent) error {
	return k.write(ctx, ev.Filename, ev)
}

func (k *KafkaPublisher) write(ctx context.Context, key string, v any) error {
	const op = "server.KafkaPublisher.write"

	value, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if err := k.writer.WriteMessages(ctx, kafka.Message{Key: []byte(key), Value: value}); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

func (k *KafkaPublisher) Close() error {
	return k.writer.Close()
}

// Consumer feeds upload events from Kafka into a Processor.
type Consumer struct {
	reader *kafka.Reader
	proc   Processor
	log    zerolog.Logger
}

func NewConsumer(cfg *models.Config, proc Processor, log zerolog.Logger) *Consumer {
	return &Consumer{
		reader: kafka.NewReader(kafka.ReaderConfig{
			Brokers: []string{cfg.KafkaBroker},
			Topic:   cfg.KafkaTopic,
			GroupID: cfg.KafkaGroupID,
		}),
		proc: proc,
		log:  log.With().Str("component", "upload-consumer").Logger(),
	}
}

// Run consumes until ctx is cancelled.
func (c *Consumer) Run(ctx context.Context) error {
	defer c.reader.Close()

	c.log.Info().Msg("consuming upload events")
	for {
		msg, err := c.reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			c.log.Error().Err(err).Msg("error reading message")
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(time.Second):
			}
			continue
		}
		c.handle(ctx, msg.Value)
	}
}

func (c *Consumer) handle(ctx context.Context, value []byte) {
	ev := models.ParseUploadEvent(value)
	log := c.log.With().Str("filename", ev.Filename).Logger()

	if !derivative.IsImageFilename(ev.Filename) {
		log.Warn().Msg("ignoring upload event for non-image file")
		return
	}

	if _, err := c.proc.Process(ctx, ev.Filename, ev.Force); err != nil {
		if errors.Is(err, derivative.ErrNotFound) {
			log.Warn().Err(err).Msg("uploaded source is gone")
			return
		}
		log.Error().Err(err).Str("kind", derivative.KindOf(err)).Msg("error processing upload")
	}
}
