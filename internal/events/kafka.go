package events

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"

	"github.com/segmentio/kafka-go"

	"firestige.xyz/callmon/internal/config"
	"firestige.xyz/callmon/internal/core"
	"firestige.xyz/callmon/internal/log"
)

// messageWriter is the subset of *kafka.Writer the reporter uses.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaReporter sends events to a Kafka topic, keyed by session so that
// every event of a session lands on the same partition.
type KafkaReporter struct {
	writer messageWriter
	topic  string
	log    log.Logger

	reportedCount atomic.Uint64
	errorCount    atomic.Uint64
}

// NewKafkaReporter creates a reporter from the events section of the
// configuration.
func NewKafkaReporter(kc config.KafkaWriterConfig) (*KafkaReporter, error) {
	if len(kc.Brokers) == 0 {
		return nil, fmt.Errorf("%w: brokers is required", core.ErrConfigInvalid)
	}
	if kc.Topic == "" {
		return nil, fmt.Errorf("%w: topic is required", core.ErrConfigInvalid)
	}
	codec, err := compression(kc.Compression)
	if err != nil {
		return nil, err
	}

	w := &kafka.Writer{
		Addr:         kafka.TCP(kc.Brokers...),
		Topic:        kc.Topic,
		Balancer:     &kafka.Hash{},
		BatchSize:    kc.BatchSize,
		BatchTimeout: kc.BatchTimeout,
		MaxAttempts:  kc.MaxAttempts,
		Compression:  codec,
	}

	r := newKafkaReporter(w, kc.Topic)
	r.log.WithFields(map[string]interface{}{
		"brokers":       kc.Brokers,
		"batch_size":    kc.BatchSize,
		"batch_timeout": kc.BatchTimeout,
		"compression":   kc.Compression,
	}).Info("kafka event reporter started")
	return r, nil
}

func newKafkaReporter(w messageWriter, topic string) *KafkaReporter {
	return &KafkaReporter{
		writer: w,
		topic:  topic,
		log:    log.GetLogger().WithFields(map[string]interface{}{"component": "events", "topic": topic}),
	}
}

func compression(name string) (kafka.Compression, error) {
	switch name {
	case "", "none":
		return 0, nil
	case "gzip":
		return kafka.Gzip, nil
	case "snappy":
		return kafka.Snappy, nil
	case "lz4":
		return kafka.Lz4, nil
	case "zstd":
		return kafka.Zstd, nil
	default:
		return 0, fmt.Errorf("%w: invalid compression type %q", core.ErrConfigInvalid, name)
	}
}

// Report sends ev synchronously.
func (r *KafkaReporter) Report(ctx context.Context, ev Event) error {
	if ev.Version == "" {
		ev.Version = Version
	}
	value, err := json.Marshal(ev)
	if err != nil {
		r.errorCount.Add(1)
		return fmt.Errorf("serialize event failed: %w", err)
	}

	msg := kafka.Message{
		Key:   []byte(ev.Session),
		Value: value,
		Time:  ev.Timestamp,
		Headers: []kafka.Header{
			{Key: "type", Value: []byte(ev.Type)},
			{Key: "node", Value: []byte(ev.Node)},
		},
	}
	if err := r.writer.WriteMessages(ctx, msg); err != nil {
		r.errorCount.Add(1)
		return fmt.Errorf("write event to kafka failed: %w", err)
	}
	r.reportedCount.Add(1)

	if r.log.IsTraceEnabled() {
		r.log.WithField("event", string(value)).Trace("event reported")
	}
	return nil
}

// Close flushes pending messages and closes the writer.
func (r *KafkaReporter) Close() error {
	err := r.writer.Close()
	r.log.WithFields(map[string]interface{}{
		"total_reported": r.reportedCount.Load(),
		"total_errors":   r.errorCount.Load(),
	}).Info("kafka event reporter stopped")
	if err != nil {
		return fmt.Errorf("close kafka writer: %w", err)
	}
	return nil
}

// Stats returns the number of events reported and failed.
func (r *KafkaReporter) Stats() (reported, failed uint64) {
	return r.reportedCount.Load(), r.errorCount.Load()
}
