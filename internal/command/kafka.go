package command

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/segmentio/kafka-go"

	"firestige.xyz/callmon/internal/config"
	"firestige.xyz/callmon/internal/core"
	"firestige.xyz/callmon/internal/log"
)

// fetchRetryDelay is how long the consumer waits after a failed fetch.
const fetchRetryDelay = 5 * time.Second

// KafkaCommand is the wire format for commands received via Kafka.
//
// Example JSON:
//
//	{
//	  "version":    "v1",
//	  "target":     "node-01",
//	  "command":    "call_terminate",
//	  "timestamp":  "2024-01-15T10:30:00Z",
//	  "request_id": "req-abc-123",
//	  "payload":    { "session": "test-inbound-3f9a2c1d" }
//	}
type KafkaCommand struct {
	Version   string          `json:"version"`    // Protocol version ("v1")
	Target    string          `json:"target"`     // Node hostname or "*" for broadcast
	Command   string          `json:"command"`    // Command name (e.g., "call_terminate")
	Timestamp time.Time       `json:"timestamp"`  // When the command was issued
	RequestID string          `json:"request_id"` // Unique request ID for tracing
	Payload   json.RawMessage `json:"payload"`    // Command-specific parameters
}

// messageReader is the subset of *kafka.Reader the consumer uses.
type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaCommandConsumer consumes commands from Kafka and dispatches to handler.
type KafkaCommandConsumer struct {
	hostname string
	reader   messageReader
	handler  *Handler
	ttl      time.Duration
	clock    clockwork.Clock
	log      log.Logger
}

// NewKafkaCommandConsumer creates a consumer from the commands section of
// the configuration.
func NewKafkaCommandConsumer(cc config.CommandsConfig, hostname string, handler *Handler) (*KafkaCommandConsumer, error) {
	kc := cc.Kafka
	if len(kc.Brokers) == 0 {
		return nil, fmt.Errorf("%w: brokers is required", core.ErrConfigInvalid)
	}
	if kc.Topic == "" {
		return nil, fmt.Errorf("%w: topic is required", core.ErrConfigInvalid)
	}
	if kc.GroupID == "" {
		return nil, fmt.Errorf("%w: group_id is required", core.ErrConfigInvalid)
	}

	var startOffset int64
	switch kc.AutoOffsetReset {
	case "earliest":
		startOffset = kafka.FirstOffset
	default:
		startOffset = kafka.LastOffset
	}

	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        kc.Brokers,
		Topic:          kc.Topic,
		GroupID:        kc.GroupID,
		StartOffset:    startOffset,
		MinBytes:       1,
		MaxBytes:       10 << 20,
		CommitInterval: time.Second,
		MaxWait:        time.Second,
	})

	c := newConsumer(reader, hostname, handler, cc.CommandTTL, clockwork.NewRealClock())
	c.log = c.log.WithFields(map[string]interface{}{
		"brokers":  kc.Brokers,
		"topic":    kc.Topic,
		"group_id": kc.GroupID,
	})
	return c, nil
}

func newConsumer(r messageReader, hostname string, handler *Handler, ttl time.Duration, clock clockwork.Clock) *KafkaCommandConsumer {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &KafkaCommandConsumer{
		hostname: hostname,
		reader:   r,
		handler:  handler,
		ttl:      ttl,
		clock:    clock,
		log:      log.GetLogger().WithFields(map[string]interface{}{"component": "command_consumer", "hostname": hostname}),
	}
}

// Start consumes commands until ctx is cancelled.
func (c *KafkaCommandConsumer) Start(ctx context.Context) error {
	c.log.WithField("ttl", c.ttl.String()).Info("kafka command consumer started")

	for {
		if err := ctx.Err(); err != nil {
			c.log.WithField("reason", err.Error()).Info("kafka command consumer stopped")
			return err
		}

		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return err
			}
			c.log.WithError(err).Error("failed to fetch kafka message")
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-c.clock.After(fetchRetryDelay):
				continue
			}
		}

		if err := c.processMessage(ctx, msg); err != nil {
			c.log.WithError(err).WithFields(map[string]interface{}{
				"partition": msg.Partition,
				"offset":    msg.Offset,
			}).Error("failed to process command")
		}

		if err := c.reader.CommitMessages(ctx, msg); err != nil {
			c.log.WithError(err).Error("failed to commit message")
		}
	}
}

func (c *KafkaCommandConsumer) processMessage(ctx context.Context, msg kafka.Message) error {
	var kCmd KafkaCommand
	if err := json.Unmarshal(msg.Value, &kCmd); err != nil {
		return fmt.Errorf("failed to parse kafka command: %w", err)
	}
	logger := c.log.WithFields(map[string]interface{}{
		"command":    kCmd.Command,
		"request_id": kCmd.RequestID,
	})

	if kCmd.Target != "*" && kCmd.Target != "" && kCmd.Target != c.hostname {
		logger.WithField("target", kCmd.Target).Debug("skipping command not targeting this node")
		return nil
	}

	if !kCmd.Timestamp.IsZero() {
		if age := c.clock.Since(kCmd.Timestamp); age > c.ttl {
			logger.WithField("age", age.String()).Warn("skipping stale command")
			return nil
		}
	}

	logger.Info("received kafka command")

	resp := c.handler.Handle(ctx, Command{
		Method: kCmd.Command,
		Params: kCmd.Payload,
		ID:     kCmd.RequestID,
	})
	if resp.Error != nil {
		return fmt.Errorf("command %s failed (%d): %s", kCmd.Command, resp.Error.Code, resp.Error.Message)
	}

	logger.WithField("result", resp.Result).Info("command executed successfully")
	return nil
}

// Stop closes the reader. It is safe to call more than once.
func (c *KafkaCommandConsumer) Stop() error {
	if c.reader == nil {
		return nil
	}
	reader := c.reader
	c.reader = nil
	c.log.Info("closing kafka command consumer")
	if err := reader.Close(); err != nil {
		return fmt.Errorf("failed to close kafka reader: %w", err)
	}
	return nil
}
