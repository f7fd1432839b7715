package source

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/FerroO2000/parpipe"
	"github.com/FerroO2000/parpipe/internal"
	"github.com/FerroO2000/parpipe/internal/config"
	"github.com/FerroO2000/parpipe/internal/telemetry"
	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel/attribute"
)

//////////////
//  CONFIG  //
//////////////

// DefaultKafkaConfigBrokers is the default list of Kafka brokers to connect to.
var DefaultKafkaConfigBrokers = []string{"localhost:9092"}

// Default values for the Kafka source configuration.
const (
	DefaultKafkaConfigGroupID     = "parpipe"
	DefaultKafkaConfigMinBytes    = 1
	DefaultKafkaConfigMaxBytes    = 1 << 20
	DefaultKafkaConfigMaxWait     = time.Second
	DefaultKafkaConfigStartOffset = kafka.FirstOffset
	DefaultKafkaConfigIdleTimeout = 5 * time.Second
	DefaultKafkaConfigMaxAttempts = 3
)

// KafkaConfig structs contains the configuration for the Kafka source.
type KafkaConfig struct {
	// The list of broker addresses used to connect to the kafka cluster.
	Brokers []string

	// GroupID holds the consumer group id.
	GroupID string

	// Topics are the topics the consumer group reads from.
	Topics []string

	// An dialer used to open connections to the kafka server. This field is
	// optional, if nil, the default dialer is used instead.
	Dialer *kafka.Dialer

	// MinBytes indicates to the broker the minimum batch size that the consumer
	// will accept.
	MinBytes int

	// MaxBytes indicates to the broker the maximum batch size that the consumer
	// will accept.
	MaxBytes int

	// Maximum amount of time to wait for new data to come when fetching batches
	// of messages from kafka.
	MaxWait time.Duration

	// StartOffset determines from whence the consumer group should begin
	// consuming when it finds a partition without a committed offset.
	StartOffset int64

	// Limit of how many attempts to connect will be made before returning the error.
	MaxAttempts int

	// MaxMessages ends the input after that many messages. 0 means no limit.
	MaxMessages int

	// IdleTimeout ends the input when no message arrives for that long.
	// A topic has no end by itself, so it cannot be disabled.
	//
	// Default: 5s
	IdleTimeout time.Duration
}

// DefaultKafkaConfig returns a default kafka config.
// There are NO default topics set.
func DefaultKafkaConfig(topics ...string) *KafkaConfig {
	return &KafkaConfig{
		Brokers:     DefaultKafkaConfigBrokers,
		GroupID:     DefaultKafkaConfigGroupID,
		Topics:      topics,
		MinBytes:    DefaultKafkaConfigMinBytes,
		MaxBytes:    DefaultKafkaConfigMaxBytes,
		MaxWait:     DefaultKafkaConfigMaxWait,
		StartOffset: DefaultKafkaConfigStartOffset,
		MaxAttempts: DefaultKafkaConfigMaxAttempts,
		IdleTimeout: DefaultKafkaConfigIdleTimeout,
	}
}

// Validate checks the configuration.
func (c *KafkaConfig) Validate(ac *config.AnomalyCollector) {
	config.CheckLen(ac, "Brokers", &c.Brokers, DefaultKafkaConfigBrokers)
	config.CheckNotEmpty(ac, "GroupID", &c.GroupID, DefaultKafkaConfigGroupID)

	config.CheckPositive(ac, "MinBytes", &c.MinBytes, DefaultKafkaConfigMinBytes)
	config.CheckNotLower(ac, "MaxBytes", &c.MaxBytes, c.MinBytes)
	config.CheckPositive(ac, "MaxWait", &c.MaxWait, DefaultKafkaConfigMaxWait)
	config.CheckPositive(ac, "MaxAttempts", &c.MaxAttempts, DefaultKafkaConfigMaxAttempts)

	config.CheckNotNegative(ac, "MaxMessages", &c.MaxMessages, 0)
	config.CheckPositive(ac, "IdleTimeout", &c.IdleTimeout, DefaultKafkaConfigIdleTimeout)
}

///////////////
//  MESSAGE  //
///////////////

// KafkaMessage represents a message read by the Kafka source.
type KafkaMessage struct {
	Topic     string
	Partition int
	Offset    int64
	Key       []byte
	Value     []byte

	Headers []kafka.Header
}

//////////////
//  SOURCE  //
//////////////

// ErrNoTopics is returned by NewKafka when the configuration has no topic.
var ErrNoTopics = errors.New("source: no kafka topic to read from")

// Kafka reads the messages of a consumer group.
// Its Pull method is the pull function to give to parpipe.Run.
type Kafka struct {
	tel *internal.Telemetry

	ctx    context.Context
	cfg    KafkaConfig
	reader *kafka.Reader

	// Metrics
	receivedMessages atomic.Int64
	receivedBytes    atomic.Int64
}

// NewKafka returns a new Kafka source. Every read is bound to ctx.
func NewKafka(ctx context.Context, cfg *KafkaConfig) (*Kafka, error) {
	tel := internal.NewTelemetry("source", "kafka")

	c := *cfg
	config.NewValidator(tel).Validate(&c)

	if len(c.Topics) == 0 {
		tel.Close()
		return nil, ErrNoTopics
	}

	ks := &Kafka{
		tel: tel,

		ctx: ctx,
		cfg: c,
		reader: kafka.NewReader(kafka.ReaderConfig{
			Brokers:     c.Brokers,
			GroupID:     c.GroupID,
			GroupTopics: c.Topics,
			Dialer:      c.Dialer,
			MinBytes:    c.MinBytes,
			MaxBytes:    c.MaxBytes,
			MaxWait:     c.MaxWait,
			StartOffset: c.StartOffset,
			MaxAttempts: c.MaxAttempts,
		}),
	}

	ks.initMetrics()

	return ks, nil
}

func (ks *Kafka) initMetrics() {
	ks.tel.NewCounter("received_bytes", func() int64 { return ks.receivedBytes.Load() })
	ks.tel.NewCounter("received_messages", func() int64 { return ks.receivedMessages.Load() })
}

// Pull reads the next message. It returns parpipe.ErrEndOfInput once
// MaxMessages have been read or when the topic has been idle for IdleTimeout.
func (ks *Kafka) Pull() (*KafkaMessage, error) {
	if ks.cfg.MaxMessages > 0 && ks.receivedMessages.Load() >= int64(ks.cfg.MaxMessages) {
		return nil, parpipe.ErrEndOfInput
	}

	readCtx, cancel := context.WithTimeout(ks.ctx, ks.cfg.IdleTimeout)
	defer cancel()

	msg, err := ks.reader.ReadMessage(readCtx)
	if err != nil {
		// Only the idle timeout ends the input, a canceled parent aborts the run
		if ks.ctx.Err() == nil && errors.Is(err, context.DeadlineExceeded) {
			ks.tel.LogInfo("kafka source idle, ending input",
				"idle_timeout", ks.cfg.IdleTimeout, "received_messages", ks.receivedMessages.Load())
			return nil, parpipe.ErrEndOfInput
		}

		ks.tel.LogError("failed to read message", err)
		return nil, fmt.Errorf("source: failed to read kafka message: %w", err)
	}

	return ks.handleMessage(&msg), nil
}

func (ks *Kafka) handleMessage(msg *kafka.Message) *KafkaMessage {
	ctx := ks.ctx
	if len(msg.Headers) > 0 {
		ctx = ks.tel.ExtractTraceContext(ctx, telemetry.NewKafkaHeaderCarrier(msg.Headers))
	}

	_, span := ks.tel.NewTrace(ctx, "receive kafka message")
	defer span.End()

	valueSize := len(msg.Value)
	span.SetAttributes(
		attribute.String("topic", msg.Topic),
		attribute.Int("value_size", valueSize),
	)

	ks.receivedMessages.Add(1)
	ks.receivedBytes.Add(int64(valueSize))

	return &KafkaMessage{
		Topic:     msg.Topic,
		Partition: msg.Partition,
		Offset:    msg.Offset,
		Key:       msg.Key,
		Value:     msg.Value,

		Headers: msg.Headers,
	}
}

// Close closes the underlying reader.
func (ks *Kafka) Close() error {
	defer ks.tel.Close()

	if err := ks.reader.Close(); err != nil {
		ks.tel.LogError("failed to close reader", err)
		return err
	}

	return nil
}
