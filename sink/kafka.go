package sink

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

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

// Default values for the Kafka sink configuration.
const (
	DefaultKafkaConfigMaxAttempts  = 10
	DefaultKafkaConfigBatchSize    = 100
	DefaultKafkaConfigBatchBytes   = 1048576
	DefaultKafkaConfigBatchTimeout = time.Second
	DefaultKafkaConfigWriteTimeout = 10 * time.Second
)

// KafkaConfig structs contains the configuration for the Kafka sink.
type KafkaConfig struct {
	// A list of Kafka brokers to connect to.
	//
	// Default: localhost:9092
	Brokers []string

	// Topic is the topic every message is written to.
	Topic string

	// The balancer used to distribute messages across partitions.
	//
	// Default: RoundRobin.
	Balancer kafka.Balancer

	// Limit on how many attempts will be made to deliver a message.
	//
	// Default: 10.
	MaxAttempts int

	// Limit on how many messages will be buffered before being sent to a
	// partition.
	//
	// Default: 100.
	BatchSize int

	// Limit the maximum size of a request in bytes before being sent to
	// a partition.
	//
	// Default: 1048576.
	BatchBytes int64

	// Time limit on how often incomplete message batches will be flushed to
	// kafka.
	//
	// Default: 1s.
	BatchTimeout time.Duration

	// Timeout for write operation performed by the Writer.
	//
	// Default: 10s.
	WriteTimeout time.Duration

	// Number of acknowledges from partition replicas required before receiving
	// a response to a produce request.
	//
	// Default: RequireOne.
	RequiredAcks kafka.RequiredAcks

	// Compression set the compression codec to be used to compress messages.
	//
	// Default: Snappy.
	Compression kafka.Compression

	// AllowAutoTopicCreation notifies writer to create topic if missing.
	AllowAutoTopicCreation bool
}

// DefaultKafkaConfig returns a default Kafka sink config.
func DefaultKafkaConfig(topic string) *KafkaConfig {
	return &KafkaConfig{
		Brokers:                DefaultKafkaConfigBrokers,
		Topic:                  topic,
		Balancer:               &kafka.RoundRobin{},
		MaxAttempts:            DefaultKafkaConfigMaxAttempts,
		BatchSize:              DefaultKafkaConfigBatchSize,
		BatchBytes:             DefaultKafkaConfigBatchBytes,
		BatchTimeout:           DefaultKafkaConfigBatchTimeout,
		WriteTimeout:           DefaultKafkaConfigWriteTimeout,
		RequiredAcks:           kafka.RequireOne,
		Compression:            kafka.Snappy,
		AllowAutoTopicCreation: true,
	}
}

// Validate checks the configuration.
func (c *KafkaConfig) Validate(ac *config.AnomalyCollector) {
	config.CheckLen(ac, "Brokers", &c.Brokers, DefaultKafkaConfigBrokers)
	config.CheckPositive(ac, "MaxAttempts", &c.MaxAttempts, DefaultKafkaConfigMaxAttempts)
	config.CheckPositive(ac, "BatchSize", &c.BatchSize, DefaultKafkaConfigBatchSize)
	config.CheckPositive(ac, "BatchBytes", &c.BatchBytes, DefaultKafkaConfigBatchBytes)
	config.CheckPositive(ac, "BatchTimeout", &c.BatchTimeout, DefaultKafkaConfigBatchTimeout)
	config.CheckPositive(ac, "WriteTimeout", &c.WriteTimeout, DefaultKafkaConfigWriteTimeout)
}

// ErrNoTopic is returned by NewKafka when the configuration has no topic.
var ErrNoTopic = errors.New("sink: no kafka topic to write to")

//////////////
//  WRITER  //
//////////////

// messageWriter is the subset of *kafka.Writer used by the sink.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Kafka writes every combined value as a Kafka message.
// The values are sent in batches of BatchSize messages; the trace
// context of the run is injected in the headers of every message.
// It is meant to be used by the collector only, it is not safe for concurrent use.
type Kafka struct {
	tel *internal.Telemetry

	ctx    context.Context
	topic  string
	writer messageWriter

	batchSize int
	pending   []kafka.Message

	err error

	// Metrics
	deliveredMessages atomic.Int64
	deliveredBytes    atomic.Int64
	deliveryErrors    atomic.Int64
}

// NewKafka returns a new Kafka sink. Every write is bound to ctx.
func NewKafka(ctx context.Context, cfg *KafkaConfig) (*Kafka, error) {
	tel := internal.NewTelemetry("sink", "kafka")

	c := *cfg
	config.NewValidator(tel).Validate(&c)

	if c.Topic == "" {
		tel.Close()
		return nil, ErrNoTopic
	}

	writer := &kafka.Writer{
		Addr:                   kafka.TCP(c.Brokers...),
		Topic:                  c.Topic,
		Balancer:               c.Balancer,
		MaxAttempts:            c.MaxAttempts,
		BatchSize:              c.BatchSize,
		BatchBytes:             c.BatchBytes,
		BatchTimeout:           c.BatchTimeout,
		WriteTimeout:           c.WriteTimeout,
		RequiredAcks:           c.RequiredAcks,
		Compression:            c.Compression,
		AllowAutoTopicCreation: c.AllowAutoTopicCreation,
	}

	return newKafka(ctx, tel, c.Topic, writer, c.BatchSize), nil
}

func newKafka(ctx context.Context, tel *internal.Telemetry, topic string, writer messageWriter, batchSize int) *Kafka {
	ks := &Kafka{
		tel: tel,

		ctx:    ctx,
		topic:  topic,
		writer: writer,

		batchSize: batchSize,
		pending:   make([]kafka.Message, 0, batchSize),
	}

	ks.initMetrics()

	return ks
}

func (ks *Kafka) initMetrics() {
	ks.tel.NewCounter("delivered_messages", func() int64 { return ks.deliveredMessages.Load() })
	ks.tel.NewCounter("delivered_bytes", func() int64 { return ks.deliveredBytes.Load() })
	ks.tel.NewCounter("delivery_errors", func() int64 { return ks.deliveryErrors.Load() })
}

// Combine queues the value for delivery. It is a no-op after an error.
func (ks *Kafka) Combine(value []byte) {
	ks.CombineKeyed(nil, value)
}

// CombineKeyed is like Combine, with a message key.
func (ks *Kafka) CombineKeyed(key, value []byte) {
	if ks.err != nil {
		return
	}

	ks.pending = append(ks.pending, kafka.Message{
		Key:   key,
		Value: value,
	})

	if len(ks.pending) >= ks.batchSize {
		ks.deliver()
	}
}

func (ks *Kafka) deliver() {
	if len(ks.pending) == 0 {
		return
	}

	ctx, span := ks.tel.NewTrace(ks.ctx, "deliver kafka messages")
	defer span.End()

	// Every message carries the trace of the delivery
	headerCarrier := telemetry.NewKafkaHeaderCarrier(nil)
	ks.tel.InjectTrace(ctx, headerCarrier)

	size := 0
	for idx := range ks.pending {
		ks.pending[idx].Headers = headerCarrier.Headers()
		size += len(ks.pending[idx].Value)
	}

	span.SetAttributes(
		attribute.String("topic", ks.topic),
		attribute.Int("messages", len(ks.pending)),
		attribute.Int("size", size),
	)

	if err := ks.writer.WriteMessages(ctx, ks.pending...); err != nil {
		ks.tel.LogError("failed to deliver messages", err, "topic", ks.topic, "messages", len(ks.pending))
		ks.deliveryErrors.Add(1)
		span.RecordError(err)

		ks.err = err
		return
	}

	ks.deliveredMessages.Add(int64(len(ks.pending)))
	ks.deliveredBytes.Add(int64(size))

	ks.pending = make([]kafka.Message, 0, ks.batchSize)
}

// Err returns the first delivery error.
func (ks *Kafka) Err() error {
	return ks.err
}

// Close delivers the pending messages and closes the writer.
// It returns the first delivery error, if any.
func (ks *Kafka) Close() error {
	defer ks.tel.Close()

	if ks.err == nil {
		ks.deliver()
	}

	if err := ks.writer.Close(); err != nil {
		ks.tel.LogError("failed to close writer", err)
		return errors.Join(ks.err, err)
	}

	return ks.err
}
