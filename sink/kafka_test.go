package sink

import (
	"context"
	"errors"
	"testing"

	"github.com/FerroO2000/parpipe/internal"
	"github.com/FerroO2000/parpipe/internal/config"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
)

type fakeWriter struct {
	batches [][]kafka.Message
	err     error
	closed  bool
}

func (fw *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if fw.err != nil {
		return fw.err
	}

	fw.batches = append(fw.batches, append([]kafka.Message(nil), msgs...))
	return nil
}

func (fw *fakeWriter) Close() error {
	fw.closed = true
	return nil
}

func newTestKafka(t *testing.T, writer messageWriter, batchSize int) *Kafka {
	return newKafka(t.Context(), internal.NewTelemetry("sink", "kafka-test"), "results", writer, batchSize)
}

func Test_Kafka_Batches(t *testing.T) {
	assert := assert.New(t)

	fw := &fakeWriter{}
	ks := newTestKafka(t, fw, 2)

	ks.Combine([]byte("a"))
	assert.Empty(fw.batches)

	ks.CombineKeyed([]byte("key"), []byte("b"))
	assert.Len(fw.batches, 1)

	ks.Combine([]byte("c"))
	assert.NoError(ks.Close())

	assert.True(fw.closed)
	if assert.Len(fw.batches, 2) {
		assert.Len(fw.batches[0], 2)
		assert.Equal([]byte("key"), fw.batches[0][1].Key)
		assert.Equal([]byte("c"), fw.batches[1][0].Value)
	}

	assert.Equal(int64(3), ks.deliveredMessages.Load())
	assert.Equal(int64(3), ks.deliveredBytes.Load())
}

func Test_Kafka_DeliveryError(t *testing.T) {
	assert := assert.New(t)

	errBroker := errors.New("broker unreachable")
	fw := &fakeWriter{err: errBroker}
	ks := newTestKafka(t, fw, 1)

	ks.Combine([]byte("a"))
	assert.ErrorIs(ks.Err(), errBroker)

	ks.Combine([]byte("b"))
	assert.Equal(int64(1), ks.deliveryErrors.Load())

	assert.ErrorIs(ks.Close(), errBroker)
	assert.True(fw.closed)
}

func Test_KafkaConfig_Validate(t *testing.T) {
	assert := assert.New(t)

	cfg := DefaultKafkaConfig("results")
	cfg.Brokers = []string{}
	cfg.BatchSize = 0
	cfg.WriteTimeout = -1

	ac := config.NewAnomalyCollector()
	cfg.Validate(ac)

	assert.Equal(3, ac.Len())
	assert.Equal(DefaultKafkaConfigBrokers, cfg.Brokers)
	assert.Equal(DefaultKafkaConfigBatchSize, cfg.BatchSize)
	assert.Equal(DefaultKafkaConfigWriteTimeout, cfg.WriteTimeout)
}

func Test_NewKafka_NoTopic(t *testing.T) {
	ks, err := NewKafka(t.Context(), DefaultKafkaConfig(""))
	assert.ErrorIs(t, err, ErrNoTopic)
	assert.Nil(t, ks)
}
