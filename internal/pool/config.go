// Package pool contains the inner components for implementing a worker pool:
// the fan-out queue feeding the workers and the fan-in queue collecting
// their results.
package pool

import (
	"github.com/FerroO2000/parpipe/internal/queue"
	"github.com/FerroO2000/parpipe/internal/rb"
)

// Config is the configuration for the worker pool.
type Config struct {
	// Name is the prefix of the queue names.
	//
	// Default: "pool"
	Name string

	// Workers is the number of workers reading from the fan-out
	// and writing to the fan-in.
	//
	// Default: 1
	Workers int

	// QueueCapacity is the capacity, in messages, of both the fan-out
	// and the fan-in queues.
	//
	// Default: 1024
	QueueCapacity uint64

	// Strategy is the backpressure strategy of both queues.
	//
	// Default: semaphore
	Strategy queue.Strategy

	// Verbose enables the logging of queue full/empty events.
	Verbose bool
}

// DefaultConfig returns the default configuration for the worker pool.
func DefaultConfig() *Config {
	return &Config{
		Name:          "pool",
		Workers:       1,
		QueueCapacity: queue.DefaultCapacity,
		Strategy:      queue.StrategySemaphore,
	}
}

func (c *Config) queueConfig(suffix string, kind rb.BufferKind) *queue.Config {
	qCfg := queue.NewConfig(c.Name + "-" + suffix)
	qCfg.Capacity = c.QueueCapacity
	qCfg.Kind = kind
	qCfg.Strategy = c.Strategy
	qCfg.Verbose = c.Verbose
	return qCfg
}

// fanOutKind returns the ring buffer kind of the fan-out queue:
// one producer, one consumer per worker.
func (c *Config) fanOutKind() rb.BufferKind {
	if c.Workers > 1 {
		return rb.BufferKindSPMC
	}
	return rb.BufferKindSPSC
}

// fanInKind returns the ring buffer kind of the fan-in queue:
// one producer per worker, one consumer.
func (c *Config) fanInKind() rb.BufferKind {
	if c.Workers > 1 {
		return rb.BufferKindMPSC
	}
	return rb.BufferKindSPSC
}
