package parpipe

import (
	"fmt"

	"github.com/FerroO2000/parpipe/internal/config"
	"github.com/FerroO2000/parpipe/internal/pool"
	"github.com/FerroO2000/parpipe/internal/queue"
)

// Strategy is the backpressure strategy applied to both queues of a run.
type Strategy = queue.Strategy

const (
	// StrategySemaphore blocks a pusher on a full queue until a consumer
	// frees a slot and wakes it up.
	StrategySemaphore = queue.StrategySemaphore
	// StrategyPoll makes a pusher on a full queue sleep until the queue
	// has drained below 10% of its length.
	StrategyPoll = queue.StrategyPoll
)

// Default configuration values.
const (
	DefaultParallelism   = 1
	DefaultBatchSize     = 1
	DefaultQueueCapacity = queue.DefaultCapacity
)

// Config is the configuration of a run.
type Config struct {
	// Parallelism is the number of workers. With 1 the run is sequential
	// and no worker is spawned. It cannot be greater than the available cores.
	//
	// Default: 1
	Parallelism int

	// BatchSize is the maximum number of items carried by a single job message.
	//
	// Default: 1
	BatchSize int

	// QueueCapacity is the capacity, in messages, of the job and result queues.
	// It is rounded up to the next power of 2.
	//
	// Default: 1024
	QueueCapacity int

	// Strategy is the backpressure strategy.
	//
	// Default: StrategySemaphore
	Strategy Strategy

	// CorePinning pins worker i to the i-th available core.
	CorePinning bool

	// Verbose logs the roles lifecycle and the queue full/empty events.
	Verbose bool

	// CompactBeforeSpawn returns as much memory as possible to the OS
	// before spawning the roles.
	CompactBeforeSpawn bool
}

// NewConfig returns the default configuration.
func NewConfig() *Config {
	return &Config{
		Parallelism:   DefaultParallelism,
		BatchSize:     DefaultBatchSize,
		QueueCapacity: DefaultQueueCapacity,
		Strategy:      StrategySemaphore,
	}
}

// Validate checks the configuration, replacing the soft anomalies with the defaults.
func (c *Config) Validate(ac *config.AnomalyCollector) {
	config.CheckPositive(ac, "BatchSize", &c.BatchSize, DefaultBatchSize)
	config.CheckPositive(ac, "QueueCapacity", &c.QueueCapacity, DefaultQueueCapacity)
	config.CheckOneOf(ac, "Strategy", &c.Strategy, []Strategy{StrategySemaphore, StrategyPoll}, StrategySemaphore)
}

// checkParallelism returns a *ConfigError when the parallelism
// cannot be hosted by the given number of cores.
func (c *Config) checkParallelism(cores int) error {
	if c.Parallelism < 1 {
		return &ConfigError{Field: "Parallelism", Reason: "must be at least 1", Value: c.Parallelism}
	}

	if c.Parallelism > cores {
		return &ConfigError{
			Field:  "Parallelism",
			Reason: fmt.Sprintf("cannot be greater than the available cores (%d)", cores),
			Value:  c.Parallelism,
		}
	}

	return nil
}

func (c *Config) poolConfig() *pool.Config {
	poolCfg := pool.DefaultConfig()
	poolCfg.Name = "parpipe"
	poolCfg.Workers = c.Parallelism
	poolCfg.QueueCapacity = uint64(c.QueueCapacity)
	poolCfg.Strategy = c.Strategy
	poolCfg.Verbose = c.Verbose
	return poolCfg
}
