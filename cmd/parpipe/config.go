package main

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/FerroO2000/parpipe"
	"github.com/FerroO2000/parpipe/internal/config"
	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const envPrefix = "PARPIPE"

// Default values of the command line configuration.
const (
	defaultTransform        = "sha256"
	defaultStrategy         = "semaphore"
	defaultInput            = "-"
	defaultOutput           = "-"
	defaultFlushThreshold   = 4096
	defaultKafkaGroupID     = "parpipe"
	defaultKafkaIdleTimeout = 5 * time.Second
	defaultServiceName      = "parpipe"
	defaultLogLevel         = "info"
)

var defaultKafkaBrokers = []string{"localhost:9092"}

var errHelp = errors.New("help requested")

type kafkaConfig struct {
	Brokers     []string      `mapstructure:"brokers"`
	GroupID     string        `mapstructure:"group-id"`
	InputTopic  string        `mapstructure:"input-topic"`
	OutputTopic string        `mapstructure:"output-topic"`
	MaxMessages int           `mapstructure:"max-messages"`
	IdleTimeout time.Duration `mapstructure:"idle-timeout"`
}

type telemetryConfig struct {
	// OTLPEndpoint is the gRPC endpoint of the OpenTelemetry collector.
	// Nothing is exported when empty.
	OTLPEndpoint string  `mapstructure:"otlp-endpoint"`
	ServiceName  string  `mapstructure:"service-name"`
	TraceRatio   float64 `mapstructure:"trace-ratio"`
	LogLevel     string  `mapstructure:"log-level"`
}

type cliConfig struct {
	Transform string `mapstructure:"transform"`

	Parallelism   int    `mapstructure:"parallelism"`
	BatchSize     int    `mapstructure:"batch-size"`
	QueueCapacity int    `mapstructure:"queue-capacity"`
	Strategy      string `mapstructure:"strategy"`
	CorePinning   bool   `mapstructure:"pin"`
	Verbose       bool   `mapstructure:"verbose"`
	Compact       bool   `mapstructure:"compact"`

	Input          string `mapstructure:"input"`
	Output         string `mapstructure:"output"`
	MaxLineSize    int    `mapstructure:"max-line-size"`
	FlushThreshold int    `mapstructure:"flush-threshold"`

	Kafka     kafkaConfig     `mapstructure:"kafka"`
	Telemetry telemetryConfig `mapstructure:"telemetry"`
}

// Validate checks the configuration.
func (c *cliConfig) Validate(ac *config.AnomalyCollector) {
	config.CheckOneOf(ac, "transform", &c.Transform, transformNames(), defaultTransform)
	config.CheckOneOf(ac, "strategy", &c.Strategy, []string{"semaphore", "poll"}, defaultStrategy)

	config.CheckNotEmpty(ac, "input", &c.Input, defaultInput)
	config.CheckNotEmpty(ac, "output", &c.Output, defaultOutput)
	config.CheckPositive(ac, "flush-threshold", &c.FlushThreshold, defaultFlushThreshold)

	if c.Kafka.InputTopic != "" || c.Kafka.OutputTopic != "" {
		config.CheckLen(ac, "kafka.brokers", &c.Kafka.Brokers, defaultKafkaBrokers)
		config.CheckNotEmpty(ac, "kafka.group-id", &c.Kafka.GroupID, defaultKafkaGroupID)
		config.CheckNotNegative(ac, "kafka.max-messages", &c.Kafka.MaxMessages, 0)
		config.CheckPositive(ac, "kafka.idle-timeout", &c.Kafka.IdleTimeout, defaultKafkaIdleTimeout)
	}

	config.CheckNotEmpty(ac, "telemetry.service-name", &c.Telemetry.ServiceName, defaultServiceName)
	config.CheckNotNegative(ac, "telemetry.trace-ratio", &c.Telemetry.TraceRatio, 1)
	config.CheckNotGreater(ac, "telemetry.trace-ratio", &c.Telemetry.TraceRatio, 1)
	config.CheckOneOf(ac, "telemetry.log-level", &c.Telemetry.LogLevel,
		[]string{"debug", "info", "warn", "error"}, defaultLogLevel)
}

func (c *cliConfig) pipelineConfig() *parpipe.Config {
	cfg := parpipe.NewConfig()

	cfg.Parallelism = c.Parallelism
	cfg.BatchSize = c.BatchSize
	cfg.QueueCapacity = c.QueueCapacity
	cfg.CorePinning = c.CorePinning
	cfg.Verbose = c.Verbose
	cfg.CompactBeforeSpawn = c.Compact

	if c.Strategy == "poll" {
		cfg.Strategy = parpipe.StrategyPoll
	}

	return cfg
}

func newFlagSet() *pflag.FlagSet {
	fs := pflag.NewFlagSet("parpipe", pflag.ContinueOnError)

	fs.String("config", "", "path of a YAML configuration file")
	fs.String("env-file", ".env", "path of a .env file, ignored when missing")

	fs.StringP("transform", "t", defaultTransform, "transformation applied to every line: "+strings.Join(transformNames(), ", "))
	fs.IntP("parallelism", "p", parpipe.AvailableCores(), "number of workers, 1 runs sequentially")
	fs.IntP("batch-size", "b", 64, "lines per job message")
	fs.Int("queue-capacity", parpipe.DefaultQueueCapacity, "capacity of the job and result queues, in messages")
	fs.String("strategy", defaultStrategy, "backpressure strategy: semaphore, poll")
	fs.Bool("pin", false, "pin every worker to its own core")
	fs.BoolP("verbose", "v", false, "log the pipeline lifecycle and the queue full/empty events")
	fs.Bool("compact", false, "return memory to the OS before spawning the workers")

	fs.StringP("input", "i", defaultInput, "input file, - for stdin")
	fs.StringP("output", "o", defaultOutput, "output file, - for stdout")
	fs.Int("max-line-size", 0, "longest accepted input line in bytes (default 1MiB)")
	fs.Int("flush-threshold", defaultFlushThreshold, "buffered output bytes that trigger a flush")

	fs.StringSlice("kafka.brokers", defaultKafkaBrokers, "kafka brokers")
	fs.String("kafka.group-id", defaultKafkaGroupID, "kafka consumer group")
	fs.String("kafka.input-topic", "", "read the input from this kafka topic instead of the input file")
	fs.String("kafka.output-topic", "", "write the output to this kafka topic instead of the output file")
	fs.Int("kafka.max-messages", 0, "stop after reading this many kafka messages, 0 means no limit")
	fs.Duration("kafka.idle-timeout", defaultKafkaIdleTimeout, "stop when the input topic is idle for this long")

	fs.String("telemetry.otlp-endpoint", "", "OTLP gRPC collector endpoint, empty disables the export")
	fs.String("telemetry.service-name", defaultServiceName, "service name reported to the collector")
	fs.Float64("telemetry.trace-ratio", 1, "fraction of the runs traced")
	fs.String("telemetry.log-level", defaultLogLevel, "log level: debug, info, warn, error")

	return fs
}

// loadConfig merges, from lowest to highest priority, the flag defaults,
// the YAML configuration file, the environment (with the .env file loaded
// into it) and the command line flags.
func loadConfig(args []string) (*cliConfig, error) {
	fs := newFlagSet()
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil, errHelp
		}
		return nil, err
	}

	v := viper.New()

	if err := v.BindPFlags(fs); err != nil {
		return nil, fmt.Errorf("failed to bind flags: %w", err)
	}

	if envFile, _ := fs.GetString("env-file"); envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("failed to load env file %s: %w", envFile, err)
		}
	}

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	v.AutomaticEnv()

	if configFile := v.GetString("config"); configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", configFile, err)
		}
	}

	cfg := &cliConfig{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return cfg, nil
}
