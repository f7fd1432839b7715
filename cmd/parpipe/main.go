// Command parpipe transforms every line of its input in parallel.
//
// The input is read from a file, stdin or a Kafka topic, every line goes
// through the selected transform (sha256, upper, wordcount) on a pool of
// workers, and the results are written to a file, stdout or a Kafka topic.
// The output lines are NOT in the order of the input lines unless the
// parallelism is 1.
//
// Every flag can also be set in a YAML file (--config) or through an
// environment variable prefixed with PARPIPE_, dots and dashes replaced
// with underscores (e.g. PARPIPE_KAFKA_INPUT_TOPIC).
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/FerroO2000/parpipe"
	"github.com/FerroO2000/parpipe/internal"
	"github.com/FerroO2000/parpipe/internal/config"
	"github.com/FerroO2000/parpipe/sink"
	"github.com/FerroO2000/parpipe/source"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdin, os.Stdout); err != nil {
		if errors.Is(err, errHelp) {
			return
		}

		fmt.Fprintln(os.Stderr, "parpipe:", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, stdin io.Reader, stdout io.Writer) (err error) {
	cfg, err := loadConfig(args)
	if err != nil {
		return err
	}

	logger := newLogger(cfg.Telemetry.LogLevel)
	parpipe.SetLogger(logger)

	tel := internal.NewTelemetry("cli", "parpipe")
	defer tel.Close()

	config.NewValidator(tel).Validate(cfg)

	if cfg.Telemetry.OTLPEndpoint != "" {
		shutdown, err := initTelemetry(ctx, &cfg.Telemetry)
		if err != nil {
			return err
		}

		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()

			if shutdownErr := shutdown(shutdownCtx); shutdownErr != nil {
				tel.LogError("failed to shut down telemetry", shutdownErr)
			}
		}()
	}

	pull, closeInput, err := openInput(ctx, cfg, stdin)
	if err != nil {
		return err
	}

	combine, closeOutput, err := openOutput(ctx, cfg, stdout)
	if err != nil {
		return errors.Join(err, closeInput())
	}

	pipeCfg := cfg.pipelineConfig()

	tel.LogDebug("starting pipeline",
		"transform", cfg.Transform, "parallelism", pipeCfg.Parallelism,
		"batch_size", pipeCfg.BatchSize, "strategy", pipeCfg.Strategy.String())

	start := time.Now()
	runErr := parpipe.Run(ctx, pipeCfg, pull, transforms[cfg.Transform], combine)

	// The output is closed first so that the results are flushed
	// even when the run failed half-way
	if err := errors.Join(runErr, closeOutput(), closeInput()); err != nil {
		return err
	}

	tel.LogInfo("pipeline completed", "elapsed", time.Since(start))

	return nil
}

func openInput(ctx context.Context, cfg *cliConfig, stdin io.Reader) (func() (string, error), func() error, error) {
	if topic := cfg.Kafka.InputTopic; topic != "" {
		kafkaCfg := source.DefaultKafkaConfig(topic)
		kafkaCfg.Brokers = cfg.Kafka.Brokers
		kafkaCfg.GroupID = cfg.Kafka.GroupID
		kafkaCfg.MaxMessages = cfg.Kafka.MaxMessages
		kafkaCfg.IdleTimeout = cfg.Kafka.IdleTimeout

		ks, err := source.NewKafka(ctx, kafkaCfg)
		if err != nil {
			return nil, nil, err
		}

		pull := func() (string, error) {
			msg, err := ks.Pull()
			if err != nil {
				return "", err
			}
			return string(msg.Value), nil
		}

		return pull, ks.Close, nil
	}

	if cfg.Input == "-" {
		return source.Lines(stdin, cfg.MaxLineSize), func() error { return nil }, nil
	}

	file, err := os.Open(cfg.Input)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open input: %w", err)
	}

	return source.Lines(file, cfg.MaxLineSize), file.Close, nil
}

func openOutput(ctx context.Context, cfg *cliConfig, stdout io.Writer) (func(string), func() error, error) {
	if topic := cfg.Kafka.OutputTopic; topic != "" {
		kafkaCfg := sink.DefaultKafkaConfig(topic)
		kafkaCfg.Brokers = cfg.Kafka.Brokers

		ks, err := sink.NewKafka(ctx, kafkaCfg)
		if err != nil {
			return nil, nil, err
		}

		combine := func(line string) {
			ks.Combine([]byte(line))
		}

		return combine, ks.Close, nil
	}

	if cfg.Output == "-" {
		sw := sink.NewWriter(stdout, cfg.FlushThreshold)
		return sw.Combine, sw.Close, nil
	}

	file, err := os.Create(cfg.Output)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create output: %w", err)
	}

	sw := sink.NewWriter(file, cfg.FlushThreshold)
	closeOutput := func() error {
		return errors.Join(sw.Close(), file.Close())
	}

	return sw.Combine, closeOutput, nil
}
