// Package parpipe runs a data pipeline in parallel: a pull function yields
// the inputs, a pure transform function maps them and a combine function
// consumes the outputs.
//
// The inputs are sent in batches to a fixed set of workers through a bounded
// job queue, and the outputs are funneled back through a bounded result queue
// to a collector running on the calling goroutine. A full queue blocks its
// producers (backpressure), so memory usage is bounded no matter how fast
// the input is pulled.
//
// The outputs are combined in no particular order.
package parpipe

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/FerroO2000/parpipe/internal"
	"github.com/FerroO2000/parpipe/internal/affinity"
	"github.com/FerroO2000/parpipe/internal/config"
	"github.com/FerroO2000/parpipe/internal/pool"
	"github.com/FerroO2000/parpipe/internal/queue"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"golang.org/x/sync/errgroup"
)

const (
	roleFeeder    = "feeder"
	roleWorker    = "worker"
	roleCollector = "collector"
)

// SetLogger replaces the logger used by the library.
// A nil logger restores the default one, which writes to stderr.
func SetLogger(l *slog.Logger) {
	internal.SetLogger(l)
}

// AvailableCores returns the number of cores the process can run on,
// which is the maximum parallelism accepted by Run.
func AvailableCores() int {
	return affinity.AvailableCores()
}

// Run pulls every input with pull, applies transform to each of them on
// cfg.Parallelism workers and hands every output to combine.
//
// The pull function signals the end of the input by returning ErrEndOfInput;
// any other error aborts the run and is returned wrapped. Both pull and
// combine are only ever called by one goroutine at a time, while transform
// is called concurrently by the workers.
//
// Run returns a *ConfigError before doing anything if cfg.Parallelism is
// lower than 1 or greater than AvailableCores. With a parallelism of 1 the
// pipeline runs sequentially on the calling goroutine.
//
// A panic of transform aborts the run and is returned as a *PanicError.
// When ctx is done the run is aborted and the context error is returned.
// Both queues are always destroyed before Run returns.
func Run[T, U any](ctx context.Context, cfg *Config, pull func() (T, error), transform func(T) U, combine func(U)) error {
	if cfg == nil {
		cfg = NewConfig()
	}

	// The caller configuration is never modified
	c := *cfg

	tel := internal.NewTelemetry("pipeline", "parpipe")
	defer tel.Close()

	if err := checkFuncs(pull, transform, combine); err != nil {
		return err
	}

	if err := c.checkParallelism(affinity.AvailableCores()); err != nil {
		tel.LogError("invalid configuration", err)
		return err
	}

	config.NewValidator(tel).Validate(&c)

	ctx, span := tel.NewTrace(ctx, "parpipe.run")
	defer span.End()

	span.SetAttributes(
		attribute.Int("parallelism", c.Parallelism),
		attribute.Int("batch_size", c.BatchSize),
		attribute.String("strategy", c.Strategy.String()),
	)

	runDuration := tel.NewHistogram("run_duration", metric.WithUnit("ms"),
		metric.WithDescription("Duration of a pipeline run"))

	start := time.Now()

	var err error
	if c.Parallelism == 1 {
		err = runSequential(ctx, tel, pull, transform, combine)
	} else {
		err = runParallel(ctx, tel, &c, pull, transform, combine)
	}

	elapsed := time.Since(start)
	runDuration.Record(ctx, elapsed.Milliseconds())

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}

	if c.Verbose {
		tel.LogInfo("run completed", "parallelism", c.Parallelism, "elapsed", elapsed)
	}

	return nil
}

func checkFuncs[T, U any](pull func() (T, error), transform func(T) U, combine func(U)) error {
	switch {
	case pull == nil:
		return &ConfigError{Field: "pull", Reason: "cannot be nil"}
	case transform == nil:
		return &ConfigError{Field: "transform", Reason: "cannot be nil"}
	case combine == nil:
		return &ConfigError{Field: "combine", Reason: "cannot be nil"}
	}
	return nil
}

// runSequential is the fallback used when the parallelism is 1:
// no queue is created and no goroutine is spawned.
func runSequential[T, U any](
	ctx context.Context, tel *internal.Telemetry, pull func() (T, error), transform func(T) U, combine func(U),
) error {
	tel.LogDebug("running sequentially")

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		item, err := safePull(pull)
		if err != nil {
			// Checked first, a panic value may wrap ErrEndOfInput
			var panicErr *PanicError
			if errors.As(err, &panicErr) {
				return err
			}

			if errors.Is(err, ErrEndOfInput) {
				return nil
			}

			tel.LogError("failed to pull input", err)
			return fmt.Errorf("parpipe: failed to pull input: %w", err)
		}

		res, err := safeTransform(transform, item)
		if err != nil {
			return err
		}

		combine(res)
	}
}

// safePull reports a panic of pull the way the feeder does.
func safePull[T any](pull func() (T, error)) (item T, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = newPanicError(roleFeeder, 0, r)
		}
	}()

	return pull()
}

func safeTransform[T, U any](transform func(T) U, item T) (res U, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = newPanicError(roleWorker, 0, r)
		}
	}()

	return transform(item), nil
}

func runParallel[T, U any](
	ctx context.Context, tel *internal.Telemetry, cfg *Config,
	pull func() (T, error), transform func(T) U, combine func(U),
) error {
	if cfg.CompactBeforeSpawn {
		tel.LogDebug("returning memory to the OS before spawning")
		debug.FreeOSMemory()
	}

	poolCfg := cfg.poolConfig()

	fanOut := pool.NewFanOut[T](poolCfg)
	defer fanOut.Close()

	fanIn := pool.NewFanIn[U](poolCfg)
	defer fanIn.Close()

	parentCtx := ctx

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	group, groupCtx := errgroup.WithContext(ctx)

	feederTel := internal.NewTelemetry(roleFeeder, "feeder")
	defer feederTel.Close()

	feeder := newFeeder(feederTel, pull, fanOut, cfg.BatchSize)
	feeder.initMetrics()
	group.Go(func() error {
		return feeder.run(groupCtx)
	})

	workerTel := internal.NewTelemetry(roleWorker, "workers")
	defer workerTel.Close()

	metrics := newWorkerMetrics(workerTel)
	metrics.init()

	for id := range cfg.Parallelism {
		worker := newWorker(workerTel, id, transform, cfg.CorePinning, fanOut, fanIn, metrics)
		group.Go(func() error {
			return worker.run(groupCtx)
		})
	}

	tel.LogDebug("roles spawned", "workers", cfg.Parallelism)

	collectorTel := internal.NewTelemetry(roleCollector, "collector")
	defer collectorTel.Close()

	collector := newCollector(collectorTel, combine, fanIn)
	collector.initMetrics()

	collectErr := collector.run(groupCtx)
	if collectErr != nil {
		cancel()
	}

	groupErr := group.Wait()

	// The error of a spawned role is the cause of a collector failure,
	// unless the roles have just been canceled
	if groupErr != nil && !isCancellation(groupErr) {
		return groupErr
	}

	if err := parentCtx.Err(); err != nil {
		return err
	}

	if groupErr != nil {
		return groupErr
	}

	return collectErr
}

func isCancellation(err error) bool {
	return errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, queue.ErrClosed)
}
