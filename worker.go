package parpipe

import (
	"context"
	"sync/atomic"

	"github.com/FerroO2000/parpipe/internal"
	"github.com/FerroO2000/parpipe/internal/affinity"
	"github.com/FerroO2000/parpipe/internal/message"
	"github.com/FerroO2000/parpipe/internal/pool"
)

///////////////
//  METRICS  //
///////////////

type workerMetrics struct {
	tel *internal.Telemetry

	processedItems   atomic.Int64
	processingPanics atomic.Int64
}

func newWorkerMetrics(tel *internal.Telemetry) *workerMetrics {
	return &workerMetrics{
		tel: tel,
	}
}

func (wm *workerMetrics) init() {
	wm.tel.NewCounter("processed_items", func() int64 { return wm.processedItems.Load() })
	wm.tel.NewCounter("processing_panics", func() int64 { return wm.processingPanics.Load() })
}

func (wm *workerMetrics) addProcessedItems(n int) {
	wm.processedItems.Add(int64(n))
}

func (wm *workerMetrics) incrementProcessingPanics() {
	wm.processingPanics.Add(1)
}

//////////////
//  WORKER  //
//////////////

type workerState uint8

const (
	workerWorking workerState = iota
	workerStopping
	workerDone
)

func (s workerState) String() string {
	switch s {
	case workerWorking:
		return "working"
	case workerStopping:
		return "stopping"
	case workerDone:
		return "done"
	default:
		return "unknown"
	}
}

type worker[T, U any] struct {
	tel *internal.Telemetry

	id        int
	transform func(T) U
	pinToCore bool

	fanOut *pool.FanOut[T]
	fanIn  *pool.FanIn[U]

	state workerState

	metrics *workerMetrics
}

func newWorker[T, U any](
	tel *internal.Telemetry, id int, transform func(T) U, pinToCore bool,
	fanOut *pool.FanOut[T], fanIn *pool.FanIn[U], metrics *workerMetrics,
) *worker[T, U] {
	return &worker[T, U]{
		tel: tel,

		id:        id,
		transform: transform,
		pinToCore: pinToCore,

		fanOut: fanOut,
		fanIn:  fanIn,

		state: workerWorking,

		metrics: metrics,
	}
}

func (w *worker[T, U]) setState(state workerState) {
	w.tel.LogDebug("worker state change", "worker_id", w.id, "from", w.state.String(), "to", state.String())
	w.state = state
}

// run processes jobs until it receives a Stop, which is forwarded
// to the collector after all the results of the worker.
func (w *worker[T, U]) run(ctx context.Context) error {
	if w.pinToCore {
		unpin, err := affinity.Pin(w.id)
		if err != nil {
			w.tel.LogError("failed to pin worker", err, "worker_id", w.id)
			return &SpawnError{Role: roleWorker, ID: w.id, Err: err}
		}
		defer unpin()
	}

	for {
		msg, err := w.fanOut.ReadTask(ctx)
		if err != nil {
			return err
		}

		if msg.IsStop() {
			w.setState(workerStopping)

			if err := w.fanIn.AddStop(ctx); err != nil {
				return err
			}

			w.setState(workerDone)
			return nil
		}

		results, err := w.process(msg)
		if err != nil {
			return err
		}

		if err := w.fanIn.AddTask(ctx, results...); err != nil {
			return err
		}
	}
}

// process transforms every value of the job in order.
// A panic of the transform function is returned as a *PanicError.
func (w *worker[T, U]) process(msg *message.Message[T]) (results []U, err error) {
	defer func() {
		if r := recover(); r != nil {
			w.metrics.incrementProcessingPanics()
			w.tel.LogWarn("transform panicked", "worker_id", w.id, "value", r)

			results = nil
			err = newPanicError(roleWorker, w.id, r)
		}
	}()

	results = make([]U, 0, msg.Len())
	for _, val := range msg.Values() {
		results = append(results, w.transform(val))
	}

	w.metrics.addProcessedItems(len(results))

	return results, nil
}
