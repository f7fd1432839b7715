// Package queue implements the bounded FIFO queue connecting the pipeline roles.
// A push on a full queue blocks until a consumer frees some space (backpressure),
// and a pop on an empty queue blocks until a producer enqueues something.
package queue

import (
	"context"
	"errors"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/FerroO2000/parpipe/internal"
	"github.com/FerroO2000/parpipe/internal/config"
	"github.com/FerroO2000/parpipe/internal/rb"
	"github.com/FerroO2000/parpipe/internal/sema"
)

// ErrClosed is returned when the queue has been destroyed.
var ErrClosed = errors.New("queue: closed")

// Strategy is the way a queue waits for space or for elements.
type Strategy uint8

const (
	// StrategySemaphore blocks pushers and poppers on semaphores.
	StrategySemaphore Strategy = iota
	// StrategyPoll sleeps and polls the queue length.
	StrategyPoll
)

func (s Strategy) String() string {
	switch s {
	case StrategySemaphore:
		return "semaphore"
	case StrategyPoll:
		return "poll"
	default:
		return "unknown"
	}
}

// Default configuration values for a queue.
const (
	DefaultCapacity      = 1024
	DefaultPollInterval  = time.Millisecond
	DefaultLowWaterRatio = 0.1
)

// Config is the configuration of a queue.
type Config struct {
	// Name identifies the queue in logs and metrics.
	Name string

	// Capacity is the number of messages the queue can hold.
	// It is rounded up to the next power of 2.
	Capacity uint64

	// Kind is the producer/consumer layout of the backing ring buffer.
	Kind rb.BufferKind

	// Strategy is the backpressure strategy.
	Strategy Strategy

	// PollInterval is the sleep between two checks of the poll strategy.
	PollInterval time.Duration

	// LowWaterRatio is the fraction of the length observed on a failed push
	// the poll strategy waits for before retrying.
	LowWaterRatio float64

	// Verbose enables the logging of queue full/empty events.
	Verbose bool
}

// NewConfig returns the default configuration for a queue.
func NewConfig(name string) *Config {
	return &Config{
		Name:          name,
		Capacity:      DefaultCapacity,
		Kind:          rb.BufferKindMPMC,
		Strategy:      StrategySemaphore,
		PollInterval:  DefaultPollInterval,
		LowWaterRatio: DefaultLowWaterRatio,
	}
}

// Queue is a bounded, blocking FIFO queue.
type Queue[T any] struct {
	tel *internal.Telemetry
	cfg Config

	buf *rb.RingBuffer[T]

	// available counts the elements ready to be popped
	available *sema.Semaphore
	// blocked wakes up the pusher waiting for space
	blocked *sema.Semaphore
	// pusherWaiting is set while a pusher is registered on blocked
	pusherWaiting atomic.Bool
	// blockedMux lets at most one pusher wait for space at a time
	blockedMux sync.Mutex

	isClosed atomic.Bool
	closed   chan struct{}

	// Metrics
	pushed     atomic.Int64
	popped     atomic.Int64
	fullWaits  atomic.Int64
	emptyWaits atomic.Int64
}

// Validate checks the configuration.
func (c *Config) Validate(ac *config.AnomalyCollector) {
	config.CheckNotEmpty(ac, "Name", &c.Name, "queue")
	config.CheckPositive(ac, "Capacity", &c.Capacity, DefaultCapacity)
	config.CheckNotGreater(ac, "Capacity", &c.Capacity, rb.MaxCapacity)
	config.CheckOneOf(ac, "Strategy", &c.Strategy, []Strategy{StrategySemaphore, StrategyPoll}, StrategySemaphore)
	config.CheckPositive(ac, "PollInterval", &c.PollInterval, DefaultPollInterval)
	config.CheckInRange(ac, "LowWaterRatio", &c.LowWaterRatio, 0, 1, DefaultLowWaterRatio)
}

// New returns a new queue.
// The configuration is copied, invalid fields are replaced with their defaults.
func New[T any](cfg *Config) *Queue[T] {
	c := *cfg

	tel := internal.NewTelemetry("queue", c.Name)
	config.NewValidator(tel).Validate(&c)

	buf := rb.NewRingBuffer[T](c.Capacity, c.Kind)
	bufCap := int(buf.Cap())

	q := &Queue[T]{
		tel: tel,
		cfg: c,

		buf: buf,

		available: sema.New(c.Name+"-elements-available", bufCap),
		blocked:   sema.New(c.Name+"-blocked-pushers", 1),

		closed: make(chan struct{}),
	}

	q.initMetrics()

	return q
}

func (q *Queue[T]) initMetrics() {
	q.tel.NewUpDownCounter("queue_length", func() int64 { return int64(q.buf.Len()) })
	q.tel.NewCounter("queue_pushed_messages", func() int64 { return q.pushed.Load() })
	q.tel.NewCounter("queue_popped_messages", func() int64 { return q.popped.Load() })
	q.tel.NewCounter("queue_full_waits", func() int64 { return q.fullWaits.Load() })
	q.tel.NewCounter("queue_empty_waits", func() int64 { return q.emptyWaits.Load() })
}

// Push enqueues the item, blocking while the queue is full.
// It never drops the item: it returns only once the item is enqueued,
// the context is done, or the queue is closed.
func (q *Queue[T]) Push(ctx context.Context, item T) error {
	if q.isClosed.Load() {
		return ErrClosed
	}

	var err error
	switch q.cfg.Strategy {
	case StrategyPoll:
		err = q.pushPoll(ctx, item)
	default:
		err = q.pushSemaphore(ctx, item)
	}

	if err != nil {
		return err
	}

	q.pushed.Add(1)
	return nil
}

// Pop blocks until an element is available, removes it and
// hands it to consume.
func (q *Queue[T]) Pop(ctx context.Context, consume func(item T)) error {
	item, err := q.PopValue(ctx)
	if err != nil {
		return err
	}

	consume(item)
	return nil
}

// PopValue blocks until an element is available and returns it.
func (q *Queue[T]) PopValue(ctx context.Context) (T, error) {
	var item T
	var err error

	switch q.cfg.Strategy {
	case StrategyPoll:
		item, err = q.popPoll(ctx)
	default:
		item, err = q.popSemaphore(ctx)
	}

	if err != nil {
		return item, err
	}

	q.popped.Add(1)
	return item, nil
}

///////////////////
//  SEMAPHORE    //
///////////////////

func (q *Queue[T]) pushSemaphore(ctx context.Context, item T) error {
	if q.buf.TryPush(item) {
		return q.postAvailable()
	}

	return q.pushBlocked(ctx, item)
}

func (q *Queue[T]) pushBlocked(ctx context.Context, item T) error {
	q.blockedMux.Lock()
	defer q.blockedMux.Unlock()

	q.fullWaits.Add(1)
	q.logFull()

	for {
		// Register before retrying, so that a pop happening
		// in between is guaranteed to wake this pusher up
		q.pusherWaiting.Store(true)

		if q.buf.TryPush(item) {
			q.pusherWaiting.Store(false)
			return q.postAvailable()
		}

		if err := q.blocked.Wait(ctx); err != nil {
			q.pusherWaiting.Store(false)
			return q.wrapErr(err)
		}
	}
}

func (q *Queue[T]) postAvailable() error {
	if err := q.available.Post(); err != nil {
		return q.wrapErr(err)
	}
	return nil
}

func (q *Queue[T]) popSemaphore(ctx context.Context) (T, error) {
	if !q.available.TryWait() {
		q.emptyWaits.Add(1)
		q.logEmpty()

		if err := q.available.Wait(ctx); err != nil {
			return *new(T), q.wrapErr(err)
		}
	}

	item := q.takeOne()

	// Wake up the pusher waiting for the slot just vacated
	if q.pusherWaiting.CompareAndSwap(true, false) {
		// A pending wake-up token already does the job
		if err := q.blocked.Post(); err != nil && !errors.Is(err, sema.ErrOverflow) {
			q.tel.LogError("failed to wake up blocked pusher", err)
		}
	}

	return item, nil
}

// takeOne removes an element that is known to be in the buffer.
// A producer may have claimed its slot without having finished the write yet.
func (q *Queue[T]) takeOne() T {
	for {
		if item, ok := q.buf.TryPop(); ok {
			return item
		}
		runtime.Gosched()
	}
}

//////////////
//  POLL    //
//////////////

func (q *Queue[T]) pushPoll(ctx context.Context, item T) error {
	for {
		if q.buf.TryPush(item) {
			return nil
		}

		lowWater := uint64(float64(q.buf.Len()) * q.cfg.LowWaterRatio)

		q.fullWaits.Add(1)
		q.logFull()

		if err := q.sleep(ctx); err != nil {
			return err
		}

		for q.buf.Len() > lowWater {
			if err := q.sleep(ctx); err != nil {
				return err
			}
		}
	}
}

func (q *Queue[T]) popPoll(ctx context.Context) (T, error) {
	waited := false

	for {
		if item, ok := q.buf.TryPop(); ok {
			return item, nil
		}

		if !waited {
			waited = true
			q.emptyWaits.Add(1)
			q.logEmpty()
		}

		if err := q.sleep(ctx); err != nil {
			return *new(T), err
		}
	}
}

func (q *Queue[T]) sleep(ctx context.Context) error {
	timer := time.NewTimer(q.cfg.PollInterval)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-q.closed:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

/////////////
//  UTILS  //
/////////////

func (q *Queue[T]) wrapErr(err error) error {
	if errors.Is(err, sema.ErrClosed) {
		return ErrClosed
	}
	return err
}

func (q *Queue[T]) logFull() {
	if !q.cfg.Verbose {
		return
	}

	q.tel.LogInfo("queue full, waiting for space",
		"queue", q.cfg.Name, "length", q.buf.Len(), "strategy", q.cfg.Strategy.String())
}

func (q *Queue[T]) logEmpty() {
	if !q.cfg.Verbose {
		return
	}

	q.tel.LogInfo("queue empty, waiting for elements",
		"queue", q.cfg.Name, "strategy", q.cfg.Strategy.String())
}

// Len returns the number of elements in the queue.
// The value may be stale in concurrent contexts.
func (q *Queue[T]) Len() int {
	return int(q.buf.Len())
}

// Cap returns the capacity of the queue.
func (q *Queue[T]) Cap() int {
	return int(q.buf.Cap())
}

// Name returns the name of the queue.
func (q *Queue[T]) Name() string {
	return q.cfg.Name
}

// Strategy returns the backpressure strategy of the queue.
func (q *Queue[T]) Strategy() Strategy {
	return q.cfg.Strategy
}

// FullWaits returns how many times a push found the queue full.
func (q *Queue[T]) FullWaits() int64 {
	return q.fullWaits.Load()
}

// EmptyWaits returns how many times a pop found the queue empty.
func (q *Queue[T]) EmptyWaits() int64 {
	return q.emptyWaits.Load()
}

// Close destroys the queue, releasing its semaphores.
// Blocked pushers and poppers return ErrClosed.
// Calling Close more than once is a no-op.
func (q *Queue[T]) Close() {
	if !q.isClosed.CompareAndSwap(false, true) {
		return
	}

	close(q.closed)

	q.available.Close()
	q.blocked.Close()

	q.tel.Close()
}
