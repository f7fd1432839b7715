// Package internal contains the telemetry shared by every role of a pipeline run.
package internal

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/lmittmann/tint"
	"github.com/mattn/go-colorable"
	"github.com/mattn/go-isatty"
	"go.opentelemetry.io/contrib/bridges/otelslog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "github.com/FerroO2000/parpipe"

var logger atomic.Pointer[slog.Logger]

func init() {
	logger.Store(newDefaultLogger())
}

func newDefaultLogger() *slog.Logger {
	tintHandler := tint.NewHandler(colorable.NewColorableStderr(), &tint.Options{
		Level:      slog.LevelInfo,
		TimeFormat: time.TimeOnly,
		NoColor:    !isatty.IsTerminal(os.Stderr.Fd()),
	})

	return slog.New(newFanoutHandler(tintHandler, otelslog.NewHandler(instrumentationName)))
}

// SetLogger replaces the logger used by all the telemetry instances
// created afterwards. A nil logger restores the default one.
func SetLogger(l *slog.Logger) {
	if l == nil {
		l = newDefaultLogger()
	}

	logger.Store(l)
}

// Logger returns the current library logger.
func Logger() *slog.Logger {
	return logger.Load()
}

// Telemetry bundles logging, metrics and tracing for a single role
// (feeder, worker, collector, queue) of a pipeline.
type Telemetry struct {
	kind string
	name string

	logger *slog.Logger
	tracer trace.Tracer
	meter  metric.Meter

	attrs attribute.Set

	regMux        sync.Mutex
	registrations []metric.Registration
}

// NewTelemetry returns a new telemetry instance for the given kind and name.
func NewTelemetry(kind, name string) *Telemetry {
	return &Telemetry{
		kind: kind,
		name: name,

		logger: Logger().With("role_kind", kind, "role_name", name),
		tracer: otel.Tracer(instrumentationName),
		meter:  otel.Meter(instrumentationName),

		attrs: attribute.NewSet(
			attribute.String("role_kind", kind),
			attribute.String("role_name", name),
		),
	}
}

// Name returns the name the telemetry was created with.
func (t *Telemetry) Name() string {
	return t.name
}

// LogDebug logs a debug message.
func (t *Telemetry) LogDebug(msg string, args ...any) {
	t.logger.Debug(msg, args...)
}

// LogInfo logs an info message.
func (t *Telemetry) LogInfo(msg string, args ...any) {
	t.logger.Info(msg, args...)
}

// LogWarn logs a warning message.
func (t *Telemetry) LogWarn(msg string, args ...any) {
	t.logger.Warn(msg, args...)
}

// LogError logs an error message along with the error that caused it.
func (t *Telemetry) LogError(msg string, err error, args ...any) {
	t.logger.Error(msg, append([]any{tint.Err(err)}, args...)...)
}

// NewTrace starts a new span.
func (t *Telemetry) NewTrace(ctx context.Context, spanName string) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, spanName, trace.WithAttributes(t.attrs.ToSlice()...))
}

// InjectTrace writes the span context carried by ctx into the carrier.
func (t *Telemetry) InjectTrace(ctx context.Context, carrier propagation.TextMapCarrier) {
	otel.GetTextMapPropagator().Inject(ctx, carrier)
}

// ExtractTraceContext returns a copy of ctx carrying the span context
// read from the carrier.
func (t *Telemetry) ExtractTraceContext(ctx context.Context, carrier propagation.TextMapCarrier) context.Context {
	return otel.GetTextMapPropagator().Extract(ctx, carrier)
}

// NewCounter registers an observable counter whose value is read from fn
// every time the metrics are collected.
func (t *Telemetry) NewCounter(name string, fn func() int64) {
	counter, err := t.meter.Int64ObservableCounter(name)
	if err != nil {
		t.LogError("failed to create counter", err, "counter", name)
		return
	}

	t.register(name, counter, func(o metric.Observer) {
		o.ObserveInt64(counter, fn(), metric.WithAttributeSet(t.attrs))
	})
}

// NewUpDownCounter registers an observable up-down counter whose value
// is read from fn every time the metrics are collected.
func (t *Telemetry) NewUpDownCounter(name string, fn func() int64) {
	counter, err := t.meter.Int64ObservableUpDownCounter(name)
	if err != nil {
		t.LogError("failed to create up-down counter", err, "counter", name)
		return
	}

	t.register(name, counter, func(o metric.Observer) {
		o.ObserveInt64(counter, fn(), metric.WithAttributeSet(t.attrs))
	})
}

func (t *Telemetry) register(name string, inst metric.Observable, observe func(o metric.Observer)) {
	reg, err := t.meter.RegisterCallback(func(_ context.Context, o metric.Observer) error {
		observe(o)
		return nil
	}, inst)
	if err != nil {
		t.LogError("failed to register metric callback", err, "metric", name)
		return
	}

	t.regMux.Lock()
	t.registrations = append(t.registrations, reg)
	t.regMux.Unlock()
}

// Histogram wraps an int64 histogram carrying the telemetry attributes.
type Histogram struct {
	hist  metric.Int64Histogram
	attrs attribute.Set
}

// Record records a value.
func (h *Histogram) Record(ctx context.Context, value int64) {
	if h.hist == nil {
		return
	}

	h.hist.Record(ctx, value, metric.WithAttributeSet(h.attrs))
}

// NewHistogram returns a new histogram.
func (t *Telemetry) NewHistogram(name string, opts ...metric.Int64HistogramOption) *Histogram {
	hist, err := t.meter.Int64Histogram(name, opts...)
	if err != nil {
		t.LogError("failed to create histogram", err, "histogram", name)
	}

	return &Histogram{
		hist:  hist,
		attrs: t.attrs,
	}
}

// Close unregisters all the observable metrics created by the telemetry.
func (t *Telemetry) Close() {
	t.regMux.Lock()
	defer t.regMux.Unlock()

	var errs []error
	for _, reg := range t.registrations {
		errs = append(errs, reg.Unregister())
	}
	t.registrations = nil

	if err := errors.Join(errs...); err != nil {
		t.LogError("failed to unregister metrics", err)
	}
}

// fanoutHandler sends every record to all the wrapped handlers.
type fanoutHandler struct {
	handlers []slog.Handler
}

func newFanoutHandler(handlers ...slog.Handler) *fanoutHandler {
	return &fanoutHandler{handlers: handlers}
}

func (h *fanoutHandler) Enabled(ctx context.Context, level slog.Level) bool {
	for _, handler := range h.handlers {
		if handler.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

func (h *fanoutHandler) Handle(ctx context.Context, rec slog.Record) error {
	var errs []error
	for _, handler := range h.handlers {
		if handler.Enabled(ctx, rec.Level) {
			errs = append(errs, handler.Handle(ctx, rec.Clone()))
		}
	}
	return errors.Join(errs...)
}

func (h *fanoutHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	handlers := make([]slog.Handler, 0, len(h.handlers))
	for _, handler := range h.handlers {
		handlers = append(handlers, handler.WithAttrs(attrs))
	}
	return newFanoutHandler(handlers...)
}

func (h *fanoutHandler) WithGroup(name string) slog.Handler {
	handlers := make([]slog.Handler, 0, len(h.handlers))
	for _, handler := range h.handlers {
		handlers = append(handlers, handler.WithGroup(name))
	}
	return newFanoutHandler(handlers...)
}
