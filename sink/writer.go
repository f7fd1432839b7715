// Package sink contains ready-made combine functions for parpipe.Run.
//
// A combine function cannot fail, so the sinks keep the first error
// they meet, stop writing and report it from Err and Close.
package sink

import (
	"bufio"
	"io"
	"sync/atomic"

	"github.com/FerroO2000/parpipe/internal"
)

// DefaultFlushThreshold is the number of buffered bytes
// that triggers a flush of a Writer.
const DefaultFlushThreshold = 4096

// Writer writes every combined line, followed by a newline, to an io.Writer.
// The lines are buffered and flushed once the buffered bytes reach the threshold.
// It is meant to be used by the collector only, it is not safe for concurrent use.
type Writer struct {
	tel *internal.Telemetry

	writer    *bufio.Writer
	threshold int

	err error

	// Metrics
	writtenLines atomic.Int64
	writtenBytes atomic.Int64
	flushes      atomic.Int64
}

// NewWriter returns a new Writer. A threshold lower than 1 means DefaultFlushThreshold.
func NewWriter(w io.Writer, threshold int) *Writer {
	if threshold < 1 {
		threshold = DefaultFlushThreshold
	}

	sw := &Writer{
		tel: internal.NewTelemetry("sink", "writer"),

		// The buffer is sized so that a flush happens before bufio has to
		writer:    bufio.NewWriterSize(w, threshold*2),
		threshold: threshold,
	}

	sw.initMetrics()

	return sw
}

func (sw *Writer) initMetrics() {
	sw.tel.NewCounter("written_lines", func() int64 { return sw.writtenLines.Load() })
	sw.tel.NewCounter("written_bytes", func() int64 { return sw.writtenBytes.Load() })
	sw.tel.NewCounter("flushes", func() int64 { return sw.flushes.Load() })
}

// Combine writes the line. It is a no-op after an error.
func (sw *Writer) Combine(line string) {
	if sw.err != nil {
		return
	}

	n, err := sw.writer.WriteString(line)
	if err == nil {
		err = sw.writer.WriteByte('\n')
		n++
	}
	if err != nil {
		sw.fail("failed to write line", err)
		return
	}

	sw.writtenLines.Add(1)
	sw.writtenBytes.Add(int64(n))

	if sw.writer.Buffered() >= sw.threshold {
		sw.flush()
	}
}

// CombineBytes is like Combine for byte slices.
func (sw *Writer) CombineBytes(line []byte) {
	sw.Combine(string(line))
}

func (sw *Writer) flush() {
	if err := sw.writer.Flush(); err != nil {
		sw.fail("failed to flush writer", err)
		return
	}

	sw.flushes.Add(1)
}

func (sw *Writer) fail(msg string, err error) {
	sw.tel.LogError(msg, err)
	sw.err = err
}

// Err returns the first error met while writing.
func (sw *Writer) Err() error {
	return sw.err
}

// WrittenLines returns the number of lines written so far.
func (sw *Writer) WrittenLines() int64 {
	return sw.writtenLines.Load()
}

// Close flushes the buffered lines. It returns the first error met
// while writing, if any.
func (sw *Writer) Close() error {
	defer sw.tel.Close()

	if sw.err == nil && sw.writer.Buffered() > 0 {
		sw.flush()
	}

	return sw.err
}
