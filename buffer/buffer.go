// Buffer radar data.
//
// Drain the FPGA's DMA sample ring to storage.  The ring is used as a
// double buffer: while the DMA writer fills one half, the host copies
// the other half out and appends it to the capture file.  The only
// coordination between writer and reader is the status register, a
// count of 32-bit words the writer has stored since capture start,
// which the engine polls.
//
// Nothing stops the writer from running a whole lap ahead of the
// reader.  The engine detects that case after the fact, by comparing
// the writer's total progress against the half it is copying, and
// reports it as an overrun.
package buffer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"runtime"
	"time"

	"github.com/charmbracelet/log"
)

// BYTES_PER_WORD is the size of one DMA write.
const BYTES_PER_WORD = 4

// ErrOverrun is returned when the DMA writer overwrote a half before it
// was drained.  The capture still runs to its full length.
var ErrOverrun = errors.New("capture overrun")

// Counter is the DMA writer's word position register.
type Counter interface {
	Read() uint32
}

// Backoff bounds the idle wait between polls of the position counter.
// The wait starts at Min and doubles up to Max while no half is ready.
// A zero Min yields the processor instead of sleeping.
type Backoff struct {
	Min time.Duration
	Max time.Duration
}

// Config describes one capture.
type Config struct {
	Ring     []byte  // mapped DMA ring; both halves
	Position Counter // words written since capture start
	Modulus  uint64  // counter wraps after this many words; 0 means 2^32
	Halves   int     // number of halves to drain
	Backoff  Backoff
}

// Stats summarize a finished (or interrupted) capture.
type Stats struct {
	HalvesDrained int
	Bytes         int64   // bytes appended to the output
	Written       uint64  // bytes the DMA writer reported
	Overruns      int     // halves overwritten before they were copied
	Duration      time.Duration
	Throughput    float64 // MB/s appended to the output
}

// Engine drains one channel's DMA ring.  It is not safe for concurrent
// use; each channel has its own.
type Engine struct {
	cfg     Config
	half    int
	logger  *log.Logger
	last    uint64 // previous counter value, words
	written uint64 // total bytes written by the DMA since Reset
}

// New returns an engine for cfg.
func New(cfg Config, logger *log.Logger) (*Engine, error) {
	if len(cfg.Ring) == 0 || len(cfg.Ring)%(2*BYTES_PER_WORD) != 0 {
		return nil, fmt.Errorf("buffer: ring of %d bytes cannot be split into two halves of words", len(cfg.Ring))
	}
	if cfg.Position == nil {
		return nil, errors.New("buffer: no position counter")
	}
	if cfg.Halves < 0 {
		return nil, fmt.Errorf("buffer: negative half count %d", cfg.Halves)
	}
	if cfg.Modulus == 0 {
		cfg.Modulus = 1 << 32
	}
	if cfg.Backoff.Max < cfg.Backoff.Min {
		cfg.Backoff.Max = cfg.Backoff.Min
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Engine{cfg: cfg, half: len(cfg.Ring) / 2, logger: logger}, nil
}

// HalfSize returns the size of one half of the ring in bytes.
func (e *Engine) HalfSize() int {
	return e.half
}

// Reset clears the ring and the engine's view of the writer.  It must
// be called before the DMA writer is started.
func (e *Engine) Reset() {
	clear(e.cfg.Ring)
	e.last = 0
	e.written = 0
}

// poll reads the position counter and returns the total bytes written.
func (e *Engine) poll() uint64 {
	pos := uint64(e.cfg.Position.Read()) % e.cfg.Modulus
	e.written += (pos + e.cfg.Modulus - e.last) % e.cfg.Modulus * BYTES_PER_WORD
	e.last = pos
	return e.written
}

// pause waits before the next poll; it returns early when ctx is done.
func pause(ctx context.Context, d time.Duration) {
	if d <= 0 {
		runtime.Gosched()
		return
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

// Run drains cfg.Halves halves into w, in the order the writer filled
// them.  Half k of the stream lives in ring half k&1 and is copied
// once the writer has gone past its end.
//
// Run returns early with ctx's error if ctx is done; whatever was
// already appended to w stays there.  Overruns do not stop the
// capture, but Run then returns an error wrapping ErrOverrun.
func (e *Engine) Run(ctx context.Context, w io.Writer) (*Stats, error) {
	var (
		stats = &Stats{}
		h     = uint64(e.half)
		host  = make([]byte, e.half)
		wait  = e.cfg.Backoff.Min
		start = time.Now()
	)
	finish := func() {
		stats.Duration = time.Since(start)
		stats.Written = e.written
		if s := stats.Duration.Seconds(); s > 0 {
			stats.Throughput = float64(stats.Bytes) / (1 << 20) / s
		}
	}
	defer finish()

	for k := 0; k < e.cfg.Halves; {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		written := e.poll()
		if written < uint64(k+1)*h {
			pause(ctx, wait)
			if wait *= 2; wait > e.cfg.Backoff.Max {
				wait = e.cfg.Backoff.Max
			}
			continue
		}
		wait = e.cfg.Backoff.Min

		// the writer reaches this half's bytes again at stream offset (k+2)*h
		lapped := written > uint64(k+2)*h
		off := (k & 1) * e.half
		copy(host, e.cfg.Ring[off:off+e.half])
		if !lapped {
			lapped = e.poll() > uint64(k+2)*h
		}
		if lapped {
			stats.Overruns++
			e.logger.Error("ring overrun", "half", k, "written", e.written, "limit", uint64(k+2)*h)
		}

		n, err := w.Write(host)
		stats.Bytes += int64(n)
		if err != nil {
			return stats, fmt.Errorf("buffer: write half %d: %w", k, err)
		}
		k++
		stats.HalvesDrained = k
		e.logger.Debug("half drained", "half", k-1, "of", e.cfg.Halves, "written", e.written)
	}
	if stats.Overruns > 0 {
		return stats, fmt.Errorf("%w: %d of %d halves", ErrOverrun, stats.Overruns, stats.HalvesDrained)
	}
	return stats, nil
}
