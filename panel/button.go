package panel

import (
	"context"
	"time"

	"github.com/charmbracelet/log"
)

// BUTTON_PERIOD is the trigger button sampling interval.
const BUTTON_PERIOD = 10 * time.Millisecond

// Debouncer recognizes presses of an active-low switch from a stream
// of samples: a press is one high sample followed by eight low ones.
type Debouncer struct {
	history uint16
}

// Sample shifts in the next switch level and reports whether it
// completes a press.  A press held down is reported once.
func (d *Debouncer) Sample(high bool) bool {
	var b uint16
	if high {
		b = 1
	}
	d.history = d.history<<1 | b | 0xfe00
	return d.history == 0xff00
}

// Input is a register the button can be read from.
type Input interface {
	Read() uint32
}

// Button watches the trigger button.
type Button struct {
	Reg    Input
	Bit    uint
	Period time.Duration // 0 means BUTTON_PERIOD
	Logger *log.Logger
}

// Run samples the button until ctx is done, sending on presses once
// per debounced press.  A press nobody is waiting for is dropped.
func (b *Button) Run(ctx context.Context, presses chan<- struct{}) {
	period := b.Period
	if period <= 0 {
		period = BUTTON_PERIOD
	}
	logger := b.Logger
	if logger == nil {
		logger = log.Default()
	}
	var d Debouncer
	ticker := time.NewTicker(period)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		if !d.Sample(b.Reg.Read()>>b.Bit&1 == 1) {
			continue
		}
		logger.Info("trigger button pressed")
		select {
		case presses <- struct{}{}:
		default:
		}
	}
}
