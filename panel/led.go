// Front panel workers: status LEDs and the trigger button.
//
// The workers share FPGA registers with the rest of the program, so
// they only ever touch their own bit, through the register's Set and
// Clear.  Other goroutines steer an LED by its Request; they never
// drive the LED bit themselves.
package panel

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"
	"github.com/dronesar/milosar/fpga"
)

// LED_PERIOD is the LED update interval; a blinking LED toggles once
// per period.
const LED_PERIOD = 200 * time.Millisecond

// State is the requested state of a status LED.
type State int32

const (
	Off State = iota
	On
	Blink
	Stopped // the worker clears its LED and exits
)

func (s State) String() string {
	switch s {
	case Off:
		return "off"
	case On:
		return "on"
	case Blink:
		return "blink"
	case Stopped:
		return "stopped"
	}
	return fmt.Sprintf("state(%d)", int32(s))
}

// Request carries a requested LED state from its one writer to the
// LED worker.
type Request struct {
	v atomic.Int32
}

// Set requests state s.
func (r *Request) Set(s State) {
	r.v.Store(int32(s))
}

// Get returns the requested state.
func (r *Request) Get() State {
	return State(r.v.Load())
}

// LED drives one LED bit of a register.
type LED struct {
	Name   string
	Reg    fpga.Register
	Bit    uint
	Req    *Request
	Period time.Duration // 0 means LED_PERIOD
	Logger *log.Logger
}

// Run applies the requested state every period until the request is
// Stopped or ctx is done.  The LED is left off.
func (l *LED) Run(ctx context.Context) {
	period := l.Period
	if period <= 0 {
		period = LED_PERIOD
	}
	logger := l.Logger
	if logger == nil {
		logger = log.Default()
	}
	mask := uint32(1) << l.Bit
	defer l.Reg.Clear(mask)

	ticker := time.NewTicker(period)
	defer ticker.Stop()
	lit := false
	for {
		switch l.Req.Get() {
		case On:
			lit = true
		case Blink:
			lit = !lit
		case Stopped:
			logger.Debug("shutting down LED", "led", l.Name)
			return
		default:
			lit = false
		}
		if lit {
			l.Reg.Set(mask)
		} else {
			l.Reg.Clear(mask)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
