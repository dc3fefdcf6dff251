package synth

import (
	"sync"
	"time"
)

// Fixed command registers shared by both synthesizers.
const (
	RESET_ADDRESS  = 2
	RESET_VALUE    = 0b00000100
	RAMP_ADDRESS   = 58
	RAMP_ON_VALUE  = 0b00010001 // RAMP_TRIG_A = TRIG1 terminal rising edge, ramping on
	RAMP_OFF_VALUE = 0b00010000
	ADDRESS_BITS   = 16
	DATA_BITS      = 8
	DEFAULT_SETTLE = time.Microsecond
)

// Port is the GPIO register the synthesizer lines live on.  *fpga.Reg
// satisfies it; Set and Clear must only touch the bits in mask.
type Port interface {
	Set(mask uint32)
	Clear(mask uint32)
}

// Controller shifts registers and frames into the synthesizers.
//
// Every transition is followed by a wait of at least Settle.  Each
// register write and each frame flash runs to completion under the
// controller's lock and cannot be interrupted: a half-shifted frame
// leaves the chip in an unknown state.
type Controller struct {
	mu     sync.Mutex
	port   Port
	Settle time.Duration
}

// NewController returns a controller driving port with the default
// settle time.
func NewController(port Port) *Controller {
	return &Controller{port: port, Settle: DEFAULT_SETTLE}
}

// settle spins for at least c.Settle.
func (c *Controller) settle() {
	if c.Settle <= 0 {
		return
	}
	for start := time.Now(); time.Since(start) < c.Settle; {
	}
}

func (c *Controller) drive(mask uint32, high bool) {
	if high {
		c.port.Set(mask)
	} else {
		c.port.Clear(mask)
	}
	c.settle()
}

func (c *Controller) pulse(p Pins) {
	c.drive(p.Clock, true)
	c.drive(p.Clock, false)
}

// preamble opens a write cycle.
func (c *Controller) preamble(p Pins) {
	c.drive(p.Latch, true)
	c.drive(p.Clock, true)
	c.drive(p.Latch, false)
	c.drive(p.Data, false)
	c.drive(p.Clock, false)
}

// shift clocks out value MSB first, width bits.
func (c *Controller) shift(p Pins, value uint64, width int) {
	var bits [ADDRESS_BITS]uint8
	DecimalToBinary(value, bits[:width])
	for j := width - 1; j >= 0; j-- {
		c.drive(p.Data, bits[j] == 1)
		c.pulse(p)
	}
}

// commit latches the shifted bits.
func (c *Controller) commit(p Pins) {
	c.drive(p.Latch, true)
	c.port.Clear(p.Data)
}

// WriteRegister writes one 8-bit register at address on the chip(s)
// behind p.
func (c *Controller) WriteRegister(p Pins, address uint16, value uint8) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.preamble(p)
	c.shift(p, uint64(address), ADDRESS_BITS)
	c.shift(p, uint64(value), DATA_BITS)
	c.commit(p)
}

// WriteParallel writes the same register on both synthesizers with
// one shared sequence of edges.
func (c *Controller) WriteParallel(a, b *Synthesizer, address uint16, value uint8) {
	c.WriteRegister(a.Pins.Or(b.Pins), address, value)
}

// Flash shifts the whole frame of s: the start address NUM_REGISTERS-1
// once, then rows from the highest down, which the chip stores at
// auto-decremented addresses.
func (c *Controller) Flash(s *Synthesizer) {
	c.mu.Lock()
	defer c.mu.Unlock()
	p := s.Pins
	c.preamble(p)
	c.shift(p, NUM_REGISTERS-1, ADDRESS_BITS)
	for row := NUM_REGISTERS - 1; row >= 0; row-- {
		c.shift(p, uint64(s.Frame[row]), DATA_BITS)
	}
	c.commit(p)
}

// FlashBoth flashes both frames in lock step.  The clock and latch
// lines are shared; each data line follows its own frame where the
// two disagree.
func (c *Controller) FlashBoth(a, b *Synthesizer) {
	c.mu.Lock()
	defer c.mu.Unlock()
	p := a.Pins.Or(b.Pins)
	c.preamble(p)
	c.shift(p, NUM_REGISTERS-1, ADDRESS_BITS)
	for row := NUM_REGISTERS - 1; row >= 0; row-- {
		for col := DATA_BITS - 1; col >= 0; col-- {
			ba, bb := a.Frame.Bit(row, col), b.Frame.Bit(row, col)
			if ba == bb {
				c.drive(p.Data, ba == 1)
			} else {
				c.port.Set(pick(ba, a.Pins.Data, b.Pins.Data))
				c.drive(pick(ba, b.Pins.Data, a.Pins.Data), false)
			}
			c.pulse(p)
		}
	}
	c.commit(p)
}

// pick returns x when bit is set, otherwise y.
func pick(bit uint8, x, y uint32) uint32 {
	if bit == 1 {
		return x
	}
	return y
}

// Reset sends the reset command to both synthesizers.
func (c *Controller) Reset(a, b *Synthesizer) {
	c.WriteParallel(a, b, RESET_ADDRESS, RESET_VALUE)
}

// SetRamping starts or stops ramping on both synthesizers.
func (c *Controller) SetRamping(a, b *Synthesizer, on bool) {
	v := uint8(RAMP_OFF_VALUE)
	if on {
		v = RAMP_ON_VALUE
	}
	c.WriteParallel(a, b, RAMP_ADDRESS, v)
}
