// Interface to the redpitaya FPGA (milosar build).
//
// FPGA registers and the DMA sample ring are accessed via mmap()ing
// segments of /dev/mem and viewing the returned []byte as 32-bit
// registers.
//
// The milosar FPGA exposes these blocks, each SREG bytes long:
//
// - gpio: bit-banged lines to the two ramp synthesizers (4 pins per
// channel in bits [7:0]) and the pulse-timing field, cycles per PRI,
// in bits [31:8].
//
// - tcu: timing/trigger control unit.  A 64-bit word: bit [0] enable,
// bit [1] sync, bits [31:2] number of pulses to generate, bits [63:32]
// RF switch mode.  Setting the enable bit starts the pulse train and
// the DMA writer.
//
// - status: count of 32-bit words the DMA writer has stored in the
// sample ring since capture start.
//
// - phase_a, phase_b: DDS phase increments of the two receive local
// oscillators.
//
// - index: sample window within a PRI; bits [15:0] start, [31:16] end.
//
// - integration: bits [15:0] samples per PRI, [31:16] presum factor.
//
// - leds, button: front panel status LEDs and the trigger button.
//
// Every physical register is handed out as a single *Reg, so all
// writers in the process share one lock per register.
package fpga

import (
	"fmt"
	"os"
	"sync"
)

const (
	ADC_CLOCK       = 125e6   // Fast ADC sampling rate, Hz
	SREG            = 4 << 10 // Size of one mapped register block
	DMA_RING_SIZE   = 4 << 20 // Size of the channel A DMA sample ring
	BYTES_PER_WRITE = 4       // The DMA writer stores 32-bit words
)

// Names of the register blocks in the platform map.
const (
	GPIO        = "gpio"
	TCU         = "tcu"
	STATUS      = "status"
	PHASE_A     = "phase_a"
	PHASE_B     = "phase_b"
	INDEX       = "index"
	INTEGRATION = "integration"
	LEDS        = "leds"
	BUTTON      = "button"
)

// FPGA holds the redpitaya FPGA object.
type FPGA struct {
	GPIO        *Reg   // synthesizer pins and pulse-timing field
	TCU         *Reg64 // timing/trigger control unit
	Status      *Reg   // DMA writer word position
	PhaseA      *Reg   // channel A local oscillator phase increment
	PhaseB      *Reg   // channel B local oscillator phase increment
	Index       *Reg   // sample window start/end
	Integration *Reg   // samples per PRI and presum factor
	LEDs        *Reg   // front panel LEDs
	Button      *Reg   // trigger button
	DMA         []byte // channel A sample ring; the hardware writes it, we only read

	Platform *Platform

	blocks  map[string][]byte // mapped register blocks by name
	regs    map[string]*Reg   // register views handed out so far
	mu      sync.Mutex        // guards regs
	memfile *os.File          // /dev/mem; nil for a simulated FPGA
}

func newFPGA(p *Platform) *FPGA {
	return &FPGA{
		Platform: p,
		blocks:   make(map[string][]byte),
		regs:     make(map[string]*Reg),
	}
}

// bind points the named fields at their register blocks.
func (f *FPGA) bind() (err error) {
	get := func(name string, offset int) *Reg {
		if err != nil {
			return nil
		}
		var r *Reg
		r, err = f.Reg(name, offset)
		return r
	}
	f.GPIO = get(GPIO, 0)
	f.Status = get(STATUS, 0)
	f.PhaseA = get(PHASE_A, 0)
	f.PhaseB = get(PHASE_B, 0)
	f.Index = get(INDEX, 0)
	f.Integration = get(INTEGRATION, 0)
	f.LEDs = get(LEDS, 0)
	f.Button = get(BUTTON, 0)
	lo := get(TCU, 0)
	hi := get(TCU, 4)
	if err != nil {
		return err
	}
	f.TCU = &Reg64{Lo: lo, Hi: hi}
	return nil
}

// Reg returns the 32-bit register at byte offset within the named
// block.  Repeated calls for the same register return the same *Reg.
func (f *FPGA) Reg(name string, offset int) (*Reg, error) {
	b, ok := f.blocks[name]
	if !ok {
		return nil, fmt.Errorf("fpga: no register block %q", name)
	}
	if offset < 0 || offset%4 != 0 || offset+4 > len(b) {
		return nil, fmt.Errorf("fpga: offset %#x outside block %q", offset, name)
	}
	key := fmt.Sprintf("%s+%d", name, offset)
	f.mu.Lock()
	defer f.mu.Unlock()
	if r, ok := f.regs[key]; ok {
		return r, nil
	}
	r := RegAt(b, offset)
	f.regs[key] = r
	return r, nil
}

// IsSim reports whether the FPGA is backed by ordinary memory.
func (f *FPGA) IsSim() bool {
	return f.memfile == nil
}

// Close frees FPGA resources.  It is safe to call more than once.
func (f *FPGA) Close() error {
	var err error
	if f.memfile != nil {
		for name, b := range f.blocks {
			if e := unmap(b); e != nil && err == nil {
				err = fmt.Errorf("fpga: unmap %s: %w", name, e)
			}
		}
		if f.DMA != nil {
			if e := unmap(f.DMA); e != nil && err == nil {
				err = fmt.Errorf("fpga: unmap dma: %w", e)
			}
		}
		f.memfile.Close()
		f.memfile = nil
	}
	f.blocks = map[string][]byte{}
	f.regs = map[string]*Reg{}
	f.DMA = nil
	f.GPIO, f.Status, f.PhaseA, f.PhaseB = nil, nil, nil, nil
	f.Index, f.Integration, f.LEDs, f.Button = nil, nil, nil, nil
	f.TCU = nil
	return err
}

// NewSim returns an FPGA whose registers and DMA ring live in
// ordinary memory.  Nothing drives it unless a DMASim is started.
func NewSim(p *Platform) (*FPGA, error) {
	if err := p.validate(); err != nil {
		return nil, err
	}
	f := newFPGA(p)
	for name := range p.Registers {
		f.blocks[name] = make([]byte, p.BlockSize)
	}
	f.DMA = make([]byte, p.DMA.Size)
	if err := f.bind(); err != nil {
		return nil, err
	}
	return f, nil
}
