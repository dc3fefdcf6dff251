package experiment

import (
	"errors"
	"fmt"
	"math"

	"github.com/dronesar/milosar/fpga"
)

const (
	ADC_RATE           = fpga.ADC_CLOCK
	N_CHANNELS         = 2    // I and Q words per sample
	FIFO_DEPTH         = 8192 // samples per PRI the integrator can hold
	MAX_CYCLES_PER_PRI = 1<<24 - 1
	MAX_PULSES         = 1<<30 - 1
	S1MB               = 1 << 20
)

var (
	// ErrPRF is returned for a PRF that does not divide the ADC clock.
	ErrPRF = errors.New("PRF must be an integer divisor of the ADC clock")
	// ErrFieldWidth is returned when a timing value does not fit its
	// hardware field.
	ErrFieldWidth = errors.New("value exceeds hardware field width")
	// ErrFIFODepth is returned when a PRI holds more samples than the
	// integrator FIFO.
	ErrFIFODepth = errors.New("samples per PRI exceed FIFO depth")
)

// Plan holds the values derived from a Config for one experiment.
type Plan struct {
	NPulses       uint64  // pulses the TCU generates
	CyclesPerPRI  uint64  // ADC clock cycles per pulse interval
	SamplesPerPRI int     // decimated samples per pulse interval
	KeepRatio     float64 // stored fraction of each PRI (the chop factor)
	DataBytes     float64 // expected capture volume
	HalfSize      int     // bytes per ring half
	NBuffers      int     // ring halves to drain
	SwitchFactor  int     // 2 when interleaving RF switch outputs
	RxPRF         int     // effective PRF after presumming and switching
}

// NewPlan derives the experiment plan for c, draining a ring whose
// halves hold halfSize bytes.  It does not check the hardware limits;
// see CheckTiming and CheckFIFO.
func NewPlan(c *Config, halfSize int) (*Plan, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}
	if halfSize <= 0 {
		return nil, fmt.Errorf("experiment: bad ring half size %d", halfSize)
	}
	p := &Plan{
		NPulses:       uint64(c.Timing.NSeconds) * uint64(c.Timing.PRF),
		CyclesPerPRI:  uint64(ADC_RATE) / uint64(c.Timing.PRF),
		SamplesPerPRI: int(math.Floor(ADC_RATE / float64(c.Sampling.DecimationFactor) / float64(c.Timing.PRF))),
		HalfSize:      halfSize,
		SwitchFactor:  1,
	}
	if p.SamplesPerPRI == 0 {
		return nil, fmt.Errorf("experiment: %w: no samples in a %d Hz PRI at decimation %d", ErrPRF, c.Timing.PRF, c.Sampling.DecimationFactor)
	}
	if c.Timing.SwitchMode == 3 {
		p.SwitchFactor = 2
	}
	p.RxPRF = c.Timing.PRF / c.Sampling.PresumFactor / p.SwitchFactor
	p.KeepRatio = float64(c.Sampling.EndIndex-c.Sampling.StartIndex+1) / float64(p.SamplesPerPRI)
	p.DataBytes = N_CHANNELS * fpga.BYTES_PER_WRITE * (ADC_RATE / float64(c.Sampling.DecimationFactor)) *
		float64(c.Timing.NSeconds) * p.KeepRatio / float64(c.Sampling.PresumFactor)
	p.NBuffers = int(math.Ceil(p.DataBytes / float64(halfSize)))
	return p, nil
}

// CheckTiming verifies that prf evenly divides the ADC clock and that
// the pulse timing fits the GPIO and TCU fields.
func (p *Plan) CheckTiming(prf int) error {
	if math.Mod(ADC_RATE, float64(prf)) != 0 {
		return fmt.Errorf("experiment: %w: %d Hz", ErrPRF, prf)
	}
	if p.CyclesPerPRI > MAX_CYCLES_PER_PRI {
		return fmt.Errorf("experiment: %w: %d cycles per PRI (PRF too low)", ErrFieldWidth, p.CyclesPerPRI)
	}
	if p.NPulses > MAX_PULSES {
		return fmt.Errorf("experiment: %w: %d pulses", ErrFieldWidth, p.NPulses)
	}
	return nil
}

// CheckFIFO verifies that one PRI fits the integrator FIFO.
func (p *Plan) CheckFIFO() error {
	if p.SamplesPerPRI >= FIFO_DEPTH {
		return fmt.Errorf("experiment: %w: %d >= %d", ErrFIFODepth, p.SamplesPerPRI, FIFO_DEPTH)
	}
	return nil
}

// TCUWord returns the trigger control word: bit 0 enable, bit 1 sync
// (always 0), bits 2..31 the pulse count, bits 32.. the switch mode.
func (p *Plan) TCUWord(switchMode int, enable bool) uint64 {
	w := p.NPulses<<2 | uint64(switchMode)<<32
	if enable {
		w |= 1
	}
	return w
}

// GPIOTiming returns the pulse-timing field, cycles per PRI, placed in
// GPIO bits 8..31.
func (p *Plan) GPIOTiming() (mask, value uint32) {
	return 0xFFFFFF00, uint32(p.CyclesPerPRI) << 8
}

// IndexWord returns the sample window register: start in bits 0..15,
// end in bits 16..31.
func IndexWord(c *Config) uint32 {
	return uint32(c.Sampling.StartIndex) | uint32(c.Sampling.EndIndex)<<16
}

// IntegrationWord returns the integration register: samples per PRI in
// bits 0..15, presum factor in bits 16..31.
func (p *Plan) IntegrationWord(presum int) uint32 {
	return uint32(p.SamplesPerPRI) | uint32(presum)<<16
}

// DataRate returns the expected capture rate in MB/s.
func (p *Plan) DataRate(nSeconds int) float64 {
	return p.DataBytes / (float64(nSeconds) * S1MB)
}
