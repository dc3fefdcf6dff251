// Program the two LMX2492 ramp synthesizers of the milosar front end.
//
// Each RF channel (tx, lo) has one synthesizer.  Its configuration is
// a frame of NUM_REGISTERS 8-bit registers, built from a fixed
// register template, a fractional numerator and eight ramp slots, and
// shifted into the chip over four GPIO lines (latch, data, clock,
// trig) with a bit-banged serial protocol.
package synth

import (
	"fmt"

	"github.com/charmbracelet/log"
)

// Channel ids.
const (
	TX = 0 // transmit synthesizer
	LO = 1 // local oscillator (dechirp) synthesizer
)

// Pins are the GPIO bit masks of one synthesizer's lines.
type Pins struct {
	Latch uint32
	Data  uint32
	Clock uint32
	Trig  uint32
}

// PinsFor returns the pin masks of synthesizer id: the four lines
// occupy GPIO bits 4*id .. 4*id+3, so distinct ids never share a pin.
func PinsFor(id int) Pins {
	return Pins{
		Latch: 1 << (4 * id),
		Data:  1 << (4*id + 1),
		Clock: 1 << (4*id + 2),
		Trig:  1 << (4*id + 3),
	}
}

// Or returns the union of two channels' pins, for commands both chips
// latch at once.
func (p Pins) Or(q Pins) Pins {
	return Pins{
		Latch: p.Latch | q.Latch,
		Data:  p.Data | q.Data,
		Clock: p.Clock | q.Clock,
		Trig:  p.Trig | q.Trig,
	}
}

// Mask returns every line of p.
func (p Pins) Mask() uint32 {
	return p.Latch | p.Data | p.Clock | p.Trig
}

// Synthesizer is the state of one RF channel's synthesizer.
type Synthesizer struct {
	ID            int
	Name          string // "tx" or "lo"
	ParameterFile string
	FracNum       uint32 // 24-bit fractional numerator
	Ramps         [MAX_RAMPS]Ramp
	Frame         Frame
	Pins          Pins

	// Effective increment and length of the up-ramp, set by Calc.
	UpRampIncrement uint32
	UpRampLength    uint32
}

// New returns synthesizer id with its pins initialized and its ramp
// slots numbered.
func New(id int, name string) *Synthesizer {
	s := &Synthesizer{ID: id, Name: name}
	for i := range s.Ramps {
		s.Ramps[i].Slot = i
	}
	s.InitPins()
	return s
}

// InitPins derives the pin masks from the synthesizer id.
func (s *Synthesizer) InitPins() {
	s.Pins = PinsFor(s.ID)
}

// Calc clamps and encodes every ramp and the fractional numerator,
// and derives the up-ramp pair from the last rising ramp.  Fields that
// had to be clamped are logged as warnings; the ramp table is logged
// at debug level.
func (s *Synthesizer) Calc(legacyClamp bool, logger *log.Logger) {
	if logger == nil {
		logger = log.Default()
	}
	if s.FracNum > MAX_FRAC_NUMERATOR {
		logger.Warn("value set to maximum", "synth", s.Name, "field", "frac_num", "value", s.FracNum)
		s.FracNum = MAX_FRAC_NUMERATOR
	}
	logger.Debug("synthesizer",
		"synth", s.Name,
		"id", s.ID,
		"parameter_file", s.ParameterFile,
		"frac_num", s.FracNum,
		"offset_hz", VCOOffset(s.FracNum))

	s.UpRampIncrement, s.UpRampLength = 0, 0
	for i := range s.Ramps {
		r := &s.Ramps[i]
		r.Slot = i
		for _, field := range r.Encode(legacyClamp) {
			logger.Warn("value set to maximum", "synth", s.Name, "ramp", i, "field", field)
		}
		if inc, length, ok := r.UpRamp(); ok {
			s.UpRampIncrement, s.UpRampLength = inc, length
		}
		if !r.IsEmpty() {
			logger.Debug("ramp",
				"synth", s.Name,
				"num", i,
				"next", r.Next,
				"reset", r.Reset,
				"doubler", r.Doubler,
				"len", r.EncLength,
				"inc", r.EncIncrement,
				"bw_mhz", fmt.Sprintf("%.3f", Bandwidth(r.EncIncrement, r.EncLength)/1e6))
		}
	}
}

// LoadFrame builds the synthesizer's frame: template rows first, then
// the fractional numerator and the encoded fields of every ramp slot.
// Calc must have been called.
func (s *Synthesizer) LoadFrame(t *Template) {
	s.Frame = Frame{}
	copy(s.Frame[:TEMPLATE_ROWS], t[:])
	s.Frame.setFracNum(s.FracNum)
	for i := range s.Ramps {
		r := &s.Ramps[i]
		s.Frame.setRamp(i, r.EncIncrement, r.EncLength, r.NTR)
	}
}
