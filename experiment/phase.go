package experiment

import (
	"errors"
	"fmt"
	"sync/atomic"
)

// Phase is a step of the experiment sequence.
type Phase int32

const (
	Idle Phase = iota
	Armed
	SynthReset
	SynthFlashed
	Ramping
	Triggered
	Capturing
	RampingOff
)

var phaseNames = [...]string{
	Idle:         "idle",
	Armed:        "armed",
	SynthReset:   "synth-reset",
	SynthFlashed: "synth-flashed",
	Ramping:      "ramping",
	Triggered:    "triggered",
	Capturing:    "capturing",
	RampingOff:   "ramping-off",
}

func (p Phase) String() string {
	if p < 0 || int(p) >= len(phaseNames) {
		return fmt.Sprintf("phase(%d)", int32(p))
	}
	return phaseNames[p]
}

// ErrPhase is returned for a transition the sequence does not allow.
var ErrPhase = errors.New("illegal phase transition")

// next is the normal sequence.  A run that fails once the synthesizers
// are ramping skips ahead to RampingOff so the hardware is shut down.
var next = map[Phase]Phase{
	Idle:         Armed,
	Armed:        SynthReset,
	SynthReset:   SynthFlashed,
	SynthFlashed: Ramping,
	Ramping:      Triggered,
	Triggered:    Capturing,
	Capturing:    RampingOff,
	RampingOff:   Idle,
}

// CanAdvance reports whether the sequence may go from one phase to
// another.
func CanAdvance(from, to Phase) bool {
	if n, ok := next[from]; ok && n == to {
		return true
	}
	return to == RampingOff && (from == Ramping || from == Triggered)
}

// PhaseState is the current phase.  Only the sequencer writes it; any
// goroutine may read it.
type PhaseState struct {
	v atomic.Int32
}

// Load returns the current phase.
func (s *PhaseState) Load() Phase {
	return Phase(s.v.Load())
}

// Advance moves to phase to, if the sequence allows it.
func (s *PhaseState) Advance(to Phase) error {
	from := s.Load()
	if !CanAdvance(from, to) {
		return fmt.Errorf("experiment: %w: %v -> %v", ErrPhase, from, to)
	}
	s.v.Store(int32(to))
	return nil
}

// Reset returns to Idle from any phase.  It is used after failures that
// leave no hardware to shut down.
func (s *PhaseState) Reset() {
	s.v.Store(int32(Idle))
}
