package synth

import "math"

// PLL constants of the LMX2492 ramp synthesizers.
const (
	MAX_RAMPS          = 8
	NUM_REGISTERS      = 142
	FRAC_DENOMINATOR   = 1<<24 - 1
	MAX_RAMP_LENGTH    = 1<<16 - 1
	MAX_RAMP_INCREMENT = 1<<30 - 1
	MAX_FRAC_NUMERATOR = 1<<24 - 1
	N_COUNTER          = 75
	RF_OUT_DIVIDER     = 4
	PD_CLOCK           = 125e6 // phase detector reference, Hz
	RF_OUT_INIT_FREQ   = PD_CLOCK * N_COUNTER / RF_OUT_DIVIDER

	doublerBit = 1 << 31
	twoTo30    = 1 << 30
)

// A Ramp is one of the eight programmable frequency sweep segments of
// a synthesizer.
type Ramp struct {
	Slot      int
	Bandwidth float64 // sweep bandwidth, Hz; used when Increment is 0
	Length    float64 // PD clock cycles, as configured
	Increment float64 // fractional steps per cycle, signed; 0 derives it from Bandwidth
	Next      uint8   // slot to continue with
	Trigger   uint8   // trigger source for the next ramp
	Reset     uint8   // reset the accumulator at ramp start
	Flag      uint8
	Doubler   bool // double the ramp clock: length counts twice, increment halves

	// Filled in by Encode.
	Derived      float64 // increment after derivation and clamping, before encoding
	EncLength    uint16  // 16-bit length field
	EncIncrement uint32  // 30-bit two's complement increment, bit 31 = doubler
	NTR          uint8   // packed next/trigger/reset/flag byte
}

// ComputeIncrement returns the ramp increment that sweeps bandwidth Hz
// in length phase detector cycles.
func ComputeIncrement(bandwidth, length, divider, denominator, pdClock float64) float64 {
	return bandwidth * divider * denominator / (pdClock * length)
}

// PackNTR builds the next-trigger-reset byte of a ramp slot.  Sums
// wider than 8 bits are truncated to the field.
func PackNTR(next, trigger, reset, flag uint8) uint8 {
	ntr := 0
	ntr += (int(next) << 5) & 0xFF
	ntr += (int(trigger) << 3) & 0xFF
	ntr += (int(reset) << 2) & 0xFF
	ntr += (int(flag) << 0) & 0xFF
	return uint8(ntr)
}

// EncodeIncrement converts a signed increment to its register form:
// negative values are two's-complemented over 30 bits and bit 31
// carries the doubler flag.
func EncodeIncrement(increment float64, doubler bool) uint32 {
	if increment < 0 {
		increment = twoTo30 + increment
	}
	v := math.Mod(math.Round(increment), 1<<32)
	if v < 0 {
		v += 1 << 32
	}
	enc := uint64(v)
	if doubler {
		enc |= doublerBit
	}
	return uint32(enc)
}

// Encode clamps the ramp to its hardware field widths and fills in the
// encoded fields.  It returns the names of the fields that had to be
// clamped.
//
// With legacyClamp an oversize increment truncates the length field,
// as the original firmware did, and the increment is left as is;
// otherwise the increment itself is clamped.
func (r *Ramp) Encode(legacyClamp bool) (clamped []string) {
	length := math.Trunc(r.Length)
	if length > MAX_RAMP_LENGTH || length < 0 {
		length = math.Max(0, math.Min(length, MAX_RAMP_LENGTH))
		clamped = append(clamped, "length")
	}

	inc := r.Increment
	if length != 0 && inc == 0 {
		inc = ComputeIncrement(r.Bandwidth, length, RF_OUT_DIVIDER, FRAC_DENOMINATOR, PD_CLOCK)
	}

	if inc > MAX_RAMP_INCREMENT || inc < -MAX_RAMP_INCREMENT {
		clamped = append(clamped, "increment")
		if legacyClamp {
			length = float64(uint16(MAX_RAMP_INCREMENT & 0xFFFF))
		} else {
			inc = math.Copysign(MAX_RAMP_INCREMENT, inc)
		}
	}

	r.Derived = inc
	r.EncLength = uint16(length)
	r.EncIncrement = EncodeIncrement(inc, r.Doubler)
	r.NTR = PackNTR(r.Next, r.Trigger, r.Reset, r.Flag)
	return clamped
}

// UpRamp returns the effective increment and length of a rising ramp,
// accounting for the doubler.  ok is false for ramps that do not rise.
func (r *Ramp) UpRamp() (increment, length uint32, ok bool) {
	if r.Derived <= 0 {
		return 0, 0, false
	}
	if r.Doubler {
		return toUint32(math.Round(r.Derived / 2)), 2 * uint32(r.EncLength), true
	}
	return toUint32(math.Round(r.Derived)), uint32(r.EncLength), true
}

func toUint32(x float64) uint32 {
	if x >= math.MaxUint32 {
		return math.MaxUint32
	}
	return uint32(x)
}

// IsEmpty reports whether the slot is unused.
func (r *Ramp) IsEmpty() bool {
	return r.Next == 0 && r.EncLength == 0 && r.EncIncrement == 0 && r.Reset == 0
}

// VCOOffset returns the synthesizer output offset, Hz, from its
// initial frequency for a fractional numerator.
func VCOOffset(fracNum uint32) float64 {
	return PD_CLOCK*(N_COUNTER+float64(fracNum)/FRAC_DENOMINATOR)/RF_OUT_DIVIDER - RF_OUT_INIT_FREQ
}

// Bandwidth returns the sweep bandwidth, Hz, of an encoded increment
// and length.
func Bandwidth(encIncrement uint32, length uint16) float64 {
	inc := float64(encIncrement &^ doublerBit)
	if inc >= FRAC_DENOMINATOR {
		inc -= twoTo30
	}
	return inc * float64(length) * PD_CLOCK / (1 << 26)
}
