package synth

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"pgregory.net/rapid"
)

func TestComputeIncrement(t *testing.T) {
	got := ComputeIncrement(1e6, 1000, 4, 1<<24-1, 125e6)
	assert.Equal(t, 1e6*4*(1<<24-1)/(125e6*1000), got)

	rapid.Check(t, func(t *rapid.T) {
		bw := rapid.Float64Range(1, 1e9).Draw(t, "bw")
		length := rapid.Float64Range(1, MAX_RAMP_LENGTH).Draw(t, "length")
		want := bw * RF_OUT_DIVIDER * FRAC_DENOMINATOR / (PD_CLOCK * length)
		assert.Equal(t, want, ComputeIncrement(bw, length, RF_OUT_DIVIDER, FRAC_DENOMINATOR, PD_CLOCK))
	})
}

func TestPackNTR(t *testing.T) {
	assert.Equal(t, uint8(45), PackNTR(1, 1, 1, 1))
	assert.Equal(t, uint8(0), PackNTR(0, 0, 0, 0))
	assert.Equal(t, uint8(7<<5|3<<3|1<<2|3), PackNTR(7, 3, 1, 3))

	rapid.Check(t, func(t *rapid.T) {
		next := rapid.Uint8().Draw(t, "next")
		trigger := rapid.Uint8().Draw(t, "trigger")
		reset := rapid.Uint8().Draw(t, "reset")
		flag := rapid.Uint8().Draw(t, "flag")
		want := (int(next)<<5)&0xFF + (int(trigger)<<3)&0xFF + (int(reset)<<2)&0xFF + int(flag)&0xFF
		assert.Equal(t, uint8(want), PackNTR(next, trigger, reset, flag))
	})
}

func TestEncodeIncrement(t *testing.T) {
	assert.Equal(t, uint32(1<<30-100), EncodeIncrement(-100, false))
	assert.Equal(t, uint32(1234), EncodeIncrement(1234, false))
	assert.Equal(t, uint32(1234|1<<31), EncodeIncrement(1234, true))
	assert.Equal(t, uint32(1<<30-1|1<<31), EncodeIncrement(-1, true))
	assert.Equal(t, uint32(13), EncodeIncrement(12.6, false))
}

func TestEncodeIncrementDoubler(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		inc := rapid.Int64Range(-MAX_RAMP_INCREMENT, MAX_RAMP_INCREMENT).Draw(t, "inc")
		if inc == 0 {
			inc = 1
		}
		plain := EncodeIncrement(float64(inc), false)
		doubled := EncodeIncrement(float64(inc), true)
		assert.Equal(t, uint32(1<<31), doubled&(1<<31))
		assert.Equal(t, plain, doubled&^(1<<31))
		assert.Less(t, plain, uint32(1<<30))
		if inc < 0 {
			assert.Equal(t, uint32(1<<30+inc), plain)
		}
	})
}

func TestEncodeDerivesIncrement(t *testing.T) {
	r := Ramp{Bandwidth: 1e6, Length: 1000}
	assert.Empty(t, r.Encode(false))
	want := ComputeIncrement(1e6, 1000, RF_OUT_DIVIDER, FRAC_DENOMINATOR, PD_CLOCK)
	assert.Equal(t, want, r.Derived)
	assert.Equal(t, uint16(1000), r.EncLength)
	assert.Equal(t, uint32(math.Round(want)), r.EncIncrement)

	// an explicit increment wins over bandwidth
	r = Ramp{Bandwidth: 1e6, Length: 1000, Increment: -5}
	r.Encode(false)
	assert.Equal(t, float64(-5), r.Derived)
	assert.Equal(t, uint32(1<<30-5), r.EncIncrement)
}

func TestEncodeClampsLength(t *testing.T) {
	r := Ramp{Length: 70000, Increment: 10}
	assert.Equal(t, []string{"length"}, r.Encode(false))
	assert.Equal(t, uint16(MAX_RAMP_LENGTH), r.EncLength)
}

func TestEncodeClampsIncrement(t *testing.T) {
	r := Ramp{Length: 100, Increment: 2e9}
	assert.Equal(t, []string{"increment"}, r.Encode(false))
	assert.Equal(t, float64(MAX_RAMP_INCREMENT), r.Derived)
	assert.Equal(t, uint32(MAX_RAMP_INCREMENT), r.EncIncrement)
	assert.Equal(t, uint16(100), r.EncLength)

	r = Ramp{Length: 100, Increment: -2e9}
	assert.Equal(t, []string{"increment"}, r.Encode(false))
	assert.Equal(t, float64(-MAX_RAMP_INCREMENT), r.Derived)
	assert.Equal(t, uint32(1), r.EncIncrement)
}

func TestEncodeLegacyIncrementClamp(t *testing.T) {
	r := Ramp{Length: 100, Increment: 2e9}
	assert.Equal(t, []string{"increment"}, r.Encode(true))
	assert.Equal(t, uint16(0xFFFF), r.EncLength)
	assert.Equal(t, float64(2e9), r.Derived)
	assert.Equal(t, uint32(2e9), r.EncIncrement)
}

func TestUpRamp(t *testing.T) {
	r := Ramp{Length: 1000, Increment: 101}
	r.Encode(false)
	inc, length, ok := r.UpRamp()
	assert.True(t, ok)
	assert.Equal(t, uint32(101), inc)
	assert.Equal(t, uint32(1000), length)

	r.Doubler = true
	r.Encode(false)
	inc, length, ok = r.UpRamp()
	assert.True(t, ok)
	assert.Equal(t, uint32(51), inc)
	assert.Equal(t, uint32(2000), length)

	r = Ramp{Length: 1000, Increment: -101}
	r.Encode(false)
	_, _, ok = r.UpRamp()
	assert.False(t, ok)
}

func TestRampIsEmpty(t *testing.T) {
	var r Ramp
	r.Encode(false)
	assert.True(t, r.IsEmpty())
	r = Ramp{Next: 1}
	r.Encode(false)
	assert.False(t, r.IsEmpty())
}

func TestVCOOffset(t *testing.T) {
	assert.Equal(t, 0.0, VCOOffset(0))
	assert.InDelta(t, PD_CLOCK/RF_OUT_DIVIDER, VCOOffset(FRAC_DENOMINATOR), 1e-3)
}

func TestBandwidth(t *testing.T) {
	assert.Equal(t, 1000.0*100*PD_CLOCK/(1<<26), Bandwidth(1000, 100))
	assert.Equal(t, 1000.0*100*PD_CLOCK/(1<<26), Bandwidth(1000|1<<31, 100))
	assert.Equal(t, -100.0*10*PD_CLOCK/(1<<26), Bandwidth(1<<30-100, 10))
}
