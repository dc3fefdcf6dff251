package fpga

import (
	"context"
	"encoding/binary"
	"time"
)

// DMASim stands in for the FPGA's DMA writer on a simulated FPGA.
// While the TCU enable bit is set it fills the sample ring with a
// counting pattern of 32-bit words and advances the status counter.
// The counter reads zero again on every edge of enable.
type DMASim struct {
	FPGA *FPGA
	Rate float64       // bytes per second written while enabled
	Tick time.Duration // interval between bursts; default 1 ms
}

// Run writes until ctx is done.
func (s *DMASim) Run(ctx context.Context) {
	tick := s.Tick
	if tick <= 0 {
		tick = time.Millisecond
	}
	ticker := time.NewTicker(tick)
	defer ticker.Stop()

	ring := s.FPGA.DMA
	modulus := s.FPGA.Platform.DMA.CounterWords
	perTick := uint64(s.Rate*tick.Seconds()) / BYTES_PER_WRITE
	if perTick == 0 {
		perTick = 1
	}

	var (
		enabled bool
		words   uint64 // words written since enable
		carry   float64
	)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		on := s.FPGA.TCU.Lo.Read()&1 == 1
		if on != enabled {
			words = 0
			carry = 0
			s.FPGA.Status.Write(0)
		}
		enabled = on
		if !on {
			continue
		}
		n := perTick
		carry += s.Rate*tick.Seconds()/BYTES_PER_WRITE - float64(perTick)
		if carry >= 1 {
			n++
			carry--
		}
		for i := uint64(0); i < n; i++ {
			off := ((words + i) * BYTES_PER_WRITE) % uint64(len(ring))
			binary.LittleEndian.PutUint32(ring[off:], uint32(words+i))
		}
		words += n
		pos := words
		if modulus != 0 {
			pos %= modulus
		}
		s.FPGA.Status.Write(uint32(pos))
	}
}
