package panel

import (
	"bytes"
	"context"
	"sync"
	"testing"
	"time"

	"github.com/charmbracelet/log"
	"github.com/dronesar/milosar/fpga"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var quiet = log.New(&bytes.Buffer{})

func testRegs(t *testing.T) *fpga.FPGA {
	t.Helper()
	f, err := fpga.NewSim(fpga.DefaultPlatform())
	require.NoError(t, err)
	return f
}

func TestDebouncer(t *testing.T) {
	var d Debouncer
	presses := 0
	sample := func(high bool, n int) {
		for i := 0; i < n; i++ {
			if d.Sample(high) {
				presses++
			}
		}
	}
	sample(true, 20)
	assert.Zero(t, presses, "released")

	sample(false, 7)
	assert.Zero(t, presses, "seven low samples are bounce")
	sample(false, 1)
	assert.Equal(t, 1, presses)

	sample(false, 100)
	assert.Equal(t, 1, presses, "a held press counts once")

	// bounce on release and a second press
	sample(true, 1)
	sample(false, 3)
	sample(true, 2)
	sample(false, 8)
	assert.Equal(t, 2, presses)
}

func TestLEDStates(t *testing.T) {
	f := testRegs(t)
	var req Request
	led := &LED{Name: "armed", Reg: f.LEDs, Bit: 1, Req: &req, Period: 5 * time.Millisecond, Logger: quiet}
	f.LEDs.Write(1 << 5) // another worker's bit

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		led.Run(ctx)
		close(done)
	}()

	lit := func() bool { return f.LEDs.Read()&2 != 0 }
	req.Set(On)
	assert.Eventually(t, lit, time.Second, time.Millisecond)
	req.Set(Off)
	assert.Eventually(t, func() bool { return !lit() }, time.Second, time.Millisecond)

	req.Set(Blink)
	assert.Eventually(t, lit, time.Second, time.Millisecond)
	assert.Eventually(t, func() bool { return !lit() }, time.Second, time.Millisecond)

	req.Set(On)
	assert.Eventually(t, lit, time.Second, time.Millisecond)
	req.Set(Stopped)
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("LED worker did not stop")
	}
	assert.False(t, lit(), "a stopped LED is off")
	assert.Equal(t, uint32(1<<5), f.LEDs.Read())
}

func TestLEDsShareRegister(t *testing.T) {
	f := testRegs(t)
	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	reqs := make([]Request, 3)
	for i := range reqs {
		reqs[i].Set(On)
		led := &LED{Reg: f.LEDs, Bit: uint(i), Req: &reqs[i], Period: time.Millisecond, Logger: quiet}
		wg.Add(1)
		go func() {
			defer wg.Done()
			led.Run(ctx)
		}()
	}
	assert.Eventually(t, func() bool { return f.LEDs.Read() == 7 }, time.Second, time.Millisecond)
	cancel()
	wg.Wait()
	assert.Zero(t, f.LEDs.Read())
}

func TestButtonReportsPress(t *testing.T) {
	f := testRegs(t)
	f.Button.Write(1) // released
	b := &Button{Reg: f.Button, Bit: 0, Period: time.Millisecond, Logger: quiet}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	presses := make(chan struct{}, 1)
	go b.Run(ctx, presses)

	time.Sleep(20 * time.Millisecond)
	select {
	case <-presses:
		t.Fatal("press reported while released")
	default:
	}

	f.Button.Write(0)
	select {
	case <-presses:
	case <-time.After(time.Second):
		t.Fatal("press not reported")
	}
}
