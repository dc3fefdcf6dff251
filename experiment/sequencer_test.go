package experiment

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/charmbracelet/log"
	"github.com/dronesar/milosar/buffer"
	"github.com/dronesar/milosar/fpga"
	"github.com/dronesar/milosar/panel"
	"github.com/dronesar/milosar/synth"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var quiet = log.New(&bytes.Buffer{})

var runTime = time.Date(2026, 10, 14, 9, 30, 5, 0, time.UTC)

const rampFile = `
[setup]
frac_num = 8388608

[ramp0]
length    = 1000
bandwidth = 1000000
next      = 1

[ramp1]
length    = 1000
bandwidth = -1000000
next      = 0
`

// writeInputs writes a template and ramp file into dir and points c
// at them.
func writeInputs(t *testing.T, dir string, c *Config) {
	t.Helper()
	var tmpl strings.Builder
	for l := 0; l < synth.TEMPLATE_ROWS; l++ {
		row := synth.TEMPLATE_ROWS - 1 - l
		fmt.Fprintf(&tmpl, "R%d\t0x%04X%02X\n", row, row, row)
	}
	c.Files.Template = filepath.Join(dir, "template.txt")
	require.NoError(t, os.WriteFile(c.Files.Template, []byte(tmpl.String()), 0o644))
	c.Files.TXSynthesizer = filepath.Join(dir, "ramp.ini")
	c.Files.DXSynthesizer = c.Files.TXSynthesizer
	require.NoError(t, os.WriteFile(c.Files.TXSynthesizer, []byte(rampFile), 0o644))
}

// simConfig is a short experiment sized for a 16 KiB ring: 62500
// bytes in eight 8 KiB halves.
func simConfig(t *testing.T) Config {
	c := Defaults()
	in := t.TempDir()
	writeInputs(t, in, &c)
	c.Files.StorageDir = t.TempDir()
	c.Misc.Comment = "bench test"
	c.Timing.PRF = 5000
	c.Timing.NSeconds = 1
	c.Timing.ChannelAPhaseIncrement = 0x1234
	c.Timing.ChannelBPhaseIncrement = 0x5678
	c.Sampling.DecimationFactor = 4
	c.Sampling.PresumFactor = 4000
	c.Sampling.StartIndex = 0
	c.Sampling.EndIndex = 6249
	return c
}

func simFPGA(t *testing.T) *fpga.FPGA {
	t.Helper()
	p := fpga.DefaultPlatform()
	p.DMA.Size = 16 << 10
	// the counter wraps with the ring, so a full run crosses the wrap
	p.DMA.CounterWords = uint64(p.DMA.Size / fpga.BYTES_PER_WRITE)
	f, err := fpga.NewSim(p)
	require.NoError(t, err)
	t.Cleanup(func() { f.Close() })
	return f
}

func simOptions() Options {
	return Options{
		Settle: -1,
		Now:    func() time.Time { return runTime },
		Logger: quiet,
	}
}

// assertUntouched checks that no register of f was written.
func assertUntouched(t *testing.T, f *fpga.FPGA) {
	t.Helper()
	for name, r := range map[string]*fpga.Reg{
		"gpio":        f.GPIO,
		"phase_a":     f.PhaseA,
		"phase_b":     f.PhaseB,
		"index":       f.Index,
		"integration": f.Integration,
	} {
		assert.Zero(t, r.Read(), name)
	}
	assert.Zero(t, f.TCU.Read64(), "tcu")
}

func TestRejectedExperimentTouchesNoRegister(t *testing.T) {
	for _, tc := range []struct {
		name  string
		setup func(c *Config)
		want  error
	}{
		{"bad prf", func(c *Config) { c.Timing.PRF = 3 }, ErrPRF},
		{"fifo", func(c *Config) { c.Timing.PRF = 1000; c.Sampling.DecimationFactor = 1 }, ErrFIFODepth},
		{"pulses", func(c *Config) { c.Timing.NSeconds = 1 << 20 }, ErrFieldWidth},
		{"template", func(c *Config) { c.Files.Template = filepath.Join(t.TempDir(), "missing") }, synth.ErrTemplate},
	} {
		t.Run(tc.name, func(t *testing.T) {
			f := simFPGA(t)
			c := simConfig(t)
			tc.setup(&c)
			s, err := New(c, FromFPGA(f), simOptions())
			require.NoError(t, err)

			res, err := s.Run(context.Background())
			assert.ErrorIs(t, err, tc.want)
			assert.Nil(t, res)
			assertUntouched(t, f)
			assert.Equal(t, Idle, s.Phase())

			entries, err := os.ReadDir(c.Files.StorageDir)
			require.NoError(t, err)
			assert.Empty(t, entries, "no experiment directory")
		})
	}
}

func TestNewRejectsBadConfig(t *testing.T) {
	c := simConfig(t)
	c.Timing.PRF = 0
	_, err := New(c, FromFPGA(simFPGA(t)), simOptions())
	assert.ErrorContains(t, err, "timing.prf")

	_, err = New(simConfig(t), Hardware{}, simOptions())
	assert.Error(t, err)
}

func TestCancelDuringCaptureDelay(t *testing.T) {
	f := simFPGA(t)
	c := simConfig(t)
	c.Misc.CaptureDelay = 60
	s, err := New(c, FromFPGA(f), simOptions())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := s.Run(ctx)
		done <- err
	}()
	assert.Eventually(t, func() bool { return s.Requests.CaptureLED.Get() == panel.Blink },
		time.Second, time.Millisecond, "capture LED blinks while waiting")
	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("run did not stop")
	}
	assertUntouched(t, f)
	assert.Equal(t, panel.Off, s.Requests.CaptureLED.Get())
	assert.Equal(t, GPSIdle, s.Requests.GPS())
}

func TestSimulatedExperiment(t *testing.T) {
	f := simFPGA(t)
	c := simConfig(t)
	setup := filepath.Join(t.TempDir(), "setup.ini")
	require.NoError(t, os.WriteFile(setup, []byte("[misc]\ncomment = bench test\n"), 0o644))

	opts := simOptions()
	opts.SetupFile = setup
	c.Misc.EnableTransfer = 1
	var transferred string
	opts.Transfer = func(ctx context.Context, dir string) error {
		transferred = dir
		return nil
	}
	s, err := New(c, FromFPGA(f), opts)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()
	simCtx, stopSim := context.WithCancel(ctx)
	simDone := make(chan struct{})
	go func() {
		(&fpga.DMASim{FPGA: f, Rate: 200e3}).Run(simCtx)
		close(simDone)
	}()
	defer func() {
		stopSim()
		<-simDone
	}()

	res, err := s.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, Idle, s.Phase())

	half := len(f.DMA) / 2
	assert.Equal(t, 8, res.Plan.NBuffers)
	assert.Equal(t, 8, res.Stats.HalvesDrained)
	assert.Zero(t, res.Stats.Overruns)
	assert.Equal(t, runTime, res.TriggerTime)

	ts := "26_10_14_09_30_05"
	assert.Equal(t, filepath.Join(c.Files.StorageDir, ts), res.Dir)
	assert.Equal(t, res.Dir, transferred)

	data, err := os.ReadFile(filepath.Join(res.Dir, ts+".bin"))
	require.NoError(t, err)
	require.Len(t, data, 8*half)
	for i := 0; i < len(data)/4; i++ {
		if w := binary.LittleEndian.Uint32(data[4*i:]); w != uint32(i) {
			t.Fatalf("word %d of capture is %d", i, w)
		}
	}

	// receiver registers
	assert.Equal(t, uint32(0x1234), f.PhaseA.Read())
	assert.Equal(t, uint32(0x5678), f.PhaseB.Read())
	assert.Equal(t, uint32(6249<<16), f.Index.Read())
	assert.Equal(t, uint32(6250|4000<<16), f.Integration.Read())
	assert.Equal(t, uint32(25000), f.GPIO.Read()>>8, "cycles per PRI")
	assert.Zero(t, f.TCU.Read64()&1, "trigger disabled")
	assert.Equal(t, res.Plan.TCUWord(0, false), f.TCU.Read64())

	assert.Equal(t, GPSShutdown, s.Requests.GPS())
	assert.Equal(t, res.Dir, s.Requests.GPSDir())
	assert.Equal(t, panel.On, s.Requests.PowerLED.Get())
	assert.Equal(t, panel.Off, s.Requests.ArmedLED.Get())
	assert.Equal(t, panel.Off, s.Requests.CaptureLED.Get())

	summary, err := os.ReadFile(res.Summary)
	require.NoError(t, err)
	for _, want := range []string{
		"[general]\r\n",
		"time_stamp        = " + ts + "\r\n",
		"operator_comment  = bench test\r\n",
		"n_buffers         = 8\r\n",
		fmt.Sprintf("bytes             = %d\r\n", 8*half),
		"n_samples_per_pri = 6250\r\n",
		"n_pris            = 4000\r\n",
		"\n[tx_synth]\r\nid                    = 0\r\n",
		"\n[dx_synth]\r\nid                    = 1\r\n",
		"fractional_numerator  = 8388608\r\n",
		"\n[TCU]\r\ntcu_trigger_timestamp\t\t= " + ts + "\r\n",
		"halves_drained    = 8\r\n",
	} {
		assert.Contains(t, string(summary), want)
	}

	for _, name := range []string{"setup.ini", "template.txt", "ramp.ini"} {
		assert.FileExists(t, filepath.Join(res.Dir, name))
	}

	// the sequencer is ready for the next experiment once the counter
	// has dropped back to zero
	assert.Eventually(t, func() bool { return f.Status.Read() == 0 }, time.Second, time.Millisecond)

	// a rerun in the same second gets its own directory and leaves
	// the first capture alone
	again, err := s.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(c.Files.StorageDir, ts+"_1"), again.Dir)
	assert.Equal(t, filepath.Join(again.Dir, ts+"_1.bin"), again.CaptureFile)
	first, err := os.Stat(filepath.Join(res.Dir, ts+".bin"))
	require.NoError(t, err)
	assert.Equal(t, int64(8*half), first.Size())
	assert.FileExists(t, again.CaptureFile)
}

func TestNewExperimentDir(t *testing.T) {
	storage := filepath.Join(t.TempDir(), "runs")
	for _, want := range []string{"ts", "ts_1", "ts_2"} {
		dir, err := newExperimentDir(storage, "ts")
		require.NoError(t, err)
		assert.Equal(t, filepath.Join(storage, want), dir)
		assert.DirExists(t, dir)
	}

	blocked := filepath.Join(t.TempDir(), "file")
	require.NoError(t, os.WriteFile(blocked, nil, 0o644))
	_, err := newExperimentDir(blocked, "ts")
	assert.Error(t, err, "storage is not a directory")
}

// jumpingCounter advances by step words on every read while enabled.
type jumpingCounter struct {
	step    uint32
	pos     uint32
	enabled func() bool
}

func (c *jumpingCounter) Read() uint32 {
	if c.enabled() {
		c.pos += c.step
	}
	return c.pos
}

func TestOverrunStillCompletes(t *testing.T) {
	f := simFPGA(t)
	c := simConfig(t)
	s, err := New(c, FromFPGA(f), simOptions())
	require.NoError(t, err)

	// a writer that gains three halves between polls
	half := uint32(len(f.DMA) / 2)
	s.hw.Position = &jumpingCounter{
		step:    3 * half / buffer.BYTES_PER_WORD,
		enabled: func() bool { return f.TCU.Read64()&1 == 1 },
	}

	res, err := s.Run(context.Background())
	assert.ErrorIs(t, err, buffer.ErrOverrun)
	require.NotNil(t, res)
	assert.Equal(t, 8, res.Stats.HalvesDrained)
	assert.Positive(t, res.Stats.Overruns)
	assert.Equal(t, Idle, s.Phase())
	assert.Zero(t, f.TCU.Read64()&1, "trigger disabled after an overrun")

	info, err := os.Stat(res.CaptureFile)
	require.NoError(t, err)
	assert.Equal(t, int64(8)*int64(half), info.Size())
}
