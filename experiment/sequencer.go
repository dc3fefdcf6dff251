// Run MiloSAR experiments.
//
// A Sequencer takes one validated configuration through the sequence
// of an experiment: plan the capture, program the receiver registers,
// reset and flash both ramp synthesizers, start ramping, trigger the
// pulse train, drain the sample ring to a file, then shut the
// synthesizers and trigger down again.
//
// Everything that can be checked without touching hardware (timing
// limits, parameter and template files, the output file) is checked
// before the first register write, so a rejected experiment leaves the
// FPGA as it was.
package experiment

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/charmbracelet/log"
	"github.com/dronesar/milosar/buffer"
	"github.com/dronesar/milosar/fpga"
	"github.com/dronesar/milosar/panel"
	"github.com/dronesar/milosar/synth"
)

// SUMMARY_FILE is the name of the run summary in an experiment directory.
const SUMMARY_FILE = "summary.ini"

// TCU is the 64-bit trigger control register.
type TCU interface {
	Write64(v uint64)
	Read64() uint64
}

// Hardware is the part of the FPGA an experiment drives.
type Hardware struct {
	GPIO        fpga.Register
	PhaseA      fpga.Register
	PhaseB      fpga.Register
	Index       fpga.Register
	Integration fpga.Register
	TCU         TCU
	Ring        []byte         // DMA sample ring
	Position    buffer.Counter // DMA writer word count
	Modulus     uint64         // position counter modulus in words; 0 means 2^32
}

// FromFPGA returns the experiment's view of f.
func FromFPGA(f *fpga.FPGA) Hardware {
	return Hardware{
		GPIO:        f.GPIO,
		PhaseA:      f.PhaseA,
		PhaseB:      f.PhaseB,
		Index:       f.Index,
		Integration: f.Integration,
		TCU:         f.TCU,
		Ring:        f.DMA,
		Position:    f.Status,
		Modulus:     f.Platform.DMA.CounterWords,
	}
}

// Options tune a Sequencer.
type Options struct {
	// Settle is the synthesizer line settle time.  0 means
	// synth.DEFAULT_SETTLE; a negative value disables settling.
	Settle  time.Duration
	Backoff buffer.Backoff
	// Transfer, if set and misc.enable_transfer is 1, is called with
	// the experiment directory once the run is complete.
	Transfer  func(ctx context.Context, dir string) error
	Now       func() time.Time // clock for timestamps; default time.Now
	SetupFile string           // copied into the experiment directory
	Logger    *log.Logger
}

// Result describes a finished experiment.
type Result struct {
	Dir         string
	CaptureFile string
	Summary     string
	Started     time.Time
	TriggerTime time.Time
	Plan        *Plan
	Stats       *buffer.Stats
}

// Sequencer runs experiments, one at a time.
type Sequencer struct {
	cfg    Config
	hw     Hardware
	opts   Options
	logger *log.Logger
	ctl    *synth.Controller
	phase  PhaseState

	// Requests carries LED and GPS logger states to the workers.
	Requests Requests
}

// New returns a sequencer for cfg on hw.
func New(cfg Config, hw Hardware, opts Options) (*Sequencer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if hw.GPIO == nil || hw.PhaseA == nil || hw.PhaseB == nil || hw.Index == nil ||
		hw.Integration == nil || hw.TCU == nil || hw.Position == nil || len(hw.Ring) == 0 {
		return nil, errors.New("experiment: incomplete hardware")
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = log.Default()
	}
	ctl := synth.NewController(hw.GPIO)
	switch {
	case opts.Settle > 0:
		ctl.Settle = opts.Settle
	case opts.Settle < 0:
		ctl.Settle = 0
	}
	return &Sequencer{cfg: cfg, hw: hw, opts: opts, logger: opts.Logger, ctl: ctl}, nil
}

// Phase returns the current phase.  It may be called from any goroutine.
func (s *Sequencer) Phase() Phase {
	return s.phase.Load()
}

func (s *Sequencer) advance(to Phase) error {
	if err := s.phase.Advance(to); err != nil {
		return err
	}
	s.logger.Debug("phase", "phase", to)
	return nil
}

// prepared is everything Run needs before it touches the hardware.
type prepared struct {
	plan   *Plan
	tx, lo *synth.Synthesizer
	engine *buffer.Engine
	dir    string
	file   *os.File
	res    *Result
}

// prepare plans the experiment, loads and encodes both synthesizers,
// and creates the experiment directory, capture file and summary.
func (s *Sequencer) prepare() (*prepared, error) {
	c := &s.cfg
	plan, err := NewPlan(c, len(s.hw.Ring)/2)
	if err != nil {
		return nil, err
	}
	if err := plan.CheckTiming(c.Timing.PRF); err != nil {
		return nil, err
	}
	if err := plan.CheckFIFO(); err != nil {
		return nil, err
	}

	tmpl, err := synth.LoadTemplate(c.Files.Template)
	if err != nil {
		return nil, err
	}
	legacy := c.Misc.LegacyIncrementClamp == 1
	tx, lo := synth.New(synth.TX, "tx"), synth.New(synth.LO, "lo")
	for _, sy := range []struct {
		s    *synth.Synthesizer
		file string
	}{{tx, c.Files.TXSynthesizer}, {lo, c.Files.DXSynthesizer}} {
		if err := synth.LoadParams(sy.file, sy.s); err != nil {
			return nil, err
		}
		sy.s.Calc(legacy, s.logger)
		sy.s.LoadFrame(tmpl)
	}

	engine, err := buffer.New(buffer.Config{
		Ring:     s.hw.Ring,
		Position: s.hw.Position,
		Modulus:  s.hw.Modulus,
		Halves:   plan.NBuffers,
		Backoff:  s.opts.Backoff,
	}, s.logger)
	if err != nil {
		return nil, err
	}

	started := s.opts.Now()
	ts := Timestamp(started)
	dir, err := newExperimentDir(c.Files.StorageDir, ts)
	if err != nil {
		return nil, fmt.Errorf("experiment: %w", err)
	}
	res := &Result{
		Dir:         dir,
		CaptureFile: filepath.Join(dir, filepath.Base(dir)+".bin"),
		Summary:     filepath.Join(dir, SUMMARY_FILE),
		Started:     started,
		Plan:        plan,
	}
	file, err := os.OpenFile(res.CaptureFile, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return nil, fmt.Errorf("experiment: %w", err)
	}
	s.writeSummary(res, plan, tx, lo)
	s.copyProvenance(dir, tx, lo)

	s.logger.Info("experiment planned",
		"dir", dir,
		"prf", c.Timing.PRF,
		"rx_prf", plan.RxPRF,
		"n_pulses", plan.NPulses,
		"samples_per_pri", plan.SamplesPerPRI,
		"keep_ratio", fmt.Sprintf("%.3f", plan.KeepRatio),
		"n_buffers", plan.NBuffers,
		"rate_mb_s", fmt.Sprintf("%.3f", plan.DataRate(c.Timing.NSeconds)))
	return &prepared{plan: plan, tx: tx, lo: lo, engine: engine, dir: dir, file: file, res: res}, nil
}

// newExperimentDir creates a fresh directory named ts below storage.
// A second experiment in the same second gets ts_1, then ts_2 and so
// on, so no earlier capture is ever reused.
func newExperimentDir(storage, ts string) (string, error) {
	if err := os.MkdirAll(storage, 0o755); err != nil {
		return "", err
	}
	name := ts
	for n := 1; ; n++ {
		dir := filepath.Join(storage, name)
		err := os.Mkdir(dir, 0o755)
		if err == nil {
			return dir, nil
		}
		if !errors.Is(err, os.ErrExist) {
			return "", err
		}
		name = fmt.Sprintf("%s_%d", ts, n)
	}
}

func (s *Sequencer) writeSummary(res *Result, plan *Plan, tx, lo *synth.Synthesizer) {
	f, err := os.Create(res.Summary)
	if err == nil {
		err = WriteSummary(f, &s.cfg, plan, tx, lo, res.Started)
		if cerr := f.Close(); err == nil {
			err = cerr
		}
	}
	if err != nil {
		s.logger.Warn("cannot write summary", "file", res.Summary, "err", err)
	}
}

// copyProvenance copies the files the experiment was built from into
// its directory.
func (s *Sequencer) copyProvenance(dir string, tx, lo *synth.Synthesizer) {
	files := []string{s.opts.SetupFile, s.cfg.Files.Template, tx.ParameterFile}
	if lo.ParameterFile != tx.ParameterFile {
		files = append(files, lo.ParameterFile)
	}
	for _, f := range files {
		if f == "" {
			continue
		}
		if err := copyInto(dir, f); err != nil {
			s.logger.Warn("cannot copy into experiment directory", "file", f, "err", err)
		}
	}
}

// wait sleeps for d unless ctx is done first.
func wait(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Run runs one experiment.  It blocks until the capture is complete,
// ctx is done, or a step fails.  Once the synthesizers are ramping,
// the trigger and ramping are always switched off again before Run
// returns.
//
// A capture that overran still completes; Run then returns the Result
// together with an error wrapping buffer.ErrOverrun.
func (s *Sequencer) Run(ctx context.Context) (res *Result, err error) {
	if p := s.Phase(); p != Idle {
		return nil, fmt.Errorf("experiment: %w: run requested in phase %v", ErrPhase, p)
	}
	req := &s.Requests
	req.PowerLED.Set(panel.On)

	pr, err := s.prepare()
	if err != nil {
		return nil, err
	}
	res = pr.res
	defer func() {
		if cerr := pr.file.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("experiment: %w", cerr)
		}
	}()

	if d := s.cfg.Misc.CaptureDelay; d > 0 {
		s.logger.Info("waiting before capture", "seconds", d)
		req.CaptureLED.Set(panel.Blink)
		err := wait(ctx, time.Duration(d)*time.Second)
		req.CaptureLED.Set(panel.Off)
		if err != nil {
			return res, err
		}
	}
	if err := ctx.Err(); err != nil {
		return res, err
	}

	s.arm(pr)
	if err := s.advance(Armed); err != nil {
		return res, err
	}
	req.ArmedLED.Set(panel.On)

	// From the first synthesizer command on, every exit goes through
	// shutdown.
	ramping := false
	defer func() {
		if ramping {
			s.shutdown(pr)
		}
		req.ArmedLED.Set(panel.Off)
		req.CaptureLED.Set(panel.Off)
		s.phase.Reset()
	}()

	s.ctl.Reset(pr.tx, pr.lo)
	if err := s.advance(SynthReset); err != nil {
		return res, err
	}
	if err := ctx.Err(); err != nil {
		return res, err
	}
	if s.cfg.Misc.ParallelFlash == 1 {
		s.ctl.FlashBoth(pr.tx, pr.lo)
	} else {
		s.ctl.Flash(pr.tx)
		if err := ctx.Err(); err != nil {
			return res, err
		}
		s.ctl.Flash(pr.lo)
	}
	if err := s.advance(SynthFlashed); err != nil {
		return res, err
	}
	if err := ctx.Err(); err != nil {
		return res, err
	}
	ramping = true
	s.ctl.SetRamping(pr.tx, pr.lo, true)
	if err := s.advance(Ramping); err != nil {
		return res, err
	}
	if err := ctx.Err(); err != nil {
		return res, err
	}

	res.TriggerTime = s.trigger(pr.plan)
	if err := s.advance(Triggered); err != nil {
		return res, err
	}
	req.setGPS(GPSActive, pr.dir)

	if err := s.advance(Capturing); err != nil {
		return res, err
	}
	req.ArmedLED.Set(panel.Off)
	req.CaptureLED.Set(panel.On)
	s.logger.Info("capturing", "halves", pr.plan.NBuffers, "file", res.CaptureFile)
	stats, capErr := pr.engine.Run(ctx, pr.file)
	res.Stats = stats

	ramping = false
	s.shutdown(pr)
	s.logger.Info("capture finished",
		"halves", stats.HalvesDrained,
		"bytes", stats.Bytes,
		"overruns", stats.Overruns,
		"seconds", fmt.Sprintf("%.3f", stats.Duration.Seconds()),
		"mb_s", fmt.Sprintf("%.2f", stats.Throughput))

	if err := AppendResult(res.Summary, res.TriggerTime, stats); err != nil {
		s.logger.Warn("cannot update summary", "file", res.Summary, "err", err)
	}
	if s.cfg.Misc.EnableTransfer == 1 && s.opts.Transfer != nil && ctx.Err() == nil {
		if err := s.opts.Transfer(ctx, res.Dir); err != nil {
			s.logger.Warn("transfer failed", "dir", res.Dir, "err", err)
		}
	}
	if err := s.advance(Idle); err != nil {
		return res, err
	}
	if capErr != nil {
		return res, fmt.Errorf("experiment: %w", capErr)
	}
	return res, nil
}

// arm programs the receiver: synthesizer lines low, local oscillator
// phase increments, sample window and integration.
func (s *Sequencer) arm(pr *prepared) {
	c := &s.cfg
	pr.tx.InitPins()
	pr.lo.InitPins()
	s.hw.GPIO.Write(0)
	s.hw.PhaseA.Write(c.Timing.ChannelAPhaseIncrement)
	s.hw.PhaseB.Write(c.Timing.ChannelBPhaseIncrement)
	s.hw.Index.Write(IndexWord(c))
	s.hw.Integration.Write(pr.plan.IntegrationWord(c.Sampling.PresumFactor))
	pr.engine.Reset()
}

// trigger sets the pulse timing and starts the pulse train.  The
// trigger time is taken right after the enabling write.
func (s *Sequencer) trigger(plan *Plan) time.Time {
	mode := s.cfg.Timing.SwitchMode
	s.hw.GPIO.Update(plan.GPIOTiming())
	s.hw.TCU.Write64(plan.TCUWord(mode, false))
	s.hw.TCU.Write64(plan.TCUWord(mode, true))
	t := s.opts.Now()
	s.logger.Info("triggered", "time", Timestamp(t), "tcu", fmt.Sprintf("%#x", s.hw.TCU.Read64()))
	return t
}

// shutdown stops the pulse train and the synthesizer ramps.
func (s *Sequencer) shutdown(pr *prepared) {
	s.hw.TCU.Write64(pr.plan.TCUWord(s.cfg.Timing.SwitchMode, false))
	s.ctl.SetRamping(pr.tx, pr.lo, false)
	if p := s.Phase(); CanAdvance(p, RampingOff) {
		s.phase.Advance(RampingOff)
	}
	s.Requests.setGPS(GPSShutdown, pr.dir)
	s.logger.Debug("trigger and ramping off")
}
