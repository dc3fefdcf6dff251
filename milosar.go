// milosar runs SAR experiments on a redpitaya carrying the milosar FPGA
// build: it programs both ramp synthesizers, triggers the pulse train
// and stores the sampled returns, one experiment directory per run.
//
// Usage:
//
//	milosar [--config setup.ini] [--debug] [--wait-trigger] [--runs N] [--sim]
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"os/signal"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/dronesar/milosar/buffer"
	"github.com/dronesar/milosar/experiment"
	"github.com/dronesar/milosar/fpga"
	"github.com/dronesar/milosar/panel"
	"github.com/spf13/pflag"
)

func main() {
	os.Exit(run())
}

func run() int {
	var configFile = pflag.StringP("config", "c", "", "Setup file.  Default setup.ini in "+CONFIG_DIR+" or the current directory.")
	var debug = pflag.BoolP("debug", "d", false, "Log at debug level.")
	var sim = pflag.Bool("sim", false, "Run against a simulated FPGA.")
	var simRate = pflag.Float64("sim-rate", 1e6, "Byte rate of the simulated DMA writer.")
	var waitTrigger = pflag.BoolP("wait-trigger", "w", false, "Wait for the trigger button before each experiment.")
	var runs = pflag.IntP("runs", "n", 1, "Number of experiments to run; 0 runs until interrupted.")
	var help = pflag.Bool("help", false, "Display help text.")

	pflag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s [options]\n\n", os.Args[0])
		pflag.PrintDefaults()
	}
	pflag.Parse()
	if *help {
		pflag.Usage()
		return 0
	}

	logger := log.NewWithOptions(os.Stderr, log.Options{
		ReportTimestamp: true,
		TimeFormat:      "2006-01-02 15:04:05.000",
	})

	cfg, setupFile, err := loadConfig(*configFile)
	if err != nil {
		logger.Error("cannot load configuration", "err", err)
		return 1
	}
	if *debug || cfg.Misc.Debug == 1 {
		logger.SetLevel(log.DebugLevel)
	}
	logger.Debug("configuration", "file", setupFile)

	platform := fpga.DefaultPlatform()
	if cfg.Files.Platform != "" {
		if platform, err = fpga.LoadPlatform(cfg.Files.Platform); err != nil {
			logger.Error("cannot load platform map", "err", err)
			return 1
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), shutdownSignals...)
	defer stop()

	var f *fpga.FPGA
	if *sim {
		f, err = fpga.NewSim(platform)
	} else {
		f, err = fpga.Open(platform)
	}
	if err != nil {
		logger.Error("unable to access FPGA", "err", err)
		return 1
	}
	defer f.Close()

	// workers are stopped before the registers are unmapped
	workers, stopWorkers := context.WithCancel(ctx)
	var wg sync.WaitGroup
	defer func() {
		stopWorkers()
		wg.Wait()
	}()
	spawn := func(fn func(context.Context)) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			fn(workers)
		}()
	}
	if *sim {
		spawn((&fpga.DMASim{FPGA: f, Rate: *simRate}).Run)
	}

	seq, err := experiment.New(cfg, experiment.FromFPGA(f), experiment.Options{
		Backoff:   buffer.Backoff{Min: 10 * time.Microsecond, Max: time.Millisecond},
		Transfer:  scp(cfg, logger),
		SetupFile: setupFile,
		Logger:    logger.WithPrefix("experiment"),
	})
	if err != nil {
		logger.Error("cannot set up experiment", "err", err)
		return 1
	}

	req := &seq.Requests
	if cfg.Misc.EnableStatusLEDs == 1 {
		panelLog := logger.WithPrefix("panel")
		bits := platform.Bits
		for _, l := range []*panel.LED{
			{Name: "power", Reg: f.LEDs, Bit: bits.PowerLED, Req: &req.PowerLED},
			{Name: "armed", Reg: f.LEDs, Bit: bits.ArmedLED, Req: &req.ArmedLED},
			{Name: "capture", Reg: f.LEDs, Bit: bits.CaptureLED, Req: &req.CaptureLED},
		} {
			l.Logger = panelLog
			spawn(l.Run)
		}
		defer func() {
			req.PowerLED.Set(panel.Stopped)
			req.ArmedLED.Set(panel.Stopped)
			req.CaptureLED.Set(panel.Stopped)
		}()
	}
	var presses chan struct{}
	if *waitTrigger {
		presses = make(chan struct{}, 1)
		b := &panel.Button{Reg: f.Button, Bit: platform.Bits.TriggerButton, Logger: logger.WithPrefix("panel")}
		spawn(func(ctx context.Context) { b.Run(ctx, presses) })
	}
	req.PowerLED.Set(panel.On)

	for n := 0; *runs == 0 || n < *runs; n++ {
		if *waitTrigger {
			logger.Info("waiting for trigger button")
			select {
			case <-ctx.Done():
				logger.Info("shutting down")
				return 0
			case <-presses:
			}
		}
		res, err := seq.Run(ctx)
		switch {
		case ctx.Err() != nil:
			logger.Info("interrupted; shutting down", "err", err)
			return 0
		case errors.Is(err, buffer.ErrOverrun):
			logger.Error("capture is incomplete", "dir", res.Dir, "err", err)
		case err != nil:
			logger.Error("experiment failed", "err", err)
			return 1
		default:
			logger.Info("experiment complete", "dir", res.Dir, "bytes", res.Stats.Bytes)
		}
		if *sim {
			counterIdle(ctx, f.Status)
		}
	}
	return 0
}

// counterIdle waits for the simulated DMA writer to notice the trigger
// was disabled, so the next experiment starts from a zero count.
func counterIdle(ctx context.Context, status fpga.Register) {
	ticker := time.NewTicker(time.Millisecond)
	defer ticker.Stop()
	for status.Read() != 0 {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// scp returns the hook copying an experiment directory to the host
// named in [misc], or nil if transfers are disabled.
func scp(cfg experiment.Config, logger *log.Logger) func(context.Context, string) error {
	m := cfg.Misc
	if m.EnableTransfer != 1 || m.HostIP == "" {
		return nil
	}
	return func(ctx context.Context, dir string) error {
		dest := fmt.Sprintf("%s@%s:%s", m.Hostname, m.HostIP, m.Directory)
		logger.Info("transferring", "dir", dir, "to", dest)
		out, err := exec.CommandContext(ctx, "scp", "-r", dir, dest).CombinedOutput()
		if err != nil {
			return fmt.Errorf("scp: %w: %s", err, out)
		}
		return nil
	}
}
