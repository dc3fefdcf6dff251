package experiment

import (
	"errors"
	"fmt"
)

// Misc holds the [misc] section of setup.ini.
type Misc struct {
	Debug                int    `mapstructure:"debug"`           // 1 for debug logging
	EnableTransfer       int    `mapstructure:"enable_transfer"` // 1 to copy each experiment to the host
	Hostname             string `mapstructure:"hostname"`        // user on the host
	HostIP               string `mapstructure:"host_ip"`
	Directory            string `mapstructure:"directory"`     // destination directory on the host
	CaptureDelay         int    `mapstructure:"capture_delay"` // seconds to wait before arming
	EnableStatusLEDs     int    `mapstructure:"enable_status_leds"`
	Comment              string `mapstructure:"comment"` // operator comment for the summary
	LegacyIncrementClamp int    `mapstructure:"legacy_increment_clamp"`
	ParallelFlash        int    `mapstructure:"parallel_flash"` // 1 to flash both synthesizers in lock step
}

// Files holds the [files] section of setup.ini.
type Files struct {
	Bitstream     string `mapstructure:"bitstream"`
	TXSynthesizer string `mapstructure:"tx_synthesizer"` // ramp parameter file of the transmit synthesizer
	DXSynthesizer string `mapstructure:"dx_synthesizer"` // ramp parameter file of the dechirp (LO) synthesizer
	Template      string `mapstructure:"template"`       // register template shared by both synthesizers
	StorageDir    string `mapstructure:"storage_dir"`    // experiments are stored below this directory
	Platform      string `mapstructure:"platform"`       // optional platform map overriding the built-in one
}

// Timing holds the [timing] section of setup.ini.
type Timing struct {
	SwitchMode             int    `mapstructure:"switch_mode"` // 0=off, 1=RF_1, 2=RF_2, 3=interleave
	NSeconds               int    `mapstructure:"n_seconds"`
	PRF                    int    `mapstructure:"prf"` // Hz; must divide the ADC clock
	ChannelAPhaseIncrement uint32 `mapstructure:"channel_a_phase_increment"`
	ChannelBPhaseIncrement uint32 `mapstructure:"channel_b_phase_increment"`
}

// GPSD holds the [gpsd] section of setup.ini, read by the GPS logger.
type GPSD struct {
	Enabled int `mapstructure:"enabled"`
	MinMode int `mapstructure:"min_mode"`
	MinSats int `mapstructure:"min_sats"`
}

// Sampling holds the [sampling] section of setup.ini.
type Sampling struct {
	DecimationFactor int `mapstructure:"decimation_factor"`
	PresumFactor     int `mapstructure:"presum_factor"`
	StartIndex       int `mapstructure:"start_index"` // first stored sample of each PRI
	EndIndex         int `mapstructure:"end_index"`   // last stored sample of each PRI
}

// Config is the experiment configuration.  It does not change while an
// experiment runs.
type Config struct {
	Misc     Misc
	Files    Files
	Timing   Timing
	GPSD     GPSD
	Sampling Sampling
}

// Defaults returns the configuration used for keys setup.ini does not
// set.
func Defaults() Config {
	return Config{
		Misc: Misc{Comment: "none"},
		Files: Files{
			Template:   "/opt/redpitaya/milosar/template/register_template.txt",
			StorageDir: "/media/storage",
		},
		Sampling: Sampling{DecimationFactor: 1, PresumFactor: 1},
	}
}

// Validate reports configuration values no experiment can run with.
func (c *Config) Validate() error {
	var errs []error
	positive := func(name string, v int) {
		if v <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive, not %d", name, v))
		}
	}
	positive("timing.prf", c.Timing.PRF)
	positive("timing.n_seconds", c.Timing.NSeconds)
	positive("sampling.decimation_factor", c.Sampling.DecimationFactor)
	positive("sampling.presum_factor", c.Sampling.PresumFactor)
	if c.Sampling.StartIndex < 0 {
		errs = append(errs, fmt.Errorf("sampling.start_index must not be negative, not %d", c.Sampling.StartIndex))
	}
	if c.Sampling.EndIndex < c.Sampling.StartIndex {
		errs = append(errs, fmt.Errorf("sampling.end_index %d is before start_index %d", c.Sampling.EndIndex, c.Sampling.StartIndex))
	}
	if c.Sampling.EndIndex > 0xFFFF {
		errs = append(errs, fmt.Errorf("sampling.end_index %d does not fit the 16-bit index field", c.Sampling.EndIndex))
	}
	if c.Sampling.PresumFactor > 0xFFFF {
		errs = append(errs, fmt.Errorf("sampling.presum_factor %d does not fit the 16-bit presum field", c.Sampling.PresumFactor))
	}
	if c.Timing.SwitchMode < 0 || c.Timing.SwitchMode > 3 {
		errs = append(errs, fmt.Errorf("timing.switch_mode must be 0..3, not %d", c.Timing.SwitchMode))
	}
	if c.Files.TXSynthesizer == "" || c.Files.DXSynthesizer == "" {
		errs = append(errs, errors.New("files.tx_synthesizer and files.dx_synthesizer must be set"))
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("experiment: bad configuration: %w", err)
	}
	return nil
}
