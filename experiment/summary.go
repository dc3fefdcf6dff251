package experiment

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/dronesar/milosar/buffer"
	"github.com/dronesar/milosar/synth"
	"github.com/lestrrat-go/strftime"
)

// TIME_FORMAT names experiments and stamps the run summary.
const TIME_FORMAT = "%y_%m_%d_%H_%M_%S"

var stamper = func() *strftime.Strftime {
	s, err := strftime.New(TIME_FORMAT)
	if err != nil {
		panic(err)
	}
	return s
}()

// Timestamp formats t the way experiment directories are named.
func Timestamp(t time.Time) string {
	return stamper.FormatString(t)
}

// WriteSummary writes the run summary: an INI file of the parameters
// and derived values of the experiment, in the layout post-processing
// reads.  Lines end in CRLF.
func WriteSummary(w io.Writer, cfg *Config, plan *Plan, tx, lo *synth.Synthesizer, now time.Time) error {
	b := bufio.NewWriter(w)
	line := func(format string, args ...any) {
		fmt.Fprintf(b, format+"\r\n", args...)
	}
	line("[general]")
	line("time_stamp        = %s", Timestamp(now))
	line("operator_comment  = %s", cfg.Misc.Comment)
	line("capture_delay     = %d", cfg.Misc.CaptureDelay)

	line("\n[dataset]")
	line("switch_mode       = %d", cfg.Timing.SwitchMode)
	line("bytes             = %d", plan.NBuffers*plan.HalfSize)
	line("n_buffers         = %d", plan.NBuffers)
	line("n_seconds         = %d", cfg.Timing.NSeconds)
	line("prf               = %d", cfg.Timing.PRF)
	line("decimation_factor = %d", cfg.Sampling.DecimationFactor)
	line("sampling_rate     = %.2f", ADC_RATE/float64(cfg.Sampling.DecimationFactor))
	line("n_counter         = %d", synth.N_COUNTER)
	line("channel_a_phase_increment = %d", cfg.Timing.ChannelAPhaseIncrement)
	line("channel_b_phase_increment = %d", cfg.Timing.ChannelBPhaseIncrement)

	line("\n[integration]")
	line("n_samples_per_pri = %d", plan.SamplesPerPRI)
	line("n_pris            = %d", cfg.Sampling.PresumFactor)
	line("start_index       = %d", cfg.Sampling.StartIndex)
	line("end_index         = %d", cfg.Sampling.EndIndex)

	for _, s := range []struct {
		section string
		synth   *synth.Synthesizer
	}{{"tx_synth", tx}, {"dx_synth", lo}} {
		line("\n[%s]", s.section)
		line("id                    = %d", s.synth.ID)
		line("frequency_offset      = %.5f", synth.VCOOffset(s.synth.FracNum))
		line("fractional_numerator  = %d", s.synth.FracNum)
		line("parameter_file        = %s", s.synth.ParameterFile)
		line("up_ramp_increment     = %d", s.synth.UpRampIncrement)
		line("up_ramp_length        = %d", s.synth.UpRampLength)
	}
	return b.Flush()
}

// AppendResult adds the trigger time and capture statistics to the
// summary at path.
func AppendResult(path string, trigger time.Time, stats *buffer.Stats) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_APPEND, 0)
	if err != nil {
		return err
	}
	b := bufio.NewWriter(f)
	fmt.Fprintf(b, "\n[TCU]\r\n")
	fmt.Fprintf(b, "tcu_trigger_timestamp\t\t= %s\r\n", Timestamp(trigger))
	if stats != nil {
		fmt.Fprintf(b, "\n[capture]\r\n")
		fmt.Fprintf(b, "halves_drained    = %d\r\n", stats.HalvesDrained)
		fmt.Fprintf(b, "bytes_written     = %d\r\n", stats.Bytes)
		fmt.Fprintf(b, "overruns          = %d\r\n", stats.Overruns)
		fmt.Fprintf(b, "duration          = %.3f\r\n", stats.Duration.Seconds())
		fmt.Fprintf(b, "throughput        = %.3f\r\n", stats.Throughput)
	}
	if err := b.Flush(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// copyInto copies the file at src into directory dir, keeping its name.
func copyInto(dir, src string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.Create(filepath.Join(dir, filepath.Base(src)))
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
