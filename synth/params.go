package synth

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/viper"
)

// rampKeys is the layout of one [rampN] section of a ramp parameter
// file.
type rampKeys struct {
	Length    float64 `mapstructure:"length"`
	Bandwidth float64 `mapstructure:"bandwidth"`
	Increment float64 `mapstructure:"increment"`
	Next      uint8   `mapstructure:"next"`
	Trigger   uint8   `mapstructure:"trigger"`
	Reset     uint8   `mapstructure:"reset"`
	Flag      uint8   `mapstructure:"flag"`
	Doubler   bool    `mapstructure:"doubler"`
}

// LoadParams reads the ramp parameter file at path into s.  A missing
// file is an error; missing keys leave their fields zero.
func LoadParams(path string, s *Synthesizer) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("synth %s: parameter file: %w", s.Name, err)
	}
	defer f.Close()
	s.ParameterFile = path
	return ReadParams(f, s)
}

// ReadParams reads an INI ramp parameter file: [setup] frac_num and
// [ramp0] .. [ramp7] with length, bandwidth, increment, next,
// trigger, reset, flag and doubler.
func ReadParams(r io.Reader, s *Synthesizer) error {
	v := viper.New()
	v.SetConfigType("ini")
	if err := v.ReadConfig(r); err != nil {
		return fmt.Errorf("synth %s: parameter file: %w", s.Name, err)
	}
	s.FracNum = v.GetUint32("setup.frac_num")
	for i := range s.Ramps {
		var k rampKeys
		if err := v.UnmarshalKey(fmt.Sprintf("ramp%d", i), &k); err != nil {
			return fmt.Errorf("synth %s: ramp%d: %w", s.Name, i, err)
		}
		s.Ramps[i] = Ramp{
			Slot:      i,
			Length:    k.Length,
			Bandwidth: k.Bandwidth,
			Increment: k.Increment,
			Next:      k.Next,
			Trigger:   k.Trigger,
			Reset:     k.Reset,
			Flag:      k.Flag,
			Doubler:   k.Doubler,
		}
	}
	return nil
}
