package fpga

import (
	_ "embed"
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"
)

//go:embed platform.yaml
var defaultPlatform []byte

// Platform is the table of register base addresses and bit offsets
// for a particular bitstream.
type Platform struct {
	BlockSize int              `yaml:"block_size"` // bytes mapped per register block
	Registers map[string]int64 `yaml:"registers"`  // physical base address of each block
	DMA       struct {
		Base int64 `yaml:"base"` // physical address of the channel A sample ring
		Size int   `yaml:"size"` // bytes in the ring; two halves
		// CounterWords is the modulus of the status counter in words; 0
		// means a free-running 32-bit counter.  The ring's word count
		// serves a counter wrapping at the ring as well as a 32-bit one,
		// since 2^32 is a multiple of it.
		CounterWords uint64 `yaml:"counter_words"`
	} `yaml:"dma"`
	Bits struct {
		PowerLED      uint `yaml:"power_led"`
		ArmedLED      uint `yaml:"armed_led"`
		CaptureLED    uint `yaml:"capture_led"`
		TriggerButton uint `yaml:"trigger_button"`
	} `yaml:"bits"`
}

// DefaultPlatform returns the register map of the stock milosar bitstream.
func DefaultPlatform() *Platform {
	p, err := ParsePlatform(defaultPlatform)
	if err != nil {
		panic(fmt.Sprintf("fpga: embedded platform map: %v", err))
	}
	return p
}

// LoadPlatform reads a platform map from a YAML file.
func LoadPlatform(path string) (*Platform, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("fpga: platform map: %w", err)
	}
	return ParsePlatform(b)
}

// ParsePlatform decodes a YAML platform map.
func ParsePlatform(b []byte) (*Platform, error) {
	p := new(Platform)
	if err := yaml.Unmarshal(b, p); err != nil {
		return nil, fmt.Errorf("fpga: platform map: %w", err)
	}
	if err := p.validate(); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *Platform) validate() error {
	if p.BlockSize < 8 || p.BlockSize%4 != 0 {
		return fmt.Errorf("fpga: platform map: bad block_size %d", p.BlockSize)
	}
	for _, name := range []string{GPIO, TCU, STATUS, PHASE_A, PHASE_B, INDEX, INTEGRATION, LEDS, BUTTON} {
		if _, ok := p.Registers[name]; !ok {
			return fmt.Errorf("fpga: platform map: missing register %q", name)
		}
	}
	if p.DMA.Size <= 0 || p.DMA.Size%(2*BYTES_PER_WRITE) != 0 {
		return fmt.Errorf("fpga: platform map: dma size %d is not an even number of words", p.DMA.Size)
	}
	if w := uint64(p.DMA.Size / BYTES_PER_WRITE); p.DMA.CounterWords != 0 &&
		(p.DMA.CounterWords%w != 0 || p.DMA.CounterWords > 1<<32) {
		return fmt.Errorf("fpga: platform map: counter_words %d is not a multiple of the %d ring words", p.DMA.CounterWords, w)
	}
	for name, bit := range map[string]uint{
		"power_led":      p.Bits.PowerLED,
		"armed_led":      p.Bits.ArmedLED,
		"capture_led":    p.Bits.CaptureLED,
		"trigger_button": p.Bits.TriggerButton,
	} {
		if bit > 31 {
			return fmt.Errorf("fpga: platform map: bit %s = %d out of range", name, bit)
		}
	}
	return nil
}

// Names returns the register block names in address order.
func (p *Platform) Names() []string {
	names := make([]string, 0, len(p.Registers))
	for name := range p.Registers {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool { return p.Registers[names[i]] < p.Registers[names[j]] })
	return names
}
