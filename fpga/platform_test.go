package fpga

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultPlatform(t *testing.T) {
	p := DefaultPlatform()

	assert.Equal(t, SREG, p.BlockSize)
	assert.Equal(t, int64(0x40002000), p.Registers[GPIO])
	assert.Equal(t, int64(0x40001000), p.Registers[TCU])
	assert.Equal(t, int64(0x1E000000), p.DMA.Base)
	assert.Equal(t, DMA_RING_SIZE, p.DMA.Size)
	assert.Equal(t, uint64(DMA_RING_SIZE/BYTES_PER_WRITE), p.DMA.CounterWords)
	assert.Equal(t, uint(1), p.Bits.ArmedLED)
	assert.Equal(t, STATUS, p.Names()[0], "status block has the lowest address")
}

func TestParsePlatformRejectsMissingRegister(t *testing.T) {
	_, err := ParsePlatform([]byte("block_size: 4096\nregisters:\n  gpio: 0x40002000\ndma:\n  size: 64\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing register")
}

func TestParsePlatformRejectsOddRing(t *testing.T) {
	p := DefaultPlatform()
	p.DMA.Size = 12
	assert.Error(t, p.validate())
}

func TestParsePlatformRejectsCounterModulus(t *testing.T) {
	p := DefaultPlatform()
	p.DMA.CounterWords = uint64(p.DMA.Size/BYTES_PER_WRITE) + 1
	assert.ErrorContains(t, p.validate(), "counter_words")
	p.DMA.CounterWords = 0
	assert.NoError(t, p.validate())
}

func TestLoadPlatform(t *testing.T) {
	path := filepath.Join(t.TempDir(), "platform.yaml")
	require.NoError(t, os.WriteFile(path, defaultPlatform, 0644))

	p, err := LoadPlatform(path)
	require.NoError(t, err)
	assert.Equal(t, DefaultPlatform(), p)

	_, err = LoadPlatform(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
