//go:build linux

package fpga

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// Open maps the register blocks and the DMA ring named in p from
// /dev/mem.
func Open(p *Platform) (*FPGA, error) {
	if err := p.validate(); err != nil {
		return nil, err
	}
	f := newFPGA(p)
	var err error
	f.memfile, err = os.OpenFile("/dev/mem", os.O_RDWR|os.O_SYNC, 0744)
	if err != nil {
		return nil, fmt.Errorf("fpga: %w", err)
	}
	fd := int(f.memfile.Fd())
	for name, base := range p.Registers {
		b, err := unix.Mmap(fd, base, p.BlockSize, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
		if err != nil {
			f.Close()
			return nil, fmt.Errorf("fpga: map %s at %#x: %w", name, base, err)
		}
		f.blocks[name] = b
	}
	f.DMA, err = unix.Mmap(fd, p.DMA.Base, p.DMA.Size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		f.DMA = nil
		f.Close()
		return nil, fmt.Errorf("fpga: map dma at %#x: %w", p.DMA.Base, err)
	}
	if err := f.bind(); err != nil {
		f.Close()
		return nil, err
	}
	return f, nil
}

func unmap(b []byte) error {
	return unix.Munmap(b)
}
