//go:build !linux

package fpga

import "errors"

// Open is only supported on linux; use NewSim elsewhere.
func Open(p *Platform) (*FPGA, error) {
	return nil, errors.New("fpga: /dev/mem access requires linux")
}

func unmap(b []byte) error {
	return nil
}
