package synth

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
)

const (
	TEMPLATE_ROWS = 86 // rows 0..85 come from the register template
	RAMP_BASE     = 86 // first row of ramp slot 0
	RAMP_ROWS     = 7  // rows per ramp slot
	FRAC_ROW      = 19 // rows 19..21 hold the 24-bit fractional numerator
)

// ErrTemplate is returned for a register template that is malformed
// or does not hold exactly TEMPLATE_ROWS rows.
var ErrTemplate = errors.New("bad register template")

// A Template holds rows 0..85 of a synthesizer register frame.
type Template [TEMPLATE_ROWS]uint8

// A Frame is the full image shifted into a synthesizer: row i holds
// register i, and bit j of a row is column j.
type Frame [NUM_REGISTERS]uint8

// LoadTemplate reads a register template file.
func LoadTemplate(path string) (*Template, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTemplate, err)
	}
	defer f.Close()
	return ReadTemplate(f)
}

// ReadTemplate parses a register template: TEMPLATE_ROWS lines of
// "<label> <value>", highest register first, where characters 6 and 7
// of the value are the register byte in hex (e.g. "R85 0x005500").
// Line l fills row 85-l.  Blank lines are ignored.
func ReadTemplate(r io.Reader) (*Template, error) {
	t := new(Template)
	n := 0
	sc := bufio.NewScanner(r)
	for line := 1; sc.Scan(); line++ {
		fields := strings.Fields(sc.Text())
		if len(fields) == 0 {
			continue
		}
		if len(fields) < 2 {
			return nil, fmt.Errorf("%w: line %d: want label and value", ErrTemplate, line)
		}
		if n == TEMPLATE_ROWS {
			return nil, fmt.Errorf("%w: more than %d rows", ErrTemplate, TEMPLATE_ROWS)
		}
		tok := fields[1]
		if len(tok) < 8 {
			return nil, fmt.Errorf("%w: line %d: value %q too short", ErrTemplate, line, tok)
		}
		v, err := strconv.ParseUint(tok[6:8], 16, 8)
		if err != nil {
			return nil, fmt.Errorf("%w: line %d: %v", ErrTemplate, line, err)
		}
		t[TEMPLATE_ROWS-1-n] = uint8(v)
		n++
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTemplate, err)
	}
	if n != TEMPLATE_ROWS {
		return nil, fmt.Errorf("%w: %d rows, want %d", ErrTemplate, n, TEMPLATE_ROWS)
	}
	return t, nil
}

// Bit returns column col of row.
func (f *Frame) Bit(row, col int) uint8 {
	return f[row] >> col & 1
}

// setRamp overlays the encoded fields of a ramp slot.
func (f *Frame) setRamp(slot int, increment uint32, length uint16, ntr uint8) {
	base := RAMP_BASE + RAMP_ROWS*slot
	f[base+0] = uint8(increment)
	f[base+1] = uint8(increment >> 8)
	f[base+2] = uint8(increment >> 16)
	f[base+3] = uint8(increment >> 24)
	f[base+4] = uint8(length)
	f[base+5] = uint8(length >> 8)
	f[base+6] = ntr
}

// RampFields reads back the encoded fields of a ramp slot.
func (f *Frame) RampFields(slot int) (increment uint32, length uint16, ntr uint8) {
	base := RAMP_BASE + RAMP_ROWS*slot
	increment = uint32(f[base]) | uint32(f[base+1])<<8 | uint32(f[base+2])<<16 | uint32(f[base+3])<<24
	length = uint16(f[base+4]) | uint16(f[base+5])<<8
	return increment, length, f[base+6]
}

func (f *Frame) setFracNum(v uint32) {
	f[FRAC_ROW+0] = uint8(v)
	f[FRAC_ROW+1] = uint8(v >> 8)
	f[FRAC_ROW+2] = uint8(v >> 16)
}

// FracNum reads back the 24-bit fractional numerator.
func (f *Frame) FracNum() uint32 {
	return uint32(f[FRAC_ROW]) | uint32(f[FRAC_ROW+1])<<8 | uint32(f[FRAC_ROW+2])<<16
}

// WriteListing writes the frame highest register first, one
// "R<n>\t0x<address><value>" line per register, the layout of the
// register template.
func (f *Frame) WriteListing(w io.Writer) error {
	bw := bufio.NewWriter(w)
	for row := NUM_REGISTERS - 1; row >= 0; row-- {
		fmt.Fprintf(bw, "R%d\t0x%04X%02X\n", row, row, f[row])
	}
	return bw.Flush()
}
