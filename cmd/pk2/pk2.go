package main

// Peek/Poke memory FPGA registers
//
// Usage:
//
//    pk2 [--platform FILE] [--mask M] REGNAME[+OFFSET] [VALUE]
//
// With no VALUE the register is read.  With a VALUE it is written; if
// a mask is given, only the masked bits are replaced.  The register is
// printed after the write.

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/dronesar/milosar/fpga"
	"github.com/spf13/pflag"
)

func fail(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}

func parseUint32(s string) uint32 {
	v, err := strconv.ParseUint(s, 0, 32)
	if err != nil {
		fail("bad value %q: %v", s, err)
	}
	return uint32(v)
}

func main() {
	var platformFile = pflag.StringP("platform", "p", "", "Platform map (YAML); default is the built-in milosar map.")
	var mask = pflag.StringP("mask", "m", "", "Replace only these bits of the register.")
	var help = pflag.Bool("help", false, "Display help text.")
	pflag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s [options] REGNAME[+OFFSET] [VALUE]\n\n", os.Args[0])
		pflag.PrintDefaults()
	}
	pflag.Parse()
	args := pflag.Args()
	if *help || len(args) < 1 || len(args) > 2 {
		pflag.Usage()
		os.Exit(1)
	}

	platform := fpga.DefaultPlatform()
	if *platformFile != "" {
		p, err := fpga.LoadPlatform(*platformFile)
		if err != nil {
			fail("%v", err)
		}
		platform = p
	}

	name, off := args[0], 0
	if n, o, ok := strings.Cut(args[0], "+"); ok {
		name, off = n, int(parseUint32(o))
	}

	f, err := fpga.Open(platform)
	if err != nil {
		fail("Unable to access FPGA: %v", err)
	}
	defer f.Close()
	r, err := f.Reg(name, off)
	if err != nil {
		f.Close()
		fail("%v", err)
	}
	if len(args) == 2 {
		v := parseUint32(args[1])
		if *mask != "" {
			r.Update(parseUint32(*mask), v)
		} else {
			r.Write(v)
		}
	}
	fmt.Printf("%s+%#x (%#08x) = %#08x\n", name, off, platform.Registers[name]+int64(off), r.Read())
}
