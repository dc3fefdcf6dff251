package main

// Show one or more milosar registers at repeated intervals.
//
// Usage:
//
//    showreg [--platform FILE] [--count K] N REGNAME1 M1 REGNAME2 M2 ...
//
// where
//  - N is the number of milliseconds to wait between burst reads of the
//    registers
//  - REGNAMEi is the name of a register block in the platform map,
//    optionally followed by +OFFSET (bytes)
//  - Mi is the number of reads to do in a burst from the REGNAMEi

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"time"

	"github.com/dronesar/milosar/fpga"
	"github.com/spf13/pflag"
)

type probe struct {
	name  string
	reg   *fpga.Reg
	burst int
}

// parseReg splits "name+offset" into a block name and byte offset.
func parseReg(s string) (string, int, error) {
	name, off, ok := strings.Cut(s, "+")
	if !ok {
		return s, 0, nil
	}
	n, err := strconv.ParseInt(off, 0, 32)
	if err != nil {
		return "", 0, fmt.Errorf("bad offset in %q: %w", s, err)
	}
	return name, int(n), nil
}

func newProbe(f *fpga.FPGA, reg, burst string) (probe, error) {
	name, off, err := parseReg(reg)
	if err != nil {
		return probe{}, err
	}
	r, err := f.Reg(name, off)
	if err != nil {
		return probe{}, err
	}
	m, err := strconv.Atoi(burst)
	if err != nil || m <= 0 {
		return probe{}, fmt.Errorf("bad burst count %q for %s", burst, reg)
	}
	return probe{name: reg, reg: r, burst: m}, nil
}

func main() {
	var platformFile = pflag.StringP("platform", "p", "", "Platform map (YAML); default is the built-in milosar map.")
	var count = pflag.IntP("count", "k", 0, "Number of bursts to show; 0 shows until interrupted.")
	var help = pflag.Bool("help", false, "Display help text.")
	pflag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s [options] N REGNAME1 M1 [REGNAME2 M2 ...]\n\n", os.Args[0])
		pflag.PrintDefaults()
	}
	pflag.Parse()
	args := pflag.Args()
	if *help || len(args) < 3 || len(args)%2 == 0 {
		pflag.Usage()
		os.Exit(1)
	}

	platform := fpga.DefaultPlatform()
	if *platformFile != "" {
		p, err := fpga.LoadPlatform(*platformFile)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		platform = p
	}
	wait, err := strconv.Atoi(args[0])
	if err != nil || wait < 0 {
		fmt.Fprintf(os.Stderr, "bad wait %q\n", args[0])
		os.Exit(1)
	}

	f, err := fpga.Open(platform)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Unable to access FPGA: %v\n", err)
		os.Exit(1)
	}
	defer f.Close()

	var probes []probe
	for i := 1; i < len(args); i += 2 {
		p, err := newProbe(f, args[i], args[i+1])
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			f.Close()
			os.Exit(1)
		}
		probes = append(probes, p)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	v := make([]uint32, 0, 64)
	for n := 0; *count == 0 || n < *count; n++ {
		for _, p := range probes {
			v = v[:0]
			for j := 0; j < p.burst; j++ {
				v = append(v, p.reg.Read())
			}
			fmt.Printf("%s:", p.name)
			for _, x := range v {
				fmt.Printf(" %08x", x)
			}
			fmt.Println()
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(time.Duration(wait) * time.Millisecond):
		}
	}
}
