package main

// Generate synthesizer frames and FPGA register maps.
//
// Usage:
//
//    genframe [--template FILE] [--id 0|1] [--legacy-clamp] [-o OUT] RAMPFILE
//    genframe --mmap [--platform FILE] [-o OUT]
//
// The first form builds the 142-register frame a synthesizer would be
// flashed with, from the register template and a ramp parameter file,
// and writes it as a register listing in the template's own format.
// The second writes verilog address definitions for the register
// blocks of the platform map.

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/dronesar/milosar/fpga"
	"github.com/dronesar/milosar/synth"
	"github.com/spf13/pflag"
)

// genFrame writes the frame for synthesizer id built from the template
// and ramp parameter file.
func genFrame(w io.Writer, template, params string, id int, legacy bool, logger *log.Logger) error {
	t, err := synth.LoadTemplate(template)
	if err != nil {
		return err
	}
	s := synth.New(id, fmt.Sprintf("synth%d", id))
	if err := synth.LoadParams(params, s); err != nil {
		return err
	}
	s.Calc(legacy, logger)
	s.LoadFrame(t)
	return s.Frame.WriteListing(w)
}

// mmap writes the verilog memory map definitions of p.
func mmap(w io.Writer, p *fpga.Platform) error {
	if _, err := fmt.Fprint(w, "// memory map definitions - generated by genframe\n\n"); err != nil {
		return err
	}
	for _, name := range p.Names() {
		if _, err := fmt.Fprintf(w, "`define ADDR_%-30s 32'h%08x\n", strings.ToUpper(name), p.Registers[name]); err != nil {
			return err
		}
	}
	_, err := fmt.Fprintf(w, "`define ADDR_%-30s 32'h%08x\n`define SIZE_%-30s 32'h%08x\n", "DMA", p.DMA.Base, "DMA", p.DMA.Size)
	return err
}

func main() {
	var template = pflag.StringP("template", "t", "/opt/redpitaya/milosar/template/register_template.txt", "Register template.")
	var id = pflag.IntP("id", "i", synth.TX, "Synthesizer id: 0 transmit, 1 local oscillator.")
	var legacy = pflag.Bool("legacy-clamp", false, "Clamp oversized increments by truncating the length, as older firmware did.")
	var defines = pflag.Bool("mmap", false, "Write verilog register address definitions instead of a frame.")
	var platformFile = pflag.StringP("platform", "p", "", "Platform map (YAML) for --mmap; default is the built-in milosar map.")
	var out = pflag.StringP("output", "o", "", "Output file; default standard output.")
	var debug = pflag.BoolP("debug", "d", false, "Log the ramp table.")
	var help = pflag.Bool("help", false, "Display help text.")
	pflag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s [options] RAMPFILE\n       %s --mmap [options]\n\n", os.Args[0], os.Args[0])
		pflag.PrintDefaults()
	}
	pflag.Parse()
	if *help || (!*defines && pflag.NArg() != 1) {
		pflag.Usage()
		os.Exit(1)
	}

	logger := log.New(os.Stderr)
	if *debug {
		logger.SetLevel(log.DebugLevel)
	}

	w := os.Stdout
	if *out != "" {
		f, err := os.Create(*out)
		if err != nil {
			logger.Fatal("cannot create output", "err", err)
		}
		w = f
	}

	var err error
	if *defines {
		p := fpga.DefaultPlatform()
		if *platformFile != "" {
			p, err = fpga.LoadPlatform(*platformFile)
		}
		if err == nil {
			err = mmap(w, p)
		}
	} else {
		err = genFrame(w, *template, pflag.Arg(0), *id, *legacy, logger)
	}
	if w != os.Stdout {
		if cerr := w.Close(); err == nil {
			err = cerr
		}
	}
	if err != nil {
		logger.Fatal("genframe failed", "err", err)
	}
}
