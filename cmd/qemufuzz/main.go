package main

import (
	"flag"
	"fmt"
	"os"

	log "github.com/sirupsen/logrus"
	uc "github.com/unicorn-engine/unicorn/bindings/go/unicorn"

	"github.com/dylanjwolff/libafl/emu"
	"github.com/dylanjwolff/libafl/repl"
	"github.com/dylanjwolff/libafl/sim"
	"github.com/dylanjwolff/libafl/trace"
	"github.com/dylanjwolff/libafl/ucengine"
)

func usage(fs *flag.FlagSet) {
	fmt.Fprintf(os.Stderr, "Usage: %s [options] <binary> [args...]\n", os.Args[0])
	fs.PrintDefaults()
}

func main() {
	fs := flag.NewFlagSet("qemufuzz", flag.ExitOnError)
	backend := fs.String("backend", "sim", "execution backend (sim, unicorn)")
	tracefile := fs.String("trace", "", "record hook events to this file")
	verbose := fs.Bool("v", false, "enable debug logging")
	fs.Usage = func() { usage(fs) }
	fs.Parse(os.Args[1:])

	if *verbose {
		log.SetLevel(log.DebugLevel)
	}
	if fs.NArg() < 1 {
		usage(fs)
		os.Exit(1)
	}
	args := fs.Args()

	var eng emu.Engine
	switch *backend {
	case "sim":
		eng = sim.NewEngine(sim.Config{})
	case "unicorn":
		g, err := ucengine.New(ucengine.Config{
			Arch:    uc.ARCH_X86,
			Mode:    uc.MODE_64,
			PCReg:   uc.X86_REG_RIP,
			NumRegs: uc.X86_REG_ENDING,
			Syscall: &ucengine.SyscallABI{
				NumReg: uc.X86_REG_RAX,
				ArgRegs: [8]int{
					uc.X86_REG_RDI, uc.X86_REG_RSI, uc.X86_REG_RDX,
					uc.X86_REG_R10, uc.X86_REG_R8, uc.X86_REG_R9,
				},
				RetReg: uc.X86_REG_RAX,
			},
		})
		if err != nil {
			log.Fatalf("failed to create unicorn backend: %v", err)
		}
		eng = g
	default:
		log.Fatalf("unknown backend: %s", *backend)
	}

	e := emu.New(eng, args, os.Environ())

	if *tracefile != "" {
		t, err := trace.NewTrace(e, &trace.Config{
			Tracefile: *tracefile,
			Block:     true,
			Edge:      true,
			Read:      true,
			Write:     true,
			Cmp:       true,
			Sys:       true,
		})
		if err != nil {
			log.Fatalf("failed to open trace: %v", err)
		}
		defer t.Close()
		if err := t.Attach(); err != nil {
			log.Fatalf("failed to attach trace: %v", err)
		}
	}

	if err := repl.Run(e); err != nil {
		log.Fatalf("repl error: %v", err)
	}
}
