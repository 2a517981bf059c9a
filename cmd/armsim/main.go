// Copyright © 2024 Jeff Berkowitz (pdxjjb@gmail.com)
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published
// by the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Affero General Public License for more details.

package main

import (
	"flag"
	"fmt"
	"log"
	"net"
	"os"
	"sync"

	"github.com/gmofishsauce/armsim/internal/arm"
	"github.com/gmofishsauce/armsim/internal/gdbstub"
	"github.com/gmofishsauce/armsim/internal/transport"
)

var (
	listenAddr  = flag.String("listen", ":1234", "TCP address to accept GDB connections on")
	serialDev   = flag.String("serial", "", "Serial device to accept one GDB connection on, instead of TCP")
	baudRate    = flag.Int("baud", 115200, "Baud rate for -serial")
	memSize     = flag.Uint("mem", 1<<20, "Simulated memory size in bytes")
	loadFile    = flag.String("load", "", "Raw binary image to load at address 0 before the debugger attaches")
	traceFile   = flag.String("trace", "", "Write a register/memory access trace to file")
	bigEndian   = flag.Bool("big-endian-wire", false, "Encode GDB register/memory values in big-endian wire order")
	monitorFlag = flag.Bool("monitor", false, "Run an interactive diagnostic console on stdin/stdout")
	showVersion = flag.Bool("version", false, "Show version and exit")
)

const version = "1.0.0"

func main() {
	log.SetFlags(0)
	flag.Usage = usage
	flag.Parse()

	if *showVersion {
		fmt.Printf("armsim v%s\n", version)
		os.Exit(0)
	}

	logger := log.New(os.Stderr, "armsim: ", 0)

	mem := arm.NewFlatMemory(uint32(*memSize))
	if *loadFile != "" {
		data, err := os.ReadFile(*loadFile)
		if err != nil {
			log.Fatalf("armsim: reading %s: %v", *loadFile, err)
		}
		mem.Load(data)
	}

	var tracer arm.Tracer
	if *traceFile != "" {
		f, err := os.Create(*traceFile)
		if err != nil {
			log.Fatalf("armsim: creating trace file: %v", err)
		}
		defer f.Close()
		tracer = arm.NewWriterTracer(f)
	}

	core := arm.NewCore(arm.NewBankedRegisters(), mem, tracer)
	target := &gdbstub.Target{
		Core:          core,
		Stepper:       arm.BasicStepper{},
		Mu:            &sync.Mutex{},
		BigEndianWire: *bigEndian,
	}

	if *monitorFlag {
		mon := &transport.Monitor{Core: core, Tracer: core.Tracer, Mu: target.Mu, Out: os.Stdout}
		go func() {
			if err := mon.Run(); err != nil {
				logger.Printf("monitor: %v", err)
			}
		}()
	}

	if *serialDev != "" {
		if err := serveSerial(target, logger); err != nil {
			log.Fatalf("armsim: %v", err)
		}
		return
	}
	if err := serveTCP(target, logger); err != nil {
		log.Fatalf("armsim: %v", err)
	}
}

// serveSerial accepts exactly one GDB connection over a serial line:
// there is no listen/accept step, the line either has a debugger
// attached or it doesn't.
func serveSerial(target *gdbstub.Target, logger *log.Logger) error {
	conn, err := transport.OpenSerial(*serialDev, *baudRate, logger)
	if err != nil {
		return err
	}
	return gdbstub.NewSession(conn, target, logger).Serve()
}

// serveTCP accepts GDB connections until the process is killed,
// spawning one Session per connection. Every Session shares
// target.Mu, so at most one connection's command is ever mid-flight
// against the simulated core.
func serveTCP(target *gdbstub.Target, logger *log.Logger) error {
	ln, err := net.Listen("tcp", *listenAddr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", *listenAddr, err)
	}
	defer ln.Close()
	logger.Printf("listening on %s", ln.Addr())

	for {
		conn, err := ln.Accept()
		if err != nil {
			return err
		}
		logger.Printf("connection from %s", conn.RemoteAddr())
		go func() {
			if err := gdbstub.NewSession(conn, target, logger).Serve(); err != nil {
				logger.Printf("session error: %v", err)
			}
		}()
	}
}

func usage() {
	fmt.Fprintf(os.Stderr, "Usage: armsim [flags]\n\n")
	flag.PrintDefaults()
}
