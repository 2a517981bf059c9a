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

package transport

import (
	"fmt"
	"io"
	"os"
	"sync"

	"golang.org/x/term"

	"github.com/gmofishsauce/armsim/internal/arm"
)

// Monitor is a line-oriented diagnostic console that runs alongside
// the GDB listener, sharing the same Core and mutex. It puts stdin
// into raw mode so a Ctrl-C typed at the monitor never reaches the
// shell as a SIGINT: the monitor, not the terminal driver, decides
// what control characters mean while it owns the console.
type Monitor struct {
	Core   *arm.Core
	Tracer arm.Tracer
	Mu     *sync.Mutex
	Out    io.Writer
}

// Run reads commands from stdin until EOF or "quit". Recognized
// commands: "regs" dumps every register bank, "reset" drives RESET,
// "trace on"/"trace off" bracket the shared Tracer.
func (m *Monitor) Run() error {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return fmt.Errorf("transport: monitor requires a terminal on stdin")
	}
	saved, err := term.MakeRaw(fd)
	if err != nil {
		return fmt.Errorf("transport: enable raw mode: %w", err)
	}
	defer term.Restore(fd, saved)

	fmt.Fprint(m.Out, "armsim monitor ready (regs, reset, trace on, trace off, quit)\r\n> ")
	var line []byte
	buf := make([]byte, 1)
	for {
		n, err := os.Stdin.Read(buf)
		if err != nil || n == 0 {
			return nil
		}
		b := buf[0]
		switch {
		case b == '\r' || b == '\n':
			fmt.Fprint(m.Out, "\r\n")
			if !m.runCommand(string(line)) {
				return nil
			}
			line = line[:0]
			fmt.Fprint(m.Out, "> ")
		case b == 0x7f || b == 0x08: // backspace/delete
			if len(line) > 0 {
				line = line[:len(line)-1]
				fmt.Fprint(m.Out, "\b \b")
			}
		case b == 0x04: // Ctrl-D
			return nil
		case b == 0x03: // Ctrl-C: discard the current line, stay in the monitor
			line = line[:0]
			fmt.Fprint(m.Out, "\r\n> ")
		default:
			line = append(line, b)
			fmt.Fprintf(m.Out, "%c", b)
		}
	}
}

// runCommand executes one monitor command and reports whether the
// monitor should keep reading.
func (m *Monitor) runCommand(cmd string) bool {
	m.Mu.Lock()
	defer m.Mu.Unlock()

	switch cmd {
	case "":
		return true
	case "quit":
		return false
	case "regs":
		m.Core.PrintState(m.Out)
	case "reset":
		m.Core.Reset()
		fmt.Fprint(m.Out, "reset\r\n")
	case "trace on":
		m.Tracer.Enable()
		fmt.Fprint(m.Out, "tracing enabled\r\n")
	case "trace off":
		m.Tracer.Disable()
		fmt.Fprint(m.Out, "tracing disabled\r\n")
	default:
		fmt.Fprintf(m.Out, "unrecognized command: %q\r\n", cmd)
	}
	return true
}
