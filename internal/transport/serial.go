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

// Package transport holds the serial-line connection a gdbstub.Session
// can talk over (for a hardware debug adapter) and the local diagnostic
// Monitor console. The TCP listener for `target remote host:port` is
// opened in cmd/armsim, not here.
package transport

import (
	"fmt"
	"io"
	"log"

	"go.bug.st/serial"
)

// OpenSerial opens device at baud 8N1, the framing every GDB serial
// adapter this simulator has been pointed at expects. The returned
// serial.Port satisfies io.ReadWriteCloser and can be handed directly
// to gdbstub.NewSession.
func OpenSerial(device string, baud int, logger *log.Logger) (io.ReadWriteCloser, error) {
	mode := &serial.Mode{
		BaudRate: baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
	port, err := serial.Open(device, mode)
	if err != nil {
		return nil, fmt.Errorf("transport: open %s: %w", device, err)
	}
	logger.Printf("serial line %s open at %d baud", device, baud)
	return port, nil
}
