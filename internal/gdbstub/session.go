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

package gdbstub

import (
	"bufio"
	"io"
	"log"
	"sync"

	"github.com/gmofishsauce/armsim/internal/arm"
)

// Target groups the simulator state one Session drives. Every
// connection shares the same Target and the same Mu, so only one
// connection can be mid-command at a time; a second client attaching
// while a `c` is in flight simply blocks until it returns.
type Target struct {
	Core    *arm.Core
	Stepper arm.Stepper
	Mu      *sync.Mutex

	// BigEndianWire selects the byte order used to hex-encode register
	// and memory values on the wire. It is independent of the CPSR E
	// bit, which only controls how the simulated memory bus assembles
	// multi-byte loads and stores.
	BigEndianWire bool
}

// Session drives the GDB Remote Serial Protocol conversation for one
// connection: packet assembly, dispatch, and reply framing. A fresh
// Session is created per accepted connection; the Target underneath it
// is shared.
type Session struct {
	target *Target
	conn   io.ReadWriteCloser
	r      *bufio.Reader
	w      *bufio.Writer
	log    *log.Logger

	lastSignal byte // last stop-reply signal, reported again by `?`
}

// NewSession wraps conn in a Session bound to target. log receives one
// line per malformed packet and protocol-level error; pass a discard
// logger to silence this.
func NewSession(conn io.ReadWriteCloser, target *Target, logger *log.Logger) *Session {
	return &Session{
		target:     target,
		conn:       conn,
		r:          bufio.NewReader(conn),
		w:          bufio.NewWriter(conn),
		log:        logger,
		lastSignal: 0x05,
	}
}

// Serve reads packets from the connection until it closes or a `k`
// (kill) command is received, dispatching each to its handler under
// the shared Target mutex. It never returns an error for a clean
// disconnect (io.EOF).
func (s *Session) Serve() error {
	defer s.conn.Close()
	for {
		payload, err := s.readPacket()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			s.log.Printf("gdbstub: %v", err)
			continue
		}
		if !s.dispatch(payload) {
			return nil
		}
	}
}

// readPacket consumes bytes until it has assembled one complete
// `$payload#cc` packet, replying `+` on a good checksum and `-` on a
// bad one so the client retransmits, per the protocol's ack convention.
// Leading `+`/`-` bytes from a previous exchange are skipped.
func (s *Session) readPacket() ([]byte, error) {
	for {
		b, err := s.r.ReadByte()
		if err != nil {
			return nil, err
		}
		switch b {
		case '+', '-':
			continue
		case '\x03': // Ctrl-C: async interrupt request
			return []byte{ctrlC}, nil
		case '$':
			// fall through to body assembly below
		default:
			continue
		}

		body, err := s.r.ReadBytes('#')
		if err != nil {
			return nil, err
		}
		sum := make([]byte, 2)
		if _, err := io.ReadFull(s.r, sum); err != nil {
			return nil, err
		}
		raw := append([]byte{'$'}, body...)
		raw = append(raw, sum...)
		payload, err := ParsePacket(raw)
		if err != nil {
			s.w.WriteByte('-')
			s.w.Flush()
			return nil, err
		}
		s.w.WriteByte('+')
		s.w.Flush()
		return payload, nil
	}
}

// ctrlC is a synthetic payload byte (not a valid ASCII printable GDB
// command) readPacket emits in place of a real packet when the client
// sends the raw interrupt byte 0x03 instead of a framed packet.
const ctrlC = 0x03

// reply frames payload and writes it to the connection.
func (s *Session) reply(payload string) error {
	_, err := s.w.Write(FramePacket([]byte(payload)))
	if err != nil {
		return err
	}
	return s.w.Flush()
}

// replyEmpty sends an empty packet, GDB's convention for "command not
// supported".
func (s *Session) replyEmpty() error {
	return s.reply("")
}

// replyError sends the two-digit errno-style error reply `Enn`.
func (s *Session) replyError(errno int) error {
	return s.reply(formatErrno(errno))
}
