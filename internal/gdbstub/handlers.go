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
	"bytes"
	"fmt"
	"strconv"
	"strings"

	"github.com/gmofishsauce/armsim/internal/arm"
)

// Signal numbers reported in stop replies. sigBUS covers both DataAbort
// and PrefetchAbort: both are the simulator telling the stub a memory
// access failed, which is what SIGBUS conventionally reports.
const (
	sigILL  = 4
	sigTRAP = 5
	sigBUS  = 10
)

// generalRegisterCount is the number of registers p/P will accept
// (R0-R15). CPSR is readable only through g, matching the original
// simulator's register table, which never gave CPSR its own GDB
// register slot.
const generalRegisterCount = 16

// breakpointMask/breakpointPattern mirror arm.BasicStepper's software
// breakpoint encoding. The stub needs to recognize the same pattern
// independently of the stepper so it can tell a planted breakpoint
// (SIGTRAP) from a genuine undefined instruction (SIGILL) before
// stepping; arm.BasicStepper.Step reports both as UndefinedInstruction.
const (
	breakpointMask    = 0xFFF000F0
	breakpointPattern = 0xE7F000F0
)

func formatErrno(errno int) string {
	return fmt.Sprintf("E%02x", errno)
}

func formatSignal(sig int) string {
	return fmt.Sprintf("S%02x", sig)
}

func parseHex32(s string) (uint32, error) {
	v, err := strconv.ParseUint(strings.TrimSpace(s), 16, 32)
	if err != nil {
		return 0, err
	}
	return uint32(v), nil
}

// handleQueryStopReason answers `?`: report the signal of the most
// recent stop, or SIGTRAP if the target has never run.
func (s *Session) handleQueryStopReason(payload []byte) bool {
	s.reply(formatSignal(int(s.lastSignal)))
	return true
}

// peekIsBreakpoint reports whether the next instruction to be fetched
// is the planted software-breakpoint pattern, without disturbing the
// trace stream.
func (s *Session) peekIsBreakpoint() bool {
	core := s.target.Core
	addr := core.Regs.ReadRegister(15)
	core.Tracer.Disable()
	word, err := core.ReadWord(addr)
	core.Tracer.Enable()
	if err != nil {
		return false
	}
	return word&breakpointMask == breakpointPattern
}

// stepOnce classifies the next instruction as a GDB stop signal. A
// planted software breakpoint stops the target without ever calling
// Step: the instruction at the breakpoint address must not execute,
// and the cycle counter must not advance, until the breakpoint is
// lifted and execution resumed past it.
func (s *Session) stepOnce() int {
	if s.peekIsBreakpoint() {
		return sigTRAP
	}
	core := s.target.Core
	ex, err := s.target.Stepper.Step(core)
	if err != nil {
		return sigBUS
	}
	switch ex {
	case arm.UndefinedInstruction:
		return sigILL
	case arm.DataAbort, arm.PrefetchAbort:
		return sigBUS
	case arm.SoftwareInterrupt:
		return sigTRAP
	default:
		return -1 // no stop: NoException, keep running (continue only)
	}
}

// maxContinueSteps bounds a `c` so a program that never hits a
// breakpoint or trap cannot hang the session forever; GDB sees a
// SIGTRAP stop at the cap, the same as hitting a breakpoint.
const maxContinueSteps = 50_000_000

// handleContinue answers `c` or `c addr`: resume execution until a
// breakpoint, a genuine undefined instruction, a software interrupt,
// or a memory fault stops it.
func (s *Session) handleContinue(payload []byte) bool {
	if len(payload) > 1 {
		if addr, err := parseHex32(string(payload[1:])); err == nil {
			s.target.Core.WriteRegister(15, addr)
		}
	}
	sig := sigTRAP
	for i := 0; i < maxContinueSteps; i++ {
		if got := s.stepOnce(); got >= 0 {
			sig = got
			break
		}
	}
	s.lastSignal = byte(sig)
	s.reply(formatSignal(sig))
	return true
}

// handleStep answers `s` or `s addr`: execute exactly one instruction.
func (s *Session) handleStep(payload []byte) bool {
	if len(payload) > 1 {
		if addr, err := parseHex32(string(payload[1:])); err == nil {
			s.target.Core.WriteRegister(15, addr)
		}
	}
	sig := s.stepOnce()
	if sig < 0 {
		sig = sigTRAP // condition-not-taken or a plain successful step still counts as one stop
	}
	s.lastSignal = byte(sig)
	s.reply(formatSignal(sig))
	return true
}

// handleReadAllRegisters answers `g`: R0-R15 then CPSR, each as an
// 8-hex-digit value in wire byte order. R15 is sent as the raw stored
// program counter, not the instruction-fetch view ReadRegister(15)
// returns: GDB's register cache expects the same value it would see
// after a write, so the +4 read convention does not apply here.
func (s *Session) handleReadAllRegisters(payload []byte) bool {
	var sb strings.Builder
	core := s.target.Core
	for r := 0; r < 15; r++ {
		sb.WriteString(EncodeUint32(core.ReadRegister(r), s.target.BigEndianWire))
	}
	sb.WriteString(EncodeUint32(core.Regs.ReadRegister(15), s.target.BigEndianWire))
	sb.WriteString(EncodeUint32(core.ReadCPSR(), s.target.BigEndianWire))
	s.reply(sb.String())
	return true
}

// handleWriteAllRegisters answers `G`: the inverse of handleReadAllRegisters.
func (s *Session) handleWriteAllRegisters(payload []byte) bool {
	body := string(payload[1:])
	if len(body) < (generalRegisterCount+1)*8 {
		s.replyError(1)
		return true
	}
	core := s.target.Core
	for r := 0; r < 16; r++ {
		v, err := DecodeUint32(body[r*8:], s.target.BigEndianWire)
		if err != nil {
			s.replyError(1)
			return true
		}
		core.WriteRegister(r, v)
	}
	v, err := DecodeUint32(body[16*8:], s.target.BigEndianWire)
	if err != nil {
		s.replyError(1)
		return true
	}
	core.WriteCPSR(v)
	s.reply("OK")
	return true
}

// handleReadRegister answers `p N`. N is hex, 0-15; anything else is
// E01, matching the original simulator's fatal assertion on the same
// condition turned into a recoverable protocol error.
func (s *Session) handleReadRegister(payload []byte) bool {
	n, err := strconv.ParseUint(string(payload[1:]), 16, 32)
	if err != nil || n >= generalRegisterCount {
		s.replyError(1)
		return true
	}
	s.reply(EncodeUint32(s.target.Core.ReadRegister(int(n)), s.target.BigEndianWire))
	return true
}

// handleWriteRegister answers `P N=V`.
func (s *Session) handleWriteRegister(payload []byte) bool {
	body := string(payload[1:])
	parts := strings.SplitN(body, "=", 2)
	if len(parts) != 2 {
		s.replyError(1)
		return true
	}
	n, err := strconv.ParseUint(parts[0], 16, 32)
	if err != nil || n >= generalRegisterCount {
		s.replyError(1)
		return true
	}
	v, err := DecodeUint32(parts[1], s.target.BigEndianWire)
	if err != nil {
		s.replyError(1)
		return true
	}
	s.target.Core.WriteRegister(int(n), v)
	s.reply("OK")
	return true
}

// handleReadMemory answers `m addr,len`: len bytes starting at addr,
// hex-encoded in address order (this is unrelated to the target's
// data endianness, which only affects multi-byte value assembly). A
// byte that falls outside of memory stops the read but does not
// discard what was already read: GDB gets the partial hex string built
// so far, not an error reply. A len whose reply would not fit in one
// MaxPacketSize packet is cut to the number of bytes that fit.
func (s *Session) handleReadMemory(payload []byte) bool {
	addr, length, err := parseAddrLen(string(payload[1:]))
	if err != nil {
		s.replyError(1)
		return true
	}
	if maxLen := uint32(MaxPacketSize-4) / 2; length > maxLen {
		length = maxLen
	}
	var sb strings.Builder
	core := s.target.Core
	for i := uint32(0); i < length; i++ {
		b, err := core.ReadByte(addr + i)
		if err != nil {
			break
		}
		fmt.Fprintf(&sb, "%02x", b)
	}
	s.reply(sb.String())
	return true
}

// handleWriteMemoryBinary answers `X addr,len:data`, where data is the
// raw (non-hex) bytes to store, escaped per the binary-write
// convention.
func (s *Session) handleWriteMemoryBinary(payload []byte) bool {
	idx := bytes.IndexByte(payload, ':')
	if idx < 0 {
		s.replyError(1)
		return true
	}
	addr, length, err := parseAddrLen(string(payload[1:idx]))
	if err != nil {
		s.replyError(1)
		return true
	}
	data := UnescapeBinary(payload[idx+1:])
	if uint32(len(data)) < length {
		s.replyError(1)
		return true
	}
	core := s.target.Core
	for i := uint32(0); i < length; i++ {
		if err := core.WriteByte(addr+i, data[i]); err != nil {
			s.replyError(2)
			return true
		}
	}
	s.reply("OK")
	return true
}

func parseAddrLen(s string) (uint32, uint32, error) {
	parts := strings.SplitN(s, ",", 2)
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("gdbstub: malformed addr,len %q", s)
	}
	addr, err := parseHex32(parts[0])
	if err != nil {
		return 0, 0, err
	}
	length, err := parseHex32(parts[1])
	if err != nil {
		return 0, 0, err
	}
	return addr, length, nil
}

// handleSetThread answers `H op thread-id`: this simulator has exactly
// one thread of execution, so only the "any thread" (0) and "all
// threads" (-1) selectors are meaningful; anything naming a specific
// thread number is a protocol error, since no such thread exists.
func (s *Session) handleSetThread(payload []byte) bool {
	body := string(payload[1:])
	if len(body) < 2 {
		s.replyError(1)
		return true
	}
	id, err := strconv.Atoi(body[1:])
	if err != nil || (id != 0 && id != -1) {
		s.replyError(1)
		return true
	}
	s.reply("OK")
	return true
}

// handleGeneralQuery answers the `q` family the stub chooses to
// recognize. Everything else gets an empty reply, GDB's signal that a
// query is unsupported.
func (s *Session) handleGeneralQuery(payload []byte) bool {
	q := string(payload)
	switch {
	case strings.HasPrefix(q, "qSupported"):
		s.reply(fmt.Sprintf("PacketSize=%x", MaxPacketSize))
	case q == "qOffsets":
		s.reply("Text=0;Data=0;Bss=0")
	case q == "qC":
		s.replyEmpty()
	case q == "qAttached":
		s.reply("1")
	case q == "qTStatus":
		s.reply("T0;tnotrun:0")
	case strings.HasPrefix(q, "qSymbol"):
		s.replyEmpty()
	default:
		s.replyEmpty()
	}
	return true
}

// handleKill answers `k`. The protocol defines no reply for kill; the
// session simply closes.
func (s *Session) handleKill(payload []byte) bool {
	return false
}

// handleVCommand answers the `v` family. vCont is not implemented, so
// vCont? gets an empty reply, telling GDB to fall back to plain c/s.
func (s *Session) handleVCommand(payload []byte) bool {
	s.replyEmpty()
	return true
}

// handleInterrupt answers a bare Ctrl-C byte received outside of an
// in-flight continue. This stub executes `c` to completion before
// reading the next packet, so a client-side interrupt can only arrive
// between commands; report the current stop status rather than
// actually halting anything in progress.
func (s *Session) handleInterrupt(payload []byte) bool {
	s.lastSignal = sigTRAP
	s.reply(formatSignal(sigTRAP))
	return true
}
