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

package arm

import (
	"fmt"
	"io"
)

// pcReadMask clears bit 1 of a PC read so the result stays
// halfword-aligned, per the ARM manual's PC-read convention.
const pcReadMask = 0xFFFFFFFD

// Core is the trace-instrumented facade the GDB stub and the step
// primitive program against. It owns nothing but the cycle counter;
// register storage, memory, and tracing are supplied collaborators.
type Core struct {
	Regs   Registers
	Mem    Memory
	Tracer Tracer

	cycles uint32
}

// NewCore assembles a Core from its collaborators and immediately
// drives RESET, matching the lifecycle in which the processor state
// is never observed before it has a defined value. tracer may be nil,
// in which case events are discarded.
func NewCore(regs Registers, mem Memory, tracer Tracer) *Core {
	if tracer == nil {
		tracer = NopTracer{}
	}
	c := &Core{Regs: regs, Mem: mem, Tracer: tracer}
	c.Reset()
	return c
}

// Reset drives the processor into the RESET architectural state: CPSR
// becomes 0x1d3 (Supervisor, interrupts disabled, ARM state, E=0),
// USR-view R15 becomes 0, and the cycle counter restarts at zero.
func (c *Core) Reset() {
	c.WriteCPSR(resetCPSR)
	c.WriteUsrRegister(15, 0)
	c.cycles = 0
}

// GetCycleCount returns the number of instruction fetches attempted
// so far.
func (c *Core) GetCycleCount() uint32 {
	return c.cycles
}

// mode returns the processor mode implied by the current CPSR.
func (c *Core) mode() Mode {
	return c.Regs.Mode()
}

// ReadRegister returns Rr as an instruction executing at the current
// PC would see it: for R15 this is storedPC+4 with bit 1 cleared, the
// "address of this instruction plus 8" convention. Every other
// register is returned verbatim.
func (c *Core) ReadRegister(r int) uint32 {
	v := c.Regs.ReadRegister(r)
	if r == 15 {
		v = (v + 4) & pcReadMask
	}
	c.Tracer.TraceRegister(c.cycles, TraceRead, r, c.mode(), v)
	return v
}

// ReadUsrRegister is ReadRegister but always against the USR bank,
// regardless of the current mode.
func (c *Core) ReadUsrRegister(r int) uint32 {
	v := c.Regs.ReadUsrRegister(r)
	if r == 15 {
		v = (v + 4) & pcReadMask
	}
	c.Tracer.TraceRegister(c.cycles, TraceRead, r, USR, v)
	return v
}

// WriteRegister stores v into Rr verbatim, including for R15: writes
// never apply the read-side PC convention.
func (c *Core) WriteRegister(r int, v uint32) {
	c.Regs.WriteRegister(r, v)
	c.Tracer.TraceRegister(c.cycles, TraceWrite, r, c.mode(), v)
}

// WriteUsrRegister is WriteRegister against the USR bank.
func (c *Core) WriteUsrRegister(r int, v uint32) {
	c.Regs.WriteUsrRegister(r, v)
	c.Tracer.TraceRegister(c.cycles, TraceWrite, r, USR, v)
}

// ReadCPSR returns the current program status word.
func (c *Core) ReadCPSR() uint32 {
	v := c.Regs.ReadCPSR()
	c.Tracer.TraceRegister(c.cycles, TraceRead, regCPSR, c.mode(), v)
	return v
}

// WriteCPSR stores the current program status word.
func (c *Core) WriteCPSR(v uint32) {
	c.Regs.WriteCPSR(v)
	c.Tracer.TraceRegister(c.cycles, TraceWrite, regCPSR, c.mode(), v)
}

// ReadSPSR returns the saved program status word for the current
// mode. Calling this in USR or SYS mode is a caller error.
func (c *Core) ReadSPSR() (uint32, error) {
	v, err := c.Regs.ReadSPSR()
	if err != nil {
		return 0, err
	}
	c.Tracer.TraceRegister(c.cycles, TraceRead, regSPSR, c.mode(), v)
	return v, nil
}

// WriteSPSR stores the saved program status word for the current
// mode. Calling this in USR or SYS mode is a caller error.
func (c *Core) WriteSPSR(v uint32) error {
	if err := c.Regs.WriteSPSR(v); err != nil {
		return err
	}
	c.Tracer.TraceRegister(c.cycles, TraceWrite, regSPSR, c.mode(), v)
	return nil
}

// Pseudo register numbers used only for trace tagging; they never
// appear on the GDB wire, which encodes CPSR positionally.
const (
	regCPSR = 16
	regSPSR = 17
)

// Fetch performs the canonical per-instruction step: increment the
// cycle counter, read the word at the stored PC, record an
// OPCODE_FETCH trace event, and advance R15 to the next fetch
// address. The PC advances before the fetched word has been decoded;
// branches implement themselves by writing a new value to R15.
func (c *Core) Fetch() (uint32, error) {
	c.cycles++
	address := c.Regs.ReadRegister(15)
	word, err := c.Mem.ReadWord(address, EBit(c.Regs.ReadCPSR()))
	c.Tracer.TraceMemory(c.cycles, TraceRead, 4, OpcodeFetch, address, word)
	c.Regs.WriteRegister(15, address+4)
	return word, err
}

// ReadByte reads one byte from memory and records an OTHER_ACCESS
// trace event.
func (c *Core) ReadByte(addr uint32) (uint8, error) {
	v, err := c.Mem.ReadByte(addr)
	c.Tracer.TraceMemory(c.cycles, TraceRead, 1, OtherAccess, addr, uint32(v))
	return v, err
}

// WriteByte writes one byte to memory and records an OTHER_ACCESS
// trace event.
func (c *Core) WriteByte(addr uint32, v uint8) error {
	err := c.Mem.WriteByte(addr, v)
	c.Tracer.TraceMemory(c.cycles, TraceWrite, 1, OtherAccess, addr, uint32(v))
	return err
}

// ReadHalf reads a halfword from memory, honoring CPSR bit 9 for
// assembly order, and records an OTHER_ACCESS trace event.
func (c *Core) ReadHalf(addr uint32) (uint16, error) {
	v, err := c.Mem.ReadHalf(addr, EBit(c.Regs.ReadCPSR()))
	c.Tracer.TraceMemory(c.cycles, TraceRead, 2, OtherAccess, addr, uint32(v))
	return v, err
}

// WriteHalf writes a halfword to memory, honoring CPSR bit 9 for
// assembly order, and records an OTHER_ACCESS trace event.
func (c *Core) WriteHalf(addr uint32, v uint16) error {
	err := c.Mem.WriteHalf(addr, v, EBit(c.Regs.ReadCPSR()))
	c.Tracer.TraceMemory(c.cycles, TraceWrite, 2, OtherAccess, addr, uint32(v))
	return err
}

// ReadWord reads a word from memory, honoring CPSR bit 9 for assembly
// order, and records an OTHER_ACCESS trace event.
func (c *Core) ReadWord(addr uint32) (uint32, error) {
	v, err := c.Mem.ReadWord(addr, EBit(c.Regs.ReadCPSR()))
	c.Tracer.TraceMemory(c.cycles, TraceRead, 4, OtherAccess, addr, v)
	return v, err
}

// WriteWord writes a word to memory, honoring CPSR bit 9 for assembly
// order, and records an OTHER_ACCESS trace event.
func (c *Core) WriteWord(addr uint32, v uint32) error {
	err := c.Mem.WriteWord(addr, v, EBit(c.Regs.ReadCPSR()))
	c.Tracer.TraceMemory(c.cycles, TraceWrite, 4, OtherAccess, addr, v)
	return err
}

// PrintState is a diagnostic pretty-printer. It walks every
// recognized mode (printing the mode tag except for SYS), emitting
// R0-R15 for that bank grouped five per line; for USR it also appends
// CPSR. The exact layout matches the original simulator's dump so
// golden-output comparisons stay meaningful across ports.
func (c *Core) PrintState(w io.Writer) {
	for _, m := range []Mode{USR, FIQ, IRQ, SVC, ABT, UND, SYS} {
		if m != SYS {
			fmt.Fprintf(w, "%s:", ModeName(m))
		}
		count := 0
		for r := 0; r < 16; r++ {
			if m == USR {
				if r > 0 && r%5 == 0 {
					fmt.Fprintf(w, "\n    ")
				}
				fmt.Fprintf(w, "   %3s=%08X", registerName(r), c.ReadUsrRegister(r))
				continue
			}
			if count > 0 && count%5 == 0 {
				fmt.Fprintf(w, "\n    ")
			}
			count++
			fmt.Fprintf(w, "   %3s=%08X", registerName(r), c.readRegisterInMode(m, r))
		}
		if m == USR {
			fmt.Fprintf(w, "  CPSR=%08X", c.ReadCPSR())
		}
		switch m {
		case USR, FIQ, SVC, UND:
			fmt.Fprintf(w, "\n")
		case IRQ, ABT:
			fmt.Fprintf(w, "          ")
		}
	}
}

// readRegisterInMode reads Rr as it would read in mode m, without
// disturbing the processor's actual current mode. It is used only by
// PrintState, which must show every bank in one pass.
func (c *Core) readRegisterInMode(m Mode, r int) uint32 {
	saved := c.Regs.ReadCPSR()
	c.Regs.WriteCPSR((saved &^ cpsrModeMask) | uint32(m))
	v := c.ReadRegister(r)
	c.Regs.WriteCPSR(saved)
	return v
}

func registerName(r int) string {
	switch r {
	case 13:
		return "sp"
	case 14:
		return "lr"
	case 15:
		return "pc"
	default:
		return fmt.Sprintf("r%d", r)
	}
}
