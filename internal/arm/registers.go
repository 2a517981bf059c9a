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

import "fmt"

// Registers is the banked register-file contract the core facade
// drives. NewBankedRegisters is the only implementation shipped here;
// the interface exists so a different storage/banking scheme can be
// substituted without touching Core.
type Registers interface {
	ReadRegister(r int) uint32
	WriteRegister(r int, v uint32)
	ReadUsrRegister(r int) uint32
	WriteUsrRegister(r int, v uint32)
	ReadCPSR() uint32
	WriteCPSR(v uint32)
	ReadSPSR() (uint32, error)
	WriteSPSR(v uint32) error
	Mode() Mode
}

// privBank indexes the five privileged-mode-with-SPSR banks, in the
// order FIQ, IRQ, SVC, ABT, UND.
type privBank int

const (
	privFIQ privBank = iota
	privIRQ
	privSVC
	privABT
	privUND
	numPrivBanks
)

func privBankOf(m Mode) (privBank, error) {
	switch m {
	case FIQ:
		return privFIQ, nil
	case IRQ:
		return privIRQ, nil
	case SVC:
		return privSVC, nil
	case ABT:
		return privABT, nil
	case UND:
		return privUND, nil
	default:
		return 0, fmt.Errorf("arm: mode %s has no SPSR", ModeName(m))
	}
}

// BankedRegisters is the default Registers implementation: R0-R15
// plus CPSR, with R8-R14 banked for FIQ, R13-R14 banked for the other
// four privileged modes, and one SPSR slot per privileged mode except
// SYS. USR and SYS share the base bank, matching real ARM save for
// the post-ARMv4T SYS r13/r14 split, which this pedagogical core does
// not model.
type BankedRegisters struct {
	base  [16]uint32         // R0-R15 for USR/SYS, and R0-R7/R15 for every other mode
	fiq   [7]uint32          // R8-R14 banked for FIQ
	banks [numPrivBanks][2]uint32 // R13,R14 banked for IRQ/SVC/ABT/UND (FIQ uses fiq[5:7] instead)
	spsr  [numPrivBanks]uint32
	cpsr  uint32
}

// NewBankedRegisters returns a zeroed register file. Callers normally
// drive RESET (see Core.Reset) immediately afterward.
func NewBankedRegisters() *BankedRegisters {
	return &BankedRegisters{}
}

// Mode returns the mode encoded in the low 5 bits of CPSR.
func (b *BankedRegisters) Mode() Mode {
	return modeOf(b.cpsr)
}

// ReadRegister returns the raw (unconverted) value of Rr in the
// current mode's bank. R15 is never banked.
func (b *BankedRegisters) ReadRegister(r int) uint32 {
	if r == 15 {
		return b.base[15]
	}
	m := b.Mode()
	switch {
	case m == USR || m == SYS:
		return b.base[r]
	case m == FIQ:
		if r >= 8 && r <= 14 {
			return b.fiq[r-8]
		}
		return b.base[r]
	default:
		if r == 13 || r == 14 {
			if idx, err := privBankOf(m); err == nil {
				return b.banks[idx][r-13]
			}
		}
		return b.base[r]
	}
}

// WriteRegister stores v into Rr in the current mode's bank, verbatim.
func (b *BankedRegisters) WriteRegister(r int, v uint32) {
	if r == 15 {
		b.base[15] = v
		return
	}
	m := b.Mode()
	switch {
	case m == USR || m == SYS:
		b.base[r] = v
	case m == FIQ:
		if r >= 8 && r <= 14 {
			b.fiq[r-8] = v
			return
		}
		b.base[r] = v
	default:
		if r == 13 || r == 14 {
			if idx, err := privBankOf(m); err == nil {
				b.banks[idx][r-13] = v
				return
			}
		}
		b.base[r] = v
	}
}

// ReadUsrRegister reads the USR bank regardless of current mode. USR
// and SYS share the base bank, so this is always base[r].
func (b *BankedRegisters) ReadUsrRegister(r int) uint32 {
	return b.base[r]
}

// WriteUsrRegister writes the USR bank regardless of current mode.
func (b *BankedRegisters) WriteUsrRegister(r int, v uint32) {
	b.base[r] = v
}

// ReadCPSR returns the current program status word.
func (b *BankedRegisters) ReadCPSR() uint32 {
	return b.cpsr
}

// WriteCPSR stores the current program status word, including its
// mode field; subsequent register accesses observe the new bank
// immediately.
func (b *BankedRegisters) WriteCPSR(v uint32) {
	b.cpsr = v
}

// ReadSPSR returns the saved program status word for the current
// mode. It is an error to call this in USR or SYS mode.
func (b *BankedRegisters) ReadSPSR() (uint32, error) {
	idx, err := privBankOf(b.Mode())
	if err != nil {
		return 0, err
	}
	return b.spsr[idx], nil
}

// WriteSPSR stores the saved program status word for the current
// mode. It is an error to call this in USR or SYS mode.
func (b *BankedRegisters) WriteSPSR(v uint32) error {
	idx, err := privBankOf(b.Mode())
	if err != nil {
		return err
	}
	b.spsr[idx] = v
	return nil
}

var _ Registers = (*BankedRegisters)(nil)
