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

// Stepper is the single-step contract the GDB stub's `c` and `s`
// handlers drive: decode and execute exactly one instruction, return
// the exception code it raised (NoException if none), and leave all
// register/memory side effects, including the Core.Fetch cycle
// increment, already applied.
type Stepper interface {
	Step(core *Core) (Exception, error)
}

// breakpointMask/breakpointPattern recognize the architecturally
// undefined instruction GDB plants for software breakpoints, per the
// GDB stub's continue-loop convention. BasicStepper also treats any
// instruction matching this pattern as UndefinedInstruction, so a
// direct single step (`s`) over a breakpoint reports the same
// exception the continue loop would stop for.
const (
	breakpointMask    = 0xFFF000F0
	breakpointPattern = 0xE7F000F0
)

// BasicStepper decodes and executes a pedagogically useful subset of
// ARMv5T: data-processing with an immediate-shift-amount shifter
// operand, word/byte LDR/STR, B/BL, MRS/MSR (flag bits only), and
// SWI. It is not a conformance-complete ARM execution unit; anything
// outside that subset — register-specified shift amounts,
// load/store-multiple, multiply, coprocessor instructions — is
// reported as UndefinedInstruction, the same as genuinely undefined
// encodings.
type BasicStepper struct{}

// Step fetches and executes one instruction.
func (BasicStepper) Step(c *Core) (Exception, error) {
	word, err := c.Fetch()
	if err != nil {
		return DataAbort, err
	}

	if word&breakpointMask == breakpointPattern {
		return UndefinedInstruction, nil
	}

	cond := (word >> 28) & 0xf
	if !conditionHolds(cond, c.ReadCPSR()) {
		return NoException, nil
	}

	switch {
	case word&0x0f000000 == 0x0f000000:
		return SoftwareInterrupt, nil
	case word&0x0e000000 == 0x0a000000:
		return NoException, c.execBranch(word)
	case word&0x0fbf0fff == 0x010f0000:
		return NoException, c.execMRS(word)
	case word&0x0fb0fff0 == 0x0120f000:
		return NoException, c.execMSRRegister(word)
	case word&0x0fb0f000 == 0x0320f000:
		return NoException, c.execMSRImmediate(word)
	case word&0x0c000000 == 0x00000000 && word&0x02000000 == 0 && word&0x00000010 != 0:
		return UndefinedInstruction, nil // multiply or register-specified shift: unsupported
	case word&0x0c000000 == 0x00000000:
		return NoException, c.execDataProcessing(word)
	case word&0x0c000000 == 0x04000000:
		if word&(1<<25) != 0 && (word>>7)&0x1f != 0 {
			return UndefinedInstruction, nil // shifted register offset: unsupported
		}
		if err := c.execSingleDataTransfer(word); err != nil {
			return DataAbort, err
		}
		return NoException, nil
	default:
		return UndefinedInstruction, nil
	}
}

func conditionHolds(cond uint32, cpsr uint32) bool {
	n := cpsr&(1<<31) != 0
	z := cpsr&(1<<30) != 0
	cy := cpsr&(1<<29) != 0
	v := cpsr&(1<<28) != 0
	switch cond {
	case 0x0: // EQ
		return z
	case 0x1: // NE
		return !z
	case 0x2: // CS/HS
		return cy
	case 0x3: // CC/LO
		return !cy
	case 0x4: // MI
		return n
	case 0x5: // PL
		return !n
	case 0x6: // VS
		return v
	case 0x7: // VC
		return !v
	case 0x8: // HI
		return cy && !z
	case 0x9: // LS
		return !cy || z
	case 0xa: // GE
		return n == v
	case 0xb: // LT
		return n != v
	case 0xc: // GT
		return !z && n == v
	case 0xd: // LE
		return z || n != v
	default: // AL, NV (NV treated as always-execute: deprecated encoding space)
		return true
	}
}

func (c *Core) execBranch(word uint32) error {
	link := word&(1<<24) != 0
	imm := word & 0x00ffffff
	if imm&0x00800000 != 0 {
		imm |= 0xff000000 // sign extend 24 bits
	}
	offset := imm << 2
	pc := c.ReadRegister(15) // addr+8
	if link {
		c.WriteRegister(14, pc-4)
	}
	c.WriteRegister(15, pc+offset)
	return nil
}

func (c *Core) execMRS(word uint32) error {
	rd := int((word >> 12) & 0xf)
	useSPSR := word&(1<<22) != 0
	var v uint32
	var err error
	if useSPSR {
		v, err = c.ReadSPSR()
	} else {
		v = c.ReadCPSR()
	}
	if err != nil {
		return err
	}
	c.WriteRegister(rd, v)
	return nil
}

// psrWritableFields restricts MSR to the condition-flag bits (bits
// 31:28), matching the "safety measure to prevent mode changes in
// this basic implementation" convention this core follows; full field
// masking (control/extension/status bytes) is out of scope.
const psrWritableFields = 0xf0000000

func (c *Core) msrApply(word uint32, value uint32) error {
	useSPSR := word&(1<<22) != 0
	var cur uint32
	var err error
	if useSPSR {
		cur, err = c.ReadSPSR()
	} else {
		cur = c.ReadCPSR()
	}
	if err != nil {
		return err
	}
	next := (cur &^ psrWritableFields) | (value & psrWritableFields)
	if useSPSR {
		return c.WriteSPSR(next)
	}
	c.WriteCPSR(next)
	return nil
}

func (c *Core) execMSRRegister(word uint32) error {
	rm := int(word & 0xf)
	return c.msrApply(word, c.ReadRegister(rm))
}

func (c *Core) execMSRImmediate(word uint32) error {
	imm := word & 0xff
	rotate := ((word >> 8) & 0xf) * 2
	value := rotateRight(imm, rotate)
	return c.msrApply(word, value)
}

// shifterOperand evaluates the immediate-shift-amount form of an ARM
// data-processing operand 2, returning the operand value and the
// shifter carry-out used when the instruction updates flags.
func (c *Core) shifterOperand(word uint32) (uint32, bool) {
	if word&(1<<25) != 0 {
		imm := word & 0xff
		rotate := ((word >> 8) & 0xf) * 2
		v := rotateRight(imm, rotate)
		carry := c.ReadCPSR()&(1<<29) != 0
		if rotate != 0 {
			carry = v&(1<<31) != 0
		}
		return v, carry
	}
	rm := c.ReadRegister(int(word & 0xf))
	shiftType := (word >> 5) & 0x3
	amount := (word >> 7) & 0x1f
	switch shiftType {
	case 0: // LSL
		if amount == 0 {
			return rm, c.ReadCPSR()&(1<<29) != 0
		}
		carry := rm&(1<<(32-amount)) != 0
		return rm << amount, carry
	case 1: // LSR
		if amount == 0 {
			amount = 32
		}
		carry := rm&(1<<(amount-1)) != 0
		return rm >> amount, carry
	case 2: // ASR
		if amount == 0 {
			amount = 32
		}
		carry := int32(rm)&(1<<(amount-1)) != 0
		if amount >= 32 {
			if int32(rm) < 0 {
				return 0xffffffff, rm&(1<<31) != 0
			}
			return 0, rm&(1<<31) != 0
		}
		return uint32(int32(rm) >> amount), carry
	default: // ROR
		if amount == 0 {
			amount = 1 // RRX: rotate through carry by one
			carryIn := c.ReadCPSR() & (1 << 29)
			v := (rm >> 1) | (carryIn << 2)
			return v, rm&1 != 0
		}
		v := rotateRight(rm, amount)
		return v, v&(1<<31) != 0
	}
}

func rotateRight(v uint32, amount uint32) uint32 {
	amount %= 32
	if amount == 0 {
		return v
	}
	return (v >> amount) | (v << (32 - amount))
}

func (c *Core) execDataProcessing(word uint32) error {
	opcode := (word >> 21) & 0xf
	setFlags := word&(1<<20) != 0
	rn := int((word >> 16) & 0xf)
	rd := int((word >> 12) & 0xf)
	op2, shiftCarry := c.shifterOperand(word)

	var result uint32
	var writeResult = true
	var carryOut bool
	var overflow bool
	carryIn := c.ReadCPSR()&(1<<29) != 0

	op1 := c.ReadRegister(rn)
	switch opcode {
	case 0x0: // AND
		result, carryOut = op1&op2, shiftCarry
	case 0x1: // EOR
		result, carryOut = op1^op2, shiftCarry
	case 0x2: // SUB
		result, carryOut, overflow = subWithFlags(op1, op2)
	case 0x3: // RSB
		result, carryOut, overflow = subWithFlags(op2, op1)
	case 0x4: // ADD
		result, carryOut, overflow = addWithFlags(op1, op2)
	case 0x5: // ADC
		result, carryOut, overflow = addWithCarry(op1, op2, carryIn)
	case 0x6: // SBC
		result, carryOut, overflow = subWithCarry(op1, op2, carryIn)
	case 0x7: // RSC
		result, carryOut, overflow = subWithCarry(op2, op1, carryIn)
	case 0x8: // TST
		result, carryOut, writeResult = op1&op2, shiftCarry, false
	case 0x9: // TEQ
		result, carryOut, writeResult = op1^op2, shiftCarry, false
	case 0xa: // CMP
		result, carryOut, overflow = subWithFlags(op1, op2)
		writeResult = false
	case 0xb: // CMN
		result, carryOut, overflow = addWithFlags(op1, op2)
		writeResult = false
	case 0xc: // ORR
		result, carryOut = op1|op2, shiftCarry
	case 0xd: // MOV
		result, carryOut = op2, shiftCarry
	case 0xe: // BIC
		result, carryOut = op1&^op2, shiftCarry
	default: // MVN
		result, carryOut = ^op2, shiftCarry
	}

	if writeResult {
		c.WriteRegister(rd, result)
	}
	if setFlags {
		c.updateLogicalFlags(result, carryOut, overflow, opcode)
	}
	return nil
}

// updateLogicalFlags applies NZCV after a data-processing instruction
// with the S bit set. Arithmetic opcodes (SUB/RSB/ADD/ADC/SBC/RSC/CMP/
// CMN) also update V from the carry computation already performed by
// the caller; logical opcodes leave V untouched per the architecture.
func (c *Core) updateLogicalFlags(result uint32, carry bool, overflow bool, opcode uint32) {
	cpsr := c.ReadCPSR()
	cpsr &^= uint32(0xf0000000)
	if result&(1<<31) != 0 {
		cpsr |= 1 << 31
	}
	if result == 0 {
		cpsr |= 1 << 30
	}
	if carry {
		cpsr |= 1 << 29
	}
	switch opcode {
	case 0x2, 0x3, 0x4, 0x5, 0x6, 0x7, 0xa, 0xb: // arithmetic ops define V
		if overflow {
			cpsr |= 1 << 28
		}
	default:
		cpsr |= c.ReadCPSR() & (1 << 28) // logical ops preserve V
	}
	c.WriteCPSR(cpsr)
}

func addWithFlags(a, b uint32) (uint32, bool, bool) {
	sum := uint64(a) + uint64(b)
	result := uint32(sum)
	carry := sum > 0xffffffff
	overflow := (a^result)&(b^result)&0x80000000 != 0
	return result, carry, overflow
}

func addWithCarry(a, b uint32, carryIn bool) (uint32, bool, bool) {
	var c uint64
	if carryIn {
		c = 1
	}
	sum := uint64(a) + uint64(b) + c
	result := uint32(sum)
	carry := sum > 0xffffffff
	overflow := (a^result)&(b^result)&0x80000000 != 0
	return result, carry, overflow
}

func subWithFlags(a, b uint32) (uint32, bool, bool) {
	result := a - b
	carry := a >= b
	overflow := (a^b)&(a^result)&0x80000000 != 0
	return result, carry, overflow
}

func subWithCarry(a, b uint32, carryIn bool) (uint32, bool, bool) {
	borrow := uint32(1)
	if carryIn {
		borrow = 0
	}
	result := a - b - borrow
	carry := uint64(a) >= uint64(b)+uint64(borrow)
	overflow := (a^b)&(a^result)&0x80000000 != 0
	return result, carry, overflow
}

func (c *Core) execSingleDataTransfer(word uint32) error {
	load := word&(1<<20) != 0
	byteAccess := word&(1<<22) != 0
	up := word&(1<<23) != 0
	pre := word&(1<<24) != 0
	writeback := word&(1<<21) != 0
	rn := int((word >> 16) & 0xf)
	rd := int((word >> 12) & 0xf)

	var offset uint32
	if word&(1<<25) != 0 {
		offset = c.ReadRegister(int(word & 0xf))
	} else {
		offset = word & 0xfff
	}

	base := c.ReadRegister(rn)
	addr := base
	if pre {
		if up {
			addr = base + offset
		} else {
			addr = base - offset
		}
	}

	var err error
	if load {
		if byteAccess {
			var v uint8
			v, err = c.ReadByte(addr)
			c.WriteRegister(rd, uint32(v))
		} else {
			var v uint32
			v, err = c.ReadWord(addr)
			c.WriteRegister(rd, v)
		}
	} else {
		if byteAccess {
			err = c.WriteByte(addr, uint8(c.ReadRegister(rd)))
		} else {
			err = c.WriteWord(addr, c.ReadRegister(rd))
		}
	}

	if !pre {
		if up {
			addr = base + offset
		} else {
			addr = base - offset
		}
		c.WriteRegister(rn, addr)
	} else if writeback {
		c.WriteRegister(rn, addr)
	}
	return err
}

var _ Stepper = BasicStepper{}
