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

// Exception identifies an ARM exception. Only RESET is acted on by
// this package (see Core.Reset); the others are values the step
// primitive returns and the GDB stub maps to stop replies.
type Exception int

const (
	NoException Exception = iota
	RESET
	UndefinedInstruction
	SoftwareInterrupt
	PrefetchAbort
	DataAbort
	IRQException
	FIQException
)

// cp15EEBit is the CP15 register 1 EE bit, which selects the boot
// endianness on RESET. It is not implemented below ARMv6 and reads
// as zero on this ARMv5T target.
const cp15EEBit = 0

// resetCPSR is the CPSR value the architecture manual specifies for
// RESET entry (manual section A2-18): Supervisor mode, IRQ and FIQ
// disabled, Thumb clear, E set from CP15.
const resetCPSR = 0x1d3 | (cp15EEBit << 9)
