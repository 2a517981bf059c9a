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

import "testing"

func newTestCore(memSize uint32) *Core {
	return NewCore(NewBankedRegisters(), NewFlatMemory(memSize), nil)
}

// After RESET, CPSR is 0x1d3, USR R15 is 0, and the cycle counter is 0.
func TestResetState(t *testing.T) {
	c := newTestCore(64)
	if got := c.ReadCPSR(); got != 0x1d3 {
		t.Errorf("ReadCPSR() after reset = 0x%x, want 0x1d3", got)
	}
	if got := c.Regs.ReadUsrRegister(15); got != 0 {
		t.Errorf("raw USR r15 after reset = 0x%x, want 0", got)
	}
	if got := c.GetCycleCount(); got != 0 {
		t.Errorf("GetCycleCount() after reset = %d, want 0", got)
	}
}

// After Fetch, the cycle counter is c+1 and R15 equals the pre-fetch
// stored PC plus 4.
func TestFetchAdvancesPCAndCycles(t *testing.T) {
	c := newTestCore(64)
	preStoredPC := c.Regs.ReadRegister(15)
	preCycles := c.GetCycleCount()

	if _, err := c.Fetch(); err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}

	if got := c.GetCycleCount(); got != preCycles+1 {
		t.Errorf("GetCycleCount() after Fetch = %d, want %d", got, preCycles+1)
	}
	if got := c.Regs.ReadRegister(15); got != preStoredPC+4 {
		t.Errorf("raw r15 after Fetch = 0x%x, want 0x%x", got, preStoredPC+4)
	}
}

// WriteRegister(15, v) then ReadRegister(15) yields (v+4) & 0xFFFFFFFD.
func TestWriteReadR15Convention(t *testing.T) {
	c := newTestCore(64)
	const v = uint32(0x1000)
	c.WriteRegister(15, v)
	want := (v + 4) & 0xFFFFFFFD
	if got := c.ReadRegister(15); got != want {
		t.Errorf("ReadRegister(15) = 0x%x, want 0x%x", got, want)
	}
}

// Bit 1 of a R15 read is always clear, even when the stored value has
// it set.
func TestReadR15ClearsBitOne(t *testing.T) {
	c := newTestCore(64)
	c.WriteRegister(15, 0x2) // +4 => 0x6, bit1 set before masking
	if got := c.ReadRegister(15); got&0x2 != 0 {
		t.Errorf("ReadRegister(15) = 0x%x, bit 1 should be clear", got)
	}
}

// For r != 15, write then read round-trips verbatim.
func TestWriteReadGeneralRegister(t *testing.T) {
	c := newTestCore(64)
	for r := 0; r < 15; r++ {
		v := uint32(0x11223344 + r)
		c.WriteRegister(r, v)
		if got := c.ReadRegister(r); got != v {
			t.Errorf("r%d round-trip = 0x%x, want 0x%x", r, got, v)
		}
	}
}

func TestUsrBankSharedWithSYS(t *testing.T) {
	c := newTestCore(64)
	c.WriteUsrRegister(3, 0xcafef00d)
	c.WriteCPSR((c.ReadCPSR() &^ cpsrModeMask) | uint32(SYS))
	if got := c.ReadRegister(3); got != 0xcafef00d {
		t.Errorf("SYS bank r3 = 0x%x, want shared USR value 0xcafef00d", got)
	}
}

func TestFIQBanking(t *testing.T) {
	c := newTestCore(64)
	c.WriteRegister(8, 0x11111111)
	c.WriteCPSR((c.ReadCPSR() &^ cpsrModeMask) | uint32(FIQ))
	c.WriteRegister(8, 0x22222222)
	if got := c.ReadRegister(8); got != 0x22222222 {
		t.Errorf("FIQ bank r8 = 0x%x, want 0x22222222", got)
	}
	c.WriteCPSR((c.ReadCPSR() &^ cpsrModeMask) | uint32(SVC))
	if got := c.ReadRegister(8); got != 0x11111111 {
		t.Errorf("non-FIQ r8 = 0x%x, want unbanked 0x11111111", got)
	}
}

func TestHasSPSR(t *testing.T) {
	cases := map[Mode]bool{
		USR: false, SYS: false,
		FIQ: true, IRQ: true, SVC: true, ABT: true, UND: true,
	}
	for m, want := range cases {
		if got := HasSPSR(m); got != want {
			t.Errorf("HasSPSR(%s) = %v, want %v", ModeName(m), got, want)
		}
	}
}

func TestSPSRUndefinedInUSRandSYS(t *testing.T) {
	c := newTestCore(64)
	for _, m := range []Mode{USR, SYS} {
		c.WriteCPSR((c.ReadCPSR() &^ cpsrModeMask) | uint32(m))
		if _, err := c.ReadSPSR(); err == nil {
			t.Errorf("ReadSPSR() in %s mode should error", ModeName(m))
		}
	}
}

func TestMemoryWordWriteReadRoundTrip(t *testing.T) {
	c := newTestCore(16)
	if err := c.WriteWord(0, 0x01020304); err != nil {
		t.Fatalf("WriteWord error = %v", err)
	}
	v, err := c.ReadWord(0)
	if err != nil {
		t.Fatalf("ReadWord error = %v", err)
	}
	if v != 0x01020304 {
		t.Errorf("ReadWord() = 0x%x, want 0x01020304", v)
	}
}
