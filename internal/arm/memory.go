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
	"errors"
	"fmt"
)

// ErrOutOfRange is returned by Memory accesses that fall outside the
// backing store.
var ErrOutOfRange = errors.New("arm: address out of range")

// Memory is the flat byte-addressed memory contract the core facade
// drives. bigEndian selects the assembly order for half/word accesses
// and is supplied by the caller on every call, matching CPSR bit 9 on
// the real architecture: the memory object itself has no notion of
// processor mode.
type Memory interface {
	Size() uint32
	ReadByte(addr uint32) (uint8, error)
	WriteByte(addr uint32, v uint8) error
	ReadHalf(addr uint32, bigEndian bool) (uint16, error)
	WriteHalf(addr uint32, v uint16, bigEndian bool) error
	ReadWord(addr uint32, bigEndian bool) (uint32, error)
	WriteWord(addr uint32, v uint32, bigEndian bool) error
}

// FlatMemory is a bounds-checked flat address space backed by a
// single byte slice. It performs no alignment checking: half/word
// accesses simply read/write the requested number of bytes starting
// at addr.
type FlatMemory struct {
	bytes []byte
}

// NewFlatMemory allocates a FlatMemory of the given size in bytes.
func NewFlatMemory(size uint32) *FlatMemory {
	return &FlatMemory{bytes: make([]byte, size)}
}

// Size returns the total byte extent of the backing store.
func (m *FlatMemory) Size() uint32 {
	return uint32(len(m.bytes))
}

// Load copies data into the backing store starting at address 0,
// truncating if data is larger than the store.
func (m *FlatMemory) Load(data []byte) {
	copy(m.bytes, data)
}

func (m *FlatMemory) checkRange(addr uint32, width uint32) error {
	if addr >= m.Size() || uint64(addr)+uint64(width) > uint64(m.Size()) {
		return fmt.Errorf("%w: address 0x%08x width %d", ErrOutOfRange, addr, width)
	}
	return nil
}

// ReadByte reads a single byte at addr.
func (m *FlatMemory) ReadByte(addr uint32) (uint8, error) {
	if err := m.checkRange(addr, 1); err != nil {
		return 0, err
	}
	return m.bytes[addr], nil
}

// WriteByte writes a single byte at addr.
func (m *FlatMemory) WriteByte(addr uint32, v uint8) error {
	if err := m.checkRange(addr, 1); err != nil {
		return err
	}
	m.bytes[addr] = v
	return nil
}

// ReadHalf reads two bytes at addr, assembled per bigEndian.
func (m *FlatMemory) ReadHalf(addr uint32, bigEndian bool) (uint16, error) {
	if err := m.checkRange(addr, 2); err != nil {
		return 0, err
	}
	b0, b1 := m.bytes[addr], m.bytes[addr+1]
	if bigEndian {
		return uint16(b0)<<8 | uint16(b1), nil
	}
	return uint16(b1)<<8 | uint16(b0), nil
}

// WriteHalf writes two bytes at addr, assembled per bigEndian.
func (m *FlatMemory) WriteHalf(addr uint32, v uint16, bigEndian bool) error {
	if err := m.checkRange(addr, 2); err != nil {
		return err
	}
	if bigEndian {
		m.bytes[addr] = byte(v >> 8)
		m.bytes[addr+1] = byte(v)
	} else {
		m.bytes[addr] = byte(v)
		m.bytes[addr+1] = byte(v >> 8)
	}
	return nil
}

// ReadWord reads four bytes at addr, assembled per bigEndian.
func (m *FlatMemory) ReadWord(addr uint32, bigEndian bool) (uint32, error) {
	if err := m.checkRange(addr, 4); err != nil {
		return 0, err
	}
	b := m.bytes[addr : addr+4]
	if bigEndian {
		return uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3]), nil
	}
	return uint32(b[3])<<24 | uint32(b[2])<<16 | uint32(b[1])<<8 | uint32(b[0]), nil
}

// WriteWord writes four bytes at addr, assembled per bigEndian.
func (m *FlatMemory) WriteWord(addr uint32, v uint32, bigEndian bool) error {
	if err := m.checkRange(addr, 4); err != nil {
		return err
	}
	if bigEndian {
		m.bytes[addr] = byte(v >> 24)
		m.bytes[addr+1] = byte(v >> 16)
		m.bytes[addr+2] = byte(v >> 8)
		m.bytes[addr+3] = byte(v)
	} else {
		m.bytes[addr] = byte(v)
		m.bytes[addr+1] = byte(v >> 8)
		m.bytes[addr+2] = byte(v >> 16)
		m.bytes[addr+3] = byte(v >> 24)
	}
	return nil
}

var _ Memory = (*FlatMemory)(nil)
