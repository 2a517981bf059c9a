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

// AccessKind distinguishes a read from a write for trace purposes.
type AccessKind int

const (
	TraceRead AccessKind = iota
	TraceWrite
)

func (k AccessKind) String() string {
	if k == TraceWrite {
		return "WRITE"
	}
	return "READ"
}

// MemoryAccessTag distinguishes an instruction fetch from any other
// memory access in a trace record.
type MemoryAccessTag int

const (
	OpcodeFetch MemoryAccessTag = iota
	OtherAccess
)

func (t MemoryAccessTag) String() string {
	if t == OpcodeFetch {
		return "OPCODE_FETCH"
	}
	return "OTHER_ACCESS"
}

// Tracer receives one event per register or memory access the core
// facade performs. Disable/Enable bracket a region whose accesses
// must not be recorded (the GDB continue handler's instruction
// peek-ahead is the one case this repo exercises); calls nest, and
// tracing only resumes once every Disable has a matching Enable.
type Tracer interface {
	TraceRegister(cycle uint32, kind AccessKind, reg int, mode Mode, value uint32)
	TraceMemory(cycle uint32, kind AccessKind, width int, tag MemoryAccessTag, addr uint32, value uint32)
	Disable()
	Enable()
}

// NopTracer discards every event. It is the default Tracer for a Core
// that was not given one explicitly.
type NopTracer struct{}

func (NopTracer) TraceRegister(uint32, AccessKind, int, Mode, uint32)            {}
func (NopTracer) TraceMemory(uint32, AccessKind, int, MemoryAccessTag, uint32, uint32) {}
func (NopTracer) Disable()                                                       {}
func (NopTracer) Enable()                                                        {}

var _ Tracer = NopTracer{}

// WriterTracer formats one line of text per event to an io.Writer.
// Not safe for concurrent use without external synchronization; the
// GDB session mutex (see gdbstub.Session) provides that in practice.
type WriterTracer struct {
	out   io.Writer
	depth int
}

// NewWriterTracer returns a Tracer that writes human-readable trace
// lines to out.
func NewWriterTracer(out io.Writer) *WriterTracer {
	return &WriterTracer{out: out}
}

func (t *WriterTracer) Disable() {
	t.depth++
}

func (t *WriterTracer) Enable() {
	if t.depth > 0 {
		t.depth--
	}
}

func (t *WriterTracer) enabled() bool {
	return t.depth == 0
}

func (t *WriterTracer) TraceRegister(cycle uint32, kind AccessKind, reg int, mode Mode, value uint32) {
	if !t.enabled() {
		return
	}
	name := ModeName(mode)
	if name == "" {
		name = "--"
	}
	fmt.Fprintf(t.out, "%010d %-5s r%-2d %-3s %08x\n", cycle, kind, reg, name, value)
}

func (t *WriterTracer) TraceMemory(cycle uint32, kind AccessKind, width int, tag MemoryAccessTag, addr uint32, value uint32) {
	if !t.enabled() {
		return
	}
	fmt.Fprintf(t.out, "%010d %-5s %-12s w%d %08x -> %08x\n", cycle, kind, tag, width, addr, value)
}

var _ Tracer = (*WriterTracer)(nil)
