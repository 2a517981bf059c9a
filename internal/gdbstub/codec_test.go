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
	"testing"
)

func TestChecksumAndFrameRoundTrip(t *testing.T) {
	payload := []byte("m1000,4")
	framed := FramePacket(payload)
	got, err := ParsePacket(framed)
	if err != nil {
		t.Fatalf("ParsePacket() error = %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Errorf("ParsePacket() = %q, want %q", got, payload)
	}
}

func TestParsePacketChecksumMismatch(t *testing.T) {
	_, err := ParsePacket([]byte("$abc#00"))
	if err != ErrChecksumMismatch {
		t.Errorf("ParsePacket() error = %v, want ErrChecksumMismatch", err)
	}
}

func TestParsePacketMalformed(t *testing.T) {
	cases := []string{"", "abc", "$abc", "#00"}
	for _, c := range cases {
		if _, err := ParsePacket([]byte(c)); err == nil {
			t.Errorf("ParsePacket(%q) error = nil, want error", c)
		}
	}
}

// Invariant: the g-reply CPSR encoding matches the documented
// little-endian wire convention for a reset CPSR value.
func TestEncodeUint32MatchesResetCPSR(t *testing.T) {
	const resetCPSR = 0x000001d3
	got := EncodeUint32(resetCPSR, false)
	if got != "d3010000" {
		t.Errorf("EncodeUint32(resetCPSR) = %q, want %q", got, "d3010000")
	}
}

func TestEncodeDecodeUint32RoundTrip(t *testing.T) {
	values := []uint32{0, 1, 0xdeadbeef, 0xffffffff, 0x12345678}
	for _, v := range values {
		for _, bigEndian := range []bool{true, false} {
			enc := EncodeUint32(v, bigEndian)
			dec, err := DecodeUint32(enc, bigEndian)
			if err != nil {
				t.Fatalf("DecodeUint32(%q) error = %v", enc, err)
			}
			if dec != v {
				t.Errorf("round trip v=0x%x bigEndian=%v: got 0x%x", v, bigEndian, dec)
			}
		}
	}
}

func TestUnescapeBinary(t *testing.T) {
	// 0x7d 0x5d decodes to one byte: 0x5d ^ 0x20 = 0x7d.
	in := []byte{0x01, 0x7d, 0x5d, 0x02}
	got := UnescapeBinary(in)
	want := []byte{0x01, 0x7d, 0x02}
	if !bytes.Equal(got, want) {
		t.Errorf("UnescapeBinary() = % x, want % x", got, want)
	}
}
