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

// handlerFunc executes one command payload and returns whether the
// session should keep serving afterward. Only the `k` handler returns
// false.
type handlerFunc func(s *Session, payload []byte) bool

// commandTable is indexed by the first byte of the packet payload,
// mirroring the switch-on-first-byte dispatch the protocol's command
// set is built around. A nil entry means "unrecognized command";
// dispatch replies with an empty packet in that case, the documented
// way to tell GDB a feature is unsupported.
var commandTable [256]handlerFunc

func init() {
	commandTable['?'] = (*Session).handleQueryStopReason
	commandTable['c'] = (*Session).handleContinue
	commandTable['s'] = (*Session).handleStep
	commandTable['g'] = (*Session).handleReadAllRegisters
	commandTable['G'] = (*Session).handleWriteAllRegisters
	commandTable['p'] = (*Session).handleReadRegister
	commandTable['P'] = (*Session).handleWriteRegister
	commandTable['m'] = (*Session).handleReadMemory
	commandTable['X'] = (*Session).handleWriteMemoryBinary
	commandTable['H'] = (*Session).handleSetThread
	commandTable['q'] = (*Session).handleGeneralQuery
	commandTable['k'] = (*Session).handleKill
	commandTable['v'] = (*Session).handleVCommand
	commandTable[ctrlC] = (*Session).handleInterrupt
}

// dispatch runs the handler for payload's first byte under the shared
// Target mutex, serializing this connection's commands against every
// other connection's. It returns false only when the session must
// close (the `k` command).
func (s *Session) dispatch(payload []byte) bool {
	if len(payload) == 0 {
		s.replyEmpty()
		return true
	}
	h := commandTable[payload[0]]
	if h == nil {
		s.replyEmpty()
		return true
	}
	s.target.Mu.Lock()
	defer s.target.Mu.Unlock()
	return h(s, payload)
}
