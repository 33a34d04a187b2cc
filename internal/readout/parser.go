// SPDX-License-Identifier: AGPL-3.0-or-later
// mvlc-go - host driver core for the Mesytec MVLC VME crate controller
// Copyright (C) 2026 mvlc-go contributors
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program. If not, see <https://www.gnu.org/licenses/>.

package readout

import (
	"encoding/binary"
	"sync/atomic"

	"github.com/mesytec-mvlc-go/mvlc/internal/crateconfig"
	"github.com/mesytec-mvlc-go/mvlc/internal/mvlcconst"
	"github.com/mesytec-mvlc-go/mvlc/internal/readoutdata"
	"github.com/mesytec-mvlc-go/mvlc/internal/stackerror"
	"github.com/mesytec-mvlc-go/mvlc/internal/transport"
)

// phase is a readout event's progress through one module's three spans
// (spec.md §4.H state machine).
type phase int

const (
	phasePrefix phase = iota
	phaseDynamicHeader
	phaseDynamicBody
	phaseSuffix
)

// eventState is the persistent per-event-index state the parser's
// machine owns between FeedBuffer calls (spec.md §4.H: "one state
// machine per readout event"). A frame's continuation can arrive in a
// later buffer, so this must survive across Feed calls.
type eventState struct {
	moduleIdx int
	ph        phase
	remaining int
	modules   []readoutdata.ModuleData
	scratch   []uint32
}

func newEventState(n int) *eventState {
	return &eventState{modules: make([]readoutdata.ModuleData, n)}
}

// EventCallback delivers one fully assembled event's per-module data.
type EventCallback func(crateIndex, eventIndex int, modules []readoutdata.ModuleData)

// SystemEventCallback delivers a SystemEvent frame's subtype and payload
// words (not including the header itself).
type SystemEventCallback func(subtype mvlcconst.SystemEventType, payload []uint32)

// Parser owns one ParserState (spec.md §3) for a single run: which
// top-level stack frame is currently open, and the independent
// per-readout-event module progress. It is driven by a single thread
// and delivers callbacks synchronously on that thread (spec.md §5).
type Parser struct {
	cfg        *crateconfig.Config
	structure  [][]crateconfig.ModuleFraming
	errs       *stackerror.Collector
	onEvent    EventCallback
	onSysEvent SystemEventCallback
	crateIndex int

	events map[int]*eventState

	activeEventIdx int
	inFrame        bool
	frameRemaining int

	parserExceptions uint64
	unusedBytes      uint64
}

// NewParser builds a Parser for one crate configuration's readout
// structure, delivering completed events through onEvent and system
// events through onSysEvent.
func NewParser(cfg *crateconfig.Config, errs *stackerror.Collector, crateIndex int, onEvent EventCallback, onSysEvent SystemEventCallback) *Parser {
	p := &Parser{
		cfg:        cfg,
		structure:  cfg.ReadoutStructure(),
		errs:       errs,
		onEvent:    onEvent,
		onSysEvent: onSysEvent,
		crateIndex: crateIndex,
		events:     make(map[int]*eventState),
	}
	return p
}

// ParserExceptions reports how many times the parser had to resynchronize
// after an unexpected word (spec.md §4.H recovery, exported for metrics).
func (p *Parser) ParserExceptions() uint64 { return atomic.LoadUint64(&p.parserExceptions) }

// UnusedBytes reports how many bytes were skipped while resynchronizing.
func (p *Parser) UnusedBytes() uint64 { return atomic.LoadUint64(&p.unusedBytes) }

// FeedBuffer processes one filled buffer from the producer (spec.md
// §4.H). For ETH, packetOffsets gives the byte offset of each packet
// within buf so the parser can consume each packet's two-word header
// before walking its frames; pass nil for USB, where framing fixup
// already guarantees the buffer starts on a frame header.
func (p *Parser) FeedBuffer(kind transport.Kind, data []byte, packetOffsets []int) {
	if kind == transport.KindUSB || len(packetOffsets) == 0 {
		p.feedWords(bytesToWords(data))
		return
	}
	for i, off := range packetOffsets {
		end := len(data)
		if i+1 < len(packetOffsets) {
			end = packetOffsets[i+1]
		}
		packet := data[off:end]
		if len(packet) < 8 {
			continue
		}
		p.feedWords(bytesToWords(packet[8:]))
	}
}

func bytesToWords(data []byte) []uint32 {
	words := make([]uint32, len(data)/4)
	for i := range words {
		words[i] = binary.LittleEndian.Uint32(data[i*4:])
	}
	return words
}

// feedWords drives the top-level frame classification loop (spec.md
// §4.H): while not inside a frame, classify the next header; while
// inside one, hand words to the active event's module state machine.
func (p *Parser) feedWords(words []uint32) {
	for len(words) > 0 {
		if p.inFrame {
			n := p.frameRemaining
			if n > len(words) {
				n = len(words)
			}
			p.advanceEvent(p.activeEventIdx, words[:n])
			words = words[n:]
			p.frameRemaining -= n
			if p.frameRemaining == 0 {
				p.inFrame = false
			}
			continue
		}

		header := words[0]
		switch mvlcconst.Type(header) {
		case mvlcconst.FrameStackFrame, mvlcconst.FrameStackContinuation:
			stack, flags, length := mvlcconst.StackFrameFields(header)
			idx, ok := p.cfg.EventIndexForStackID(stack)
			if !ok {
				p.resync(words, "unrecognized stack id")
				words = words[1:]
				continue
			}
			_ = flags
			p.activeEventIdx = idx
			p.inFrame = true
			p.frameRemaining = length
			words = words[1:]

		case mvlcconst.FrameStackErrorNotif:
			_, flags, length := mvlcconst.StackFrameFields(header)
			if length+1 > len(words) {
				p.resync(words, "truncated StackErrorNotification")
				return
			}
			stack, _, _ := mvlcconst.StackFrameFields(header)
			body := words[1 : 1+length]
			if length == 0 {
				p.errs.Record(uint8(stack), 0, flags)
			} else {
				for _, w := range body {
					p.errs.Record(uint8(stack), uint8(w&0xFF), flags)
				}
			}
			words = words[1+length:]

		case mvlcconst.FrameSystemEvent:
			subtype, length := mvlcconst.SystemEventFields(header)
			if length+1 > len(words) {
				p.resync(words, "truncated SystemEvent")
				return
			}
			if p.onSysEvent != nil {
				p.onSysEvent(subtype, words[1:1+length])
			}
			words = words[1+length:]

		default:
			p.resync(words, "unexpected word where a frame header was expected")
			words = words[1:]
		}
	}
}

// resync records a parser exception and lets the caller skip forward one
// word at a time until a recognizable header reappears (spec.md §4.H
// recovery). The actual scan is driven by the caller's loop continuing
// to call this on each rejected word; unusedBytes accrues one word (4
// bytes) per call.
func (p *Parser) resync(words []uint32, reason string) {
	atomic.AddUint64(&p.parserExceptions, 1)
	atomic.AddUint64(&p.unusedBytes, 4)
	if len(words) > 0 {
		p.errs.RecordUnknownHeader(uint8(words[0] >> 24))
	}
	_ = reason
}

// advanceEvent feeds chunk (words belonging to the currently open frame)
// into eventIdx's module state machine, possibly completing one or more
// modules and, on the last module, firing onEvent.
func (p *Parser) advanceEvent(eventIdx int, chunk []uint32) {
	modules := p.structure[eventIdx]
	st, ok := p.events[eventIdx]
	if !ok {
		st = newEventState(len(modules))
		p.events[eventIdx] = st
	}

	for len(chunk) > 0 && st.moduleIdx < len(modules) {
		mod := modules[st.moduleIdx]
		switch st.ph {
		case phasePrefix:
			if st.remaining == 0 {
				st.remaining = mod.PrefixLen
				st.scratch = st.scratch[:0]
			}
			n := take(&chunk, &st.remaining, &st.scratch)
			if st.remaining == 0 {
				st.modules[st.moduleIdx].Prefix = append([]uint32(nil), st.scratch...)
				st.scratch = st.scratch[:0]
				if mod.HasDynamic {
					st.ph = phaseDynamicHeader
				} else {
					st.ph = phaseSuffix
				}
			}
			_ = n

		case phaseDynamicHeader:
			header := chunk[0]
			chunk = chunk[1:]
			st.remaining = mvlcconst.BlockReadLength(header)
			st.ph = phaseDynamicBody
			st.scratch = st.scratch[:0]
			if st.remaining == 0 {
				st.modules[st.moduleIdx].Dynamic = nil
				st.ph = phaseSuffix
			}

		case phaseDynamicBody:
			take(&chunk, &st.remaining, &st.scratch)
			if st.remaining == 0 {
				st.modules[st.moduleIdx].Dynamic = append([]uint32(nil), st.scratch...)
				st.scratch = st.scratch[:0]
				st.ph = phaseSuffix
			}

		case phaseSuffix:
			if st.remaining == 0 && len(st.scratch) == 0 {
				st.remaining = mod.SuffixLen
			}
			take(&chunk, &st.remaining, &st.scratch)
			if st.remaining == 0 {
				st.modules[st.moduleIdx].Suffix = append([]uint32(nil), st.scratch...)
				st.scratch = st.scratch[:0]
				st.moduleIdx++
				st.ph = phasePrefix
			}
		}
	}

	if st.moduleIdx >= len(modules) {
		if p.onEvent != nil {
			p.onEvent(p.crateIndex, eventIdx, st.modules)
		}
		delete(p.events, eventIdx)
	}
}

// take copies up to *remaining words from the front of *chunk into
// *scratch, decrementing *remaining and advancing *chunk. It returns how
// many words were consumed.
func take(chunk *[]uint32, remaining *int, scratch *[]uint32) int {
	n := *remaining
	if n > len(*chunk) {
		n = len(*chunk)
	}
	*scratch = append(*scratch, (*chunk)[:n]...)
	*chunk = (*chunk)[n:]
	*remaining -= n
	return n
}
