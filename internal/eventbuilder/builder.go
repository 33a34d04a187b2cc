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

// Package eventbuilder correlates per-module readout data into complete
// events by matching each module's extracted timestamp against a shared
// reference within a configurable window (spec.md §4.I second half).
// Behavior is record-then-flush: Record takes one span per configured
// module per call, try_flush releases whatever events are now complete.
package eventbuilder

import (
	"fmt"
	"sync"

	"github.com/mesytec-mvlc-go/mvlc/internal/readoutdata"
)

// TSExtractor reads a timestamp out of a module's data span. It returns
// false if no timestamp could be extracted (e.g. the span was empty).
type TSExtractor func(readoutdata.ModuleData) (uint32, bool)

// DefaultExtractor reads the last word available across a module's spans
// (suffix, falling back to dynamic, falling back to prefix) and applies
// the 30-bit timestamp bit-filter (spec.md §4.I second half).
func DefaultExtractor(d readoutdata.ModuleData) (uint32, bool) {
	var last uint32
	switch {
	case len(d.Suffix) > 0:
		last = d.Suffix[len(d.Suffix)-1]
	case len(d.Dynamic) > 0:
		last = d.Dynamic[len(d.Dynamic)-1]
	case len(d.Prefix) > 0:
		last = d.Prefix[len(d.Prefix)-1]
	default:
		return 0, false
	}
	return last & (timestampModulus - 1), true
}

// ModuleConfig describes one module's role in an event's correlation.
type ModuleConfig struct {
	TSExtractor TSExtractor
	Offset      int32 // added to the extracted timestamp, mod 2^30
	Window      uint32
	Ignored     bool // contributes data but not a shared reference stamp
	HasDynamic  bool
	PrefixSize  int
}

// EventConfig describes one readout event's module list and the crate
// index event_data callbacks should report.
type EventConfig struct {
	Modules          []ModuleConfig
	OutputCrateIndex int
}

// EventCallback delivers one correlated event's per-module data.
type EventCallback func(crateIndex, eventIndex int, modules []readoutdata.ModuleData)

type moduleQueue struct {
	stamps []uint32
	data   []readoutdata.ModuleData
}

func (q *moduleQueue) push(ts uint32, data readoutdata.ModuleData) {
	q.stamps = append(q.stamps, ts)
	q.data = append(q.data, data)
}

func (q *moduleQueue) popFront() {
	q.stamps = q.stamps[1:]
	q.data = q.data[1:]
}

func (q *moduleQueue) empty() bool { return len(q.stamps) == 0 }

// Builder correlates readout events for one crate-config event index.
// Record and the flush methods are safe for concurrent use; the parser
// calls Record from its own goroutine while a periodic ticker or the
// driver's shutdown path may call Flush/ForceFlush concurrently.
type Builder struct {
	mu         sync.Mutex
	cfg        EventConfig
	eventIndex int
	onEvent    EventCallback

	modules []moduleQueue
	shared  []uint32
}

// NewBuilder constructs a Builder for one event index.
func NewBuilder(eventIndex int, cfg EventConfig, onEvent EventCallback) *Builder {
	return &Builder{
		cfg:        cfg,
		eventIndex: eventIndex,
		onEvent:    onEvent,
		modules:    make([]moduleQueue, len(cfg.Modules)),
	}
}

// Record ingests one module-data set for this event (spec.md §4.I second
// half, Record step). data must have one entry per configured module.
func (b *Builder) Record(data []readoutdata.ModuleData) error {
	if len(data) != len(b.cfg.Modules) {
		return fmt.Errorf("eventbuilder: event %d expects %d modules, got %d", b.eventIndex, len(b.cfg.Modules), len(data))
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	for i, mcfg := range b.cfg.Modules {
		ts, ok := mcfg.TSExtractor(data[i])
		if !ok {
			continue
		}
		ts = wrapAdd(ts, mcfg.Offset)
		b.modules[i].push(ts, data[i].Clone())
		if !mcfg.Ignored {
			b.shared = append(b.shared, ts)
		}
	}
	return nil
}

// TryFlush attempts to release at most one complete event, returning
// whether it did. An event is ready once every contributing module's
// latest recorded stamp classifies too_new against the oldest reference
// stamp — proof that module has moved past the match window and nothing
// still pending could change the outcome (spec.md §4.I second half,
// Flush step).
func (b *Builder) TryFlush() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.tryFlushLocked()
}

func (b *Builder) tryFlushLocked() bool {
	if len(b.shared) == 0 {
		return false
	}
	refTs := b.shared[0]

	// An event is only complete once every contributing module has shown
	// data past the match window: its latest (most recently recorded)
	// stamp must classify too_new against refTs. Anything else (still
	// empty, or merely in_window/too_old) means that module could still
	// deliver a better match later.
	for i, mcfg := range b.cfg.Modules {
		if mcfg.Ignored {
			continue
		}
		q := &b.modules[i]
		if q.empty() {
			return false
		}
		if m, _ := classify(refTs, q.stamps[len(q.stamps)-1], mcfg.Window); m != TooNew {
			return false
		}
	}

	out := make([]readoutdata.ModuleData, len(b.cfg.Modules))
	for i, mcfg := range b.cfg.Modules {
		q := &b.modules[i]
		for !q.empty() {
			m, _ := classify(refTs, q.stamps[0], mcfg.Window)
			switch m {
			case TooOld:
				b.removeFromShared(q.stamps[0])
				q.popFront()
				continue
			case InWindow:
				out[i] = q.data[0]
				b.removeFromShared(q.stamps[0])
				q.popFront()
			case TooNew:
				out[i] = readoutdata.ModuleData{}
			}
			break
		}
	}

	b.onEvent(b.cfg.OutputCrateIndex, b.eventIndex, out)
	return true
}

// removeFromShared deletes one occurrence of ts from the shared stamp
// FIFO, whichever position it's at — the value was just consumed (taken
// or discarded as stale) from its owning module's queue, so its
// reference-providing duty is discharged (spec.md §4.I second half).
func (b *Builder) removeFromShared(ts uint32) {
	for i, v := range b.shared {
		if v == ts {
			b.shared = append(b.shared[:i], b.shared[i+1:]...)
			return
		}
	}
}

// Flush calls TryFlush until no more events can be released, returning
// the number emitted (spec.md: "Flush loops until no more events can be
// released").
func (b *Builder) Flush() int {
	n := 0
	for b.TryFlush() {
		n++
	}
	return n
}

// ForceFlush pops every module's queue in lockstep and emits whatever
// remains, one event at a time regardless of matching, until all queues
// are empty — used on driver shutdown (spec.md §4.I second half).
func (b *Builder) ForceFlush() int {
	b.mu.Lock()
	defer b.mu.Unlock()

	n := 0
	for {
		anyData := false
		out := make([]readoutdata.ModuleData, len(b.cfg.Modules))
		for i := range b.cfg.Modules {
			q := &b.modules[i]
			if q.empty() {
				continue
			}
			anyData = true
			out[i] = q.data[0]
			q.popFront()
		}
		if !anyData {
			break
		}
		b.shared = nil
		b.onEvent(b.cfg.OutputCrateIndex, b.eventIndex, out)
		n++
	}
	return n
}
