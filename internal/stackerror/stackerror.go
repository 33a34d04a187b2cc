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

// Package stackerror collects StackErrorNotification occurrences from the
// command pipe and the readout stream into a single mutex-guarded counter
// table (spec.md §4.I). One Collector is shared between the dialog layer
// and the readout parser, the two consumers that can observe these frames.
package stackerror

import "sync"

// Key identifies one (stack, line, flags) triple a notification frame can
// carry.
type Key struct {
	StackID uint8
	Line    uint8
	Flags   uint8
}

// Collector tallies StackErrorNotification occurrences and unrecognized
// header bytes. All access is serialized by one mutex; readers get a copy
// of the underlying maps so they can inspect counts without holding the
// lock, the same snapshot-on-read shape as the teacher's CallTracker.
type Collector struct {
	mu                   sync.Mutex
	counts               map[Key]uint64
	nonErrorHeaderCounts map[uint8]uint64
}

// NewCollector builds an empty Collector.
func NewCollector() *Collector {
	return &Collector{
		counts:               make(map[Key]uint64),
		nonErrorHeaderCounts: make(map[uint8]uint64),
	}
}

// Record increments the counter for one (stackID, line, flags) triple
// carried by a StackErrorNotification frame's body.
func (c *Collector) Record(stackID, line, flags uint8) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.counts[Key{StackID: stackID, Line: line, Flags: flags}]++
}

// RecordUnknownHeader tallies a header byte a consumer didn't recognize
// while scanning the stream.
func (c *Collector) RecordUnknownHeader(headerByte uint8) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nonErrorHeaderCounts[headerByte]++
}

// Snapshot returns a copy of the current (stack,line,flags) counters.
func (c *Collector) Snapshot() map[Key]uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[Key]uint64, len(c.counts))
	for k, v := range c.counts {
		out[k] = v
	}
	return out
}

// UnknownHeaderSnapshot returns a copy of the current unrecognized-header
// counters.
func (c *Collector) UnknownHeaderSnapshot() map[uint8]uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[uint8]uint64, len(c.nonErrorHeaderCounts))
	for k, v := range c.nonErrorHeaderCounts {
		out[k] = v
	}
	return out
}

// Total returns the sum of all (stack,line,flags) counters, a convenience
// for tests and callers that want a single count.
func (c *Collector) Total() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	var sum uint64
	for _, v := range c.counts {
		sum += v
	}
	return sum
}
