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

package eventbuilder_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mesytec-mvlc-go/mvlc/internal/eventbuilder"
	"github.com/mesytec-mvlc-go/mvlc/internal/readoutdata"
)

// withTS builds a ModuleData whose suffix carries ts, which
// eventbuilder.DefaultExtractor reads back out.
func withTS(ts uint32) readoutdata.ModuleData {
	return readoutdata.ModuleData{Suffix: []uint32{ts}}
}

type recordedEvent struct {
	crateIndex int
	eventIndex int
	modules    []readoutdata.ModuleData
}

func newRecorder() (eventbuilder.EventCallback, *[]recordedEvent) {
	events := new([]recordedEvent)
	return func(crateIndex, eventIndex int, modules []readoutdata.ModuleData) {
		*events = append(*events, recordedEvent{crateIndex, eventIndex, modules})
	}, events
}

// abModuleConfig builds the two-module (A, B) event config used by the
// worked correlation scenario: window 16 on both, B offset by +3.
func abModuleConfig(cb eventbuilder.EventCallback) *eventbuilder.Builder {
	cfg := eventbuilder.EventConfig{
		Modules: []eventbuilder.ModuleConfig{
			{TSExtractor: eventbuilder.DefaultExtractor, Window: 16},
			{TSExtractor: eventbuilder.DefaultExtractor, Window: 16, Offset: 3},
		},
		OutputCrateIndex: 0,
	}
	return eventbuilder.NewBuilder(0, cfg, cb)
}

func TestRecord_RejectsWrongModuleCount(t *testing.T) {
	t.Parallel()
	cb, _ := newRecorder()
	b := abModuleConfig(cb)
	err := b.Record([]readoutdata.ModuleData{withTS(100)})
	require.Error(t, err)
}

func TestTryFlush_FalseUntilEveryModuleHasData(t *testing.T) {
	t.Parallel()
	cb, events := newRecorder()
	b := abModuleConfig(cb)

	require.NoError(t, b.Record([]readoutdata.ModuleData{withTS(100), {}}))
	require.False(t, b.TryFlush())
	require.Empty(t, *events)
}

// TestTryFlush_NotReadyOnMereNonEmptiness is a regression test for the
// event builder flushing as soon as both module queues merely held any
// data, instead of waiting for each module's latest stamp to move past
// the match window. Both queues hold data from the second record on, yet
// nothing releases until B's anomalously advanced stamp (209, adjusted to
// 212) carries both watermarks past the window of the oldest reference
// (A=100). That releases only the A(100)/B(103) pair; A(200) stays queued
// rather than being paired with an empty B span before B's real,
// in-window stamp (203) arrives.
func TestTryFlush_NotReadyOnMereNonEmptiness(t *testing.T) {
	t.Parallel()
	cb, events := newRecorder()
	b := abModuleConfig(cb)

	require.NoError(t, b.Record([]readoutdata.ModuleData{withTS(100), {}})) // A=100
	require.False(t, b.TryFlush())

	require.NoError(t, b.Record([]readoutdata.ModuleData{{}, withTS(103)})) // B=103 (+3=106)
	require.False(t, b.TryFlush())

	require.NoError(t, b.Record([]readoutdata.ModuleData{withTS(200), {}})) // A=200
	require.False(t, b.TryFlush())

	require.NoError(t, b.Record([]readoutdata.ModuleData{{}, withTS(209)})) // B=209 (+3=212), too far
	require.True(t, b.TryFlush(), "A(100)/B(103) is complete once both watermarks pass its window")
	require.False(t, b.TryFlush(), "must not flush A(200) before B's real match at 203 arrives")
	require.Len(t, *events, 1)
}

// TestTryFlush_EmitsMatchedEventOnceWatermarksPass continues the above
// scenario's first pair: once both module watermarks (A=200, B=212) have
// moved past the window relative to the oldest reference (A=100), the
// first event releases with A(100) correctly paired against B(103), not
// an empty span.
func TestTryFlush_EmitsMatchedEventOnceWatermarksPass(t *testing.T) {
	t.Parallel()
	cb, events := newRecorder()
	b := abModuleConfig(cb)

	require.NoError(t, b.Record([]readoutdata.ModuleData{withTS(100), {}}))
	require.NoError(t, b.Record([]readoutdata.ModuleData{{}, withTS(103)}))
	require.NoError(t, b.Record([]readoutdata.ModuleData{withTS(200), {}}))
	require.NoError(t, b.Record([]readoutdata.ModuleData{{}, withTS(209)}))

	require.True(t, b.TryFlush())
	require.Len(t, *events, 1)

	got := (*events)[0]
	require.Equal(t, 0, got.eventIndex)
	require.Equal(t, []uint32{100}, got.modules[0].Suffix)
	require.Equal(t, []uint32{103}, got.modules[1].Suffix)

	// The window hasn't closed on the second event yet: A has only one
	// entry left (200) and hasn't itself produced a stamp past its own
	// window, so a second flush must not fire.
	require.False(t, b.TryFlush())
}

func TestFlush_LoopsUntilNoMoreEventsRelease(t *testing.T) {
	t.Parallel()
	cb, events := newRecorder()
	b := abModuleConfig(cb)

	require.NoError(t, b.Record([]readoutdata.ModuleData{withTS(100), {}}))
	require.NoError(t, b.Record([]readoutdata.ModuleData{{}, withTS(103)}))
	require.NoError(t, b.Record([]readoutdata.ModuleData{withTS(200), {}}))
	require.NoError(t, b.Record([]readoutdata.ModuleData{{}, withTS(209)}))

	n := b.Flush()
	require.Equal(t, 1, n)
	require.Len(t, *events, 1)
}

// TestForceFlush_DrainsRemainderAtShutdown exercises the driver-shutdown
// drain path: whatever each module's queue still holds is paired off
// lockstep, regardless of window matching, until both queues are empty.
func TestForceFlush_DrainsRemainderAtShutdown(t *testing.T) {
	t.Parallel()
	cb, events := newRecorder()
	b := abModuleConfig(cb)

	require.NoError(t, b.Record([]readoutdata.ModuleData{withTS(100), {}}))
	require.NoError(t, b.Record([]readoutdata.ModuleData{{}, withTS(103)}))
	require.NoError(t, b.Record([]readoutdata.ModuleData{withTS(200), {}}))
	require.NoError(t, b.Record([]readoutdata.ModuleData{{}, withTS(209)}))
	require.True(t, b.Flush() > 0)

	require.NoError(t, b.Record([]readoutdata.ModuleData{{}, withTS(203)}))

	n := b.ForceFlush()
	require.Equal(t, 2, n)
	require.Len(t, *events, 3)

	require.Equal(t, []uint32{200}, (*events)[1].modules[0].Suffix)
	require.Equal(t, []uint32{209}, (*events)[1].modules[1].Suffix)
	require.Empty(t, (*events)[2].modules[0].Suffix)
	require.Equal(t, []uint32{203}, (*events)[2].modules[1].Suffix)
}

func TestTryFlush_IgnoredModuleContributesDataNotReference(t *testing.T) {
	t.Parallel()
	cb, events := newRecorder()
	cfg := eventbuilder.EventConfig{
		Modules: []eventbuilder.ModuleConfig{
			{TSExtractor: eventbuilder.DefaultExtractor, Window: 16},
			{TSExtractor: eventbuilder.DefaultExtractor, Window: 16, Ignored: true},
		},
	}
	b := eventbuilder.NewBuilder(1, cfg, cb)

	require.NoError(t, b.Record([]readoutdata.ModuleData{withTS(100), withTS(100)}))
	// Only module 0 feeds the shared reference FIFO; with a single A
	// entry and no later watermark, nothing is ready yet.
	require.False(t, b.TryFlush())

	require.NoError(t, b.Record([]readoutdata.ModuleData{withTS(200), withTS(200)}))
	require.True(t, b.TryFlush())
	require.Len(t, *events, 1)
	require.Equal(t, []uint32{100}, (*events)[0].modules[0].Suffix)
	require.Equal(t, []uint32{100}, (*events)[0].modules[1].Suffix)
}
