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

package eventbuilder

// timestampBits is the width of the controller's free-running timestamp
// counter; all arithmetic here is modulo 2^30, with explicit wrap
// handling rather than relying on signed overflow (spec.md §9).
const timestampBits = 30
const timestampModulus = 1 << timestampBits
const timestampHalf = 1 << (timestampBits - 1)

// Match classifies a module timestamp relative to a reference timestamp.
type Match int

const (
	TooOld Match = iota
	InWindow
	TooNew
)

func (m Match) String() string {
	switch m {
	case TooOld:
		return "too_old"
	case InWindow:
		return "in_window"
	case TooNew:
		return "too_new"
	default:
		return "unknown"
	}
}

// wrapAdd adds a signed offset to a 30-bit timestamp with modular wrap.
func wrapAdd(ts uint32, offset int32) uint32 {
	v := (int64(ts) + int64(offset)) % timestampModulus
	if v < 0 {
		v += timestampModulus
	}
	return uint32(v)
}

// wrapDiff computes refTs - moduleTs corrected for wraparound past 2^29,
// so the result always lies in [-2^29, 2^29].
func wrapDiff(refTs, moduleTs uint32) int32 {
	diff := int32(refTs) - int32(moduleTs)
	switch {
	case diff > timestampHalf:
		diff -= timestampModulus
	case diff < -timestampHalf:
		diff += timestampModulus
	}
	return diff
}

// classify matches refTs against moduleTs within window, per spec.md §4.I
// (second): too_old when diff > window/2, too_new when diff < -window/2,
// in_window otherwise. The returned quality is |diff|.
func classify(refTs, moduleTs uint32, window uint32) (Match, uint32) {
	diff := wrapDiff(refTs, moduleTs)
	half := int32(window / 2)
	quality := diff
	if quality < 0 {
		quality = -quality
	}
	switch {
	case diff > half:
		return TooOld, uint32(quality)
	case diff < -half:
		return TooNew, uint32(quality)
	default:
		return InWindow, uint32(quality)
	}
}
