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

	"github.com/mesytec-mvlc-go/mvlc/internal/mvlcconst"
)

// fixupUSB walks data frame-by-frame from offset 0 (spec.md §4.G): each
// header's length field tells how many words to skip. If a partial frame
// would extend past the end of data, the bytes belonging to it (header
// included) are returned as carry for the next buffer instead of being
// delivered to the parser. kept is the byte count the caller should keep
// in the buffer; carry is the leftover bytes, freshly copied since data's
// backing array is about to be reused.
func fixupUSB(data []byte) (kept int, carry []byte) {
	i := 0
	for i+4 <= len(data) {
		header := binary.LittleEndian.Uint32(data[i:])
		length, ok := frameLengthWords(header)
		if !ok {
			// Not a recognizable header at a frame boundary: the parser's
			// own resync handles this: hand everything seen so far to it
			// and let it scan forward.
			i += 4
			continue
		}
		frameBytes := (1 + length) * 4
		if i+frameBytes > len(data) {
			break
		}
		i += frameBytes
	}
	return i, append([]byte(nil), data[i:]...)
}

// frameLengthWords returns the number of words following header (not
// counting the header itself) for any frame type the data pipe carries,
// or ok=false if header's top byte isn't a recognized frame type.
func frameLengthWords(header uint32) (length int, ok bool) {
	switch mvlcconst.Type(header) {
	case mvlcconst.FrameStackFrame, mvlcconst.FrameStackContinuation, mvlcconst.FrameStackErrorNotif:
		_, _, l := mvlcconst.StackFrameFields(header)
		return l, true
	case mvlcconst.FrameBlockRead:
		return mvlcconst.BlockReadLength(header), true
	case mvlcconst.FrameSystemEvent:
		_, l := mvlcconst.SystemEventFields(header)
		return l, true
	default:
		return 0, false
	}
}

// ethHeaderWords is the fixed two-word header every ETH data packet
// starts with (spec.md §3/§6).
const ethHeaderWords = 2

// ethNoNextHeaderSentinel marks "no frame header starts in this packet".
const ethNoNextHeaderSentinel = 0xFFF

func ethHeaderFields(word0, word1 uint32) (dataWordCount int, nextHeaderPointer int) {
	dataWordCount = int(word0 & 0x1FFF)
	nextHeaderPointer = int((word1 >> 0) & 0xFFF)
	return
}

// validateETHPacket checks a single ETH data-pipe packet's header pair
// against the bytes actually received (spec.md §4.F: "if dataWordCount*4
// does not equal the reported transfer length, subtract the residue from
// used so the next packet overwrites it"). It returns how many of
// packet's bytes are valid and should be kept.
func validateETHPacket(packet []byte) int {
	if len(packet) < ethHeaderWords*4 {
		return len(packet)
	}
	word0 := binary.LittleEndian.Uint32(packet[0:4])
	word1 := binary.LittleEndian.Uint32(packet[4:8])
	dataWordCount, _ := ethHeaderFields(word0, word1)

	expected := ethHeaderWords*4 + dataWordCount*4
	if expected == len(packet) {
		return len(packet)
	}
	if expected < len(packet) {
		return expected
	}
	// The controller claims more payload than arrived; keep only the
	// header so the next packet's bytes aren't corrupted by a partial
	// frame tail (defensive: spec.md §4.F notes this case shouldn't
	// occur in practice).
	return ethHeaderWords * 4
}
