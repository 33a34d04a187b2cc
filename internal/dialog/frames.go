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

package dialog

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/mesytec-mvlc-go/mvlc/internal/command"
	"github.com/mesytec-mvlc-go/mvlc/internal/mvlcconst"
	"github.com/mesytec-mvlc-go/mvlc/internal/mvlcerr"
	"github.com/mesytec-mvlc-go/mvlc/internal/stackerror"
	"github.com/mesytec-mvlc-go/mvlc/internal/transport"
	"github.com/mesytec-mvlc-go/mvlc/internal/wire"
)

// readChunkBytes is how much the response reader asks the transport for on
// each Read call while growing its word buffer.
const readChunkBytes = 1024

// responseWait reads frames off the command pipe into a growing word
// buffer until it has collected a SuperFrame mirror whose reference word
// matches expectRef (spec.md §4.D). Any StackErrorNotification frames
// encountered along the way are routed to errs and never end the wait;
// any StackFrame/StackContinuation frames are appended to a stack-output
// buffer and returned alongside the mirror, since an ExecStack response
// places its output on the same pipe as the mirror.
//
// Once the mirror itself is found, the reader keeps draining, and reading
// again, for as long as words of a partial frame are left over or the
// most recently consumed stack frame set the continuation flag; a timeout
// on one of those reads ends the wait with what has been collected. No
// further read is made once the buffer is empty and no continuation is
// pending, so output arriving after that point is not collected. spec.md §9 Open
// Questions flags that the exact interleaving of mirror and stack output
// isn't pinned down by the source, so this is the documented resolution.
func responseWait(ctx context.Context, t transport.Transport, errs *stackerror.Collector, expectRef uint16, timeout time.Duration) (*command.SuperResponse, []uint32, error) {
	var words []uint32
	var pending []byte
	var stackBody []uint32
	var resp *command.SuperResponse

	readMore := func() (int, error) {
		chunk := make([]byte, readChunkBytes)
		n, err := t.Read(transport.PipeCommand, chunk, timeout)
		if n > 0 {
			pending = append(pending, chunk[:n]...)
			nWords := len(pending) / 4
			if nWords > 0 {
				words = append(words, wire.BytesToWords(pending[:nWords*4])...)
				pending = pending[nWords*4:]
			}
		}
		return n, err
	}

	lastContinue := false
	for resp == nil {
		select {
		case <-ctx.Done():
			return nil, nil, ctx.Err()
		default:
		}

		_, err := readMore()
		if err != nil {
			return nil, nil, err
		}

		consumed, r, cont, derr := drainFrames(words, errs, expectRef, &stackBody)
		if derr != nil {
			return nil, nil, derr
		}
		words = words[consumed:]
		if consumed > 0 {
			lastContinue = cont
		}
		if r != nil {
			resp = r
		}
	}

	for {
		consumed, _, cont, derr := drainFrames(words, errs, expectRef, &stackBody)
		if derr != nil {
			return nil, nil, derr
		}
		words = words[consumed:]
		if consumed > 0 {
			lastContinue = cont
		}
		if !lastContinue && len(words) == 0 {
			break
		}

		if _, err := readMore(); err != nil {
			if errors.Is(err, mvlcerr.ErrTimeout) {
				break
			}
			return nil, nil, err
		}
	}

	return resp, stackBody, nil
}

// drainFrames consumes as many complete frames as are available from the
// front of words, routing StackErrorNotification bodies to errs and
// StackFrame/StackContinuation bodies to stackBody. It returns the number
// of words consumed, the decoded mirror response if a SuperFrame whose
// reference matches expectRef was found during this call, and whether the
// last stack frame consumed had its continuation flag set.
func drainFrames(words []uint32, errs *stackerror.Collector, expectRef uint16, stackBody *[]uint32) (consumed int, resp *command.SuperResponse, lastContinue bool, err error) {
	i := 0
	for i < len(words) {
		header := words[i]
		switch mvlcconst.Type(header) {
		case mvlcconst.FrameSuperFrame:
			end, ok := findSuperEnd(words[i:])
			if !ok {
				return i, resp, lastContinue, nil
			}
			r, derr := command.DecodeSuperResponse(words[i : i+end])
			if derr != nil {
				return 0, nil, false, derr
			}
			if !r.HasRef || r.Ref != expectRef {
				return 0, nil, false, fmt.Errorf("%w: got 0x%04x, expected 0x%04x", mvlcerr.ErrRefWordMismatch, r.Ref, expectRef)
			}
			resp = r
			i += end
			lastContinue = false

		case mvlcconst.FrameStackErrorNotif:
			stack, flags, length := mvlcconst.StackFrameFields(header)
			if i+1+length > len(words) {
				return i, resp, lastContinue, nil
			}
			body := words[i+1 : i+1+length]
			if length == 0 {
				errs.Record(uint8(stack), 0, flags)
			} else {
				for _, w := range body {
					errs.Record(uint8(stack), uint8(w&0xFF), flags)
				}
			}
			i += 1 + length
			lastContinue = false

		case mvlcconst.FrameStackFrame, mvlcconst.FrameStackContinuation:
			_, flags, length := mvlcconst.StackFrameFields(header)
			if i+1+length > len(words) {
				return i, resp, lastContinue, nil
			}
			*stackBody = append(*stackBody, words[i+1:i+1+length]...)
			i += 1 + length
			lastContinue = flags&mvlcconst.StackFlagContinue != 0

		default:
			errs.RecordUnknownHeader(uint8(header >> 24))
			i++
		}
	}
	return i, resp, lastContinue, nil
}

// findSuperEnd scans words (which must start with a SuperFrame header) for
// the CmdBufferEnd sentinel, returning the word count of the span
// including the sentinel. It mirrors command.DecodeSuperResponse's own
// scan so the two never disagree about where a response ends.
func findSuperEnd(words []uint32) (int, bool) {
	for i := 1; i < len(words); i++ {
		if words[i] == mvlcconst.SuperCmdBufferEnd {
			return i + 1, true
		}
		switch words[i] & 0xFFFF0000 {
		case mvlcconst.SuperCmdReadLocal, mvlcconst.SuperCmdWriteLocal:
			i++ // skip the result word, as the decoder does
		}
	}
	return 0, false
}
