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

package command

import (
	"fmt"

	"github.com/mesytec-mvlc-go/mvlc/internal/mvlcconst"
	"github.com/mesytec-mvlc-go/mvlc/internal/mvlcerr"
)

// SuperCommandKind tags a command-pipe "super command" variant.
type SuperCommandKind int

const (
	SuperReferenceWord SuperCommandKind = iota
	SuperReadLocal
	SuperWriteLocal
	SuperWriteReset
	SuperEthDelay
	SuperStackUpload
	SuperExecStack
)

// Pipe identifies which logical pipe a stack's output should target.
type Pipe int

const (
	PipeCommand Pipe = iota
	PipeData
)

// SuperCommand is one entry in a super-command buffer.
type SuperCommand struct {
	Kind SuperCommandKind

	Ref          uint16
	Address      uint16
	Value        uint32
	Delay        uint16
	Stack        *StackCommandBuilder
	StackOutput  Pipe
	StackOffset  uint16
}

// SuperCommandBuilder accumulates SuperCommand values in insertion order,
// mirroring the source's Vec<Variant> builders (spec.md §9).
type SuperCommandBuilder struct {
	Commands []SuperCommand
}

func NewSuperCommandBuilder() *SuperCommandBuilder {
	return &SuperCommandBuilder{}
}

func (b *SuperCommandBuilder) ReferenceWord(ref uint16) *SuperCommandBuilder {
	b.Commands = append(b.Commands, SuperCommand{Kind: SuperReferenceWord, Ref: ref})
	return b
}

func (b *SuperCommandBuilder) ReadLocal(addr uint16) *SuperCommandBuilder {
	b.Commands = append(b.Commands, SuperCommand{Kind: SuperReadLocal, Address: addr})
	return b
}

func (b *SuperCommandBuilder) WriteLocal(addr uint16, value uint32) *SuperCommandBuilder {
	b.Commands = append(b.Commands, SuperCommand{Kind: SuperWriteLocal, Address: addr, Value: value})
	return b
}

func (b *SuperCommandBuilder) WriteReset() *SuperCommandBuilder {
	b.Commands = append(b.Commands, SuperCommand{Kind: SuperWriteReset})
	return b
}

func (b *SuperCommandBuilder) EthDelay(delay uint16) *SuperCommandBuilder {
	b.Commands = append(b.Commands, SuperCommand{Kind: SuperEthDelay, Delay: delay})
	return b
}

// StackUpload appends a command that writes stack's encoded words into
// stack memory starting at StackMemoryBegin+offset, one WriteLocal per
// word (spec.md §4.C). output is kept in the command's StackOutput field;
// Encode does not write it into the uploaded words.
func (b *SuperCommandBuilder) StackUpload(stack *StackCommandBuilder, output Pipe, offset uint16) *SuperCommandBuilder {
	b.Commands = append(b.Commands, SuperCommand{Kind: SuperStackUpload, Stack: stack, StackOutput: output, StackOffset: offset})
	return b
}

// ExecStack appends a command that arms the controller to immediately
// execute the stack previously written at offset. The encoded command
// carries only the offset, no output pipe (spec.md §4.C/§4.D:
// "writes the offset and trigger registers, and triggers immediate
// execution").
func (b *SuperCommandBuilder) ExecStack(offset uint16) *SuperCommandBuilder {
	b.Commands = append(b.Commands, SuperCommand{Kind: SuperExecStack, StackOffset: offset})
	return b
}

// Encode renders the builder into a CmdBufferStart/CmdBufferEnd-framed
// word sequence (spec.md §6).
func (b *SuperCommandBuilder) Encode() ([]uint32, error) {
	var body []uint32
	for _, c := range b.Commands {
		switch c.Kind {
		case SuperReferenceWord:
			body = append(body, mvlcconst.SuperCmdReferenceWord|uint32(c.Ref))
		case SuperReadLocal:
			body = append(body, mvlcconst.SuperCmdReadLocal|uint32(c.Address))
		case SuperWriteLocal:
			body = append(body, mvlcconst.SuperCmdWriteLocal|uint32(c.Address), c.Value)
		case SuperWriteReset:
			body = append(body, mvlcconst.SuperCmdWriteReset)
		case SuperEthDelay:
			body = append(body, mvlcconst.SuperCmdEthDelay|uint32(c.Delay))
		case SuperStackUpload:
			stackWords := WrapStackStartEnd(c.Stack.Encode())
			base := uint32(mvlcconst.StackMemoryBegin) + uint32(c.StackOffset)
			for i, w := range stackWords {
				addr := base + uint32(i)
				if addr > 0xFFFF {
					return nil, fmt.Errorf("%w: stack upload address 0x%x exceeds 16-bit register space", mvlcerr.ErrStackMemoryOverflow, addr)
				}
				body = append(body, mvlcconst.SuperCmdWriteLocal|addr, w)
			}
		case SuperExecStack:
			body = append(body, mvlcconst.SuperCmdStackStart|uint32(c.StackOffset))
		default:
			return nil, fmt.Errorf("%w: unknown super command kind %d", mvlcerr.ErrSuperFormatError, c.Kind)
		}
	}

	if len(body) > mvlcconst.MirrorTransactionMaxContentsWords {
		return nil, fmt.Errorf("%w: super buffer of %d words exceeds %d word limit",
			mvlcerr.ErrStackMemoryOverflow, len(body), mvlcconst.MirrorTransactionMaxContentsWords)
	}

	out := make([]uint32, 0, len(body)+2)
	out = append(out, mvlcconst.MakeSuperFrameHeader(len(body)+1))
	out = append(out, body...)
	out = append(out, mvlcconst.SuperCmdBufferEnd)
	return out, nil
}

// ReferenceWordOf returns the reference word the builder carries, if any,
// so a dialog can remember what it is waiting for.
func (b *SuperCommandBuilder) ReferenceWordOf() (uint16, bool) {
	for _, c := range b.Commands {
		if c.Kind == SuperReferenceWord {
			return c.Ref, true
		}
	}
	return 0, false
}

// SuperResponse is the decoded result of a mirror response: the word-for-
// word command echo plus any result words that followed read-style
// commands, per spec.md invariant 5.
type SuperResponse struct {
	Ref     uint16
	HasRef  bool
	Results []uint32 // the word following each ReadLocal/WriteLocal echoed, in order; WriteReset and EthDelay add none
}

// DecodeSuperResponse parses a mirrored super-buffer response: it must
// start with a SuperFrame header, echo the sent commands (with a result
// word trailing each read-style command), and end with CmdBufferEnd
// (spec.md invariant 4; Testable Property 2).
//
// The header's declared length is recorded but not used to bound the
// scan: spec.md §9 Open Questions flags that the interaction between
// CmdBufferEnd and the declared length is under-specified by the source,
// and that an implementation should preserve any observed length rather
// than canonicalize against it. So the decoder instead scans forward,
// command by command, until it hits the literal CmdBufferEnd sentinel
// word (0xF2000000) — the one shape every response is guaranteed to have
// regardless of what its header's length field says.
func DecodeSuperResponse(words []uint32) (*SuperResponse, error) {
	if len(words) < 2 {
		return nil, fmt.Errorf("%w: response too short", mvlcerr.ErrSuperFormatError)
	}
	if mvlcconst.Type(words[0]) != mvlcconst.FrameSuperFrame {
		return nil, fmt.Errorf("%w: expected SuperFrame header, got 0x%08x", mvlcerr.ErrInvalidFrameHeader, words[0])
	}

	resp := &SuperResponse{}
	i := 1
	for i < len(words) {
		w := words[i]
		if w == mvlcconst.SuperCmdBufferEnd {
			return resp, nil
		}
		switch {
		case w&0xFFFF0000 == mvlcconst.SuperCmdReferenceWord:
			resp.Ref = uint16(w & 0xFFFF)
			resp.HasRef = true
			i++
		case w&0xFFFF0000 == mvlcconst.SuperCmdReadLocal:
			if i+1 >= len(words) {
				return nil, fmt.Errorf("%w: ReadLocal missing result word", mvlcerr.ErrSuperFormatError)
			}
			resp.Results = append(resp.Results, words[i+1])
			i += 2
		case w&0xFFFF0000 == mvlcconst.SuperCmdWriteLocal:
			if i+1 >= len(words) {
				return nil, fmt.Errorf("%w: WriteLocal missing echo word", mvlcerr.ErrSuperFormatError)
			}
			resp.Results = append(resp.Results, words[i+1])
			i += 2
		case w == mvlcconst.SuperCmdWriteReset:
			i++
		case w&0xFFFF0000 == mvlcconst.SuperCmdEthDelay:
			i++
		default:
			i++
		}
	}

	return nil, fmt.Errorf("%w: response not terminated by CmdBufferEnd", mvlcerr.ErrSuperFormatError)
}
