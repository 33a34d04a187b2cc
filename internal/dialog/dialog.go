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

// Package dialog implements the single-threaded, lock-serialized
// request/response layer over the MVLC command pipe (spec.md §4.D):
// register access, VME single- and block-cycle operations, stack
// upload/execution, and the stack-setup calls the driver issues before
// arming a run.
package dialog

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mesytec-mvlc-go/mvlc/internal/command"
	"github.com/mesytec-mvlc-go/mvlc/internal/mvlcconst"
	"github.com/mesytec-mvlc-go/mvlc/internal/mvlcerr"
	"github.com/mesytec-mvlc-go/mvlc/internal/stackerror"
	"github.com/mesytec-mvlc-go/mvlc/internal/transport"
	"github.com/mesytec-mvlc-go/mvlc/internal/wire"
)

// DefaultReadTimeout bounds a single response-wait Read call. A Read that
// times out before the mirror response has been assembled ends the
// transact call with that timeout error; it is not retried.
const DefaultReadTimeout = 500 * time.Millisecond

// ImmediateStackOffset is the stack-memory offset reserved for one-shot
// dialog operations (vme_read/vme_write/vme_block_read/stack_transaction),
// distinct from the readout stacks uploaded at stack ids 1..7.
const ImmediateStackOffset = 0

// Dialog is the synchronous, lock-serialized command-pipe client. Each
// command transaction holds the same mutex for its whole request/response
// exchange, mirroring spec.md's "single-threaded synchronous
// request/response" requirement; methods built from several transactions
// (ReadStackInfo, for instance) take it once per transaction.
type Dialog struct {
	t    transport.Transport
	errs *stackerror.Collector

	mu          sync.Mutex
	refCounter  uint32
	readTimeout time.Duration

	sticky atomic.Pointer[error]
}

// New builds a Dialog over t, recording stack-error notifications it
// drains while waiting for responses into errs.
func New(t transport.Transport, errs *stackerror.Collector) *Dialog {
	return &Dialog{t: t, errs: errs, readTimeout: DefaultReadTimeout}
}

// SetReadTimeout overrides the per-Read timeout used while assembling a
// response.
func (d *Dialog) SetReadTimeout(timeout time.Duration) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.readTimeout = timeout
}

func (d *Dialog) nextRef() uint16 {
	return uint16(atomic.AddUint32(&d.refCounter, 1) & 0xFFFF)
}

// checkSticky returns the sticky ConnectionError, if one has latched, per
// spec.md §7: "ConnectionError is sticky: every subsequent call returns it
// until reconnect."
func (d *Dialog) checkSticky() error {
	if p := d.sticky.Load(); p != nil {
		return *p
	}
	return nil
}

func (d *Dialog) latchIfConnectionError(err error) {
	if err != nil && errors.Is(err, mvlcerr.ErrConnectionError) {
		d.sticky.Store(&err)
	}
}

// ClearSticky drops the latched ConnectionError after a successful
// reconnect.
func (d *Dialog) ClearSticky() {
	d.sticky.Store(nil)
}

// transact writes one super-command buffer carrying a fresh reference
// word and waits for its mirrored response, draining any interleaved
// StackErrorNotification and StackFrame frames per spec.md §4.D. build is
// called with the reference word to insert as the buffer's leading
// command.
func (d *Dialog) transact(ctx context.Context, build func(ref uint16) *command.SuperCommandBuilder) (*command.SuperResponse, []uint32, error) {
	if err := d.checkSticky(); err != nil {
		return nil, nil, err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	ref := d.nextRef()
	sb := build(ref)
	words, err := sb.Encode()
	if err != nil {
		return nil, nil, err
	}

	if _, err := d.t.Write(transport.PipeCommand, wire.WordsToBytes(words)); err != nil {
		d.latchIfConnectionError(err)
		return nil, nil, err
	}

	resp, stackBody, err := responseWait(ctx, d.t, d.errs, ref, d.readTimeout)
	if err != nil {
		d.latchIfConnectionError(err)
		return nil, nil, err
	}
	return resp, stackBody, nil
}

// ReadRegister reads one controller register via the ReadLocal super
// command (spec.md §3, §4.D).
func (d *Dialog) ReadRegister(ctx context.Context, addr uint16) (uint32, error) {
	resp, _, err := d.transact(ctx, func(ref uint16) *command.SuperCommandBuilder {
		return command.NewSuperCommandBuilder().ReferenceWord(ref).ReadLocal(addr)
	})
	if err != nil {
		return 0, err
	}
	if len(resp.Results) != 1 {
		return 0, fmt.Errorf("%w: expected 1 result word for ReadLocal, got %d", mvlcerr.ErrSuperFormatError, len(resp.Results))
	}
	return resp.Results[0], nil
}

// WriteRegister writes one controller register via the WriteLocal super
// command.
func (d *Dialog) WriteRegister(ctx context.Context, addr uint16, value uint32) error {
	_, _, err := d.transact(ctx, func(ref uint16) *command.SuperCommandBuilder {
		return command.NewSuperCommandBuilder().ReferenceWord(ref).WriteLocal(addr, value)
	})
	return err
}

// runImmediateStack uploads stack to the reserved immediate-execution
// offset, triggers it, and returns whatever body words its StackFrame
// output carried on the command pipe (spec.md §4.C/§4.D).
func (d *Dialog) runImmediateStack(ctx context.Context, stack *command.StackCommandBuilder) ([]uint32, error) {
	if stack.EncodedSize()+2 > mvlcconst.ImmediateStackReservedWords {
		return nil, fmt.Errorf("%w: immediate stack of %d words exceeds the %d word reserve",
			mvlcerr.ErrStackMemoryOverflow, stack.EncodedSize()+2, mvlcconst.ImmediateStackReservedWords)
	}
	_, stackBody, err := d.transact(ctx, func(ref uint16) *command.SuperCommandBuilder {
		return command.NewSuperCommandBuilder().
			ReferenceWord(ref).
			StackUpload(stack, command.PipeCommand, ImmediateStackOffset).
			ExecStack(ImmediateStackOffset)
	})
	if err != nil {
		return nil, err
	}
	return stackBody, nil
}

// VMERead performs a single D16/D32 VME read as a one-shot immediate
// stack (spec.md §4.D, Scenario S2).
func (d *Dialog) VMERead(ctx context.Context, addr uint32, amod byte, width mvlcconst.VMEDataWidth) (uint32, error) {
	stack := command.NewStackCommandBuilder().VMERead(addr, amod, width)
	body, err := d.runImmediateStack(ctx, stack)
	if err != nil {
		return 0, err
	}
	if len(body) != 1 {
		return 0, fmt.Errorf("%w: expected 1 result word from VMERead stack, got %d", mvlcerr.ErrSuperFormatError, len(body))
	}
	return body[0], nil
}

// VMEWrite performs a single D16/D32 VME write as a one-shot immediate
// stack.
func (d *Dialog) VMEWrite(ctx context.Context, addr, value uint32, amod byte, width mvlcconst.VMEDataWidth) error {
	stack := command.NewStackCommandBuilder().VMEWrite(addr, value, amod, width)
	_, err := d.runImmediateStack(ctx, stack)
	return err
}

// parseBlockReadBody unwraps the embedded BlockRead 0xF5 sub-frame a
// VMEBlockRead/MBLT stack's output carries (spec.md §3, §4.D: "The
// returned StackFrame body consists of a BlockRead 0xF5 sub-frame whose
// body carries the payload words").
func parseBlockReadBody(body []uint32) ([]uint32, error) {
	if len(body) == 0 {
		return nil, nil
	}
	if mvlcconst.Type(body[0]) != mvlcconst.FrameBlockRead {
		return nil, fmt.Errorf("%w: expected embedded BlockRead frame, got 0x%08x", mvlcerr.ErrInvalidFrameHeader, body[0])
	}
	length := mvlcconst.BlockReadLength(body[0])
	if 1+length > len(body) {
		return nil, fmt.Errorf("%w: BlockRead declares %d words but only %d available", mvlcerr.ErrLengthMismatch, length, len(body)-1)
	}
	out := make([]uint32, length)
	copy(out, body[1:1+length])
	return out, nil
}

// VMEBlockRead performs a BLT block read (BlockReadModeBLT) of up to
// maxTransfers cycles as a one-shot immediate stack.
func (d *Dialog) VMEBlockRead(ctx context.Context, addr uint32, amod byte, maxTransfers uint16) ([]uint32, error) {
	stack := command.NewStackCommandBuilder().VMEBlockRead(addr, amod, maxTransfers, mvlcconst.BlockReadModeBLT)
	body, err := d.runImmediateStack(ctx, stack)
	if err != nil {
		return nil, err
	}
	return parseBlockReadBody(body)
}

// VMEMBLTSwapped performs an MBLT block read and swaps the two 32-bit
// halves within each 64-bit MBLT word of the result (spec.md §4.D: "MBLT
// swapped returns the payload with 32-bit halves swapped within each
// 64-bit MBLT word").
func (d *Dialog) VMEMBLTSwapped(ctx context.Context, addr uint32, maxTransfers uint16) ([]uint32, error) {
	stack := command.NewStackCommandBuilder().VMEBlockRead(addr, mvlcconst.AMA32UserMBLT, maxTransfers, mvlcconst.BlockReadModeMBLTSwap)
	body, err := d.runImmediateStack(ctx, stack)
	if err != nil {
		return nil, err
	}
	payload, err := parseBlockReadBody(body)
	if err != nil {
		return nil, err
	}
	for i := 0; i+1 < len(payload); i += 2 {
		payload[i], payload[i+1] = payload[i+1], payload[i]
	}
	return payload, nil
}

// StackTransaction runs an arbitrary caller-supplied stack as a one-shot
// immediate execution and returns its raw output words, the escape hatch
// behind the convenience VME* methods and the scan-bus helper.
func (d *Dialog) StackTransaction(ctx context.Context, stack *command.StackCommandBuilder) ([]uint32, error) {
	return d.runImmediateStack(ctx, stack)
}

// StackInfo reports a readout stack's configured memory offset and
// trigger register value (spec.md §4.D read_stack_info).
type StackInfo struct {
	StackID      int
	Offset       uint16
	TriggerValue uint32
}

// ReadStackInfo reads back the offset and trigger registers for stackID
// (0..7).
func (d *Dialog) ReadStackInfo(ctx context.Context, stackID int) (StackInfo, error) {
	if stackID < 0 || stackID > 7 {
		return StackInfo{}, fmt.Errorf("%w: stack id %d", mvlcerr.ErrInvalidStackID, stackID)
	}
	offset, err := d.ReadRegister(ctx, mvlcconst.StackOffsetRegister(stackID))
	if err != nil {
		return StackInfo{}, err
	}
	trig, err := d.ReadRegister(ctx, mvlcconst.StackTriggerRegister(stackID))
	if err != nil {
		return StackInfo{}, err
	}
	return StackInfo{StackID: stackID, Offset: uint16(offset), TriggerValue: trig}, nil
}

// UploadStack writes stack into stack memory at the reserved region for
// stackID and records its offset in that stack's offset register, without
// touching the trigger register (spec.md §4.C/§4.K).
func (d *Dialog) UploadStack(ctx context.Context, stackID int, stack *command.StackCommandBuilder) error {
	if stackID < 0 || stackID > 7 {
		return fmt.Errorf("%w: stack id %d", mvlcerr.ErrInvalidStackID, stackID)
	}
	offset := stackMemoryOffset(stackID)
	_, _, err := d.transact(ctx, func(ref uint16) *command.SuperCommandBuilder {
		return command.NewSuperCommandBuilder().
			ReferenceWord(ref).
			StackUpload(stack, command.PipeData, offset).
			WriteLocal(mvlcconst.StackOffsetRegister(stackID), uint32(offset))
	})
	return err
}

// stackMemoryOffset lays stacks out end to end after the immediate
// execution reserve: stack 0 is the reserve itself, stacks 1..7 follow in
// order, each given an equal share of the remaining memory.
func stackMemoryOffset(stackID int) uint16 {
	if stackID == 0 {
		return 0
	}
	perStack := (mvlcconst.StackMemoryWords - mvlcconst.ImmediateStackReservedWords) / 7
	return uint16(mvlcconst.ImmediateStackReservedWords + (stackID-1)*perStack)
}
