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

package dialog_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/mesytec-mvlc-go/mvlc/internal/command"
	"github.com/mesytec-mvlc-go/mvlc/internal/crateconfig"
	"github.com/mesytec-mvlc-go/mvlc/internal/dialog"
	"github.com/mesytec-mvlc-go/mvlc/internal/mvlcconst"
	"github.com/mesytec-mvlc-go/mvlc/internal/mvlcerr"
	"github.com/mesytec-mvlc-go/mvlc/internal/stackerror"
	"github.com/mesytec-mvlc-go/mvlc/internal/transport"
	"github.com/mesytec-mvlc-go/mvlc/internal/wire"
)

// fakeTransport is an in-memory stand-in for a connected controller: it
// decodes whatever super buffer is written to the command pipe and
// synthesizes a plausible mirror (plus stack output, for an ExecStack)
// for the dialog layer to read back.
type fakeTransport struct {
	mu        sync.Mutex
	kind      transport.Kind
	outbox    []byte
	forceRef  *uint16
	failWrite error
}

func newFakeTransport(kind transport.Kind) *fakeTransport {
	return &fakeTransport{kind: kind}
}

func (f *fakeTransport) Kind() transport.Kind                { return f.kind }
func (f *fakeTransport) Connect(ctx context.Context) error    { return nil }
func (f *fakeTransport) Disconnect() error                    { return nil }
func (f *fakeTransport) IsConnected() bool                    { return true }
func (f *fakeTransport) SetReadTimeout(transport.Pipe, time.Duration) {}

func (f *fakeTransport) Write(pipe transport.Pipe, buf []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failWrite != nil {
		return 0, f.failWrite
	}
	if pipe != transport.PipeCommand {
		return len(buf), nil
	}
	resp := synthesizeResponse(wire.BytesToWords(buf), f.forceRef)
	f.outbox = append(f.outbox, resp...)
	return len(buf), nil
}

func (f *fakeTransport) Read(pipe transport.Pipe, dest []byte, timeout time.Duration) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.outbox) == 0 {
		return 0, errors.Join(mvlcerr.ErrTimeout, errors.New("fake: nothing queued"))
	}
	n := copy(dest, f.outbox)
	f.outbox = f.outbox[n:]
	return n, nil
}

// synthesizeResponse decodes req (a complete super buffer) and builds the
// mirror response a controller would send back, plus any stack output an
// ExecStack command would trigger. If forceRef is set, the mirror echoes
// that reference word instead of the one the caller actually sent, used
// to exercise the dialog layer's mismatch handling.
func synthesizeResponse(req []uint32, forceRef *uint16) []byte {
	var mirrorBody []uint32
	stackMem := map[uint32]uint32{}
	var execOffset *uint16

	i := 1
	for i < len(req) && req[i] != mvlcconst.SuperCmdBufferEnd {
		w := req[i]
		switch {
		case w&0xFFFF0000 == mvlcconst.SuperCmdReferenceWord:
			if forceRef != nil {
				w = mvlcconst.SuperCmdReferenceWord | uint32(*forceRef)
			}
			mirrorBody = append(mirrorBody, w)
			i++
		case w&0xFFFF0000 == mvlcconst.SuperCmdReadLocal:
			addr := uint32(w & 0xffff)
			mirrorBody = append(mirrorBody, w, 0xABCD0000|addr)
			i++
		case w&0xFFFF0000 == mvlcconst.SuperCmdWriteLocal:
			addr := w & 0xffff
			value := req[i+1]
			mirrorBody = append(mirrorBody, w, value)
			if addr >= mvlcconst.StackMemoryBegin {
				stackMem[addr] = value
			}
			i += 2
		case w == mvlcconst.SuperCmdWriteReset:
			mirrorBody = append(mirrorBody, w)
			i++
		case w&0xFFFF0000 == mvlcconst.SuperCmdEthDelay:
			mirrorBody = append(mirrorBody, w)
			i++
		case w&0xFFFF0000 == mvlcconst.SuperCmdStackStart:
			offset := uint16(w & 0xffff)
			execOffset = &offset
			mirrorBody = append(mirrorBody, w)
			i++
		default:
			mirrorBody = append(mirrorBody, w)
			i++
		}
	}

	out := make([]uint32, 0, len(mirrorBody)+2)
	out = append(out, mvlcconst.MakeSuperFrameHeader(len(mirrorBody)+1))
	out = append(out, mirrorBody...)
	out = append(out, mvlcconst.SuperCmdBufferEnd)

	if execOffset != nil {
		if body := fakeStackOutput(stackMem, *execOffset); body != nil {
			out = append(out, mvlcconst.MakeStackFrameHeader(0, 0, len(body)))
			out = append(out, body...)
		}
	}

	return wire.WordsToBytes(out)
}

func fakeStackOutput(mem map[uint32]uint32, offset uint16) []uint32 {
	base := uint32(mvlcconst.StackMemoryBegin) + uint32(offset)
	var maxAddr uint32
	for addr := range mem {
		if addr > maxAddr {
			maxAddr = addr
		}
	}
	if len(mem) == 0 {
		return nil
	}
	words := make([]uint32, maxAddr-base+1)
	for addr, v := range mem {
		words[addr-base] = v
	}

	var program []uint32
	for _, w := range words {
		top := byte(w >> 24)
		if top == mvlcconst.StackCmdStart || top == mvlcconst.StackCmdEnd {
			continue
		}
		program = append(program, w)
	}

	builder, err := command.StackBuilderFromBuffer(program)
	if err != nil {
		return nil
	}

	var out []uint32
	for _, c := range builder.Commands {
		switch c.Kind {
		case command.StackVMERead, command.StackReadToAccu:
			out = append(out, 0x00001234)
		case command.StackVMEBlockRead:
			payload := []uint32{0x11111111, 0x22222222}
			out = append(out, mvlcconst.MakeBlockReadHeader(0, len(payload)))
			out = append(out, payload...)
		}
	}
	return out
}

func TestReadWriteRegister(t *testing.T) {
	t.Parallel()
	d := dialog.New(newFakeTransport(transport.KindUSB), stackerror.NewCollector())

	v, err := d.ReadRegister(context.Background(), 0x1000)
	require.NoError(t, err)
	require.Equal(t, uint32(0xABCD1000), v)

	require.NoError(t, d.WriteRegister(context.Background(), 0x1000, 0x42))
}

func TestVMEReadWrite(t *testing.T) {
	t.Parallel()
	d := dialog.New(newFakeTransport(transport.KindUSB), stackerror.NewCollector())

	v, err := d.VMERead(context.Background(), 0x01000000|0x6008, mvlcconst.AMA32UserData, mvlcconst.VMED16)
	require.NoError(t, err)
	require.Equal(t, uint32(0x00001234), v)

	require.NoError(t, d.VMEWrite(context.Background(), 0x01000000|0x6010, 1, mvlcconst.AMA32UserData, mvlcconst.VMED16))
}

func TestVMEBlockRead(t *testing.T) {
	t.Parallel()
	d := dialog.New(newFakeTransport(transport.KindUSB), stackerror.NewCollector())

	words, err := d.VMEBlockRead(context.Background(), 0x01000000, mvlcconst.AMA32UserBlock, 64)
	require.NoError(t, err)
	require.Equal(t, []uint32{0x11111111, 0x22222222}, words)
}

func TestStackTransactionMultipleReads(t *testing.T) {
	t.Parallel()
	d := dialog.New(newFakeTransport(transport.KindUSB), stackerror.NewCollector())

	stack := command.NewStackCommandBuilder().
		VMERead(0x6008, mvlcconst.AMA32UserData, mvlcconst.VMED16).
		VMERead(0x600e, mvlcconst.AMA32UserData, mvlcconst.VMED16)
	words, err := d.StackTransaction(context.Background(), stack)
	require.NoError(t, err)
	require.Equal(t, []uint32{0x00001234, 0x00001234}, words)
}

func TestSetupReadoutStacksAndTriggers(t *testing.T) {
	t.Parallel()
	d := dialog.New(newFakeTransport(transport.KindUSB), stackerror.NewCollector())

	cfg, err := crateconfig.Parse([]byte(`
events:
  - name: event0
    stack_id: 1
    trigger:
      type: irq
      irq_level: 3
    commands:
      - op: vme_read
        address: 0x6008
        amod: 0x09
        width: d16
`))
	require.NoError(t, err)

	require.NoError(t, d.SetupReadoutStacks(context.Background(), cfg))
	require.NoError(t, d.SetupReadoutTriggers(context.Background(), cfg))

	info, err := d.ReadStackInfo(context.Background(), 1)
	require.NoError(t, err)
	require.Equal(t, 1, info.StackID)
}

func TestEnableDisableDAQMode(t *testing.T) {
	t.Parallel()
	d := dialog.New(newFakeTransport(transport.KindUSB), stackerror.NewCollector())
	require.NoError(t, d.EnableDAQMode(context.Background()))
	require.NoError(t, d.DisableDAQMode(context.Background()))
}

func TestRedirectETHDataStreamNoopOverUSB(t *testing.T) {
	t.Parallel()
	ft := newFakeTransport(transport.KindUSB)
	d := dialog.New(ft, stackerror.NewCollector())
	require.NoError(t, d.RedirectETHDataStream(context.Background()))
	ft.mu.Lock()
	defer ft.mu.Unlock()
	require.Empty(t, ft.outbox)
}

func TestRefMismatchPropagatesError(t *testing.T) {
	t.Parallel()
	bad := uint16(0xFFFF)
	ft := newFakeTransport(transport.KindUSB)
	ft.forceRef = &bad
	d := dialog.New(ft, stackerror.NewCollector())

	_, err := d.ReadRegister(context.Background(), 0x1000)
	require.Error(t, err)
	require.ErrorIs(t, err, mvlcerr.ErrRefWordMismatch)
}

func TestStickyConnectionError(t *testing.T) {
	t.Parallel()
	ft := newFakeTransport(transport.KindUSB)
	ft.failWrite = mvlcerr.ErrConnectionError
	d := dialog.New(ft, stackerror.NewCollector())

	_, err1 := d.ReadRegister(context.Background(), 0x1000)
	require.ErrorIs(t, err1, mvlcerr.ErrConnectionError)

	ft.failWrite = nil // the transport "recovers", but the dialog should stay latched
	_, err2 := d.ReadRegister(context.Background(), 0x1000)
	require.ErrorIs(t, err2, mvlcerr.ErrConnectionError)

	d.ClearSticky()
	_, err3 := d.ReadRegister(context.Background(), 0x1000)
	require.NoError(t, err3)
}

func TestScanBusFindsCandidateModule(t *testing.T) {
	t.Parallel()
	d := dialog.New(newFakeTransport(transport.KindUSB), stackerror.NewCollector())
	opts := dialog.DefaultScanOptions()
	opts.BaseBegin = 0
	opts.BaseEnd = 1
	results, err := d.ScanBus(context.Background(), opts)
	require.NoError(t, err)
	require.NotEmpty(t, results)
}
