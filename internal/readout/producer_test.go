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

package readout_test

import (
	"context"
	"encoding/binary"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/mesytec-mvlc-go/mvlc/internal/mvlcerr"
	"github.com/mesytec-mvlc-go/mvlc/internal/queue"
	"github.com/mesytec-mvlc-go/mvlc/internal/readout"
	"github.com/mesytec-mvlc-go/mvlc/internal/transport"
)

// fakeETHDataTransport hands out a fixed sequence of pre-built ETH data
// packets and then reports a read timeout, the signal fillETH uses to
// stop collecting for the current buffer (spec.md §4.F).
type fakeETHDataTransport struct {
	packets [][]byte
	idx     int
}

func ethPacket(payload []byte) []byte {
	header := make([]byte, 8)
	binary.LittleEndian.PutUint32(header[0:4], uint32(len(payload)/4))
	return append(header, payload...)
}

func (f *fakeETHDataTransport) Kind() transport.Kind             { return transport.KindETH }
func (f *fakeETHDataTransport) Connect(context.Context) error    { return nil }
func (f *fakeETHDataTransport) Disconnect() error                { return nil }
func (f *fakeETHDataTransport) IsConnected() bool                { return true }
func (f *fakeETHDataTransport) SetReadTimeout(transport.Pipe, time.Duration) {}
func (f *fakeETHDataTransport) Write(transport.Pipe, []byte) (int, error) {
	return 0, nil
}

func (f *fakeETHDataTransport) Read(_ transport.Pipe, dest []byte, _ time.Duration) (int, error) {
	if f.idx >= len(f.packets) {
		return 0, mvlcerr.ErrTimeout
	}
	p := f.packets[f.idx]
	f.idx++
	return copy(dest, p), nil
}

func TestProducerFillETHRecordsPacketOffsets(t *testing.T) {
	t.Parallel()
	packet1 := ethPacket([]byte{0x01, 0x02, 0x03, 0x04})
	packet2 := ethPacket([]byte{0x05, 0x06, 0x07, 0x08})
	ft := &fakeETHDataTransport{packets: [][]byte{packet1, packet2}}

	pool := queue.NewPool(2, readout.JumboFrameMaxSize+64)
	p := readout.NewProducer(ft, pool)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()

	buf, err := pool.Filled.DequeueBlocking(context.Background())
	require.NoError(t, err)
	require.Equal(t, []int{0, len(packet1)}, buf.PacketOffsets)
	require.Equal(t, len(packet1)+len(packet2), buf.Len)

	cancel()
	<-done
}
