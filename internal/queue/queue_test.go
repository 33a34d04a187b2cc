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

package queue_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/mesytec-mvlc-go/mvlc/internal/queue"
)

func TestEnqueueDequeueOrder(t *testing.T) {
	t.Parallel()
	q := queue.New(4)

	a := &queue.Buffer{Data: []byte("a"), Len: 1}
	b := &queue.Buffer{Data: []byte("b"), Len: 1}
	q.Enqueue(a)
	q.Enqueue(b)
	require.Equal(t, 2, q.Len())

	got, err := q.DequeueBlocking(context.Background())
	require.NoError(t, err)
	require.Same(t, a, got)

	got, err = q.DequeueBlocking(context.Background())
	require.NoError(t, err)
	require.Same(t, b, got)
	require.Equal(t, 0, q.Len())
}

func TestDequeueBlockingWaitsForItem(t *testing.T) {
	t.Parallel()
	q := queue.New(2)

	result := make(chan *queue.Buffer, 1)
	go func() {
		buf, err := q.DequeueBlocking(context.Background())
		require.NoError(t, err)
		result <- buf
	}()

	time.Sleep(20 * time.Millisecond)
	buf := &queue.Buffer{Data: []byte("x"), Len: 1}
	q.Enqueue(buf)

	select {
	case got := <-result:
		require.Same(t, buf, got)
	case <-time.After(time.Second):
		t.Fatal("DequeueBlocking never returned the enqueued item")
	}
}

func TestDequeueBlockingCanceled(t *testing.T) {
	t.Parallel()
	q := queue.New(1)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := q.DequeueBlocking(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestBufferSentinel(t *testing.T) {
	t.Parallel()
	buf := &queue.Buffer{Data: make([]byte, 8), Len: 0}
	require.True(t, buf.IsSentinel())

	buf.Len = 4
	require.False(t, buf.IsSentinel())

	buf.Reset()
	require.True(t, buf.IsSentinel())
}

func TestBufferResetClearsPacketOffsets(t *testing.T) {
	t.Parallel()
	buf := &queue.Buffer{Data: make([]byte, 8), PacketOffsets: []int{0, 4}}
	buf.Reset()
	require.Empty(t, buf.PacketOffsets)
}

func TestPoolFreeListSeeded(t *testing.T) {
	t.Parallel()
	p := queue.NewPool(3, 16)
	require.Equal(t, 3, p.Free.Len())
	require.Equal(t, 0, p.Filled.Len())

	buf, err := p.Free.DequeueBlocking(context.Background())
	require.NoError(t, err)
	require.Len(t, buf.Data, 16)

	buf.Len = 10
	p.Filled.Enqueue(buf)
	require.Equal(t, 1, p.Filled.Len())

	back, err := p.Filled.DequeueBlocking(context.Background())
	require.NoError(t, err)
	back.Reset()
	p.Free.Enqueue(back)
	require.Equal(t, 3, p.Free.Len())
}
