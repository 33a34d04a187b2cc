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

// Package queue implements the bounded SPSC buffer queue the readout
// pipeline moves data through (spec.md §5): a fixed-size pool of
// reusable buffers where the empty queue doubles as the free-list.
// DequeueBlocking suspends on a condition variable; Enqueue never blocks
// because the queue can never hold more than its capacity of items.
package queue

import (
	"context"
	"sync"
)

// Buffer is one unit of data moving through the readout pipeline: a
// byte slice reused across its lifetime plus bookkeeping the producer
// and parser both need (spec.md §4.F/§4.G).
type Buffer struct {
	// Data holds up to cap(Data) bytes; Len is the number of bytes
	// currently valid. Reusing the backing array across loans is the
	// whole point of the pool — no allocation on the hot path.
	Data []byte
	Len  int
	Seq  uint64

	// PacketOffsets holds the byte offset of each ETH packet placed into
	// Data this fill, for the parser to consume each packet's own
	// two-word header before walking its frames. Left empty for USB,
	// where framing fixup already guarantees Data starts on a frame
	// header.
	PacketOffsets []int
}

// Reset clears Len, Seq, and PacketOffsets so the buffer looks fresh to
// its next owner; the backing arrays are left allocated and reused.
func (b *Buffer) Reset() {
	b.Len = 0
	b.Seq = 0
	b.PacketOffsets = b.PacketOffsets[:0]
}

// IsSentinel reports whether b is the zero-length shutdown marker
// (spec.md §4.F/§5: "a zero-length buffer is the shutdown sentinel").
func (b *Buffer) IsSentinel() bool {
	return b.Len == 0
}

// Queue is a bounded SPSC queue of *Buffer. A single producer enqueues
// (non-blocking, since the queue can never overflow its capacity) and a
// single consumer dequeues (blocking until an item or cancellation).
type Queue struct {
	mu       sync.Mutex
	notEmpty sync.Cond
	items    []*Buffer
	capacity int
}

// New builds an empty Queue bounded to capacity items.
func New(capacity int) *Queue {
	q := &Queue{capacity: capacity}
	q.notEmpty.L = &q.mu
	return q
}

// Enqueue appends buf. It never blocks: callers are expected to only
// enqueue buffers they dequeued from a pool sized to match, so the queue
// never needs to hold more than capacity items at once.
func (q *Queue) Enqueue(buf *Buffer) {
	q.mu.Lock()
	q.items = append(q.items, buf)
	q.mu.Unlock()
	q.notEmpty.Signal()
}

// DequeueBlocking waits for an item and returns it, or returns
// (nil, ctx.Err()) if ctx is canceled first.
func (q *Queue) DequeueBlocking(ctx context.Context) (*Buffer, error) {
	done := make(chan struct{})
	stop := context.AfterFunc(ctx, func() {
		close(done)
		q.notEmpty.Broadcast()
	})
	defer stop()

	q.mu.Lock()
	defer q.mu.Unlock()
	for len(q.items) == 0 {
		select {
		case <-done:
			return nil, ctx.Err()
		default:
		}
		q.notEmpty.Wait()
	}
	buf := q.items[0]
	q.items = q.items[1:]
	return buf, nil
}

// Len reports how many items are currently queued, for metrics export.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Pool is a fixed set of buffers shared between a free queue and a
// filled queue (spec.md §5: "the empty-queue acts as the free-list").
// A producer dequeues from Free, fills the buffer, and enqueues it on
// Filled; a consumer dequeues from Filled, processes it, and returns it
// to Free.
type Pool struct {
	Free   *Queue
	Filled *Queue
}

// NewPool allocates count buffers of bufSize bytes each and seeds Free
// with all of them, per spec.md §5's "~10 buffers of 1 MiB each".
func NewPool(count, bufSize int) *Pool {
	p := &Pool{
		Free:   New(count),
		Filled: New(count),
	}
	for i := 0; i < count; i++ {
		p.Free.Enqueue(&Buffer{Data: make([]byte, bufSize)})
	}
	return p
}
