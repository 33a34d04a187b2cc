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

// Package readout implements the data-pipe producer, its framing fixup,
// and the stream parser (spec.md §4.F/§4.G/§4.H): the pipeline that turns
// raw bytes off the controller's data pipe into per-event callbacks.
package readout

import (
	"context"
	"errors"
	"time"

	"github.com/mesytec-mvlc-go/mvlc/internal/mvlcerr"
	"github.com/mesytec-mvlc-go/mvlc/internal/queue"
	"github.com/mesytec-mvlc-go/mvlc/internal/transport"
)

// USBStreamPipeReadSize bounds a single read_unbuffered call on the USB
// data pipe (spec.md §6 process-wide configuration surface).
const USBStreamPipeReadSize = 1 << 16

// JumboFrameMaxSize is the largest ETH payload a single read_packet call
// must leave room for (spec.md §6).
const JumboFrameMaxSize = 9000

// FlushBufferTimeout bounds how long the producer may hold a partially
// filled buffer before handing it off regardless of fullness (spec.md §5).
const FlushBufferTimeout = 500 * time.Millisecond

// Producer fills buffers from a transport's data pipe and enqueues them
// on a filled queue, looping until its context is canceled (spec.md §4.F).
// One Producer is the only reader of the data pipe for the run's whole
// duration, matching the single-producer-thread model of spec.md §5.
type Producer struct {
	t     transport.Transport
	pool  *queue.Pool
	carry []byte // USB only: trailing partial-frame bytes held across reads

	seq uint64

	ethLostTotal uint64
}

// NewProducer builds a Producer reading from t's data pipe into buffers
// drawn from pool.
func NewProducer(t transport.Transport, pool *queue.Pool) *Producer {
	return &Producer{t: t, pool: pool}
}

// Run loops filling and enqueuing buffers until ctx is canceled, at which
// point it enqueues the zero-length shutdown sentinel and returns
// ctx.Err() (spec.md §4.F/§5).
func (p *Producer) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			p.enqueueSentinel(ctx)
			return ctx.Err()
		default:
		}

		buf, err := p.pool.Free.DequeueBlocking(ctx)
		if err != nil {
			p.enqueueSentinel(ctx)
			return err
		}
		buf.Reset()
		buf.Seq = p.seq
		p.seq++

		if err := p.fill(ctx, buf); err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				p.pool.Free.Enqueue(buf)
				p.enqueueSentinel(ctx)
				return err
			}
			if !errors.Is(err, mvlcerr.ErrConnectionError) {
				// Non-fatal errors (timeouts while simply waiting for more
				// data) still hand over whatever was collected.
				p.pool.Filled.Enqueue(buf)
				continue
			}
			p.pool.Free.Enqueue(buf)
			p.enqueueSentinel(ctx)
			return err
		}

		if buf.Len == 0 {
			p.pool.Free.Enqueue(buf)
			continue
		}
		p.pool.Filled.Enqueue(buf)
	}
}

func (p *Producer) enqueueSentinel(ctx context.Context) {
	sentinel, err := p.pool.Free.DequeueBlocking(context.Background())
	if err != nil {
		return
	}
	sentinel.Reset()
	p.pool.Filled.Enqueue(sentinel)
}

func (p *Producer) fill(ctx context.Context, buf *queue.Buffer) error {
	switch p.t.Kind() {
	case transport.KindUSB:
		return p.fillUSB(ctx, buf)
	default:
		return p.fillETH(ctx, buf)
	}
}

// fillUSB reads raw bytes until buf is near full or FlushBufferTimeout
// elapses, then runs framing fixup to keep any trailing partial frame for
// the next call (spec.md §4.F/§4.G).
func (p *Producer) fillUSB(ctx context.Context, buf *queue.Buffer) error {
	used := copy(buf.Data, p.carry)
	p.carry = p.carry[:0]

	deadline := time.Now().Add(FlushBufferTimeout)
	for used < len(buf.Data)-USBStreamPipeReadSize && time.Now().Before(deadline) {
		select {
		case <-ctx.Done():
			buf.Len = used
			return ctx.Err()
		default:
		}

		chunk := buf.Data[used:]
		if len(chunk) > USBStreamPipeReadSize {
			chunk = chunk[:USBStreamPipeReadSize]
		}
		n, err := p.t.Read(transport.PipeData, chunk, time.Second)
		if n > 0 {
			used += n
		}
		if err != nil {
			if errors.Is(err, mvlcerr.ErrTimeout) {
				break
			}
			buf.Len = used
			return err
		}
	}

	kept, carry := fixupUSB(buf.Data[:used])
	buf.Len = kept
	p.carry = append(p.carry[:0], carry...)
	return nil
}

// fillETH reads whole packets while at least JumboFrameMaxSize bytes of
// free space remain, validating each packet's ETH header pair and
// tracking loss (spec.md §4.F).
func (p *Producer) fillETH(ctx context.Context, buf *queue.Buffer) error {
	used := 0
	deadline := time.Now().Add(FlushBufferTimeout)
	for len(buf.Data)-used >= JumboFrameMaxSize && time.Now().Before(deadline) {
		select {
		case <-ctx.Done():
			buf.Len = used
			return ctx.Err()
		default:
		}

		n, err := p.t.Read(transport.PipeData, buf.Data[used:], time.Second)
		if err != nil {
			if errors.Is(err, mvlcerr.ErrTimeout) {
				break
			}
			buf.Len = used
			return err
		}
		if n == 0 {
			continue
		}
		valid := validateETHPacket(buf.Data[used : used+n])
		if valid > 0 {
			buf.PacketOffsets = append(buf.PacketOffsets, used)
		}
		used += valid
	}
	buf.Len = used
	return nil
}
