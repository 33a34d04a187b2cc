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

package transport

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/mesytec-mvlc-go/mvlc/internal/mvlcerr"
)

// usbAlignment is the transfer granularity the bulk-pipe device requires;
// reads and writes are rounded up to a multiple of this (spec.md §4.A).
const usbAlignment = 8

// BulkDevice is the minimal surface USBTransport needs from an underlying
// FTDI-style bulk-pipe handle: four endpoints collapse to two
// ReadWriteClosers, one per logical pipe.
type BulkDevice interface {
	OpenPipe(pipe Pipe) (io.ReadWriteCloser, error)
	Close() error
}

// USBTransport wraps a bulk-pipe device with four endpoints (two bulk IN,
// two bulk OUT) behind the Transport interface. A ConnectionError is
// sticky: once observed the transport refuses further I/O.
type USBTransport struct {
	open func() (BulkDevice, error)

	mu        [2]sync.Mutex
	writeMu   sync.Mutex
	endpoints [2]io.ReadWriteCloser
	timeouts  [2]time.Duration

	device    BulkDevice
	connected bool
	broken    bool
}

// NewUSBTransport builds a USBTransport that opens its device lazily on
// Connect using the supplied factory (production code wires a real
// libusb-backed BulkDevice; tests inject an in-memory fake).
func NewUSBTransport(open func() (BulkDevice, error)) *USBTransport {
	return &USBTransport{
		open:     open,
		timeouts: [2]time.Duration{time.Second, time.Second},
	}
}

func (t *USBTransport) Kind() Kind { return KindUSB }

func (t *USBTransport) Connect(ctx context.Context) error {
	if t.broken {
		return fmt.Errorf("%w: transport previously failed", mvlcerr.ErrConnectionError)
	}
	dev, err := t.open()
	if err != nil {
		t.broken = true
		return fmt.Errorf("%w: %v", mvlcerr.ErrConnectionError, err)
	}
	cmdPipe, err := dev.OpenPipe(PipeCommand)
	if err != nil {
		t.broken = true
		return fmt.Errorf("%w: opening command pipe: %v", mvlcerr.ErrConnectionError, err)
	}
	dataPipe, err := dev.OpenPipe(PipeData)
	if err != nil {
		t.broken = true
		return fmt.Errorf("%w: opening data pipe: %v", mvlcerr.ErrConnectionError, err)
	}
	t.device = dev
	t.endpoints[PipeCommand] = cmdPipe
	t.endpoints[PipeData] = dataPipe
	t.connected = true
	return nil
}

func (t *USBTransport) Disconnect() error {
	if !t.connected {
		return nil
	}
	t.connected = false
	if t.device == nil {
		return nil
	}
	err := t.device.Close()
	t.device = nil
	return err
}

func (t *USBTransport) IsConnected() bool {
	return t.connected && !t.broken
}

func (t *USBTransport) SetReadTimeout(pipe Pipe, timeout time.Duration) {
	t.timeouts[pipe] = timeout
}

func (t *USBTransport) Write(pipe Pipe, buf []byte) (int, error) {
	if t.broken {
		return 0, fmt.Errorf("%w: transport is unusable", mvlcerr.ErrConnectionError)
	}
	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	n, err := t.endpoints[pipe].Write(padToAlignment(buf))
	if err != nil {
		t.broken = true
		return n, fmt.Errorf("%w: %v", mvlcerr.ErrConnectionError, err)
	}
	return n, nil
}

// Read fills dest from the pipe's bulk-in endpoint. Reads are framed only
// by byte counts: a short read is valid whenever data is available, and
// is not reported as an error by itself.
func (t *USBTransport) Read(pipe Pipe, dest []byte, timeout time.Duration) (int, error) {
	if t.broken {
		return 0, fmt.Errorf("%w: transport is unusable", mvlcerr.ErrConnectionError)
	}
	t.mu[pipe].Lock()
	defer t.mu[pipe].Unlock()

	type result struct {
		n   int
		err error
	}
	done := make(chan result, 1)
	go func() {
		n, err := t.endpoints[pipe].Read(dest)
		done <- result{n, err}
	}()

	select {
	case r := <-done:
		if r.err != nil && r.err != io.EOF {
			t.broken = true
			return r.n, fmt.Errorf("%w: %v", mvlcerr.ErrConnectionError, r.err)
		}
		return r.n, nil
	case <-time.After(timeout):
		return 0, fmt.Errorf("%w: no data within %s on %s pipe", mvlcerr.ErrTimeout, timeout, pipe)
	}
}

func padToAlignment(buf []byte) []byte {
	rem := len(buf) % usbAlignment
	if rem == 0 {
		return buf
	}
	padded := make([]byte, len(buf)+(usbAlignment-rem))
	copy(padded, buf)
	return padded
}
