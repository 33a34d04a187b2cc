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
	"net"
	"sync"
	"time"

	"github.com/mesytec-mvlc-go/mvlc/internal/mvlcerr"
)

// ETHPorts gives the per-pipe UDP server ports a controller listens on.
type ETHPorts struct {
	Command int
	Data    int
}

// ETHTransport wraps two UDP sockets bound to per-pipe server ports,
// mirroring the teacher's hbrp.Server UDPConn-per-listener shape but with
// one socket per logical pipe instead of one shared socket (spec.md §4.A).
type ETHTransport struct {
	host  string
	ports ETHPorts

	mu       [2]sync.Mutex
	writeMu  sync.Mutex
	conns    [2]*net.UDPConn
	timeouts [2]time.Duration

	connected bool

	counters   [2]PipeCounters
	countersMu sync.Mutex
}

// NewETHTransport builds an ETHTransport targeting host on the given
// per-pipe ports.
func NewETHTransport(host string, ports ETHPorts) *ETHTransport {
	return &ETHTransport{
		host:     host,
		ports:    ports,
		timeouts: [2]time.Duration{time.Second, time.Second},
	}
}

func (t *ETHTransport) Kind() Kind { return KindETH }

// Connect dials both pipe sockets, then sends the empty redirection
// datagram on each so the controller learns the client's return address.
func (t *ETHTransport) Connect(ctx context.Context) error {
	cmdConn, err := t.dial(t.ports.Command)
	if err != nil {
		return fmt.Errorf("%w: command pipe: %v", mvlcerr.ErrConnectionError, err)
	}
	dataConn, err := t.dial(t.ports.Data)
	if err != nil {
		cmdConn.Close()
		return fmt.Errorf("%w: data pipe: %v", mvlcerr.ErrConnectionError, err)
	}
	t.conns[PipeCommand] = cmdConn
	t.conns[PipeData] = dataConn
	t.connected = true

	if err := t.sendRedirect(PipeCommand); err != nil {
		return err
	}
	if err := t.sendRedirect(PipeData); err != nil {
		return err
	}
	return nil
}

// sendRedirect sends the empty datagram that establishes the return
// address for pipe (spec.md §4.A, SPEC_FULL.md §4 ETH redirect handshake).
func (t *ETHTransport) sendRedirect(pipe Pipe) error {
	_, err := t.conns[pipe].Write([]byte{})
	if err != nil {
		return fmt.Errorf("%w: redirect datagram on %s pipe: %v", mvlcerr.ErrConnectionError, pipe, err)
	}
	return nil
}

func (t *ETHTransport) dial(port int) (*net.UDPConn, error) {
	addr := &net.UDPAddr{IP: net.ParseIP(t.host), Port: port}
	if addr.IP == nil {
		resolved, err := net.ResolveUDPAddr("udp", fmt.Sprintf("%s:%d", t.host, port))
		if err != nil {
			return nil, fmt.Errorf("%w: %v", mvlcerr.ErrHostLookupFailed, err)
		}
		addr = resolved
	}
	return net.DialUDP("udp", nil, addr)
}

func (t *ETHTransport) Disconnect() error {
	if !t.connected {
		return nil
	}
	t.connected = false
	var firstErr error
	for _, c := range t.conns {
		if c == nil {
			continue
		}
		if err := c.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (t *ETHTransport) IsConnected() bool {
	return t.connected
}

func (t *ETHTransport) SetReadTimeout(pipe Pipe, timeout time.Duration) {
	t.timeouts[pipe] = timeout
}

func (t *ETHTransport) Write(pipe Pipe, buf []byte) (int, error) {
	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	n, err := t.conns[pipe].Write(buf)
	if err != nil {
		return n, fmt.Errorf("%w: %v", mvlcerr.ErrConnectionError, err)
	}
	return n, nil
}

// Read returns one whole UDP packet: either the full datagram is
// returned, or the call times out. Packets are ETH-header-checked by the
// readout producer, not here; Read only tracks receive-attempt counters.
func (t *ETHTransport) Read(pipe Pipe, dest []byte, timeout time.Duration) (int, error) {
	t.mu[pipe].Lock()
	defer t.mu[pipe].Unlock()

	t.countersMu.Lock()
	t.counters[pipe].ReceiveAttempts++
	t.countersMu.Unlock()

	if err := t.conns[pipe].SetReadDeadline(time.Now().Add(timeout)); err != nil {
		return 0, fmt.Errorf("%w: %v", mvlcerr.ErrConnectionError, err)
	}
	n, err := t.conns[pipe].Read(dest)
	if err != nil {
		if ne, ok := err.(net.Error); ok && ne.Timeout() {
			return 0, fmt.Errorf("%w: no packet within %s on %s pipe", mvlcerr.ErrTimeout, timeout, pipe)
		}
		return 0, fmt.Errorf("%w: %v", mvlcerr.ErrConnectionError, err)
	}

	const ethHeaderBytes = 8 // two 32-bit header words
	t.countersMu.Lock()
	t.counters[pipe].ReceivedPackets++
	t.counters[pipe].ReceivedBytes += uint64(n)
	if n < ethHeaderBytes {
		t.counters[pipe].ShortPackets++
	}
	t.countersMu.Unlock()

	return n, nil
}

// Counters returns a snapshot of the per-pipe receive statistics
// (spec.md §4.A).
func (t *ETHTransport) Counters(pipe Pipe) PipeCounters {
	t.countersMu.Lock()
	defer t.countersMu.Unlock()
	return t.counters[pipe]
}

// NoteResidue records a packet whose dataWordCount*4 didn't match the
// reported transfer length (spec.md §4.F). The readout producer trims
// such packets itself and does not call it.
func (t *ETHTransport) NoteResidue(pipe Pipe) {
	t.countersMu.Lock()
	t.counters[pipe].PacketsWithResidue++
	t.countersMu.Unlock()
}

// NoteLostPackets accumulates a gap detected in the per-pipe packet
// sequence number (spec.md §4.F packet-loss tracking).
func (t *ETHTransport) NoteLostPackets(pipe Pipe, n uint64) {
	t.countersMu.Lock()
	t.counters[pipe].LostPackets += n
	t.countersMu.Unlock()
}
