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

// Package listfile serializes readout buffers to disk behind a preamble
// that identifies the transport kind and records the crate configuration
// that produced them (spec.md §6). A listfile is: magic bytes, a
// CrateConfig SystemEvent carrying the YAML crate declaration, a sequence
// of raw readout buffers exactly as the producer filled them, and a
// closing EndOfFile SystemEvent.
package listfile

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/mesytec-mvlc-go/mvlc/internal/mvlcconst"
	"github.com/mesytec-mvlc-go/mvlc/internal/transport"
)

// Magic identifies the transport kind a listfile's buffers came from
// (spec.md §6: "one of two 8-byte magic strings").
var (
	MagicUSB = [8]byte{'M', 'V', 'L', 'C', '_', 'U', 'S', 'B'}
	MagicETH = [8]byte{'M', 'V', 'L', 'C', '_', 'E', 'T', 'H'}
)

func magicFor(kind transport.Kind) [8]byte {
	if kind == transport.KindETH {
		return MagicETH
	}
	return MagicUSB
}

func kindFromMagic(magic [8]byte) (transport.Kind, error) {
	switch magic {
	case MagicUSB:
		return transport.KindUSB, nil
	case MagicETH:
		return transport.KindETH, nil
	default:
		return 0, fmt.Errorf("listfile: unrecognized magic %q", magic)
	}
}

// systemEventWords wraps payload in a SystemEvent frame of the given
// subtype, padding payload to a whole number of words isn't needed since
// callers already pass word-aligned YAML-as-words data.
func systemEventWords(subtype mvlcconst.SystemEventType, payload []uint32) []uint32 {
	out := make([]uint32, 0, len(payload)+1)
	out = append(out, mvlcconst.MakeSystemEventHeader(subtype, len(payload)))
	out = append(out, payload...)
	return out
}

func bytesToWordsPadded(b []byte) []uint32 {
	padded := append([]byte(nil), b...)
	for len(padded)%4 != 0 {
		padded = append(padded, 0)
	}
	words := make([]uint32, len(padded)/4)
	for i := range words {
		words[i] = binary.LittleEndian.Uint32(padded[i*4:])
	}
	return words
}

func wordsToBytes(words []uint32) []byte {
	out := make([]byte, len(words)*4)
	for i, w := range words {
		binary.LittleEndian.PutUint32(out[i*4:], w)
	}
	return out
}

// Writer serializes one run's readout buffers to w, preceded by the
// magic-plus-CrateConfig preamble and followed by an EndOfFile trailer
// (spec.md §6, spec.md §4.K "listfile preamble is written first").
type Writer struct {
	w    io.Writer
	kind transport.Kind
}

// NewWriter writes the preamble immediately: magic bytes followed by a
// CrateConfig SystemEvent carrying crateConfigYAML verbatim.
func NewWriter(w io.Writer, kind transport.Kind, crateConfigYAML []byte) (*Writer, error) {
	magic := magicFor(kind)
	if _, err := w.Write(magic[:]); err != nil {
		return nil, fmt.Errorf("listfile: writing magic: %w", err)
	}

	payload := bytesToWordsPadded(crateConfigYAML)
	preamble := systemEventWords(mvlcconst.SystemEventCrateConfig, payload)
	if _, err := w.Write(wordsToBytes(preamble)); err != nil {
		return nil, fmt.Errorf("listfile: writing CrateConfig preamble: %w", err)
	}

	return &Writer{w: w, kind: kind}, nil
}

// WriteBuffer appends one readout buffer's raw bytes verbatim.
func (lw *Writer) WriteBuffer(data []byte) error {
	if len(data) == 0 {
		return nil
	}
	if _, err := lw.w.Write(data); err != nil {
		return fmt.Errorf("listfile: writing buffer: %w", err)
	}
	return nil
}

// WriteSystemEvent appends a system event inline in the buffer stream.
// The driver calls it for each system event the readout parser reports.
func (lw *Writer) WriteSystemEvent(subtype mvlcconst.SystemEventType, payload []uint32) error {
	words := systemEventWords(subtype, payload)
	_, err := lw.w.Write(wordsToBytes(words))
	if err != nil {
		return fmt.Errorf("listfile: writing system event: %w", err)
	}
	return nil
}

// Close writes the closing EndOfFile SystemEvent trailer (spec.md §6).
func (lw *Writer) Close() error {
	return lw.WriteSystemEvent(mvlcconst.SystemEventEndOfFile, nil)
}

// Preamble is the decoded header of a listfile: which transport produced
// its buffers and the crate configuration YAML that was in effect.
type Preamble struct {
	Kind            transport.Kind
	CrateConfigYAML []byte
}

// ReadPreamble decodes a listfile's magic bytes and CrateConfig
// SystemEvent from the front of r, the read-side counterpart tooling
// needs to re-extract a run's configuration from an existing listfile
// (SPEC_FULL.md §4: listfile reading, supplemented beyond spec.md's
// explicit write-only description).
func ReadPreamble(r io.Reader) (*Preamble, error) {
	var magic [8]byte
	if _, err := io.ReadFull(r, magic[:]); err != nil {
		return nil, fmt.Errorf("listfile: reading magic: %w", err)
	}
	kind, err := kindFromMagic(magic)
	if err != nil {
		return nil, err
	}

	var headerBytes [4]byte
	if _, err := io.ReadFull(r, headerBytes[:]); err != nil {
		return nil, fmt.Errorf("listfile: reading preamble header: %w", err)
	}
	header := binary.LittleEndian.Uint32(headerBytes[:])
	subtype, length := mvlcconst.SystemEventFields(header)
	if subtype != mvlcconst.SystemEventCrateConfig {
		return nil, fmt.Errorf("listfile: expected CrateConfig system event, got subtype %v", subtype)
	}

	payload := make([]byte, length*4)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, fmt.Errorf("listfile: reading CrateConfig payload: %w", err)
	}

	return &Preamble{Kind: kind, CrateConfigYAML: trimTrailingZeros(payload)}, nil
}

func trimTrailingZeros(b []byte) []byte {
	i := len(b)
	for i > 0 && b[i-1] == 0 {
		i--
	}
	return b[:i]
}
