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

package listfile_test

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mesytec-mvlc-go/mvlc/internal/listfile"
	"github.com/mesytec-mvlc-go/mvlc/internal/mvlcconst"
	"github.com/mesytec-mvlc-go/mvlc/internal/transport"
)

func TestWriterPreambleAndBuffersRoundTrip(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	cfgYAML := []byte("name: test\nevents: []\n")

	w, err := listfile.NewWriter(&buf, transport.KindETH, cfgYAML)
	require.NoError(t, err)
	require.NoError(t, w.WriteBuffer([]byte{0xAA, 0xBB, 0xCC, 0xDD}))
	require.NoError(t, w.WriteSystemEvent(mvlcconst.SystemEventPause, nil))
	require.NoError(t, w.Close())

	r := bytes.NewReader(buf.Bytes())
	pre, err := listfile.ReadPreamble(r)
	require.NoError(t, err)
	require.Equal(t, transport.KindETH, pre.Kind)
	require.Equal(t, cfgYAML, pre.CrateConfigYAML)
}

func TestReadPreambleRejectsUnknownMagic(t *testing.T) {
	t.Parallel()
	r := bytes.NewReader([]byte("NOTMVLC!"))
	_, err := listfile.ReadPreamble(r)
	require.Error(t, err)
}

func TestWriteBufferSkipsEmpty(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	w, err := listfile.NewWriter(&buf, transport.KindUSB, []byte("x"))
	require.NoError(t, err)
	before := buf.Len()
	require.NoError(t, w.WriteBuffer(nil))
	require.Equal(t, before, buf.Len())
}
