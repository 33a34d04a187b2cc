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

package crateconfig_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mesytec-mvlc-go/mvlc/internal/crateconfig"
)

const sampleYAML = `
name: test-crate
init_commands:
  - op: vme_write
    address: 0x6010
    value: 1
    amod: 0x09
events:
  - name: event0
    stack_id: 1
    trigger:
      type: irq
      irq_level: 1
    modules:
      - name: mod0
        prefix_len: 1
        has_dynamic: true
        suffix_len: 1
    commands:
      - op: vme_read
        address: 0x6008
        amod: 0x09
        width: d16
      - op: vme_block_read
        address: 0x0000
        amod: 0x0b
        max_transfers: 65535
        block_mode: mblt
      - op: vme_read
        address: 0x600e
        amod: 0x09
        width: d16
`

func TestParseAndRaw(t *testing.T) {
	t.Parallel()
	cfg, err := crateconfig.Parse([]byte(sampleYAML))
	require.NoError(t, err)
	require.Equal(t, "test-crate", cfg.Name)
	require.Len(t, cfg.InitCommands, 1)
	require.Len(t, cfg.Events, 1)
	require.Equal(t, sampleYAML, string(cfg.Raw()))
}

func TestParseRejectsOutOfRangeStackID(t *testing.T) {
	t.Parallel()
	_, err := crateconfig.Parse([]byte(`
events:
  - name: bad
    stack_id: 9
`))
	require.Error(t, err)
}

func TestBuildStack(t *testing.T) {
	t.Parallel()
	cfg, err := crateconfig.Parse([]byte(sampleYAML))
	require.NoError(t, err)

	stack, err := crateconfig.BuildStack(cfg.Events[0])
	require.NoError(t, err)
	require.Equal(t, 3, len(stack.Commands))
}

func TestReadoutStructure(t *testing.T) {
	t.Parallel()
	cfg, err := crateconfig.Parse([]byte(sampleYAML))
	require.NoError(t, err)

	structure := cfg.ReadoutStructure()
	require.Len(t, structure, 1)
	require.Len(t, structure[0], 1)
	require.Equal(t, crateconfig.ModuleFraming{PrefixLen: 1, HasDynamic: true, SuffixLen: 1}, structure[0][0])
}

func TestStackIDEventIndexRoundTrip(t *testing.T) {
	t.Parallel()
	cfg, err := crateconfig.Parse([]byte(sampleYAML))
	require.NoError(t, err)

	id, err := cfg.StackIDForEvent(0)
	require.NoError(t, err)
	require.Equal(t, 1, id)

	idx, ok := cfg.EventIndexForStackID(1)
	require.True(t, ok)
	require.Equal(t, 0, idx)

	_, ok = cfg.EventIndexForStackID(5)
	require.False(t, ok)
}

func TestBuildStackUnknownOp(t *testing.T) {
	t.Parallel()
	_, err := crateconfig.BuildStack(crateconfig.Event{
		Name:     "bad",
		Commands: []crateconfig.Command{{Op: "frobnicate"}},
	})
	require.Error(t, err)
}
