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

package command_test

import (
	"testing"

	"github.com/mesytec-mvlc-go/mvlc/internal/command"
	"github.com/mesytec-mvlc-go/mvlc/internal/mvlcconst"
	"github.com/stretchr/testify/require"
)

// TestStackBuilderRoundTrip is the encode-decode law from spec.md §8:
// stack_builder_from_buffer(encode(b)) == b.
func TestStackBuilderRoundTrip(t *testing.T) {
	t.Parallel()
	b := command.NewStackCommandBuilder()
	b.VMERead(0x01000000+0x6008, mvlcconst.AMA32UserData, mvlcconst.VMED16).
		VMEWrite(0x01000000+0x6010, 0xdeadbeef, mvlcconst.AMA32UserData, mvlcconst.VMED32).
		VMEBlockRead(0x01000000, mvlcconst.AMA32UserBlock, 65, mvlcconst.BlockReadModeMBLT).
		WriteMarker(0x12345678).
		WriteSpecial(7).
		SetAccu(3).
		ReadToAccu(0x600E, mvlcconst.AMA32UserData, mvlcconst.VMED16).
		CompareLoopAccu(10).
		MaskShiftAccu(0x00FF, 4).
		SignalAccu().
		Wait(100).
		SoftwareDelay(5)

	encoded := b.Encode()
	decoded, err := command.StackBuilderFromBuffer(encoded)
	require.NoError(t, err)
	require.Equal(t, b.Commands, decoded.Commands)
}

func TestStackBuilderEncodedSizeMatchesEncode(t *testing.T) {
	t.Parallel()
	b := command.NewStackCommandBuilder()
	b.VMERead(0x1000, mvlcconst.AMA24UserData, mvlcconst.VMED16)
	b.WriteMarker(1)
	b.SignalAccu()
	require.Equal(t, b.EncodedSize(), len(b.Encode()))
}

func TestWrapStackStartEnd(t *testing.T) {
	t.Parallel()
	words := command.WrapStackStartEnd([]uint32{0xAABBCCDD})
	require.Len(t, words, 3)
	require.Equal(t, byte(mvlcconst.StackCmdStart), byte(words[0]>>24))
	require.Equal(t, uint32(0xAABBCCDD), words[1])
	require.Equal(t, byte(mvlcconst.StackCmdEnd), byte(words[2]>>24))
}

func TestStackBuilderFromBufferRejectsUnknownOpcode(t *testing.T) {
	t.Parallel()
	_, err := command.StackBuilderFromBuffer([]uint32{0xAB000000})
	require.Error(t, err)
}

// TestVMED16RegisterReadScenario reproduces spec.md §8 scenario S2's
// stack shape: a single D16 register read.
func TestVMED16RegisterReadScenario(t *testing.T) {
	t.Parallel()
	b := command.NewStackCommandBuilder()
	b.VMERead(0x01000000+0x6008, mvlcconst.AMA32UserData, mvlcconst.VMED16)
	words := b.Encode()
	require.Len(t, words, 2)
	require.Equal(t, byte(mvlcconst.StackCmdVMERead), byte(words[0]>>24))
	require.Equal(t, uint32(0x01006008), words[1])
}
