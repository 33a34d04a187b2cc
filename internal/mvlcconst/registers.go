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

package mvlcconst

// Controller register addresses used by the dialog layer's stack setup,
// trigger arming, and DAQ mode control (spec.md §4.D/§4.K). The exact
// values are the open question spec.md §9 leaves to an implementation;
// these follow the register layout's own internal logic: one trigger
// register and one stack-offset register per stack id (0 reserved for
// immediate execution, 1..7 for readout), stepped by StackRegisterStride.
const (
	StackTriggerRegisterBase uint16 = 0x1100
	StackOffsetRegisterBase  uint16 = 0x1200
	StackRegisterStride      uint16 = 4

	DAQModeRegister  uint16 = 0x1300
	ETHRedirectReg   uint16 = 0x1301
	ScanbusProbeReg  uint32 = 0x0000
)

// Trigger register value encoding: low byte selects the trigger source
// kind, remaining bits carry source-specific parameters (spec.md §4.K
// setup_readout_triggers).
const (
	TriggerSourceNone     uint32 = 0x0
	TriggerSourceIRQ      uint32 = 0x1
	TriggerSourceTimer    uint32 = 0x2
	TriggerSourceSoftware uint32 = 0x3
)

// DAQModeRegister values.
const (
	DAQModeDisabled uint32 = 0
	DAQModeEnabled  uint32 = 1
)

// Default UDP server ports for the two ETH pipes (spec.md §4.A). The
// controller listens on these fixed ports; the host's own ephemeral
// source ports are assigned by the kernel.
const (
	DefaultETHCommandPort = 0x8001
	DefaultETHDataPort    = 0x8002
)

// StackTriggerRegister returns the trigger register address for stackID
// (0..7).
func StackTriggerRegister(stackID int) uint16 {
	return StackTriggerRegisterBase + uint16(stackID)*StackRegisterStride
}

// StackOffsetRegister returns the stack-memory-offset register address
// for stackID (0..7).
func StackOffsetRegister(stackID int) uint16 {
	return StackOffsetRegisterBase + uint16(stackID)*StackRegisterStride
}
