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

package dialog

import (
	"context"

	"github.com/mesytec-mvlc-go/mvlc/internal/command"
	"github.com/mesytec-mvlc-go/mvlc/internal/mvlcconst"
)

// ScanOptions configures a ScanBus sweep (spec.md §4.D/Scenario S6).
type ScanOptions struct {
	ProbeRegister   uint32
	AddressModifier byte
	BaseBegin       uint16
	BaseEnd         uint16
	// Full allows a scan batch to use the entire 4 KWord stack memory
	// instead of the smaller immediate-execution reserve.
	Full bool
}

// DefaultScanOptions sweeps the whole upper-16-bits A32 base address
// space with a single D16 probe at offset 0, matching Scenario S6.
func DefaultScanOptions() ScanOptions {
	return ScanOptions{
		ProbeRegister:   mvlcconst.ScanbusProbeReg,
		AddressModifier: mvlcconst.AMA32UserData,
		BaseBegin:       0,
		BaseEnd:         0xffff,
	}
}

// ScanResult is one responding base address found by ScanBus, with the
// hardware/firmware id pair read back from it.
type ScanResult struct {
	BaseAddress uint32
	HardwareID  uint16
	FirmwareID  uint16
	ModuleName  string // "" when HardwareID isn't in the built-in table
}

// hwIDRegister and fwIDRegister are the per-module identification
// registers probed once a candidate base address is found (spec.md
// Scenario S6).
const (
	hwIDRegister uint32 = 0x6008
	fwIDRegister uint32 = 0x600e
)

// knownModules is the built-in hardware-id-to-name table spec.md §4.D
// mentions. It is deliberately small: module-specific register layouts
// are explicitly out of scope (spec.md §1 Non-goals), so this only
// covers identification, not per-module readout support.
var knownModules = map[uint16]string{
	0x5002: "MDPP-16",
	0x5003: "MDPP-32",
	0x5004: "MTDC-32",
	0x5005: "MQDC-32",
	0x5008: "VMMR-8",
}

func wordsPerProbe() int {
	return command.NewStackCommandBuilder().VMERead(0, 0, mvlcconst.VMED16).EncodedSize()
}

// ScanBus probes a sweep of base addresses for responding VME modules,
// batching probe stacks to fit within the immediate-execution reserve (or
// the full stack memory, if opts.Full), then reading back the
// identification registers of every responding address (spec.md §4.D,
// Scenario S6).
func (d *Dialog) ScanBus(ctx context.Context, opts ScanOptions) ([]ScanResult, error) {
	limit := mvlcconst.ImmediateStackReservedWords - 2
	if opts.Full {
		limit = mvlcconst.StackMemoryWords - 2
	}
	maxProbes := limit / wordsPerProbe()
	if maxProbes < 1 {
		maxProbes = 1
	}

	var results []ScanResult
	base := uint32(opts.BaseBegin)
	end := uint32(opts.BaseEnd)
	for base <= end {
		batchEnd := base + uint32(maxProbes) - 1
		if batchEnd > end {
			batchEnd = end
		}

		stack := command.NewStackCommandBuilder()
		for b := base; b <= batchEnd; b++ {
			addr := b<<16 | (opts.ProbeRegister & 0xffff)
			stack.VMERead(addr, opts.AddressModifier, mvlcconst.VMED16)
		}

		words, err := d.StackTransaction(ctx, stack)
		if err != nil {
			return nil, err
		}

		for i, w := range words {
			if mvlcconst.IsNoResponseMarker(w) {
				continue
			}
			candidate := (base + uint32(i)) << 16
			res, err := d.identifyModule(ctx, candidate, opts.AddressModifier)
			if err != nil {
				return nil, err
			}
			results = append(results, res)
		}

		if batchEnd == end {
			break
		}
		base = batchEnd + 1
	}

	return results, nil
}

func (d *Dialog) identifyModule(ctx context.Context, base uint32, amod byte) (ScanResult, error) {
	hw, err := d.VMERead(ctx, base|hwIDRegister, amod, mvlcconst.VMED16)
	if err != nil {
		return ScanResult{}, err
	}
	fw, err := d.VMERead(ctx, base|fwIDRegister, amod, mvlcconst.VMED16)
	if err != nil {
		return ScanResult{}, err
	}
	return ScanResult{
		BaseAddress: base,
		HardwareID:  uint16(hw),
		FirmwareID:  uint16(fw),
		ModuleName:  knownModules[uint16(hw)],
	}, nil
}
