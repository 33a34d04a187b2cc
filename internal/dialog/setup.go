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
	"fmt"

	"github.com/mesytec-mvlc-go/mvlc/internal/crateconfig"
	"github.com/mesytec-mvlc-go/mvlc/internal/mvlcconst"
	"github.com/mesytec-mvlc-go/mvlc/internal/transport"
)

// SetupReadoutStacks uploads every configured event's stack program into
// its reserved stack-memory region (spec.md §4.K start sequence, run
// before triggers are armed).
func (d *Dialog) SetupReadoutStacks(ctx context.Context, cfg *crateconfig.Config) error {
	for i, ev := range cfg.Events {
		stack, err := crateconfig.BuildStack(ev)
		if err != nil {
			return fmt.Errorf("dialog: building stack for event %d (%q): %w", i, ev.Name, err)
		}
		if err := d.UploadStack(ctx, ev.StackID, stack); err != nil {
			return fmt.Errorf("dialog: uploading stack for event %d (%q): %w", i, ev.Name, err)
		}
	}
	return nil
}

// triggerRegisterValue packs a Trigger declaration into the register
// value written to a stack's trigger register.
func triggerRegisterValue(tr crateconfig.Trigger) uint32 {
	switch tr.Type {
	case crateconfig.TriggerIRQ:
		return mvlcconst.TriggerSourceIRQ | uint32(tr.IRQLevel)<<8
	case crateconfig.TriggerTimer:
		return mvlcconst.TriggerSourceTimer | tr.PeriodUs<<8
	case crateconfig.TriggerSoftware:
		return mvlcconst.TriggerSourceSoftware
	default:
		return mvlcconst.TriggerSourceNone
	}
}

// SetupReadoutTriggers arms every configured event's stack by writing its
// trigger register (spec.md §4.K).
func (d *Dialog) SetupReadoutTriggers(ctx context.Context, cfg *crateconfig.Config) error {
	for i, ev := range cfg.Events {
		reg := mvlcconst.StackTriggerRegister(ev.StackID)
		if err := d.WriteRegister(ctx, reg, triggerRegisterValue(ev.Trigger)); err != nil {
			return fmt.Errorf("dialog: arming trigger for event %d (%q): %w", i, ev.Name, err)
		}
	}
	return nil
}

// DisableReadoutTriggers writes TriggerSourceNone to every configured
// event's trigger register, the first step of a stop sequence (spec.md
// §4.K: "On stop, triggers are disabled").
func (d *Dialog) DisableReadoutTriggers(ctx context.Context, cfg *crateconfig.Config) error {
	for i, ev := range cfg.Events {
		reg := mvlcconst.StackTriggerRegister(ev.StackID)
		if err := d.WriteRegister(ctx, reg, mvlcconst.TriggerSourceNone); err != nil {
			return fmt.Errorf("dialog: disarming trigger for event %d (%q): %w", i, ev.Name, err)
		}
	}
	return nil
}

// EnableDAQMode puts the controller into autonomous readout mode, the
// last step of the start sequence (spec.md §4.K).
func (d *Dialog) EnableDAQMode(ctx context.Context) error {
	return d.WriteRegister(ctx, mvlcconst.DAQModeRegister, mvlcconst.DAQModeEnabled)
}

// DisableDAQMode takes the controller out of autonomous readout mode.
func (d *Dialog) DisableDAQMode(ctx context.Context) error {
	return d.WriteRegister(ctx, mvlcconst.DAQModeRegister, mvlcconst.DAQModeDisabled)
}

// RedirectETHDataStream tells the controller to send its data pipe
// traffic to the host that issued the redirect datagram. It is a no-op
// over USB, where the data pipe is a bulk endpoint rather than a UDP
// stream (spec.md §4.A/§4.D).
func (d *Dialog) RedirectETHDataStream(ctx context.Context) error {
	if d.t.Kind() != transport.KindETH {
		return nil
	}
	return d.WriteRegister(ctx, mvlcconst.ETHRedirectReg, 1)
}
