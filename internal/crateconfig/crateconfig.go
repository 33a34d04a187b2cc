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

// Package crateconfig parses the YAML declaration of a run's stacks,
// triggers, and init command list (the "crate config" of spec.md's
// GLOSSARY) and turns it into the command builders the dialog layer and
// readout parser need. The YAML text itself is also what gets persisted
// into every listfile's preamble (spec.md §6).
package crateconfig

import (
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/mesytec-mvlc-go/mvlc/internal/command"
	"github.com/mesytec-mvlc-go/mvlc/internal/mvlcconst"
)

// TriggerType selects what arms a stack's execution.
type TriggerType string

const (
	TriggerIRQ      TriggerType = "irq"
	TriggerTimer    TriggerType = "timer"
	TriggerSoftware TriggerType = "software"
)

// Trigger describes what arms one readout stack (spec.md §4.K
// setup_readout_triggers).
type Trigger struct {
	Type     TriggerType `yaml:"type"`
	IRQLevel int         `yaml:"irq_level,omitempty"`
	PeriodUs uint32      `yaml:"period_us,omitempty"`
}

// Module describes one module's contribution to an event's readout frame
// for the parser's readoutStructure (spec.md §4.H) and, for modules that
// embed a free-running timestamp in their data, the event builder's
// correlation window for it (spec.md §4.I second half).
type Module struct {
	Name       string `yaml:"name"`
	PrefixLen  int    `yaml:"prefix_len"`
	HasDynamic bool   `yaml:"has_dynamic"`
	SuffixLen  int    `yaml:"suffix_len"`

	TimestampWindow uint32 `yaml:"timestamp_window,omitempty"`
	TimestampOffset int32  `yaml:"timestamp_offset,omitempty"`
	IgnoreTimestamp bool   `yaml:"ignore_timestamp,omitempty"`
}

// Command is one step of either a crate init sequence or an event's
// readout stack, expressed declaratively so it can round-trip through
// YAML. Op selects which fields apply.
type Command struct {
	Op           string `yaml:"op"`
	Address      uint32 `yaml:"address,omitempty"`
	Value        uint32 `yaml:"value,omitempty"`
	AMod         uint8  `yaml:"amod,omitempty"`
	Width        string `yaml:"width,omitempty"`      // "d16" or "d32"
	BlockMode    string `yaml:"block_mode,omitempty"` // "blt", "mblt", "mblt_swapped", "fifo"
	MaxTransfers uint16 `yaml:"max_transfers,omitempty"`
	Cycles       uint16 `yaml:"cycles,omitempty"`
	Milliseconds uint16 `yaml:"milliseconds,omitempty"`
	Module       int    `yaml:"module,omitempty"` // index into the owning Event's Modules list
}

// Event describes one readout stack: which modules contribute data to
// it, what arms its execution, and the VME command sequence that reads
// it out.
type Event struct {
	Name     string    `yaml:"name"`
	StackID  int       `yaml:"stack_id"`
	Trigger  Trigger   `yaml:"trigger"`
	Modules  []Module  `yaml:"modules"`
	Commands []Command `yaml:"commands"`
}

// Config is the full crate declaration: a name, a one-shot init command
// sequence run before the DAQ is armed, and the set of readout events
// (stacks 1..7; stack 0 is reserved for immediate execution per
// spec.md §4.K).
type Config struct {
	Name         string    `yaml:"name"`
	InitCommands []Command `yaml:"init_commands"`
	Events       []Event   `yaml:"events"`

	raw []byte
}

// Parse decodes YAML crate config text. The raw bytes are retained
// verbatim (not re-marshaled) so Raw() round-trips exactly what a human
// author wrote into the listfile preamble.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("crateconfig: parsing YAML: %w", err)
	}
	cfg.raw = append([]byte(nil), data...)
	for i, ev := range cfg.Events {
		if ev.StackID <= 0 || ev.StackID > 7 {
			return nil, fmt.Errorf("crateconfig: event %q has out-of-range stack id %d (valid range 1..7)", ev.Name, ev.StackID)
		}
		_ = i
	}
	return &cfg, nil
}

// Raw returns the exact YAML bytes Config was parsed from.
func (c *Config) Raw() []byte {
	return c.raw
}

func widthFromString(s string) mvlcconst.VMEDataWidth {
	if s == "d32" {
		return mvlcconst.VMED32
	}
	return mvlcconst.VMED16
}

func blockModeFromString(s string) byte {
	switch s {
	case "mblt":
		return mvlcconst.BlockReadModeMBLT
	case "mblt_swapped":
		return mvlcconst.BlockReadModeMBLTSwap
	case "fifo":
		return mvlcconst.BlockReadModeFIFO
	default:
		return mvlcconst.BlockReadModeBLT
	}
}

// BuildStack renders one event's Commands into a StackCommandBuilder
// ready for SuperCommandBuilder.StackUpload (spec.md §4.C).
func BuildStack(ev Event) (*command.StackCommandBuilder, error) {
	b := command.NewStackCommandBuilder()
	for _, c := range ev.Commands {
		switch c.Op {
		case "vme_read":
			b.VMERead(c.Address, c.AMod, widthFromString(c.Width))
		case "vme_write":
			b.VMEWrite(c.Address, c.Value, c.AMod, widthFromString(c.Width))
		case "vme_block_read":
			b.VMEBlockRead(c.Address, c.AMod, c.MaxTransfers, blockModeFromString(c.BlockMode))
		case "write_marker":
			b.WriteMarker(c.Value)
		case "write_special":
			b.WriteSpecial(c.Value)
		case "wait":
			b.Wait(c.Cycles)
		case "software_delay":
			b.SoftwareDelay(c.Milliseconds)
		default:
			return nil, fmt.Errorf("crateconfig: event %q: unknown stack command op %q", ev.Name, c.Op)
		}
	}
	return b, nil
}

// ModuleFraming is what the readout parser needs per module: how many
// prefix/suffix words to expect and whether a dynamic (block-read) span
// is embedded between them (spec.md §4.H).
type ModuleFraming struct {
	PrefixLen  int
	HasDynamic bool
	SuffixLen  int
}

// ReadoutStructure derives the parser's readoutStructure[event_index]
// table from the configured events, in event-index order (spec.md §4.H).
func (c *Config) ReadoutStructure() [][]ModuleFraming {
	out := make([][]ModuleFraming, len(c.Events))
	for i, ev := range c.Events {
		framing := make([]ModuleFraming, len(ev.Modules))
		for j, m := range ev.Modules {
			framing[j] = ModuleFraming{PrefixLen: m.PrefixLen, HasDynamic: m.HasDynamic, SuffixLen: m.SuffixLen}
		}
		out[i] = framing
	}
	return out
}

// StackIDForEvent returns the configured stack id for eventIndex, used by
// the driver when it uploads stacks and the parser when it associates a
// StackFrame's stack number back to an event index.
func (c *Config) StackIDForEvent(eventIndex int) (int, error) {
	if eventIndex < 0 || eventIndex >= len(c.Events) {
		return 0, fmt.Errorf("crateconfig: event index %d out of range", eventIndex)
	}
	return c.Events[eventIndex].StackID, nil
}

// EventIndexForStackID is the inverse of StackIDForEvent, used by the
// parser to dispatch an incoming StackFrame to the right state machine.
func (c *Config) EventIndexForStackID(stackID int) (int, bool) {
	for i, ev := range c.Events {
		if ev.StackID == stackID {
			return i, true
		}
	}
	return 0, false
}
