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

package eventbuilder

import "github.com/mesytec-mvlc-go/mvlc/internal/crateconfig"

// DefaultWindow is the match window used for a module that doesn't
// configure one explicitly (spec.md §4.I second half leaves the exact
// width to the crate config; this mirrors the worked examples' window
// of 16).
const DefaultWindow uint32 = 16

// ConfigsFromCrate derives one EventConfig per readout event from a
// crate configuration's module list, in event-index order, so the
// driver can build one Builder per event without hand-authoring the
// correlation setup alongside the YAML readout structure.
func ConfigsFromCrate(cfg *crateconfig.Config, crateIndex int) []EventConfig {
	out := make([]EventConfig, len(cfg.Events))
	for i, ev := range cfg.Events {
		modules := make([]ModuleConfig, len(ev.Modules))
		for j, m := range ev.Modules {
			window := m.TimestampWindow
			if window == 0 {
				window = DefaultWindow
			}
			modules[j] = ModuleConfig{
				TSExtractor: DefaultExtractor,
				Offset:      m.TimestampOffset,
				Window:      window,
				Ignored:     m.IgnoreTimestamp,
				HasDynamic:  m.HasDynamic,
				PrefixSize:  m.PrefixLen,
			}
		}
		out[i] = EventConfig{Modules: modules, OutputCrateIndex: crateIndex}
	}
	return out
}
