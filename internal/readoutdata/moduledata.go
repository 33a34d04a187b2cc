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

// Package readoutdata holds the ModuleData type shared between the readout
// parser (which produces it) and the event builder (which consumes it),
// so neither package needs to import the other (spec.md §4.H/§4.I).
package readoutdata

// ModuleData supplies the three spans a parsed module contributes to one
// readout event: prefix, one optional dynamic (block-read) payload, and
// suffix. Spans point into parser-owned scratch memory and are only
// guaranteed valid for the duration of a single callback; the event
// builder clones whatever it retains (spec.md §4.H).
type ModuleData struct {
	Prefix  []uint32
	Dynamic []uint32
	Suffix  []uint32
}

// Clone makes an independent copy of d, since the event builder must hold
// module data across multiple record/flush cycles after the parser's
// scratch buffer has been reused.
func (d ModuleData) Clone() ModuleData {
	return ModuleData{
		Prefix:  append([]uint32(nil), d.Prefix...),
		Dynamic: append([]uint32(nil), d.Dynamic...),
		Suffix:  append([]uint32(nil), d.Suffix...),
	}
}

// IsEmpty reports whether d carries no words in any span, the shape used
// for event-builder "emit empty span" output.
func (d ModuleData) IsEmpty() bool {
	return len(d.Prefix) == 0 && len(d.Dynamic) == 0 && len(d.Suffix) == 0
}
