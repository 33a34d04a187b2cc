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

package transport

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/mesytec-mvlc-go/mvlc/internal/mvlcerr"
)

// Target is the result of parsing a controller selection URI (spec.md
// §6): "usb://" (first device), "usb://<serial>", "usb://@<index>",
// "eth://<host>", "udp://<host>", or a bare hostname. ParseURI is a pure
// function over the string so it can be exhaustively table-tested
// without touching any device.
type Target struct {
	Kind Kind

	// USB selectors; at most one is set. Both zero means "first device".
	USBSerial   string
	USBIndex    int
	USBHasIndex bool

	// ETH/UDP selector.
	Host string
}

// ParseURI classifies a controller URI into a Target without dialing
// anything.
func ParseURI(uri string) (Target, error) {
	switch {
	case strings.HasPrefix(uri, "usb://"):
		return parseUSB(strings.TrimPrefix(uri, "usb://")), nil
	case strings.HasPrefix(uri, "eth://"):
		host := strings.TrimPrefix(uri, "eth://")
		if host == "" {
			return Target{}, fmt.Errorf("%w: empty eth:// host", mvlcerr.ErrUnknownURIScheme)
		}
		return Target{Kind: KindETH, Host: host}, nil
	case strings.HasPrefix(uri, "udp://"):
		host := strings.TrimPrefix(uri, "udp://")
		if host == "" {
			return Target{}, fmt.Errorf("%w: empty udp:// host", mvlcerr.ErrUnknownURIScheme)
		}
		return Target{Kind: KindETH, Host: host}, nil
	case strings.Contains(uri, "://"):
		return Target{}, fmt.Errorf("%w: %q", mvlcerr.ErrUnknownURIScheme, uri)
	case uri == "":
		return Target{}, fmt.Errorf("%w: empty controller URI", mvlcerr.ErrUnknownURIScheme)
	default:
		// Bare hostname: treated as an ETH/UDP target (spec.md §6).
		return Target{Kind: KindETH, Host: uri}, nil
	}
}

func parseUSB(rest string) Target {
	if rest == "" {
		return Target{Kind: KindUSB}
	}
	if strings.HasPrefix(rest, "@") {
		if idx, err := strconv.Atoi(strings.TrimPrefix(rest, "@")); err == nil {
			return Target{Kind: KindUSB, USBIndex: idx, USBHasIndex: true}
		}
		// Not a valid index: fall through and treat the whole thing as
		// a serial string rather than failing the parse outright, since
		// serials can legitimately start with odd characters.
	}
	return Target{Kind: KindUSB, USBSerial: rest}
}
