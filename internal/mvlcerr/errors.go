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

// Package mvlcerr holds the single error taxonomy shared by every layer
// of the driver (spec.md §7): transport, protocol, VME, configuration,
// and readout errors. Call sites wrap these sentinels with fmt.Errorf's
// %w so callers can still errors.Is against the category.
package mvlcerr

import "errors"

// Transport errors.
var (
	ErrConnectionError  = errors.New("mvlc: transport connection error")
	ErrTimeout          = errors.New("mvlc: transport timeout")
	ErrShortTransfer    = errors.New("mvlc: short transfer")
	ErrHostLookupFailed = errors.New("mvlc: host lookup failed")
)

// Protocol errors.
var (
	ErrInvalidFrameHeader    = errors.New("mvlc: invalid frame header")
	ErrLengthMismatch        = errors.New("mvlc: frame length mismatch")
	ErrRefWordMismatch       = errors.New("mvlc: reference word mismatch")
	ErrSuperFormatError      = errors.New("mvlc: malformed super buffer")
	ErrUnexpectedContinuation = errors.New("mvlc: unexpected continuation frame")
)

// VME errors.
var (
	ErrVMEBusError    = errors.New("mvlc: VME bus error")
	ErrVMETimeout     = errors.New("mvlc: VME timeout")
	ErrVMESyntaxError = errors.New("mvlc: VME syntax error")
)

// Configuration errors.
var (
	ErrInvalidStackID      = errors.New("mvlc: invalid stack id")
	ErrStackMemoryOverflow = errors.New("mvlc: stack memory overflow")
	ErrUnknownURIScheme    = errors.New("mvlc: unknown controller URI scheme")
)

// Readout errors.
var (
	ErrBufferOverrun   = errors.New("mvlc: buffer overrun")
	ErrParserException = errors.New("mvlc: parser exception")
)
