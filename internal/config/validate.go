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
//
// The source code is available at <https://github.com/mesytec-mvlc-go/mvlc>

package config

import (
	"errors"

	"github.com/mesytec-mvlc-go/mvlc/internal/transport"
)

var (
	// ErrInvalidLogLevel indicates that the provided log level is not valid.
	ErrInvalidLogLevel = errors.New("invalid log level provided")
	// ErrControllerURIRequired indicates that no controller URI was configured.
	ErrControllerURIRequired = errors.New("controller URI is required")
	// ErrInvalidMetricsBindAddress indicates that the provided metrics server bind address is not valid.
	ErrInvalidMetricsBindAddress = errors.New("invalid metrics server bind address provided")
	// ErrInvalidMetricsPort indicates that the provided metrics server port is not valid.
	ErrInvalidMetricsPort = errors.New("invalid metrics server port provided")
	// ErrInvalidPProfBindAddress indicates that the provided pprof server bind address is not valid.
	ErrInvalidPProfBindAddress = errors.New("invalid pprof server bind address provided")
	// ErrInvalidPProfPort indicates that the provided pprof server port is not valid.
	ErrInvalidPProfPort = errors.New("invalid pprof server port provided")
	// ErrCrateConfigPathRequired indicates that no crate configuration path was provided.
	ErrCrateConfigPathRequired = errors.New("crate config path is required")
)

// Validate validates the Metrics configuration.
func (m Metrics) Validate() error {
	if !m.Enabled {
		return nil
	}

	if m.Bind == "" {
		return ErrInvalidMetricsBindAddress
	}
	if m.Port <= 0 || m.Port > 65535 {
		return ErrInvalidMetricsPort
	}

	return nil
}

// Validate validates the PProf configuration.
func (p PProf) Validate() error {
	if !p.Enabled {
		return nil
	}

	if p.Bind == "" {
		return ErrInvalidPProfBindAddress
	}
	if p.Port <= 0 || p.Port > 65535 {
		return ErrInvalidPProfPort
	}

	return nil
}

// Validate validates the Transport configuration: the controller URI
// must parse per spec.md §6's scheme grammar.
func (t Transport) Validate() error {
	if t.ControllerURI == "" {
		return ErrControllerURIRequired
	}
	if _, err := transport.ParseURI(t.ControllerURI); err != nil {
		return err
	}
	return nil
}

// Validate validates the Readout configuration.
func (r Readout) Validate() error {
	if r.CrateConfigPath == "" {
		return ErrCrateConfigPathRequired
	}
	return nil
}

// Validate validates the application configuration as a whole.
func (c Config) Validate() error {
	if c.LogLevel != LogLevelDebug &&
		c.LogLevel != LogLevelInfo &&
		c.LogLevel != LogLevelWarn &&
		c.LogLevel != LogLevelError {
		return ErrInvalidLogLevel
	}

	if err := c.Transport.Validate(); err != nil {
		return err
	}

	if err := c.Readout.Validate(); err != nil {
		return err
	}

	if err := c.Metrics.Validate(); err != nil {
		return err
	}

	if err := c.PProf.Validate(); err != nil {
		return err
	}

	return nil
}
