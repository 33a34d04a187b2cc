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

// Package config holds the driver's process-wide configuration surface
// (SPEC_FULL.md §2.2): the controller selection URI, transport tunables,
// readout run settings, and the ambient logging/metrics/pprof knobs.
// Stack-memory layout constants live in internal/mvlcconst, not here.
// It is loaded through github.com/USA-RedDragon/configulator, the same
// generic env+flag+YAML loader the teacher's cmd/root.go uses, rather
// than a bespoke os.Getenv parser.
package config

import "time"

// Metrics configures the Prometheus metrics HTTP endpoint.
type Metrics struct {
	Enabled bool   `yaml:"enabled" default:"false"`
	Bind    string `yaml:"bind" default:"0.0.0.0"`
	Port    int    `yaml:"port" default:"2112"`
}

// PProf configures the debug pprof HTTP endpoint.
type PProf struct {
	Enabled        bool     `yaml:"enabled" default:"false"`
	Bind           string   `yaml:"bind" default:"0.0.0.0"`
	Port           int      `yaml:"port" default:"6060"`
	TrustedProxies []string `yaml:"trusted-proxies"`
}

// Transport configures how the driver reaches the controller and the
// wire-level tunables from spec.md §6/§5.
type Transport struct {
	// ControllerURI selects the link and target per spec.md §6:
	// "usb://", "usb://<serial>", "usb://@<index>", "eth://<host>",
	// "udp://<host>", or a bare hostname.
	ControllerURI string `yaml:"controller-uri"`

	CommandReadTimeout time.Duration `yaml:"command-read-timeout" default:"500ms"`
	DataReadTimeout    time.Duration `yaml:"data-read-timeout" default:"500ms"`
	WriteTimeout       time.Duration `yaml:"write-timeout" default:"500ms"`

	// USBStreamPipeReadSize and JumboFrameMaxSize mirror the bounds on a
	// single producer read call (spec.md §4.F). The producer does not read
	// these fields; it uses internal/readout's constants of the same names.
	USBStreamPipeReadSize int `yaml:"usb-stream-pipe-read-size" default:"65536"`
	JumboFrameMaxSize     int `yaml:"jumbo-frame-max-size" default:"9000"`

	// FlushBufferTimeout mirrors how long the producer may hold a
	// partially filled buffer (spec.md §5). The producer does not read it;
	// it uses internal/readout.FlushBufferTimeout.
	FlushBufferTimeout time.Duration `yaml:"flush-buffer-timeout" default:"500ms"`
}

// Readout configures one run of the readout driver (spec.md §4.K).
type Readout struct {
	// CrateConfigPath points at the YAML crate configuration (stacks,
	// triggers, init commands) parsed by internal/crateconfig.
	CrateConfigPath string `yaml:"crate-config-path"`

	// ListfilePath, if non-empty, enables recording: raw readout
	// buffers plus the crate-config preamble are written there
	// (spec.md §6).
	ListfilePath string `yaml:"listfile-path"`

	// CrateIndex tags every event_data callback this run produces,
	// allowing a multi-crate setup to disambiguate sources downstream.
	CrateIndex int `yaml:"crate-index" default:"0"`

	// StackErrorPollInterval drives the stack-error poller thread
	// (spec.md §5). Zero disables the poller.
	StackErrorPollInterval time.Duration `yaml:"stack-error-poll-interval" default:"1s"`
}

// Config stores the application configuration.
type Config struct {
	LogLevel LogLevel `yaml:"log-level" default:"info"`
	Debug    bool     `yaml:"debug" default:"false"`

	Transport Transport `yaml:"transport"`
	Readout   Readout   `yaml:"readout"`

	Metrics Metrics `yaml:"metrics"`
	PProf   PProf   `yaml:"pprof"`
}
