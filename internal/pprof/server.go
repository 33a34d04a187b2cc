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

// Package pprof exposes Go's runtime profiler over HTTP behind gin, for
// attaching a live profiler to a running readout driver without adding a
// profiling flag to the main binary's own command line.
package pprof

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"

	pprofgin "github.com/gin-contrib/pprof"
	"github.com/gin-gonic/gin"

	"github.com/mesytec-mvlc-go/mvlc/internal/config"
)

const readTimeout = 3 * time.Second

// CreatePProfServer blocks serving net/http/pprof's handlers on
// cfg.PProf.Bind:Port until the listener fails. It is a no-op returning
// nil when pprof is disabled.
func CreatePProfServer(cfg *config.Config) error {
	if !cfg.PProf.Enabled {
		return nil
	}

	r := gin.New()
	r.Use(gin.Logger())
	r.Use(gin.Recovery())

	if err := r.SetTrustedProxies(cfg.PProf.TrustedProxies); err != nil {
		slog.Error("failed setting trusted proxies", "error", err)
	}

	pprofgin.Register(r)

	server := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.PProf.Bind, cfg.PProf.Port),
		Handler:           r,
		ReadHeaderTimeout: readTimeout,
	}
	slog.Info("pprof server listening", "address", server.Addr)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("pprof server: %w", err)
	}
	return nil
}
