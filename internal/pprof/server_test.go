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

package pprof_test

import (
	"net"
	"strconv"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mesytec-mvlc-go/mvlc/internal/config"
	"github.com/mesytec-mvlc-go/mvlc/internal/pprof"
)

func TestCreatePProfServer_DisabledReturnsNil(t *testing.T) {
	t.Parallel()
	cfg := &config.Config{PProf: config.PProf{Enabled: false}}
	require.NoError(t, pprof.CreatePProfServer(cfg))
}

func TestCreatePProfServer_PortInUseReturnsError(t *testing.T) {
	t.Parallel()

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer listener.Close()

	port := listener.Addr().(*net.TCPAddr).Port
	cfg := &config.Config{
		PProf: config.PProf{
			Enabled: true,
			Bind:    "127.0.0.1",
			Port:    port,
		},
	}

	err = pprof.CreatePProfServer(cfg)
	require.Error(t, err)
	require.Contains(t, err.Error(), "127.0.0.1:"+strconv.Itoa(port))
}
