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

// Package cmd wires the driver's cobra CLI (SPEC_FULL.md §2.4): "run"
// opens a controller and streams readout until a signal arrives,
// "scanbus" sweeps VME addresses, "version" prints build info.
package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/USA-RedDragon/configulator"
	"github.com/lmittmann/tint"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/mesytec-mvlc-go/mvlc/internal/config"
	"github.com/mesytec-mvlc-go/mvlc/internal/crateconfig"
	"github.com/mesytec-mvlc-go/mvlc/internal/dialog"
	"github.com/mesytec-mvlc-go/mvlc/internal/driver"
	"github.com/mesytec-mvlc-go/mvlc/internal/metrics"
	"github.com/mesytec-mvlc-go/mvlc/internal/readoutdata"
	"github.com/mesytec-mvlc-go/mvlc/internal/mvlcconst"
	"github.com/mesytec-mvlc-go/mvlc/internal/mvlcerr"
	"github.com/mesytec-mvlc-go/mvlc/internal/pprof"
	"github.com/mesytec-mvlc-go/mvlc/internal/stackerror"
	"github.com/mesytec-mvlc-go/mvlc/internal/transport"
)

// NewCommand builds the root command and its subcommands. cfgr is shared
// across subcommands so every one of them loads the same configuration
// surface (SPEC_FULL.md §2.2).
func NewCommand(cfgr *configulator.Configulator[config.Config], version, commit string) *cobra.Command {
	root := &cobra.Command{
		Use:     "mvlc",
		Short:   "Host driver for the Mesytec MVLC VME crate controller",
		Version: fmt.Sprintf("%s - %s", version, commit),
		Annotations: map[string]string{
			"version": version,
			"commit":  commit,
		},
		SilenceErrors:     true,
		DisableAutoGenTag: true,
	}

	root.AddCommand(newRunCommand(cfgr))
	root.AddCommand(newScanBusCommand(cfgr))
	root.AddCommand(newVersionCommand(version, commit))

	return root
}

func newVersionCommand(version, commit string) *cobra.Command {
	return &cobra.Command{
		Use:               "version",
		Short:             "Print version information",
		DisableAutoGenTag: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			fmt.Fprintf(cmd.OutOrStdout(), "mvlc %s (%s)\n", version, commit)
			return nil
		},
	}
}

// loadConfig loads and validates the configuration shared by every
// subcommand.
func loadConfig(cfgr *configulator.Configulator[config.Config]) (*config.Config, error) {
	cfg, err := cfgr.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return cfg, nil
}

// setupLogger configures the process-wide structured logger the way the
// teacher's own cmd/root.go does: a tint handler switched by level, with
// warn/error routed to stderr.
func setupLogger(cfg *config.Config) {
	var logger *slog.Logger
	switch cfg.LogLevel {
	case config.LogLevelDebug:
		logger = slog.New(tint.NewHandler(os.Stdout, &tint.Options{Level: slog.LevelDebug}))
	case config.LogLevelInfo:
		logger = slog.New(tint.NewHandler(os.Stdout, &tint.Options{Level: slog.LevelInfo}))
	case config.LogLevelWarn:
		logger = slog.New(tint.NewHandler(os.Stderr, &tint.Options{Level: slog.LevelWarn}))
	case config.LogLevelError:
		logger = slog.New(tint.NewHandler(os.Stderr, &tint.Options{Level: slog.LevelError}))
	default:
		logger = slog.New(tint.NewHandler(os.Stdout, &tint.Options{Level: slog.LevelInfo}))
	}
	slog.SetDefault(logger)
}

// openTransport dials the controller named by cfg.Transport.ControllerURI
// (spec.md §6). USB targets are parsed but cannot be dialed in this
// build: no FTDI D3XX binding exists anywhere in the retrieved example
// corpus (see DESIGN.md), so a real BulkDevice factory has nothing to be
// grounded on and usb:// returns ErrConnectionError instead of silently
// pretending to connect.
func openTransport(ctx context.Context, cfg *config.Config) (transport.Transport, error) {
	target, err := transport.ParseURI(cfg.Transport.ControllerURI)
	if err != nil {
		return nil, err
	}

	var t transport.Transport
	switch target.Kind {
	case transport.KindUSB:
		t = transport.NewUSBTransport(func() (transport.BulkDevice, error) {
			return nil, fmt.Errorf("%w: USB transport has no bulk-device binding in this build", mvlcerr.ErrConnectionError)
		})
	case transport.KindETH:
		t = transport.NewETHTransport(target.Host, transport.ETHPorts{
			Command: mvlcconst.DefaultETHCommandPort,
			Data:    mvlcconst.DefaultETHDataPort,
		})
	}

	t.SetReadTimeout(transport.PipeCommand, cfg.Transport.CommandReadTimeout)
	t.SetReadTimeout(transport.PipeData, cfg.Transport.DataReadTimeout)

	if err := t.Connect(ctx); err != nil {
		return nil, err
	}
	return t, nil
}

func newRunCommand(cfgr *configulator.Configulator[config.Config]) *cobra.Command {
	return &cobra.Command{
		Use:               "run",
		Short:             "Connect to a crate controller and stream readout until stopped",
		DisableAutoGenTag: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runRun(cmd.Context(), cfgr)
		},
	}
}

func runRun(ctx context.Context, cfgr *configulator.Configulator[config.Config]) error {
	cfg, err := loadConfig(cfgr)
	if err != nil {
		return err
	}
	setupLogger(cfg)

	crateYAML, err := os.ReadFile(cfg.Readout.CrateConfigPath)
	if err != nil {
		return fmt.Errorf("reading crate config: %w", err)
	}
	crate, err := crateconfig.Parse(crateYAML)
	if err != nil {
		return err
	}

	t, err := openTransport(ctx, cfg)
	if err != nil {
		return fmt.Errorf("connecting to controller: %w", err)
	}
	defer func() {
		if err := t.Disconnect(); err != nil {
			slog.Error("disconnecting transport", "error", err)
		}
	}()

	errs := stackerror.NewCollector()
	drv := driver.New(t, errs, slog.Default())

	var lw *os.File
	if cfg.Readout.ListfilePath != "" {
		lw, err = os.Create(cfg.Readout.ListfilePath)
		if err != nil {
			return fmt.Errorf("creating listfile: %w", err)
		}
		defer lw.Close()
	}

	signalCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	group, gctx := errgroup.WithContext(signalCtx)
	if cfg.Metrics.Enabled {
		group.Go(func() error { return metrics.CreateMetricsServer(cfg) })
	}
	if cfg.PProf.Enabled {
		group.Go(func() error { return pprof.CreatePProfServer(cfg) })
	}

	opts := driver.Options{
		CrateConfig:            crate,
		CrateIndex:             cfg.Readout.CrateIndex,
		StackErrorPollInterval: cfg.Readout.StackErrorPollInterval,
		OnEvent: func(crateIndex, eventIndex int, modules []readoutdata.ModuleData) {
			slog.Debug("correlated event", "crate", crateIndex, "event", eventIndex, "modules", len(modules))
		},
	}
	if lw != nil {
		opts.ListfileWriter = lw
	}

	if err := drv.Start(gctx, opts); err != nil {
		return fmt.Errorf("starting readout driver: %w", err)
	}
	slog.Info("readout running", "crate", crate.Name)

	<-signalCtx.Done()
	slog.Info("shutting down")

	stopCtx, cancel := context.WithTimeout(context.Background(), cfg.Transport.CommandReadTimeout*10)
	defer cancel()
	if err := drv.Stop(stopCtx, crate); err != nil {
		slog.Error("stopping driver", "error", err)
	}

	return nil
}

func newScanBusCommand(cfgr *configulator.Configulator[config.Config]) *cobra.Command {
	var full bool
	cmd := &cobra.Command{
		Use:               "scanbus",
		Short:             "Probe the VME bus for responding modules",
		DisableAutoGenTag: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runScanBus(cmd.Context(), cfgr, full, cmd)
		},
	}
	cmd.Flags().BoolVar(&full, "full", false, "use the full 4 KWord stack memory instead of the immediate-execution reserve")
	return cmd
}

func runScanBus(ctx context.Context, cfgr *configulator.Configulator[config.Config], full bool, cmd *cobra.Command) error {
	cfg, err := loadConfig(cfgr)
	if err != nil {
		return err
	}
	setupLogger(cfg)

	t, err := openTransport(ctx, cfg)
	if err != nil {
		return fmt.Errorf("connecting to controller: %w", err)
	}
	defer t.Disconnect()

	d := dialog.New(t, stackerror.NewCollector())
	opts := dialog.DefaultScanOptions()
	opts.Full = full

	results, err := d.ScanBus(ctx, opts)
	if err != nil {
		return fmt.Errorf("scanning bus: %w", err)
	}

	for _, r := range results {
		name := r.ModuleName
		if name == "" {
			name = "unknown"
		}
		fmt.Fprintf(cmd.OutOrStdout(), "0x%08x  hw=0x%04x fw=0x%04x  %s\n", r.BaseAddress, r.HardwareID, r.FirmwareID, name)
	}
	return nil
}
