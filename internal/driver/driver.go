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

// Package driver implements the readout state machine (spec.md §4.K):
// Idle → Starting → Running → Paused → Running → Stopping → Idle,
// orchestrating the transport, dialog layer, producer, parser, and
// optional listfile writer as one run.
package driver

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/go-co-op/gocron/v2"
	"golang.org/x/sync/errgroup"

	"github.com/mesytec-mvlc-go/mvlc/internal/crateconfig"
	"github.com/mesytec-mvlc-go/mvlc/internal/dialog"
	"github.com/mesytec-mvlc-go/mvlc/internal/eventbuilder"
	"github.com/mesytec-mvlc-go/mvlc/internal/listfile"
	"github.com/mesytec-mvlc-go/mvlc/internal/mvlcconst"
	"github.com/mesytec-mvlc-go/mvlc/internal/queue"
	"github.com/mesytec-mvlc-go/mvlc/internal/readout"
	"github.com/mesytec-mvlc-go/mvlc/internal/readoutdata"
	"github.com/mesytec-mvlc-go/mvlc/internal/stackerror"
	"github.com/mesytec-mvlc-go/mvlc/internal/transport"
)

// State is one of the driver's lifecycle states (spec.md §4.K).
type State int

const (
	StateIdle State = iota
	StateStarting
	StateRunning
	StatePaused
	StateStopping
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StatePaused:
		return "paused"
	case StateStopping:
		return "stopping"
	default:
		return "unknown"
	}
}

// bufferPoolCount and bufferSizeBytes follow spec.md §5's "~10 buffers
// of 1 MiB each".
const (
	bufferPoolCount = 10
	bufferSizeBytes = 1 << 20
)

// Options configures one Driver run.
type Options struct {
	CrateConfig            *crateconfig.Config
	CrateIndex             int
	ListfileWriter         io.Writer // nil disables recording
	StackErrorPollInterval time.Duration

	// OnEvent receives fully correlated events once the event builder has
	// matched every contributing module's data (spec.md §2: "Parser →
	// EventBuilder → user callbacks"). Nil discards correlated events.
	OnEvent eventbuilder.EventCallback
}

// Driver orchestrates one run against a connected transport (spec.md
// §4.K/§5).
type Driver struct {
	t      transport.Transport
	dialog *dialog.Dialog
	errs   *stackerror.Collector
	log    *slog.Logger

	mu    sync.Mutex
	state State

	cancel context.CancelFunc
	group  *errgroup.Group
	pool   *queue.Pool

	builders []*eventbuilder.Builder
}

// New builds a Driver over an already-connected transport.
func New(t transport.Transport, errs *stackerror.Collector, log *slog.Logger) *Driver {
	if log == nil {
		log = slog.Default()
	}
	return &Driver{
		t:      t,
		dialog: dialog.New(t, errs),
		errs:   errs,
		log:    log,
		state:  StateIdle,
	}
}

// State reports the driver's current lifecycle state.
func (d *Driver) State() State {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

func (d *Driver) transition(from, to State) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.state != from {
		return fmt.Errorf("driver: cannot move to %v from %v (expected %v)", to, d.state, from)
	}
	d.state = to
	return nil
}

// Start runs the crate-init command list, uploads readout stacks, arms
// triggers, enables DAQ mode, and spawns the producer and parser
// goroutines (the parser goroutine also writes the listfile) plus, when
// StackErrorPollInterval is set, the stack-error poller (spec.md §4.K).
// It returns once the run is fully Running; the
// spawned threads continue until Stop is called or ctx is canceled.
func (d *Driver) Start(ctx context.Context, opts Options) error {
	if err := d.transition(StateIdle, StateStarting); err != nil {
		return err
	}

	if err := d.runInitCommands(ctx, opts.CrateConfig); err != nil {
		d.mu.Lock()
		d.state = StateIdle
		d.mu.Unlock()
		return fmt.Errorf("driver: init commands: %w", err)
	}

	if err := d.dialog.SetupReadoutStacks(ctx, opts.CrateConfig); err != nil {
		d.mu.Lock()
		d.state = StateIdle
		d.mu.Unlock()
		return err
	}
	if err := d.dialog.SetupReadoutTriggers(ctx, opts.CrateConfig); err != nil {
		d.mu.Lock()
		d.state = StateIdle
		d.mu.Unlock()
		return err
	}
	if err := d.dialog.RedirectETHDataStream(ctx); err != nil {
		d.mu.Lock()
		d.state = StateIdle
		d.mu.Unlock()
		return err
	}

	var lw *listfile.Writer
	if opts.ListfileWriter != nil {
		var err error
		lw, err = listfile.NewWriter(opts.ListfileWriter, d.t.Kind(), opts.CrateConfig.Raw())
		if err != nil {
			d.mu.Lock()
			d.state = StateIdle
			d.mu.Unlock()
			return fmt.Errorf("driver: listfile preamble: %w", err)
		}
	}

	if err := d.dialog.EnableDAQMode(ctx); err != nil {
		d.mu.Lock()
		d.state = StateIdle
		d.mu.Unlock()
		return err
	}

	runCtx, cancel := context.WithCancel(ctx)
	d.cancel = cancel
	d.pool = queue.NewPool(bufferPoolCount, bufferSizeBytes)
	group, gctx := errgroup.WithContext(runCtx)
	d.group = group

	onEvent := opts.OnEvent
	if onEvent == nil {
		onEvent = func(crateIndex, eventIndex int, modules []readoutdata.ModuleData) {}
	}
	eventCfgs := eventbuilder.ConfigsFromCrate(opts.CrateConfig, opts.CrateIndex)
	d.builders = make([]*eventbuilder.Builder, len(eventCfgs))
	for i, cfg := range eventCfgs {
		d.builders[i] = eventbuilder.NewBuilder(i, cfg, onEvent)
	}

	producer := readout.NewProducer(d.t, d.pool)
	parser := readout.NewParser(opts.CrateConfig, d.errs, opts.CrateIndex, d.onEvent, d.onSystemEventFunc(lw))

	group.Go(func() error {
		return producer.Run(gctx)
	})
	group.Go(func() error {
		return d.runParser(gctx, parser, lw)
	})
	if opts.StackErrorPollInterval > 0 {
		group.Go(func() error {
			return d.pollStackErrors(gctx, opts.StackErrorPollInterval)
		})
	}

	d.mu.Lock()
	d.state = StateRunning
	d.mu.Unlock()
	return nil
}

func (d *Driver) runInitCommands(ctx context.Context, cfg *crateconfig.Config) error {
	if len(cfg.InitCommands) == 0 {
		return nil
	}
	stack, err := crateconfig.BuildStack(crateconfig.Event{Name: "init", Commands: cfg.InitCommands})
	if err != nil {
		return err
	}
	_, err = d.dialog.StackTransaction(ctx, stack)
	return err
}

// onEvent is the readout parser's completed-event callback: one raw,
// per-module span straight off the wire, not yet correlated against any
// other module. It records the span into that event index's builder and
// drains whatever is now ready to emit (spec.md §2: "Parser →
// EventBuilder → user callbacks").
func (d *Driver) onEvent(crateIndex, eventIndex int, modules []readoutdata.ModuleData) {
	d.log.Debug("readout event", "crate", crateIndex, "event", eventIndex, "modules", len(modules))
	if eventIndex < 0 || eventIndex >= len(d.builders) {
		return
	}
	b := d.builders[eventIndex]
	if err := b.Record(modules); err != nil {
		d.log.Error("event builder: recording module data", "event", eventIndex, "error", err)
		return
	}
	b.Flush()
}

func (d *Driver) onSystemEventFunc(lw *listfile.Writer) readout.SystemEventCallback {
	return func(subtype mvlcconst.SystemEventType, payload []uint32) {
		d.log.Debug("system event", "subtype", subtype)
		if lw != nil {
			if err := lw.WriteSystemEvent(subtype, payload); err != nil {
				d.log.Error("listfile: writing system event", "error", err)
			}
		}
	}
}

// runParser drains the filled queue, feeding each buffer to parser and,
// if recording, to the listfile writer, until the shutdown sentinel
// arrives (spec.md §4.F/§5).
func (d *Driver) runParser(ctx context.Context, parser *readout.Parser, lw *listfile.Writer) error {
	for {
		buf, err := d.pool.Filled.DequeueBlocking(ctx)
		if err != nil {
			return err
		}
		if buf.IsSentinel() {
			d.pool.Free.Enqueue(buf)
			return nil
		}

		data := buf.Data[:buf.Len]
		var packetOffsets []int
		if d.t.Kind() != transport.KindUSB {
			packetOffsets = buf.PacketOffsets
		}
		parser.FeedBuffer(d.t.Kind(), data, packetOffsets)
		if lw != nil {
			if err := lw.WriteBuffer(data); err != nil {
				d.log.Error("listfile: writing buffer", "error", err)
			}
		}

		buf.Reset()
		d.pool.Free.Enqueue(buf)
	}
}

// pollStackErrors periodically issues a harmless register read on the
// command pipe to drain any StackErrorNotification frames interleaved
// with the wait (spec.md §5: "stack-error poller thread"), scheduled
// through gocron/v2 rather than a bare ticker so the poll cadence shares
// the same scheduling machinery as any other calendar/interval job a
// host application adds alongside the driver.
func (d *Driver) pollStackErrors(ctx context.Context, interval time.Duration) error {
	scheduler, err := gocron.NewScheduler()
	if err != nil {
		return fmt.Errorf("stack-error poller: %w", err)
	}

	_, err = scheduler.NewJob(
		gocron.DurationJob(interval),
		gocron.NewTask(func() {
			if _, err := d.dialog.ReadRegister(ctx, mvlcconst.DAQModeRegister); err != nil {
				d.log.Debug("stack-error poll read failed", "error", err)
			}
		}),
	)
	if err != nil {
		return fmt.Errorf("stack-error poller: scheduling job: %w", err)
	}

	scheduler.Start()
	<-ctx.Done()
	if err := scheduler.Shutdown(); err != nil {
		d.log.Debug("stack-error poller shutdown", "error", err)
	}
	return ctx.Err()
}

// Pause disables readout triggers (spec.md §4.K). It does not insert a
// Pause system event into the parser stream or the listfile.
func (d *Driver) Pause(ctx context.Context, cfg *crateconfig.Config) error {
	if err := d.transition(StateRunning, StatePaused); err != nil {
		return err
	}
	return d.dialog.DisableReadoutTriggers(ctx, cfg)
}

// Resume re-arms readout triggers after a Pause (spec.md §4.K).
func (d *Driver) Resume(ctx context.Context, cfg *crateconfig.Config) error {
	if err := d.transition(StatePaused, StateRunning); err != nil {
		return err
	}
	return d.dialog.SetupReadoutTriggers(ctx, cfg)
}

// Stop disables triggers, lets the producer/parser drain, and joins the
// spawned threads (spec.md §4.K).
func (d *Driver) Stop(ctx context.Context, cfg *crateconfig.Config) error {
	d.mu.Lock()
	cur := d.state
	if cur != StateRunning && cur != StatePaused {
		d.mu.Unlock()
		return fmt.Errorf("driver: cannot stop from %v", cur)
	}
	d.state = StateStopping
	d.mu.Unlock()

	if err := d.dialog.DisableReadoutTriggers(ctx, cfg); err != nil {
		d.log.Error("disabling readout triggers", "error", err)
	}
	if err := d.dialog.DisableDAQMode(ctx); err != nil {
		d.log.Error("disabling DAQ mode", "error", err)
	}

	if d.cancel != nil {
		d.cancel()
	}
	var groupErr error
	if d.group != nil {
		groupErr = d.group.Wait()
	}

	for _, b := range d.builders {
		b.ForceFlush()
	}

	d.mu.Lock()
	d.state = StateIdle
	d.mu.Unlock()

	if groupErr != nil && !errors.Is(groupErr, context.Canceled) {
		return groupErr
	}
	return nil
}
