// Copyright (c) Qualcomm Technologies, Inc. and/or its subsidiaries.
// SPDX-License-Identifier: BSD-3-Clause-Clear

// Package api exposes the agent's operations to the CLI and to embedders.
package api

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/edgeward/otaup/internal/device"
	"github.com/edgeward/otaup/internal/events"
	"github.com/edgeward/otaup/internal/sysctl"
	"github.com/edgeward/otaup/pkg/client"
	"github.com/edgeward/otaup/pkg/config"
	"github.com/edgeward/otaup/pkg/engine"
	"github.com/edgeward/otaup/pkg/partition"
)

type (
	UpdateOpts struct {
		Progress      client.ProgressFunc
		SystemControl engine.SystemControl
	}
	UpdateOpt func(*UpdateOpts)
)

// WithFetchProgress attaches a per-chunk download progress observer.
func WithFetchProgress(f client.ProgressFunc) UpdateOpt {
	return func(o *UpdateOpts) { o.Progress = f }
}

// WithSystemControl overrides the restart collaborator. The default
// reboots the host on success.
func WithSystemControl(sc engine.SystemControl) UpdateOpt {
	return func(o *UpdateOpts) { o.SystemControl = sc }
}

// Update runs one complete check-and-apply invocation as its own unit of
// execution and reports how it ended. On a successful update the system
// restart is requested before this returns, so callers normally only see
// the non-success outcomes.
func Update(ctx context.Context, cfg *config.Config, options ...UpdateOpt) (engine.Outcome, error) {
	opts := &UpdateOpts{}
	for _, o := range options {
		o(opts)
	}

	logger := log.With().Str("tag", cfg.GetLogTag()).Logger()

	provider, err := partition.NewHostProvider(cfg.GetPartitionTablePath())
	if err != nil {
		return engine.OutcomeNone, err
	}
	target, ok := provider.NextUpdatePartition()
	if !ok {
		return engine.OutcomeNone, partition.ErrMalformedLayout
	}

	dev, err := device.FromHost(cfg.GetStorageDir())
	if err != nil {
		logger.Warn().Err(err).Msg("Could not determine device identity; reporting without it")
	}
	if err := events.CreateEventsTable(cfg.GetDBPath()); err != nil {
		return engine.OutcomeNone, err
	}
	sender := events.NewSender(cfg.GetDBPath(), cfg.GetEventsURL(), dev)

	clientOpts := []client.Option{
		client.WithChunkSize(cfg.GetChunkSize()),
		client.WithHeaders(map[string]string{
			"x-device-uuid": dev.UUID,
			"x-device-name": dev.Name,
		}),
	}
	if opts.Progress != nil {
		clientOpts = append(clientOpts, client.WithProgress(opts.Progress))
	}
	transport := client.NewImageClient(provider, target, clientOpts...)

	sc := opts.SystemControl
	if sc == nil {
		sc = sysctl.New(logger)
	}
	eng := engine.New(provider, transport, cfg.SessionConfig(),
		engine.WithLogger(logger),
		engine.WithReporter(sender),
		engine.WithSystemControl(sc))

	// The invocation runs in its own goroutine so the task guard can
	// terminate the unit without returning; the deferred close fires even
	// through runtime.Goexit.
	done := make(chan struct{})
	go func() {
		defer close(done)
		eng.RunTask(ctx)
	}()
	<-done

	if err := sender.Flush(); err != nil {
		logger.Debug().Err(err).Msg("Failed to flush queued events")
	}
	return eng.Outcome()
}
