// Copyright (c) Qualcomm Technologies, Inc. and/or its subsidiaries.
// SPDX-License-Identifier: BSD-3-Clause-Clear

// Package engine holds the decision logic of one update invocation: locate
// the partition roles, compare the remote firmware against the running and
// the last-invalid builds, and either skip, reject, or drive the download
// session to a terminal outcome. Every invocation is one self-contained
// attempt; retry across attempts belongs to whatever re-invokes the engine.
package engine

import (
	"context"
	"errors"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/edgeward/otaup/pkg/appdesc"
	"github.com/edgeward/otaup/pkg/partition"
	"github.com/edgeward/otaup/pkg/session"
	"github.com/edgeward/otaup/pkg/task"
)

type (
	// Outcome is the terminal disposition of one invocation. It drives the
	// final log line and whether the system restarts.
	Outcome string

	// SystemControl requests a full-system restart. Restart does not
	// return under normal operation; only test doubles come back from it.
	SystemControl interface {
		Restart()
	}

	// EventType tags reported attempt events.
	EventType string

	// Event is one observable milestone of an attempt.
	Event struct {
		Type    EventType
		Remote  string
		Outcome Outcome
		Bytes   int64
		Error   string
	}

	// Reporter records attempt events, best effort. The engine never fails
	// an invocation over a reporting problem.
	Reporter interface {
		Report(Event)
	}

	// Engine runs the check-and-apply cycle.
	Engine struct {
		provider   partition.Provider
		transport  session.Transport
		sessionCfg session.Config
		sysctl     SystemControl
		guard      *task.Guard
		reporter   Reporter
		log        zerolog.Logger

		outcome Outcome
		err     error
	}

	Option func(*Engine)
)

const (
	OutcomeNone             Outcome = ""
	OutcomeNoUpdateNeeded   Outcome = "no-update-needed"
	OutcomeRejectedInvalid  Outcome = "rejected-known-invalid"
	OutcomeDownloadFailed   Outcome = "download-failed"
	OutcomeValidationFailed Outcome = "validation-failed"
	OutcomeSuccess          Outcome = "success"

	EventDownloadStarted   EventType = "DownloadStarted"
	EventDownloadCompleted EventType = "DownloadCompleted"
	EventUpdateCompleted   EventType = "UpdateCompleted"
)

// WithSystemControl sets the restart collaborator.
func WithSystemControl(sc SystemControl) Option {
	return func(e *Engine) { e.sysctl = sc }
}

// WithGuard sets the task lifecycle guard used by RunTask.
func WithGuard(g *task.Guard) Option {
	return func(e *Engine) { e.guard = g }
}

// WithReporter attaches an attempt event recorder.
func WithReporter(r Reporter) Option {
	return func(e *Engine) { e.reporter = r }
}

// WithLogger sets the engine's tagged logger.
func WithLogger(l zerolog.Logger) Option {
	return func(e *Engine) { e.log = l }
}

func New(provider partition.Provider, transport session.Transport, sessionCfg session.Config, options ...Option) *Engine {
	e := &Engine{
		provider:   provider,
		transport:  transport,
		sessionCfg: sessionCfg,
		log:        log.Logger,
	}
	for _, o := range options {
		o(e)
	}
	if e.guard == nil {
		e.guard = task.NewGuard(task.GoroutineScheduler{}, e.log)
	}
	return e
}

// Outcome returns the disposition of the last finished invocation.
func (e *Engine) Outcome() (Outcome, error) { return e.outcome, e.err }

// RunTask executes one invocation and then terminates the hosting unit of
// execution via the task guard. It never returns; hosts that need the
// outcome read it from Outcome in a deferred call.
func (e *Engine) RunTask(ctx context.Context) {
	e.outcome, e.err = e.Run(ctx)
	if e.err != nil {
		e.log.Error().Err(e.err).Str("outcome", string(e.outcome)).Msg("Update attempt failed")
	} else {
		e.log.Info().Str("outcome", string(e.outcome)).Msg("Update attempt finished")
	}
	e.guard.Terminate()
}

// Run performs the check-and-apply cycle and returns its outcome. On
// success it requests a system restart, which normally does not return.
// Whatever path Run takes, the session ends Aborted or Finished before Run
// exits.
func (e *Engine) Run(ctx context.Context) (Outcome, error) {
	e.log.Info().Str("url", e.sessionCfg.URL).Msg("Checking for OTA update")

	layout, err := partition.NewLocator(e.provider, e.log).Locate()
	if err != nil {
		// A missing next-update slot is a deployment defect, not a
		// transient failure; nothing sane can be done with this layout.
		return OutcomeNone, err
	}
	e.log.Info().
		Str("partition", layout.Running.Label).
		Uint32("offset", layout.Running.Offset).
		Msg("Running partition")

	sess := session.New(e.transport)
	if err := sess.Begin(ctx, e.sessionCfg); err != nil {
		e.log.Error().Err(err).Msg("Failed to open update session")
		return OutcomeDownloadFailed, err
	}

	remote, err := sess.FetchMetadata()
	if err != nil {
		e.log.Error().Err(err).Msg("Failed to get firmware version from server")
		sess.Abort()
		return OutcomeDownloadFailed, err
	}
	e.log.Info().Stringer("firmware", &remote).Msg("Firmware on server")

	var running *appdesc.Descriptor
	if d, derr := e.provider.Descriptor(layout.Running); derr == nil {
		running = &d
		e.log.Info().Stringer("firmware", &d).Msg("Firmware running")
	}

	var invalid *appdesc.Descriptor
	if layout.LastInvalid != nil {
		if d, derr := e.provider.Descriptor(*layout.LastInvalid); derr == nil {
			invalid = &d
			e.log.Info().Stringer("firmware", &d).Msg("Firmware marked invalid")
		}
	}

	if invalid != nil && appdesc.Equal(invalid, &remote) {
		e.log.Warn().Str("version", remote.Release()).
			Msg("Version on server is the same as the last invalid version; rejecting")
		sess.Abort()
		e.report(Event{Type: EventUpdateCompleted, Remote: remote.String(), Outcome: OutcomeRejectedInvalid})
		return OutcomeRejectedInvalid, nil
	}
	if running != nil && appdesc.Equal(&remote, running) {
		e.log.Info().Msg("No update available")
		sess.Abort()
		e.report(Event{Type: EventUpdateCompleted, Remote: remote.String(), Outcome: OutcomeNoUpdateNeeded})
		return OutcomeNoUpdateNeeded, nil
	}

	e.log.Info().
		Str("partition", layout.NextUpdate.Label).
		Uint32("offset", layout.NextUpdate.Offset).
		Msg("Downloading OTA update")
	e.report(Event{Type: EventDownloadStarted, Remote: remote.String()})

	for {
		progress, err := sess.PerformChunk()
		if err != nil {
			e.log.Error().Err(err).Int64("bytes_read", progress.BytesRead).Msg("Download error")
			sess.Abort()
			e.report(Event{Type: EventDownloadCompleted, Remote: remote.String(), Bytes: progress.BytesRead, Error: err.Error()})
			return OutcomeDownloadFailed, err
		}
		if progress.Complete {
			break
		}
		e.log.Debug().Int64("bytes_read", progress.BytesRead).Msg("Downloading")
	}

	if !sess.IsComplete() {
		err := session.ErrIncompleteData
		e.log.Error().Int64("bytes_read", sess.BytesRead()).Msg("Download ended without the complete image")
		sess.Abort()
		e.report(Event{Type: EventDownloadCompleted, Remote: remote.String(), Bytes: sess.BytesRead(), Error: err.Error()})
		return OutcomeDownloadFailed, err
	}
	e.report(Event{Type: EventDownloadCompleted, Remote: remote.String(), Bytes: sess.BytesRead()})

	if err := sess.Finish(); err != nil {
		if errors.Is(err, session.ErrValidateFailed) {
			// The transport has already discarded the image; the partition
			// was not made bootable.
			e.log.Error().Err(err).Msg("Downloaded image is corrupted")
			e.report(Event{Type: EventUpdateCompleted, Remote: remote.String(), Outcome: OutcomeValidationFailed, Error: err.Error()})
			return OutcomeValidationFailed, err
		}
		e.log.Error().Err(err).Msg("Failed to finish update")
		sess.Abort()
		e.report(Event{Type: EventUpdateCompleted, Remote: remote.String(), Outcome: OutcomeDownloadFailed, Error: err.Error()})
		return OutcomeDownloadFailed, err
	}

	e.report(Event{Type: EventUpdateCompleted, Remote: remote.String(), Outcome: OutcomeSuccess, Bytes: sess.BytesRead()})
	e.log.Info().Msg("Update written and verified; preparing to restart")
	if e.sysctl != nil {
		e.sysctl.Restart()
	}
	return OutcomeSuccess, nil
}

func (e *Engine) report(ev Event) {
	if e.reporter != nil {
		e.reporter.Report(ev)
	}
}
