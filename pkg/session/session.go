// Copyright (c) Qualcomm Technologies, Inc. and/or its subsidiaries.
// SPDX-License-Identifier: BSD-3-Clause-Clear

// Package session owns the lifecycle of a single download attempt against
// the update server. A Session belongs to exactly one invocation of the
// decision engine and must reach Aborted or Finished before that invocation
// ends; it is not safe for concurrent use and never needs to be.
package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/edgeward/otaup/pkg/appdesc"
)

type (
	// State names the session's position in its lifecycle.
	State string

	// Result is the terminal disposition of a Finished session.
	Result string

	// Config is the immutable per-invocation transport configuration,
	// built once from the agent config and never mutated afterwards.
	Config struct {
		URL       string
		Timeout   time.Duration
		KeepAlive bool
	}

	// Progress reports one download iteration.
	Progress struct {
		Complete  bool
		BytesRead int64
	}

	// Handle is one open transfer produced by a Transport. Step advances
	// the transfer by one transport-level unit; Finish validates the
	// received image and commits it to the target partition.
	Handle interface {
		Describe() (appdesc.Descriptor, error)
		Step() (done bool, err error)
		BytesRead() int64
		IsComplete() bool
		Finish() error
		Abort()
	}

	// Transport opens connection-backed update transfers. The HTTP client
	// in pkg/client is the production implementation.
	Transport interface {
		Open(ctx context.Context, cfg Config) (Handle, error)
	}

	// Session drives a Handle through the update state machine.
	Session struct {
		transport Transport
		handle    Handle
		state     State
		result    Result
	}
)

const (
	StateUnopened        State = "unopened"
	StateOpen            State = "open"
	StateMetadataFetched State = "metadata-fetched"
	StateDownloading     State = "downloading"
	StateFinished        State = "finished"
	StateAborted         State = "aborted"

	ResultNone           Result = ""
	ResultSuccess        Result = "success"
	ResultValidateFailed Result = "validate-failed"
)

func New(transport Transport) *Session {
	return &Session{
		transport: transport,
		state:     StateUnopened,
	}
}

func (s *Session) State() State   { return s.state }
func (s *Session) Result() Result { return s.result }

// Terminal reports whether the session has been wound down. Every exit path
// of an invocation must leave the session terminal.
func (s *Session) Terminal() bool {
	return s.state == StateAborted || s.state == StateFinished
}

// Begin opens the transfer. On failure no handle exists, so the session
// goes straight to Aborted.
func (s *Session) Begin(ctx context.Context, cfg Config) error {
	if s.state != StateUnopened {
		return fmt.Errorf("cannot begin session in state %q", s.state)
	}
	handle, err := s.transport.Open(ctx, cfg)
	if err != nil {
		s.state = StateAborted
		return fmt.Errorf("%w: %s", ErrSessionOpen, err.Error())
	}
	if handle == nil {
		s.state = StateAborted
		return fmt.Errorf("%w: transport produced no update handle", ErrSessionOpen)
	}
	s.handle = handle
	s.state = StateOpen
	return nil
}

// FetchMetadata retrieves the remote image's descriptor without pulling the
// payload. The session stays Open on failure; the caller decides whether to
// abort.
func (s *Session) FetchMetadata() (appdesc.Descriptor, error) {
	if s.state != StateOpen {
		return appdesc.Descriptor{}, fmt.Errorf("cannot fetch metadata in state %q", s.state)
	}
	desc, err := s.handle.Describe()
	if err != nil {
		return appdesc.Descriptor{}, fmt.Errorf("%w: %s", ErrMetadataFetch, err.Error())
	}
	s.state = StateMetadataFetched
	return desc, nil
}

// PerformChunk advances the download by one transport unit. Callers loop
// until Progress.Complete or an error; bytes read are reported on every
// iteration for observability.
func (s *Session) PerformChunk() (Progress, error) {
	if s.state != StateMetadataFetched && s.state != StateDownloading {
		return Progress{}, fmt.Errorf("cannot download in state %q", s.state)
	}
	s.state = StateDownloading
	done, err := s.handle.Step()
	if err != nil {
		return Progress{BytesRead: s.handle.BytesRead()}, fmt.Errorf("%w: %s", ErrTransport, err.Error())
	}
	return Progress{Complete: done, BytesRead: s.handle.BytesRead()}, nil
}

// IsComplete independently confirms the full expected payload arrived.
// Leaving the download loop is not proof of completion; the loop can also
// exit on a transport error code.
func (s *Session) IsComplete() bool {
	if s.handle == nil {
		return false
	}
	return s.handle.IsComplete()
}

// BytesRead reports the running byte count of the transfer.
func (s *Session) BytesRead() int64 {
	if s.handle == nil {
		return 0
	}
	return s.handle.BytesRead()
}

// Finish validates the received image and commits it to the next-update
// partition. ErrValidateFailed means the image failed integrity validation;
// the transport has already discarded it and the partition was not made
// bootable. Any other failure winds the session down to Aborted.
func (s *Session) Finish() error {
	if s.state != StateDownloading {
		return fmt.Errorf("cannot finish session in state %q", s.state)
	}
	err := s.handle.Finish()
	switch {
	case err == nil:
		s.state = StateFinished
		s.result = ResultSuccess
	case errors.Is(err, ErrValidateFailed):
		s.state = StateFinished
		s.result = ResultValidateFailed
	default:
		s.state = StateAborted
		err = fmt.Errorf("%w: %s", ErrIncompleteData, err.Error())
	}
	return err
}

// Abort releases all session resources without touching any partition.
// Idempotent and always safe, even after Finish.
func (s *Session) Abort() {
	if s.handle != nil && s.state != StateFinished && s.state != StateAborted {
		s.handle.Abort()
	}
	if s.state != StateFinished {
		s.state = StateAborted
	}
}
