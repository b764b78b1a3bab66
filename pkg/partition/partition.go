// Copyright (c) Qualcomm Technologies, Inc. and/or its subsidiaries.
// SPDX-License-Identifier: BSD-3-Clause-Clear

// Package partition models the dual-slot firmware layout: which slot the
// boot data points at, which one we are running from, which one receives
// the next update, and which one last failed validation.
package partition

import (
	"io"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/edgeward/otaup/pkg/appdesc"
)

type (
	// Role is a partition's place in the update lifecycle.
	Role string

	// Ref identifies one firmware partition.
	Ref struct {
		Label  string
		Offset uint32
		Role   Role
	}

	// Provider is the read side of the persisted partition table and boot
	// state. The returned bool on the optional slots reports presence.
	Provider interface {
		BootPartition() (Ref, error)
		RunningPartition() (Ref, error)
		NextUpdatePartition() (Ref, bool)
		LastInvalidPartition() (Ref, bool)
		// Descriptor reads the app descriptor embedded in the partition's
		// image. An error means the slot holds no readable image.
		Descriptor(Ref) (appdesc.Descriptor, error)
	}

	// Store is the write side used while applying an update. Only the
	// next-update slot is ever written, and the boot pointer moves only
	// after a validated image landed there.
	Store interface {
		OpenTarget(Ref) (io.WriteCloser, error)
		DiscardTarget(Ref) error
		SetBootPartition(Ref) error
	}

	// Layout is the result of one locate pass over the boot state.
	Layout struct {
		Configured  Ref
		Running     Ref
		NextUpdate  Ref
		LastInvalid *Ref
	}

	// Locator reads the partition roles once per invocation.
	Locator struct {
		provider Provider
		log      zerolog.Logger
	}
)

const (
	RoleConfiguredBoot Role = "configured-boot"
	RoleRunning        Role = "running"
	RoleNextUpdate     Role = "next-update"
	RoleLastInvalid    Role = "last-invalid"
	RoleNone           Role = "none"
)

// ErrMalformedLayout means the partition table has no next-update slot.
// That is a deployment defect, not a transient condition: continuing would
// leave nowhere safe to write the image.
var ErrMalformedLayout = errors.New("malformed partition layout: no next-update partition")

func NewLocator(provider Provider, log zerolog.Logger) *Locator {
	return &Locator{provider: provider, log: log}
}

// Locate resolves the four partition roles. A boot-pointer/running mismatch
// can happen if either the boot data or the preferred boot image became
// corrupted; it is logged as a warning and is not an abort condition.
func (l *Locator) Locate() (*Layout, error) {
	configured, err := l.provider.BootPartition()
	if err != nil {
		return nil, errors.Wrap(err, "failed to read boot partition")
	}
	running, err := l.provider.RunningPartition()
	if err != nil {
		return nil, errors.Wrap(err, "failed to read running partition")
	}
	if configured.Label != running.Label || configured.Offset != running.Offset {
		l.log.Warn().
			Str("configured", configured.Label).Uint32("configured_offset", configured.Offset).
			Str("running", running.Label).Uint32("running_offset", running.Offset).
			Msg("Boot data points at a different partition than the one running; boot data or preferred image may be corrupted")
	}
	layout := &Layout{
		Configured: configured,
		Running:    running,
	}
	next, ok := l.provider.NextUpdatePartition()
	if !ok {
		return nil, ErrMalformedLayout
	}
	layout.NextUpdate = next
	if invalid, ok := l.provider.LastInvalidPartition(); ok {
		layout.LastInvalid = &invalid
	}
	return layout, nil
}
