// Copyright (c) Qualcomm Technologies, Inc. and/or its subsidiaries.
// SPDX-License-Identifier: BSD-3-Clause-Clear

package api

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/edgeward/otaup/pkg/appdesc"
	"github.com/edgeward/otaup/pkg/client"
	"github.com/edgeward/otaup/pkg/config"
	"github.com/edgeward/otaup/pkg/partition"
	"github.com/edgeward/otaup/pkg/session"
)

type (
	// CheckResult is the decision the engine would take, without any bytes
	// written.
	CheckResult struct {
		Remote      appdesc.Descriptor
		Running     *appdesc.Descriptor
		LastInvalid *appdesc.Descriptor

		UpdateAvailable bool
		KnownInvalid    bool
	}
)

// Check fetches the remote firmware metadata and compares it against the
// running and last-invalid builds. It opens and aborts a session but never
// downloads payload bytes.
func Check(ctx context.Context, cfg *config.Config) (*CheckResult, error) {
	logger := log.With().Str("tag", cfg.GetLogTag()).Logger()

	provider, err := partition.NewHostProvider(cfg.GetPartitionTablePath())
	if err != nil {
		return nil, err
	}
	layout, err := partition.NewLocator(provider, logger).Locate()
	if err != nil {
		return nil, err
	}
	target := layout.NextUpdate
	transport := client.NewImageClient(provider, target, client.WithChunkSize(cfg.GetChunkSize()))

	sess := session.New(transport)
	if err := sess.Begin(ctx, cfg.SessionConfig()); err != nil {
		return nil, err
	}
	defer sess.Abort()

	remote, err := sess.FetchMetadata()
	if err != nil {
		return nil, err
	}
	result := &CheckResult{Remote: remote}
	if d, derr := provider.Descriptor(layout.Running); derr == nil {
		result.Running = &d
	}
	if layout.LastInvalid != nil {
		if d, derr := provider.Descriptor(*layout.LastInvalid); derr == nil {
			result.LastInvalid = &d
		}
	}
	if result.LastInvalid != nil && appdesc.Equal(result.LastInvalid, &remote) {
		result.KnownInvalid = true
		return result, nil
	}
	result.UpdateAvailable = result.Running == nil || !appdesc.Equal(&remote, result.Running)
	return result, nil
}
