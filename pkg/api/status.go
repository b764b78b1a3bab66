// Copyright (c) Qualcomm Technologies, Inc. and/or its subsidiaries.
// SPDX-License-Identifier: BSD-3-Clause-Clear

package api

import (
	"github.com/rs/zerolog/log"

	"github.com/edgeward/otaup/pkg/appdesc"
	"github.com/edgeward/otaup/pkg/config"
	"github.com/edgeward/otaup/pkg/partition"
)

type (
	// SlotStatus describes one partition role and the firmware it holds.
	SlotStatus struct {
		Role       partition.Role
		Ref        partition.Ref
		Descriptor *appdesc.Descriptor
	}
)

// Status reports the partition roles and their firmware identities.
func Status(cfg *config.Config) ([]SlotStatus, error) {
	logger := log.With().Str("tag", cfg.GetLogTag()).Logger()

	provider, err := partition.NewHostProvider(cfg.GetPartitionTablePath())
	if err != nil {
		return nil, err
	}
	layout, err := partition.NewLocator(provider, logger).Locate()
	if err != nil {
		return nil, err
	}
	slots := []SlotStatus{
		{Role: partition.RoleConfiguredBoot, Ref: layout.Configured},
		{Role: partition.RoleRunning, Ref: layout.Running},
		{Role: partition.RoleNextUpdate, Ref: layout.NextUpdate},
	}
	if layout.LastInvalid != nil {
		slots = append(slots, SlotStatus{Role: partition.RoleLastInvalid, Ref: *layout.LastInvalid})
	}
	for i := range slots {
		if d, derr := provider.Descriptor(slots[i].Ref); derr == nil {
			slots[i].Descriptor = &d
		}
	}
	return slots, nil
}
