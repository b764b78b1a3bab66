// Copyright (c) Qualcomm Technologies, Inc. and/or its subsidiaries.
// SPDX-License-Identifier: BSD-3-Clause-Clear

// Package sysctl carries out full-system restart requests on Linux hosts.
package sysctl

import (
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sys/unix"
)

// Control implements the engine's SystemControl against reboot(2).
type Control struct {
	log zerolog.Logger
}

func New(log zerolog.Logger) *Control {
	return &Control{log: log}
}

// Restart reboots the system and does not return under normal operation.
// If the kernel refuses the reboot, the error is logged and the call parks
// rather than handing control back to a caller that assumed divergence.
func (c *Control) Restart() {
	c.log.Info().Msg("Restarting system to boot the new image")
	unix.Sync()
	if err := unix.Reboot(unix.LINUX_REBOOT_CMD_RESTART); err != nil {
		c.log.Error().Err(err).Msg("Reboot request was refused by the kernel")
	}
	for {
		time.Sleep(time.Second)
	}
}
