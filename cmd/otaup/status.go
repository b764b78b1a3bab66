// Copyright (c) Qualcomm Technologies, Inc. and/or its subsidiaries.
// SPDX-License-Identifier: BSD-3-Clause-Clear

package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/edgeward/otaup/pkg/api"
)

func init() {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the partition roles and the firmware each slot holds",
		Run: func(cmd *cobra.Command, args []string) {
			doStatus()
		},
		Args: cobra.NoArgs,
	}
	rootCmd.AddCommand(cmd)
}

func doStatus() {
	slots, err := api.Status(config)
	DieNotNil(err, "Failed to get status information")
	for _, slot := range slots {
		firmware := "(no readable image)"
		if slot.Descriptor != nil {
			firmware = slot.Descriptor.String()
		}
		fmt.Printf("%-16s %-10s 0x%08x  %s\n", slot.Role, slot.Ref.Label, slot.Ref.Offset, firmware)
	}
}
