// Copyright (c) Qualcomm Technologies, Inc. and/or its subsidiaries.
// SPDX-License-Identifier: BSD-3-Clause-Clear

package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/edgeward/otaup/internal/events"
)

func init() {
	cmd := &cobra.Command{
		Use:   "events",
		Short: "List update-attempt events queued for reporting",
		Run: func(cmd *cobra.Command, args []string) {
			doEvents()
		},
		Args: cobra.NoArgs,
	}
	rootCmd.AddCommand(cmd)
}

func doEvents() {
	evts, _, err := events.GetEvents(config.GetDBPath())
	DieNotNil(err, "Failed to read queued events")
	for _, e := range evts {
		b, err := json.Marshal(e)
		DieNotNil(err)
		fmt.Println(string(b))
	}
}
