// Copyright (c) Qualcomm Technologies, Inc. and/or its subsidiaries.
// SPDX-License-Identifier: BSD-3-Clause-Clear

package main

import (
	"fmt"
	"os"

	"github.com/mattn/go-isatty"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/edgeward/otaup/pkg/api"
	"github.com/edgeward/otaup/pkg/client"
)

func init() {
	cmd := &cobra.Command{
		Use:   "update",
		Short: "Check the update server and, if a new firmware is available, download, verify, and apply it",
		Run: func(cmd *cobra.Command, args []string) {
			doUpdate(cmd)
		},
		Args: cobra.NoArgs,
	}
	rootCmd.AddCommand(cmd)
}

func doUpdate(cmd *cobra.Command) {
	opts := []api.UpdateOpt{}
	if isatty.IsTerminal(os.Stdout.Fd()) {
		opts = append(opts, api.WithFetchProgress(fetchProgressBar()))
	}
	outcome, err := api.Update(cmd.Context(), config, opts...)
	DieNotNil(err, "update attempt failed")
	fmt.Println("Outcome:", outcome)
}

// fetchProgressBar renders download progress; the bar is created on the
// first chunk once the expected image size is known.
func fetchProgressBar() client.ProgressFunc {
	var bar *progressbar.ProgressBar
	return func(read, total int64) {
		if bar == nil {
			bar = progressbar.DefaultBytes(total, "downloading")
		}
		_ = bar.Set64(read)
	}
}
