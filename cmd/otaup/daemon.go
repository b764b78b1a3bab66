// Copyright (c) Qualcomm Technologies, Inc. and/or its subsidiaries.
// SPDX-License-Identifier: BSD-3-Clause-Clear

package main

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/edgeward/otaup/pkg/api"
	"github.com/edgeward/otaup/pkg/engine"
)

type (
	daemonOptions struct {
		runOnce bool
	}
)

func init() {
	opts := daemonOptions{
		runOnce: false,
	}
	cmd := &cobra.Command{
		Use:   "daemon",
		Short: "Periodically run update check-and-apply invocations",
		Run: func(cmd *cobra.Command, args []string) {
			doDaemon(cmd, &opts)
		},
		Args: cobra.NoArgs,
	}
	cmd.Flags().BoolVar(&opts.runOnce, "run-once", false, "Run a single update check and exit.")
	_ = cmd.Flags().MarkHidden("run-once")
	rootCmd.AddCommand(cmd)
}

// doDaemon is the external scheduler: each tick is one self-contained
// attempt with no retry state carried between ticks. A successful attempt
// reboots the system, so only the non-success outcomes come back here.
func doDaemon(cmd *cobra.Command, opts *daemonOptions) {
	interval := config.GetPollingInterval()
	ctx := cmd.Context()

	for {
		updateCheck(ctx)
		if opts.runOnce {
			return
		}
		log.Info().Dur("interval", interval).Msg("Waiting before next check...")
		select {
		case <-ctx.Done():
			return
		case <-time.After(interval):
		}
	}
}

func updateCheck(ctx context.Context) {
	outcome, err := api.Update(ctx, config)
	switch {
	case err != nil:
		log.Error().Err(err).Str("outcome", string(outcome)).Msg("Update attempt failed")
	case outcome == engine.OutcomeNoUpdateNeeded:
		log.Debug().Msg("No update available")
	default:
		log.Info().Str("outcome", string(outcome)).Msg("Update attempt finished")
	}
}
