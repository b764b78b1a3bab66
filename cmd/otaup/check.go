// Copyright (c) Qualcomm Technologies, Inc. and/or its subsidiaries.
// SPDX-License-Identifier: BSD-3-Clause-Clear

package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/edgeward/otaup/pkg/api"
)

type (
	checkOptions struct {
		Format string
	}
)

func init() {
	opts := checkOptions{
		Format: "text",
	}
	cmd := &cobra.Command{
		Use:   "check",
		Short: "Fetch the remote firmware metadata and report whether an update would be applied",
		Args:  cobra.NoArgs,
	}
	cmd.Flags().StringVar(&opts.Format, "format", "text", "Format the output. Values: [text | json]")
	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		switch opts.Format {
		case "text", "json":
			doCheck(cmd, &opts)
		default:
			return fmt.Errorf("invalid value for --format: %s (must be text or json)", opts.Format)
		}
		return nil
	}
	rootCmd.AddCommand(cmd)
}

func doCheck(cmd *cobra.Command, opts *checkOptions) {
	result, err := api.Check(cmd.Context(), config)
	DieNotNil(err, "failed to check for updates")

	if opts.Format == "json" {
		printJsonResult(result)
	} else {
		printTextResult(result)
	}
}

func printJsonResult(result *api.CheckResult) {
	out := struct {
		Remote          string `json:"remote"`
		Running         string `json:"running,omitempty"`
		LastInvalid     string `json:"last_invalid,omitempty"`
		UpdateAvailable bool   `json:"update_available"`
		KnownInvalid    bool   `json:"known_invalid"`
	}{
		Remote:          result.Remote.String(),
		UpdateAvailable: result.UpdateAvailable,
		KnownInvalid:    result.KnownInvalid,
	}
	if result.Running != nil {
		out.Running = result.Running.String()
	}
	if result.LastInvalid != nil {
		out.LastInvalid = result.LastInvalid.String()
	}
	if b, err := json.Marshal(out); err != nil {
		DieNotNil(err, "failed to marshal check result")
	} else {
		fmt.Println(string(b))
	}
}

func printTextResult(result *api.CheckResult) {
	fmt.Println("Firmware on server:", result.Remote.String())
	if result.Running != nil {
		fmt.Println("Firmware running:  ", result.Running.String())
	}
	if result.LastInvalid != nil {
		fmt.Println("Marked invalid:    ", result.LastInvalid.String())
	}
	switch {
	case result.KnownInvalid:
		fmt.Println("Status:             Server version matches the last invalid version; update would be rejected")
	case result.UpdateAvailable:
		fmt.Println("Status:             Update available")
	default:
		fmt.Println("Status:             Up-to-date")
	}
}
