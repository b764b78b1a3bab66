// Copyright (c) Qualcomm Technologies, Inc. and/or its subsidiaries.
// SPDX-License-Identifier: BSD-3-Clause-Clear

package client

// Version is the agent version reported in the user-agent header.
// Overridden at build time via -ldflags.
var Version = "1.0.0"
