// Copyright (c) Qualcomm Technologies, Inc. and/or its subsidiaries.
// SPDX-License-Identifier: BSD-3-Clause-Clear

package main

import (
	"fmt"
	"os"
)

// DieNotNil prints the error with optional context to stderr and exits.
func DieNotNil(err error, message ...string) {
	if err == nil {
		return
	}
	parts := []interface{}{"ERROR:"}
	for _, m := range message {
		parts = append(parts, m)
	}
	parts = append(parts, err)
	fmt.Fprintln(os.Stderr, parts...)
	os.Exit(1)
}
