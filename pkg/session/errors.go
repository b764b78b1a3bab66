// Copyright (c) Qualcomm Technologies, Inc. and/or its subsidiaries.
// SPDX-License-Identifier: BSD-3-Clause-Clear

package session

import "github.com/pkg/errors"

var (
	// ErrSessionOpen means the transport could not be established or no
	// update handle was produced.
	ErrSessionOpen = errors.New("failed to open update session")
	// ErrMetadataFetch means the remote image's descriptor could not be read.
	ErrMetadataFetch = errors.New("failed to fetch remote image metadata")
	// ErrTransport is a mid-download transfer failure.
	ErrTransport = errors.New("download transport error")
	// ErrIncompleteData means the transfer ended without the full payload.
	ErrIncompleteData = errors.New("incomplete image data")
	// ErrValidateFailed means the downloaded image failed integrity
	// validation. Transports return it from Handle.Finish after discarding
	// the partial image; the partition is not made bootable.
	ErrValidateFailed = errors.New("image validation failed")
)
