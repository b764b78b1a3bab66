// Copyright (c) Qualcomm Technologies, Inc. and/or its subsidiaries.
// SPDX-License-Identifier: BSD-3-Clause-Clear

// Package appdesc defines the firmware identity descriptor embedded in every
// image and carried by every partition: project name, version, build date,
// and build time, each stored in a fixed-width field.
package appdesc

import (
	"bytes"
	"fmt"
)

const (
	ProjectNameSize = 32
	VersionSize     = 32
	DateSize        = 16
	TimeSize        = 16

	// EncodedSize is the on-wire/on-flash size of a descriptor.
	EncodedSize = ProjectNameSize + VersionSize + DateSize + TimeSize
)

type (
	// Descriptor identifies one firmware build. Fields are fixed-width byte
	// arrays; bytes past the name/version text are part of the identity, so
	// two descriptors that print the same may still be different builds.
	Descriptor struct {
		ProjectName [ProjectNameSize]byte
		Version     [VersionSize]byte
		Date        [DateSize]byte
		Time        [TimeSize]byte
	}
)

// New builds a descriptor from plain strings, truncating each to its field
// width. Unused trailing bytes are zero.
func New(project, version, date, time string) Descriptor {
	var d Descriptor
	copy(d.ProjectName[:], project)
	copy(d.Version[:], version)
	copy(d.Date[:], date)
	copy(d.Time[:], time)
	return d
}

// Decode reads a descriptor from its fixed binary layout.
func Decode(b []byte) (Descriptor, error) {
	var d Descriptor
	if len(b) < EncodedSize {
		return d, fmt.Errorf("descriptor too short: %d bytes, need %d", len(b), EncodedSize)
	}
	off := 0
	off += copy(d.ProjectName[:], b[off:off+ProjectNameSize])
	off += copy(d.Version[:], b[off:off+VersionSize])
	off += copy(d.Date[:], b[off:off+DateSize])
	copy(d.Time[:], b[off:off+TimeSize])
	return d, nil
}

// Encode writes the descriptor in its fixed binary layout.
func (d *Descriptor) Encode() []byte {
	b := make([]byte, 0, EncodedSize)
	b = append(b, d.ProjectName[:]...)
	b = append(b, d.Version[:]...)
	b = append(b, d.Date[:]...)
	b = append(b, d.Time[:]...)
	return b
}

// Equal compares two descriptors field-wise over the full fixed widths.
// There is no normalization and no stop-at-NUL: every byte of every field
// must match for the descriptors to name the same build.
func Equal(a, b *Descriptor) bool {
	return bytes.Equal(a.ProjectName[:], b.ProjectName[:]) &&
		bytes.Equal(a.Version[:], b.Version[:]) &&
		bytes.Equal(a.Date[:], b.Date[:]) &&
		bytes.Equal(a.Time[:], b.Time[:])
}

// Project returns the project name up to the first NUL, for display only.
func (d *Descriptor) Project() string { return cstr(d.ProjectName[:]) }

// Release returns the version string up to the first NUL, for display only.
func (d *Descriptor) Release() string { return cstr(d.Version[:]) }

// BuiltAt returns the "date time" build stamp, for display only.
func (d *Descriptor) BuiltAt() string {
	return fmt.Sprintf("%s %s", cstr(d.Date[:]), cstr(d.Time[:]))
}

// String renders the descriptor the way it appears in the update log:
// project.version (date time).
func (d *Descriptor) String() string {
	return fmt.Sprintf("%s.%s (%s)", d.Project(), d.Release(), d.BuiltAt())
}

func cstr(b []byte) string {
	if i := bytes.IndexByte(b, 0); i >= 0 {
		b = b[:i]
	}
	return string(b)
}
