// Copyright (c) Qualcomm Technologies, Inc. and/or its subsidiaries.
// SPDX-License-Identifier: BSD-3-Clause-Clear

// Package image defines the firmware image container: a fixed header with a
// payload checksum, followed by the embedded app descriptor, followed by the
// payload itself. Integrity here means size and CRC only; image signing is
// the bootloader's business, not ours.
package image

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"

	"github.com/edgeward/otaup/pkg/appdesc"
)

const (
	// Magic marks the first four bytes of every image.
	Magic = "OTA1"

	HeaderSize = 16
	// DescriptorOffset is where the embedded appdesc.Descriptor starts.
	DescriptorOffset = HeaderSize
	// PayloadOffset is where the firmware payload starts. The bytes before
	// it form the image prefix that metadata fetches read.
	PayloadOffset = HeaderSize + appdesc.EncodedSize

	headerVersion = 1
)

type (
	// Header is the fixed image header. PayloadSize and PayloadCRC describe
	// the payload bytes that follow the descriptor.
	Header struct {
		Version     uint16
		Flags       uint16
		PayloadSize uint32
		PayloadCRC  uint32
	}
)

// DecodeHeader parses and sanity-checks the fixed header.
func DecodeHeader(b []byte) (Header, error) {
	var h Header
	if len(b) < HeaderSize {
		return h, fmt.Errorf("image header too short: %d bytes", len(b))
	}
	if string(b[:4]) != Magic {
		return h, fmt.Errorf("bad image magic %q", b[:4])
	}
	h.Version = binary.LittleEndian.Uint16(b[4:6])
	h.Flags = binary.LittleEndian.Uint16(b[6:8])
	h.PayloadSize = binary.LittleEndian.Uint32(b[8:12])
	h.PayloadCRC = binary.LittleEndian.Uint32(b[12:16])
	if h.Version != headerVersion {
		return h, fmt.Errorf("unsupported image header version %d", h.Version)
	}
	return h, nil
}

// EncodeHeader writes the fixed header layout.
func (h *Header) EncodeHeader() []byte {
	b := make([]byte, HeaderSize)
	copy(b[:4], Magic)
	binary.LittleEndian.PutUint16(b[4:6], h.Version)
	binary.LittleEndian.PutUint16(b[6:8], h.Flags)
	binary.LittleEndian.PutUint32(b[8:12], h.PayloadSize)
	binary.LittleEndian.PutUint32(b[12:16], h.PayloadCRC)
	return b
}

// ParsePrefix decodes the header and the embedded descriptor out of the
// image prefix. Callers must supply at least PayloadOffset bytes.
func ParsePrefix(b []byte) (Header, appdesc.Descriptor, error) {
	h, err := DecodeHeader(b)
	if err != nil {
		return h, appdesc.Descriptor{}, err
	}
	if len(b) < PayloadOffset {
		return h, appdesc.Descriptor{}, fmt.Errorf("image prefix too short: %d bytes, need %d", len(b), PayloadOffset)
	}
	d, err := appdesc.Decode(b[DescriptorOffset:PayloadOffset])
	return h, d, err
}

// ValidatePayload checks the payload against the header's size and CRC.
func ValidatePayload(h Header, payload []byte) error {
	if uint32(len(payload)) != h.PayloadSize {
		return fmt.Errorf("payload size mismatch: header says %d, got %d", h.PayloadSize, len(payload))
	}
	if crc := crc32.ChecksumIEEE(payload); crc != h.PayloadCRC {
		return fmt.Errorf("payload CRC mismatch: header says %08x, got %08x", h.PayloadCRC, crc)
	}
	return nil
}

// Build assembles a complete image from a descriptor and payload. Used by
// image packaging tooling and tests.
func Build(d appdesc.Descriptor, payload []byte) []byte {
	h := Header{
		Version:     headerVersion,
		PayloadSize: uint32(len(payload)),
		PayloadCRC:  crc32.ChecksumIEEE(payload),
	}
	b := make([]byte, 0, PayloadOffset+len(payload))
	b = append(b, h.EncodeHeader()...)
	b = append(b, d.Encode()...)
	b = append(b, payload...)
	return b
}
