// Copyright (c) Qualcomm Technologies, Inc. and/or its subsidiaries.
// SPDX-License-Identifier: BSD-3-Clause-Clear

// Package client implements the update-server transport: it streams a
// firmware image over HTTP into the next-update partition, one chunk per
// Step, and validates/commits the result on Finish.
package client

import (
	"context"
	"fmt"
	"hash"
	"hash/crc32"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/edgeward/otaup/pkg/appdesc"
	"github.com/edgeward/otaup/pkg/image"
	"github.com/edgeward/otaup/pkg/partition"
	"github.com/edgeward/otaup/pkg/session"
)

const (
	UserAgentPrefix = "otaup/"

	DefaultChunkSize = 4096
)

type (
	// ImageClient opens HTTP update transfers that write into a partition
	// store. It implements session.Transport.
	ImageClient struct {
		store     partition.Store
		target    partition.Ref
		chunkSize int
		headers   map[string]string
		progress  ProgressFunc
	}

	// ProgressFunc observes the transfer after every chunk.
	ProgressFunc func(bytesRead, totalBytes int64)

	Option func(*ImageClient)

	// deadlineConn bounds every socket receive. Without it the configured
	// timeout would cover dialing and response headers only, and a server
	// stalling mid-body would block the download forever.
	deadlineConn struct {
		net.Conn
		timeout time.Duration
	}

	handle struct {
		client *ImageClient

		body     io.ReadCloser
		httpc    *http.Client
		header   image.Header
		desc     appdesc.Descriptor
		expected int64

		prefix    []byte
		described bool

		target     io.WriteCloser
		buf        []byte
		bytesRead  int64
		payloadLen int64
		payloadCRC hash.Hash32
		sawEOF     bool
	}
)

func WithChunkSize(n int) Option {
	return func(c *ImageClient) {
		if n > 0 {
			c.chunkSize = n
		}
	}
}

// WithHeaders sets extra request headers (device identity and the like).
func WithHeaders(headers map[string]string) Option {
	return func(c *ImageClient) {
		for k, v := range headers {
			c.headers[k] = v
		}
	}
}

// WithProgress attaches a per-chunk progress observer.
func WithProgress(f ProgressFunc) Option {
	return func(c *ImageClient) { c.progress = f }
}

// Read pushes the read deadline forward on every receive, so the timeout
// bounds each read, not the whole transfer.
func (c *deadlineConn) Read(b []byte) (int, error) {
	if err := c.Conn.SetReadDeadline(time.Now().Add(c.timeout)); err != nil {
		return 0, err
	}
	return c.Conn.Read(b)
}

func NewImageClient(store partition.Store, target partition.Ref, options ...Option) *ImageClient {
	c := &ImageClient{
		store:     store,
		target:    target,
		chunkSize: DefaultChunkSize,
		headers:   map[string]string{"user-agent": UserAgentPrefix + Version},
	}
	for _, o := range options {
		o(c)
	}
	return c
}

// Open issues the GET for the image and reads nothing beyond the response
// headers. The descriptor is pulled out of the stream by Describe.
func (c *ImageClient) Open(ctx context.Context, cfg session.Config) (session.Handle, error) {
	dialer := &net.Dialer{Timeout: cfg.Timeout}
	httpc := &http.Client{
		Transport: &http.Transport{
			DialContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
				conn, err := dialer.DialContext(ctx, network, addr)
				if err != nil || cfg.Timeout <= 0 {
					return conn, err
				}
				return &deadlineConn{Conn: conn, timeout: cfg.Timeout}, nil
			},
			ResponseHeaderTimeout: cfg.Timeout,
			DisableKeepAlives:     !cfg.KeepAlive,
		},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, cfg.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build image request: %w", err)
	}
	for k, v := range c.headers {
		req.Header.Set(k, v)
	}
	res, err := httpc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to update server: %w", err)
	}
	if res.StatusCode != http.StatusOK {
		res.Body.Close()
		return nil, fmt.Errorf("update server returned HTTP_%d for %s", res.StatusCode, cfg.URL)
	}
	return &handle{
		client:     c,
		body:       res.Body,
		httpc:      httpc,
		buf:        make([]byte, c.chunkSize),
		payloadCRC: crc32.NewIEEE(),
	}, nil
}

// Describe reads the image prefix off the stream and parses the embedded
// descriptor. The prefix bytes are retained and written to the target when
// the download starts, so nothing is lost from the stream.
func (h *handle) Describe() (appdesc.Descriptor, error) {
	if h.described {
		return h.desc, nil
	}
	prefix := make([]byte, image.PayloadOffset)
	if _, err := io.ReadFull(h.body, prefix); err != nil {
		return appdesc.Descriptor{}, fmt.Errorf("failed to read image prefix: %w", err)
	}
	header, desc, err := image.ParsePrefix(prefix)
	if err != nil {
		return appdesc.Descriptor{}, err
	}
	h.header = header
	h.desc = desc
	h.expected = int64(image.PayloadOffset) + int64(header.PayloadSize)
	h.prefix = prefix
	h.bytesRead = int64(len(prefix))
	h.described = true
	return desc, nil
}

// Step advances the transfer by one chunk. The first call opens the target
// partition for writing and flushes the retained prefix.
func (h *handle) Step() (bool, error) {
	if !h.described {
		return false, fmt.Errorf("image descriptor not read yet")
	}
	if h.target == nil {
		target, err := h.client.store.OpenTarget(h.client.target)
		if err != nil {
			return false, fmt.Errorf("failed to open target partition: %w", err)
		}
		h.target = target
		if _, err := h.target.Write(h.prefix); err != nil {
			return false, fmt.Errorf("failed to write image prefix: %w", err)
		}
		h.prefix = nil
	}
	n, err := h.body.Read(h.buf)
	if n > 0 {
		if _, werr := h.target.Write(h.buf[:n]); werr != nil {
			return false, fmt.Errorf("failed to write to target partition: %w", werr)
		}
		h.payloadCRC.Write(h.buf[:n])
		h.payloadLen += int64(n)
		h.bytesRead += int64(n)
	}
	if h.client.progress != nil {
		h.client.progress(h.bytesRead, h.expected)
	}
	if err == io.EOF {
		h.sawEOF = true
		return true, nil
	}
	if err != nil {
		return false, err
	}
	return false, nil
}

func (h *handle) BytesRead() int64 { return h.bytesRead }

// IsComplete confirms the stream ended and every expected byte arrived.
func (h *handle) IsComplete() bool {
	return h.described && h.sawEOF && h.bytesRead == h.expected
}

// Finish closes the target, validates payload size and CRC against the
// image header, and moves the boot pointer on success. A failed validation
// discards the written image and leaves the boot pointer untouched.
func (h *handle) Finish() error {
	if h.target == nil {
		return fmt.Errorf("no image data written")
	}
	// The body is done with either way; close it first so a target failure
	// below cannot leak the connection.
	h.body.Close()
	if err := h.target.Close(); err != nil {
		h.target = nil
		return fmt.Errorf("failed to close target partition: %w", err)
	}
	h.target = nil

	if err := h.validatePayload(); err != nil {
		if derr := h.client.store.DiscardTarget(h.client.target); derr != nil {
			return fmt.Errorf("%w: %s (discard also failed: %s)", session.ErrValidateFailed, err.Error(), derr.Error())
		}
		return fmt.Errorf("%w: %s", session.ErrValidateFailed, err.Error())
	}
	if err := h.client.store.SetBootPartition(h.client.target); err != nil {
		return fmt.Errorf("failed to make target partition bootable: %w", err)
	}
	return nil
}

// validatePayload checks the streamed payload against the image header.
// The CRC is accumulated while writing, so no read-back from the partition
// is needed.
func (h *handle) validatePayload() error {
	if h.payloadLen != int64(h.header.PayloadSize) {
		return fmt.Errorf("payload size mismatch: header says %d, wrote %d", h.header.PayloadSize, h.payloadLen)
	}
	if crc := h.payloadCRC.Sum32(); crc != h.header.PayloadCRC {
		return fmt.Errorf("payload CRC mismatch: header says %08x, got %08x", h.header.PayloadCRC, crc)
	}
	return nil
}

// Abort releases the connection and any open target handle. It never
// mutates partition state.
func (h *handle) Abort() {
	if h.target != nil {
		h.target.Close()
		h.target = nil
	}
	h.body.Close()
	h.httpc.CloseIdleConnections()
}
