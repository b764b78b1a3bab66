// Copyright (c) Qualcomm Technologies, Inc. and/or its subsidiaries.
// SPDX-License-Identifier: BSD-3-Clause-Clear

package session

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/edgeward/otaup/pkg/appdesc"
)

type (
	fakeTransport struct {
		openErr   error
		nilHandle bool
		handle    *fakeHandle
	}

	fakeHandle struct {
		desc        appdesc.Descriptor
		describeErr error
		stepErrs    []error
		steps       int
		totalSteps  int
		chunk       int64
		bytes       int64
		complete    bool
		finishErr   error
		aborted     int
	}
)

func (t *fakeTransport) Open(ctx context.Context, cfg Config) (Handle, error) {
	if t.openErr != nil {
		return nil, t.openErr
	}
	if t.nilHandle {
		return nil, nil
	}
	return t.handle, nil
}

func (h *fakeHandle) Describe() (appdesc.Descriptor, error) {
	return h.desc, h.describeErr
}

func (h *fakeHandle) Step() (bool, error) {
	if h.steps < len(h.stepErrs) && h.stepErrs[h.steps] != nil {
		return false, h.stepErrs[h.steps]
	}
	h.steps++
	h.bytes += h.chunk
	return h.steps >= h.totalSteps, nil
}

func (h *fakeHandle) BytesRead() int64 { return h.bytes }
func (h *fakeHandle) IsComplete() bool { return h.complete }
func (h *fakeHandle) Finish() error    { return h.finishErr }
func (h *fakeHandle) Abort()           { h.aborted++ }

func testConfig() Config {
	return Config{URL: "https://updates.example.com/fw.bin"}
}

func TestSession_BeginFailure(t *testing.T) {
	s := New(&fakeTransport{openErr: fmt.Errorf("connection refused")})
	err := s.Begin(context.Background(), testConfig())
	require.ErrorIs(t, err, ErrSessionOpen)
	require.Equal(t, StateAborted, s.State())
	require.True(t, s.Terminal())
}

func TestSession_BeginNilHandle(t *testing.T) {
	s := New(&fakeTransport{nilHandle: true})
	err := s.Begin(context.Background(), testConfig())
	require.ErrorIs(t, err, ErrSessionOpen)
	require.Equal(t, StateAborted, s.State())
}

func TestSession_MetadataFailureLeavesSessionOpen(t *testing.T) {
	s := New(&fakeTransport{handle: &fakeHandle{describeErr: fmt.Errorf("short read")}})
	require.NoError(t, s.Begin(context.Background(), testConfig()))
	_, err := s.FetchMetadata()
	require.ErrorIs(t, err, ErrMetadataFetch)
	require.Equal(t, StateOpen, s.State())

	s.Abort()
	require.Equal(t, StateAborted, s.State())
}

func TestSession_HappyPath(t *testing.T) {
	h := &fakeHandle{
		desc:       appdesc.New("fw", "1.3.0", "2023-02-01", "11:00"),
		totalSteps: 3,
		chunk:      1024,
		complete:   true,
	}
	s := New(&fakeTransport{handle: h})
	require.NoError(t, s.Begin(context.Background(), testConfig()))

	desc, err := s.FetchMetadata()
	require.NoError(t, err)
	require.True(t, appdesc.Equal(&h.desc, &desc))
	require.Equal(t, StateMetadataFetched, s.State())

	var last int64
	for {
		progress, err := s.PerformChunk()
		require.NoError(t, err)
		require.Greater(t, progress.BytesRead, last)
		last = progress.BytesRead
		if progress.Complete {
			break
		}
		require.Equal(t, StateDownloading, s.State())
	}
	require.True(t, s.IsComplete())

	require.NoError(t, s.Finish())
	require.Equal(t, StateFinished, s.State())
	require.Equal(t, ResultSuccess, s.Result())
}

func TestSession_TransportErrorMidDownload(t *testing.T) {
	h := &fakeHandle{
		totalSteps: 5,
		chunk:      512,
		stepErrs:   []error{nil, nil, fmt.Errorf("connection reset")},
	}
	s := New(&fakeTransport{handle: h})
	require.NoError(t, s.Begin(context.Background(), testConfig()))
	_, err := s.FetchMetadata()
	require.NoError(t, err)

	var lastErr error
	for {
		progress, err := s.PerformChunk()
		if err != nil {
			lastErr = err
			break
		}
		if progress.Complete {
			break
		}
	}
	require.ErrorIs(t, lastErr, ErrTransport)

	s.Abort()
	require.Equal(t, StateAborted, s.State())
	require.Equal(t, 1, h.aborted)
}

func TestSession_FinishValidateFailed(t *testing.T) {
	h := &fakeHandle{
		totalSteps: 1,
		chunk:      128,
		complete:   true,
		finishErr:  fmt.Errorf("%w: CRC mismatch", ErrValidateFailed),
	}
	s := New(&fakeTransport{handle: h})
	require.NoError(t, s.Begin(context.Background(), testConfig()))
	_, err := s.FetchMetadata()
	require.NoError(t, err)
	progress, err := s.PerformChunk()
	require.NoError(t, err)
	require.True(t, progress.Complete)

	err = s.Finish()
	require.ErrorIs(t, err, ErrValidateFailed)
	require.Equal(t, StateFinished, s.State())
	require.Equal(t, ResultValidateFailed, s.Result())

	// Abort after Finish stays safe and keeps the Finished state.
	s.Abort()
	require.Equal(t, StateFinished, s.State())
	require.Zero(t, h.aborted)
}

func TestSession_FinishOtherErrorAborts(t *testing.T) {
	h := &fakeHandle{
		totalSteps: 1,
		chunk:      128,
		finishErr:  fmt.Errorf("boot pointer write failed"),
	}
	s := New(&fakeTransport{handle: h})
	require.NoError(t, s.Begin(context.Background(), testConfig()))
	_, err := s.FetchMetadata()
	require.NoError(t, err)
	_, err = s.PerformChunk()
	require.NoError(t, err)

	err = s.Finish()
	require.ErrorIs(t, err, ErrIncompleteData)
	require.Equal(t, StateAborted, s.State())
}

func TestSession_AbortIsIdempotent(t *testing.T) {
	h := &fakeHandle{totalSteps: 1}
	s := New(&fakeTransport{handle: h})
	require.NoError(t, s.Begin(context.Background(), testConfig()))
	s.Abort()
	s.Abort()
	require.Equal(t, StateAborted, s.State())
	require.Equal(t, 1, h.aborted)
}

func TestSession_OperationsRejectWrongState(t *testing.T) {
	s := New(&fakeTransport{handle: &fakeHandle{}})
	_, err := s.FetchMetadata()
	require.Error(t, err)
	_, err = s.PerformChunk()
	require.Error(t, err)
	require.Error(t, s.Finish())

	require.NoError(t, s.Begin(context.Background(), testConfig()))
	require.Error(t, s.Begin(context.Background(), testConfig()))
}
