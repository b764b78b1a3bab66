// Copyright (c) Qualcomm Technologies, Inc. and/or its subsidiaries.
// SPDX-License-Identifier: BSD-3-Clause-Clear

package engine

import (
	"context"
	"fmt"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/edgeward/otaup/pkg/appdesc"
	"github.com/edgeward/otaup/pkg/partition"
	"github.com/edgeward/otaup/pkg/session"
)

type (
	fakeProvider struct {
		boot    partition.Ref
		running partition.Ref
		next    *partition.Ref
		invalid *partition.Ref
		descs   map[string]appdesc.Descriptor
	}

	fakeTransport struct {
		openErr     error
		describeErr error
		remote      appdesc.Descriptor
		totalSteps  int
		stepErr     error
		stepErrAt   int
		complete    bool
		finishErr   error

		opens   int
		steps   int
		aborted int
	}

	fakeRestarter struct {
		restarts int
	}

	fakeReporter struct {
		events []Event
	}
)

func (p *fakeProvider) BootPartition() (partition.Ref, error)    { return p.boot, nil }
func (p *fakeProvider) RunningPartition() (partition.Ref, error) { return p.running, nil }

func (p *fakeProvider) NextUpdatePartition() (partition.Ref, bool) {
	if p.next == nil {
		return partition.Ref{Role: partition.RoleNone}, false
	}
	return *p.next, true
}

func (p *fakeProvider) LastInvalidPartition() (partition.Ref, bool) {
	if p.invalid == nil {
		return partition.Ref{Role: partition.RoleNone}, false
	}
	return *p.invalid, true
}

func (p *fakeProvider) Descriptor(ref partition.Ref) (appdesc.Descriptor, error) {
	d, ok := p.descs[ref.Label]
	if !ok {
		return appdesc.Descriptor{}, fmt.Errorf("no image in partition %q", ref.Label)
	}
	return d, nil
}

func (t *fakeTransport) Open(ctx context.Context, cfg session.Config) (session.Handle, error) {
	t.opens++
	if t.openErr != nil {
		return nil, t.openErr
	}
	return t, nil
}

func (t *fakeTransport) Describe() (appdesc.Descriptor, error) {
	return t.remote, t.describeErr
}

func (t *fakeTransport) Step() (bool, error) {
	if t.stepErr != nil && t.steps == t.stepErrAt {
		return false, t.stepErr
	}
	t.steps++
	return t.steps >= t.totalSteps, nil
}

func (t *fakeTransport) BytesRead() int64 { return int64(t.steps) * 1024 }
func (t *fakeTransport) IsComplete() bool { return t.complete }
func (t *fakeTransport) Finish() error    { return t.finishErr }
func (t *fakeTransport) Abort()           { t.aborted++ }

func (r *fakeRestarter) Restart() { r.restarts++ }

func (r *fakeReporter) Report(ev Event) { r.events = append(r.events, ev) }

func ref(label string, offset uint32, role partition.Role) partition.Ref {
	return partition.Ref{Label: label, Offset: offset, Role: role}
}

func dualSlotProvider(runningDesc appdesc.Descriptor) *fakeProvider {
	next := ref("ota_1", 0x110000, partition.RoleNextUpdate)
	return &fakeProvider{
		boot:    ref("ota_0", 0x10000, partition.RoleConfiguredBoot),
		running: ref("ota_0", 0x10000, partition.RoleRunning),
		next:    &next,
		descs: map[string]appdesc.Descriptor{
			"ota_0": runningDesc,
		},
	}
}

func newTestEngine(p partition.Provider, t *fakeTransport) (*Engine, *fakeRestarter, *fakeReporter) {
	restarter := &fakeRestarter{}
	reporter := &fakeReporter{}
	eng := New(p, t, session.Config{URL: "https://updates.example.com/fw.bin"},
		WithLogger(zerolog.Nop()),
		WithSystemControl(restarter),
		WithReporter(reporter))
	return eng, restarter, reporter
}

func TestRun_NoUpdateNeeded(t *testing.T) {
	// Remote and running firmware are identical: skip without writing.
	running := appdesc.New("fw", "1.2.0", "2023-01-01", "10:00")
	transport := &fakeTransport{remote: running}
	eng, restarter, _ := newTestEngine(dualSlotProvider(running), transport)

	outcome, err := eng.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, OutcomeNoUpdateNeeded, outcome)
	require.Zero(t, transport.steps)
	require.Zero(t, restarter.restarts)
	require.Equal(t, 1, transport.aborted)
}

func TestRun_RejectedAsKnownInvalid(t *testing.T) {
	// Remote matches the deny-listed build: reject before any step.
	running := appdesc.New("fw", "1.2.0", "2023-01-01", "10:00")
	bad := appdesc.New("fw", "1.3.0", "2023-02-01", "11:00")

	provider := dualSlotProvider(running)
	invalid := ref("ota_1", 0x110000, partition.RoleLastInvalid)
	provider.invalid = &invalid
	provider.descs["ota_1"] = bad

	transport := &fakeTransport{remote: bad}
	eng, restarter, _ := newTestEngine(provider, transport)

	outcome, err := eng.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, OutcomeRejectedInvalid, outcome)
	require.Zero(t, transport.steps)
	require.Zero(t, restarter.restarts)
	require.Equal(t, 1, transport.aborted)
}

func TestRun_SuccessfulUpdate(t *testing.T) {
	running := appdesc.New("fw", "1.2.0", "2023-01-01", "10:00")
	remote := appdesc.New("fw", "1.3.0", "2023-02-01", "11:00")
	transport := &fakeTransport{remote: remote, totalSteps: 4, complete: true}
	eng, restarter, reporter := newTestEngine(dualSlotProvider(running), transport)

	outcome, err := eng.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, OutcomeSuccess, outcome)
	require.Equal(t, 4, transport.steps)
	require.Equal(t, 1, restarter.restarts)
	require.Zero(t, transport.aborted)

	var types []EventType
	for _, ev := range reporter.events {
		types = append(types, ev.Type)
	}
	require.Equal(t, []EventType{EventDownloadStarted, EventDownloadCompleted, EventUpdateCompleted}, types)
}

func TestRun_IncompleteDownload(t *testing.T) {
	// The loop reports completion but the completeness check disagrees;
	// both must count as a failed download.
	running := appdesc.New("fw", "1.2.0", "2023-01-01", "10:00")
	remote := appdesc.New("fw", "1.3.0", "2023-02-01", "11:00")
	transport := &fakeTransport{remote: remote, totalSteps: 2, complete: false}
	eng, restarter, _ := newTestEngine(dualSlotProvider(running), transport)

	outcome, err := eng.Run(context.Background())
	require.ErrorIs(t, err, session.ErrIncompleteData)
	require.Equal(t, OutcomeDownloadFailed, outcome)
	require.Zero(t, restarter.restarts)
	require.Equal(t, 1, transport.aborted)
}

func TestRun_ValidationFailed(t *testing.T) {
	running := appdesc.New("fw", "1.2.0", "2023-01-01", "10:00")
	remote := appdesc.New("fw", "1.3.0", "2023-02-01", "11:00")
	transport := &fakeTransport{
		remote:     remote,
		totalSteps: 2,
		complete:   true,
		finishErr:  fmt.Errorf("%w: CRC mismatch", session.ErrValidateFailed),
	}
	eng, restarter, _ := newTestEngine(dualSlotProvider(running), transport)

	outcome, err := eng.Run(context.Background())
	require.ErrorIs(t, err, session.ErrValidateFailed)
	require.Equal(t, OutcomeValidationFailed, outcome)
	require.Zero(t, restarter.restarts)
}

func TestRun_TransportErrorMidDownload(t *testing.T) {
	running := appdesc.New("fw", "1.2.0", "2023-01-01", "10:00")
	remote := appdesc.New("fw", "1.3.0", "2023-02-01", "11:00")
	transport := &fakeTransport{
		remote:     remote,
		totalSteps: 10,
		stepErr:    fmt.Errorf("connection reset"),
		stepErrAt:  3,
	}
	eng, restarter, _ := newTestEngine(dualSlotProvider(running), transport)

	outcome, err := eng.Run(context.Background())
	require.ErrorIs(t, err, session.ErrTransport)
	require.Equal(t, OutcomeDownloadFailed, outcome)
	require.Zero(t, restarter.restarts)
	require.Equal(t, 1, transport.aborted)
}

func TestRun_SessionOpenFailure(t *testing.T) {
	running := appdesc.New("fw", "1.2.0", "2023-01-01", "10:00")
	transport := &fakeTransport{openErr: fmt.Errorf("connection refused")}
	eng, restarter, _ := newTestEngine(dualSlotProvider(running), transport)

	outcome, err := eng.Run(context.Background())
	require.ErrorIs(t, err, session.ErrSessionOpen)
	require.Equal(t, OutcomeDownloadFailed, outcome)
	require.Zero(t, restarter.restarts)
}

func TestRun_MetadataFetchFailure(t *testing.T) {
	running := appdesc.New("fw", "1.2.0", "2023-01-01", "10:00")
	transport := &fakeTransport{describeErr: fmt.Errorf("short read")}
	eng, restarter, _ := newTestEngine(dualSlotProvider(running), transport)

	outcome, err := eng.Run(context.Background())
	require.ErrorIs(t, err, session.ErrMetadataFetch)
	require.Equal(t, OutcomeDownloadFailed, outcome)
	require.Zero(t, restarter.restarts)
	require.Equal(t, 1, transport.aborted)
}

func TestRun_MissingNextUpdatePartition(t *testing.T) {
	running := appdesc.New("fw", "1.2.0", "2023-01-01", "10:00")
	provider := dualSlotProvider(running)
	provider.next = nil
	transport := &fakeTransport{remote: running}
	eng, restarter, _ := newTestEngine(provider, transport)

	outcome, err := eng.Run(context.Background())
	require.ErrorIs(t, err, partition.ErrMalformedLayout)
	require.Equal(t, OutcomeNone, outcome)
	require.Zero(t, restarter.restarts)
	require.Zero(t, transport.opens)
}

func TestRun_UnreadableRunningDescriptorStillUpdates(t *testing.T) {
	// A running slot without a readable image only suppresses the log
	// line; the update itself must proceed.
	remote := appdesc.New("fw", "1.3.0", "2023-02-01", "11:00")
	provider := dualSlotProvider(appdesc.Descriptor{})
	delete(provider.descs, "ota_0")

	transport := &fakeTransport{remote: remote, totalSteps: 1, complete: true}
	eng, restarter, _ := newTestEngine(provider, transport)

	outcome, err := eng.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, OutcomeSuccess, outcome)
	require.Equal(t, 1, restarter.restarts)
}
