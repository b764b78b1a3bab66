// Copyright (c) Qualcomm Technologies, Inc. and/or its subsidiaries.
// SPDX-License-Identifier: BSD-3-Clause-Clear

package task

import (
	"runtime"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

type stuckScheduler struct {
	delays int
}

// TerminateCurrent deliberately fails to end the unit so the fallback loop
// is reached.
func (s *stuckScheduler) TerminateCurrent() {}

func (s *stuckScheduler) Delay(d time.Duration) {
	s.delays++
	if s.delays >= 3 {
		runtime.Goexit()
	}
}

func TestGuard_TerminateNeverReturns(t *testing.T) {
	g := NewGuard(GoroutineScheduler{}, zerolog.Nop())
	done := make(chan struct{})
	returned := false
	go func() {
		defer close(done)
		g.Terminate()
		returned = true
	}()
	<-done
	require.False(t, returned, "code after Terminate must be unreachable")
}

func TestGuard_ParksWhenTerminationDoesNotTakeEffect(t *testing.T) {
	sched := &stuckScheduler{}
	g := NewGuard(sched, zerolog.Nop())
	done := make(chan struct{})
	go func() {
		defer close(done)
		g.Terminate()
	}()
	<-done
	require.Equal(t, 3, sched.delays)
}

func TestGoroutineScheduler_RunsDeferredCalls(t *testing.T) {
	deferred := false
	done := make(chan struct{})
	go func() {
		defer close(done)
		defer func() { deferred = true }()
		GoroutineScheduler{}.TerminateCurrent()
	}()
	<-done
	require.True(t, deferred)
}
