// Copyright (c) Qualcomm Technologies, Inc. and/or its subsidiaries.
// SPDX-License-Identifier: BSD-3-Clause-Clear

// Package task guarantees that an update invocation always ends in a
// controlled termination of its execution unit and never falls through to
// its caller.
package task

import (
	"runtime"
	"time"

	"github.com/rs/zerolog"
)

type (
	// Scheduler is the hosting scheduler's view of the current unit of
	// work. TerminateCurrent ends the unit and is expected not to return;
	// Delay is the coarse wait used only in the inert fallback loop.
	Scheduler interface {
		TerminateCurrent()
		Delay(d time.Duration)
	}

	// Guard terminates the current unit exactly once, whatever path led
	// there.
	Guard struct {
		sched Scheduler
		log   zerolog.Logger
	}

	// GoroutineScheduler hosts each invocation in its own goroutine and
	// terminates it with runtime.Goexit, which runs deferred calls and
	// never returns.
	GoroutineScheduler struct{}
)

func NewGuard(sched Scheduler, log zerolog.Logger) *Guard {
	return &Guard{sched: sched, log: log}
}

// Terminate signals the scheduler that this unit is done and never returns
// control to its caller. If the termination signal does not take effect
// immediately, the guard parks in an inert delay loop instead of falling
// through to undefined continuation. No code may follow a call to
// Terminate.
func (g *Guard) Terminate() {
	g.log.Info().Msg("Exiting update task")
	g.sched.TerminateCurrent()

	for {
		g.sched.Delay(time.Second)
	}
}

func (GoroutineScheduler) TerminateCurrent() { runtime.Goexit() }

func (GoroutineScheduler) Delay(d time.Duration) { time.Sleep(d) }
