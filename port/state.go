/* SPDX-License-Identifier: MIT
 *
 * Copyright (C) 2017-2025 WireGuard LLC. All Rights Reserved.
 */

package port

import (
	"time"

	"go.uber.org/atomic"
)

// workerState tracks a worker goroutine's lifecycle. Orchestrators poll it;
// workers write it. Transitions are NotStarted -> Running -> Finished, with
// a reset to NotStarted on each (re)start.
type workerState int32

const (
	stateNotStarted workerState = iota
	stateRunning
	stateFinished
)

func (s workerState) String() string {
	switch s {
	case stateNotStarted:
		return "not-started"
	case stateRunning:
		return "running"
	case stateFinished:
		return "finished"
	}
	return "unknown"
}

// stateVar is an atomically updated workerState.
type stateVar struct {
	v atomic.Int32
}

func (s *stateVar) get() workerState { return workerState(s.v.Load()) }

func (s *stateVar) set(st workerState) { s.v.Store(int32(st)) }

func (s *stateVar) is(st workerState) bool { return s.get() == st }

// waitWhile polls until the state differs from st, sleeping interval
// between polls.
func (s *stateVar) waitWhile(st workerState, interval time.Duration) {
	for s.is(st) {
		time.Sleep(interval)
	}
}
