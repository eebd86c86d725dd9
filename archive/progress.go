// Copyright 2026 The Floppy Authors
// SPDX-License-Identifier: Apache-2.0

package archive

// Progress receives progress notifications from a run. Phases are
// sequential: StartPhase, any number of Step calls, EndPhase.
type Progress interface {
	// StartPhase begins a phase of total steps.
	StartPhase(name string, total int)
	// Step reports that work on one item has started.
	Step(detail string)
	// EndPhase completes the current phase.
	EndPhase()
}

type nopProgress struct{}

func (nopProgress) StartPhase(string, int) {}
func (nopProgress) Step(string)            {}
func (nopProgress) EndPhase()              {}

func orNopProgress(progress Progress) Progress {
	if progress == nil {
		return nopProgress{}
	}
	return progress
}
