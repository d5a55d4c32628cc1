// Copyright (c) 2024 Netskope, Inc. All rights reserved.

package pipeline

import (
	"fmt"

	"github.com/netSkope/sharepoint-extractor/internal/errs"
	xlog "github.com/netSkope/sharepoint-extractor/internal/log"
)

// Stage is a step of a run. Runs move forward through the stages in order
// and may jump to StageAborted from any of them.
type Stage int

const (
	StageStart Stage = iota
	StageLoadSecrets
	StageResolveSite
	StageExtractData
	StageDone
	StageAborted
)

func (s Stage) String() string {
	switch s {
	case StageStart:
		return "start"
	case StageLoadSecrets:
		return "load secrets"
	case StageResolveSite:
		return "resolve site"
	case StageExtractData:
		return "extract data"
	case StageDone:
		return "done"
	case StageAborted:
		return "aborted"
	}
	return fmt.Sprintf("stage(%d)", int(s))
}

// StageError reports the stage a run stopped in and the kind of failure.
type StageError struct {
	Stage Stage
	Kind  error
	Err   error
}

func newStageError(stage Stage, err error) *StageError {
	return &StageError{Stage: stage, Kind: errs.KindOf(err), Err: err}
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s failed: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

// EventType discriminates Event.
type EventType int

const (
	// EventStage marks entry into Event.Stage.
	EventStage EventType = iota
	// EventLog carries a log line in Event.Line.
	EventLog
	// EventFinished is the last event of a run.
	EventFinished
)

// Event is posted by a running pipeline.
type Event struct {
	Type    EventType
	Stage   Stage
	Line    xlog.Line
	Summary *Summary
	Err     error
}
