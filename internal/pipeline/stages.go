package pipeline

import "fmt"

// Stage names one failure boundary of a processing run.
type Stage string

const (
	StageMarkProcessing Stage = "mark-processing"
	StageMetadata       Stage = "metadata"
	StageDownload       Stage = "download"
	StageSegment        Stage = "segment"
	StageRecognize      Stage = "recognize"
	StageResolve        Stage = "resolve"
	StageCommit         Stage = "commit"
	StageCleanup        Stage = "cleanup"
	StageFinalize       Stage = "finalize"
)

// checkpoints is the progress reported once a stage completes.
var checkpoints = map[Stage]int{
	StageMarkProcessing: 5,
	StageMetadata:       10,
	StageDownload:       20,
	StageSegment:        30,
	StageRecognize:      40,
	StageResolve:        60,
	StageCommit:         80,
	StageCleanup:        90,
	StageFinalize:       100,
}

// StageError wraps the error that stopped a run with the stage it happened in.
type StageError struct {
	Stage Stage
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

func stageErr(stage Stage, err error) error {
	if err == nil {
		return nil
	}
	return &StageError{Stage: stage, Err: err}
}
