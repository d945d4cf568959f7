package pipeline

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidClusterCount = errors.New("cluster count must be positive")
	ErrIncompleteFeatures  = errors.New("record has an incomplete feature vector")
	ErrEmptyCluster        = errors.New("cluster has no members")
	ErrUnknownSource       = errors.New("source is not named in the merge policy")
	ErrDuplicateSource     = errors.New("source appears more than once")
	ErrNoRecords           = errors.New("no valid records")
	ErrUnsupportedFormat   = errors.New("unsupported source format")
	ErrInvalidPolicy       = errors.New("invalid policy")
)

// Stage names, as reported in errors, logs, metrics and stored progress.
const (
	StageIngest    = "ingest"
	StageNormalize = "normalize"
	StageCluster   = "cluster"
	StageAggregate = "aggregate"
	StageMerge     = "merge"
	StageExport    = "export"
)

// StageError reports which stage of a run failed.
type StageError struct {
	Stage string
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s stage failed: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

func stageErr(stage string, err error) error {
	if err == nil {
		return nil
	}
	var se *StageError
	if errors.As(err, &se) {
		return err
	}
	return &StageError{Stage: stage, Err: err}
}
