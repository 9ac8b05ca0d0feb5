package chat

import "fmt"

// Stages of SendMessage, reported by StageError.
const (
	StageAppend = "append"
	StageIndex  = "index"
)

// StageError names the step of a write that failed.
type StageError struct {
	Stage string
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}
