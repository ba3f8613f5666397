package app

import "time"

// Operation is one CLI invocation. Its ID tags every log line written while
// it runs.
type Operation struct {
	ID     string
	Name   string
	Status string // "success" or "error"
}

// NewOperation creates an Operation started at the given time.
func NewOperation(name string, started time.Time) *Operation {
	return &Operation{
		ID:     started.UTC().Format("20060102T150405Z"),
		Name:   name,
		Status: "success",
	}
}

// Fail marks the operation as failed. It stays failed.
func (op *Operation) Fail() {
	op.Status = "error"
}
