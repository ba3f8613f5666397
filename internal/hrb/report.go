package hrb

import (
	"fmt"
	"time"
)

// Direction says which way a blob moved.
type Direction string

const (
	DirectionUpload   Direction = "upload"
	DirectionDownload Direction = "download"
)

// Mode restricts which side of a Comparison a session acts on.
type Mode string

const (
	ModeBoth     Mode = "both"
	ModeDownload Mode = "download"
	ModeUpload   Mode = "upload"
)

// ParseMode accepts "", "both", "download" and "upload".
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case "", ModeBoth:
		return ModeBoth, nil
	case ModeDownload, ModeUpload:
		return Mode(s), nil
	default:
		return "", fmt.Errorf("unknown sync mode %q (want both, download or upload)", s)
	}
}

func (m Mode) downloads() bool { return m == ModeBoth || m == ModeDownload }
func (m Mode) uploads() bool   { return m == ModeBoth || m == ModeUpload }

// ItemResult is the outcome of one transfer. Err is nil on success.
type ItemResult struct {
	ID        ObjectID
	Direction Direction
	Filename  string
	Path      string
	Err       error
}

// Report describes a finished sync session. It has one ItemResult for every
// transfer the session dispatched.
type Report struct {
	SessionID  string
	Owner      string
	Collection string
	Mode       Mode
	StartedAt  time.Time
	FinishedAt time.Time
	Items      []ItemResult
	Drift      []Drift
}

func (r *Report) Succeeded() int {
	n := 0
	for _, it := range r.Items {
		if it.Err == nil {
			n++
		}
	}
	return n
}

func (r *Report) Failed() int {
	return len(r.Items) - r.Succeeded()
}

// Err summarizes failed items, or returns nil when every item succeeded.
func (r *Report) Err() error {
	if failed := r.Failed(); failed > 0 {
		return fmt.Errorf("%d of %d transfers failed", failed, len(r.Items))
	}
	return nil
}

// Status is "success", "partial" or "error".
func (r *Report) Status() string {
	switch failed := r.Failed(); {
	case failed == 0:
		return "success"
	case failed < len(r.Items):
		return "partial"
	default:
		return "error"
	}
}

// SessionSummary is a recorded session as listed by a SessionRecorder.
type SessionSummary struct {
	ID         string
	Owner      string
	Collection string
	Mode       Mode
	Status     string
	StartedAt  time.Time
	FinishedAt time.Time
	Uploads    int
	Downloads  int
	Failures   int
}

// ItemRecord is a recorded ItemResult. Error is empty on success.
type ItemRecord struct {
	SessionID string
	ID        ObjectID
	Direction Direction
	Filename  string
	Error     string
}
