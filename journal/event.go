package journal

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/vmihailenco/msgpack/v5"
)

// Kind is what happened to a job or to a goroutine of the pool.
type Kind string

const (
	KindSubmitted  Kind = "submitted"
	KindStarted    Kind = "started"
	KindFinished   Kind = "finished"
	KindPanicked   Kind = "panicked"
	KindDropped    Kind = "dropped"
	KindTerminated Kind = "terminated"
)

// Status is the state of a job as far as the journal knows.
type Status string

const (
	StatusUnknown   Status = "unknown"
	StatusScheduled Status = "scheduled"
	StatusActive    Status = "active"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusDropped   Status = "dropped"
)

// StatusLevel orders statuses so that a job never moves backwards, whatever
// order its events were written in.
type StatusLevel int

const (
	LevelUnknown StatusLevel = iota
	LevelScheduled
	LevelActive
	LevelTerminal
)

// Level returns the level of s. Completed, failed and dropped are all terminal.
func (s Status) Level() StatusLevel {
	switch s {
	case StatusScheduled:
		return LevelScheduled
	case StatusActive:
		return LevelActive
	case StatusCompleted, StatusFailed, StatusDropped:
		return LevelTerminal
	default:
		return LevelUnknown
	}
}

// Status maps an event kind to the job status it implies.
func (k Kind) Status() Status {
	switch k {
	case KindSubmitted:
		return StatusScheduled
	case KindStarted:
		return StatusActive
	case KindFinished:
		return StatusCompleted
	case KindPanicked:
		return StatusFailed
	case KindDropped:
		return StatusDropped
	default:
		return StatusUnknown
	}
}

// Event is one journal entry. Worker and Executor use -1 for "none", as in
// pool.ID.
type Event struct {
	Id        string        `json:"id" msgpack:"id" db:"id"`
	Kind      Kind          `json:"kind" msgpack:"kind" db:"kind"`
	JobId     string        `json:"job_id" msgpack:"job_id" db:"job_id"`
	Worker    int           `json:"worker" msgpack:"worker" db:"worker"`
	Executor  int           `json:"executor" msgpack:"executor" db:"executor"`
	Elapsed   time.Duration `json:"elapsed" msgpack:"elapsed" db:"-"`
	Detail    string        `json:"detail,omitempty" msgpack:"detail,omitempty" db:"-"`
	CreatedAt time.Time     `json:"created_at" msgpack:"created_at" db:"-"`
}

// Marshal encodes e as msgpack.
func (e *Event) Marshal() ([]byte, error) {
	raw, err := msgpack.Marshal(e)
	if err != nil {
		return nil, errors.Wrapf(err, "encoding event %s", e.Id)
	}
	return raw, nil
}

// UnmarshalEvent decodes an event written by Marshal.
func UnmarshalEvent(raw []byte) (*Event, error) {
	var e Event
	if err := msgpack.Unmarshal(raw, &e); err != nil {
		return nil, errors.Wrap(err, "decoding event")
	}
	return &e, nil
}

// Store persists journal events.
type Store interface {
	// Append writes one event
	Append(context.Context, *Event) error

	// Events returns the events of a job, oldest first
	Events(context.Context, string) ([]Event, error)

	// Status returns the furthest status a job has reached
	Status(context.Context, string) (Status, error)

	// Counts returns the number of events per kind
	Counts(context.Context) (map[Kind]int, error)

	Close() error
}

// Furthest returns whichever of a and b is further along. Ties keep a.
func Furthest(a, b Status) Status {
	if b.Level() > a.Level() {
		return b
	}
	return a
}
