package pool

import "github.com/oklog/ulid/v2"

// Job is a unit of work. It takes no arguments, returns nothing and runs
// exactly once on whichever executor dequeues it.
type Job func()

type messageKind uint8

const (
	newJob messageKind = iota
	terminate
)

// message is what travels on every channel in the tree: either a job or a
// request for exactly one receiver to stop.
type message struct {
	kind messageKind
	id   string
	job  Job
}

func jobMessage(job Job) message {
	return message{kind: newJob, id: ulid.Make().String(), job: job}
}

func terminateMessage() message {
	return message{kind: terminate}
}

// forward re-wraps a job for the next hop, keeping its id.
func (m message) forward() message {
	return message{kind: newJob, id: m.id, job: m.job}
}
