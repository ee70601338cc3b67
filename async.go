package fiberscript

import "github.com/google/uuid"

// Scheduler posts continuations to be run later, decoupling the VM's
// single-threaded cooperative coroutines from however the host
// actually drives its event loop. A host typically implements this
// over its own reactor; Script.ExecAsync ships a SyncScheduler good
// enough for tests and simple embeddings.
type Scheduler interface {
	// Post schedules fn to run later, on whatever thread/goroutine the
	// scheduler chooses to drive from. The VM never calls fn directly.
	Post(fn func())
}

// SyncScheduler runs every posted continuation inline, immediately.
// It is the default for ExecSync-style tests where there is no
// surrounding event loop to hand control back to.
type SyncScheduler struct{}

func (SyncScheduler) Post(fn func()) { fn() }

// taskState is the lifecycle of one suspended async call.
type taskState int

const (
	taskPending taskState = iota
	taskResolved
	taskRejected
)

// task represents one outstanding suspension: a library
// AsyncFunction/AsyncConstant call that hasn't posted its result yet.
// Task IDs are UUIDs so a host can correlate its own async bookkeeping
// (timers, pending requests) with the coroutine that is waiting on it,
// without the VM leaking sequential integers that would collide across
// independently embedded Scripts.
type task struct {
	id     uuid.UUID
	state  taskState
	result Value
	err    error
	done   chan struct{}
}

func newTask() *task {
	return &task{id: uuid.New(), state: taskPending, done: make(chan struct{})}
}

func (t *task) resolve(v Value) {
	if t.state != taskPending {
		return
	}
	t.result = v
	t.state = taskResolved
	close(t.done)
}

func (t *task) reject(err error) {
	if t.state != taskPending {
		return
	}
	t.err = err
	t.state = taskRejected
	close(t.done)
}

func (t *task) wait() (Value, error) {
	<-t.done
	return t.result, t.err
}
