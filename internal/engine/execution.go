// internal/engine/execution.go
package engine

import (
	"context"
	"sync"

	"github.com/xkilldash9x/scrapeflow/api/schemas"
	"github.com/xkilldash9x/scrapeflow/internal/interpreter"
	"github.com/xkilldash9x/scrapeflow/internal/iterator"
)

// State is the lifecycle state of an execution.
type State string

const (
	// StateIdle is an execution that was accepted but has not started.
	StateIdle State = "idle"
	// StatePending covers browser session acquisition.
	StatePending State = "pending"
	// StateExecuting runs iterations.
	StateExecuting State = "executing"
	// StateExited is terminal.
	StateExited State = "exited"
)

// EventType discriminates Event.
type EventType string

const (
	EventStateChanged EventType = "stateChanged"
	EventEntry        EventType = "entry"
	EventExited       EventType = "exited"
)

// Event is one message of the live trace of an execution.
type Event struct {
	Type        EventType `json:"type"`
	ExecutionID string    `json:"executionId"`
	State       State     `json:"state"`
	// Iteration is the index of the iteration an entry belongs to.
	Iteration int                           `json:"iteration"`
	Entry     *schemas.ExecutionInfo        `json:"entry,omitempty"`
	Result    *schemas.ScraperExecutionInfo `json:"result,omitempty"`
}

// Snapshot is a point in time copy of an execution.
type Snapshot struct {
	ID        string `json:"id"`
	ScraperID string `json:"scraperId"`
	RoutineID string `json:"routineId,omitempty"`
	State     State  `json:"state"`
	// Current is the last instruction that ran.
	Current *schemas.InstructionInfo     `json:"current,omitempty"`
	Info    schemas.ScraperExecutionInfo `json:"info"`
}

// execution is one run of a scraper. Its trace is only appended to.
type execution struct {
	id      string
	scraper schemas.ScraperType
	program *interpreter.Program
	seq     iterator.Sequence

	ctx    context.Context
	cancel context.CancelCauseFunc
	done   chan struct{}

	mu      sync.Mutex
	state   State
	current *schemas.InstructionInfo
	info    schemas.ScraperExecutionInfo
	subs    map[int]chan Event
	nextSub int
	buffer  int
	// dropped counts subscribers closed because they fell behind.
	dropped int
}

func (e *execution) setState(s State) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.state = s
	e.publishLocked(Event{Type: EventStateChanged, ExecutionID: e.id, State: s})
}

func (e *execution) beginIteration(it schemas.IterationInfo) {
	e.mu.Lock()
	e.info.Iterations = append(e.info.Iterations, it)
	e.mu.Unlock()
}

// appendEntry adds an entry to the iteration in progress and streams it.
func (e *execution) appendEntry(entry schemas.ExecutionInfo) {
	e.mu.Lock()
	defer e.mu.Unlock()
	n := len(e.info.Iterations)
	if n == 0 {
		return
	}
	last := &e.info.Iterations[n-1]
	last.Entries = append(last.Entries, entry)
	if entry.Type == schemas.InfoInstruction && entry.Instruction != nil {
		e.current = entry.Instruction
	}
	e.publishLocked(Event{Type: EventEntry, ExecutionID: e.id, State: e.state, Iteration: last.Index, Entry: &entry})
}

// endIteration replaces the iteration in progress with its final form.
func (e *execution) endIteration(it schemas.IterationInfo) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if n := len(e.info.Iterations); n > 0 && e.info.Iterations[n-1].Index == it.Index {
		e.info.Iterations[n-1] = it
		return
	}
	e.info.Iterations = append(e.info.Iterations, it)
}

// exit finalizes the trace, notifies subscribers and closes their channels.
func (e *execution) exit(result schemas.ScraperExecutionInfo) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.info = result
	e.state = StateExited
	e.publishLocked(Event{Type: EventExited, ExecutionID: e.id, State: StateExited, Result: copyInfo(&result)})
	for id, ch := range e.subs {
		close(ch)
		delete(e.subs, id)
	}
	close(e.done)
}

// publishLocked delivers ev without blocking. A subscriber whose buffer is
// full is closed.
func (e *execution) publishLocked(ev Event) {
	for id, ch := range e.subs {
		select {
		case ch <- ev:
		default:
			close(ch)
			delete(e.subs, id)
			e.dropped++
		}
	}
}

func (e *execution) subscribe() (<-chan Event, func()) {
	e.mu.Lock()
	defer e.mu.Unlock()

	ch := make(chan Event, e.buffer)
	if e.state == StateExited {
		ch <- Event{Type: EventExited, ExecutionID: e.id, State: StateExited, Result: copyInfo(&e.info)}
		close(ch)
		return ch, func() {}
	}
	ch <- Event{Type: EventStateChanged, ExecutionID: e.id, State: e.state}

	id := e.nextSub
	e.nextSub++
	e.subs[id] = ch
	var once sync.Once
	return ch, func() {
		once.Do(func() {
			e.mu.Lock()
			defer e.mu.Unlock()
			if sub, ok := e.subs[id]; ok {
				close(sub)
				delete(e.subs, id)
			}
		})
	}
}

func (e *execution) snapshot() Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	s := Snapshot{
		ID:        e.id,
		ScraperID: e.info.ScraperID,
		RoutineID: e.info.RoutineID,
		State:     e.state,
		Info:      *copyInfo(&e.info),
	}
	if e.current != nil {
		cur := *e.current
		s.Current = &cur
	}
	return s
}

func copyInfo(info *schemas.ScraperExecutionInfo) *schemas.ScraperExecutionInfo {
	out := *info
	out.Iterations = make([]schemas.IterationInfo, len(info.Iterations))
	for i, it := range info.Iterations {
		it.Entries = append([]schemas.ExecutionInfo(nil), it.Entries...)
		out.Iterations[i] = it
	}
	return &out
}
