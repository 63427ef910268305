package tracker

import (
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"

	"github.com/Ankesh2004/swarm/internal/registry"
	"github.com/Ankesh2004/swarm/internal/report"
	"github.com/Ankesh2004/swarm/pkg/p2p"
)

// Queue serializes every state mutation. Sessions Submit concurrently; only
// the coordinator loop calls DrainOnce, which makes it the single mutator.
type Queue struct {
	env applyEnv

	mu      sync.Mutex
	pending []*Task

	boxMu     sync.Mutex
	mailboxes map[registry.PeerID]*Mailbox

	published atomic.Pointer[State]
}

func NewQueue(log zerolog.Logger, printer *report.Printer) *Queue {
	if printer == nil {
		printer = report.NewPrinter(nil)
	}
	q := &Queue{
		env:       applyEnv{log: log, printer: printer},
		mailboxes: make(map[registry.PeerID]*Mailbox),
	}
	q.published.Store(NewState())
	return q
}

func (q *Queue) Submit(t *Task) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.pending = append(q.pending, t)
}

// Attach creates the mailbox of peer id and returns it with the state as of
// the last drain. Every change is either part of that state or delivered to
// the mailbox, never both and never neither.
func (q *Queue) Attach(id registry.PeerID) (*Mailbox, *State) {
	q.boxMu.Lock()
	defer q.boxMu.Unlock()

	box := newMailbox()
	q.mailboxes[id] = box
	return box, q.published.Load()
}

func (q *Queue) Detach(id registry.PeerID) {
	q.boxMu.Lock()
	defer q.boxMu.Unlock()
	delete(q.mailboxes, id)
}

// DrainOnce applies every task queued so far to s in submission order and
// fans each notice out. Tasks submitted while it runs wait for the next call.
// It returns the number of tasks applied.
func (q *Queue) DrainOnce(s *State) int {
	q.mu.Lock()
	tasks := q.pending
	q.pending = nil
	q.mu.Unlock()

	if len(tasks) == 0 {
		return 0
	}

	// mailboxes stay fixed until the new state is published
	q.boxMu.Lock()
	for _, t := range tasks {
		if notice := t.apply(s, q.env); notice != nil {
			q.broadcast(t, notice)
		}
		q.env.log.Debug().
			Stringer("task", t.Kind).
			Uint32("origin", uint32(t.Origin)).
			Msg("task applied")
	}

	q.published.Store(s.Clone())
	q.boxMu.Unlock()

	for _, t := range tasks {
		close(t.done)
	}
	return len(tasks)
}

// Snapshot returns the state as of the last drain. Callers must not mutate it.
func (q *Queue) Snapshot() *State {
	return q.published.Load()
}

// broadcast must be called with boxMu held.
func (q *Queue) broadcast(t *Task, notice p2p.Payload) {
	for id, box := range q.mailboxes {
		if id == t.Origin && !t.includesOrigin() {
			continue
		}
		box.Put(notice)
	}
}

// Mailbox is one session's outbound FIFO of notices. The queue is its only
// producer and the session its only consumer.
type Mailbox struct {
	mu    sync.Mutex
	items []p2p.Payload
	ready chan struct{}
}

func newMailbox() *Mailbox {
	return &Mailbox{ready: make(chan struct{}, 1)}
}

func (m *Mailbox) Put(p p2p.Payload) {
	m.mu.Lock()
	m.items = append(m.items, p)
	m.mu.Unlock()

	select {
	case m.ready <- struct{}{}:
	default:
	}
}

// Take empties the mailbox and returns its contents in order.
func (m *Mailbox) Take() []p2p.Payload {
	m.mu.Lock()
	defer m.mu.Unlock()

	items := m.items
	m.items = nil
	return items
}

// Ready receives a value after Put; one signal may cover several notices.
func (m *Mailbox) Ready() <-chan struct{} {
	return m.ready
}

