package session

import (
	"sync"
	"time"

	"github.com/jobmesh/jobmesh/core"
)

// ConnectionState describes the transport health of a chat session.
type ConnectionState string

const (
	// StateConnecting is the initial state before the first stream attach.
	StateConnecting ConnectionState = "connecting"
	// StateOpen means a client stream is attached and messages flow.
	StateOpen ConnectionState = "open"
	// StateDegraded means the transport dropped; the queue is retained for
	// a reconnect grace period.
	StateDegraded ConnectionState = "degraded"
	// StateClosed is terminal; the queue is discarded.
	StateClosed ConnectionState = "closed"
)

// Session is one logical connection for a user. It implements the
// orchestrator sink: Deliver enqueues without blocking, a dedicated
// dispatcher goroutine drains the queue to the attached client stream.
type Session struct {
	ID     string
	UserID core.UserID

	queueSize int
	recordFn  func(msg core.Message)

	mu           sync.Mutex
	state        ConnectionState
	activeRunID  string
	queue        []core.Message
	lastActivity time.Time
	degradedAt   time.Time

	// client is the currently attached stream; stop is closed when that
	// attachment ends so an in-flight send can back off.
	client chan core.Message
	stop   chan struct{}

	notify chan struct{}
	done   chan struct{}
}

func newSession(userID core.UserID, queueSize int) *Session {
	return &Session{
		ID:           core.NewID(),
		UserID:       userID,
		queueSize:    queueSize,
		state:        StateConnecting,
		lastActivity: time.Now().UTC(),
		notify:       make(chan struct{}, 1),
		done:         make(chan struct{}),
	}
}

// State returns the current connection state.
func (s *Session) State() ConnectionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// ActiveRunID returns the run this session is currently tracking, or "".
func (s *Session) ActiveRunID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.activeRunID
}

// LastActivityAt returns the time of the last inbound or connect event.
func (s *Session) LastActivityAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActivity
}

// Deliver implements pipeline.Sink. It never blocks: the message is
// appended to the bounded queue and the dispatcher is woken. On a closed
// session the message is discarded.
func (s *Session) Deliver(msg core.Message) {
	s.mu.Lock()
	if s.state == StateClosed {
		s.mu.Unlock()
		return
	}
	s.enqueueLocked(msg)
	s.mu.Unlock()
	s.wake()
}

// enqueueLocked appends msg and enforces the queue bound by dropping the
// oldest entries, folding the loss into a single leading gap marker.
func (s *Session) enqueueLocked(msg core.Message) {
	s.queue = append(s.queue, msg)
	overflow := len(s.queue) - s.queueSize
	if overflow <= 0 {
		return
	}
	dropped := 0
	for _, m := range s.queue[:overflow] {
		if m.Type == core.MessageGap {
			dropped += m.Dropped
		} else {
			dropped++
		}
	}
	rest := s.queue[overflow:]
	if rest[0].Type == core.MessageGap {
		rest[0].Dropped += dropped
		s.queue = rest
		return
	}
	// The gap marker needs a slot of its own.
	dropped++
	s.queue = append([]core.Message{core.NewGapMessage(dropped)}, rest[1:]...)
}

func (s *Session) wake() {
	select {
	case s.notify <- struct{}{}:
	default:
	}
}

func (s *Session) touch() {
	s.mu.Lock()
	s.lastActivity = time.Now().UTC()
	s.mu.Unlock()
}

func (s *Session) setActiveRun(runID string) {
	s.mu.Lock()
	s.activeRunID = runID
	s.mu.Unlock()
}

// attach binds a fresh client stream and moves the session to Open. The
// previous attachment, if any, is stopped; its channel stays open and is
// simply abandoned.
func (s *Session) attach() (<-chan core.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateClosed {
		return nil, ErrSessionClosed
	}
	if s.stop != nil {
		close(s.stop)
	}
	s.client = make(chan core.Message, 1)
	s.stop = make(chan struct{})
	s.state = StateOpen
	s.lastActivity = time.Now().UTC()
	defer s.wake()
	return s.client, nil
}

// detach marks the transport as dropped. The queue is retained; the
// session stays resumable until the reconnect grace period lapses. The
// returned timestamp identifies this particular disconnect.
func (s *Session) detach() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateOpen {
		return s.degradedAt
	}
	if s.stop != nil {
		close(s.stop)
		s.stop = nil
	}
	s.client = nil
	s.state = StateDegraded
	s.degradedAt = time.Now().UTC()
	return s.degradedAt
}

// degradedSince reports when the current Degraded spell began.
func (s *Session) degradedSince() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.degradedAt
}

// close moves the session to Closed, discards the queue and stops the
// dispatcher. It returns the run that was active, if any, so the caller
// can cancel it.
func (s *Session) close() (runID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateClosed {
		return ""
	}
	s.state = StateClosed
	s.queue = nil
	if s.stop != nil {
		close(s.stop)
		s.stop = nil
	}
	runID = s.activeRunID
	s.activeRunID = ""
	close(s.done)
	return runID
}

// dispatch drains the queue to the attached client in FIFO order. It is
// the sole consumer of the queue and the sole closer of client channels.
func (s *Session) dispatch() {
	for {
		select {
		case <-s.done:
			s.mu.Lock()
			if s.client != nil {
				close(s.client)
				s.client = nil
			}
			s.mu.Unlock()
			return
		case <-s.notify:
		}

		for {
			s.mu.Lock()
			if s.state != StateOpen || s.client == nil || len(s.queue) == 0 {
				s.mu.Unlock()
				break
			}
			msg := s.queue[0]
			s.queue = s.queue[1:]
			client, stop := s.client, s.stop
			s.mu.Unlock()

			select {
			case client <- msg:
				if s.recordFn != nil {
					s.recordFn(msg)
				}
			case <-stop:
				// Attachment ended mid-send; put the message back so
				// the next attachment sees it first.
				s.mu.Lock()
				s.queue = append([]core.Message{msg}, s.queue...)
				s.mu.Unlock()
			case <-s.done:
				s.mu.Lock()
				if s.client != nil {
					close(s.client)
					s.client = nil
				}
				s.mu.Unlock()
				return
			}
		}
	}
}
