// Package capture wraps a continuous streaming speech recognizer as a
// sequence of capture sessions with a strict event contract: zero or more
// fragments followed by exactly one terminal event.
package capture

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"voicefront/agent/internal/clock"
)

// ErrAlreadyActive is returned by Start while a session holds the microphone.
var ErrAlreadyActive = errors.New("capture session already active")

// DefaultStopTimeout bounds how long Stop waits for the recognizer to report
// the end of a session before the wrapper reports it itself.
const DefaultStopTimeout = 3 * time.Second

// ErrorKind classifies recognizer failures.
type ErrorKind int

const (
	ErrUnknown ErrorKind = iota
	ErrPermissionDenied
	ErrNoMatch
	ErrAborted
)

func (k ErrorKind) String() string {
	switch k {
	case ErrPermissionDenied:
		return "permission_denied"
	case ErrNoMatch:
		return "no_match"
	case ErrAborted:
		return "aborted"
	default:
		return "unknown"
	}
}

// Transient reports whether capture may simply be restarted after this kind.
func (k ErrorKind) Transient() bool { return k != ErrPermissionDenied }

// ParseErrorKind maps Web Speech API error codes onto ErrorKind.
func ParseErrorKind(code string) ErrorKind {
	switch strings.ToLower(strings.TrimSpace(code)) {
	case "not-allowed", "service-not-allowed", "permission_denied", "permission-denied":
		return ErrPermissionDenied
	case "no-speech", "no-match", "no_match":
		return ErrNoMatch
	case "aborted":
		return ErrAborted
	default:
		return ErrUnknown
	}
}

// Error is a recognizer failure.
type Error struct {
	Kind    ErrorKind
	Message string
}

func (e *Error) Error() string {
	if e.Message == "" {
		return "capture: " + e.Kind.String()
	}
	return fmt.Sprintf("capture: %s: %s", e.Kind, e.Message)
}

// Options configures the recognizer for each session.
type Options struct {
	Locale     string
	Interim    bool
	Continuous bool
}

// Sink receives results for one session. Implementations are supplied by
// Session; recognizers may call them from any goroutine, including
// synchronously from Start or Stop.
type Sink interface {
	Result(interim, final string)
	Ended()
	Failed(kind ErrorKind, message string)
}

// Recognizer is the streaming speech-recognition capability.
type Recognizer interface {
	// Start begins capture for session id, delivering results to sink. A
	// recognizer that returns an error must not call sink for that id.
	Start(ctx context.Context, id uint64, opts Options, sink Sink) error
	// Stop requests graceful termination of session id.
	Stop(id uint64) error
}

// EventType distinguishes capture events.
type EventType int

const (
	EventFragment EventType = iota
	EventEnded
	EventError
)

func (t EventType) String() string {
	switch t {
	case EventFragment:
		return "fragment"
	case EventEnded:
		return "ended"
	case EventError:
		return "error"
	default:
		return "unknown"
	}
}

// Event is one capture event, tagged with the session that produced it.
type Event struct {
	Session uint64
	Type    EventType
	Interim string
	Final   string
	Err     *Error
	// Synthetic marks an ended event produced by the stop timeout.
	Synthetic bool
}

// Session owns the microphone through a Recognizer. At most one recognition
// stream is active at a time; a stopping stream still counts as active until
// its terminal event.
type Session struct {
	rec         Recognizer
	opts        Options
	clock       clock.Clock
	stopTimeout time.Duration
	emit        func(Event)

	mu       sync.Mutex
	seq      uint64
	cur      uint64
	stopping bool
	watchdog clock.Timer
}

// NewSession wraps rec. emit receives every event that passes the contract
// filter; it is called without internal locks held.
func NewSession(rec Recognizer, opts Options, c clock.Clock, stopTimeout time.Duration, emit func(Event)) *Session {
	if c == nil {
		c = clock.Real()
	}
	if stopTimeout <= 0 {
		stopTimeout = DefaultStopTimeout
	}
	return &Session{rec: rec, opts: opts, clock: c, stopTimeout: stopTimeout, emit: emit}
}

// Start begins a new capture session and returns its id.
func (s *Session) Start(ctx context.Context) (uint64, error) {
	s.mu.Lock()
	if s.cur != 0 {
		s.mu.Unlock()
		return 0, ErrAlreadyActive
	}
	s.seq++
	id := s.seq
	s.cur = id
	s.stopping = false
	s.mu.Unlock()

	if err := s.rec.Start(ctx, id, s.opts, &binding{s: s, id: id}); err != nil {
		s.mu.Lock()
		if s.cur == id {
			s.cur = 0
		}
		s.mu.Unlock()
		var ce *Error
		if errors.As(err, &ce) {
			return 0, ce
		}
		return 0, &Error{Kind: ErrUnknown, Message: err.Error()}
	}
	log.Printf("[capture] started session=%d locale=%s", id, s.opts.Locale)
	return id, nil
}

// Stop requests termination of the active session. Fragments arriving after
// Stop are discarded and exactly one ended (or error) event follows. Calling
// Stop with nothing active, or twice, is a no-op.
func (s *Session) Stop() {
	s.mu.Lock()
	if s.cur == 0 || s.stopping {
		s.mu.Unlock()
		return
	}
	id := s.cur
	s.stopping = true
	s.watchdog = s.clock.AfterFunc(s.stopTimeout, func() {
		log.Printf("[capture] stop timeout session=%d; closing", id)
		s.terminate(id, Event{Session: id, Type: EventEnded, Synthetic: true})
	})
	s.mu.Unlock()

	if err := s.rec.Stop(id); err != nil {
		log.Printf("[capture] stop session=%d: %v", id, err)
		s.terminate(id, Event{Session: id, Type: EventEnded, Synthetic: true})
	}
}

// Active reports whether a session holds the microphone, stopping or not.
func (s *Session) Active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cur != 0
}

// Stopping reports whether the active session has been asked to stop.
func (s *Session) Stopping() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cur != 0 && s.stopping
}

// Current returns the id of the active session, or 0.
func (s *Session) Current() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cur
}

func (s *Session) deliver(id uint64, ev Event) {
	s.mu.Lock()
	if s.cur != id || s.stopping {
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()
	s.emit(ev)
}

func (s *Session) terminate(id uint64, ev Event) {
	s.mu.Lock()
	if s.cur != id {
		s.mu.Unlock()
		return
	}
	s.cur = 0
	s.stopping = false
	if s.watchdog != nil {
		s.watchdog.Stop()
		s.watchdog = nil
	}
	s.mu.Unlock()
	s.emit(ev)
}

// binding ties a recognizer's callbacks to the session id it was started for.
type binding struct {
	s  *Session
	id uint64
}

func (b *binding) Result(interim, final string) {
	b.s.deliver(b.id, Event{Session: b.id, Type: EventFragment, Interim: interim, Final: final})
}

func (b *binding) Ended() {
	b.s.terminate(b.id, Event{Session: b.id, Type: EventEnded})
}

func (b *binding) Failed(kind ErrorKind, message string) {
	b.s.terminate(b.id, Event{Session: b.id, Type: EventError, Err: &Error{Kind: kind, Message: message}})
}
