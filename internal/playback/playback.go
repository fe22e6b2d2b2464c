// Package playback wraps an audio output device that plays one synthesized
// reply at a time.
package playback

import (
	"errors"
	"fmt"
	"log"
	"sync"
)

// ErrRejected is returned by Start when the output refuses playback.
var ErrRejected = errors.New("playback rejected")

// DefaultMIME is the encoding of answering-service audio.
const DefaultMIME = "audio/mpeg"

// Payload is one playable audio resource.
type Payload struct {
	Data []byte
	MIME string
}

// Output is the audio-playback capability. Play must not block until the
// audio has finished; done is called once when playback completes (nil) or
// fails (non-nil). Stop halts playback id; done may still be called after it.
type Output interface {
	Play(id uint64, p Payload, done func(err error)) error
	Stop(id uint64)
}

// EventType distinguishes terminal playback events.
type EventType int

const (
	EventCompleted EventType = iota
	EventFailed
)

func (t EventType) String() string {
	if t == EventCompleted {
		return "completed"
	}
	return "failed"
}

// Event is the terminal event of one playback.
type Event struct {
	Playback uint64
	Type     EventType
	Reason   string
}

// Session enforces exclusive ownership of the output: starting a playback
// stops the previous one, and superseded playbacks never report.
type Session struct {
	out  Output
	emit func(Event)

	mu  sync.Mutex
	seq uint64
	cur uint64
}

// NewSession wraps out. emit is called without internal locks held.
func NewSession(out Output, emit func(Event)) *Session {
	return &Session{out: out, emit: emit}
}

// Start stops any current playback and begins playing p, returning the new
// playback id.
func (s *Session) Start(p Payload) (uint64, error) {
	s.Stop()
	if p.MIME == "" {
		p.MIME = DefaultMIME
	}

	s.mu.Lock()
	s.seq++
	id := s.seq
	s.cur = id
	s.mu.Unlock()

	if err := s.out.Play(id, p, func(err error) { s.finish(id, err) }); err != nil {
		s.mu.Lock()
		if s.cur == id {
			s.cur = 0
		}
		s.mu.Unlock()
		return 0, fmt.Errorf("%w: %v", ErrRejected, err)
	}
	log.Printf("[playback] started id=%d bytes=%d", id, len(p.Data))
	return id, nil
}

// Stop halts the current playback. No-op when nothing is playing.
func (s *Session) Stop() {
	s.mu.Lock()
	id := s.cur
	s.cur = 0
	s.mu.Unlock()
	if id != 0 {
		s.out.Stop(id)
		log.Printf("[playback] stopped id=%d", id)
	}
}

// Active reports whether a playback is in progress.
func (s *Session) Active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cur != 0
}

// Current returns the id of the playing payload, or 0.
func (s *Session) Current() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cur
}

func (s *Session) finish(id uint64, err error) {
	s.mu.Lock()
	if s.cur != id {
		s.mu.Unlock()
		return
	}
	s.cur = 0
	s.mu.Unlock()

	ev := Event{Playback: id, Type: EventCompleted}
	if err != nil {
		ev.Type = EventFailed
		ev.Reason = err.Error()
	}
	s.emit(ev)
}
