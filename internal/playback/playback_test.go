package playback

import (
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeOutput struct {
	mu      sync.Mutex
	done    map[uint64]func(error)
	stops   []uint64
	playErr error
	last    Payload
}

func newFakeOutput() *fakeOutput { return &fakeOutput{done: make(map[uint64]func(error))} }

func (f *fakeOutput) Play(id uint64, p Payload, done func(error)) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.playErr != nil {
		return f.playErr
	}
	f.done[id] = done
	f.last = p
	return nil
}

func (f *fakeOutput) Stop(id uint64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stops = append(f.stops, id)
}

func (f *fakeOutput) finish(id uint64, err error) {
	f.mu.Lock()
	done := f.done[id]
	f.mu.Unlock()
	done(err)
}

type events struct {
	mu  sync.Mutex
	out []Event
}

func (e *events) emit(ev Event) {
	e.mu.Lock()
	e.out = append(e.out, ev)
	e.mu.Unlock()
}

func TestCompletedOnce(t *testing.T) {
	out := newFakeOutput()
	ev := &events{}
	s := NewSession(out, ev.emit)

	id, err := s.Start(Payload{Data: []byte{1, 2, 3}})
	require.NoError(t, err)
	assert.True(t, s.Active())
	assert.Equal(t, DefaultMIME, out.last.MIME)

	out.finish(id, nil)
	out.finish(id, nil)
	require.Len(t, ev.out, 1)
	assert.Equal(t, Event{Playback: id, Type: EventCompleted}, ev.out[0])
	assert.False(t, s.Active())
}

func TestFailedCarriesReason(t *testing.T) {
	out := newFakeOutput()
	ev := &events{}
	s := NewSession(out, ev.emit)
	id, _ := s.Start(Payload{Data: []byte{1}})
	out.finish(id, errors.New("decode error"))
	require.Len(t, ev.out, 1)
	assert.Equal(t, EventFailed, ev.out[0].Type)
	assert.Equal(t, "decode error", ev.out[0].Reason)
}

func TestStartSupersedesPrevious(t *testing.T) {
	out := newFakeOutput()
	ev := &events{}
	s := NewSession(out, ev.emit)

	first, _ := s.Start(Payload{Data: []byte{1}})
	second, _ := s.Start(Payload{Data: []byte{2}})
	assert.Equal(t, []uint64{first}, out.stops)
	assert.Equal(t, second, s.Current())

	out.finish(first, nil)
	assert.Empty(t, ev.out, "superseded playback must not report")

	out.finish(second, nil)
	require.Len(t, ev.out, 1)
	assert.Equal(t, second, ev.out[0].Playback)
}

func TestStopSuppressesLateTerminal(t *testing.T) {
	out := newFakeOutput()
	ev := &events{}
	s := NewSession(out, ev.emit)
	id, _ := s.Start(Payload{Data: []byte{1}})
	s.Stop()
	s.Stop()
	out.finish(id, nil)
	assert.Empty(t, ev.out)
	assert.Equal(t, []uint64{id}, out.stops)
}

func TestStopWhenIdleIsNoop(t *testing.T) {
	out := newFakeOutput()
	s := NewSession(out, (&events{}).emit)
	s.Stop()
	assert.Empty(t, out.stops)
}

func TestRejected(t *testing.T) {
	out := newFakeOutput()
	out.playErr = errors.New("no user gesture")
	s := NewSession(out, (&events{}).emit)
	_, err := s.Start(Payload{Data: []byte{1}})
	assert.ErrorIs(t, err, ErrRejected)
	assert.False(t, s.Active())
}
