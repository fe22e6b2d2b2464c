package endpoint

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"voicefront/agent/internal/clock"
)

type recorder struct {
	cycles []uint64
	at     []time.Time
	clk    *clock.Fake
}

func (r *recorder) onSilence(cycle uint64) {
	r.cycles = append(r.cycles, cycle)
	r.at = append(r.at, r.clk.Now())
}

func newTest() (*Endpointer, *recorder, *clock.Fake) {
	clk := clock.NewFake(time.Unix(1000, 0))
	r := &recorder{clk: clk}
	return New(0, clk, r.onSilence), r, clk
}

func TestFiresOnceAfterThreshold(t *testing.T) {
	e, r, clk := newTest()
	cycle := e.Feed()

	clk.Advance(1499 * time.Millisecond)
	require.Empty(t, r.cycles, "fired before threshold")

	clk.Advance(time.Millisecond)
	require.Equal(t, []uint64{cycle}, r.cycles)
	assert.False(t, e.Armed())

	clk.Advance(10 * time.Second)
	assert.Len(t, r.cycles, 1)
}

func TestFeedResetsCountdown(t *testing.T) {
	e, r, clk := newTest()
	e.Feed()
	clk.Advance(1000 * time.Millisecond)
	last := e.Feed()
	fedAt := clk.Now()
	clk.Advance(1000 * time.Millisecond)
	require.Empty(t, r.cycles)

	clk.Advance(500 * time.Millisecond)
	require.Equal(t, []uint64{last}, r.cycles)
	assert.GreaterOrEqual(t, r.at[0].Sub(fedAt), DefaultThreshold)
}

func TestCancelPreventsFire(t *testing.T) {
	e, r, clk := newTest()
	e.Feed()
	e.Cancel()
	clk.Advance(5 * time.Second)
	assert.Empty(t, r.cycles)
	e.Cancel()
}

func TestNeverFiresWithoutFeed(t *testing.T) {
	_, r, clk := newTest()
	clk.Advance(time.Minute)
	assert.Empty(t, r.cycles)
}

func TestRearmableAfterFiring(t *testing.T) {
	e, r, clk := newTest()
	first := e.Feed()
	clk.Advance(2 * time.Second)
	second := e.Feed()
	clk.Advance(2 * time.Second)
	assert.Equal(t, []uint64{first, second}, r.cycles)
	assert.NotEqual(t, first, second)
}

func TestRealClock(t *testing.T) {
	done := make(chan uint64, 1)
	e := New(20*time.Millisecond, nil, func(c uint64) { done <- c })
	c := e.Feed()
	select {
	case got := <-done:
		assert.Equal(t, c, got)
	case <-time.After(2 * time.Second):
		t.Fatal("endpointer never fired")
	}
}
