package clock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFakeFiresInDeadlineOrder(t *testing.T) {
	f := NewFake(time.Unix(0, 0))
	var got []string
	f.AfterFunc(300*time.Millisecond, func() { got = append(got, "b") })
	f.AfterFunc(100*time.Millisecond, func() { got = append(got, "a") })
	f.AfterFunc(time.Second, func() { got = append(got, "c") })

	f.Advance(500 * time.Millisecond)
	assert.Equal(t, []string{"a", "b"}, got)
	assert.Equal(t, 1, f.Pending())

	f.Advance(500 * time.Millisecond)
	assert.Equal(t, []string{"a", "b", "c"}, got)
	assert.Equal(t, time.Unix(1, 0), f.Now())
}

func TestFakeStop(t *testing.T) {
	f := NewFake(time.Unix(0, 0))
	fired := false
	tm := f.AfterFunc(time.Second, func() { fired = true })
	require.True(t, tm.Stop())
	require.False(t, tm.Stop())
	f.Advance(2 * time.Second)
	assert.False(t, fired)
}

func TestFakeTimerScheduledFromCallback(t *testing.T) {
	f := NewFake(time.Unix(0, 0))
	count := 0
	f.AfterFunc(100*time.Millisecond, func() {
		count++
		f.AfterFunc(100*time.Millisecond, func() { count++ })
	})
	f.Advance(250 * time.Millisecond)
	assert.Equal(t, 2, count)
}
