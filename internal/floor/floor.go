package floor

import "time"

// Decision represents the action the floor manager wants to take.
type Decision struct {
	ShouldStop bool
	PlaybackID uint64
	Reason     string // "barge_in" or "guard"
}

// Manager tracks who holds the floor while the bot is speaking and decides
// whether user speech interrupts it.
type Manager struct {
	guard time.Duration

	speaking        bool
	activePlayback  uint64
	playbackStarted time.Time
	lastFragmentAt  time.Time
	lastStopReason  string
	bargeIns        int
}

// New returns a manager. Fragments arriving within guard of playback start
// are treated as echo and do not interrupt; zero interrupts immediately.
func New(guard time.Duration) *Manager { return &Manager{guard: guard} }

func (m *Manager) OnPlaybackStarted(id uint64, at time.Time) Decision {
	m.speaking = true
	m.activePlayback = id
	m.playbackStarted = at
	return Decision{}
}

func (m *Manager) OnPlaybackStopped(id uint64, at time.Time, reason string) Decision {
	// Regardless of ID match, stopping clears speaking.
	m.speaking = false
	m.activePlayback = 0
	m.lastStopReason = reason
	return Decision{}
}

// OnFragment is called for every speech fragment that carries text.
func (m *Manager) OnFragment(at time.Time) Decision {
	m.lastFragmentAt = at
	if !m.speaking {
		return Decision{}
	}
	if m.guard > 0 && at.Sub(m.playbackStarted) < m.guard {
		return Decision{Reason: "guard"}
	}
	m.bargeIns++
	return Decision{ShouldStop: true, PlaybackID: m.activePlayback, Reason: "barge_in"}
}

func (m *Manager) Speaking() bool { return m.speaking }

// BargeIns counts interruptions decided since the manager was created.
func (m *Manager) BargeIns() int { return m.bargeIns }

func (m *Manager) LastStopReason() string { return m.lastStopReason }
