package turn

import "voicefront/agent/internal/types"

// State is the controller's position in the turn-taking state machine.
type State int32

const (
	Idle State = iota
	Listening
	Finalizing
	AwaitingReply
	Speaking
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Listening:
		return "listening"
	case Finalizing:
		return "finalizing"
	case AwaitingReply:
		return "awaiting_reply"
	case Speaking:
		return "speaking"
	default:
		return "unknown"
	}
}

// NoticeKind classifies user-visible output of the controller.
type NoticeKind string

const (
	NoticeState              NoticeKind = "state"
	NoticeTranscript         NoticeKind = "transcript"
	NoticeUserMessage        NoticeKind = "user_message"
	NoticeBotMessage         NoticeKind = "bot_message"
	NoticeBotError           NoticeKind = "bot_error"
	NoticeBargeIn            NoticeKind = "barge_in"
	NoticeCaptureBlocked     NoticeKind = "capture_blocked"
	NoticeCaptureUnavailable NoticeKind = "capture_unavailable"
	NoticePlaybackFailed     NoticeKind = "playback_failed"
)

// Notice is one piece of output for the user interface.
type Notice struct {
	Kind   NoticeKind
	Text   string
	TurnID string
	From   State
	To     State
}

// Observer receives notices on the controller goroutine. Implementations
// must not block for long and must not call back into the controller
// synchronously.
type Observer interface {
	Observe(Notice)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(Notice)

func (f ObserverFunc) Observe(n Notice) { f(n) }

// Recorder persists turns and a conversation event log.
type Recorder interface {
	SaveTurn(t types.Turn)
	AppendEvent(typ string, payload map[string]any)
}

type nopRecorder struct{}

func (nopRecorder) SaveTurn(types.Turn)                {}
func (nopRecorder) AppendEvent(string, map[string]any) {}
