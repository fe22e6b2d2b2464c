package voicews

import (
	"encoding/json"
	"math"
)

// Message is one frame on the voice socket, in either direction.
type Message struct {
	Type      string         `json:"type"`
	TsMs      int64          `json:"ts_ms"`
	SessionID string         `json:"session_id"`
	Seq       int64          `json:"seq"`
	Payload   map[string]any `json:"payload,omitempty"`
}

// client -> server
const (
	TypeHello         = "hello"
	TypeCaptureResult = "capture_result"
	TypeCaptureEnded  = "capture_ended"
	TypeCaptureError  = "capture_error"
	TypePlaybackEnded = "playback_ended"
	TypePlaybackError = "playback_error"
	TypeText          = "text"
	TypeEndUtterance  = "end_utterance"
	TypeSetVoice      = "set_voice"
	TypeSetMic        = "set_mic"
)

// server -> client
const (
	TypeStartCapture = "start_capture"
	TypeStopCapture  = "stop_capture"
	TypePlayAudio    = "play_audio"
	TypeStopAudio    = "stop_audio"
	TypeState        = "state"
	TypeTranscript   = "transcript"
	TypeUserMessage  = "user_message"
	TypeBotMessage   = "bot_message"
	TypeNotice       = "notice"
	TypeError        = "error"
)

func payloadString(p map[string]any, key string) string {
	s, _ := p[key].(string)
	return s
}

func payloadBool(p map[string]any, key string, def bool) bool {
	if b, ok := p[key].(bool); ok {
		return b
	}
	return def
}

// payloadID reads a positive integer id; JSON numbers decode as float64.
func payloadID(p map[string]any, key string) (uint64, bool) {
	switch v := p[key].(type) {
	case float64:
		if v <= 0 || v != math.Trunc(v) {
			return 0, false
		}
		return uint64(v), true
	case json.Number:
		n, err := v.Int64()
		if err != nil || n <= 0 {
			return 0, false
		}
		return uint64(n), true
	default:
		return 0, false
	}
}

// local helper
func mustJSON(v any) []byte {
	b, _ := json.Marshal(v)
	return b
}
