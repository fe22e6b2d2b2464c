package voicews

import (
	"context"
	"encoding/base64"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	ws "nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"voicefront/agent/internal/auth"
	"voicefront/agent/internal/config"
	"voicefront/agent/internal/conversation"
	"voicefront/agent/internal/store"
	"voicefront/agent/internal/types"
)

type stubAsk struct {
	reply conversation.Reply
	err   error
	gate  chan struct{}
}

func (s *stubAsk) Submit(ctx context.Context, text string) (conversation.Reply, error) {
	if s.gate != nil {
		select {
		case <-s.gate:
		case <-ctx.Done():
			return conversation.Reply{}, ctx.Err()
		}
	}
	return s.reply, s.err
}

func newTestServer(t *testing.T, sub conversation.Submitter, mutate func(cfg *config.Config)) (*httptest.Server, *store.Store) {
	t.Helper()
	var cfg config.Config
	cfg.Ask.TimeoutSec = 5
	cfg.Turn.SilenceMs = 50
	cfg.Turn.VoiceOutput = true
	cfg.Turn.BargeIn = true
	cfg.Capture.StopTimeoutMs = 1000
	cfg.Retry.BaseMs = 50
	cfg.Retry.MaxMs = 200
	cfg.Retry.MaxAttempts = 3
	if mutate != nil {
		mutate(&cfg)
	}
	st := store.New()
	require.NoError(t, st.CreateSession(&types.Session{ID: "s1", Locale: "en-US", Status: "created"}))

	s := NewServer(cfg, st, NewRegistry(), sub)
	mux := http.NewServeMux()
	mux.HandleFunc("/ws/voice", s.HandleVoiceWS)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv, st
}

type testClient struct {
	t   *testing.T
	ctx context.Context
	c   *ws.Conn
}

func dial(t *testing.T, srv *httptest.Server, query string) *testClient {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	u := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/voice?" + query
	c, _, err := ws.Dial(ctx, u, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close(ws.StatusNormalClosure, "bye") })
	return &testClient{t: t, ctx: ctx, c: c}
}

func (tc *testClient) send(typ string, payload map[string]any) {
	tc.t.Helper()
	require.NoError(tc.t, wsjson.Write(tc.ctx, tc.c, Message{Type: typ, TsMs: time.Now().UnixMilli(), Payload: payload}))
}

// expect reads frames until one of type typ arrives. It acknowledges
// stop_capture the way a browser recognizer would.
func (tc *testClient) expect(typ string) Message {
	tc.t.Helper()
	for {
		var m Message
		require.NoError(tc.t, wsjson.Read(tc.ctx, tc.c, &m), "waiting for %s", typ)
		if m.Type == TypeStopCapture && typ != TypeStopCapture {
			tc.send(TypeCaptureEnded, map[string]any{"capture_id": m.Payload["capture_id"]})
		}
		if m.Type == typ {
			return m
		}
	}
}

func (tc *testClient) expectState(to string) {
	tc.t.Helper()
	for {
		m := tc.expect(TypeState)
		if m.Payload["to"] == to {
			return
		}
	}
}

func TestVoiceTurnOverSocket(t *testing.T) {
	sub := &stubAsk{reply: conversation.Reply{Answer: "hi", Audio: []byte("mp3")}}
	srv, st := newTestServer(t, sub, nil)
	tc := dial(t, srv, "session_id=s1")

	tc.send(TypeHello, nil)
	start := tc.expect(TypeStartCapture)
	assert.Equal(t, "en-US", start.Payload["locale"])
	assert.Equal(t, true, start.Payload["continuous"])
	assert.Equal(t, "s1", start.SessionID)

	tc.send(TypeCaptureResult, map[string]any{"capture_id": start.Payload["capture_id"], "final": "hello"})

	user := tc.expect(TypeUserMessage)
	assert.Equal(t, "hello", user.Payload["text"])
	bot := tc.expect(TypeBotMessage)
	assert.Equal(t, "hi", bot.Payload["text"])
	assert.Equal(t, false, bot.Payload["error"])

	play := tc.expect(TypePlayAudio)
	assert.Equal(t, base64.StdEncoding.EncodeToString([]byte("mp3")), play.Payload["audio_base64"])
	assert.Equal(t, "audio/mpeg", play.Payload["mime"])
	tc.expectState("speaking")

	tc.send(TypePlaybackEnded, map[string]any{"playback_id": play.Payload["playback_id"]})
	tc.expectState("listening")

	require.Eventually(t, func() bool {
		turns := st.ListTurns("s1")
		return len(turns) == 1 && turns[0].Status == types.TurnAnswered
	}, 2*time.Second, 10*time.Millisecond)
	assert.True(t, st.GetSession("s1").Connected)
}

func TestRejectedReplyIsBotMessage(t *testing.T) {
	sub := &stubAsk{err: &conversation.RejectedError{Status: 402, Reason: "quota exceeded"}}
	srv, _ := newTestServer(t, sub, nil)
	tc := dial(t, srv, "session_id=s1")

	tc.send(TypeHello, nil)
	start := tc.expect(TypeStartCapture)
	tc.send(TypeCaptureResult, map[string]any{"capture_id": start.Payload["capture_id"], "final": "hello"})

	bot := tc.expect(TypeBotMessage)
	assert.Equal(t, "quota exceeded", bot.Payload["text"])
	assert.Equal(t, true, bot.Payload["error"])
	tc.expectState("listening")
}

func TestTypedTextWhileBusy(t *testing.T) {
	sub := &stubAsk{reply: conversation.Reply{Answer: "done"}, gate: make(chan struct{})}
	srv, _ := newTestServer(t, sub, nil)
	tc := dial(t, srv, "session_id=s1")

	tc.send(TypeText, map[string]any{"text": "one"})
	user := tc.expect(TypeUserMessage)
	assert.Equal(t, "one", user.Payload["text"])

	tc.send(TypeText, map[string]any{"text": "two"})
	e := tc.expect(TypeError)
	assert.Contains(t, e.Payload["message"], "pending")

	close(sub.gate)
	bot := tc.expect(TypeBotMessage)
	assert.Equal(t, "done", bot.Payload["text"])
}

func TestPermissionDeniedNotice(t *testing.T) {
	srv, _ := newTestServer(t, &stubAsk{}, nil)
	tc := dial(t, srv, "session_id=s1")

	tc.send(TypeHello, nil)
	start := tc.expect(TypeStartCapture)
	tc.send(TypeCaptureError, map[string]any{"capture_id": start.Payload["capture_id"], "error": "not-allowed"})

	n := tc.expect(TypeNotice)
	assert.Equal(t, "capture_blocked", n.Payload["kind"])
	tc.expectState("idle")

	tc.send(TypeSetMic, map[string]any{"enabled": true})
	tc.expect(TypeStartCapture)
}

func TestUnknownFrameReportsError(t *testing.T) {
	srv, st := newTestServer(t, &stubAsk{}, nil)
	tc := dial(t, srv, "session_id=s1")

	tc.send("bogus", nil)
	e := tc.expect(TypeError)
	assert.Contains(t, e.Payload["message"], "bogus")

	require.Eventually(t, func() bool {
		for _, ev := range st.ListEvents("s1") {
			if ev.Type == "client_msg_unknown" {
				return true
			}
		}
		return false
	}, time.Second, 10*time.Millisecond)
}

func TestHandshakeRejections(t *testing.T) {
	srv, _ := newTestServer(t, &stubAsk{}, func(cfg *config.Config) {
		cfg.Client.TokenSecret = "sekret"
		cfg.Client.TokenSkewSecs = 60
	})

	cases := []struct {
		name  string
		query string
		want  int
	}{
		{"missing session", "", http.StatusBadRequest},
		{"unknown session", "session_id=nope", http.StatusNotFound},
		{"missing token", "session_id=s1", http.StatusUnauthorized},
		{"bad token", "session_id=s1&token=abc", http.StatusUnauthorized},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			resp, err := http.Get(srv.URL + "/ws/voice?" + c.query)
			require.NoError(t, err)
			resp.Body.Close()
			assert.Equal(t, c.want, resp.StatusCode)
		})
	}

	tok := auth.GenerateClientToken("sekret", "s1", time.Now().Add(time.Minute))
	tc := dial(t, srv, "session_id=s1&token="+tok)
	tc.send(TypeHello, nil)
	tc.expect(TypeStartCapture)
}

func TestDisconnectMarksSession(t *testing.T) {
	srv, st := newTestServer(t, &stubAsk{}, nil)
	tc := dial(t, srv, "session_id=s1")
	tc.send(TypeHello, nil)
	tc.expect(TypeStartCapture)
	require.True(t, st.GetSession("s1").Connected)

	require.NoError(t, tc.c.Close(ws.StatusNormalClosure, "bye"))
	require.Eventually(t, func() bool { return !st.GetSession("s1").Connected }, 2*time.Second, 10*time.Millisecond)
}

func TestDisconnectFailsPendingTurn(t *testing.T) {
	srv, st := newTestServer(t, &stubAsk{gate: make(chan struct{})}, nil)
	tc := dial(t, srv, "session_id=s1")
	tc.send(TypeHello, nil)
	tc.expect(TypeStartCapture)
	tc.send(TypeText, map[string]any{"text": "are you there"})
	tc.expect(TypeUserMessage)
	require.Equal(t, 1, st.PendingTurns())

	require.NoError(t, tc.c.Close(ws.StatusNormalClosure, "bye"))
	require.Eventually(t, func() bool { return st.PendingTurns() == 0 }, 2*time.Second, 10*time.Millisecond)
	turns := st.ListTurns("s1")
	require.Len(t, turns, 1)
	assert.Equal(t, types.TurnFailed, turns[0].Status)
}
