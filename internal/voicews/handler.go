package voicews

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strings"
	"time"

	ws "nhooyr.io/websocket"

	"voicefront/agent/internal/auth"
	"voicefront/agent/internal/capture"
	"voicefront/agent/internal/config"
	"voicefront/agent/internal/conversation"
	"voicefront/agent/internal/store"
	"voicefront/agent/internal/turn"
)

const readLimit = 1 << 20

type Server struct {
	Cfg       config.Config
	Store     *store.Store
	Reg       *Registry
	Submitter conversation.Submitter
	Turn      turn.Config
}

func NewServer(cfg config.Config, st *store.Store, reg *Registry, sub conversation.Submitter) *Server {
	return &Server{Cfg: cfg, Store: st, Reg: reg, Submitter: sub, Turn: TurnConfig(cfg)}
}

// TurnConfig maps service configuration onto controller settings.
func TurnConfig(cfg config.Config) turn.Config {
	tc := turn.DefaultConfig()
	tc.SilenceThreshold = cfg.SilenceThreshold()
	tc.VoiceOutput = cfg.Turn.VoiceOutput
	tc.BargeIn = cfg.Turn.BargeIn
	tc.BargeInGuard = cfg.BargeInGuard()
	tc.SubmitTimeout = cfg.AskTimeout()
	tc.StopTimeout = cfg.CaptureStopTimeout()
	if cfg.Capture.Locale != "" {
		tc.Capture.Locale = cfg.Capture.Locale
	}
	tc.Retry.Base = time.Duration(cfg.Retry.BaseMs) * time.Millisecond
	tc.Retry.Max = time.Duration(cfg.Retry.MaxMs) * time.Millisecond
	tc.Retry.MaxAttempts = cfg.Retry.MaxAttempts
	tc.FailureMessage = cfg.Messages.Failure
	tc.PermissionMessage = cfg.Messages.MicPermission
	return tc
}

func (s *Server) HandleVoiceWS(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	sessionID := q.Get("session_id")
	if sessionID == "" {
		http.Error(w, "missing session_id", http.StatusBadRequest)
		return
	}
	sess := s.Store.GetSession(sessionID)
	if sess == nil {
		http.Error(w, "unknown session", http.StatusNotFound)
		return
	}
	if secret := s.Cfg.Client.TokenSecret; secret != "" {
		token := q.Get("token")
		if authz := r.Header.Get("Authorization"); token == "" && strings.HasPrefix(authz, "Bearer ") {
			token = strings.TrimPrefix(authz, "Bearer ")
		}
		if token == "" {
			http.Error(w, "missing token", http.StatusUnauthorized)
			return
		}
		if _, err := auth.ValidateClientToken(secret, token, sessionID, time.Now(), s.Cfg.TokenSkew()); err != nil {
			http.Error(w, "invalid token", http.StatusUnauthorized)
			return
		}
	}

	c, err := ws.Accept(w, r, nil)
	if err != nil {
		log.Printf("[voicews] accept: %v", err)
		return
	}
	c.SetReadLimit(readLimit)

	p := newPeer(sessionID, c)
	if s.Reg.Replace(sessionID, p) {
		s.Store.AppendEvent(sessionID, "client_replaced", nil)
	}
	s.Store.SetConnected(sessionID, true, time.Now().UTC())
	s.Store.AppendEvent(sessionID, "client_connected", nil)
	log.Printf("[voicews] session=%s connected", sessionID)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	cfg := s.Turn
	if sess.Locale != "" {
		cfg.Capture.Locale = sess.Locale
	}
	ctrl := turn.New(sessionID, cfg, turn.Deps{
		Recognizer: p,
		Output:     speaker{p},
		Submitter:  s.Submitter,
		Observer:   p,
		Recorder:   s.Store.Recorder(sessionID),
	})
	go p.writeLoop(ctx)
	go ctrl.Run(ctx)

	s.readLoop(ctx, p, ctrl)

	cancel()
	<-ctrl.Done()
	p.close()
	_ = c.Close(ws.StatusNormalClosure, "done")
	s.Reg.Remove(sessionID, p)
	if !s.Reg.Connected(sessionID) {
		s.Store.SetConnected(sessionID, false, time.Now().UTC())
	}
	s.Store.AppendEvent(sessionID, "client_disconnected", nil)
	log.Printf("[voicews] session=%s disconnected", sessionID)
}

func (s *Server) readLoop(ctx context.Context, p *peer, ctrl *turn.Controller) {
	for {
		typ, data, err := p.conn.Read(ctx)
		if err != nil {
			return
		}
		if typ != ws.MessageText && typ != ws.MessageBinary {
			continue
		}
		var msg Message
		if err := json.Unmarshal(data, &msg); err != nil {
			s.Store.AppendEvent(p.sessionID, "client_msg_invalid", map[string]any{"error": err.Error()})
			_ = p.send(TypeError, map[string]any{"message": "invalid frame"})
			continue
		}
		s.dispatch(ctx, p, ctrl, msg)
	}
}

func (s *Server) dispatch(ctx context.Context, p *peer, ctrl *turn.Controller, msg Message) {
	pl := msg.Payload
	label := msg.Type
	switch msg.Type {
	case TypeHello:
		if v, ok := pl["voice_output"].(bool); ok {
			ctrl.SetVoiceOutput(v)
		}
		ctrl.Start()
	case TypeCaptureResult, TypeCaptureEnded, TypeCaptureError:
		id, _ := payloadID(pl, "capture_id")
		sink := p.captureSink(id, msg.Type != TypeCaptureResult)
		if sink == nil {
			log.Printf("[voicews] session=%s %s for unknown capture %d", p.sessionID, msg.Type, id)
			break
		}
		switch msg.Type {
		case TypeCaptureResult:
			sink.Result(payloadString(pl, "interim"), payloadString(pl, "final"))
		case TypeCaptureEnded:
			sink.Ended()
		default:
			sink.Failed(capture.ParseErrorKind(payloadString(pl, "error")), payloadString(pl, "message"))
		}
	case TypePlaybackEnded, TypePlaybackError:
		id, _ := payloadID(pl, "playback_id")
		done := p.playbackDone(id)
		if done == nil {
			break
		}
		if msg.Type == TypePlaybackEnded {
			done(nil)
			break
		}
		reason := payloadString(pl, "reason")
		if reason == "" {
			reason = "playback error"
		}
		done(errors.New(reason))
	case TypeText:
		if err := ctrl.SubmitText(ctx, payloadString(pl, "text")); err != nil {
			_ = p.send(TypeError, map[string]any{"message": err.Error()})
		}
	case TypeEndUtterance:
		ctrl.EndUtterance()
	case TypeSetVoice:
		ctrl.SetVoiceOutput(payloadBool(pl, "enabled", true))
	case TypeSetMic:
		ctrl.SetCapture(payloadBool(pl, "enabled", true))
	default:
		label = "unknown"
		s.Store.AppendEvent(p.sessionID, "client_msg_unknown", map[string]any{"type": msg.Type})
		_ = p.send(TypeError, map[string]any{"message": "unknown message type " + msg.Type})
	}
	metricMessagesIn.WithLabelValues(label).Inc()
}
