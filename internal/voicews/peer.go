package voicews

import (
	"context"
	"encoding/base64"
	"errors"
	"log"
	"sync"
	"sync/atomic"
	"time"

	ws "nhooyr.io/websocket"

	"voicefront/agent/internal/capture"
	"voicefront/agent/internal/playback"
	"voicefront/agent/internal/turn"
)

var errClosed = errors.New("voice socket closed")

const (
	outboxSize   = 128
	writeTimeout = 5 * time.Second
)

// peer is the browser at the other end of one voice socket. It serves as the
// controller's speech recognizer, audio output and notice sink.
type peer struct {
	sessionID string
	conn      *ws.Conn

	out       chan Message
	closed    chan struct{}
	closeOnce sync.Once
	seq       atomic.Int64

	mu        sync.Mutex
	captures  map[uint64]capture.Sink
	playbacks map[uint64]func(error)
}

func newPeer(sessionID string, conn *ws.Conn) *peer {
	return &peer{
		sessionID: sessionID,
		conn:      conn,
		out:       make(chan Message, outboxSize),
		closed:    make(chan struct{}),
		captures:  make(map[uint64]capture.Sink),
		playbacks: make(map[uint64]func(error)),
	}
}

func (p *peer) close() { p.closeOnce.Do(func() { close(p.closed) }) }

func (p *peer) send(typ string, payload map[string]any) error {
	m := Message{
		Type:      typ,
		TsMs:      time.Now().UnixMilli(),
		SessionID: p.sessionID,
		Seq:       p.seq.Add(1),
		Payload:   payload,
	}
	select {
	case <-p.closed:
		return errClosed
	default:
	}
	select {
	case p.out <- m:
		return nil
	case <-p.closed:
		return errClosed
	}
}

func (p *peer) writeLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-p.closed:
			return
		case m := <-p.out:
			wctx, cancel := context.WithTimeout(ctx, writeTimeout)
			err := p.conn.Write(wctx, ws.MessageText, mustJSON(m))
			cancel()
			if err != nil {
				log.Printf("[voicews] session=%s write %s: %v", p.sessionID, m.Type, err)
				p.close()
				return
			}
			metricMessagesOut.WithLabelValues(m.Type).Inc()
		}
	}
}

// Start implements capture.Recognizer.
func (p *peer) Start(_ context.Context, id uint64, opts capture.Options, sink capture.Sink) error {
	p.mu.Lock()
	p.captures[id] = sink
	p.mu.Unlock()
	err := p.send(TypeStartCapture, map[string]any{
		"capture_id": id,
		"locale":     opts.Locale,
		"interim":    opts.Interim,
		"continuous": opts.Continuous,
	})
	if err != nil {
		p.mu.Lock()
		delete(p.captures, id)
		p.mu.Unlock()
	}
	return err
}

// Stop implements capture.Recognizer.
func (p *peer) Stop(id uint64) error {
	return p.send(TypeStopCapture, map[string]any{"capture_id": id})
}

// Play implements playback.Output through speaker.
func (p *peer) Play(id uint64, pl playback.Payload, done func(error)) error {
	p.mu.Lock()
	p.playbacks[id] = done
	p.mu.Unlock()
	err := p.send(TypePlayAudio, map[string]any{
		"playback_id":  id,
		"audio_base64": base64.StdEncoding.EncodeToString(pl.Data),
		"mime":         pl.MIME,
	})
	if err != nil {
		p.mu.Lock()
		delete(p.playbacks, id)
		p.mu.Unlock()
	}
	return err
}

// speaker is the peer seen as a playback.Output; its Stop differs in
// signature from the recognizer's.
type speaker struct{ *peer }

func (o speaker) Stop(id uint64) {
	o.mu.Lock()
	delete(o.playbacks, id)
	o.mu.Unlock()
	_ = o.send(TypeStopAudio, map[string]any{"playback_id": id})
}

func (p *peer) captureSink(id uint64, terminal bool) capture.Sink {
	p.mu.Lock()
	defer p.mu.Unlock()
	sink := p.captures[id]
	if terminal {
		delete(p.captures, id)
	}
	return sink
}

func (p *peer) playbackDone(id uint64) func(error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	done := p.playbacks[id]
	delete(p.playbacks, id)
	return done
}

// Observe implements turn.Observer.
func (p *peer) Observe(n turn.Notice) {
	var err error
	switch n.Kind {
	case turn.NoticeState:
		err = p.send(TypeState, map[string]any{"from": n.From.String(), "to": n.To.String()})
	case turn.NoticeTranscript:
		err = p.send(TypeTranscript, map[string]any{"text": n.Text})
	case turn.NoticeUserMessage:
		err = p.send(TypeUserMessage, map[string]any{"turn_id": n.TurnID, "text": n.Text})
	case turn.NoticeBotMessage:
		err = p.send(TypeBotMessage, map[string]any{"turn_id": n.TurnID, "text": n.Text, "error": false})
	case turn.NoticeBotError:
		err = p.send(TypeBotMessage, map[string]any{"turn_id": n.TurnID, "text": n.Text, "error": true})
	default:
		err = p.send(TypeNotice, map[string]any{"kind": string(n.Kind), "text": n.Text})
	}
	if err != nil && !errors.Is(err, errClosed) {
		log.Printf("[voicews] session=%s notice %s: %v", p.sessionID, n.Kind, err)
	}
}
