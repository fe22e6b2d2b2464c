// Package turn implements the turn-taking controller: one event loop that
// owns the capture session, the silence endpointer, the conversation client
// and the playback session for a single conversation.
package turn

import (
	"context"
	"errors"
	"log"
	"strings"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"

	"voicefront/agent/internal/capture"
	"voicefront/agent/internal/clock"
	"voicefront/agent/internal/conversation"
	"voicefront/agent/internal/endpoint"
	"voicefront/agent/internal/floor"
	"voicefront/agent/internal/playback"
	"voicefront/agent/internal/transcript"
	"voicefront/agent/internal/types"
)

var (
	// ErrBusy is returned by SubmitText while a turn is awaiting its reply.
	ErrBusy = errors.New("turn: a reply is still pending")
	// ErrStopped is returned when the controller loop is no longer running.
	ErrStopped = errors.New("turn: controller stopped")
)

const (
	defaultFailureMessage     = "Sorry, I could not get an answer. Please try again."
	defaultPermissionMessage  = "Microphone access was denied. Allow it in the browser, then turn the microphone back on."
	defaultUnavailableMessage = "Speech recognition is unavailable. Turn the microphone back on to retry."
	defaultPlaybackMessage    = "The reply could not be played; showing it as text."
)

// Config tunes one controller.
type Config struct {
	SilenceThreshold time.Duration
	VoiceOutput      bool
	CaptureEnabled   bool
	BargeIn          bool
	BargeInGuard     time.Duration
	SubmitTimeout    time.Duration

	Capture     capture.Options
	StopTimeout time.Duration
	Retry       RetryPolicy
	// MaxEmptySessions is how many consecutive sessions may end without
	// speech before restarts go through the backoff.
	MaxEmptySessions int

	FailureMessage     string
	PermissionMessage  string
	UnavailableMessage string
	PlaybackMessage    string
}

// DefaultConfig returns the stock voice-first configuration.
func DefaultConfig() Config {
	return Config{
		SilenceThreshold:   endpoint.DefaultThreshold,
		VoiceOutput:        true,
		CaptureEnabled:     true,
		BargeIn:            true,
		SubmitTimeout:      30 * time.Second,
		Capture:            capture.Options{Locale: "tr-TR", Interim: true, Continuous: true},
		StopTimeout:        capture.DefaultStopTimeout,
		Retry:              DefaultRetryPolicy(),
		MaxEmptySessions:   3,
		FailureMessage:     defaultFailureMessage,
		PermissionMessage:  defaultPermissionMessage,
		UnavailableMessage: defaultUnavailableMessage,
		PlaybackMessage:    defaultPlaybackMessage,
	}
}

// Deps are the collaborators a controller drives.
type Deps struct {
	Recognizer capture.Recognizer
	Output     playback.Output
	Submitter  conversation.Submitter
	Clock      clock.Clock
	Observer   Observer
	Recorder   Recorder
}

type haltReason int

const (
	haltNone haltReason = iota
	haltPermission
	haltExhausted
)

// loop events
type (
	startCmd        struct{}
	endUtteranceCmd struct{}
	submitTextCmd   struct {
		text   string
		result chan error
	}
	voiceCmd   struct{ enabled bool }
	captureCmd struct{ enabled bool }

	captureEvent  struct{ ev capture.Event }
	playbackEvent struct{ ev playback.Event }
	silenceEvent  struct{ cycle uint64 }
	retryEvent    struct{ gen uint64 }
	replyEvent    struct {
		turnID  string
		reply   conversation.Reply
		err     error
		elapsed time.Duration
	}
	syncEvent struct{ done chan struct{} }
)

// Controller is the turn-taking state machine. All state is owned by the
// goroutine running Run; the exported methods post commands to it.
type Controller struct {
	sessionID string
	cfg       Config
	clock     clock.Clock
	submitter conversation.Submitter
	observer  Observer
	recorder  Recorder

	inbox  *mailbox
	done   chan struct{}
	mirror atomic.Int32

	// loop-owned
	ctx     context.Context
	state   State
	buf     transcript.Buffer
	ep      *endpoint.Endpointer
	cycle   uint64
	capture *capture.Session
	play    *playback.Session
	floor   *floor.Manager

	started       bool
	captureOn     bool
	voiceOn       bool
	halt          haltReason
	captureID     uint64
	captureLive   bool
	restartOnEnd  bool
	emptySessions int
	attempts      int
	failures      int
	retry         *backoff.ExponentialBackOff
	retryTimer    clock.Timer
	retryGen      uint64
	playbackID    uint64
	pending       *types.Turn
}

// New builds a controller for one conversation. Run must be called to start
// processing.
func New(sessionID string, cfg Config, deps Deps) *Controller {
	def := DefaultConfig()
	if cfg.SilenceThreshold <= 0 {
		cfg.SilenceThreshold = def.SilenceThreshold
	}
	if cfg.SubmitTimeout <= 0 {
		cfg.SubmitTimeout = def.SubmitTimeout
	}
	if cfg.MaxEmptySessions <= 0 {
		cfg.MaxEmptySessions = def.MaxEmptySessions
	}
	if cfg.FailureMessage == "" {
		cfg.FailureMessage = def.FailureMessage
	}
	if cfg.PermissionMessage == "" {
		cfg.PermissionMessage = def.PermissionMessage
	}
	if cfg.UnavailableMessage == "" {
		cfg.UnavailableMessage = def.UnavailableMessage
	}
	if cfg.PlaybackMessage == "" {
		cfg.PlaybackMessage = def.PlaybackMessage
	}
	clk := deps.Clock
	if clk == nil {
		clk = clock.Real()
	}
	c := &Controller{
		sessionID: sessionID,
		cfg:       cfg,
		clock:     clk,
		submitter: deps.Submitter,
		observer:  deps.Observer,
		recorder:  deps.Recorder,
		inbox:     newMailbox(),
		done:      make(chan struct{}),
		ctx:       context.Background(),
		captureOn: cfg.CaptureEnabled,
		voiceOn:   cfg.VoiceOutput,
		floor:     floor.New(cfg.BargeInGuard),
		retry:     cfg.Retry.newBackOff(),
	}
	if c.observer == nil {
		c.observer = ObserverFunc(func(Notice) {})
	}
	if c.recorder == nil {
		c.recorder = nopRecorder{}
	}
	c.ep = endpoint.New(cfg.SilenceThreshold, clk, func(cycle uint64) { c.post(silenceEvent{cycle: cycle}) })
	c.capture = capture.NewSession(deps.Recognizer, cfg.Capture, clk, cfg.StopTimeout, func(ev capture.Event) {
		c.post(captureEvent{ev: ev})
	})
	c.play = playback.NewSession(deps.Output, func(ev playback.Event) { c.post(playbackEvent{ev: ev}) })
	return c
}

// Run processes events until ctx is cancelled. It must be called once.
func (c *Controller) Run(ctx context.Context) error {
	c.ctx = ctx
	defer close(c.done)
	defer c.shutdown()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-c.inbox.ready:
			for _, ev := range c.inbox.take() {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				c.handle(ev)
			}
		}
	}
}

// Done is closed when Run returns, after a pending turn has been recorded
// as failed.
func (c *Controller) Done() <-chan struct{} { return c.done }

// State returns the most recent state; safe from any goroutine.
func (c *Controller) State() State { return State(c.mirror.Load()) }

// Start moves an idle controller to Listening.
func (c *Controller) Start() { c.post(startCmd{}) }

// EndUtterance finalizes the current utterance without waiting for silence.
func (c *Controller) EndUtterance() { c.post(endUtteranceCmd{}) }

// SetVoiceOutput toggles spoken replies. Disabling stops current playback.
func (c *Controller) SetVoiceOutput(enabled bool) { c.post(voiceCmd{enabled: enabled}) }

// SetCapture toggles the microphone. Enabling clears a capture halt.
func (c *Controller) SetCapture(enabled bool) { c.post(captureCmd{enabled: enabled}) }

// SubmitText sends typed text through the same path as a spoken utterance.
// It returns ErrBusy while a previous turn is pending.
func (c *Controller) SubmitText(ctx context.Context, text string) error {
	result := make(chan error, 1)
	if !c.post(submitTextCmd{text: text, result: result}) {
		return ErrStopped
	}
	select {
	case err := <-result:
		return err
	case <-c.done:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Controller) post(ev any) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	c.inbox.put(ev)
	return true
}

// sync waits until every event posted before it has been handled.
func (c *Controller) sync() bool {
	done := make(chan struct{})
	if !c.post(syncEvent{done: done}) {
		return false
	}
	select {
	case <-done:
		return true
	case <-c.done:
		return false
	}
}

func (c *Controller) handle(ev any) {
	switch e := ev.(type) {
	case startCmd:
		c.onStart()
	case endUtteranceCmd:
		if c.state == Listening {
			c.finalize("explicit")
		}
	case submitTextCmd:
		e.result <- c.onSubmitText(e.text)
	case voiceCmd:
		c.onVoiceOutput(e.enabled)
	case captureCmd:
		c.onCaptureToggle(e.enabled)
	case captureEvent:
		c.onCapture(e.ev)
	case silenceEvent:
		if c.state == Listening && e.cycle == c.cycle {
			c.finalize("silence")
		}
	case retryEvent:
		c.onRetry(e.gen)
	case replyEvent:
		c.onReply(e)
	case playbackEvent:
		c.onPlayback(e.ev)
	case syncEvent:
		close(e.done)
	}
}

func (c *Controller) onStart() {
	if c.started && c.state != Idle {
		return
	}
	c.started = true
	c.listen("start")
}

// listen enters Listening with an empty buffer and capture running, or Idle
// when the microphone is off or halted.
func (c *Controller) listen(reason string) {
	c.buf.Reset()
	c.ep.Cancel()
	c.cycle = 0
	if !c.captureAllowed() {
		c.setState(Idle, reason)
		return
	}
	c.setState(Listening, reason)
	c.ensureCapture()
}

func (c *Controller) captureAllowed() bool {
	return c.started && c.captureOn && c.halt == haltNone
}

func (c *Controller) ensureCapture() {
	if !c.captureAllowed() {
		return
	}
	if c.capture.Active() {
		if c.capture.Stopping() {
			c.restartOnEnd = true
		}
		return
	}
	c.cancelRetry()
	id, err := c.capture.Start(c.ctx)
	if err != nil {
		c.onCaptureStartError(err)
		return
	}
	c.captureID = id
	c.captureLive = true
	c.restartOnEnd = false
}

func (c *Controller) stopCapture() {
	c.captureLive = false
	c.capture.Stop()
}

func (c *Controller) onCaptureStartError(err error) {
	if errors.Is(err, capture.ErrAlreadyActive) {
		c.restartOnEnd = true
		return
	}
	var ce *capture.Error
	if errors.As(err, &ce) && !ce.Kind.Transient() {
		c.block()
		if c.state == Listening {
			c.setState(Idle, "permission_denied")
		}
		return
	}
	log.Printf("[turn] session=%s capture start failed: %v", c.sessionID, err)
	c.scheduleRetry("start_error", true)
}

func (c *Controller) onCapture(ev capture.Event) {
	if ev.Session != c.captureID {
		return
	}
	if ev.Type == capture.EventFragment {
		c.onFragment(ev)
		return
	}
	c.onCaptureEnd(ev)
}

func (c *Controller) onFragment(ev capture.Event) {
	// fragments queued before Stop belong to a closed session
	if !c.captureLive {
		return
	}
	if strings.TrimSpace(ev.Interim+ev.Final) == "" {
		return
	}
	c.attempts = 0
	c.failures = 0
	c.emptySessions = 0
	c.retry.Reset()

	switch c.state {
	case Speaking:
		d := c.floor.OnFragment(c.clock.Now())
		if !d.ShouldStop {
			if d.Reason == "guard" {
				metricBargeInGuardBlocks.Inc()
			}
			return
		}
		c.bargeIn(d)
	case Listening:
	default:
		return
	}
	c.buf.Apply(ev.Interim, ev.Final)
	c.cycle = c.ep.Feed()
	c.notify(Notice{Kind: NoticeTranscript, Text: c.buf.Display()})
}

func (c *Controller) bargeIn(d floor.Decision) {
	metricBargeIn.Inc()
	log.Printf("[turn] session=%s barge-in playback=%d", c.sessionID, d.PlaybackID)
	c.play.Stop()
	c.floor.OnPlaybackStopped(d.PlaybackID, c.clock.Now(), d.Reason)
	c.playbackID = 0
	c.ep.Cancel()
	c.buf.Reset()
	c.setState(Listening, "barge_in")
	c.notify(Notice{Kind: NoticeBargeIn})
}

func (c *Controller) onCaptureEnd(ev capture.Event) {
	restart := c.restartOnEnd
	c.restartOnEnd = false
	c.captureLive = false
	denied := ev.Type == capture.EventError && ev.Err != nil && !ev.Err.Kind.Transient()
	if ev.Type == capture.EventError {
		log.Printf("[turn] session=%s capture error: %v", c.sessionID, ev.Err)
	}
	if denied {
		c.block()
	}

	switch c.state {
	case Listening:
		if c.buf.Snapshot() != "" {
			c.finalize(ev.Type.String())
			return
		}
		if denied {
			c.setState(Idle, "permission_denied")
			return
		}
		c.restartCapture(ev, restart)
	case Speaking:
		if c.cfg.BargeIn && !denied {
			c.restartCapture(ev, restart)
		}
	}
}

// restartCapture reopens capture after a session ended on its own. Silence
// (empty sessions, no-match) and aborts retry forever at the capped delay;
// only unidentified failures count toward the attempt limit.
func (c *Controller) restartCapture(ev capture.Event, requested bool) {
	if requested {
		c.ensureCapture()
		return
	}
	if ev.Type == capture.EventEnded {
		c.emptySessions++
		if c.emptySessions < c.cfg.MaxEmptySessions {
			c.ensureCapture()
			return
		}
		c.scheduleRetry("empty_session", false)
		return
	}
	reason, bounded := "error", true
	if ev.Err != nil {
		reason = ev.Err.Kind.String()
		bounded = ev.Err.Kind == capture.ErrUnknown
	}
	c.scheduleRetry(reason, bounded)
}

// scheduleRetry arms the next restart. Bounded failures halt capture once
// they exceed Retry.MaxAttempts.
func (c *Controller) scheduleRetry(reason string, bounded bool) {
	c.attempts++
	if bounded {
		c.failures++
	}
	if limit := c.cfg.Retry.MaxAttempts; bounded && limit > 0 && c.failures > limit {
		c.cancelRetry()
		c.halt = haltExhausted
		metricCaptureHalts.WithLabelValues("exhausted").Inc()
		log.Printf("[turn] session=%s capture unavailable after %d failed restarts", c.sessionID, c.failures-1)
		c.notify(Notice{Kind: NoticeCaptureUnavailable, Text: c.cfg.UnavailableMessage})
		c.record("capture_unavailable", map[string]any{"attempts": c.failures - 1})
		if c.state == Listening {
			c.setState(Idle, "capture_unavailable")
		}
		return
	}
	c.cancelRetry()
	delay := c.retry.NextBackOff()
	gen := c.retryGen
	c.retryTimer = c.clock.AfterFunc(delay, func() { c.post(retryEvent{gen: gen}) })
	metricCaptureRestarts.WithLabelValues(reason).Inc()
	log.Printf("[turn] session=%s capture retry in %s (attempt %d, %s)", c.sessionID, delay, c.attempts, reason)
}

func (c *Controller) cancelRetry() {
	if c.retryTimer != nil {
		c.retryTimer.Stop()
		c.retryTimer = nil
	}
	c.retryGen++
}

func (c *Controller) onRetry(gen uint64) {
	if gen != c.retryGen {
		return
	}
	c.retryTimer = nil
	switch c.state {
	case Listening:
		c.ensureCapture()
	case Speaking:
		if c.cfg.BargeIn {
			c.ensureCapture()
		}
	}
}

func (c *Controller) block() {
	c.halt = haltPermission
	c.cancelRetry()
	c.ep.Cancel()
	metricCaptureHalts.WithLabelValues("permission_denied").Inc()
	log.Printf("[turn] session=%s microphone permission denied; capture halted", c.sessionID)
	c.notify(Notice{Kind: NoticeCaptureBlocked, Text: c.cfg.PermissionMessage})
	c.record("capture_blocked", nil)
}

func (c *Controller) finalize(trigger string) {
	metricFinalize.WithLabelValues(trigger).Inc()
	c.setState(Finalizing, trigger)
	c.ep.Cancel()
	c.cycle = 0
	c.stopCapture()
	text := c.buf.Snapshot()
	c.buf.Reset()
	if text == "" {
		c.listen("empty_utterance")
		return
	}
	// pending is always nil here: Finalizing is only reachable from Listening
	if err := c.submit(text, "voice"); err != nil {
		log.Printf("[turn] session=%s submit: %v", c.sessionID, err)
		c.listen("busy")
	}
}

func (c *Controller) submit(text, source string) error {
	if c.pending != nil {
		metricSubmissions.WithLabelValues("busy").Inc()
		return ErrBusy
	}
	t := types.Turn{
		ID:            uuid.NewString(),
		SessionID:     c.sessionID,
		SubmittedText: text,
		Source:        source,
		CreatedAt:     c.clock.Now().UTC(),
		Status:        types.TurnPending,
	}
	c.pending = &t
	c.recorder.SaveTurn(t)
	c.notify(Notice{Kind: NoticeUserMessage, Text: text, TurnID: t.ID})
	c.setState(AwaitingReply, "submit")

	ctx, cancel := context.WithTimeout(c.ctx, c.cfg.SubmitTimeout)
	go func(turnID string) {
		defer cancel()
		start := time.Now()
		reply, err := c.submitter.Submit(ctx, text)
		c.post(replyEvent{turnID: turnID, reply: reply, err: err, elapsed: time.Since(start)})
	}(t.ID)
	return nil
}

func (c *Controller) onReply(e replyEvent) {
	if c.pending == nil || c.pending.ID != e.turnID {
		return
	}
	t := *c.pending
	c.pending = nil
	completed := c.clock.Now().UTC()
	t.CompletedAt = &completed
	metricSubmitLatency.Observe(float64(e.elapsed.Milliseconds()))

	if e.err != nil {
		t.Status = types.TurnFailed
		t.Error = e.err.Error()
		msg := c.cfg.FailureMessage
		outcome := "failed"
		var rej *conversation.RejectedError
		if errors.As(e.err, &rej) {
			outcome = "rejected"
			if rej.Reason != "" {
				msg = rej.Reason
			}
		}
		metricSubmissions.WithLabelValues(outcome).Inc()
		log.Printf("[turn] session=%s turn=%s failed: %v", c.sessionID, t.ID, e.err)
		c.recorder.SaveTurn(t)
		c.notify(Notice{Kind: NoticeBotError, Text: msg, TurnID: t.ID})
		c.listen("submit_failed")
		return
	}

	t.Status = types.TurnAnswered
	t.Answer = e.reply.Answer
	t.HasAudio = e.reply.HasAudio()
	metricSubmissions.WithLabelValues("answered").Inc()
	c.recorder.SaveTurn(t)
	c.notify(Notice{Kind: NoticeBotMessage, Text: e.reply.Answer, TurnID: t.ID})

	if !t.HasAudio || !c.voiceOn {
		c.listen("text_reply")
		return
	}
	c.speak(e.reply.Audio)
}

func (c *Controller) speak(audio []byte) {
	id, err := c.play.Start(playback.Payload{Data: audio, MIME: playback.DefaultMIME})
	if err != nil {
		metricPlayback.WithLabelValues("rejected").Inc()
		log.Printf("[turn] session=%s playback: %v", c.sessionID, err)
		c.notify(Notice{Kind: NoticePlaybackFailed, Text: c.cfg.PlaybackMessage})
		c.listen("playback_rejected")
		return
	}
	c.playbackID = id
	c.floor.OnPlaybackStarted(id, c.clock.Now())
	c.buf.Reset()
	c.ep.Cancel()
	c.setState(Speaking, "reply_audio")
	if c.cfg.BargeIn {
		c.ensureCapture()
	}
}

func (c *Controller) onPlayback(ev playback.Event) {
	if ev.Playback != c.playbackID || c.state != Speaking {
		return
	}
	c.playbackID = 0
	c.floor.OnPlaybackStopped(ev.Playback, c.clock.Now(), ev.Type.String())
	metricPlayback.WithLabelValues(ev.Type.String()).Inc()
	if ev.Type == playback.EventFailed {
		log.Printf("[turn] session=%s playback=%d failed: %s", c.sessionID, ev.Playback, ev.Reason)
		c.notify(Notice{Kind: NoticePlaybackFailed, Text: c.cfg.PlaybackMessage})
	}
	c.listen("playback_" + ev.Type.String())
}

// stopSpeaking ends the current playback without waiting for its terminal event.
func (c *Controller) stopSpeaking(reason string) {
	if c.playbackID == 0 {
		return
	}
	c.play.Stop()
	c.floor.OnPlaybackStopped(c.playbackID, c.clock.Now(), reason)
	metricPlayback.WithLabelValues("stopped").Inc()
	c.playbackID = 0
}

func (c *Controller) onSubmitText(text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return conversation.ErrEmptyMessage
	}
	if c.pending != nil || c.state == AwaitingReply || c.state == Finalizing {
		metricSubmissions.WithLabelValues("busy").Inc()
		return ErrBusy
	}
	if c.state == Speaking {
		c.stopSpeaking("text_input")
	}
	metricFinalize.WithLabelValues("text").Inc()
	c.setState(Finalizing, "text")
	c.ep.Cancel()
	c.cycle = 0
	c.stopCapture()
	c.buf.Reset()
	return c.submit(text, "text")
}

func (c *Controller) onVoiceOutput(enabled bool) {
	c.voiceOn = enabled
	c.record("voice_output", map[string]any{"enabled": enabled})
	if !enabled && c.state == Speaking {
		c.stopSpeaking("voice_disabled")
		c.listen("voice_disabled")
	}
}

func (c *Controller) onCaptureToggle(enabled bool) {
	c.captureOn = enabled
	c.record("capture", map[string]any{"enabled": enabled})
	if enabled {
		if c.halt != haltNone {
			log.Printf("[turn] session=%s capture re-enabled", c.sessionID)
		}
		c.halt = haltNone
		c.attempts = 0
		c.failures = 0
		c.emptySessions = 0
		c.retry.Reset()
		switch c.state {
		case Idle:
			if c.started {
				c.listen("capture_enabled")
			}
		case Listening:
			c.ensureCapture()
		case Speaking:
			if c.cfg.BargeIn {
				c.ensureCapture()
			}
		}
		return
	}
	c.cancelRetry()
	c.ep.Cancel()
	c.cycle = 0
	c.restartOnEnd = false
	c.stopCapture()
	if c.state == Listening {
		c.buf.Reset()
		c.setState(Idle, "capture_disabled")
	}
}

func (c *Controller) setState(to State, reason string) {
	from := c.state
	if from == to {
		return
	}
	c.state = to
	c.mirror.Store(int32(to))
	metricStateTransitions.WithLabelValues(from.String(), to.String()).Inc()
	log.Printf("[turn] session=%s %s -> %s (%s)", c.sessionID, from, to, reason)
	c.notify(Notice{Kind: NoticeState, From: from, To: to})
	c.record("state", map[string]any{"from": from.String(), "to": to.String(), "reason": reason})
}

func (c *Controller) notify(n Notice) { c.observer.Observe(n) }

func (c *Controller) record(typ string, payload map[string]any) {
	c.recorder.AppendEvent(typ, payload)
}

func (c *Controller) shutdown() {
	c.cancelRetry()
	c.ep.Cancel()
	c.stopCapture()
	c.play.Stop()
	if c.pending != nil {
		t := *c.pending
		c.pending = nil
		completed := c.clock.Now().UTC()
		t.CompletedAt = &completed
		t.Status = types.TurnFailed
		t.Error = ErrStopped.Error()
		metricSubmissions.WithLabelValues("abandoned").Inc()
		c.recorder.SaveTurn(t)
	}
	log.Printf("[turn] session=%s controller stopped in %s", c.sessionID, c.state)
}
