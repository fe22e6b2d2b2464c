// Package conversation submits finalized utterances to the remote
// answering service and maps its replies onto typed results.
package conversation

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"
)

var (
	// ErrUnreachable is a transport failure: the service could not be reached.
	ErrUnreachable = errors.New("answering service unreachable")
	// ErrEmptyMessage is returned for blank submissions.
	ErrEmptyMessage = errors.New("empty message")
)

// RejectedError is an application-level refusal (quota, policy). Reason is
// meant to be shown to the user.
type RejectedError struct {
	Status int
	Reason string
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("ask rejected (%d): %s", e.Status, e.Reason)
}

// ServerError is an unexpected failure of the answering service.
type ServerError struct {
	Status int
	Body   string
}

func (e *ServerError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("ask server error: status %d", e.Status)
	}
	return fmt.Sprintf("ask server error: status %d: %s", e.Status, e.Body)
}

// Reply is a successful answer. Audio is the decoded synthesized speech, nil
// for text-only replies.
type Reply struct {
	Answer string
	Audio  []byte
}

// HasAudio reports whether the reply carries speech.
func (r Reply) HasAudio() bool { return len(r.Audio) > 0 }

// Submitter sends one utterance and waits for the reply.
type Submitter interface {
	Submit(ctx context.Context, text string) (Reply, error)
}

type askRequest struct {
	Message string `json:"message"`
}

type askResponse struct {
	Answer      string  `json:"answer"`
	AudioBase64 *string `json:"audio_base64"`
	Error       string  `json:"error"`
}

// HTTPClient talks to the answering service's POST /ask endpoint.
type HTTPClient struct {
	http *http.Client
	url  string
}

// NewClient returns a client for the /ask endpoint at url. timeout bounds
// each submission; zero means no client-side limit beyond ctx.
func NewClient(url string, timeout time.Duration) *HTTPClient {
	return &HTTPClient{
		http: &http.Client{Timeout: timeout},
		url:  url,
	}
}

// Submit posts text and decodes the reply.
func (c *HTTPClient) Submit(ctx context.Context, text string) (Reply, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return Reply{}, ErrEmptyMessage
	}
	start := time.Now()
	reply, err := c.submit(ctx, text)
	metricAskLatency.Observe(float64(time.Since(start).Milliseconds()))
	metricAskRequests.WithLabelValues(outcome(err)).Inc()
	return reply, err
}

func (c *HTTPClient) submit(ctx context.Context, text string) (Reply, error) {
	var body bytes.Buffer
	if err := json.NewEncoder(&body).Encode(askRequest{Message: text}); err != nil {
		return Reply{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, &body)
	if err != nil {
		return Reply{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return Reply{}, fmt.Errorf("%w: %v", ErrUnreachable, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 32<<20))
	if err != nil {
		return Reply{}, fmt.Errorf("%w: read body: %v", ErrUnreachable, err)
	}

	var parsed askResponse
	decodeErr := json.Unmarshal(raw, &parsed)

	if resp.StatusCode/100 != 2 {
		if decodeErr == nil {
			if reason := refusalReason(parsed); reason != "" {
				return Reply{}, &RejectedError{Status: resp.StatusCode, Reason: reason}
			}
		}
		switch resp.StatusCode {
		case http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
			return Reply{}, fmt.Errorf("%w: %s", ErrUnreachable, resp.Status)
		}
		return Reply{}, &ServerError{Status: resp.StatusCode, Body: snippet(raw)}
	}

	if decodeErr != nil {
		return Reply{}, &ServerError{Status: resp.StatusCode, Body: "invalid reply: " + decodeErr.Error()}
	}
	if parsed.Answer == "" && parsed.Error != "" {
		return Reply{}, &RejectedError{Status: resp.StatusCode, Reason: parsed.Error}
	}

	reply := Reply{Answer: parsed.Answer}
	if parsed.AudioBase64 != nil && *parsed.AudioBase64 != "" {
		audio, err := base64.StdEncoding.DecodeString(*parsed.AudioBase64)
		if err != nil {
			log.Printf("[ask] undecodable audio_base64 (%d chars), replying text-only: %v", len(*parsed.AudioBase64), err)
		} else {
			reply.Audio = audio
		}
	}
	return reply, nil
}

func refusalReason(r askResponse) string {
	if s := strings.TrimSpace(r.Answer); s != "" {
		return s
	}
	return strings.TrimSpace(r.Error)
}

func snippet(b []byte) string {
	s := strings.TrimSpace(string(b))
	if len(s) > 256 {
		s = s[:256]
	}
	return s
}

func outcome(err error) string {
	var rej *RejectedError
	var srv *ServerError
	switch {
	case err == nil:
		return "ok"
	case errors.As(err, &rej):
		return "rejected"
	case errors.As(err, &srv):
		return "server_error"
	case errors.Is(err, ErrUnreachable):
		return "unreachable"
	default:
		return "error"
	}
}
