package conversation

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func askServer(t *testing.T, status int, body string) (*httptest.Server, *[]string) {
	t.Helper()
	var got []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/ask", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		var req struct {
			Message string `json:"message"`
		}
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		got = append(got, req.Message)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv, &got
}

func TestSubmitReplyWithAudio(t *testing.T) {
	audio := []byte("ID3-fake-mp3")
	body := `{"answer":"hi","audio_base64":"` + base64.StdEncoding.EncodeToString(audio) + `"}`
	srv, got := askServer(t, http.StatusOK, body)

	c := NewClient(srv.URL+"/ask", 5*time.Second)
	reply, err := c.Submit(context.Background(), "  hello ")
	require.NoError(t, err)
	assert.Equal(t, []string{"hello"}, *got)
	assert.Equal(t, "hi", reply.Answer)
	assert.Equal(t, audio, reply.Audio)
	assert.True(t, reply.HasAudio())
}

func TestSubmitTextOnly(t *testing.T) {
	for name, body := range map[string]string{
		"omitted":     `{"answer":"hi"}`,
		"null":        `{"answer":"hi","audio_base64":null}`,
		"empty":       `{"answer":"hi","audio_base64":""}`,
		"undecodable": `{"answer":"hi","audio_base64":"***"}`,
	} {
		t.Run(name, func(t *testing.T) {
			srv, _ := askServer(t, http.StatusOK, body)
			reply, err := NewClient(srv.URL+"/ask", time.Second).Submit(context.Background(), "x")
			require.NoError(t, err)
			assert.Equal(t, "hi", reply.Answer)
			assert.False(t, reply.HasAudio())
		})
	}
}

func TestSubmitQuotaRejected(t *testing.T) {
	srv, _ := askServer(t, http.StatusPaymentRequired, `{"answer":"quota exceeded"}`)
	_, err := NewClient(srv.URL+"/ask", time.Second).Submit(context.Background(), "x")
	var rej *RejectedError
	require.ErrorAs(t, err, &rej)
	assert.Equal(t, http.StatusPaymentRequired, rej.Status)
	assert.Equal(t, "quota exceeded", rej.Reason)
}

func TestSubmitErrorFieldRejected(t *testing.T) {
	srv, _ := askServer(t, http.StatusInternalServerError, `{"error":"Sunucu API anahtarı eksik."}`)
	_, err := NewClient(srv.URL+"/ask", time.Second).Submit(context.Background(), "x")
	var rej *RejectedError
	require.ErrorAs(t, err, &rej)
	assert.Equal(t, "Sunucu API anahtarı eksik.", rej.Reason)

	srv, _ = askServer(t, http.StatusOK, `{"error":"limit"}`)
	_, err = NewClient(srv.URL+"/ask", time.Second).Submit(context.Background(), "x")
	require.ErrorAs(t, err, &rej)
	assert.Equal(t, "limit", rej.Reason)
}

func TestSubmitServerError(t *testing.T) {
	srv, _ := askServer(t, http.StatusInternalServerError, `<html>Internal Server Error</html>`)
	_, err := NewClient(srv.URL+"/ask", time.Second).Submit(context.Background(), "x")
	var se *ServerError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusInternalServerError, se.Status)

	srv, _ = askServer(t, http.StatusOK, `not json`)
	_, err = NewClient(srv.URL+"/ask", time.Second).Submit(context.Background(), "x")
	require.ErrorAs(t, err, &se)
}

func TestSubmitGatewayUnreachable(t *testing.T) {
	srv, _ := askServer(t, http.StatusBadGateway, `bad gateway`)
	_, err := NewClient(srv.URL+"/ask", time.Second).Submit(context.Background(), "x")
	assert.ErrorIs(t, err, ErrUnreachable)
}

func TestSubmitTransportFailure(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL + "/ask"
	srv.Close()
	_, err := NewClient(url, time.Second).Submit(context.Background(), "x")
	assert.ErrorIs(t, err, ErrUnreachable)
}

func TestSubmitTimeoutUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer srv.Close()
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := NewClient(srv.URL+"/ask", 0).Submit(ctx, "x")
	assert.ErrorIs(t, err, ErrUnreachable)
}

func TestSubmitEmpty(t *testing.T) {
	_, err := NewClient("http://127.0.0.1:1/ask", time.Second).Submit(context.Background(), "   ")
	assert.True(t, errors.Is(err, ErrEmptyMessage))
}
