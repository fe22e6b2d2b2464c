package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"time"

	ws "nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"voicefront/agent/internal/voicews"
)

func main() {
	server := flag.String("server", "http://localhost:8080", "Voice server base URL")
	text := flag.String("text", "Merhaba, nasılsın?", "Utterance to send as a final transcript")
	locale := flag.String("locale", "", "Session locale (server default when empty)")
	typed := flag.Bool("typed", false, "Send the utterance as typed text instead of speech")
	timeout := flag.Duration("timeout", 30*time.Second, "Timeout for the whole exchange")
	flag.Parse()

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt)
	defer stop()

	fmt.Printf("=== Voice E2E Check ===\n")

	// Step 1: create a session
	fmt.Println("[1] Creating session...")
	sess, err := createSession(ctx, *server, *locale)
	if err != nil {
		log.Fatalf("create session: %v", err)
	}
	fmt.Printf("Session: %s\n", sess.SessionID)

	// Step 2: open the voice socket
	wsURL := "ws" + strings.TrimPrefix(strings.TrimSuffix(*server, "/"), "http") + sess.WSURL
	fmt.Println("[2] Connecting voice socket...")
	conn, _, err := ws.Dial(ctx, wsURL, nil)
	if err != nil {
		log.Fatalf("dial: %v", err)
	}
	defer conn.Close(ws.StatusNormalClosure, "done")

	send := func(typ string, payload map[string]any) {
		m := voicews.Message{Type: typ, TsMs: time.Now().UnixMilli(), SessionID: sess.SessionID, Payload: payload}
		if err := wsjson.Write(ctx, conn, m); err != nil {
			log.Fatalf("send %s: %v", typ, err)
		}
	}

	// Step 3: greet; the server asks for capture
	fmt.Println("[3] Sending hello...")
	send(voicews.TypeHello, nil)
	if *typed {
		fmt.Printf("[4] Sending text: %q\n", *text)
		send(voicews.TypeText, map[string]any{"text": *text})
	}

	answered := false
	for {
		var m voicews.Message
		if err := wsjson.Read(ctx, conn, &m); err != nil {
			if ctx.Err() != nil {
				fmt.Println("[*] Timeout reached")
			} else {
				fmt.Printf("[*] Stream closed: %v\n", err)
			}
			os.Exit(1)
		}
		printFrame(m)

		switch m.Type {
		case voicews.TypeStartCapture:
			if !*typed && !answered {
				fmt.Printf("[4] Speaking: %q\n", *text)
				send(voicews.TypeCaptureResult, map[string]any{"capture_id": m.Payload["capture_id"], "final": *text})
			}
		case voicews.TypeStopCapture:
			send(voicews.TypeCaptureEnded, map[string]any{"capture_id": m.Payload["capture_id"]})
		case voicews.TypePlayAudio:
			send(voicews.TypePlaybackEnded, map[string]any{"playback_id": m.Payload["playback_id"]})
		case voicews.TypeBotMessage:
			answered = true
		case voicews.TypeState:
			if answered && m.Payload["to"] == "listening" {
				fmt.Println("[*] Turn complete")
				return
			}
		}
	}
}

type sessionInfo struct {
	SessionID string `json:"session_id"`
	WSURL     string `json:"ws_url"`
}

func createSession(ctx context.Context, server, locale string) (sessionInfo, error) {
	var info sessionInfo
	body, _ := json.Marshal(map[string]string{"locale": locale})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimSuffix(server, "/")+"/sessions", bytes.NewReader(body))
	if err != nil {
		return info, err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return info, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return info, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	err = json.NewDecoder(resp.Body).Decode(&info)
	return info, err
}

func printFrame(m voicews.Message) {
	ts := time.Now().Format("15:04:05.000")
	switch m.Type {
	case voicews.TypeState:
		fmt.Printf("[%s] <- state: %v -> %v\n", ts, m.Payload["from"], m.Payload["to"])
	case voicews.TypePlayAudio:
		audio, _ := m.Payload["audio_base64"].(string)
		fmt.Printf("[%s] <- play_audio: id=%v %d base64 chars\n", ts, m.Payload["playback_id"], len(audio))
	case voicews.TypeUserMessage, voicews.TypeBotMessage, voicews.TypeTranscript:
		fmt.Printf("[%s] <- %s: %q\n", ts, m.Type, m.Payload["text"])
	case voicews.TypeNotice:
		fmt.Printf("[%s] <- notice %v: %v\n", ts, m.Payload["kind"], m.Payload["text"])
	default:
		fmt.Printf("[%s] <- %s %v\n", ts, m.Type, m.Payload)
	}
}
