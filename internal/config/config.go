package config

import (
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server struct {
		Port     string
		LogLevel string
		GRPCAddr string
	}
	Ask struct {
		URL        string
		TimeoutSec int
	}
	Turn struct {
		SilenceMs      int
		VoiceOutput    bool
		BargeIn        bool
		BargeInGuardMs int
	}
	Capture struct {
		Locale        string
		StopTimeoutMs int
	}
	Retry struct {
		BaseMs      int
		MaxMs       int
		MaxAttempts int
	}
	Client struct {
		TokenSecret   string
		TokenTTLMin   int
		TokenSkewSecs int
	}
	Messages struct {
		Failure       string
		MicPermission string
	}
}

func Load() Config {
	v := viper.New()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.log_level", "info")
	v.SetDefault("server.grpc_addr", "")

	v.SetDefault("ask.url", "http://localhost:5000/ask")
	v.SetDefault("ask.timeout_sec", 30)

	v.SetDefault("turn.silence_ms", 1500)
	v.SetDefault("turn.voice_output", true)
	v.SetDefault("turn.barge_in", true)
	v.SetDefault("turn.barge_in_guard_ms", 0)

	v.SetDefault("capture.locale", "tr-TR")
	v.SetDefault("capture.stop_timeout_ms", 3000)

	v.SetDefault("retry.base_ms", 250)
	v.SetDefault("retry.max_ms", 8000)
	v.SetDefault("retry.max_attempts", 8)

	v.SetDefault("client.token_ttl_min", 60)
	v.SetDefault("client.token_skew_secs", 60)

	v.SetDefault("messages.failure", "Sorry, I could not get an answer. Please try again.")
	v.SetDefault("messages.mic_permission", "Microphone access was denied. Allow it in the browser, then turn the microphone back on.")

	// Map envs
	v.BindEnv("server.port", "PORT")
	v.BindEnv("server.log_level", "LOG_LEVEL")
	v.BindEnv("server.grpc_addr", "GRPC_ADDR")

	v.BindEnv("ask.url", "ASK_URL")
	v.BindEnv("ask.timeout_sec", "ASK_TIMEOUT_SEC")

	v.BindEnv("turn.silence_ms", "TURN_SILENCE_MS")
	v.BindEnv("turn.voice_output", "TURN_VOICE_OUTPUT")
	v.BindEnv("turn.barge_in", "TURN_BARGE_IN")
	v.BindEnv("turn.barge_in_guard_ms", "TURN_BARGE_IN_GUARD_MS")

	v.BindEnv("capture.locale", "CAPTURE_LOCALE")
	v.BindEnv("capture.stop_timeout_ms", "CAPTURE_STOP_TIMEOUT_MS")

	v.BindEnv("retry.base_ms", "RETRY_BASE_MS")
	v.BindEnv("retry.max_ms", "RETRY_MAX_MS")
	v.BindEnv("retry.max_attempts", "RETRY_MAX_ATTEMPTS")

	v.BindEnv("client.token_secret", "CLIENT_TOKEN_SECRET")
	v.BindEnv("client.token_ttl_min", "CLIENT_TOKEN_TTL_MIN")
	v.BindEnv("client.token_skew_secs", "CLIENT_TOKEN_SKEW_SECS")

	v.BindEnv("messages.failure", "MESSAGE_FAILURE")
	v.BindEnv("messages.mic_permission", "MESSAGE_MIC_PERMISSION")

	var c Config
	c.Server.Port = toString(v.Get("server.port"))
	c.Server.LogLevel = v.GetString("server.log_level")
	c.Server.GRPCAddr = v.GetString("server.grpc_addr")

	c.Ask.URL = v.GetString("ask.url")
	c.Ask.TimeoutSec = v.GetInt("ask.timeout_sec")

	c.Turn.SilenceMs = v.GetInt("turn.silence_ms")
	c.Turn.VoiceOutput = v.GetBool("turn.voice_output")
	c.Turn.BargeIn = v.GetBool("turn.barge_in")
	c.Turn.BargeInGuardMs = v.GetInt("turn.barge_in_guard_ms")

	c.Capture.Locale = v.GetString("capture.locale")
	c.Capture.StopTimeoutMs = v.GetInt("capture.stop_timeout_ms")

	c.Retry.BaseMs = v.GetInt("retry.base_ms")
	c.Retry.MaxMs = v.GetInt("retry.max_ms")
	c.Retry.MaxAttempts = v.GetInt("retry.max_attempts")

	c.Client.TokenSecret = v.GetString("client.token_secret")
	c.Client.TokenTTLMin = v.GetInt("client.token_ttl_min")
	c.Client.TokenSkewSecs = v.GetInt("client.token_skew_secs")

	c.Messages.Failure = v.GetString("messages.failure")
	c.Messages.MicPermission = v.GetString("messages.mic_permission")

	log.Printf("config loaded: port=%s ask_url=%s locale=%s", c.Server.Port, c.Ask.URL, c.Capture.Locale)
	return c
}

// AskTimeout is the upper bound on one answering-service request.
func (c Config) AskTimeout() time.Duration { return seconds(c.Ask.TimeoutSec) }

func (c Config) SilenceThreshold() time.Duration { return millis(c.Turn.SilenceMs) }

func (c Config) BargeInGuard() time.Duration { return millis(c.Turn.BargeInGuardMs) }

func (c Config) CaptureStopTimeout() time.Duration { return millis(c.Capture.StopTimeoutMs) }

func (c Config) TokenTTL() time.Duration { return time.Duration(c.Client.TokenTTLMin) * time.Minute }

func (c Config) TokenSkew() time.Duration { return seconds(c.Client.TokenSkewSecs) }

func toString(v any) string { return fmt.Sprint(v) }

func millis(n int) time.Duration { return time.Duration(n) * time.Millisecond }

func seconds(n int) time.Duration { return time.Duration(n) * time.Second }
