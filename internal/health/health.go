package health

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"voicefront/agent/internal/config"
)

type CheckResult struct {
	Name    string        `json:"name"`
	OK      bool          `json:"ok"`
	Latency time.Duration `json:"latency_ms"`
	Error   string        `json:"error,omitempty"`
}

type HealthStatus struct {
	OK        bool          `json:"ok"`
	Checks    []CheckResult `json:"checks"`
	CheckedAt time.Time     `json:"checked_at"`
}

func (h HealthStatus) String() string {
	status := "OK"
	if !h.OK {
		status = "FAIL"
	}
	s := fmt.Sprintf("Health: %s\n", status)
	for _, c := range h.Checks {
		mark := "✓"
		if !c.OK {
			mark = "✗"
		}
		s += fmt.Sprintf("  %s %s (%dms)", mark, c.Name, c.Latency.Milliseconds())
		if c.Error != "" {
			s += fmt.Sprintf(" - %s", c.Error)
		}
		s += "\n"
	}
	return s
}

// Checker runs readiness checks against external dependencies.
type Checker struct {
	cfg    config.Config
	client *http.Client
}

func NewChecker(cfg config.Config) *Checker {
	return &Checker{cfg: cfg, client: &http.Client{Timeout: 5 * time.Second}}
}

// CheckAll runs all health checks and returns combined status
func (c *Checker) CheckAll(ctx context.Context) HealthStatus {
	checks := []CheckResult{
		c.checkAsk(ctx),
	}

	allOK := true
	for _, r := range checks {
		if !r.OK {
			allOK = false
		}
	}

	return HealthStatus{
		OK:        allOK,
		Checks:    checks,
		CheckedAt: time.Now().UTC(),
	}
}

// checkAsk probes the answering service. Any response below 500 means the
// service is up; GET on the ask endpoint is commonly 405.
func (c *Checker) checkAsk(ctx context.Context) CheckResult {
	start := time.Now()
	result := CheckResult{Name: "ask"}

	if c.cfg.Ask.URL == "" {
		result.Error = "ASK_URL not set"
		result.Latency = time.Since(start)
		return result
	}
	if _, err := url.ParseRequestURI(c.cfg.Ask.URL); err != nil {
		result.Error = fmt.Sprintf("invalid ASK_URL: %v", err)
		result.Latency = time.Since(start)
		return result
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.Ask.URL, nil)
	if err != nil {
		result.Error = fmt.Sprintf("request build failed: %v", err)
		result.Latency = time.Since(start)
		return result
	}

	resp, err := c.client.Do(req)
	if err != nil {
		result.Error = fmt.Sprintf("request failed: %v", err)
		result.Latency = time.Since(start)
		return result
	}
	defer resp.Body.Close()

	result.Latency = time.Since(start)

	if resp.StatusCode >= 500 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		result.Error = fmt.Sprintf("unexpected status %d: %s", resp.StatusCode, string(body))
		return result
	}
	io.Copy(io.Discard, resp.Body)

	result.OK = true
	return result
}
