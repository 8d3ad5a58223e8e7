// Package external delivers prompts to an operator supplied model endpoint
// whose request and response shapes are not known in advance.
package external

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/digitalforce/flexi/backend/internal/config"
	"github.com/digitalforce/flexi/backend/internal/logging"
	"github.com/digitalforce/flexi/backend/internal/metrics"
	"github.com/digitalforce/flexi/backend/internal/model/chat"
)

const (
	defaultAttemptTimeout = 15 * time.Second
	maxResponseBytes      = 1 << 20
	recordedBodyChars     = 300
)

// Target describes the endpoint and credentials to probe.
type Target struct {
	URL       string
	APIKey    string
	Header    string
	KeyPrefix string
	Timeout   time.Duration
}

// TargetFromConfig builds a Target from the external endpoint settings.
func TargetFromConfig(cfg config.ExternalConfig) Target {
	return Target{
		URL:       cfg.URL,
		APIKey:    cfg.APIKey,
		Header:    cfg.Header,
		KeyPrefix: cfg.KeyPrefix,
		Timeout:   cfg.Timeout,
	}
}

// Attempt records one POST issued during a probe.
type Attempt struct {
	URL         string            `json:"url"`
	Payload     string            `json:"payload"`
	HeaderShape string            `json:"headerShape"`
	OK          bool              `json:"ok"`
	Status      int               `json:"status"`
	RawBody     string            `json:"rawBody"`
	ParsedJSON  any               `json:"parsedJson"`
	HeadersUsed map[string]string `json:"headersUsed"`
	Error       string            `json:"error,omitempty"`
}

// Result is the accepted reply of a probe.
type Result struct {
	Text        string `json:"text"`
	URL         string `json:"url"`
	Payload     string `json:"payload"`
	HeaderShape string `json:"headerShape"`
	Status      int    `json:"status"`
}

// Diagnostic summarizes the most recent probe for operators.
type Diagnostic struct {
	At         time.Time `json:"at"`
	URL        string    `json:"url"`
	Candidates []string  `json:"candidates"`
	Success    bool      `json:"success"`
	Result     *Result   `json:"result,omitempty"`
	Attempts   []Attempt `json:"attempts"`
}

// Prober sweeps payload and header shapes against an endpoint until one is accepted.
type Prober struct {
	client *http.Client
	logger *slog.Logger
	clock  clockwork.Clock

	mu   sync.RWMutex
	last *Diagnostic
}

// Option customizes a Prober.
type Option func(*Prober)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(p *Prober) { p.client = client }
}

// WithClock replaces the wall clock used for diagnostic timestamps.
func WithClock(clock clockwork.Clock) Option {
	return func(p *Prober) { p.clock = clock }
}

// NewProber creates a Prober.
func NewProber(logger *slog.Logger, opts ...Option) *Prober {
	p := &Prober{
		client: &http.Client{},
		logger: logging.OrDefault(logger),
		clock:  clockwork.NewRealClock(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Probe tries every payload and header variant against target.URL, then
// against derived alternate URLs, and returns the first accepted reply.
// Failures are recorded in the diagnostic, never returned.
func (p *Prober) Probe(ctx context.Context, target Target, prompt string, turns []chat.Turn) (Result, bool) {
	if strings.TrimSpace(target.URL) == "" {
		return Result{}, false
	}

	diag := &Diagnostic{At: p.clock.Now().UTC(), URL: target.URL}
	defer p.store(diag)

	history := historyFromTurns(turns)
	headers := headerVariants(target)

	if res, ok := p.sweep(ctx, target, target.URL, prompt, history, headers, diag); ok {
		return res, true
	}

	diag.Candidates = alternateURLs(target.URL)
	for _, candidate := range diag.Candidates {
		if ctx.Err() != nil {
			break
		}
		if res, ok := p.sweep(ctx, target, candidate, prompt, history, headers, diag); ok {
			p.logger.Info("[external] alternate endpoint accepted", "url", candidate, "primary", target.URL)
			return res, true
		}
	}

	p.logger.Warn("[external] endpoint exhausted", "url", target.URL, "attempts", len(diag.Attempts))
	return Result{}, false
}

func (p *Prober) sweep(ctx context.Context, target Target, url, prompt string, history []historyEntry, headers []headerVariant, diag *Diagnostic) (Result, bool) {
	for payloadIdx, payload := range payloadVariants {
		for headerIdx, header := range headers {
			if ctx.Err() != nil {
				return Result{}, false
			}

			attempt, text := p.attempt(ctx, target, url, prompt, history, payload, header)
			if !attempt.OK {
				diag.Attempts = append(diag.Attempts, attempt)
				continue
			}

			if payloadIdx > 0 || headerIdx > 0 {
				p.logger.Info("[external] succeeded with fallback variant", "url", url, "payload", payload.name, "header", header.name)
			}

			res := Result{
				Text:        text,
				URL:         url,
				Payload:     payload.name,
				HeaderShape: header.name,
				Status:      attempt.Status,
			}
			diag.Success = true
			diag.Result = &res
			return res, true
		}
	}
	return Result{}, false
}

func (p *Prober) attempt(ctx context.Context, target Target, url, prompt string, history []historyEntry, payload payloadVariant, header headerVariant) (Attempt, string) {
	attempt := Attempt{
		URL:         url,
		Payload:     payload.name,
		HeaderShape: header.name,
		HeadersUsed: map[string]string{"Content-Type": "application/json"},
	}

	body, err := json.Marshal(payload.build(prompt, history))
	if err != nil {
		attempt.Error = fmt.Sprintf("encode payload: %v", err)
		return attempt, ""
	}

	timeout := target.Timeout
	if timeout <= 0 {
		timeout = defaultAttemptTimeout
	}
	attemptCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(attemptCtx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		attempt.Error = err.Error()
		metrics.ProbeAttempts.WithLabelValues("transport_error").Inc()
		return attempt, ""
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if header.header != "" {
		req.Header.Set(header.header, header.value)
		attempt.HeadersUsed[header.header] = redact(header.value)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		attempt.Error = err.Error()
		metrics.ProbeAttempts.WithLabelValues("transport_error").Inc()
		p.logger.Debug("[external] attempt failed", "url", url, "payload", payload.name, "header", header.name, "error", err)
		return attempt, ""
	}
	defer resp.Body.Close()

	attempt.Status = resp.StatusCode
	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		attempt.Error = fmt.Sprintf("read body: %v", err)
		metrics.ProbeAttempts.WithLabelValues("transport_error").Inc()
		return attempt, ""
	}
	attempt.RawBody = logging.Truncate(string(raw), recordedBodyChars)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		metrics.ProbeAttempts.WithLabelValues("http_status").Inc()
		p.logger.Debug("[external] attempt rejected", "url", url, "payload", payload.name, "header", header.name, "status", resp.StatusCode)
		return attempt, ""
	}

	if looksLikeHTML(raw) {
		attempt.Error = "html body"
		metrics.ProbeAttempts.WithLabelValues("html_body").Inc()
		return attempt, ""
	}

	text, parsed := extractText(raw)
	attempt.ParsedJSON = parsed
	if strings.TrimSpace(text) == "" {
		attempt.Error = "empty reply"
		metrics.ProbeAttempts.WithLabelValues("empty").Inc()
		return attempt, ""
	}

	attempt.OK = true
	metrics.ProbeAttempts.WithLabelValues("success").Inc()
	return attempt, text
}

// LastDiagnostic returns a copy of the most recent probe record.
func (p *Prober) LastDiagnostic() (Diagnostic, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.last == nil {
		return Diagnostic{}, false
	}

	diag := *p.last
	diag.Attempts = append([]Attempt(nil), p.last.Attempts...)
	diag.Candidates = append([]string(nil), p.last.Candidates...)
	return diag, true
}

func (p *Prober) store(diag *Diagnostic) {
	p.mu.Lock()
	p.last = diag
	p.mu.Unlock()
}

func looksLikeHTML(raw []byte) bool {
	return bytes.HasPrefix(bytes.TrimSpace(raw), []byte("<"))
}

// extractText pulls the reply text out of a response body: the "text" field,
// then "output.text", then a string "output", then the serialized JSON value.
// Bodies that are not JSON are returned verbatim.
func extractText(raw []byte) (string, any) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return "", nil
	}

	var parsed any
	if err := json.Unmarshal(trimmed, &parsed); err != nil {
		return string(trimmed), nil
	}

	switch v := parsed.(type) {
	case string:
		return v, parsed
	case nil:
		return "", nil
	case map[string]any:
		if text, ok := v["text"].(string); ok && text != "" {
			return text, parsed
		}
		switch output := v["output"].(type) {
		case map[string]any:
			if text, ok := output["text"].(string); ok && text != "" {
				return text, parsed
			}
		case string:
			if output != "" {
				return output, parsed
			}
		}
	}

	serialized, err := json.Marshal(parsed)
	if err != nil {
		return string(trimmed), parsed
	}
	return string(serialized), parsed
}
