package external

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"reflect"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"

	"github.com/digitalforce/flexi/backend/internal/mockmodel"
	"github.com/digitalforce/flexi/backend/internal/model/chat"
)

func decodeBody(t *testing.T, r *http.Request) map[string]any {
	t.Helper()
	raw, err := io.ReadAll(r.Body)
	require.NoError(t, err)
	var body map[string]any
	require.NoError(t, json.Unmarshal(raw, &body))
	return body
}

func TestProbeAcceptsFirstMatchingPayload(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body := decodeBody(t, r)
		if _, ok := body["inputs"]; !ok {
			w.WriteHeader(http.StatusUnprocessableEntity)
			_, _ = io.WriteString(w, `{"error":"unsupported shape"}`)
			return
		}
		_, _ = io.WriteString(w, `{"output":{"text":"risposta esterna"}}`)
	}))
	defer srv.Close()

	p := NewProber(nil)
	res, ok := p.Probe(context.Background(), Target{URL: srv.URL}, "ciao", nil)
	require.True(t, ok)
	require.Equal(t, "risposta esterna", res.Text)
	require.Equal(t, "inputs", res.Payload)
	require.Equal(t, "none", res.HeaderShape)

	diag, ok := p.LastDiagnostic()
	require.True(t, ok)
	require.True(t, diag.Success)
	require.Len(t, diag.Attempts, 3)
	for _, a := range diag.Attempts {
		require.Equal(t, http.StatusUnprocessableEntity, a.Status)
		require.False(t, a.OK)
	}
}

func TestProbeRejectsHTMLBodies(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, "  \n<!DOCTYPE html><html><body>login</body></html>")
	}))
	defer srv.Close()

	p := NewProber(nil)
	_, ok := p.Probe(context.Background(), Target{URL: srv.URL + "/model"}, "ciao", nil)
	require.False(t, ok)

	// primary plus the three conventional suffixes, six payload shapes each
	require.EqualValues(t, 24, calls.Load())

	diag, ok := p.LastDiagnostic()
	require.True(t, ok)
	require.False(t, diag.Success)
	require.Len(t, diag.Attempts, 24)
	require.Equal(t, []string{srv.URL + "/model/predict", srv.URL + "/model/invoke", srv.URL + "/model/api/predict"}, diag.Candidates)
	for _, a := range diag.Attempts {
		require.Equal(t, "html body", a.Error)
		require.True(t, strings.HasPrefix(strings.TrimSpace(a.RawBody), "<"))
	}
}

func TestProbeRecordsShortenedBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_, _ = io.WriteString(w, strings.Repeat("è", 500))
	}))
	defer srv.Close()

	p := NewProber(nil)
	_, ok := p.Probe(context.Background(), Target{URL: srv.URL}, "ciao", nil)
	require.False(t, ok)

	diag, ok := p.LastDiagnostic()
	require.True(t, ok)
	require.NotEmpty(t, diag.Attempts)
	require.Equal(t, strings.Repeat("è", recordedBodyChars)+"…", diag.Attempts[0].RawBody)
	require.Equal(t, http.StatusBadGateway, diag.Attempts[0].Status)
}

func TestProbeFallsBackToAlternateURL(t *testing.T) {
	srv := httptest.NewServer(mockmodel.Handler())
	defer srv.Close()

	p := NewProber(nil)
	res, ok := p.Probe(context.Background(), Target{URL: srv.URL}, "Quanto costa?", nil)
	require.True(t, ok)
	require.Equal(t, srv.URL+"/predict", res.URL)
	require.Equal(t, "prompt", res.Payload)
	require.Equal(t, mockmodel.Reply("Quanto costa?"), res.Text)
}

func TestProbeTriesAuthHeaderShapes(t *testing.T) {
	var mu sync.Mutex
	var seen []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		seen = append(seen, r.Header.Get("Authorization")+"|"+r.Header.Get("X-Api-Key"))
		mu.Unlock()
		if r.Header.Get("X-Api-Key") != "secret-key" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_, _ = io.WriteString(w, `{"text":"ok"}`)
	}))
	defer srv.Close()

	p := NewProber(nil)
	res, ok := p.Probe(context.Background(), Target{
		URL:       srv.URL,
		APIKey:    "secret-key",
		Header:    "Authorization",
		KeyPrefix: "Token ",
	}, "ciao", nil)
	require.True(t, ok)
	require.Equal(t, "x-api-key", res.HeaderShape)
	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, []string{"|", "Token secret-key|", "Bearer secret-key|", "|secret-key"}, seen)

	diag, _ := p.LastDiagnostic()
	require.Equal(t, "****-key", diag.Attempts[1].HeadersUsed["Authorization"])
}

func TestProbeSendsSessionHistory(t *testing.T) {
	var mu sync.Mutex
	var history []any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body := decodeBody(t, r)
		mu.Lock()
		history, _ = body["history"].([]any)
		mu.Unlock()
		_, _ = io.WriteString(w, `{"text":"ok"}`)
	}))
	defer srv.Close()

	turns := []chat.Turn{{Question: "Prezzo?", Answer: "7.450 €"}}
	_, ok := NewProber(nil).Probe(context.Background(), Target{URL: srv.URL}, "E la garanzia?", turns)
	require.True(t, ok)
	mu.Lock()
	defer mu.Unlock()
	require.Len(t, history, 2)
	require.Equal(t, map[string]any{"role": "user", "content": "Prezzo?"}, history[0])
	require.Equal(t, map[string]any{"role": "assistant", "content": "7.450 €"}, history[1])
}

func TestProbeMalformedURLSkipsAlternates(t *testing.T) {
	clock := clockwork.NewFakeClockAt(time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC))
	p := NewProber(nil, WithClock(clock))

	_, ok := p.Probe(context.Background(), Target{URL: "http://[::1"}, "ciao", nil)
	require.False(t, ok)

	diag, ok := p.LastDiagnostic()
	require.True(t, ok)
	require.Empty(t, diag.Candidates)
	require.Len(t, diag.Attempts, len(payloadVariants))
	require.Equal(t, clock.Now().UTC(), diag.At)
}

func TestProbeStopsWhenContextCancelled(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, ok := NewProber(nil).Probe(ctx, Target{URL: srv.URL}, "ciao", nil)
	require.False(t, ok)
	require.Zero(t, calls.Load())
}

func TestProbeEmptyURL(t *testing.T) {
	p := NewProber(nil)
	_, ok := p.Probe(context.Background(), Target{}, "ciao", nil)
	require.False(t, ok)

	_, ok = p.LastDiagnostic()
	require.False(t, ok)
}

func TestHeaderVariants(t *testing.T) {
	tests := []struct {
		name   string
		target Target
		want   []string
	}{
		{name: "no key", target: Target{Header: "Authorization", KeyPrefix: "Bearer "}, want: []string{"none"}},
		{name: "default header collapses bearer", target: Target{APIKey: "k", Header: "Authorization", KeyPrefix: "Bearer "}, want: []string{"none", "configured", "x-api-key"}},
		{name: "custom header", target: Target{APIKey: "k", Header: "api-key", KeyPrefix: ""}, want: []string{"none", "configured", "bearer", "x-api-key"}},
		{name: "configured x-api-key collapses", target: Target{APIKey: "k", Header: "x-api-key", KeyPrefix: ""}, want: []string{"none", "configured", "bearer"}},
	}

	for _, tt := range tests {
		var got []string
		for _, v := range headerVariants(tt.target) {
			got = append(got, v.name)
		}
		if !reflect.DeepEqual(got, tt.want) {
			t.Errorf("%s: headerVariants() = %v, want %v", tt.name, got, tt.want)
		}
	}
}

func TestAlternateURLs(t *testing.T) {
	tests := []struct {
		name    string
		primary string
		want    []string
	}{
		{
			name:    "plain endpoint",
			primary: "https://models.example.com/v1/chat",
			want: []string{
				"https://models.example.com/v1/chat/predict",
				"https://models.example.com/v1/chat/invoke",
				"https://models.example.com/v1/chat/api/predict",
			},
		},
		{
			name:    "already a predict endpoint",
			primary: "https://models.example.com/predict/",
			want: []string{
				"https://models.example.com/predict/invoke",
				"https://models.example.com/predict/api/predict",
			},
		},
		{
			name:    "hugging face space page",
			primary: "https://huggingface.co/spaces/Digital_Force/flexi.bot",
			want: []string{
				"https://digital-force-flexi-bot.hf.space",
				"https://digital-force-flexi-bot.hf.space/predict",
				"https://digital-force-flexi-bot.hf.space/invoke",
				"https://digital-force-flexi-bot.hf.space/api/predict",
				"https://huggingface.co/spaces/Digital_Force/flexi.bot/predict",
				"https://huggingface.co/spaces/Digital_Force/flexi.bot/invoke",
				"https://huggingface.co/spaces/Digital_Force/flexi.bot/api/predict",
			},
		},
		{
			name:    "query string kept",
			primary: "http://localhost:9000?key=abc",
			want: []string{
				"http://localhost:9000/predict?key=abc",
				"http://localhost:9000/invoke?key=abc",
				"http://localhost:9000/api/predict?key=abc",
			},
		},
		{name: "malformed", primary: "http://[::1", want: nil},
		{name: "missing scheme", primary: "models.example.com/chat", want: nil},
	}

	for _, tt := range tests {
		got := alternateURLs(tt.primary)
		if !reflect.DeepEqual(got, tt.want) {
			t.Errorf("%s: alternateURLs(%q) = %v, want %v", tt.name, tt.primary, got, tt.want)
		}
	}
}

func TestExtractText(t *testing.T) {
	tests := []struct {
		body string
		want string
	}{
		{body: `{"text":"ciao"}`, want: "ciao"},
		{body: `{"output":{"text":"annidato"}}`, want: "annidato"},
		{body: `{"output":"stringa"}`, want: "stringa"},
		{body: `{"generated":"x","score":1}`, want: `{"generated":"x","score":1}`},
		{body: `"solo testo"`, want: "solo testo"},
		{body: `[1,2]`, want: "[1,2]"},
		{body: "testo semplice\n", want: "testo semplice"},
		{body: "null", want: ""},
		{body: "   ", want: ""},
	}

	for _, tt := range tests {
		if got, _ := extractText([]byte(tt.body)); got != tt.want {
			t.Errorf("extractText(%q) = %q, want %q", tt.body, got, tt.want)
		}
	}
}
