package external

import (
	"net/http"

	"github.com/digitalforce/flexi/backend/internal/model/chat"
)

type historyEntry struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// payloadVariant is one request body shape known to be accepted by common model servers.
type payloadVariant struct {
	name  string
	build func(prompt string, history []historyEntry) any
}

var payloadVariants = []payloadVariant{
	{name: "prompt", build: func(prompt string, history []historyEntry) any {
		return map[string]any{"prompt": prompt, "history": history}
	}},
	{name: "input", build: func(prompt string, history []historyEntry) any {
		return map[string]any{"input": map[string]any{"prompt": prompt, "history": history}}
	}},
	{name: "instances", build: func(prompt string, _ []historyEntry) any {
		return map[string]any{"instances": []map[string]string{{"input": prompt}}}
	}},
	{name: "inputs", build: func(prompt string, _ []historyEntry) any {
		return map[string]any{"inputs": prompt}
	}},
	{name: "messages", build: func(prompt string, history []historyEntry) any {
		messages := make([]historyEntry, 0, len(history)+1)
		messages = append(messages, history...)
		messages = append(messages, historyEntry{Role: "user", Content: prompt})
		return map[string]any{"messages": messages}
	}},
	{name: "text", build: func(prompt string, _ []historyEntry) any {
		return map[string]any{"text": prompt}
	}},
}

func historyFromTurns(turns []chat.Turn) []historyEntry {
	history := make([]historyEntry, 0, len(turns)*2)
	for _, turn := range turns {
		history = append(history,
			historyEntry{Role: "user", Content: turn.Question},
			historyEntry{Role: "assistant", Content: turn.Answer},
		)
	}
	return history
}

// headerVariant is one way of presenting the API key.
type headerVariant struct {
	name   string
	header string
	value  string
}

// headerVariants lists the auth header shapes to try. Without a key only the
// unauthenticated variant is returned; shapes that would send the same header
// twice are collapsed.
func headerVariants(t Target) []headerVariant {
	variants := []headerVariant{{name: "none"}}
	if t.APIKey == "" {
		return variants
	}

	add := func(name, header, value string) {
		header = http.CanonicalHeaderKey(header)
		for _, existing := range variants {
			if existing.header == header && existing.value == value {
				return
			}
		}
		variants = append(variants, headerVariant{name: name, header: header, value: value})
	}

	configured := t.Header
	if configured == "" {
		configured = "Authorization"
	}
	add("configured", configured, t.KeyPrefix+t.APIKey)
	add("bearer", "Authorization", "Bearer "+t.APIKey)
	add("x-api-key", "X-Api-Key", t.APIKey)

	return variants
}

// redact hides all but the last four characters of a credential.
func redact(value string) string {
	if len(value) <= 4 {
		return "****"
	}
	return "****" + value[len(value)-4:]
}
