package chat

import (
	"fmt"
	"strings"
	"time"
)

// Sender identifies who authored a widget message.
type Sender string

const (
	SenderUser Sender = "user"
	SenderBot  Sender = "bot"
)

// Valid reports whether s is one of the two known senders.
func (s Sender) Valid() bool {
	return s == SenderUser || s == SenderBot
}

// ParseSender normalizes a raw sender label.
func ParseSender(raw string) (Sender, error) {
	s := Sender(strings.ToLower(strings.TrimSpace(raw)))
	if !s.Valid() {
		return "", fmt.Errorf("unknown sender %q", raw)
	}
	return s, nil
}

// Message is one entry of the chat widget transcript.
type Message struct {
	ID        int       `json:"id"`
	Text      string    `json:"text"`
	Sender    Sender    `json:"sender"`
	Timestamp time.Time `json:"timestamp"`
}

// SanitizeHistory normalizes sender labels and drops entries with an unknown
// sender or no text.
func SanitizeHistory(history []Message) []Message {
	if len(history) == 0 {
		return nil
	}

	cleaned := make([]Message, 0, len(history))
	for _, msg := range history {
		sender, err := ParseSender(string(msg.Sender))
		if err != nil || strings.TrimSpace(msg.Text) == "" {
			continue
		}
		msg.Sender = sender
		cleaned = append(cleaned, msg)
	}
	return cleaned
}
