// Package canned answers common questions from a fixed Italian topic table
// when no generative backend produced a reply.
package canned

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"strings"
	"unicode"

	"gopkg.in/yaml.v3"
)

//go:embed responses.yaml
var defaultTable []byte

// FallbackTopic names the answer given when no topic matches.
const FallbackTopic = "fallback"

// Topic is one keyword group and its answer.
type Topic struct {
	Name     string   `yaml:"name"`
	Keywords []string `yaml:"keywords"`
	Words    []string `yaml:"words"`
	Answer   string   `yaml:"answer"`
}

type table struct {
	Fallback string  `yaml:"fallback"`
	Topics   []Topic `yaml:"topics"`
}

// Responder matches questions against an ordered list of topics.
type Responder struct {
	topics   []Topic
	fallback string
}

// Default returns the responder backed by the built-in topic table.
func Default() (*Responder, error) {
	return Parse(defaultTable)
}

// Load reads a topic table from path, or the built-in table when path is empty.
func Load(path string) (*Responder, error) {
	if path == "" {
		return Default()
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read canned responses: %w", err)
	}
	return Parse(data)
}

// Parse decodes and validates a YAML topic table.
func Parse(data []byte) (*Responder, error) {
	var t table
	if err := yaml.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("decode canned responses: %w", err)
	}

	if strings.TrimSpace(t.Fallback) == "" {
		return nil, errors.New("canned responses: fallback answer is required")
	}

	topics := make([]Topic, 0, len(t.Topics))
	for i, topic := range t.Topics {
		if strings.TrimSpace(topic.Answer) == "" {
			return nil, fmt.Errorf("canned responses: topic %d (%s) has no answer", i, topic.Name)
		}
		if len(topic.Keywords)+len(topic.Words) == 0 {
			return nil, fmt.Errorf("canned responses: topic %d (%s) has no keywords", i, topic.Name)
		}
		topic.Keywords = lowerAll(topic.Keywords)
		topic.Words = lowerAll(topic.Words)
		topics = append(topics, topic)
	}

	return &Responder{topics: topics, fallback: t.Fallback}, nil
}

// Respond returns the answer of the first topic matching question.
func (r *Responder) Respond(question string) string {
	_, answer := r.Match(question)
	return answer
}

// Match returns the matched topic name and its answer. Unmatched questions
// get FallbackTopic and the generic fallback text.
func (r *Responder) Match(question string) (string, string) {
	lower := strings.ToLower(question)
	words := splitWords(lower)

	for _, topic := range r.topics {
		if containsAny(lower, topic.Keywords) || hasAnyWord(words, topic.Words) {
			return topic.Name, topic.Answer
		}
	}
	return FallbackTopic, r.fallback
}

// Topics lists the configured topic names in match order.
func (r *Responder) Topics() []string {
	names := make([]string, 0, len(r.topics))
	for _, topic := range r.topics {
		names = append(names, topic.Name)
	}
	return names
}

func containsAny(text string, keywords []string) bool {
	for _, keyword := range keywords {
		if keyword != "" && strings.Contains(text, keyword) {
			return true
		}
	}
	return false
}

func hasAnyWord(words map[string]struct{}, wanted []string) bool {
	for _, w := range wanted {
		if _, ok := words[w]; ok {
			return true
		}
	}
	return false
}

func splitWords(text string) map[string]struct{} {
	fields := strings.FieldsFunc(text, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	set := make(map[string]struct{}, len(fields))
	for _, f := range fields {
		set[f] = struct{}{}
	}
	return set
}

func lowerAll(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v = strings.ToLower(strings.TrimSpace(v)); v != "" {
			out = append(out, v)
		}
	}
	return out
}
