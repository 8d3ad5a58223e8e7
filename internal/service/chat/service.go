// Package chat resolves visitor questions into answers by walking an ordered
// list of backends until one produces text.
package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/jonboulle/clockwork"

	"github.com/digitalforce/flexi/backend/internal/config"
	"github.com/digitalforce/flexi/backend/internal/logging"
	"github.com/digitalforce/flexi/backend/internal/metrics"
	"github.com/digitalforce/flexi/backend/internal/model/chat"
	"github.com/digitalforce/flexi/backend/internal/service/prompt"
	"github.com/digitalforce/flexi/backend/internal/service/session"
)

const (
	TierExternal = "external"
	TierPrimary  = "primary"
	TierCanned   = "canned"
	TierNone     = "none"

	// MaxAnswerRunes bounds every answer, truncation marker included.
	MaxAnswerRunes   = 3000
	TruncationMarker = "\n\n[Output truncated]"

	ApologyText = "Mi dispiace, in questo momento Flexi non riesce a rispondere. Riprova tra qualche minuto oppure scrivici a info@digitalforcemining.it: il nostro team ti risponderà al più presto."

	logQuestionRunes = 120
)

var (
	ErrQuestionRequired = errors.New("question is required")

	// ErrSkipped is returned by a Strategy whose backend is not configured.
	ErrSkipped = errors.New("tier not configured")
)

var markupTag = regexp.MustCompile(`<[^>]*>`)

// Request is one question from a visitor.
type Request struct {
	SessionID string
	Question  string
	History   []chat.Message
	Prompt    string
}

// Answer is the resolved reply and the tier that produced it.
type Answer struct {
	Text string `json:"text"`
	Tier string `json:"-"`
}

// Input is what a Strategy receives: the request, the composed prompt and the
// turns already stored for the session.
type Input struct {
	Question string
	Prompt   string
	Turns    []chat.Turn
}

// Strategy is one answer tier. Resolve returns ErrSkipped when its backend is
// not configured and any other error when the backend failed.
type Strategy interface {
	Tier() string
	Resolve(ctx context.Context, cfg *config.Config, in Input) (string, error)
}

// Service walks its strategies in order for every question.
type Service struct {
	config     *config.Holder
	sessions   session.Store
	strategies []Strategy
	logger     *slog.Logger
	clock      clockwork.Clock
}

// NewService creates a resolver over strategies, tried in the given order.
func NewService(holder *config.Holder, sessions session.Store, strategies []Strategy, logger *slog.Logger) *Service {
	return &Service{
		config:     holder,
		sessions:   sessions,
		strategies: strategies,
		logger:     logging.OrDefault(logger),
		clock:      clockwork.NewRealClock(),
	}
}

// Resolve answers req. Backend failures never surface as errors: when no tier
// produces text the apology is returned.
func (s *Service) Resolve(ctx context.Context, req Request) (Answer, error) {
	question := strings.TrimSpace(req.Question)
	if question == "" {
		return Answer{}, ErrQuestionRequired
	}

	start := s.clock.Now()
	cfg := s.config.Current()

	var turns []chat.Turn
	if req.SessionID != "" {
		var err error
		turns, err = session.Turns(ctx, s.sessions, req.SessionID)
		if err != nil {
			s.logger.Warn("[chat] failed to load session", "session", req.SessionID, "error", err)
		}
	}

	in := Input{
		Question: question,
		Prompt:   composePrompt(question, req),
		Turns:    turns,
	}

	answer := Answer{Text: ApologyText, Tier: TierNone}
	for _, strategy := range s.strategies {
		text, err := s.run(ctx, strategy, cfg, in)
		if errors.Is(err, ErrSkipped) {
			continue
		}
		if err != nil {
			metrics.TierMisses.WithLabelValues(strategy.Tier(), "error").Inc()
			s.logger.Warn("[chat] tier failed", "tier", strategy.Tier(), "error", err)
			continue
		}

		text = Normalize(text)
		if text == "" {
			metrics.TierMisses.WithLabelValues(strategy.Tier(), "empty").Inc()
			continue
		}

		answer = Answer{Text: text, Tier: strategy.Tier()}
		break
	}

	if req.SessionID != "" {
		turn := chat.Turn{Question: question, Answer: answer.Text, At: s.clock.Now().UTC()}
		if _, err := s.sessions.Append(ctx, req.SessionID, turn); err != nil {
			s.logger.Warn("[chat] failed to store turn", "session", req.SessionID, "error", err)
		}
	}

	metrics.Resolutions.WithLabelValues(answer.Tier).Inc()
	metrics.ResolveDuration.Observe(s.clock.Since(start).Seconds())
	s.logger.Info("[chat] resolved",
		"session", req.SessionID,
		"question", logging.Truncate(question, logQuestionRunes),
		"length", len([]rune(answer.Text)),
		"tier", answer.Tier,
	)

	return answer, nil
}

func (s *Service) run(ctx context.Context, strategy Strategy, cfg *config.Config, in Input) (text string, err error) {
	defer func() {
		if r := recover(); r != nil {
			metrics.TierMisses.WithLabelValues(strategy.Tier(), "panic").Inc()
			err = fmt.Errorf("tier %s panicked: %v", strategy.Tier(), r)
		}
	}()
	return strategy.Resolve(ctx, cfg, in)
}

// composePrompt prefers a client supplied prompt and otherwise builds one
// from the question and the sanitized client history.
func composePrompt(question string, req Request) string {
	if p := strings.TrimSpace(req.Prompt); p != "" {
		return p
	}
	return prompt.Build(question, chat.SanitizeHistory(req.History))
}

// Normalize strips markup tags and bounds text to MaxAnswerRunes, marking
// truncated answers with TruncationMarker.
func Normalize(text string) string {
	text = strings.TrimSpace(markupTag.ReplaceAllString(text, ""))

	runes := []rune(text)
	if len(runes) <= MaxAnswerRunes {
		return text
	}

	keep := MaxAnswerRunes - len([]rune(TruncationMarker))
	return string(runes[:keep]) + TruncationMarker
}
