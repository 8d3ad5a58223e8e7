package chat

import (
	"context"
	"errors"

	"github.com/digitalforce/flexi/backend/internal/config"
	"github.com/digitalforce/flexi/backend/internal/service/canned"
	"github.com/digitalforce/flexi/backend/internal/service/external"
)

var errEndpointExhausted = errors.New("external endpoint produced no usable reply")

// Generator is the primary model client.
type Generator interface {
	Generate(ctx context.Context, cfg config.PrimaryConfig, prompt string) (string, error)
}

// DefaultStrategies returns the external, primary and canned tiers in order.
func DefaultStrategies(prober *external.Prober, generator Generator, responder *canned.Responder) []Strategy {
	return []Strategy{
		ExternalStrategy{Prober: prober},
		PrimaryStrategy{Generator: generator},
		CannedStrategy{Responder: responder},
	}
}

// ExternalStrategy forwards the prompt to the configured external endpoint.
type ExternalStrategy struct {
	Prober *external.Prober
}

func (ExternalStrategy) Tier() string { return TierExternal }

func (s ExternalStrategy) Resolve(ctx context.Context, cfg *config.Config, in Input) (string, error) {
	if s.Prober == nil || !cfg.External.Enabled() {
		return "", ErrSkipped
	}
	res, ok := s.Prober.Probe(ctx, external.TargetFromConfig(cfg.External), in.Prompt, in.Turns)
	if !ok {
		return "", errEndpointExhausted
	}
	return res.Text, nil
}

// PrimaryStrategy asks the hosted generative model.
type PrimaryStrategy struct {
	Generator Generator
}

func (PrimaryStrategy) Tier() string { return TierPrimary }

func (s PrimaryStrategy) Resolve(ctx context.Context, cfg *config.Config, in Input) (string, error) {
	if s.Generator == nil || !cfg.Primary.Enabled() {
		return "", ErrSkipped
	}
	return s.Generator.Generate(ctx, cfg.Primary, in.Prompt)
}

// CannedStrategy answers from the keyword table when the fallback policy allows it.
type CannedStrategy struct {
	Responder *canned.Responder
}

func (CannedStrategy) Tier() string { return TierCanned }

func (s CannedStrategy) Resolve(_ context.Context, cfg *config.Config, in Input) (string, error) {
	if s.Responder == nil || !cfg.CannedAllowed() {
		return "", ErrSkipped
	}
	return s.Responder.Respond(in.Question), nil
}
