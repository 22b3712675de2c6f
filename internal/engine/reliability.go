package engine

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"rpg-server/internal/ai"
)

// Generator is the capability a model-backed stage needs from its backend.
// One implementation per backend, injected per stage at construction time.
type Generator interface {
	Generate(ctx context.Context, systemPrompt, userInput string, temperature float64) (string, error)
}

// Outcome is the tagged result of invoking a model-backed stage through the
// reliability wrapper: either a validated payload, or a deterministic
// fallback payload marked as degraded.
type Outcome struct {
	Payload  []byte
	Degraded bool
	Warning  string
	Attempts int
}

// attemptStatus classifies one generation attempt. Retries are driven by this
// explicit result type, not by exceptions-as-control-flow.
type attemptStatus int

const (
	attemptOK attemptStatus = iota
	attemptInvalid
	attemptTimeout
)

// attemptTemperatures vary only the decoding parameters between attempts;
// the contract stays the same.
var attemptTemperatures = []float64{0.8, 0.5, 0.2}

// Wrapper guards every external generative call: it validates output against
// a stage schema, retries a bounded number of times, and substitutes a
// deterministic fallback on exhaustion. Failures here are never fatal to the
// turn.
type Wrapper struct {
	stage       string
	gen         Generator
	maxAttempts int
	callTimeout time.Duration
	logger      *zap.Logger
}

// NewWrapper builds a reliability wrapper for one stage.
func NewWrapper(stage string, gen Generator, maxAttempts int, callTimeout time.Duration, logger *zap.Logger) *Wrapper {
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	return &Wrapper{
		stage:       stage,
		gen:         gen,
		maxAttempts: maxAttempts,
		callTimeout: callTimeout,
		logger:      logger.Named("reliability").With(zap.String("stage", stage)),
	}
}

// Invoke calls the generator, validating each response against the schema.
// On exhaustion it returns fallback() marked degraded with exactly one
// warning; the pipeline always proceeds.
func (w *Wrapper) Invoke(ctx context.Context, schema Schema, systemPrompt, userInput string, fallback func() []byte) Outcome {
	for attempt := 0; attempt < w.maxAttempts; attempt++ {
		if ctx.Err() != nil {
			// Turn budget exhausted; stop retrying and degrade.
			break
		}

		temperature := attemptTemperatures[min(attempt, len(attemptTemperatures)-1)]
		status, payload := w.attempt(ctx, schema, systemPrompt, userInput, temperature)
		attemptsTotal.WithLabelValues(w.stage, statusLabel(status)).Inc()

		switch status {
		case attemptOK:
			return Outcome{Payload: payload, Attempts: attempt + 1}
		case attemptTimeout:
			w.logger.Warn("Generation attempt timed out", zap.Int("attempt", attempt+1))
		case attemptInvalid:
			w.logger.Warn("Generation attempt failed validation", zap.Int("attempt", attempt+1))
		}
	}

	fallbackTotal.WithLabelValues(w.stage).Inc()
	w.logger.Warn("All generation attempts exhausted, using deterministic fallback")
	return Outcome{
		Payload:  fallback(),
		Degraded: true,
		Warning:  w.stage + "_fallback_used",
		Attempts: w.maxAttempts,
	}
}

func (w *Wrapper) attempt(ctx context.Context, schema Schema, systemPrompt, userInput string, temperature float64) (attemptStatus, []byte) {
	callCtx, cancel := context.WithTimeout(ctx, w.callTimeout)
	defer cancel()

	raw, err := w.gen.Generate(callCtx, systemPrompt, userInput, temperature)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || callCtx.Err() == context.DeadlineExceeded {
			return attemptTimeout, nil
		}
		// Transport and backend errors count toward the retry budget the same
		// as validation failures.
		return attemptInvalid, nil
	}

	payload := extractPayload(raw, schema)
	if err := schema.Validate(payload); err != nil {
		w.logger.Debug("Schema validation failed", zap.Error(err))
		return attemptInvalid, nil
	}
	return attemptOK, payload
}

func statusLabel(status attemptStatus) string {
	switch status {
	case attemptOK:
		return "ok"
	case attemptTimeout:
		return "timeout"
	default:
		return "invalid"
	}
}

// aiGenerator adapts an ai.Client to the Generator capability.
type aiGenerator struct {
	client    ai.Client
	maxTokens int
}

// NewAIGenerator wraps an AI client as a stage Generator.
func NewAIGenerator(client ai.Client, maxTokens int) Generator {
	return &aiGenerator{client: client, maxTokens: maxTokens}
}

func (g *aiGenerator) Generate(ctx context.Context, systemPrompt, userInput string, temperature float64) (string, error) {
	params := ai.Params{Temperature: &temperature}
	if g.maxTokens > 0 {
		params.MaxTokens = &g.maxTokens
	}
	return g.client.GenerateText(ctx, systemPrompt, userInput, params)
}
