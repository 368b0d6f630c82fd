package llm

import (
	"context"

	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-datachat/pkg/retry"
)

// ResilientGenerator guards a Generator with a circuit breaker and retries
// transient provider failures.
type ResilientGenerator struct {
	inner   Generator
	breaker *CircuitBreaker
	retry   *retry.Config
	logger  *zap.Logger
}

var _ Generator = (*ResilientGenerator)(nil)

// NewResilientGenerator wraps inner. A nil retryCfg uses retry.DefaultConfig.
func NewResilientGenerator(inner Generator, breaker *CircuitBreaker, retryCfg *retry.Config, logger *zap.Logger) *ResilientGenerator {
	if retryCfg == nil {
		retryCfg = retry.DefaultConfig()
	}
	return &ResilientGenerator{
		inner:   inner,
		breaker: breaker,
		retry:   retryCfg,
		logger:  logger.Named("llm-resilient"),
	}
}

// Generate calls the wrapped generator when the breaker allows it. Every
// attempt, including retries, is recorded against the breaker.
func (g *ResilientGenerator) Generate(ctx context.Context, req GenerateRequest) (*GenerateResult, error) {
	var result *GenerateResult
	err := retry.DoIfRetryable(ctx, g.retry, func() error {
		if allowed, err := g.breaker.Allow(); !allowed {
			return err
		}
		res, err := g.inner.Generate(ctx, req)
		if err != nil {
			g.breaker.RecordFailure()
			g.logger.Warn("LLM call failed",
				zap.String("model", g.inner.Model()),
				zap.String("error_type", string(GetErrorType(err))),
				zap.String("circuit_state", g.breaker.State().String()),
				zap.Error(err))
			return err
		}
		g.breaker.RecordSuccess()
		result = res
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// Model returns the wrapped generator's model.
func (g *ResilientGenerator) Model() string {
	return g.inner.Model()
}

// Breaker exposes the breaker for health reporting.
func (g *ResilientGenerator) Breaker() *CircuitBreaker {
	return g.breaker
}
