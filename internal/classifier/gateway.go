package classifier

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/sony/gobreaker"

	"github.com/tofagerl/mailmind/internal/metrics"
	"github.com/tofagerl/mailmind/internal/parser"
	"github.com/tofagerl/mailmind/pkg/models"
)

// GatewayConfig configures the classification gateway
type GatewayConfig struct {
	MaxBatch int           // Largest batch sent in one oracle call
	Timeout  time.Duration // Bound on each oracle call

	// Breaker opens after this many consecutive oracle failures
	BreakerFailures uint32
	BreakerCooldown time.Duration
}

// Gateway classifies message batches through an oracle. It never fails:
// anything it cannot classify gets the default category.
type Gateway struct {
	oracle  Oracle
	breaker *gobreaker.CircuitBreaker
	text    *parser.HTMLParser
	cfg     GatewayConfig
	logger  *slog.Logger
}

// NewGateway creates a new classification gateway
func NewGateway(oracle Oracle, cfg GatewayConfig, text *parser.HTMLParser, logger *slog.Logger) *Gateway {
	if cfg.MaxBatch < 1 {
		cfg.MaxBatch = 10
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	if cfg.BreakerFailures == 0 {
		cfg.BreakerFailures = 5
	}
	if cfg.BreakerCooldown <= 0 {
		cfg.BreakerCooldown = 60 * time.Second
	}

	logger = logger.With("component", "classifier", "provider", oracle.Name())

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "oracle",
		MaxRequests: 1,
		Timeout:     cfg.BreakerCooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.BreakerFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("oracle circuit breaker state changed", "from", from.String(), "to", to.String())
		},
		// Our own cancellation says nothing about the oracle's health
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled)
		},
	})

	return &Gateway{
		oracle:  oracle,
		breaker: breaker,
		text:    text,
		cfg:     cfg,
		logger:  logger,
	}
}

// Classify returns exactly one result per message, in order. Batches over
// MaxBatch are sent as sequential sub-batches.
func (g *Gateway) Classify(ctx context.Context, batch []*models.Message, set *models.CategorySet) []models.Classification {
	results := make([]models.Classification, 0, len(batch))
	for start := 0; start < len(batch); start += g.cfg.MaxBatch {
		end := start + g.cfg.MaxBatch
		if end > len(batch) {
			end = len(batch)
		}
		results = append(results, g.classifyChunk(ctx, batch[start:end], set)...)
	}
	return results
}

func (g *Gateway) classifyChunk(ctx context.Context, chunk []*models.Message, set *models.CategorySet) (results []models.Classification) {
	defer func() {
		if r := recover(); r != nil {
			g.logger.Error("classification panicked", "panic", r)
			results = g.failAll(chunk, set, fmt.Errorf("panic: %v", r))
		}
	}()

	prompt := BuildPrompt(chunk, set, g.text)

	callCtx, cancel := context.WithTimeout(ctx, g.cfg.Timeout)
	defer cancel()

	start := time.Now()
	out, err := g.breaker.Execute(func() (interface{}, error) {
		return g.oracle.Complete(callCtx, prompt)
	})
	if err != nil {
		metrics.RecordOracleCall(g.oracle.Name(), "error", time.Since(start))
		return g.failAll(chunk, set, err)
	}
	metrics.RecordOracleCall(g.oracle.Name(), "ok", time.Since(start))

	text, _ := out.(string)
	results = parseResponse(text, len(chunk), set)

	for i, r := range results {
		g.logger.Debug("classified message",
			"subject", chunk[i].Subject,
			"category", r.Category.Name,
			"confidence", r.Confidence,
			"reasoning", r.Reasoning,
		)
	}
	return results
}

// failAll defaults a chunk after the oracle call itself failed
func (g *Gateway) failAll(chunk []*models.Message, set *models.CategorySet, err error) []models.Classification {
	cerr := &models.ClassificationError{Reason: ReasonOracle, Err: err}
	g.logger.Warn("oracle call failed, using default category", "batch", len(chunk), "error", cerr)

	results := make([]models.Classification, len(chunk))
	for i := range results {
		results[i] = fallback(set, cerr.Error(), "oracle")
		results[i].Failed = true
	}
	return results
}
