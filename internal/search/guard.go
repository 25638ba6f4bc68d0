package search

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/blueberrycongee/dinescout/internal/metrics"
	"github.com/blueberrycongee/dinescout/internal/observability"
	"github.com/blueberrycongee/dinescout/internal/resilience"
	"github.com/blueberrycongee/dinescout/pkg/types"
)

// GuardedProvider applies a rate limiter and a circuit breaker around a provider.
type GuardedProvider struct {
	inner   Provider
	limiter resilience.Limiter
	breaker *resilience.CircuitBreaker
	logger  *slog.Logger
}

// NewGuardedProvider wraps inner. A nil limiter or breaker disables that guard.
func NewGuardedProvider(inner Provider, limiter resilience.Limiter, breaker *resilience.CircuitBreaker, logger *slog.Logger) *GuardedProvider {
	if logger == nil {
		logger = slog.Default()
	}
	if breaker != nil {
		breaker.OnStateChange(func(name string, from, to resilience.CircuitState) {
			logger.Warn("places circuit changed state", "breaker", name, "from", from.String(), "to", to.String())
		})
	}
	return &GuardedProvider{inner: inner, limiter: limiter, breaker: breaker, logger: logger}
}

// Search implements Provider.
func (g *GuardedProvider) Search(ctx context.Context, q types.SearchQuery) (page types.PlacesPage, err error) {
	ctx, span := observability.StartSpan(ctx, "places.search", trace.SpanKindClient,
		attribute.String("places.query", q.Text))
	defer func() {
		span.SetAttributes(attribute.Int("places.results", len(page.Restaurants)))
		observability.EndSpan(span, err)
	}()

	if g.limiter != nil {
		if err := g.limiter.Wait(ctx); err != nil {
			var rle *resilience.RateLimitError
			if errors.As(err, &rle) {
				metrics.ProviderRequests.WithLabelValues("rate_limited").Inc()
				return types.PlacesPage{}, fmt.Errorf("%w: %w", ErrProviderUnavailable, err)
			}
			return types.PlacesPage{}, err
		}
	}

	call := func(ctx context.Context) error {
		var callErr error
		page, callErr = g.inner.Search(ctx, q)
		return callErr
	}

	if g.breaker != nil {
		err = g.breaker.Do(ctx, call, countsAgainstProvider)
	} else {
		err = call(ctx)
	}

	switch {
	case errors.Is(err, resilience.ErrCircuitOpen):
		metrics.ProviderRequests.WithLabelValues("circuit_open").Inc()
		return types.PlacesPage{}, fmt.Errorf("%w: %w", ErrProviderUnavailable, err)
	case err != nil:
		metrics.ProviderRequests.WithLabelValues("error").Inc()
		return types.PlacesPage{}, err
	default:
		metrics.ProviderRequests.WithLabelValues("success").Inc()
		return page, nil
	}
}

// countsAgainstProvider reports whether err says the provider is unhealthy.
func countsAgainstProvider(err error) bool {
	if errors.Is(err, context.Canceled) {
		return false
	}
	var se *StatusError
	if errors.As(err, &se) {
		return se.Retryable()
	}
	return true
}
