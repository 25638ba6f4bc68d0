package main

import (
	"net/http"

	"github.com/blueberrycongee/dinescout/internal/config"
	"github.com/blueberrycongee/dinescout/internal/metrics"
	"github.com/blueberrycongee/dinescout/internal/observability"
)

func buildMiddlewareStack(cfg *config.Config) (func(http.Handler) http.Handler, error) {
	if cfg == nil {
		return nil, errNilConfig
	}

	return func(next http.Handler) http.Handler {
		if next == nil {
			return nil
		}
		handler := next
		handler = metrics.Middleware(handler)
		handler = observability.RequestIDMiddleware(handler)
		handler = corsMiddleware(cfg.CORS, handler)
		return handler
	}, nil
}
