// Package ratelimit enforces per-key request budgets, either in process or
// shared across replicas through Redis.
package ratelimit

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Limiter decides whether one more request for key fits in the budget.
type Limiter interface {
	Allow(ctx context.Context, key string) (bool, error)
}

// Policy is a budget of Limit requests per Window.
type Policy struct {
	Name   string
	Limit  int
	Window time.Duration
}

var (
	rejections = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "promptbase_rate_limit_rejections_total",
		Help: "Requests rejected by a rate limit policy.",
	}, []string{"policy"})

	backendErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "promptbase_rate_limit_backend_errors_total",
		Help: "Rate limit checks that fell back because the shared store failed.",
	}, []string{"policy"})
)
