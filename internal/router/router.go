package router

import (
	"context"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"

	"smart-router/internal/config"
	"smart-router/internal/models"
	"smart-router/internal/provider"
)

var tracer = otel.Tracer("smart-router/internal/router")

// Router classifies queries, selects a model and generates answers.
type Router struct {
	classifier *Classifier
	selector   Selector
	generator  *Generator
}

// Option customises a Router.
type Option func(*options)

type options struct {
	cache Cache
}

// WithCache memoises classifications in cache.
func WithCache(cache Cache) Option {
	return func(o *options) {
		o.cache = cache
	}
}

// New constructs a router backed by the provided registry.
func New(registry *provider.Registry, cfg config.RoutingConfig, opts ...Option) *Router {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	return &Router{
		classifier: NewClassifier(registry, cfg.ClassifierModel, o.cache),
		selector:   NewSelector(cfg),
		generator:  NewGenerator(registry),
	}
}

// Decide classifies query and selects the model that should answer it.
func (r *Router) Decide(ctx context.Context, query string) models.Route {
	classification := r.classifier.Classify(ctx, query)
	route := models.Route{
		Classification: classification,
		Model:          r.selector.Select(classification),
	}

	log.Info().
		Str("classification", route.Classification.String()).
		Str("model", route.Model).
		Msg("query routed")
	return route
}

// Answer generates the complete answer along the given route. On failure
// the returned SmartAnswer keeps the route and carries the error text.
func (r *Router) Answer(ctx context.Context, route models.Route, query string) (models.SmartAnswer, error) {
	result := models.SmartAnswer{
		Classification: route.Classification,
		ModelUsed:      route.Model,
	}

	answer, err := r.generator.Generate(ctx, route, query)
	if err != nil {
		result.Error = err.Error()
		return result, err
	}

	result.Answer = answer
	return result, nil
}

// Stream opens an answer stream along the given route. The caller must Close it.
func (r *Router) Stream(ctx context.Context, route models.Route, query string) (provider.Stream, error) {
	return r.generator.GenerateStream(ctx, route, query)
}

// SmartAnswer runs the whole pipeline for query in batch mode.
func (r *Router) SmartAnswer(ctx context.Context, query string) (models.SmartAnswer, error) {
	return r.Answer(ctx, r.Decide(ctx, query), query)
}
