package router

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/invopop/jsonschema"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"smart-router/internal/models"
	"smart-router/internal/provider"
)

const classificationSchemaName = "query_classification"

const classificationPrompt = `Analyze the following user query and classify it as either 'TRIVIAL' or 'COMPLEX'.
- A 'TRIVIAL' query can be answered with a short, factual statement, a simple definition, or a quick calculation. Examples: "What is the capital of France?", "How many feet are in a mile?".
- A 'COMPLEX' query requires in-depth explanation, creative generation, multi-step reasoning, or analysis of a nuanced topic. Examples: "Explain the theory of relativity in simple terms", "Write a short story about a robot who discovers music".

Respond ONLY with a JSON object. Do not add any other text or markdown formatting.

Query: "%s"`

// classificationResult is the object the classifier model must return.
type classificationResult struct {
	Classification models.Classification `json:"classification" jsonschema:"enum=TRIVIAL,enum=COMPLEX"`
}

// Cache memoises classifications by query text.
type Cache interface {
	Get(ctx context.Context, query string) (models.Classification, bool, error)
	Set(ctx context.Context, query string, c models.Classification) error
}

// Classifier labels queries using a schema-constrained model call.
type Classifier struct {
	registry *provider.Registry
	model    string
	cache    Cache
	schema   *jsonschema.Schema
}

// NewClassifier builds a classifier that asks model for a label. cache may be nil.
func NewClassifier(registry *provider.Registry, model string, cache Cache) *Classifier {
	return &Classifier{
		registry: registry,
		model:    model,
		cache:    cache,
		schema:   classificationSchema(),
	}
}

func classificationSchema() *jsonschema.Schema {
	reflector := jsonschema.Reflector{
		DoNotReference: true,
		ExpandedStruct: true,
		Anonymous:      true,
	}
	schema := reflector.Reflect(&classificationResult{})
	schema.Version = ""
	return schema
}

// Classify never fails: any provider or decoding error resolves to COMPLEX.
func (c *Classifier) Classify(ctx context.Context, query string) models.Classification {
	ctx, span := tracer.Start(ctx, "router.classify")
	defer span.End()

	if c.cache != nil {
		cached, ok, err := c.cache.Get(ctx, query)
		switch {
		case err != nil:
			log.Warn().Err(err).Msg("classification cache lookup failed")
		case ok:
			span.SetAttributes(attribute.String("classification", cached.String()), attribute.Bool("cache_hit", true))
			return cached
		}
	}

	classification, err := c.classify(ctx, query)
	if err != nil {
		log.Warn().Err(err).Str("model", c.model).Msg("classification failed, defaulting to COMPLEX")
		span.RecordError(err)
		span.SetStatus(codes.Error, "classification failed")
		span.SetAttributes(attribute.String("classification", models.ClassificationComplex.String()))
		return models.ClassificationComplex
	}

	span.SetAttributes(attribute.String("classification", classification.String()))

	if c.cache != nil {
		if err := c.cache.Set(ctx, query, classification); err != nil {
			log.Warn().Err(err).Msg("classification cache store failed")
		}
	}
	return classification
}

func (c *Classifier) classify(ctx context.Context, query string) (models.Classification, error) {
	modelInfo, providerImpl, err := c.registry.LookupModel(c.model)
	if err != nil {
		return "", err
	}

	raw, err := providerImpl.GenerateStructured(ctx, provider.StructuredRequest{
		Model:      modelInfo.ID,
		Prompt:     fmt.Sprintf(classificationPrompt, query),
		SchemaName: classificationSchemaName,
		Schema:     c.schema,
	})
	if err != nil {
		return "", fmt.Errorf("provider %s classification request: %w", providerImpl.Name(), err)
	}

	return decodeClassification(raw)
}

func decodeClassification(raw string) (models.Classification, error) {
	var result classificationResult
	if err := json.Unmarshal([]byte(strings.TrimSpace(raw)), &result); err != nil {
		return "", fmt.Errorf("decode classification: %w", err)
	}
	if !result.Classification.Valid() {
		return "", fmt.Errorf("unexpected classification %q", result.Classification)
	}
	return result.Classification, nil
}
