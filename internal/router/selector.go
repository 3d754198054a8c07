package router

import (
	"smart-router/internal/config"
	"smart-router/internal/models"
)

// Selector maps a classification onto a configured model.
type Selector struct {
	fast    string
	capable string
}

// NewSelector builds a selector from the routing configuration.
func NewSelector(cfg config.RoutingConfig) Selector {
	return Selector{fast: cfg.FastModel, capable: cfg.CapableModel}
}

// Select returns the fast model for TRIVIAL and the capable model otherwise.
func (s Selector) Select(c models.Classification) string {
	if c == models.ClassificationTrivial {
		return s.fast
	}
	return s.capable
}
