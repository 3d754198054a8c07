package gemini

import (
	"errors"
	"fmt"
	"strings"

	"github.com/invopop/jsonschema"
)

// schema is the OpenAPI subset Gemini accepts as responseSchema.
type schema struct {
	Type             string             `json:"type"`
	Description      string             `json:"description,omitempty"`
	Enum             []string           `json:"enum,omitempty"`
	Properties       map[string]*schema `json:"properties,omitempty"`
	PropertyOrdering []string           `json:"propertyOrdering,omitempty"`
	Required         []string           `json:"required,omitempty"`
	Items            *schema            `json:"items,omitempty"`
}

// convertSchema maps a reflected JSON schema onto Gemini's responseSchema.
func convertSchema(in *jsonschema.Schema) (*schema, error) {
	if in == nil {
		return nil, errors.New("schema must not be nil")
	}
	if in.Type == "" {
		return nil, errors.New("schema type must be set")
	}

	out := &schema{
		Type:        strings.ToUpper(in.Type),
		Description: in.Description,
		Required:    in.Required,
	}

	for _, value := range in.Enum {
		s, ok := value.(string)
		if !ok {
			return nil, fmt.Errorf("enum value %v is not a string", value)
		}
		out.Enum = append(out.Enum, s)
	}

	if in.Properties != nil && in.Properties.Len() > 0 {
		out.Properties = make(map[string]*schema, in.Properties.Len())
		for pair := in.Properties.Oldest(); pair != nil; pair = pair.Next() {
			prop, err := convertSchema(pair.Value)
			if err != nil {
				return nil, fmt.Errorf("property %q: %w", pair.Key, err)
			}
			out.Properties[pair.Key] = prop
			out.PropertyOrdering = append(out.PropertyOrdering, pair.Key)
		}
	}

	if in.Items != nil {
		items, err := convertSchema(in.Items)
		if err != nil {
			return nil, fmt.Errorf("items: %w", err)
		}
		out.Items = items
	}

	return out, nil
}
