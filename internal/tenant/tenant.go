// Package tenant defines the opaque per-tenant schema handle that every data
// access path takes as an explicit argument. There is no ambient "current
// tenant" state anywhere in the service.
package tenant

import (
	"fmt"
	"regexp"
)

// Schema identifies one isolated data partition. It is treated as an opaque
// capability: code holding a Schema may only touch that tenant's data.
type Schema string

func (s Schema) String() string { return string(s) }

var schemaPattern = regexp.MustCompile(`^[a-z][a-z0-9_]{0,62}$`)

// Registry maps known schema names to handles. The upstream routing layer
// resolves an inbound request's origin to a schema; the registry only guards
// against handles that were never provisioned.
type Registry struct {
	known         map[Schema]struct{}
	defaultSchema Schema
}

// NewRegistry builds a registry from the configured schema list. defaultSchema
// is the fallback for correlation tokens that predate the schema segment.
func NewRegistry(defaultSchema string, schemas []string) (*Registry, error) {
	if !schemaPattern.MatchString(defaultSchema) {
		return nil, fmt.Errorf("invalid default schema %q", defaultSchema)
	}
	known := map[Schema]struct{}{Schema(defaultSchema): {}}
	for _, s := range schemas {
		if !schemaPattern.MatchString(s) {
			return nil, fmt.Errorf("invalid schema %q", s)
		}
		known[Schema(s)] = struct{}{}
	}
	return &Registry{known: known, defaultSchema: Schema(defaultSchema)}, nil
}

// Resolve returns the handle for name, or an error when the schema was never
// provisioned.
func (r *Registry) Resolve(name string) (Schema, error) {
	s := Schema(name)
	if _, ok := r.known[s]; !ok {
		return "", fmt.Errorf("unknown tenant schema %q", name)
	}
	return s, nil
}

// Default returns the fallback schema.
func (r *Registry) Default() Schema { return r.defaultSchema }

// All returns every provisioned schema, default included. Order is not
// defined.
func (r *Registry) All() []Schema {
	schemas := make([]Schema, 0, len(r.known))
	for s := range r.known {
		schemas = append(schemas, s)
	}
	return schemas
}
