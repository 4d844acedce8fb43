// Package runid mints crawl run identifiers.
package runid

import (
	"fmt"

	"github.com/google/uuid"
)

// Generator creates time-ordered run IDs, so runs sort by start time in logs
// and announcement consumers.
type Generator struct {
	newV7 func() (uuid.UUID, error)
}

// New creates a Generator backed by UUIDv7.
func New() *Generator {
	return &Generator{newV7: uuid.NewV7}
}

// Next returns a new run ID.
func (g *Generator) Next() (string, error) {
	id, err := g.newV7()
	if err != nil {
		return "", fmt.Errorf("generate uuid7: %w", err)
	}
	return id.String(), nil
}

// Resolve returns explicit when set, otherwise a fresh ID.
func (g *Generator) Resolve(explicit string) (string, error) {
	if explicit != "" {
		return explicit, nil
	}
	return g.Next()
}
