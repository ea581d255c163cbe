// Package domain holds the value types shared by the LLM orchestration core,
// the grading pipeline and the storage adapters.
package domain

import (
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

// validate checks the struct tags on EntityRef and CostLogEntry.
var validate = validator.New(validator.WithRequiredStructEnabled())

// EntityRef points at a domain object owned outside this module, such as the
// user who triggered a request (actor) or the submission it grades (trackable).
type EntityRef struct {
	Type string `json:"type" validate:"required"`
	ID   string `json:"id" validate:"required"`
}

// NewEntityRef builds a reference, returning nil when either part is blank so
// that optional references stay absent instead of becoming half-filled.
func NewEntityRef(entityType, id string) *EntityRef {
	if strings.TrimSpace(entityType) == "" || strings.TrimSpace(id) == "" {
		return nil
	}
	return &EntityRef{Type: entityType, ID: id}
}

// String renders the reference as "type:id", or "" for a nil reference.
func (r *EntityRef) String() string {
	if r == nil {
		return ""
	}
	return r.Type + ":" + r.ID
}

// Validate checks that both parts are present.
func (r *EntityRef) Validate() error {
	if r == nil {
		return nil
	}
	if err := validate.Struct(r); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidEntityRef, err)
	}
	return nil
}

// ParseEntityRef is the inverse of String. An empty string yields nil.
func ParseEntityRef(s string) (*EntityRef, error) {
	if s == "" {
		return nil, nil
	}
	entityType, id, ok := strings.Cut(s, ":")
	if !ok || entityType == "" || id == "" {
		return nil, fmt.Errorf("%w: %q", ErrInvalidEntityRef, s)
	}
	return &EntityRef{Type: entityType, ID: id}, nil
}
