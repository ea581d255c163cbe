// Package transport defines the provider-agnostic request and response
// envelopes and the RequestClient contract every provider adapter satisfies.
package transport

import (
	"errors"
	"fmt"
	"maps"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/ahrav/go-grader/internal/domain"
	llmerrors "github.com/ahrav/go-grader/internal/llm/errors"
)

// Request defaults.
const (
	DefaultTemperature = 0.7
	DefaultMaxTokens   = 1000
	DefaultTopP        = 1.0
)

// Request is the normalized input for one logical model call.
// Treat it as immutable once handed to a client; RequestID is generated once
// by NewRequest and reused across retries.
type Request struct {
	Prompt       string            `json:"prompt" validate:"notblank"`
	SystemPrompt string            `json:"system_prompt,omitempty"`
	Model        string            `json:"model" validate:"notblank"`
	Kind         string            `json:"kind" validate:"notblank"`
	Temperature  float64           `json:"temperature" validate:"gte=0,lte=1"`
	MaxTokens    int               `json:"max_tokens" validate:"gt=0"`
	TopP         float64           `json:"top_p" validate:"gte=0,lte=1"`
	RequestID    string            `json:"request_id" validate:"required"`
	Metadata     map[string]any    `json:"metadata,omitempty"`
	Actor        *domain.EntityRef `json:"actor,omitempty"`
	Trackable    *domain.EntityRef `json:"trackable,omitempty"`
	Timeout      time.Duration     `json:"timeout,omitempty" validate:"gte=0"`
}

// RequestOption customizes a Request built by NewRequest.
type RequestOption func(*Request)

// WithTemperature overrides the sampling temperature.
func WithTemperature(t float64) RequestOption { return func(r *Request) { r.Temperature = t } }

// WithMaxTokens overrides the output token cap.
func WithMaxTokens(n int) RequestOption { return func(r *Request) { r.MaxTokens = n } }

// WithTopP overrides nucleus sampling.
func WithTopP(p float64) RequestOption { return func(r *Request) { r.TopP = p } }

// WithSystemPrompt sets the system instruction.
func WithSystemPrompt(s string) RequestOption { return func(r *Request) { r.SystemPrompt = s } }

// WithMetadata attaches an opaque metadata mapping (copied).
func WithMetadata(m map[string]any) RequestOption {
	return func(r *Request) { r.Metadata = maps.Clone(m) }
}

// WithActor records who or what triggered the request.
func WithActor(ref *domain.EntityRef) RequestOption { return func(r *Request) { r.Actor = ref } }

// WithTrackable records which domain object the request is for.
func WithTrackable(ref *domain.EntityRef) RequestOption {
	return func(r *Request) { r.Trackable = ref }
}

// WithTimeout bounds the provider call itself.
func WithTimeout(d time.Duration) RequestOption { return func(r *Request) { r.Timeout = d } }

// NewRequest builds a Request with documented defaults and a fresh request id.
func NewRequest(prompt, model, kind string, opts ...RequestOption) *Request {
	r := &Request{
		Prompt:      prompt,
		Model:       model,
		Kind:        kind,
		Temperature: DefaultTemperature,
		MaxTokens:   DefaultMaxTokens,
		TopP:        DefaultTopP,
		RequestID:   uuid.NewString(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Clone returns a copy whose metadata map is not shared with r.
func (r *Request) Clone() *Request {
	c := *r
	c.Metadata = maps.Clone(r.Metadata)
	return &c
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" || name == "" {
			return f.Name
		}
		return name
	})
	_ = v.RegisterValidation("notblank", func(fl validator.FieldLevel) bool {
		return strings.TrimSpace(fl.Field().String()) != ""
	})
	return v
}

// Validate enforces the request invariants, returning the first violation as
// a *llmerrors.ValidationError.
func (r *Request) Validate() error {
	if r == nil {
		return &llmerrors.ValidationError{Message: "request is nil"}
	}

	if err := validate.Struct(r); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
			fe := fieldErrs[0]
			return &llmerrors.ValidationError{
				Field:   fe.Field(),
				Value:   fe.Value(),
				Message: describeTag(fe),
			}
		}
		return &llmerrors.ValidationError{Message: err.Error()}
	}

	for _, ref := range []*domain.EntityRef{r.Actor, r.Trackable} {
		if err := ref.Validate(); err != nil {
			return &llmerrors.ValidationError{Field: "entity_ref", Value: ref.String(), Message: err.Error()}
		}
	}
	return nil
}

func describeTag(fe validator.FieldError) string {
	switch fe.Tag() {
	case "notblank", "required":
		return "is required"
	case "gt":
		return "must be greater than " + fe.Param()
	case "gte":
		return "must be at least " + fe.Param()
	case "lte":
		return "must be at most " + fe.Param()
	default:
		return fmt.Sprintf("failed %s=%s", fe.Tag(), fe.Param())
	}
}
