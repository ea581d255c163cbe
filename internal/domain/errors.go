package domain

import "errors"

// ErrInvalidEntityRef indicates that an actor or trackable reference is malformed.
var ErrInvalidEntityRef = errors.New("invalid entity reference")

// ErrInvalidCostEntry indicates that a cost log entry violates its invariants.
var ErrInvalidCostEntry = errors.New("invalid cost log entry")
