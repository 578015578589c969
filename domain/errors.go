package domain

import "errors"

var (
	// ErrEmptyID is returned when an item or bucket has no identifier.
	ErrEmptyID = errors.New("empty id")
	// ErrDuplicateID is returned when an identifier is used twice, including
	// an item id that collides with a bucket id.
	ErrDuplicateID = errors.New("duplicate id")
	// ErrUnknownDefaultBucket indicates that the default bucket is not among
	// the bucket definitions.
	ErrUnknownDefaultBucket = errors.New("default bucket not defined")
	// ErrInvariant reports a bucket set in which an item is missing, unknown or
	// placed more than once.
	ErrInvariant = errors.New("bucket invariant violated")
)
