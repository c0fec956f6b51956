package cart

import "errors"

// Every error returned while loading a graph wraps ErrCannotLoad together with one of the
// more specific sentinels below, so callers may test for either.
var (
	ErrCannotLoad          = errors.New("cart: cannot load decision graph")
	ErrNotMaryFile         = errors.New("cart: not a MARY data file")
	ErrWrongVersion        = errors.New("cart: wrong version of data file")
	ErrUnknownFileType     = errors.New("cart: unknown file type")
	ErrUnknownNodeType     = errors.New("cart: unknown decision node type")
	ErrUnknownLeafType     = errors.New("cart: unknown or unsupported leaf type")
	ErrInconsistentCart    = errors.New("cart: inconsistent cart file")
	ErrReferenceOutOfRange = errors.New("cart: node reference out of range")
	ErrBracketMismatch     = errors.New("cart: bracket mismatch")
	ErrMalformedLine       = errors.New("cart: malformed tree line")
	ErrMalformedProperties = errors.New("cart: malformed property block")
)

// Evaluation and serialization errors.
var (
	ErrFeatureValueOutOfRange = errors.New("cart: feature value out of range")
	ErrNotATree               = errors.New("cart: graph cannot be written as a tree")
)
