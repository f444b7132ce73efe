package kb

import "github.com/basilisk-ti/basilisk/errors"

// Domain sentinels. All are validation-class errors: surfaced to the caller
// unchanged and never retried.
var (
	// ErrInvalidContext indicates a context entry without a source field.
	ErrInvalidContext = errors.Wrap(errors.ErrValidation, "context requires a source")

	// ErrUnknownType indicates a value that matched no observable variant.
	ErrUnknownType = errors.Wrap(errors.ErrValidation, "unrecognized observable type")

	// ErrUnknownTag indicates a strict lookup for a tag that does not exist.
	// Tagging paths never return this; tags are auto-created on application.
	ErrUnknownTag = errors.Wrap(errors.ErrNotFound, "unknown tag")
)
