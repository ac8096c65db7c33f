package databuild

import "errors"

var (
	// ErrNotFound is returned when a requested path's source resource
	// is not in the project snapshot. Run a source pull first.
	ErrNotFound = errors.New("resource not found")

	// ErrNothingToCompile is returned when the requested path is a
	// bare source resource with no transforms.
	ErrNothingToCompile = errors.New("path has no transforms to compile")

	// ErrCircularDependency is returned when the resource dependency
	// graph has a cycle. The error message carries the cycle path.
	ErrCircularDependency = errors.New("circular resource dependency")

	// ErrOutputNotPresent is returned when a compiler exits
	// successfully but its outputs do not include the declared output
	// type.
	ErrOutputNotPresent = errors.New("compiler output not present in results")

	// ErrLinkFailed is returned when a compiled resource cannot be
	// assembled into a runtime asset, typically because its payload
	// is missing from the content store.
	ErrLinkFailed = errors.New("linking compiled resource failed")
)
