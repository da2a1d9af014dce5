package update

import "errors"

var (
	// ErrConfiguration means a required remote location or platform identity is missing.
	ErrConfiguration = errors.New("configuration error")
	// ErrNetwork covers transport failures and non-success HTTP responses.
	ErrNetwork = errors.New("network error")
	// ErrParse covers malformed version timestamps and release tags.
	ErrParse = errors.New("parse error")
	// ErrFilesystem covers local read and write failures.
	ErrFilesystem = errors.New("filesystem error")
	// ErrProcess covers a failed or timed out external apply operation.
	ErrProcess = errors.New("process error")
)

var (
	// ErrUnknownPlatform is returned when the installed image name maps to no known platform.
	ErrUnknownPlatform = wrap(ErrConfiguration, "unknown platform")
	// ErrMissingURL is returned when an operation needs a remote location that is not configured.
	ErrMissingURL = wrap(ErrConfiguration, "remote location is not configured")
	// ErrInvalidTag is returned for a release tag of the wrong shape.
	ErrInvalidTag = wrap(ErrParse, "invalid release tag")
	// ErrNoArtifacts is returned when a remote listing has no matching artifact.
	ErrNoArtifacts = wrap(ErrNetwork, "no matching artifacts")
	// ErrNoRelease is returned when no release exists for the requested channel.
	ErrNoRelease = wrap(ErrNetwork, "no release for channel")
	// ErrBadStatus is returned for a non-success HTTP status.
	ErrBadStatus = wrap(ErrNetwork, "unexpected http status")
	// ErrInvalidContent is returned when a fetched resource is a listing page or of the wrong type.
	ErrInvalidContent = wrap(ErrNetwork, "invalid content")
	// ErrTimeout is returned when the external apply operation exceeds its deadline.
	ErrTimeout = wrap(ErrProcess, "operation timed out")
	// ErrExitStatus is returned when the external apply operation exits non-zero.
	ErrExitStatus = wrap(ErrProcess, "operation exited with error")
)

// categorized keeps a narrow error matchable against its category.
type categorized struct {
	category error
	message  string
}

func wrap(category error, message string) error {
	return &categorized{category: category, message: message}
}

func (e *categorized) Error() string {
	return e.message
}

func (e *categorized) Unwrap() error {
	return e.category
}
