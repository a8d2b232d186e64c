package extraction

import "errors"

var (
	// ErrEmptyDocument is returned for a request with no document text.
	ErrEmptyDocument = errors.New("extraction: empty document")

	// ErrDocumentTooLarge is returned when a document exceeds the
	// configured hard cap.
	ErrDocumentTooLarge = errors.New("extraction: document exceeds size limit")

	// ErrUnknownStrategy is returned for an unrecognized strategy
	// override. Never a silent fallback.
	ErrUnknownStrategy = errors.New("extraction: unknown strategy")

	// ErrExtractionFailed is returned when every extraction unit failed
	// and no entities could be produced.
	ErrExtractionFailed = errors.New("extraction: all extraction units failed")

	// ErrUnsupportedFormat is returned for unrecognized file formats.
	ErrUnsupportedFormat = errors.New("extraction: unsupported document format")

	// ErrRunNotFound is returned when a run ID does not exist.
	ErrRunNotFound = errors.New("extraction: run not found")

	// ErrInvalidConfig is returned for invalid configuration values.
	ErrInvalidConfig = errors.New("extraction: invalid configuration")
)
