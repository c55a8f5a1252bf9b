package gomiramon

import (
	"errors"
	"fmt"
)

// Sentinel errors
var (
	// ErrNotRecognized is returned when a path is not a MiraMon raster
	ErrNotRecognized = errors.New("not recognized as being in a supported format")

	// ErrSchema is returned when a REL document lacks mandatory metadata
	ErrSchema = errors.New("invalid MiraMon metadata")

	// ErrVersion is returned for REL documents older than REL4
	ErrVersion = errors.New("unsupported REL version")

	// ErrIO is returned when band data cannot be read or written
	ErrIO = errors.New("band i/o error")

	// ErrTransform is returned when coordinates cannot be transformed
	ErrTransform = errors.New("coordinate transform failed")

	// ErrReadOnly is returned when writing to a dataset opened read-only
	ErrReadOnly = errors.New("dataset is read-only")

	// ErrUnsupported is returned for valid but unhandled requests
	ErrUnsupported = errors.New("unsupported operation")
)

// FormatError reports a path no registered driver recognizes
type FormatError struct {
	Path string
}

func (e *FormatError) Error() string {
	return fmt.Sprintf("`%s' %s", e.Path, ErrNotRecognized.Error())
}

func (e *FormatError) Unwrap() error {
	return ErrNotRecognized
}

// SchemaError reports missing or invalid REL metadata
type SchemaError struct {
	Path    string
	Message string
}

func (e *SchemaError) Error() string {
	if e.Path == "" {
		return "MiraMonRaster: " + e.Message
	}
	return fmt.Sprintf("MiraMonRaster: %s: %s", e.Path, e.Message)
}

func (e *SchemaError) Unwrap() error {
	return ErrSchema
}

// VersionError reports a REL document below the minimum supported version
type VersionError struct {
	Path    string
	Found   string
	Minimum int
}

func (e *VersionError) Error() string {
	return fmt.Sprintf("MiraMonRaster: %s: version below minimum (found %q, need %d)", e.Path, e.Found, e.Minimum)
}

func (e *VersionError) Unwrap() error {
	return ErrVersion
}

// IOError reports a failed band read or write at a given offset
type IOError struct {
	Op     string
	Path   string
	Offset int64
	Err    error
}

func (e *IOError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("failed to %s %s at offset %d", e.Op, e.Path, e.Offset)
	}
	return fmt.Sprintf("failed to %s %s at offset %d: %v", e.Op, e.Path, e.Offset, e.Err)
}

func (e *IOError) Unwrap() error {
	return e.Err
}

// Is makes every IOError match ErrIO
func (e *IOError) Is(target error) bool {
	return target == ErrIO
}

func schemaErrorf(path, format string, args ...any) error {
	return &SchemaError{Path: path, Message: fmt.Sprintf(format, args...)}
}
