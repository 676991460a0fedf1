package derivative

import (
	"errors"
	"strings"
)

var (
	// ErrNotFound means the source file is missing, unreadable or not a
	// regular file under the asset root.
	ErrNotFound = errors.New("source image not found")
	// ErrDecode means the source exists but is not a decodable image.
	ErrDecode = errors.New("source image cannot be decoded")
	// ErrWrite means one or more derivatives could not be written.
	ErrWrite = errors.New("derivative write failed")
	// ErrLayout means the asset root is missing or its output directories
	// cannot be created. It is fatal for a whole run.
	ErrLayout = errors.New("asset layout unavailable")
)

// SourceError reports a failure for one source image. It matches its Kind
// sentinel with errors.Is.
type SourceError struct {
	Op       string
	Filename string
	// Specs lists the specs that failed, for ErrWrite.
	Specs []string
	Kind  error
	Err   error
}

func (e *SourceError) Error() string {
	var b strings.Builder
	b.WriteString(e.Op)
	b.WriteString(": ")
	b.WriteString(e.Filename)
	if len(e.Specs) > 0 {
		b.WriteString(" [")
		b.WriteString(strings.Join(e.Specs, ","))
		b.WriteString("]")
	}
	b.WriteString(": ")
	b.WriteString(e.Kind.Error())
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *SourceError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// KindOf returns a short label for the error kind, used in metrics and
// responses.
func KindOf(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrDecode):
		return "decode_error"
	case errors.Is(err, ErrWrite):
		return "write_error"
	case errors.Is(err, ErrLayout):
		return "layout_error"
	default:
		return "internal"
	}
}
