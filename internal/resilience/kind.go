package resilience

import (
	"errors"
)

// Kind classifies a pipeline failure so operators can tell "nothing new
// today" apart from "the exchange is down" and "the source changed format".
type Kind string

const (
	KindNetwork Kind = "network" // listing page or file transfer
	KindParse   Kind = "parse"   // workbook decode, filename date
	KindStorage Kind = "storage" // schema bootstrap, bulk insert
	KindUnknown Kind = "unknown"
)

// KindError attaches a Kind to an error without changing its message.
type KindError struct {
	Kind Kind
	Err  error
}

func (e *KindError) Error() string {
	return e.Err.Error()
}

func (e *KindError) Unwrap() error {
	return e.Err
}

// WithKind tags err with kind. A nil err stays nil.
func WithKind(kind Kind, err error) error {
	if err == nil {
		return nil
	}
	return &KindError{Kind: kind, Err: err}
}

// KindOf returns the outermost Kind found in err's chain. Untagged errors
// that IsTransient accepts are KindNetwork; anything else is KindUnknown.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var ke *KindError
	if errors.As(err, &ke) {
		return ke.Kind
	}
	if IsTransient(err) {
		return KindNetwork
	}
	return KindUnknown
}
