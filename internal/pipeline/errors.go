package pipeline

import (
	"context"
	"errors"
	"fmt"

	"github.com/dunamismax/pixelmark/internal/domain"
)

var (
	ErrInvalidSize    = domain.ErrInvalidSize
	ErrInvalidRequest = domain.ErrInvalidRequest

	ErrNotFound   = errors.New("asset not found")
	ErrDecode     = errors.New("decode image")
	ErrProcessing = errors.New("process image")
	ErrTransport  = errors.New("asset store unavailable")

	ErrUnsupportedFormat = fmt.Errorf("%w: unsupported output format", ErrProcessing)
)

// NotFoundError names the asset key that could not be found. It matches
// ErrNotFound with errors.Is.
type NotFoundError struct {
	Key string
	Err error
}

func (e *NotFoundError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("asset not found: %s: %v", e.Key, e.Err)
	}
	return "asset not found: " + e.Key
}

func (e *NotFoundError) Unwrap() error {
	if e.Err != nil {
		return e.Err
	}
	return ErrNotFound
}

// Kind is a stable, low-cardinality label for a pipeline failure.
type Kind string

const (
	KindNone           Kind = ""
	KindInvalidSize    Kind = "invalid_size"
	KindInvalidRequest Kind = "invalid_request"
	KindNotFound       Kind = "not_found"
	KindDecode         Kind = "decode"
	KindProcessing     Kind = "processing"
	KindTransport      Kind = "transport"
	KindCanceled       Kind = "canceled"
)

func KindOf(err error) Kind {
	switch {
	case err == nil:
		return KindNone
	case errors.Is(err, context.Canceled):
		return KindCanceled
	case errors.Is(err, context.DeadlineExceeded):
		return KindTransport
	case errors.Is(err, ErrInvalidSize):
		return KindInvalidSize
	case errors.Is(err, ErrInvalidRequest):
		return KindInvalidRequest
	case errors.Is(err, ErrNotFound):
		return KindNotFound
	case errors.Is(err, ErrDecode):
		return KindDecode
	case errors.Is(err, ErrTransport):
		return KindTransport
	default:
		return KindProcessing
	}
}

// Retryable reports whether running the same request again could succeed.
func Retryable(err error) bool {
	switch KindOf(err) {
	case KindTransport, KindCanceled:
		return true
	default:
		return false
	}
}

// asFetchError keeps transport classifications from a Fetcher, makes sure a
// not-found error carries the missing key and files anything unclassified
// under ErrTransport.
func asFetchError(key string, err error) error {
	var nf *NotFoundError
	switch {
	case errors.As(err, &nf):
		return err
	case errors.Is(err, ErrNotFound):
		return &NotFoundError{Key: key, Err: err}
	case errors.Is(err, ErrTransport), errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return err
	default:
		return fmt.Errorf("%w: fetch %s: %w", ErrTransport, key, err)
	}
}
