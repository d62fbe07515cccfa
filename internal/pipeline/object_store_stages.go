package pipeline

import (
	"context"
	"errors"
	"fmt"

	"github.com/dunamismax/pixelmark/internal/storage"
)

type ObjectReader interface {
	ReadObject(ctx context.Context, key string) ([]byte, error)
}

type ObjectWriter interface {
	WriteObject(ctx context.Context, key string, data []byte, contentType string) error
}

// ObjectStoreFetcher reads assets from the configured bucket.
type ObjectStoreFetcher struct {
	Storage ObjectReader
}

func (f ObjectStoreFetcher) Fetch(ctx context.Context, key string) ([]byte, error) {
	if f.Storage == nil {
		return nil, fmt.Errorf("%w: storage client is required", ErrTransport)
	}
	data, err := f.Storage.ReadObject(ctx, key)
	if err != nil {
		switch {
		case errors.Is(err, storage.ErrObjectNotFound):
			return nil, &NotFoundError{Key: key}
		case errors.Is(err, context.Canceled):
			return nil, err
		default:
			return nil, fmt.Errorf("%w: %w", ErrTransport, err)
		}
	}
	return data, nil
}

// ObjectStoreEmitter uploads renders to the bucket under OutputPrefix.
type ObjectStoreEmitter struct {
	Storage      ObjectWriter
	OutputPrefix string
}

func (e ObjectStoreEmitter) Emit(ctx context.Context, jobID string, result Result) (Output, error) {
	if e.Storage == nil {
		return Output{}, fmt.Errorf("%w: storage client is required", ErrProcessing)
	}

	key := outputKey(e.OutputPrefix, jobID, result)
	if err := e.Storage.WriteObject(ctx, key, result.Data, result.ContentType()); err != nil {
		return Output{}, fmt.Errorf("%w: %w", ErrTransport, err)
	}
	return newOutput(key, result), nil
}
