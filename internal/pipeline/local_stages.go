package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"
)

// Output describes one persisted render.
type Output struct {
	Key    string
	Format string
	Bytes  int
	Width  int
	Height int
}

// Emitter persists a finished render for a job.
type Emitter interface {
	Emit(ctx context.Context, jobID string, result Result) (Output, error)
}

// DirFetcher serves assets from a directory on local disk. Keys are resolved
// relative to Root and cannot escape it.
type DirFetcher struct {
	Root string
}

func (f DirFetcher) Fetch(ctx context.Context, key string) ([]byte, error) {
	if strings.TrimSpace(f.Root) == "" {
		return nil, fmt.Errorf("%w: asset directory is not configured", ErrTransport)
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	full := filepath.Join(f.Root, filepath.FromSlash(cleanKey(key)))
	data, err := os.ReadFile(full)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, &NotFoundError{Key: key}
		}
		return nil, fmt.Errorf("%w: read %s: %v", ErrTransport, key, err)
	}
	return data, nil
}

// DirEmitter writes renders under OutputDir/<prefix>/<job>.<ext>.
type DirEmitter struct {
	OutputDir    string
	OutputPrefix string
}

func (e DirEmitter) Emit(_ context.Context, jobID string, result Result) (Output, error) {
	if strings.TrimSpace(e.OutputDir) == "" {
		return Output{}, fmt.Errorf("%w: output directory is required", ErrProcessing)
	}

	key := outputKey(e.OutputPrefix, jobID, result)
	full := filepath.Join(e.OutputDir, filepath.FromSlash(key))
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return Output{}, fmt.Errorf("%w: create output dir: %w", ErrTransport, err)
	}
	if err := os.WriteFile(full, result.Data, 0o644); err != nil {
		return Output{}, fmt.Errorf("%w: write output file: %w", ErrTransport, err)
	}
	return newOutput(key, result), nil
}

func cleanKey(key string) string {
	return strings.TrimPrefix(path.Clean("/"+key), "/")
}

func outputKey(prefix, jobID string, result Result) string {
	return path.Join(
		defaultOutputPrefix(prefix),
		fmt.Sprintf("%s.%s", sanitizePathToken(jobID), result.Format),
	)
}

func newOutput(key string, result Result) Output {
	return Output{
		Key:    key,
		Format: result.Format.String(),
		Bytes:  len(result.Data),
		Width:  result.Width,
		Height: result.Height,
	}
}

func defaultOutputPrefix(prefix string) string {
	prefix = strings.Trim(strings.TrimSpace(prefix), "/")
	if prefix == "" {
		return "renders"
	}
	return prefix
}

func sanitizePathToken(in string) string {
	in = strings.TrimSpace(in)
	if in == "" {
		return "unknown"
	}

	var b strings.Builder
	b.Grow(len(in))
	for _, r := range in {
		switch {
		case r >= 'a' && r <= 'z':
			b.WriteRune(r)
		case r >= 'A' && r <= 'Z':
			b.WriteRune(r)
		case r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '-' || r == '_':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	return b.String()
}
