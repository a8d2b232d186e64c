// Package docload loads document files into plain text for extraction.
// Loaders are registered per file format; all of them flatten their
// input to a single text string, preserving headings and paragraph
// breaks so downstream structure detection keeps working.
package docload

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
)

// ErrUnknownFormat is returned when no loader is registered for a
// file's format.
var ErrUnknownFormat = errors.New("docload: unknown format")

// Loader reads one document format into plain text.
type Loader interface {
	Formats() []string
	Load(ctx context.Context, path string) (string, error)
}

// Registry maps file formats to loaders.
type Registry struct {
	loaders map[string]Loader
}

// NewRegistry returns a Registry with the built-in loaders registered.
func NewRegistry() *Registry {
	r := &Registry{loaders: make(map[string]Loader)}
	for _, l := range []Loader{
		&TextLoader{},
		&PDFLoader{},
		&DOCXLoader{},
		&XLSXLoader{},
		&HTMLLoader{},
	} {
		for _, f := range l.Formats() {
			r.loaders[f] = l
		}
	}
	return r
}

// Register adds or replaces the loader for a format.
func (r *Registry) Register(format string, l Loader) {
	r.loaders[strings.ToLower(format)] = l
}

// Get returns the loader for a format.
func (r *Registry) Get(format string) (Loader, error) {
	l, ok := r.loaders[strings.ToLower(format)]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownFormat, format)
	}
	return l, nil
}

// Formats returns the registered formats.
func (r *Registry) Formats() []string {
	out := make([]string, 0, len(r.loaders))
	for f := range r.loaders {
		out = append(out, f)
	}
	return out
}

// LoadFile dispatches on the path's extension and loads it.
func (r *Registry) LoadFile(ctx context.Context, path string) (string, error) {
	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(path)), ".")
	if ext == "" {
		return "", fmt.Errorf("%w: cannot determine format of %s", ErrUnknownFormat, path)
	}
	l, err := r.Get(ext)
	if err != nil {
		return "", err
	}
	text, err := l.Load(ctx, path)
	if err != nil {
		return "", fmt.Errorf("loading %s: %w", path, err)
	}
	return text, nil
}
