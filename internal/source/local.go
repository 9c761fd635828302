// Package source provides the FileReaders clips read metadata, cue points and
// audio through, and the resolution of source references to concrete paths.
package source

import (
	"context"
	"fmt"
	"os"
	"strings"

	"segclip/internal/audio"
)

// Local reads files from the local filesystem.
type Local struct{}

func (Local) ReadFile(ctx context.Context, path string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(strings.TrimPrefix(path, "file://"))
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return data, nil
}

// Mux sends http and https URLs to Remote and everything else to Local.
type Mux struct {
	Local  audio.FileReader
	Remote audio.FileReader
}

func (m Mux) ReadFile(ctx context.Context, path string) ([]byte, error) {
	if IsURL(path) {
		if m.Remote == nil {
			return nil, fmt.Errorf("no remote reader configured for %s", path)
		}
		return m.Remote.ReadFile(ctx, path)
	}
	return m.Local.ReadFile(ctx, path)
}

// IsURL reports whether ref is an http or https URL.
func IsURL(ref string) bool {
	return strings.HasPrefix(ref, "http://") || strings.HasPrefix(ref, "https://")
}
