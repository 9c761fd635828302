package source

import (
	"fmt"
	"net/url"
	"path/filepath"
	"strings"
)

// Resolver resolves source references against a working directory, which may
// itself be an http(s) base URL.
type Resolver struct {
	Dir string
}

// Resolve returns the concrete path or URL of ref. URLs and absolute paths are
// returned unchanged.
func (r Resolver) Resolve(ref string) (string, error) {
	if ref == "" {
		return "", fmt.Errorf("empty source reference")
	}
	if IsURL(ref) || filepath.IsAbs(ref) {
		return ref, nil
	}
	if IsURL(r.Dir) {
		base, err := url.Parse(dirURL(r.Dir))
		if err != nil {
			return "", fmt.Errorf("failed to parse base URL '%s': %w", r.Dir, err)
		}
		return resolveURL(base, ref)
	}
	return filepath.Join(r.Dir, ref), nil
}

// dirURL makes sure a base URL names a directory so the last path element is
// kept during resolution.
func dirURL(dir string) string {
	if strings.HasSuffix(dir, "/") {
		return dir
	}
	return dir + "/"
}

// resolveURL resolves a path against a base URL, handling potential errors.
func resolveURL(base *url.URL, path string) (string, error) {
	resolvedPath, err := url.Parse(path)
	if err != nil {
		return "", fmt.Errorf("failed to parse path '%s': %w", path, err)
	}
	return base.ResolveReference(resolvedPath).String(), nil
}
