package ingest

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
)

// ErrSourceNotAllowed is returned for request sources outside the policy.
var ErrSourceNotAllowed = errors.New("source not allowed")

// SourcePolicy decides which shard paths a remote caller may name. Allowed
// paths are accepted verbatim; other paths must resolve to a file below Root.
// A zero policy accepts nothing.
type SourcePolicy struct {
	allowed map[string]struct{}
	root    string
}

// NewSourcePolicy builds a policy from the configured sources and data root.
func NewSourcePolicy(allowed []string, root string) (*SourcePolicy, error) {
	p := &SourcePolicy{allowed: make(map[string]struct{}, len(allowed))}
	for _, path := range allowed {
		if path = strings.TrimSpace(path); path != "" {
			p.allowed[filepath.Clean(path)] = struct{}{}
		}
	}
	if root = strings.TrimSpace(root); root != "" {
		abs, err := filepath.Abs(root)
		if err != nil {
			return nil, fmt.Errorf("resolve data root %s: %w", root, err)
		}
		p.root = abs
	}
	return p, nil
}

// Resolve checks every path and returns them in the form handed to ingestion.
// Relative paths that are not configured sources are taken relative to Root.
func (p *SourcePolicy) Resolve(paths []string) ([]string, error) {
	out := make([]string, 0, len(paths))
	for _, path := range paths {
		resolved, err := p.resolve(path)
		if err != nil {
			return nil, err
		}
		out = append(out, resolved)
	}
	return out, nil
}

func (p *SourcePolicy) resolve(path string) (string, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return "", fmt.Errorf("%w: empty path", ErrSourceNotAllowed)
	}
	if p == nil {
		return "", fmt.Errorf("%w: %s", ErrSourceNotAllowed, path)
	}
	if _, ok := p.allowed[filepath.Clean(path)]; ok {
		return path, nil
	}
	if p.root == "" {
		return "", fmt.Errorf("%w: %s", ErrSourceNotAllowed, path)
	}
	candidate := path
	if !filepath.IsAbs(candidate) {
		candidate = filepath.Join(p.root, candidate)
	}
	candidate = filepath.Clean(candidate)
	rel, err := filepath.Rel(p.root, candidate)
	if err != nil || rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %s is outside the data root", ErrSourceNotAllowed, path)
	}
	return candidate, nil
}
