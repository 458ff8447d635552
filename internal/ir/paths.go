package ir

import (
	"fmt"
	"strings"
)

// CanonicalPath validates and canonicalizes an endpoint path against the
// single placeholder grammar: '/'-separated segments, placeholders written
// {name}, never unbalanced, never nested.
func CanonicalPath(path string) (string, error) {
	if path == "" || !strings.HasPrefix(path, "/") {
		return "", fmt.Errorf("path must start with '/': %q", path)
	}

	segments := strings.Split(strings.TrimSuffix(path, "/"), "/")
	out := make([]string, 0, len(segments))
	for _, seg := range segments {
		if seg == "" {
			continue
		}
		open := strings.Count(seg, "{")
		closed := strings.Count(seg, "}")
		if open != closed {
			return "", fmt.Errorf("unbalanced placeholder in path segment %q", seg)
		}
		if open > 1 {
			return "", fmt.Errorf("multiple placeholders in path segment %q", seg)
		}
		if open == 1 {
			if !strings.HasPrefix(seg, "{") || !strings.HasSuffix(seg, "}") {
				return "", fmt.Errorf("placeholder must span the whole segment: %q", seg)
			}
			name := seg[1 : len(seg)-1]
			if name == "" {
				return "", fmt.Errorf("empty placeholder in path %q", path)
			}
		}
		out = append(out, strings.ToLower(seg))
	}
	if len(out) == 0 {
		return "/", nil
	}
	return "/" + strings.Join(out, "/"), nil
}

// NormalizePathShape replaces every placeholder with '*' so two paths that
// differ only in placeholder names compare equal.
func NormalizePathShape(path string) string {
	segments := strings.Split(path, "/")
	for i, seg := range segments {
		if strings.HasPrefix(seg, "{") && strings.HasSuffix(seg, "}") {
			segments[i] = "*"
		}
	}
	return strings.ToLower(strings.Join(segments, "/"))
}

// SamePathShape reports whether two canonical paths match method-independent
// shape (placeholder names tolerated).
func SamePathShape(a, b string) bool {
	return NormalizePathShape(a) == NormalizePathShape(b)
}
