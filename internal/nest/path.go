package nest

import "strings"

// ParsePath normalizes a path into an ordered sequence of handles.
// It accepts either a string ("/a/b/c") or an already-parsed []string.
// Slices are copied so path operations never modify the caller's input.
// An empty string yields an empty sequence, addressing the root scope.
func ParsePath(path any) []string {
	switch p := path.(type) {
	case []string:
		out := make([]string, len(p))
		copy(out, p)
		return out
	case string:
		trimmed := strings.Trim(p, "/")
		if trimmed == "" {
			return []string{}
		}
		return strings.Split(trimmed, "/")
	default:
		return []string{}
	}
}

// PathsEqual reports whether two handle sequences are identical in
// length, order and content.
func PathsEqual(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
