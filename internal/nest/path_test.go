package nest_test

import (
	"testing"

	"nestfs/internal/nest"
)

func TestParsePath(t *testing.T) {
	tests := []struct {
		name string
		in   any
		want []string
	}{
		{name: "simple", in: "a/b/c", want: []string{"a", "b", "c"}},
		{name: "leading slash", in: "/a/b", want: []string{"a", "b"}},
		{name: "trailing slash", in: "a/b/", want: []string{"a", "b"}},
		{name: "both slashes", in: "/a/", want: []string{"a"}},
		{name: "empty string", in: "", want: nil},
		{name: "root slash", in: "/", want: nil},
		{name: "single handle", in: "docs", want: []string{"docs"}},
		{name: "slice passthrough", in: []string{"x", "y"}, want: []string{"x", "y"}},
		{name: "nil slice", in: []string(nil), want: nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := nest.ParsePath(tt.in)
			if !nest.PathsEqual(got, tt.want) {
				t.Errorf("ParsePath(%v) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestParsePath_CopiesSlice(t *testing.T) {
	in := []string{"a", "b"}
	got := nest.ParsePath(in)
	got[0] = "mutated"
	if in[0] != "a" {
		t.Error("ParsePath shares backing array with its input")
	}
}

func TestPathsEqual(t *testing.T) {
	if !nest.PathsEqual(nil, []string{}) {
		t.Error("PathsEqual(nil, empty) = false, want true")
	}
	if nest.PathsEqual([]string{"a"}, []string{"b"}) {
		t.Error("PathsEqual(a, b) = true, want false")
	}
	if nest.PathsEqual([]string{"a"}, []string{"a", "b"}) {
		t.Error("PathsEqual differing lengths = true, want false")
	}
}
