package common

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizePath(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"empty", "", ""},
		{"root", "/", ""},
		{"double_root", "//", ""},
		{"dot", ".", ""},
		{"simple", "foo", "foo"},
		{"leading_slash", "/foo", "foo"},
		{"trailing_slash", "foo/", "foo"},
		{"two_parts", "/foo/bar/", "foo/bar"},
		{"dot_middle", "foo/./bar", "foo/bar"},
		{"dotdot_middle", "/foo/../bar", "bar"},
		{"many_slashes", "///foo///bar///", "foo/bar"},
		{"dotdot_suffix", "foo/..", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, NormalizePath(tt.input), "NormalizePath(%q)", tt.input)
		})
	}
}

func TestJoinPath(t *testing.T) {
	t.Parallel()

	tests := []struct {
		parent, name, want string
	}{
		{"/", "a.txt", "/a.txt"},
		{"", "a.txt", "/a.txt"},
		{"/docs", "b", "/docs/b"},
		{"/docs/", "b", "/docs/b"},
		{"/docs/x", "..", "/docs"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, JoinPath(tt.parent, tt.name), "JoinPath(%q, %q)", tt.parent, tt.name)
	}
}

func TestSplitPath(t *testing.T) {
	t.Parallel()

	assert.Equal(t, []string{"docs", "b"}, SplitPath("/docs/b"))
	assert.Equal(t, []string{"docs", "b"}, SplitPath("docs//b/"))
	assert.Nil(t, SplitPath("/"))
	assert.Equal(t, "/", AbsPath(""))
}

func TestSafeName(t *testing.T) {
	t.Parallel()

	tests := []struct {
		input, want string
	}{
		{"a.txt", "a.txt"},
		{"a/b", "a_b"},
		{"..", "_.."},
		{".", "_."},
		{"", "_"},
		{"nul\x00byte", "nul_byte"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, SafeName(tt.input), "SafeName(%q)", tt.input)
	}
}
