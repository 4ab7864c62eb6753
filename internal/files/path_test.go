package files

import (
	"slices"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewPath_Normalizes(t *testing.T) {
	t.Parallel()

	tests := []struct {
		raw  string
		want Path
	}{
		{"a", "a"},
		{"a/b", "a/b"},
		{"./a//b/", "a/b"},
		{"a/./b/../c", "a/c"},
		// NFD "é" (e + combining acute) becomes NFC.
		{"cafe\u0301", "caf\u00e9"},
	}

	for _, tt := range tests {
		got, err := NewPath(tt.raw)
		require.NoError(t, err, tt.raw)
		assert.Equal(t, tt.want, got, tt.raw)
	}
}

func TestNewPath_Rejects(t *testing.T) {
	t.Parallel()

	for _, raw := range []string{"", ".", "/abs", "..", "../x", "a/../../x"} {
		_, err := NewPath(raw)
		assert.ErrorIs(t, err, ErrInvalidPath, raw)
	}
}

func TestPath_Validate(t *testing.T) {
	t.Parallel()

	assert.NoError(t, Path("a/b").Validate())
	assert.ErrorIs(t, Path("a//b").Validate(), ErrInvalidPath)
	assert.ErrorIs(t, Path("../a").Validate(), ErrInvalidPath)
}

func TestPath_Parent(t *testing.T) {
	t.Parallel()

	parent, ok := Path("a/b/c").Parent()
	assert.True(t, ok)
	assert.Equal(t, Path("a/b"), parent)

	_, ok = Path("a").Parent()
	assert.False(t, ok)
}

func TestPath_DepthAndAncestry(t *testing.T) {
	t.Parallel()

	assert.Equal(t, 1, Path("a").Depth())
	assert.Equal(t, 3, Path("a/b/c").Depth())
	assert.True(t, Path("a").IsAncestorOf("a/b"))
	assert.False(t, Path("a").IsAncestorOf("ab"))
	assert.False(t, Path("a").IsAncestorOf("a"))
	assert.Equal(t, Path("a/b"), Path("a").Join("b"))
	assert.Equal(t, Path("b"), Path("").Join("b"))
}

func TestPath_CompareKeepsSubtreesContiguous(t *testing.T) {
	t.Parallel()

	paths := []Path{"a-b", "a/b", "b", "a", "a/b/c", "a.txt"}
	slices.SortFunc(paths, ComparePaths)

	// Plain byte order would put "a-b" and "a.txt" between "a" and "a/b".
	assert.Equal(t, []Path{"a", "a/b", "a/b/c", "a-b", "a.txt", "b"}, paths)
	assert.Equal(t, 0, Path("x/y").Compare("x/y"))
}
