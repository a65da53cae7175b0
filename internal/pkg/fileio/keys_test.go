package fileio

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClean(t *testing.T) {
	var cleanTests = []struct {
		input    string
		expected string
	}{
		{"/a/b.db", "/a/b.db"},
		{"C:\\Users\\a,b\\c.sqlite", "C:\\Users\\ab\\c.sqlite"},
		{",,,", ""},
		{"a\xffb", "ab"},
		{"a\ufffdb", "ab"},
		{"/home/jürgen/places.sqlite", "/home/jürgen/places.sqlite"},
	}

	for _, test := range cleanTests {
		assert.Equal(t, test.expected, Clean(test.input))
	}
}

func TestSafeKey(t *testing.T) {
	var keyTests = []struct {
		input    string
		expected string
	}{
		{"/a/b.db", "/a/b.db"},
		{`/a/"b".db`, `"/a/""b"".db"`},
		{"/a\nb", "\"/a\nb\""},
		{"a,b", `"a,b"`},
		{"", `""`},
	}

	for _, test := range keyTests {
		key, err := SafeKey(test.input)
		assert.Nil(t, err)
		assert.Equal(t, test.expected, key)
	}
}

func TestKeyEncoderIsInjective(t *testing.T) {
	encoder, err := NewKeyEncoder(2)
	require.Nil(t, err)

	paths := []string{
		"/a/b.db",
		`/a/"b".db`,
		`"/a/b.db"`,
		"/a/b.db\n",
		"C:\\profile\\cookies.sqlite",
		"/profile/a b/c",
		"/a/b,db",
	}

	seen := make(map[string]string)
	for _, path := range paths {
		key, err := encoder.Encode(path)
		require.Nil(t, err)

		other, dup := seen[key]
		assert.False(t, dup, "%q and %q share key %q", path, other, key)
		seen[key] = path

		assert.NotContains(t, key, ",")
	}
}

func TestKeyEncoderCache(t *testing.T) {
	encoder, err := NewKeyEncoder(1)
	require.Nil(t, err)

	first, err := encoder.Encode("/a,b")
	require.Nil(t, err)
	again, err := encoder.Encode("/a,b")
	require.Nil(t, err)
	assert.Equal(t, first, again)
	assert.Equal(t, "/ab", again)

	// Evicted entries are recomputed identically
	_, err = encoder.Encode("/c")
	require.Nil(t, err)
	again, err = encoder.Encode("/a,b")
	require.Nil(t, err)
	assert.Equal(t, first, again)
}

func TestNewKeyEncoderRejectsBadSize(t *testing.T) {
	_, err := NewKeyEncoder(0)
	assert.NotNil(t, err)
}
