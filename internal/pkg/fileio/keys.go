package fileio

import (
	"bytes"
	"encoding/csv"
	"strings"
	"unicode/utf8"

	lru "github.com/hashicorp/golang-lru"
)

// Normalize drops every byte sequence of s that isn't valid UTF-8, along with
// U+FFFD, which JSON decoding substitutes for invalid bytes and lone surrogates.
func Normalize(s string) string {
	return strings.Map(func(r rune) rune {
		if r == utf8.RuneError {
			return -1
		}
		return r
	}, s)
}

// Clean normalizes s and strips its commas.
func Clean(s string) string {
	return strings.ReplaceAll(Normalize(s), ",", "")
}

// SafeKey encodes pieces as a single CSV record, quoting only the fields
// that need it, without the trailing newline.
func SafeKey(pieces ...string) (string, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(pieces); err != nil {
		return "", err
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return "", err
	}
	key := strings.TrimSuffix(buf.String(), "\n")
	// A lone empty field is quoted so that it reads back as one field
	if key == "" && len(pieces) == 1 {
		return `""`, nil
	}
	return key, nil
}

// KeyEncoder turns file paths into grouping keys. Paths repeat across
// records, so encoded keys are kept in a bounded LRU cache. Safe for
// concurrent use.
type KeyEncoder struct {
	cache *lru.Cache
}

// NewKeyEncoder creates a KeyEncoder remembering up to size paths
func NewKeyEncoder(size int) (*KeyEncoder, error) {
	cache, err := lru.New(size)
	if err != nil {
		return nil, err
	}
	return &KeyEncoder{cache: cache}, nil
}

// Encode returns the grouping key of path
func (k *KeyEncoder) Encode(path string) (string, error) {
	if key, ok := k.cache.Get(path); ok {
		return key.(string), nil
	}

	key, err := SafeKey(Clean(path))
	if err != nil {
		return "", err
	}
	k.cache.Add(path, key)
	return key, nil
}
