package config

import (
	"errors"
	"fmt"
	"reflect"
	"slices"
	"strings"

	"github.com/BurntSushi/toml"
)

// maxSuggestDistance is the largest edit distance for which an unknown key
// gets a "did you mean?" suggestion.
const maxSuggestDistance = 3

// configKeys lists every accepted key, sorted so that equally distant
// suggestions are chosen deterministically. Keys come from the toml tags of
// Config and its embedded sections, so a new field is accepted as soon as
// it is declared.
var configKeys = collectKeys(reflect.TypeFor[Config]())

func collectKeys(t reflect.Type) []string {
	var keys []string

	for i := range t.NumField() {
		f := t.Field(i)
		if f.Anonymous {
			keys = append(keys, collectKeys(f.Type)...)
			continue
		}

		if name, _, _ := strings.Cut(f.Tag.Get("toml"), ","); name != "" && name != "-" {
			keys = append(keys, name)
		}
	}

	slices.Sort(keys)

	return keys
}

// checkUnknownKeys reports every key in the decoded file that no Config
// field consumed. The config has no sections, so "a.b" is always unknown.
func checkUnknownKeys(md *toml.MetaData) error {
	var errs []error

	for _, key := range md.Undecoded() {
		errs = append(errs, unknownKeyError(key.String()))
	}

	return errors.Join(errs...)
}

// unknownKeyError names the unknown key and, when one is close enough,
// the key that was probably meant. For dotted keys the last component is
// matched, which catches settings mistakenly placed under a [section].
func unknownKeyError(key string) error {
	leaf := key
	if i := strings.LastIndexByte(key, '.'); i >= 0 {
		leaf = key[i+1:]
	}

	if s := suggestKey(leaf, configKeys); s != "" {
		return fmt.Errorf("unknown config key %q; did you mean %q?", key, s)
	}

	return fmt.Errorf("unknown config key %q", key)
}

// suggestKey returns the candidate nearest to key, or "" when none is
// within maxSuggestDistance.
func suggestKey(key string, candidates []string) string {
	best, bestDist := "", maxSuggestDistance+1

	for _, c := range candidates {
		if d := editDistance(key, c); d < bestDist {
			best, bestDist = c, d
		}
	}

	return best
}

// editDistance is the Levenshtein distance between a and b, computed with
// two rolling rows.
func editDistance(a, b string) int {
	prev := make([]int, len(b)+1)
	curr := make([]int, len(b)+1)

	for j := range prev {
		prev[j] = j
	}

	for i := range len(a) {
		curr[0] = i + 1

		for j := range len(b) {
			subst := prev[j]
			if a[i] != b[j] {
				subst++
			}

			curr[j+1] = min(curr[j]+1, prev[j+1]+1, subst)
		}

		prev, curr = curr, prev
	}

	return prev[len(b)]
}
