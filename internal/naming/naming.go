// Package naming maps samples to backend-legal publish names.
package naming

import (
	"errors"
	"sort"
	"strings"

	"github.com/ethpandaops/relayoor/internal/metric"
)

// ErrEmptyName is returned when a sample has no name to publish under.
var ErrEmptyName = errors.New("sample has an empty name")

// Convention derives the name a sample is published under.
// Implementations must be stateless and free of side effects.
type Convention interface {
	Name(s metric.Sample) (string, error)
}

// Func adapts an ordinary function to a Convention.
type Func func(s metric.Sample) (string, error)

// Name calls f(s).
func (f Func) Name(s metric.Sample) (string, error) {
	return f(s)
}

// Basic is the default convention. It joins an optional prefix, the
// sample name and each tag as key_value (in ascending key order) with
// dots, replacing characters outside [A-Za-z0-9._-] with underscores.
type Basic struct {
	Prefix string
}

var _ Convention = Basic{}

// Name implements Convention.
func (b Basic) Name(s metric.Sample) (string, error) {
	if s.Name == "" {
		return "", ErrEmptyName
	}

	parts := make([]string, 0, len(s.Tags)+2)

	if b.Prefix != "" {
		parts = append(parts, sanitize(b.Prefix))
	}

	parts = append(parts, sanitize(s.Name))

	keys := make([]string, 0, len(s.Tags))
	for k := range s.Tags {
		keys = append(keys, k)
	}

	sort.Strings(keys)

	for _, k := range keys {
		parts = append(parts, sanitize(k)+"_"+sanitize(s.Tags[k]))
	}

	return strings.Join(parts, "."), nil
}

func sanitize(s string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		case r == '.', r == '_', r == '-':
			return r
		default:
			return '_'
		}
	}, s)
}
