// Package capability models optional device features. Providers are
// probed once and the result is passed around as a Set.
package capability

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

type Kind string

const (
	Speech        Kind = "speech"
	Microphone    Kind = "microphone"
	InstallPrompt Kind = "install_prompt"
)

// All lists every known capability.
var All = []Kind{Speech, Microphone, InstallPrompt}

var ErrUnavailable = errors.New("capability unavailable")

// Provider reports whether a capability can be used on this device.
type Provider interface {
	Available(ctx context.Context, kind Kind) bool
}

// Static is a Provider with fixed answers. Unlisted kinds are unavailable.
type Static map[Kind]bool

func (s Static) Available(_ context.Context, kind Kind) bool {
	return s[kind]
}

// ParseStatic builds a Static from a comma separated list of kinds.
func ParseStatic(list string) (Static, error) {
	s := Static{}
	for _, part := range strings.Split(list, ",") {
		k := Kind(strings.TrimSpace(part))
		if k == "" {
			continue
		}
		switch k {
		case Speech, Microphone, InstallPrompt:
			s[k] = true
		default:
			return nil, fmt.Errorf("unknown capability %q", k)
		}
	}
	return s, nil
}

// Set is the probed result.
type Set struct {
	available map[Kind]bool
}

// Probe asks p about each kind once.
func Probe(ctx context.Context, p Provider, kinds ...Kind) Set {
	if len(kinds) == 0 {
		kinds = All
	}
	s := Set{available: make(map[Kind]bool, len(kinds))}
	for _, k := range kinds {
		s.available[k] = p != nil && p.Available(ctx, k)
	}
	return s
}

func (s Set) Has(kind Kind) bool {
	return s.available[kind]
}

// Require fails with ErrUnavailable naming the first missing kind.
func (s Set) Require(kinds ...Kind) error {
	for _, k := range kinds {
		if !s.Has(k) {
			return fmt.Errorf("%s: %w", k, ErrUnavailable)
		}
	}
	return nil
}
