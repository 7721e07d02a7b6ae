// Package metadata holds the namespaced run metadata recorded next to every
// acquisition. In memory it is a typed two level mapping; on disk each entry
// is a single dataset named "{namespace}__{key}".
package metadata

import (
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/roman-kulish/vibrometry/internal/faults"
)

// Delimiter joins namespace and key in flattened names.
const Delimiter = "__"

const (
	Vibrometer Namespace = "vibrometer"
	Experiment Namespace = "experiment"
	Traces     Namespace = "traces"
	Galvo      Namespace = "galvo"
	Rotator    Namespace = "rotator"
	Sample     Namespace = "sample"
)

// ErrInvalidName is returned for namespaces or keys that cannot survive a
// flatten/unflatten round trip.
var ErrInvalidName = fmt.Errorf("%w: invalid metadata name", faults.ErrConfiguration)

// Namespace groups related metadata keys.
type Namespace string

// Mapping is namespace -> key -> value.
type Mapping map[Namespace]map[string]Value

// New returns an empty mapping.
func New() Mapping {
	return make(Mapping)
}

// Set stores v under ns/key, validating both names.
func (m Mapping) Set(ns Namespace, key string, v Value) error {
	if err := ValidateName(ns, key); err != nil {
		return err
	}
	if !v.IsValid() {
		return fmt.Errorf("%w: %s/%s has no value", ErrInvalidName, ns, key)
	}

	keys, ok := m[ns]
	if !ok {
		keys = make(map[string]Value)
		m[ns] = keys
	}
	keys[key] = v
	return nil
}

// MustSet is Set for names known at compile time.
func (m Mapping) MustSet(ns Namespace, key string, v Value) {
	if err := m.Set(ns, key, v); err != nil {
		panic(err)
	}
}

// Get returns the value stored under ns/key.
func (m Mapping) Get(ns Namespace, key string) (Value, bool) {
	v, ok := m[ns][key]
	return v, ok
}

// Namespaces returns the namespaces in sorted order.
func (m Mapping) Namespaces() []Namespace {
	return slices.Sorted(maps.Keys(m))
}

// Keys returns the keys of ns in sorted order.
func (m Mapping) Keys(ns Namespace) []string {
	return slices.Sorted(maps.Keys(m[ns]))
}

// Merge copies every entry of other into m, overwriting existing keys.
func (m Mapping) Merge(other Mapping) error {
	for ns, keys := range other {
		for key, v := range keys {
			if err := m.Set(ns, key, v); err != nil {
				return err
			}
		}
	}
	return nil
}

// Equal reports whether both mappings hold the same entries.
func (m Mapping) Equal(other Mapping) bool {
	if m.Len() != other.Len() {
		return false
	}
	for ns, keys := range m {
		for key, v := range keys {
			o, ok := other.Get(ns, key)
			if !ok || !v.Equal(o) {
				return false
			}
		}
	}
	return true
}

// Len returns the total number of entries.
func (m Mapping) Len() int {
	n := 0
	for _, keys := range m {
		n += len(keys)
	}
	return n
}

// ValidateName checks the delimiter invariant. A namespace ending in "_" is
// rejected too: "ns_" + "__" + "key" would split back as "ns" / "_key".
func ValidateName(ns Namespace, key string) error {
	var errs []error
	switch {
	case ns == "":
		errs = append(errs, fmt.Errorf("%w: empty namespace", ErrInvalidName))
	case strings.Contains(string(ns), Delimiter):
		errs = append(errs, fmt.Errorf("%w: namespace %q contains %q", ErrInvalidName, ns, Delimiter))
	case strings.HasSuffix(string(ns), "_"):
		errs = append(errs, fmt.Errorf("%w: namespace %q ends with '_'", ErrInvalidName, ns))
	case strings.Contains(string(ns), "/"):
		errs = append(errs, fmt.Errorf("%w: namespace %q contains '/'", ErrInvalidName, ns))
	}
	switch {
	case key == "":
		errs = append(errs, fmt.Errorf("%w: empty key in namespace %q", ErrInvalidName, ns))
	case strings.Contains(key, Delimiter):
		errs = append(errs, fmt.Errorf("%w: key %q contains %q", ErrInvalidName, key, Delimiter))
	case strings.Contains(key, "/"):
		errs = append(errs, fmt.Errorf("%w: key %q contains '/'", ErrInvalidName, key))
	}
	return errors.Join(errs...)
}

// FlatName joins a namespace and key.
func FlatName(ns Namespace, key string) string {
	return string(ns) + Delimiter + key
}

// SplitName inverts FlatName by splitting on the first delimiter.
func SplitName(name string) (Namespace, string, bool) {
	ns, key, ok := strings.Cut(name, Delimiter)
	if !ok || ns == "" || key == "" {
		return "", "", false
	}
	return Namespace(ns), key, true
}

// Flatten converts the mapping to flat names, revalidating every entry.
func (m Mapping) Flatten() (map[string]Value, error) {
	flat := make(map[string]Value, m.Len())
	for ns, keys := range m {
		for key, v := range keys {
			if err := ValidateName(ns, key); err != nil {
				return nil, err
			}
			flat[FlatName(ns, key)] = v
		}
	}
	return flat, nil
}

// Unflatten rebuilds a mapping from flat names. Names without the delimiter
// are not metadata and are skipped.
func Unflatten(flat map[string]Value) Mapping {
	m := New()
	for name, v := range flat {
		ns, key, ok := SplitName(name)
		if !ok {
			continue
		}
		keys, exists := m[ns]
		if !exists {
			keys = make(map[string]Value)
			m[ns] = keys
		}
		keys[key] = v
	}
	return m
}
