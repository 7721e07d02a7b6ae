package metadata

import (
	"errors"
	"testing"

	"github.com/roman-kulish/vibrometry/internal/faults"
)

func TestMapping_FlattenRoundTrip(t *testing.T) {
	m := New()
	m.MustSet(Vibrometer, "block_count", Int(25))
	m.MustSet(Vibrometer, "daq_sample_rate", Float(625_000))
	m.MustSet(Experiment, "operator", String("jsmits"))
	m.MustSet(Experiment, "notes_enabled", Bool(true))
	m.MustSet(Traces, "src_locations", Floats(0.5, 1.5, 2.5))
	m.MustSet(Traces, "labels", Strings("A", "B"))
	m.MustSet(Traces, "shots_per_point", Ints(3))
	m.MustSet(Galvo, "_offset", Float(-1)) // leading underscore in a key is fine

	flat, err := m.Flatten()
	if err != nil {
		t.Fatalf("Flatten: %v", err)
	}
	if _, ok := flat["vibrometer__block_count"]; !ok {
		t.Errorf("expected flattened key vibrometer__block_count, got %v", flat)
	}
	if _, ok := flat["galvo___offset"]; !ok {
		t.Errorf("expected flattened key galvo___offset, got %v", flat)
	}

	got := Unflatten(flat)
	if !got.Equal(m) {
		t.Errorf("round trip mismatch:\n got  %v\n want %v", got, m)
	}
}

func TestMapping_RejectsDelimiter(t *testing.T) {
	testCases := []struct {
		name string
		ns   Namespace
		key  string
	}{
		{"delimiter in namespace", "vibro__meter", "block_count"},
		{"delimiter in key", Vibrometer, "block__count"},
		{"trailing underscore in namespace", "vibrometer_", "block_count"},
		{"empty namespace", "", "block_count"},
		{"empty key", Vibrometer, ""},
		{"slash in key", Vibrometer, "a/b"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			err := New().Set(tc.ns, tc.key, Int(1))
			if err == nil {
				t.Fatal("expected error")
			}
			if !errors.Is(err, ErrInvalidName) {
				t.Errorf("expected ErrInvalidName, got %v", err)
			}
			if !errors.Is(err, faults.ErrConfiguration) {
				t.Errorf("expected ErrConfiguration, got %v", err)
			}
		})
	}
}

func TestMapping_FlattenRevalidates(t *testing.T) {
	m := Mapping{"bad__ns": {"key": Int(1)}}
	if _, err := m.Flatten(); !errors.Is(err, ErrInvalidName) {
		t.Errorf("expected ErrInvalidName from Flatten, got %v", err)
	}
}

func TestUnflatten_SkipsNonMetadata(t *testing.T) {
	m := Unflatten(map[string]Value{
		"Velocity":         Int(1),
		"__leading":        Int(2),
		"trailing__":       Int(3),
		"traces__receiver": String("A"),
		"traces__a__b":     Int(4),
	})

	if m.Len() != 2 {
		t.Fatalf("expected 2 entries, got %d: %v", m.Len(), m)
	}
	if v, ok := m.Get(Traces, "receiver"); !ok || !v.Equal(String("A")) {
		t.Errorf("expected traces/receiver=A, got %v", v)
	}
	if _, ok := m.Get(Traces, "a__b"); !ok {
		t.Errorf("expected split on first delimiter only")
	}
}

func TestFromAny(t *testing.T) {
	testCases := []struct {
		name string
		in   any
		want Value
	}{
		{"int", 3, Int(3)},
		{"float", 2.5, Float(2.5)},
		{"string", "x", String("x")},
		{"bool", true, Bool(true)},
		{"int slice", []any{1, 2, 3}, Ints(1, 2, 3)},
		{"mixed numeric slice", []any{1, 2.5}, Floats(1, 2.5)},
		{"string slice", []any{"A", "B"}, Strings("A", "B")},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := FromAny(tc.in)
			if err != nil {
				t.Fatalf("FromAny: %v", err)
			}
			if !got.Equal(tc.want) {
				t.Errorf("got %v (%s), want %v (%s)", got, got.Kind(), tc.want, tc.want.Kind())
			}
		})
	}

	if _, err := FromAny([]any{"A", 1}); err == nil {
		t.Error("expected error for mixed string/number slice")
	}
	if _, err := FromAny(struct{}{}); err == nil {
		t.Error("expected error for unsupported type")
	}
}

func TestValue_Index(t *testing.T) {
	v := Strings("A", "B")
	e, err := v.Index(1)
	if err != nil || !e.Equal(String("B")) {
		t.Errorf("Index(1) = %v, %v", e, err)
	}
	if _, err = v.Index(2); err == nil {
		t.Error("expected out of range error")
	}

	s := Float(1.5)
	if e, err = s.Index(0); err != nil || !e.Equal(s) {
		t.Errorf("scalar Index(0) = %v, %v", e, err)
	}
}
