package datafile

import (
	"fmt"

	"github.com/roman-kulish/vibrometry/internal/metadata"
	"github.com/roman-kulish/vibrometry/internal/storage"
)

// ToDataset maps a metadata value onto the matching storage type.
func ToDataset(v metadata.Value) (storage.Dataset, error) {
	switch v.Kind() {
	case metadata.KindBool:
		b, _ := v.AsBool()
		return storage.BoolScalar(b), nil
	case metadata.KindInt:
		i, _ := v.AsInt()
		return storage.Int64Scalar(i), nil
	case metadata.KindFloat:
		f, _ := v.AsFloat()
		return storage.Float64Scalar(f), nil
	case metadata.KindString:
		s, _ := v.AsString()
		return storage.StringScalar(s), nil
	case metadata.KindInts:
		i, _ := v.AsInts()
		return storage.Int64Array(i), nil
	case metadata.KindFloats:
		f, _ := v.AsFloats()
		return storage.Float64Array(f), nil
	case metadata.KindStrings:
		s, _ := v.AsStrings()
		return storage.StringArray(s), nil
	}
	return storage.Dataset{}, fmt.Errorf("unsupported metadata kind %s", v.Kind())
}

// FromDataset is the inverse of ToDataset. Boolean and int32 arrays, which
// ToDataset never produces, read back as integer arrays.
func FromDataset(d storage.Dataset) (metadata.Value, error) {
	if d.Scalar {
		switch d.DType {
		case storage.Bool:
			return metadata.Bool(d.Bools[0]), nil
		case storage.Int32:
			return metadata.Int(int64(d.Int32s[0])), nil
		case storage.Int64:
			return metadata.Int(d.Int64s[0]), nil
		case storage.Float64:
			return metadata.Float(d.Float64s[0]), nil
		case storage.String:
			return metadata.String(d.Strings[0]), nil
		}
		return metadata.Value{}, fmt.Errorf("unsupported dataset type %s", d.DType)
	}

	switch d.DType {
	case storage.Bool, storage.Int32:
		values, err := d.AsFloat64s()
		if err != nil {
			return metadata.Value{}, err
		}
		ints := make([]int64, len(values))
		for i, v := range values {
			ints[i] = int64(v)
		}
		return metadata.Ints(ints...), nil
	case storage.Int64:
		return metadata.Ints(d.Int64s...), nil
	case storage.Float64:
		return metadata.Floats(d.Float64s...), nil
	case storage.String:
		return metadata.Strings(d.Strings...), nil
	}
	return metadata.Value{}, fmt.Errorf("unsupported dataset type %s", d.DType)
}

// NamespaceEntries returns one dataset per key of ns, placed under group.
func NamespaceEntries(m metadata.Mapping, ns metadata.Namespace, group string) ([]storage.Entry, error) {
	var entries []storage.Entry
	for _, key := range m.Keys(ns) {
		v, _ := m.Get(ns, key)
		ds, err := ToDataset(v)
		if err != nil {
			return nil, fmt.Errorf("metadata %s/%s: %w", ns, key, err)
		}
		entries = append(entries, storage.Entry{Path: storage.Join(group, key), Dataset: ds})
	}
	return entries, nil
}

// metadataEntries lays every namespace out as prefix/<namespace>/<key>.
func metadataEntries(m metadata.Mapping, prefix string) ([]storage.Entry, error) {
	var entries []storage.Entry
	for _, ns := range m.Namespaces() {
		nsEntries, err := NamespaceEntries(m, ns, storage.Join(prefix, string(ns)))
		if err != nil {
			return nil, err
		}
		entries = append(entries, nsEntries...)
	}
	return entries, nil
}
