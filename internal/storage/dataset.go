package storage

import (
	"fmt"
)

const (
	Bool    DType = "bool"
	Int32   DType = "int32"
	Int64   DType = "int64"
	Float64 DType = "float64"
	String  DType = "string"
)

// DType is the element type of a dataset.
type DType string

func (t DType) valid() bool {
	switch t {
	case Bool, Int32, Int64, Float64, String:
		return true
	}
	return false
}

// Dataset is a typed scalar or one dimensional array. Exactly one of the
// slices is populated, matching DType. Scalars hold a single element.
type Dataset struct {
	DType  DType
	Scalar bool

	Bools    []bool
	Int32s   []int32
	Int64s   []int64
	Float64s []float64
	Strings  []string
}

func BoolArray(v []bool) Dataset       { return Dataset{DType: Bool, Bools: v} }
func Int32Array(v []int32) Dataset     { return Dataset{DType: Int32, Int32s: v} }
func Int64Array(v []int64) Dataset     { return Dataset{DType: Int64, Int64s: v} }
func Float64Array(v []float64) Dataset { return Dataset{DType: Float64, Float64s: v} }
func StringArray(v []string) Dataset   { return Dataset{DType: String, Strings: v} }

func BoolScalar(v bool) Dataset {
	return Dataset{DType: Bool, Scalar: true, Bools: []bool{v}}
}

func Int64Scalar(v int64) Dataset {
	return Dataset{DType: Int64, Scalar: true, Int64s: []int64{v}}
}

func Float64Scalar(v float64) Dataset {
	return Dataset{DType: Float64, Scalar: true, Float64s: []float64{v}}
}

func StringScalar(v string) Dataset {
	return Dataset{DType: String, Scalar: true, Strings: []string{v}}
}

// Len returns the number of elements.
func (d Dataset) Len() int {
	switch d.DType {
	case Bool:
		return len(d.Bools)
	case Int32:
		return len(d.Int32s)
	case Int64:
		return len(d.Int64s)
	case Float64:
		return len(d.Float64s)
	case String:
		return len(d.Strings)
	}
	return 0
}

// AsFloat64s converts numeric and boolean datasets to float64. Booleans map
// to 0 and 1.
func (d Dataset) AsFloat64s() ([]float64, error) {
	out := make([]float64, d.Len())
	switch d.DType {
	case Bool:
		for i, v := range d.Bools {
			if v {
				out[i] = 1
			}
		}
	case Int32:
		for i, v := range d.Int32s {
			out[i] = float64(v)
		}
	case Int64:
		for i, v := range d.Int64s {
			out[i] = float64(v)
		}
	case Float64:
		copy(out, d.Float64s)
	default:
		return nil, fmt.Errorf("dataset of type %s is not numeric", d.DType)
	}
	return out, nil
}

// ScalarString returns the value of a scalar string dataset.
func (d Dataset) ScalarString() (string, error) {
	if !d.Scalar || d.DType != String || len(d.Strings) != 1 {
		return "", fmt.Errorf("dataset is not a string scalar (%s, scalar=%t)", d.DType, d.Scalar)
	}
	return d.Strings[0], nil
}

// ScalarFloat64 returns the value of a numeric scalar dataset.
func (d Dataset) ScalarFloat64() (float64, error) {
	if !d.Scalar || d.Len() != 1 {
		return 0, fmt.Errorf("dataset is not a scalar (%s, len=%d)", d.DType, d.Len())
	}
	values, err := d.AsFloat64s()
	if err != nil {
		return 0, err
	}
	return values[0], nil
}

func (d Dataset) validate() error {
	if !d.DType.valid() {
		return fmt.Errorf("unknown dataset type %q", d.DType)
	}

	populated := 0
	for _, n := range []int{len(d.Bools), len(d.Int32s), len(d.Int64s), len(d.Float64s), len(d.Strings)} {
		if n > 0 {
			populated++
		}
	}
	if populated > 1 || (populated == 1 && d.Len() == 0) {
		return fmt.Errorf("dataset of type %s carries values of another type", d.DType)
	}
	if d.Scalar && d.Len() != 1 {
		return fmt.Errorf("scalar dataset must hold exactly one element, has %d", d.Len())
	}
	return nil
}
