package storage

import (
	"encoding/binary"
	"fmt"
	"math"
)

// Payload encoding (little-endian):
// - bool:    1 byte per element
// - int32:   4 bytes per element
// - int64:   8 bytes per element
// - float64: 8 bytes per element (IEEE 754 bits)
// - string:  length (4 bytes) + UTF-8 bytes, per element

func encodeDataset(d Dataset) []byte {
	switch d.DType {
	case Bool:
		buf := make([]byte, len(d.Bools))
		for i, v := range d.Bools {
			if v {
				buf[i] = 1
			}
		}
		return buf

	case Int32:
		buf := make([]byte, 0, len(d.Int32s)*4)
		for _, v := range d.Int32s {
			buf = binary.LittleEndian.AppendUint32(buf, uint32(v))
		}
		return buf

	case Int64:
		buf := make([]byte, 0, len(d.Int64s)*8)
		for _, v := range d.Int64s {
			buf = binary.LittleEndian.AppendUint64(buf, uint64(v))
		}
		return buf

	case Float64:
		buf := make([]byte, 0, len(d.Float64s)*8)
		for _, v := range d.Float64s {
			buf = binary.LittleEndian.AppendUint64(buf, math.Float64bits(v))
		}
		return buf

	case String:
		size := 0
		for _, s := range d.Strings {
			size += 4 + len(s)
		}
		buf := make([]byte, 0, size)
		for _, s := range d.Strings {
			buf = binary.LittleEndian.AppendUint32(buf, uint32(len(s)))
			buf = append(buf, s...)
		}
		return buf
	}
	return nil
}

func decodeDataset(dtype DType, scalar bool, length int, data []byte) (Dataset, error) {
	d := Dataset{DType: dtype, Scalar: scalar}

	switch dtype {
	case Bool:
		if len(data) != length {
			return d, fmt.Errorf("bool payload: expected %d bytes, got %d", length, len(data))
		}
		d.Bools = make([]bool, length)
		for i, b := range data {
			d.Bools[i] = b != 0
		}

	case Int32:
		if len(data) != length*4 {
			return d, fmt.Errorf("int32 payload: expected %d bytes, got %d", length*4, len(data))
		}
		d.Int32s = make([]int32, length)
		for i := range d.Int32s {
			d.Int32s[i] = int32(binary.LittleEndian.Uint32(data[i*4:]))
		}

	case Int64:
		if len(data) != length*8 {
			return d, fmt.Errorf("int64 payload: expected %d bytes, got %d", length*8, len(data))
		}
		d.Int64s = make([]int64, length)
		for i := range d.Int64s {
			d.Int64s[i] = int64(binary.LittleEndian.Uint64(data[i*8:]))
		}

	case Float64:
		if len(data) != length*8 {
			return d, fmt.Errorf("float64 payload: expected %d bytes, got %d", length*8, len(data))
		}
		d.Float64s = make([]float64, length)
		for i := range d.Float64s {
			d.Float64s[i] = math.Float64frombits(binary.LittleEndian.Uint64(data[i*8:]))
		}

	case String:
		d.Strings = make([]string, 0, length)
		for len(d.Strings) < length {
			if len(data) < 4 {
				return d, fmt.Errorf("string payload truncated at element %d", len(d.Strings))
			}
			n := int(binary.LittleEndian.Uint32(data))
			data = data[4:]
			if len(data) < n {
				return d, fmt.Errorf("string payload truncated at element %d", len(d.Strings))
			}
			d.Strings = append(d.Strings, string(data[:n]))
			data = data[n:]
		}
		if len(data) != 0 {
			return d, fmt.Errorf("string payload has %d trailing bytes", len(data))
		}

	default:
		return d, fmt.Errorf("unknown dataset type %q", dtype)
	}

	return d, nil
}
