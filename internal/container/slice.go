package container

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/sandia-minimega/arraydb/pkg/wire"
)

// axisSel is one axis's resolved selector: either a single squeezed
// index, or a normalized (start, stop, step) range.
type axisSel struct {
	index      *int64
	start, stop, step int64
}

func computeStrides(shape []int64) []int64 {
	n := len(shape)
	strides := make([]int64, n)
	acc := int64(1)
	for i := n - 1; i >= 0; i-- {
		strides[i] = acc
		acc *= shape[i]
	}
	return strides
}

// normalizeSlice resolves a (start, stop, step) descriptor against an
// axis of length dim, following Python slice semantics: nil means "use
// the default for this direction", negative indices count from the end,
// out-of-range bounds are clamped rather than rejected. A zero step is
// treated as 1.
func normalizeSlice(s *wire.SliceSel, dim int64) (start, stop, step int64) {
	step = 1
	if s.Step != nil {
		step = *s.Step
	}
	if step == 0 {
		step = 1
	}

	if step > 0 {
		start, stop = 0, dim
	} else {
		start, stop = dim-1, -1
	}

	if s.Start != nil {
		start = *s.Start
		if start < 0 {
			start += dim
		}
	}
	if s.Stop != nil {
		stop = *s.Stop
		if stop < 0 {
			stop += dim
		}
	}

	if step > 0 {
		if start < 0 {
			start = 0
		}
		if start > dim {
			start = dim
		}
		if stop < 0 {
			stop = 0
		}
		if stop > dim {
			stop = dim
		}
	} else {
		if start >= dim {
			start = dim - 1
		}
		if start < -1 {
			start = -1
		}
		if stop < -1 {
			stop = -1
		}
		if stop > dim-1 {
			stop = dim - 1
		}
	}
	return
}

func sliceLen(start, stop, step int64) int64 {
	if step > 0 {
		if stop <= start {
			return 0
		}
		return (stop - start + step - 1) / step
	}
	if stop >= start {
		return 0
	}
	return (start - stop + (-step) - 1) / (-step)
}

// normalizeSelectors resolves a key tuple (slice descriptors and/or plain
// integer indices, one per leading axis) against shape. Trailing axes not
// named by key are selected in full.
func normalizeSelectors(shape []int64, key []wire.Value) ([]axisSel, error) {
	if len(key) > len(shape) {
		return nil, fmt.Errorf("%w: index has more dimensions (%d) than the dataset (%d)", ErrValue, len(key), len(shape))
	}
	sels := make([]axisSel, len(shape))
	for i, dim := range shape {
		if i >= len(key) {
			sels[i] = axisSel{start: 0, stop: dim, step: 1}
			continue
		}
		v := key[i]
		switch v.Kind {
		case wire.KindInt:
			idx := v.Int
			if idx < 0 {
				idx += dim
			}
			if idx < 0 || idx >= dim {
				return nil, fmt.Errorf("%w: index %d out of bounds for axis of size %d", ErrValue, v.Int, dim)
			}
			sels[i] = axisSel{index: &idx}
		case wire.KindSlice:
			sel, _ := v.AsSlice()
			start, stop, step := normalizeSlice(sel, dim)
			sels[i] = axisSel{start: start, stop: stop, step: step}
		default:
			return nil, fmt.Errorf("%w: index element must be an integer or a slice", ErrValue)
		}
	}
	return sels, nil
}

func outputShape(sels []axisSel) []int64 {
	var shape []int64
	for _, s := range sels {
		if s.index == nil {
			shape = append(shape, sliceLen(s.start, s.stop, s.step))
		}
	}
	return shape
}

// walk calls visit with the flat element offset (in elements, not bytes)
// of every selected element, in output row-major order.
func walk(sels []axisSel, strides []int64, visit func(offset int64)) {
	var rec func(axis int, offset int64)
	rec = func(axis int, offset int64) {
		if axis == len(sels) {
			visit(offset)
			return
		}
		s := sels[axis]
		if s.index != nil {
			rec(axis+1, offset+(*s.index)*strides[axis])
			return
		}
		if s.step > 0 {
			for i := s.start; i < s.stop; i += s.step {
				rec(axis+1, offset+i*strides[axis])
			}
		} else {
			for i := s.start; i > s.stop; i += s.step {
				rec(axis+1, offset+i*strides[axis])
			}
		}
	}
	rec(0, 0)
}

// Slice reads the selected region of the dataset at path into a freshly
// allocated array.
func (c *Container) Slice(p string, key []wire.Value) (wire.Array, error) {
	n, err := c.datasetNode(p)
	if err != nil {
		return wire.Array{}, err
	}
	elemSize, err := elementSize(n.Dtype)
	if err != nil {
		return wire.Array{}, err
	}
	sels, err := normalizeSelectors(n.Shape, key)
	if err != nil {
		return wire.Array{}, err
	}
	strides := computeStrides(n.Shape)
	shape := outputShape(sels)

	out := make([]byte, 0, shapeCount(shape)*int64(elemSize))
	walk(sels, strides, func(offset int64) {
		start := offset * int64(elemSize)
		out = append(out, n.Data[start:start+int64(elemSize)]...)
	})

	return wire.Array{Dtype: n.Dtype, Shape: shape, Data: out}, nil
}

// encodeScalar renders a plain wire.Value as the fixed-width little-endian
// byte representation of dtype, for broadcasting a scalar across a
// selection. Returns ErrType if v's Go type doesn't fit dtype's category.
func encodeScalar(dtype string, v wire.Value) ([]byte, error) {
	switch dtype {
	case "bool":
		b, ok := v.AsBool()
		if !ok {
			return nil, fmt.Errorf("%w: expected bool for dtype %q", ErrType, dtype)
		}
		if b {
			return []byte{1}, nil
		}
		return []byte{0}, nil
	case "int8", "uint8":
		i, ok := v.AsInt()
		if !ok {
			return nil, fmt.Errorf("%w: expected integer for dtype %q", ErrType, dtype)
		}
		return []byte{byte(i)}, nil
	case "int16", "uint16":
		i, ok := v.AsInt()
		if !ok {
			return nil, fmt.Errorf("%w: expected integer for dtype %q", ErrType, dtype)
		}
		buf := make([]byte, 2)
		binary.LittleEndian.PutUint16(buf, uint16(i))
		return buf, nil
	case "int32", "uint32":
		i, ok := v.AsInt()
		if !ok {
			return nil, fmt.Errorf("%w: expected integer for dtype %q", ErrType, dtype)
		}
		buf := make([]byte, 4)
		binary.LittleEndian.PutUint32(buf, uint32(i))
		return buf, nil
	case "int64", "uint64":
		i, ok := v.AsInt()
		if !ok {
			return nil, fmt.Errorf("%w: expected integer for dtype %q", ErrType, dtype)
		}
		buf := make([]byte, 8)
		binary.LittleEndian.PutUint64(buf, uint64(i))
		return buf, nil
	case "float32":
		if v.Kind != wire.KindFloat && v.Kind != wire.KindInt {
			return nil, fmt.Errorf("%w: expected number for dtype %q", ErrType, dtype)
		}
		f := v.Float
		if v.Kind == wire.KindInt {
			f = float64(v.Int)
		}
		buf := make([]byte, 4)
		binary.LittleEndian.PutUint32(buf, math.Float32bits(float32(f)))
		return buf, nil
	case "float64":
		if v.Kind != wire.KindFloat && v.Kind != wire.KindInt {
			return nil, fmt.Errorf("%w: expected number for dtype %q", ErrType, dtype)
		}
		f := v.Float
		if v.Kind == wire.KindInt {
			f = float64(v.Int)
		}
		buf := make([]byte, 8)
		binary.LittleEndian.PutUint64(buf, math.Float64bits(f))
		return buf, nil
	default:
		return nil, fmt.Errorf("%w: unknown dtype %q", ErrValue, dtype)
	}
}

// Broadcast assigns data into the selected region of the dataset at path.
// data may be an array matching the selection's shape and dtype exactly,
// or a scalar matching dtype's category, repeated across every selected
// element.
func (c *Container) Broadcast(p string, key []wire.Value, data wire.Value) error {
	n, err := c.datasetNode(p)
	if err != nil {
		return err
	}
	elemSize, err := elementSize(n.Dtype)
	if err != nil {
		return err
	}
	sels, err := normalizeSelectors(n.Shape, key)
	if err != nil {
		return err
	}
	strides := computeStrides(n.Shape)
	shape := outputShape(sels)

	var scalarBytes []byte
	var arrayData []byte
	if data.Kind == wire.KindArray {
		arr := data.Array
		if arr.Dtype != n.Dtype {
			return fmt.Errorf("%w: dataset dtype %q, got %q", ErrType, n.Dtype, arr.Dtype)
		}
		if !shapesEqual(arr.Shape, shape) {
			return fmt.Errorf("%w: selection shape %v does not match assigned array shape %v", ErrValue, shape, arr.Shape)
		}
		if want := shapeCount(shape) * int64(elemSize); int64(len(arr.Data)) != want {
			return fmt.Errorf("%w: assigned array shape %v wants %d bytes, got %d", ErrIncompatible, arr.Shape, want, len(arr.Data))
		}
		arrayData = arr.Data
	} else {
		b, err := encodeScalar(n.Dtype, data)
		if err != nil {
			return err
		}
		scalarBytes = b
	}

	cursor := int64(0)
	walk(sels, strides, func(offset int64) {
		dst := n.Data[offset*int64(elemSize) : offset*int64(elemSize)+int64(elemSize)]
		if arrayData != nil {
			copy(dst, arrayData[cursor*int64(elemSize):(cursor+1)*int64(elemSize)])
			cursor++
		} else {
			copy(dst, scalarBytes)
		}
	})

	return c.save()
}
