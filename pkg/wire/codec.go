package wire

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

// ErrUnknownTag is returned by Decode when a type tag byte, at any nesting
// level, does not match any known Kind.
var ErrUnknownTag = errors.New("wire: unknown type tag")

const (
	tagNil byte = iota
	tagBool
	tagInt
	tagFloat
	tagString
	tagBlob
	tagTuple
	tagMap
	tagArray
	tagSlice
	tagNode
)

var kindToTag = map[Kind]byte{
	KindNil:    tagNil,
	KindBool:   tagBool,
	KindInt:    tagInt,
	KindFloat:  tagFloat,
	KindString: tagString,
	KindBlob:   tagBlob,
	KindTuple:  tagTuple,
	KindMap:    tagMap,
	KindArray:  tagArray,
	KindSlice:  tagSlice,
	KindNode:   tagNode,
}

// encoder appends to an in-memory buffer; a single Value is always
// encoded to a single contiguous byte slice, matching the frame codec's
// one-buffer-per-message style.
type encoder struct {
	buf []byte
}

func (e *encoder) byte(b byte) { e.buf = append(e.buf, b) }

func (e *encoder) u32(v uint32) {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	e.buf = append(e.buf, b[:]...)
}

func (e *encoder) i64(v int64) {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], uint64(v))
	e.buf = append(e.buf, b[:]...)
}

func (e *encoder) f64(v float64) {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], math.Float64bits(v))
	e.buf = append(e.buf, b[:]...)
}

func (e *encoder) bytes(b []byte) {
	e.u32(uint32(len(b)))
	e.buf = append(e.buf, b...)
}

func (e *encoder) str(s string) { e.bytes([]byte(s)) }

func (e *encoder) optI64(p *int64) {
	if p == nil {
		e.byte(0)
		return
	}
	e.byte(1)
	e.i64(*p)
}

func (e *encoder) i64Tuple(vs []int64) {
	e.u32(uint32(len(vs)))
	for _, v := range vs {
		e.i64(v)
	}
}

func (e *encoder) value(v Value) {
	tag, ok := kindToTag[v.Kind]
	if !ok {
		tag = tagNil
	}
	e.byte(tag)
	switch v.Kind {
	case KindNil:
	case KindBool:
		if v.Bool {
			e.byte(1)
		} else {
			e.byte(0)
		}
	case KindInt:
		e.i64(v.Int)
	case KindFloat:
		e.f64(v.Float)
	case KindString:
		e.str(v.Str)
	case KindBlob:
		e.bytes(v.Blob)
	case KindTuple:
		e.u32(uint32(len(v.Tuple)))
		for _, item := range v.Tuple {
			e.value(item)
		}
	case KindMap:
		e.u32(uint32(len(v.Map)))
		for k, item := range v.Map {
			e.str(k)
			e.value(item)
		}
	case KindArray:
		a := v.Array
		e.str(a.Dtype)
		e.i64Tuple(a.Shape)
		if a.FortranOrder {
			e.byte(1)
		} else {
			e.byte(0)
		}
		e.bytes(a.Data)
	case KindSlice:
		s := v.Slice
		e.optI64(s.Start)
		e.optI64(s.Stop)
		e.optI64(s.Step)
	case KindNode:
		n := v.Node
		e.str(n.Kind)
		e.str(n.Path)
		if n.HasShape {
			e.byte(1)
			e.i64Tuple(n.Shape)
		} else {
			e.byte(0)
		}
		if n.HasDtype {
			e.byte(1)
			e.str(n.Dtype)
		} else {
			e.byte(0)
		}
	}
}

// Encode renders v as a single contiguous byte slice, suitable as a
// frame body.
func Encode(v Value) []byte {
	e := &encoder{}
	e.value(v)
	return e.buf
}

type decoder struct {
	buf []byte
	off int
}

func (d *decoder) need(n int) error {
	if d.off+n > len(d.buf) {
		return fmt.Errorf("wire: truncated payload (need %d bytes at offset %d, have %d)", n, d.off, len(d.buf))
	}
	return nil
}

func (d *decoder) byte() (byte, error) {
	if err := d.need(1); err != nil {
		return 0, err
	}
	b := d.buf[d.off]
	d.off++
	return b, nil
}

func (d *decoder) u32() (uint32, error) {
	if err := d.need(4); err != nil {
		return 0, err
	}
	v := binary.BigEndian.Uint32(d.buf[d.off : d.off+4])
	d.off += 4
	return v, nil
}

func (d *decoder) i64() (int64, error) {
	if err := d.need(8); err != nil {
		return 0, err
	}
	v := int64(binary.BigEndian.Uint64(d.buf[d.off : d.off+8]))
	d.off += 8
	return v, nil
}

func (d *decoder) f64() (float64, error) {
	if err := d.need(8); err != nil {
		return 0, err
	}
	v := math.Float64frombits(binary.BigEndian.Uint64(d.buf[d.off : d.off+8]))
	d.off += 8
	return v, nil
}

func (d *decoder) bytes() ([]byte, error) {
	n, err := d.u32()
	if err != nil {
		return nil, err
	}
	if err := d.need(int(n)); err != nil {
		return nil, err
	}
	b := make([]byte, n)
	copy(b, d.buf[d.off:d.off+int(n)])
	d.off += int(n)
	return b, nil
}

func (d *decoder) str() (string, error) {
	b, err := d.bytes()
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func (d *decoder) optI64() (*int64, error) {
	flag, err := d.byte()
	if err != nil {
		return nil, err
	}
	if flag == 0 {
		return nil, nil
	}
	v, err := d.i64()
	if err != nil {
		return nil, err
	}
	return &v, nil
}

func (d *decoder) i64Tuple() ([]int64, error) {
	n, err := d.u32()
	if err != nil {
		return nil, err
	}
	out := make([]int64, n)
	for i := range out {
		v, err := d.i64()
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func (d *decoder) value() (Value, error) {
	tag, err := d.byte()
	if err != nil {
		return Value{}, err
	}
	switch tag {
	case tagNil:
		return Nil(), nil
	case tagBool:
		b, err := d.byte()
		if err != nil {
			return Value{}, err
		}
		return Bool(b != 0), nil
	case tagInt:
		i, err := d.i64()
		if err != nil {
			return Value{}, err
		}
		return Int(i), nil
	case tagFloat:
		f, err := d.f64()
		if err != nil {
			return Value{}, err
		}
		return Float(f), nil
	case tagString:
		s, err := d.str()
		if err != nil {
			return Value{}, err
		}
		return String(s), nil
	case tagBlob:
		b, err := d.bytes()
		if err != nil {
			return Value{}, err
		}
		return Blob(b), nil
	case tagTuple:
		n, err := d.u32()
		if err != nil {
			return Value{}, err
		}
		items := make([]Value, n)
		for i := range items {
			v, err := d.value()
			if err != nil {
				return Value{}, err
			}
			items[i] = v
		}
		return Tuple(items...), nil
	case tagMap:
		n, err := d.u32()
		if err != nil {
			return Value{}, err
		}
		m := make(map[string]Value, n)
		for i := uint32(0); i < n; i++ {
			k, err := d.str()
			if err != nil {
				return Value{}, err
			}
			v, err := d.value()
			if err != nil {
				return Value{}, err
			}
			// Unknown-to-reader keys don't apply in a generic map decode;
			// structured response decoding skips keys it doesn't need.
			m[k] = v
		}
		return Map(m), nil
	case tagArray:
		dtype, err := d.str()
		if err != nil {
			return Value{}, err
		}
		shape, err := d.i64Tuple()
		if err != nil {
			return Value{}, err
		}
		fortran, err := d.byte()
		if err != nil {
			return Value{}, err
		}
		data, err := d.bytes()
		if err != nil {
			return Value{}, err
		}
		return ArrayVal(Array{Dtype: dtype, Shape: shape, FortranOrder: fortran != 0, Data: data}), nil
	case tagSlice:
		start, err := d.optI64()
		if err != nil {
			return Value{}, err
		}
		stop, err := d.optI64()
		if err != nil {
			return Value{}, err
		}
		step, err := d.optI64()
		if err != nil {
			return Value{}, err
		}
		return SliceVal(SliceSel{Start: start, Stop: stop, Step: step}), nil
	case tagNode:
		kind, err := d.str()
		if err != nil {
			return Value{}, err
		}
		path, err := d.str()
		if err != nil {
			return Value{}, err
		}
		hasShape, err := d.byte()
		if err != nil {
			return Value{}, err
		}
		var shape []int64
		if hasShape != 0 {
			shape, err = d.i64Tuple()
			if err != nil {
				return Value{}, err
			}
		}
		hasDtype, err := d.byte()
		if err != nil {
			return Value{}, err
		}
		var dtype string
		if hasDtype != 0 {
			dtype, err = d.str()
			if err != nil {
				return Value{}, err
			}
		}
		return NodeVal(Node{
			Kind: kind, Path: path,
			Shape: shape, HasShape: hasShape != 0,
			Dtype: dtype, HasDtype: hasDtype != 0,
		}), nil
	default:
		return Value{}, ErrUnknownTag
	}
}

// Decode parses a single Value out of buf. The entire buffer must be
// consumed by exactly one value; trailing bytes are an error, since a
// frame body never carries more than one top-level value.
func Decode(buf []byte) (Value, error) {
	d := &decoder{buf: buf}
	v, err := d.value()
	if err != nil {
		return Value{}, err
	}
	if d.off != len(d.buf) {
		return Value{}, fmt.Errorf("wire: %d trailing bytes after decoded value", len(d.buf)-d.off)
	}
	return v, nil
}
