package wire

// Kind tags the dynamic type of a Value on the wire.
type Kind byte

const (
	KindNil Kind = iota
	KindBool
	KindInt
	KindFloat
	KindString
	KindBlob
	KindTuple
	KindMap
	KindArray
	KindSlice
	KindNode
)

// Array is the N-D array descriptor extension: {dtype, shape,
// fortran_order, bytes}.
type Array struct {
	Dtype        string
	Shape        []int64
	FortranOrder bool
	Data         []byte
}

// SliceSel is the (start, stop, step) slice descriptor extension. A nil
// pointer represents the Python-style "None" in that position.
type SliceSel struct {
	Start *int64
	Stop  *int64
	Step  *int64
}

// Node is the response-only node descriptor extension.
type Node struct {
	Kind     string // proto.NodeGroup or proto.NodeDataset
	Path     string
	Shape    []int64 // present only for datasets
	Dtype    string
	HasShape bool
	HasDtype bool
}

// Value is a tagged union over every type the payload grammar supports.
// Only the field matching Kind is meaningful.
type Value struct {
	Kind   Kind
	Bool   bool
	Int    int64
	Float  float64
	Str    string
	Blob   []byte
	Tuple  []Value
	Map    map[string]Value
	Array  *Array
	Slice  *SliceSel
	Node   *Node
}

func Nil() Value                   { return Value{Kind: KindNil} }
func Bool(b bool) Value            { return Value{Kind: KindBool, Bool: b} }
func Int(i int64) Value            { return Value{Kind: KindInt, Int: i} }
func Float(f float64) Value        { return Value{Kind: KindFloat, Float: f} }
func String(s string) Value        { return Value{Kind: KindString, Str: s} }
func Blob(b []byte) Value          { return Value{Kind: KindBlob, Blob: b} }
func Tuple(vs ...Value) Value      { return Value{Kind: KindTuple, Tuple: vs} }
func Map(m map[string]Value) Value { return Value{Kind: KindMap, Map: m} }

func ArrayVal(a Array) Value { return Value{Kind: KindArray, Array: &a} }
func SliceVal(s SliceSel) Value { return Value{Kind: KindSlice, Slice: &s} }
func NodeVal(n Node) Value   { return Value{Kind: KindNode, Node: &n} }

// IsNil reports whether v is the nil value.
func (v Value) IsNil() bool { return v.Kind == KindNil }

// AsInt returns the int64 payload and whether v actually holds one.
func (v Value) AsInt() (int64, bool) {
	if v.Kind != KindInt {
		return 0, false
	}
	return v.Int, true
}

// AsString returns the string payload and whether v actually holds one.
func (v Value) AsString() (string, bool) {
	if v.Kind != KindString {
		return "", false
	}
	return v.Str, true
}

// AsBool returns the bool payload and whether v actually holds one.
func (v Value) AsBool() (bool, bool) {
	if v.Kind != KindBool {
		return false, false
	}
	return v.Bool, true
}

// AsTuple returns the tuple payload and whether v actually holds one.
func (v Value) AsTuple() ([]Value, bool) {
	if v.Kind != KindTuple {
		return nil, false
	}
	return v.Tuple, true
}

// AsMap returns the map payload and whether v actually holds one.
func (v Value) AsMap() (map[string]Value, bool) {
	if v.Kind != KindMap {
		return nil, false
	}
	return v.Map, true
}

// AsArray returns the array payload and whether v actually holds one.
func (v Value) AsArray() (*Array, bool) {
	if v.Kind != KindArray {
		return nil, false
	}
	return v.Array, true
}

// AsSlice returns the slice-selector payload and whether v actually holds one.
func (v Value) AsSlice() (*SliceSel, bool) {
	if v.Kind != KindSlice {
		return nil, false
	}
	return v.Slice, true
}

// AsNode returns the node-descriptor payload and whether v actually holds one.
func (v Value) AsNode() (*Node, bool) {
	if v.Kind != KindNode {
		return nil, false
	}
	return v.Node, true
}
