package container

import "fmt"

// elementSizes gives the byte width of every dtype this store understands.
// The container never interprets element bytes beyond copying them; dtype
// only governs element width and equality checks.
var elementSizes = map[string]int{
	"bool":    1,
	"int8":    1,
	"uint8":   1,
	"int16":   2,
	"uint16":  2,
	"int32":   4,
	"uint32":  4,
	"int64":   8,
	"uint64":  8,
	"float32": 4,
	"float64": 8,
}

func elementSize(dtype string) (int, error) {
	n, ok := elementSizes[dtype]
	if !ok {
		return 0, fmt.Errorf("%w: unknown dtype %q", ErrValue, dtype)
	}
	return n, nil
}

func shapeCount(shape []int64) int64 {
	var n int64 = 1
	for _, d := range shape {
		n *= d
	}
	return n
}

func shapesEqual(a, b []int64) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
