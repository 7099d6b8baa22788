package alog

import (
	"container/ring"
	"sync"
)

// Ring is a fixed-size circular buffer of the most recent log lines.
type Ring struct {
	size int

	mu sync.Mutex
	r  *ring.Ring
}

func NewRing(size int) *Ring {
	if size <= 0 {
		size = 1
	}
	return &Ring{r: ring.New(size), size: size}
}

func (l *Ring) Push(line string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.r = l.r.Next()
	l.r.Value = line
}

// Dump returns the buffered lines oldest to newest.
func (l *Ring) Dump() []string {
	l.mu.Lock()
	defer l.mu.Unlock()

	res := make([]string, 0, l.size)
	l.r.Next().Do(func(v interface{}) {
		if v == nil {
			return
		}
		res = append(res, v.(string))
	})
	return res
}
