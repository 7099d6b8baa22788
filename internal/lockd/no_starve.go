package lockd

import "time"

// noStarveState is "the third readers-writers problem": arrivals queue
// FIFO on order, so neither readers nor writers can be starved by a
// continuous stream of the other.
type noStarveState struct {
	order   sem
	readers sem
	access  sem

	rds int
}

func newNoStarveState() *noStarveState {
	return &noStarveState{
		order:   newSem(),
		readers: newSem(),
		access:  newSem(),
	}
}

func (s *noStarveState) startRead(timeout time.Duration) error {
	if !s.order.acquire(timeout) {
		return ErrTimeout
	}
	if !s.readers.acquire(timeout) {
		s.order.release()
		return ErrTimeout
	}

	if s.rds == 0 {
		if !s.access.acquire(timeout) {
			s.readers.release()
			s.order.release()
			return ErrTimeout
		}
	}
	s.rds++

	s.order.release()
	s.readers.release()
	return nil
}

func (s *noStarveState) endRead() {
	s.readers.acquireBlocking()
	s.rds--
	if s.rds == 0 {
		s.access.release()
	}
	s.readers.release()
}

func (s *noStarveState) startWrite(timeout time.Duration) error {
	if !s.order.acquire(timeout) {
		return ErrTimeout
	}
	if !s.access.acquire(timeout) {
		s.order.release()
		return ErrTimeout
	}
	s.order.release()
	return nil
}

func (s *noStarveState) endWrite() {
	s.access.release()
}
