package lockd

import (
	"sync"
	"time"
)

// writerPreferenceState is the classic second readers-writers solution:
// once a writer is waiting, later readers queue behind it. rcnt counts
// readers holding the lock, wcnt counts writers waiting for or holding it;
// mu1/mu2 guard their updates; m3/mr/mw are the admission gates.
type writerPreferenceState struct {
	mu1, mu2 sync.Mutex
	m3, mr, mw sem

	rcnt, wcnt int
}

func newWriterPreferenceState() *writerPreferenceState {
	return &writerPreferenceState{
		m3: newSem(),
		mr: newSem(),
		mw: newSem(),
	}
}

func (s *writerPreferenceState) startRead(timeout time.Duration) error {
	if !s.m3.acquire(timeout) {
		return ErrTimeout
	}
	if !s.mr.acquire(timeout) {
		s.m3.release()
		return ErrTimeout
	}

	s.mu1.Lock()
	s.rcnt++
	if s.rcnt == 1 {
		if !s.mw.acquire(timeout) {
			s.rcnt--
			s.mu1.Unlock()
			s.mr.release()
			s.m3.release()
			return ErrTimeout
		}
	}
	s.mu1.Unlock()

	s.mr.release()
	s.m3.release()
	return nil
}

func (s *writerPreferenceState) endRead() {
	s.mu1.Lock()
	s.rcnt--
	if s.rcnt == 0 {
		s.mw.release()
	}
	s.mu1.Unlock()
}

func (s *writerPreferenceState) startWrite(timeout time.Duration) error {
	s.mu2.Lock()
	s.wcnt++
	if s.wcnt == 1 {
		if !s.mr.acquire(timeout) {
			s.wcnt--
			s.mu2.Unlock()
			return ErrTimeout
		}
	}
	s.mu2.Unlock()

	if !s.mw.acquire(timeout) {
		s.mu2.Lock()
		s.wcnt--
		if s.wcnt == 0 {
			s.mr.release()
		}
		s.mu2.Unlock()
		return ErrTimeout
	}
	return nil
}

func (s *writerPreferenceState) endWrite() {
	s.mw.release()

	s.mu2.Lock()
	s.wcnt--
	if s.wcnt == 0 {
		s.mr.release()
	}
	s.mu2.Unlock()
}
