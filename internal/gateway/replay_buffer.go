package gateway

import "sync"

// frame is one broadcast envelope kept for replay.
type frame struct {
	Seq  int64
	Data []byte
}

// ReplayBuffer keeps the most recent stream frames in a ring so a
// reconnecting client can ask for everything after the last seq it saw.
// Safe for concurrent use.
type ReplayBuffer struct {
	mu   sync.RWMutex
	buf  []frame
	size int
	next int
	full bool
}

// NewReplayBuffer creates a replay buffer holding up to capacity frames.
func NewReplayBuffer(capacity int) *ReplayBuffer {
	if capacity <= 0 {
		capacity = 500
	}
	return &ReplayBuffer{buf: make([]frame, capacity), size: capacity}
}

// Push stores a frame, evicting the oldest when full. data is copied.
func (rb *ReplayBuffer) Push(seq int64, data []byte) {
	cp := append([]byte(nil), data...)

	rb.mu.Lock()
	rb.buf[rb.next] = frame{Seq: seq, Data: cp}
	rb.next = (rb.next + 1) % rb.size
	if rb.next == 0 {
		rb.full = true
	}
	rb.mu.Unlock()
}

// Since returns the frames with Seq > after, oldest first.
func (rb *ReplayBuffer) Since(after int64) []frame {
	rb.mu.RLock()
	defer rb.mu.RUnlock()

	var out []frame
	n := rb.count()
	for i := 0; i < n; i++ {
		f := rb.buf[rb.physical(i)]
		if f.Seq > after {
			out = append(out, f)
		}
	}
	return out
}

// Oldest returns the lowest buffered seq, or 0 when empty.
func (rb *ReplayBuffer) Oldest() int64 {
	rb.mu.RLock()
	defer rb.mu.RUnlock()
	if rb.count() == 0 {
		return 0
	}
	return rb.buf[rb.physical(0)].Seq
}

// Len returns the number of frames currently buffered.
func (rb *ReplayBuffer) Len() int {
	rb.mu.RLock()
	defer rb.mu.RUnlock()
	return rb.count()
}

func (rb *ReplayBuffer) count() int {
	if rb.full {
		return rb.size
	}
	return rb.next
}

// physical maps a logical index (0 = oldest) to a slot.
func (rb *ReplayBuffer) physical(i int) int {
	if rb.full {
		return (rb.next + i) % rb.size
	}
	return i
}
