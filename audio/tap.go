package audio

import "sync"

const tapDepth = 4

// Tap holds copies of the most recent enhanced frames for readers outside
// the audio goroutine. Readers always receive their own copy.
type Tap struct {
	mu    sync.Mutex
	slots [tapDepth][]int16
	seq   uint64
}

// NewTap creates a tap with slots preallocated for frames of n samples.
func NewTap(n int) *Tap {
	t := &Tap{}
	for i := range t.slots {
		t.slots[i] = make([]int16, n)
	}
	return t
}

// Publish copies frame into the next slot.
func (t *Tap) Publish(frame []int16) {
	t.mu.Lock()
	defer t.mu.Unlock()
	slot := t.slots[(t.seq+1)%tapDepth]
	if len(slot) != len(frame) {
		slot = make([]int16, len(frame))
		t.slots[(t.seq+1)%tapDepth] = slot
	}
	copy(slot, frame)
	t.seq++
}

// Latest returns a copy of the newest frame and its sequence number.
// ok is false until the first frame has been published.
func (t *Tap) Latest() (frame []int16, seq uint64, ok bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.seq == 0 {
		return nil, 0, false
	}
	src := t.slots[t.seq%tapDepth]
	out := make([]int16, len(src))
	copy(out, src)
	return out, t.seq, true
}
