package telemetry

import "sync"

// History is a fixed-capacity ring of whole-percent CPU usage values.
// It always reports exactly size values; slots never written read as zero.
type History struct {
	mu   sync.RWMutex
	data []int
	head int // index of the oldest value
}

// NewHistory creates a zero-filled ring with the given capacity.
func NewHistory(size int) *History {
	if size <= 0 {
		size = HistorySize
	}
	return &History{data: make([]int, size)}
}

// Push evicts the oldest value and appends v as the newest.
func (h *History) Push(v int) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.data[h.head] = v
	h.head = (h.head + 1) % len(h.data)
}

// Values returns a copy of the ring, oldest first.
func (h *History) Values() []int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	out := make([]int, 0, len(h.data))
	out = append(out, h.data[h.head:]...)
	out = append(out, h.data[:h.head]...)
	return out
}

// Len returns the ring capacity.
func (h *History) Len() int {
	return len(h.data)
}
