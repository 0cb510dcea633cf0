package process

import (
	"strings"
	"sync"
)

// ringBuffer is a bounded, append-only byte buffer that overwrites its
// oldest bytes once full, used for a ProcessSession's combined
// stdout+stderr output. Tracks a monotonic write offset so Since/Window
// can serve incremental reads (the poll/log subcommands) even after older
// bytes have been evicted.
type ringBuffer struct {
	mu      sync.Mutex
	buf     []byte
	max     int
	start   int // logical offset of buf[0]
	written int // total bytes ever written
}

func newRingBuffer(max int) *ringBuffer {
	if max <= 0 {
		max = defaultRingSize
	}
	return &ringBuffer{max: max}
}

// Write implements io.Writer, appending p and evicting the oldest bytes
// once the buffer exceeds its configured max.
func (r *ringBuffer) Write(p []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.buf = append(r.buf, p...)
	r.written += len(p)
	if len(r.buf) > r.max {
		evict := len(r.buf) - r.max
		r.buf = r.buf[evict:]
		r.start += evict
	}
	return len(p), nil
}

// String returns the entire retained buffer.
func (r *ringBuffer) String() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return string(r.buf)
}

// Tail returns up to n trailing bytes.
func (r *ringBuffer) Tail(n int) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if n <= 0 || n >= len(r.buf) {
		return string(r.buf)
	}
	return string(r.buf[len(r.buf)-n:])
}

// Since returns everything written from logical offset onward, plus the
// new offset (total bytes written so far). If offset falls before the
// retained window (already evicted), it returns from the earliest
// available byte instead of erroring, since the evicted prefix is gone by
// design.
func (r *ringBuffer) Since(offset int) (string, int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if offset < r.start {
		offset = r.start
	}
	rel := offset - r.start
	if rel >= len(r.buf) {
		return "", r.written
	}
	return string(r.buf[rel:]), r.written
}

// Window returns up to limit bytes starting at offset (0 means from the
// start of the retained window). limit <= 0 means no cap.
func (r *ringBuffer) Window(offset, limit int) (string, int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if offset < r.start {
		offset = r.start
	}
	rel := offset - r.start
	if rel >= len(r.buf) {
		return "", r.written
	}
	end := len(r.buf)
	if limit > 0 && rel+limit < end {
		end = rel + limit
	}
	return string(r.buf[rel:end]), r.written
}

// TailLines returns the last n lines of retained output.
func (r *ringBuffer) TailLines(n int) string {
	r.mu.Lock()
	text := string(r.buf)
	r.mu.Unlock()
	if n <= 0 {
		return ""
	}
	lines := strings.Split(strings.TrimRight(text, "\n"), "\n")
	if len(lines) <= n {
		return text
	}
	return strings.Join(lines[len(lines)-n:], "\n")
}
