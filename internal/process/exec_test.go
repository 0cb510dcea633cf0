package process

import "testing"

func TestRingBufferEvictsOldestOnceFull(t *testing.T) {
	r := newRingBuffer(8)
	r.Write([]byte("abcdefgh"))
	r.Write([]byte("ij"))
	if got := r.String(); got != "cdefghij" {
		t.Fatalf("expected the oldest 2 bytes evicted, got %q", got)
	}
}

func TestRingBufferSinceReturnsIncrementalData(t *testing.T) {
	r := newRingBuffer(64)
	r.Write([]byte("hello "))
	data, offset := r.Since(0)
	if data != "hello " {
		t.Fatalf("unexpected data: %q", data)
	}
	r.Write([]byte("world"))
	data2, _ := r.Since(offset)
	if data2 != "world" {
		t.Fatalf("expected only the newly written bytes, got %q", data2)
	}
}

func TestRingBufferSinceClampsToEvictedWindow(t *testing.T) {
	r := newRingBuffer(4)
	r.Write([]byte("abcdefgh")) // evicts "abcd"
	data, _ := r.Since(0)
	if data != "efgh" {
		t.Fatalf("expected offset before the retained window to clamp, got %q", data)
	}
}

func TestRingBufferTailLines(t *testing.T) {
	r := newRingBuffer(1024)
	r.Write([]byte("one\ntwo\nthree\nfour\n"))
	if got := r.TailLines(2); got != "three\nfour" {
		t.Fatalf("unexpected tail lines: %q", got)
	}
}

func TestRingBufferTailReturnsTrailingBytes(t *testing.T) {
	r := newRingBuffer(1024)
	r.Write([]byte("0123456789"))
	if got := r.Tail(4); got != "6789" {
		t.Fatalf("unexpected tail: %q", got)
	}
}
