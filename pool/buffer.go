// File: pool/buffer.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package pool

import "io"

// Buffer is a fixed-capacity byte buffer. Bytes in [r, w) are readable,
// bytes in [w, cap) are free for writing.
type Buffer struct {
	data []byte
	r, w int
}

// NewBuffer allocates a buffer of the given capacity.
func NewBuffer(size int) *Buffer {
	return &Buffer{data: make([]byte, size)}
}

// Bytes returns the unread bytes. The slice aliases the buffer.
func (b *Buffer) Bytes() []byte { return b.data[b.r:b.w] }

// Len returns the number of unread bytes.
func (b *Buffer) Len() int { return b.w - b.r }

// Cap returns the total capacity.
func (b *Buffer) Cap() int { return len(b.data) }

// ReadOffset returns the position of the read cursor.
func (b *Buffer) ReadOffset() int { return b.r }

// Available returns the number of bytes that can still be written.
func (b *Buffer) Available() int { return len(b.data) - b.w }

// Free returns the writable tail of the buffer. Callers fill it and then
// call Commit.
func (b *Buffer) Free() []byte { return b.data[b.w:] }

// Commit marks n bytes of Free as written.
func (b *Buffer) Commit(n int) { b.w += n }

// Advance discards n unread bytes.
func (b *Buffer) Advance(n int) { b.r += n }

// Next consumes and returns up to n unread bytes.
func (b *Buffer) Next(n int) []byte {
	n = min(n, b.Len())
	p := b.data[b.r : b.r+n]
	b.r += n
	return p
}

// Write copies as much of p as fits and returns the count. It never fails;
// a short count means the buffer is full.
func (b *Buffer) Write(p []byte) int {
	n := copy(b.data[b.w:], p)
	b.w += n
	return n
}

// ReadByte consumes one byte.
func (b *Buffer) ReadByte() (byte, error) {
	if b.r == b.w {
		return 0, io.EOF
	}
	c := b.data[b.r]
	b.r++
	return c, nil
}

// Compact moves the unread bytes to the front of the buffer.
func (b *Buffer) Compact() {
	if b.r == 0 {
		return
	}
	n := copy(b.data, b.data[b.r:b.w])
	b.r, b.w = 0, n
}

// Reset empties the buffer.
func (b *Buffer) Reset() { b.r, b.w = 0, 0 }
