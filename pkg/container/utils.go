package container

import (
	"encoding/binary"
	"fmt"
)

// cursor walks a container front to back. Every read is bounds checked
// against the bytes that remain.
type cursor struct {
	data []byte
	off  int
}

func (c *cursor) remaining() uint64 { return uint64(len(c.data) - c.off) }

func (c *cursor) take(n uint64, what string) ([]byte, error) {
	if n > c.remaining() {
		return nil, fmt.Errorf("%w: %s of %d bytes exceeds the %d bytes remaining", ErrFormat, what, n, c.remaining())
	}
	start := c.off
	c.off += int(n)
	return c.data[start:c.off:c.off], nil
}

func (c *cursor) uint64(what string) (uint64, error) {
	b, err := c.take(8, what)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(b), nil
}

func (c *cursor) done() error {
	if c.off != len(c.data) {
		return fmt.Errorf("%w: %d trailing bytes", ErrFormat, len(c.data)-c.off)
	}
	return nil
}

func addUint64(a, b uint64) (uint64, bool) {
	s := a + b
	return s, s >= a
}

func mulUint64(a, b uint64) (uint64, bool) {
	if a == 0 || b == 0 {
		return 0, true
	}
	p := a * b
	return p, p/b == a
}
