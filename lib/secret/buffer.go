// Copyright 2026 The Sandbox Agent Authors
// SPDX-License-Identifier: Apache-2.0

// Package secret holds provider API keys outside the Go heap.
//
// A Buffer is an anonymous mmap region excluded from core dumps and,
// where the process's RLIMIT_MEMLOCK allows, locked against swap. Close
// zeroes and unmaps it. Keys are only copied onto the heap at the point
// they are handed to a child process environment.
package secret

import (
	"errors"
	"fmt"
	"sync"

	"golang.org/x/sys/unix"
)

// ErrClosed is the panic value for reads from a closed Buffer.
var ErrClosed = errors.New("secret: read from closed buffer")

// Buffer is a fixed-size region of protected memory. Must not be copied.
type Buffer struct {
	mu     sync.Mutex
	data   []byte
	locked bool
	closed bool
}

// New allocates size zeroed bytes of protected memory.
func New(size int) (*Buffer, error) {
	if size <= 0 {
		return nil, fmt.Errorf("secret: buffer size must be positive, got %d", size)
	}

	data, err := unix.Mmap(-1, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_PRIVATE|unix.MAP_ANONYMOUS)
	if err != nil {
		return nil, fmt.Errorf("secret: mmap: %w", err)
	}

	if err := unix.Madvise(data, unix.MADV_DONTDUMP); err != nil {
		unix.Munmap(data)
		return nil, fmt.Errorf("secret: madvise(MADV_DONTDUMP): %w", err)
	}

	// Containers commonly run with a tiny RLIMIT_MEMLOCK. An unlocked
	// buffer is still off-heap and excluded from dumps.
	locked := unix.Mlock(data) == nil

	return &Buffer{data: data, locked: locked}, nil
}

// NewFromBytes copies source into a new Buffer and zeroes source.
func NewFromBytes(source []byte) (*Buffer, error) {
	if len(source) == 0 {
		return nil, errors.New("secret: cannot create buffer from empty source")
	}
	buffer, err := New(len(source))
	if err != nil {
		return nil, err
	}
	copy(buffer.data, source)
	Zero(source)
	return buffer, nil
}

// NewFromString copies value into a new Buffer. The string itself
// cannot be scrubbed; callers should drop their reference promptly.
func NewFromString(value string) (*Buffer, error) {
	return NewFromBytes([]byte(value))
}

// Bytes returns a view into the protected region. The slice is only
// valid until Close. Panics with ErrClosed after Close.
func (buffer *Buffer) Bytes() []byte {
	buffer.mu.Lock()
	defer buffer.mu.Unlock()
	if buffer.closed {
		panic(ErrClosed)
	}
	return buffer.data
}

// String copies the secret onto the heap. Use only at boundaries that
// require a string, such as building a child process environment.
func (buffer *Buffer) String() string {
	return string(buffer.Bytes())
}

// Len is the secret's length in bytes.
func (buffer *Buffer) Len() int {
	buffer.mu.Lock()
	defer buffer.mu.Unlock()
	return len(buffer.data)
}

// Locked reports whether mlock succeeded for this buffer.
func (buffer *Buffer) Locked() bool {
	buffer.mu.Lock()
	defer buffer.mu.Unlock()
	return buffer.locked
}

// Close zeroes and releases the region. Idempotent.
func (buffer *Buffer) Close() error {
	buffer.mu.Lock()
	defer buffer.mu.Unlock()
	if buffer.closed {
		return nil
	}
	buffer.closed = true

	Zero(buffer.data)

	var errs []error
	if buffer.locked {
		if err := unix.Munlock(buffer.data); err != nil {
			errs = append(errs, fmt.Errorf("secret: munlock: %w", err))
		}
	}
	if err := unix.Munmap(buffer.data); err != nil {
		errs = append(errs, fmt.Errorf("secret: munmap: %w", err))
	}
	buffer.data = nil
	return errors.Join(errs...)
}

// Zero overwrites data with zero bytes.
func Zero(data []byte) {
	clear(data)
}
