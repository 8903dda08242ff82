package buf

// Inspired by https://github.com/xtaci/smux/blob/master/alloc.go

import (
	"errors"
	"math/bits"
	"sync"
)

const (
	minAllocSize = 1 << 6
	maxAllocSize = 1 << 16
)

var DefaultAllocator = newDefaultAllocator()

type Allocator interface {
	Get(size int) []byte
	Put(buf []byte) error
}

// defaultAllocator hands out power-of-two slabs from 64 B to 64 KiB, so the
// waste of a single allocation never exceeds 50%.
type defaultAllocator struct {
	buffers [11]sync.Pool
}

func newDefaultAllocator() Allocator {
	alloc := new(defaultAllocator)
	for index := range alloc.buffers {
		size := minAllocSize << index
		alloc.buffers[index].New = func() any {
			buffer := make([]byte, size)
			return &buffer
		}
	}
	return alloc
}

func Get(size int) []byte {
	return DefaultAllocator.Get(size)
}

func Put(buf []byte) error {
	return DefaultAllocator.Put(buf)
}

// Get a []byte from pool with most appropriate cap
func (alloc *defaultAllocator) Get(size int) []byte {
	if size <= 0 || size > maxAllocSize {
		return nil
	}
	var index uint16
	if size > minAllocSize {
		index = msb(size)
		if size != 1<<index {
			index += 1
		}
		index -= 6
	}
	buffer := alloc.buffers[index].Get().(*[]byte)
	return (*buffer)[:size]
}

// Put returns a []byte to pool for future use,
// which the cap must be exactly 2^n
func (alloc *defaultAllocator) Put(buf []byte) error {
	bits := msb(cap(buf))
	if cap(buf) < minAllocSize || cap(buf) > maxAllocSize || cap(buf) != 1<<bits {
		return errors.New("allocator Put() incorrect buffer size")
	}
	buf = buf[:cap(buf)]
	alloc.buffers[bits-6].Put(&buf)
	return nil
}

// msb return the pos of most significant bit
func msb(size int) uint16 {
	return uint16(bits.Len32(uint32(size)) - 1)
}
