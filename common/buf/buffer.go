package buf

import "io"

// Buffer is a byte slice with a read cursor (start) and a write cursor (end).
// Bytes between the two are the unread payload.
type Buffer struct {
	data        []byte
	start       int
	end         int
	capacity    int
	managed     bool
	dataManaged bool
}

func NewSize(size int) *Buffer {
	buffer := getBuffer()
	if size == 0 {
		*buffer = Buffer{
			managed: true,
		}
	} else if size > maxAllocSize {
		*buffer = Buffer{
			data:     make([]byte, size),
			capacity: size,
			managed:  true,
		}
	} else {
		*buffer = Buffer{
			data:        Get(size),
			capacity:    size,
			managed:     true,
			dataManaged: true,
		}
	}
	return buffer
}

// As wraps data as a full buffer. The slice is not copied and is never
// returned to the allocator.
func As(data []byte) *Buffer {
	buffer := getBuffer()
	*buffer = Buffer{
		data:     data,
		end:      len(data),
		capacity: len(data),
		managed:  true,
	}
	return buffer
}

func (b *Buffer) Advance(from int) {
	b.start += from
}

func (b *Buffer) Truncate(to int) {
	b.end = b.start + to
}

func (b *Buffer) WriteString(s string) (n int, err error) {
	if len(s) == 0 {
		return
	}
	if b.IsFull() {
		return 0, io.ErrShortBuffer
	}
	n = copy(b.data[b.end:b.capacity], s)
	b.end += n
	return
}

func (b *Buffer) Release() {
	if b == nil || !b.managed {
		return
	}
	if b.dataManaged {
		_ = Put(b.data)
	}
	*b = Buffer{}
	putBuffer(b)
}

func (b *Buffer) Len() int {
	return b.end - b.start
}

func (b *Buffer) Cap() int {
	return b.capacity
}

func (b *Buffer) Bytes() []byte {
	return b.data[b.start:b.end]
}

func (b *Buffer) FreeBytes() []byte {
	return b.data[b.end:b.capacity]
}

func (b *Buffer) IsEmpty() bool {
	return b.end-b.start == 0
}

func (b *Buffer) IsFull() bool {
	return b.end == b.capacity
}

func (b *Buffer) String() string {
	return string(b.Bytes())
}
