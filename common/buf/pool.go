package buf

import "sync"

var bufferPool = sync.Pool{
	New: func() any {
		return new(Buffer)
	},
}

func getBuffer() *Buffer {
	return bufferPool.Get().(*Buffer)
}

func putBuffer(buffer *Buffer) {
	bufferPool.Put(buffer)
}
