package util

import "sync"

// DefaultChunkSize is the largest single receive request (64 KiB).
const DefaultChunkSize = 64 * 1024

// BufPool provides reusable receive buffers so the per-chunk read loop
// does not allocate a fresh 64 KiB slice for every request.
var BufPool = sync.Pool{
	New: func() interface{} {
		buf := make([]byte, DefaultChunkSize)
		return &buf
	},
}

// GetBuf retrieves a buffer from the pool.  Callers must return it
// with [PutBuf] when finished.
func GetBuf() *[]byte {
	return BufPool.Get().(*[]byte)
}

// PutBuf returns a buffer to the pool for reuse.
func PutBuf(buf *[]byte) {
	if buf == nil {
		return
	}
	BufPool.Put(buf)
}
