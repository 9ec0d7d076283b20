package audio

import (
	"sync"
)

// ChunkBuffer accumulates captured chunks between start and stop.
type ChunkBuffer struct {
	mu     sync.RWMutex
	chunks [][]byte
	size   int
}

// NewChunkBuffer creates an empty chunk buffer
func NewChunkBuffer() *ChunkBuffer {
	return &ChunkBuffer{}
}

// Append stores a copy of data and returns the number of bytes stored
func (b *ChunkBuffer) Append(data []byte) int {
	if len(data) == 0 {
		return 0
	}
	chunk := make([]byte, len(data))
	copy(chunk, data)

	b.mu.Lock()
	defer b.mu.Unlock()
	b.chunks = append(b.chunks, chunk)
	b.size += len(chunk)
	return len(chunk)
}

// Bytes concatenates all chunks in arrival order
func (b *ChunkBuffer) Bytes() []byte {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make([]byte, 0, b.size)
	for _, chunk := range b.chunks {
		out = append(out, chunk...)
	}
	return out
}

// Len returns the number of buffered bytes
func (b *ChunkBuffer) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.size
}

// Chunks returns the number of buffered chunks
func (b *ChunkBuffer) Chunks() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.chunks)
}

// Clear drops all buffered chunks
func (b *ChunkBuffer) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.chunks = nil
	b.size = 0
}

// IsEmpty returns true if nothing has been buffered
func (b *ChunkBuffer) IsEmpty() bool {
	return b.Len() == 0
}
