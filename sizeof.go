package timedeque

import "unsafe"

// sizeOfCacheLine is the assumed size of a CPU cache line, used only to
// size the padding below. 64 bytes is standard for x86-64; 128 bytes
// covers Apple Silicon and other ARM64 parts too, so padding is sized
// against the larger value.
const sizeOfCacheLine = 128

// cacheLinePad reserves enough bytes to push the field that follows it
// onto its own cache line, keeping a hot, frequently-written field
// (localBuffer.guestCounter, written on every insert/peek/tryUnlink)
// from false-sharing a line with a colder neighbour (lastIndex, touched
// only by the occupying goroutine).
type cacheLinePad [sizeOfCacheLine]byte

// NodeSize reports the in-memory size of one bufferNode[T], including
// the embedded item payload. WithNodePool callers sizing a bounded
// sync.Pool budget (or estimating a buffer's worst-case memory
// footprint from [Deque.RegistrySize] and a delayed-table size) can use
// this instead of guessing.
func NodeSize[T any]() uintptr {
	var n bufferNode[T]
	return unsafe.Sizeof(n)
}
