package block

import (
	"fmt"
	"io"

	"golang.org/x/sys/unix"
)

// Block is a fixed-capacity buffer filled from a source and handed to an
// upload as-is. Its bytes must stay untouched until the upload no longer
// references them.
type Block interface {
	// Reuse empties the block so it can be filled again.
	Reuse()

	// Deallocate unmaps the block's memory. The block is unusable
	// afterwards.
	Deallocate() error

	// Size provides the current size of the block.
	Size() int64

	// Cap is the number of bytes the block can hold.
	Cap() int64

	// Bytes returns the filled part of the block. It aliases the block's
	// memory.
	Bytes() []byte

	// ReadFrom fills the rest of the block from r. It returns io.EOF only
	// when r is exhausted.
	ReadFrom(r io.Reader) (int64, error)
}

type memoryBlock struct {
	buffer []byte
	size   int
}

func (m *memoryBlock) Reuse() {
	clear(m.buffer[:m.size])
	m.size = 0
}

func (m *memoryBlock) Deallocate() error {
	if m.buffer == nil {
		return fmt.Errorf("invalid buffer")
	}
	err := unix.Munmap(m.buffer)
	m.buffer = nil
	return err
}

func (m *memoryBlock) Size() int64 {
	return int64(m.size)
}

func (m *memoryBlock) Cap() int64 {
	return int64(len(m.buffer))
}

func (m *memoryBlock) Bytes() []byte {
	return m.buffer[:m.size:m.size]
}

func (m *memoryBlock) ReadFrom(r io.Reader) (int64, error) {
	n, err := io.ReadFull(r, m.buffer[m.size:])
	m.size += n
	if err == io.ErrUnexpectedEOF {
		err = io.EOF
	}
	return int64(n), err
}

// createBlock maps an anonymous region of blockSize bytes outside the Go
// heap.
func createBlock(blockSize int64) (Block, error) {
	prot, flags := unix.PROT_READ|unix.PROT_WRITE, unix.MAP_ANON|unix.MAP_PRIVATE
	addr, err := unix.Mmap(-1, 0, int(blockSize), prot, flags)
	if err != nil {
		return nil, fmt.Errorf("mmap error: %v", err)
	}

	return &memoryBlock{buffer: addr}, nil
}
