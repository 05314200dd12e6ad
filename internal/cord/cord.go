// Copyright 2026 Google LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package cord provides an append/remove-prefix byte sequence made of shared
// chunks. Appending and slicing never copy the caller's data, which makes it
// suitable for holding upload bytes until the service reports them persisted.
package cord

import (
	"bytes"
	"fmt"
	"io"
)

// Cord is an ordered sequence of bytes stored as a list of chunks. The zero
// value is an empty cord ready to use.
//
// A Cord retains the slices passed to Append; callers must not modify them
// afterwards. Not safe for concurrent mutation.
type Cord struct {
	// INVARIANT: No chunk is empty.
	// INVARIANT: size == sum(len(c) for c in chunks)
	chunks [][]byte
	size   int64
}

// FromBytes returns a cord holding p without copying it.
func FromBytes(p []byte) Cord {
	var c Cord
	c.Append(p)
	return c
}

// FromString returns a cord holding a copy of s.
func FromString(s string) Cord {
	return FromBytes([]byte(s))
}

// Size returns the number of bytes in the cord.
func (c *Cord) Size() int64 {
	return c.size
}

// Empty reports whether the cord holds no bytes.
func (c *Cord) Empty() bool {
	return c.size == 0
}

// Append adds p to the logical end of the cord.
func (c *Cord) Append(p []byte) {
	if len(p) == 0 {
		return
	}
	c.chunks = append(c.chunks, p)
	c.size += int64(len(p))
}

// AppendCord adds the contents of other to the logical end of the cord. The
// chunks are shared, not copied.
func (c *Cord) AppendCord(other Cord) {
	for _, chunk := range other.chunks {
		c.Append(chunk)
	}
}

// Subcord returns a read-only view of length bytes starting at offset. The
// range is clamped to the cord's bounds. The returned cord shares storage
// with c.
func (c *Cord) Subcord(offset, length int64) Cord {
	var out Cord
	if offset < 0 {
		offset = 0
	}
	if offset >= c.size || length <= 0 {
		return out
	}
	if offset+length > c.size {
		length = c.size - offset
	}

	for _, chunk := range c.chunks {
		if length == 0 {
			break
		}
		n := int64(len(chunk))
		if offset >= n {
			offset -= n
			continue
		}
		end := min(n, offset+length)
		out.Append(chunk[offset:end:end])
		length -= end - offset
		offset = 0
	}
	return out
}

// RemovePrefix discards the first n bytes.
//
// Removing more bytes than the cord holds is a programming error and panics.
func (c *Cord) RemovePrefix(n int64) {
	if n < 0 || n > c.size {
		panic(fmt.Sprintf("cord: RemovePrefix(%d) out of range for size %d", n, c.size))
	}
	c.size -= n

	i := 0
	for ; i < len(c.chunks) && n > 0; i++ {
		l := int64(len(c.chunks[i]))
		if n < l {
			c.chunks[i] = c.chunks[i][n:]
			break
		}
		n -= l
		// Drop the reference so the chunk can be collected.
		c.chunks[i] = nil
	}
	c.chunks = c.chunks[i:]
	if len(c.chunks) == 0 {
		c.chunks = nil
	}
}

// Clear empties the cord.
func (c *Cord) Clear() {
	clear(c.chunks)
	c.chunks = nil
	c.size = 0
}

// Chunks returns the underlying chunks. The result must be treated as
// read-only.
func (c *Cord) Chunks() [][]byte {
	return c.chunks
}

// Bytes returns a flattened copy of the cord's contents.
func (c *Cord) Bytes() []byte {
	out := make([]byte, 0, c.size)
	for _, chunk := range c.chunks {
		out = append(out, chunk...)
	}
	return out
}

// String returns the contents as a string, mostly useful in tests.
func (c *Cord) String() string {
	return string(c.Bytes())
}

// WriteTo writes every chunk to w in order.
func (c *Cord) WriteTo(w io.Writer) (n int64, err error) {
	for _, chunk := range c.chunks {
		var m int
		m, err = w.Write(chunk)
		n += int64(m)
		if err != nil {
			return
		}
		if m != len(chunk) {
			err = io.ErrShortWrite
			return
		}
	}
	return
}

// Reader returns an io.Reader over the cord's current contents.
func (c *Cord) Reader() io.Reader {
	readers := make([]io.Reader, 0, len(c.chunks))
	for _, chunk := range c.chunks {
		readers = append(readers, bytes.NewReader(chunk))
	}
	return io.MultiReader(readers...)
}

// Equal reports whether both cords hold the same bytes, regardless of how
// they are chunked.
func (c *Cord) Equal(other Cord) bool {
	if c.size != other.size {
		return false
	}
	return bytes.Equal(c.Bytes(), other.Bytes())
}
