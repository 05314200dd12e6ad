// Copyright 2024 Google LLC
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

package block

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/sync/semaphore"
)

// ErrNoBlock is returned when an upload may not hold another block, either
// because it reached its own limit or because the process-wide budget is
// spent.
var ErrNoBlock = errors.New("no upload block available")

// Pool owns the blocks of a single upload. Blocks are created lazily, up to
// maxBlocks, and each block beyond the first takes a slot from a semaphore
// shared by every upload in the process. The first slot is taken by NewPool
// so an upload that got a pool can always make progress.
//
// A Pool is used by one writer goroutine and the upload goroutine returning
// persisted blocks; Get and TryGet must not be called concurrently.
type Pool struct {
	free      chan Block
	blockSize int64
	maxBlocks int64

	// Blocks created and not yet deallocated.
	allocated int64

	budget *semaphore.Weighted
	create func(size int64) (Block, error)
}

// NewPool reserves the first block slot from budget and returns a pool of
// blocks of blockSize bytes.
func NewPool(blockSize, maxBlocks int64, budget *semaphore.Weighted) (*Pool, error) {
	return newPool(blockSize, maxBlocks, budget, createBlock)
}

func newPool(blockSize, maxBlocks int64, budget *semaphore.Weighted, create func(int64) (Block, error)) (*Pool, error) {
	if blockSize <= 0 || maxBlocks <= 0 {
		return nil, fmt.Errorf("invalid block pool: block size %d, max blocks %d", blockSize, maxBlocks)
	}
	if !budget.TryAcquire(1) {
		return nil, ErrNoBlock
	}

	return &Pool{
		free:      make(chan Block, maxBlocks),
		blockSize: blockSize,
		maxBlocks: maxBlocks,
		budget:    budget,
		create:    create,
	}, nil
}

// Get returns an empty block, waiting for one to be put back when the pool
// cannot grow.
func (p *Pool) Get(ctx context.Context) (Block, error) {
	b, err := p.TryGet()
	if !errors.Is(err, ErrNoBlock) {
		return b, err
	}

	select {
	case b := <-p.free:
		b.Reuse()
		return b, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// TryGet returns a free block, or a new one if the pool may grow. It
// returns ErrNoBlock otherwise.
func (p *Pool) TryGet() (Block, error) {
	select {
	case b := <-p.free:
		b.Reuse()
		return b, nil
	default:
	}

	if p.allocated >= p.maxBlocks {
		return nil, ErrNoBlock
	}
	// The first block uses the slot reserved by newPool.
	reserved := p.allocated == 0
	if !reserved && !p.budget.TryAcquire(1) {
		return nil, ErrNoBlock
	}

	b, err := p.create(p.blockSize)
	if err != nil {
		if !reserved {
			p.budget.Release(1)
		}
		return nil, err
	}
	p.allocated++
	return b, nil
}

// Put hands a block back. Putting more blocks than the pool created is a
// bug and panics.
func (p *Pool) Put(b Block) {
	select {
	case p.free <- b:
	default:
		panic("block pool: more blocks put back than were created")
	}
}

// BlockSize is the capacity of every block in the pool.
func (p *Pool) BlockSize() int64 {
	return p.blockSize
}

// Free is the number of blocks waiting to be reused.
func (p *Pool) Free() int {
	return len(p.free)
}

// Allocated is the number of blocks the pool currently owns.
func (p *Pool) Allocated() int64 {
	return p.allocated
}

// slots is the number of budget slots the pool holds.
func (p *Pool) slots() int64 {
	return max(p.allocated, 1)
}

// Close deallocates the free blocks and gives their slots back to the
// budget. The reserved slot goes back only once every block is returned;
// blocks still out are reported as an error.
func (p *Pool) Close() error {
	before := p.slots()
	var err error
	for done := false; !done; {
		select {
		case b := <-p.free:
			if derr := b.Deallocate(); derr != nil {
				err = errors.Join(err, fmt.Errorf("munmap error: %w", derr))
			}
			p.allocated--
		default:
			done = true
		}
	}

	if p.allocated == 0 {
		p.budget.Release(before)
		return err
	}
	p.budget.Release(before - p.allocated)
	return errors.Join(err, fmt.Errorf("%d blocks still in use", p.allocated))
}
