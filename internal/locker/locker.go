// Copyright 2023 Google Inc. All Rights Reserved.
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

// Package locker provides mutexes with optional invariant checking and
// long-hold detection, both switched on process-wide from debug flags.
package locker

import (
	"runtime"
	"sync"
	"time"

	"github.com/googlecloudplatform/gcsasyncwriter/internal/logger"
)

var (
	gEnableInvariantsCheck bool
	gEnableDebugMessages   bool

	// A lock held longer than this is reported as a potential deadlock.
	gHoldThreshold = 5 * time.Second
)

// EnableInvariantsCheck makes lockers created afterwards run their check
// function after every Lock and before every Unlock.
func EnableInvariantsCheck() {
	gEnableInvariantsCheck = true
}

// EnableDebugMessages makes lockers created afterwards log the holder's stack
// when a lock is held for too long.
func EnableDebugMessages() {
	gEnableDebugMessages = true
}

// Locker is a sync.Locker with optional debug wrappers.
type Locker interface {
	sync.Locker
}

// RWLocker additionally offers shared locking.
type RWLocker interface {
	sync.Locker
	RLock()
	RUnlock()
}

// New returns a mutex named name. check, if non-nil, panics when the state
// guarded by the mutex is inconsistent.
func New(name string, check func()) Locker {
	return wrap(&sync.Mutex{}, name, check)
}

// NewRW returns a RW mutex named name.
//
// Note: The deadlock detection is done only for writer lock and not for reader
// lock.
func NewRW(name string, check func()) RWLocker {
	rw := &sync.RWMutex{}
	l := &rwLocker{
		Locker: wrap(rw, name, check),
		rw:     rw,
	}
	if gEnableInvariantsCheck {
		l.readCheck = check
	}
	return l
}

func wrap(l sync.Locker, name string, check func()) Locker {
	if gEnableInvariantsCheck && check != nil {
		l = &checker{locker: l, check: check}
	}
	if gEnableDebugMessages {
		l = &debugger{locker: l, name: name}
	}
	return l
}

type checker struct {
	locker sync.Locker
	check  func()
}

func (c *checker) Lock() {
	c.locker.Lock()
	c.check()
}

func (c *checker) Unlock() {
	c.check()
	c.locker.Unlock()
}

type debugger struct {
	locker sync.Locker
	name   string
	holder string
	timer  *time.Timer
}

func (d *debugger) Lock() {
	d.locker.Lock()

	buf := make([]byte, 2048)
	n := runtime.Stack(buf, false /* all */)
	holder := string(buf[:n])
	d.holder = holder

	d.timer = time.AfterFunc(gHoldThreshold, func() {
		logger.Warnf("debug_mutex: Potential dead lock detected for a lock %q held by: %v\n", d.name, holder)
	})
}

func (d *debugger) Unlock() {
	d.holder = ""
	d.timer.Stop()
	d.timer = nil

	d.locker.Unlock()
}

type rwLocker struct {
	Locker
	rw        *sync.RWMutex
	readCheck func()
}

func (l *rwLocker) RLock() {
	l.rw.RLock()
	if l.readCheck != nil {
		l.readCheck()
	}
}

func (l *rwLocker) RUnlock() {
	if l.readCheck != nil {
		l.readCheck()
	}
	l.rw.RUnlock()
}
