// Copyright 2025 Google LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package logger

import (
	"fmt"
	"io"
	"os"
	"sync"
)

// AsyncLogger decouples log producers from a slow sink. Messages are queued
// on a bounded channel and written by a single goroutine; when the queue is
// full the message is dropped and a notice is printed to stderr.
type AsyncLogger struct {
	w    io.WriteCloser
	ch   chan []byte
	done chan struct{}

	mu     sync.RWMutex
	closed bool // GUARDED_BY(mu)
}

// NewAsyncLogger starts the writer goroutine for w with room for bufferSize
// queued messages.
func NewAsyncLogger(w io.WriteCloser, bufferSize int) *AsyncLogger {
	l := &AsyncLogger{
		w:    w,
		ch:   make(chan []byte, bufferSize),
		done: make(chan struct{}),
	}
	go l.run()
	return l
}

func (l *AsyncLogger) run() {
	defer close(l.done)
	for p := range l.ch {
		if _, err := l.w.Write(p); err != nil {
			fmt.Fprintf(os.Stderr, "asynclogger: write failed: %v\n", err)
		}
	}
}

// Write queues a copy of p. It never blocks.
func (l *AsyncLogger) Write(p []byte) (int, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.closed {
		return 0, os.ErrClosed
	}

	msg := make([]byte, len(p))
	copy(msg, p)
	select {
	case l.ch <- msg:
	default:
		fmt.Fprintln(os.Stderr, "asynclogger: log buffer is full, dropping message.")
	}
	return len(p), nil
}

// Close drains the queue and closes the underlying writer.
func (l *AsyncLogger) Close() error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil
	}
	l.closed = true
	close(l.ch)
	l.mu.Unlock()

	<-l.done
	return l.w.Close()
}
