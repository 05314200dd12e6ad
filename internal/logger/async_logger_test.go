// Copyright 2025 Google LLC
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

package logger

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/natefinch/lumberjack.v2"
)

// captureStderr captures everything written to os.Stderr during the execution of a function.
func captureStderr(f func()) string {
	oldStderr := os.Stderr
	r, w, _ := os.Pipe()
	os.Stderr = w
	defer func() {
		os.Stderr = oldStderr
	}()

	f()
	w.Close()

	var stderrBuf bytes.Buffer
	io.Copy(&stderrBuf, r)
	r.Close()
	return stderrBuf.String()
}

// gatedWriter blocks every Write until release is closed and reports when the
// first Write started.
type gatedWriter struct {
	started chan struct{}
	release chan struct{}
	once    sync.Once
	mu      sync.Mutex
	buf     bytes.Buffer
	closed  bool
}

func newGatedWriter() *gatedWriter {
	return &gatedWriter{started: make(chan struct{}), release: make(chan struct{})}
}

func (g *gatedWriter) Write(p []byte) (int, error) {
	g.once.Do(func() { close(g.started) })
	<-g.release
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.buf.Write(p)
}

func (g *gatedWriter) Close() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.closed = true
	return nil
}

func TestAsyncLogger_WriteAndClose(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "test.log")
	lj := &lumberjack.Logger{Filename: logPath}
	asyncLogger := NewAsyncLogger(lj, 10)

	fmt.Fprintln(asyncLogger, "message 1")
	fmt.Fprintln(asyncLogger, "message 2")
	fmt.Fprintln(asyncLogger, "message 3")
	err := asyncLogger.Close()

	require.NoError(t, err)
	content, err := os.ReadFile(logPath)
	require.NoError(t, err)
	assert.Equal(t, "message 1\nmessage 2\nmessage 3\n", string(content))
}

func TestAsyncLogger_DropMessageWhenBufferFull(t *testing.T) {
	w := newGatedWriter()
	asyncLogger := NewAsyncLogger(w, 1)

	captured := captureStderr(func() {
		fmt.Fprint(asyncLogger, "first\n")
		<-w.started
		// The writer goroutine holds "first"; "second" fills the queue.
		fmt.Fprint(asyncLogger, "second\n")
		fmt.Fprint(asyncLogger, "third\n")
	})
	close(w.release)
	require.NoError(t, asyncLogger.Close())

	assert.Contains(t, captured, "asynclogger: log buffer is full, dropping message.")
	assert.Equal(t, "first\nsecond\n", w.buf.String())
	assert.True(t, w.closed)
}

func TestAsyncLogger_WriteAfterClose(t *testing.T) {
	w := newGatedWriter()
	close(w.release)
	asyncLogger := NewAsyncLogger(w, 1)
	require.NoError(t, asyncLogger.Close())

	n, err := asyncLogger.Write([]byte("late"))

	assert.ErrorIs(t, err, os.ErrClosed)
	assert.Zero(t, n)
	assert.NoError(t, asyncLogger.Close())
}

func TestAsyncLogger_CopiesCallerBuffer(t *testing.T) {
	w := newGatedWriter()
	close(w.release)
	asyncLogger := NewAsyncLogger(w, 4)
	p := []byte("abc\n")

	_, err := asyncLogger.Write(p)
	require.NoError(t, err)
	copy(p, "xyz\n")
	require.NoError(t, asyncLogger.Close())

	assert.Equal(t, "abc\n", w.buf.String())
}
