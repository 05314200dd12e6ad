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

package asyncwriter

import (
	"context"
	"sync"

	"github.com/googlecloudplatform/gcsasyncwriter/internal/cord"
	"github.com/googlecloudplatform/gcsasyncwriter/internal/storage/gcs"
)

type tokenImpl struct {
	seq uint64
}

// AsyncToken permits one call on the AsyncWriter that issued it. The zero
// value is not valid for any writer.
type AsyncToken struct {
	impl *tokenImpl
}

// Valid reports whether the token was issued by a writer. It does not tell
// whether the writer still accepts it.
func (t AsyncToken) Valid() bool {
	return t.impl != nil
}

// AsyncWriter is a single-owner handle over a writer connection. Every call
// consumes the token returned by the previous one, so there is at most one
// outstanding call. It must not be copied.
type AsyncWriter struct {
	mu sync.Mutex

	// Nil once the upload was finalized.
	//
	// GUARDED_BY(mu)
	conn gcs.WriterConnection

	// The only token currently accepted, nil while a call is outstanding.
	//
	// GUARDED_BY(mu)
	token *tokenImpl
	seq   uint64

	// Kept for the accessors after conn is released.
	//
	// GUARDED_BY(mu)
	uploadID   string
	finalState gcs.PersistedState
}

// NewAsyncWriter returns a writer owning conn and the token for its first
// call.
func NewAsyncWriter(conn gcs.WriterConnection) (*AsyncWriter, AsyncToken) {
	w := &AsyncWriter{conn: conn, uploadID: conn.UploadID()}
	return w, AsyncToken{impl: w.mintLocked()}
}

// LOCKS_REQUIRED(w.mu)
func (w *AsyncWriter) mintLocked() *tokenImpl {
	w.seq++
	w.token = &tokenImpl{seq: w.seq}
	return w.token
}

// take validates and consumes token.
func (w *AsyncWriter) take(token AsyncToken) (gcs.WriterConnection, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.conn == nil {
		return nil, noConnectionError()
	}
	if token.impl == nil || token.impl != w.token {
		return nil, invalidTokenError()
	}
	w.token = nil
	return w.conn, nil
}

// Write sends p and returns the token for the next call. p must not be
// modified until the upload is finalized.
func (w *AsyncWriter) Write(ctx context.Context, token AsyncToken, p []byte) (AsyncToken, error) {
	conn, err := w.take(token)
	if err != nil {
		return AsyncToken{}, err
	}
	if err := conn.Write(ctx, cord.FromBytes(p)); err != nil {
		return AsyncToken{}, err
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	return AsyncToken{impl: w.mintLocked()}, nil
}

// Finalize completes the upload.
func (w *AsyncWriter) Finalize(ctx context.Context, token AsyncToken) (*gcs.Object, error) {
	return w.FinalizeWithData(ctx, token, nil)
}

// FinalizeWithData sends p and completes the upload. The writer releases its
// connection afterwards, whatever the outcome.
func (w *AsyncWriter) FinalizeWithData(ctx context.Context, token AsyncToken, p []byte) (*gcs.Object, error) {
	conn, err := w.take(token)
	if err != nil {
		return nil, err
	}
	o, err := conn.Finalize(ctx, cord.FromBytes(p))

	w.mu.Lock()
	defer w.mu.Unlock()
	w.finalState = conn.PersistedState()
	w.conn = nil
	return o, err
}

func (w *AsyncWriter) UploadID() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.uploadID
}

// PersistedState reports the upload's progress. After finalization it
// returns the state observed when the connection was released.
func (w *AsyncWriter) PersistedState() gcs.PersistedState {
	w.mu.Lock()
	conn := w.conn
	state := w.finalState
	w.mu.Unlock()
	if conn == nil {
		return state
	}
	return conn.PersistedState()
}
