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

// Package fake provides an in-memory gcs.Bucket with appendable upload
// semantics: bytes sent with Write are only persisted by a later Flush or
// Finalize on the same connection, and are lost when the connection fails.
// Tests use it to inject failures, stall requests and inspect the requests
// each upload received.
package fake

import (
	"context"
	"crypto/md5"
	"errors"
	"fmt"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/googlecloudplatform/gcsasyncwriter/internal/locker"
	"github.com/googlecloudplatform/gcsasyncwriter/internal/storage/gcs"
	"github.com/googlecloudplatform/gcsasyncwriter/internal/util"
	"github.com/jacobsa/timeutil"
)

// Op identifies a bucket or connection operation for error injection,
// stalling and the request log.
type Op int

const (
	OpCreate Op = iota
	OpResume
	OpWrite
	OpFlush
	OpFinalize
	OpQuery
)

func (o Op) String() string {
	switch o {
	case OpCreate:
		return "Create"
	case OpResume:
		return "Resume"
	case OpWrite:
		return "Write"
	case OpFlush:
		return "Flush"
	case OpFinalize:
		return "Finalize"
	case OpQuery:
		return "Query"
	default:
		return fmt.Sprintf("Op(%d)", int(o))
	}
}

// Request is one connection request as received by the fake.
type Request struct {
	Op   Op
	Size int64
}

type upload struct {
	id         string
	req        gcs.CreateObjectRequest
	generation int64
	persisted  []byte
	object     *gcs.Object

	// The connection that most recently created or resumed the upload.
	// Requests on older connections fail.
	owner *connection

	inFlight    int
	maxInFlight int
	requests    []Request
}

// Bucket is an in-memory gcs.Bucket. Create it with NewFakeBucket.
type Bucket struct {
	clock timeutil.Clock
	name  string

	mu locker.Locker

	// Uploads by id.
	//
	// GUARDED_BY(mu)
	uploads map[string]*upload

	// Finalized objects and their contents by name.
	//
	// GUARDED_BY(mu)
	objects  map[string]*gcs.Object
	contents map[string][]byte

	// The generation number assigned to the last upload created.
	//
	// GUARDED_BY(mu)
	prevGeneration int64

	// Errors returned, in order, by the next requests of each kind.
	//
	// GUARDED_BY(mu)
	injected map[Op][]error

	// Requests of a stalled kind block until the channel is closed.
	//
	// GUARDED_BY(mu)
	stalls map[Op]chan struct{}

	// GUARDED_BY(mu)
	creates int

	// GUARDED_BY(mu)
	resumes int
}

var _ gcs.Bucket = (*Bucket)(nil)

// NewFakeBucket returns an empty bucket named name whose object timestamps
// come from clock.
func NewFakeBucket(clock timeutil.Clock, name string) *Bucket {
	b := &Bucket{
		clock:    clock,
		name:     name,
		uploads:  make(map[string]*upload),
		objects:  make(map[string]*gcs.Object),
		contents: make(map[string][]byte),
		injected: make(map[Op][]error),
		stalls:   make(map[Op]chan struct{}),
	}
	b.mu = locker.New("fake.Bucket", b.checkInvariants)
	return b
}

// LOCKS_REQUIRED(b.mu)
func (b *Bucket) checkInvariants() {
	for id, up := range b.uploads {
		if up.inFlight < 0 || up.inFlight > up.maxInFlight {
			panic(fmt.Sprintf("upload %s: in-flight %d, max %d", id, up.inFlight, up.maxInFlight))
		}
		if up.object != nil && up.object.Size != int64(len(up.persisted)) {
			panic(fmt.Sprintf("upload %s: object size %d, persisted %d", id, up.object.Size, len(up.persisted)))
		}
	}
}

func (b *Bucket) Name() string {
	return b.name
}

// checkName returns an error if name is not a legal object name.
func checkName(name string) error {
	if name == "" {
		return errors.New("invalid object name: empty")
	}
	if len(name) > 1024 {
		return fmt.Errorf("invalid object name: %d bytes long", len(name))
	}
	if !utf8.ValidString(name) {
		return errors.New("invalid object name: not valid UTF-8")
	}
	return nil
}

// LOCKS_REQUIRED(b.mu)
func (b *Bucket) nameInUse(name string) bool {
	if _, ok := b.objects[name]; ok {
		return true
	}
	for _, up := range b.uploads {
		if up.req.Name == name && up.object == nil {
			return true
		}
	}
	return false
}

// LOCKS_REQUIRED(b.mu)
func (b *Bucket) takeInjectedError(op Op) error {
	errs := b.injected[op]
	if len(errs) == 0 {
		return nil
	}
	b.injected[op] = errs[1:]
	return errs[0]
}

func (b *Bucket) CreateAppendableUpload(ctx context.Context, req *gcs.CreateObjectRequest) (gcs.WriterConnection, error) {
	if err := checkName(req.Name); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	b.creates++
	if err := b.takeInjectedError(OpCreate); err != nil {
		return nil, err
	}

	if p := req.GenerationPrecondition; p != nil && *p == 0 && b.nameInUse(req.Name) {
		return nil, &gcs.PreconditionError{
			Err: fmt.Errorf("precondition failed: object %q exists", req.Name),
		}
	}

	b.prevGeneration++
	up := &upload{
		id:         uuid.NewString(),
		req:        *req,
		generation: b.prevGeneration,
	}
	b.uploads[up.id] = up

	return newConnection(ctx, b, up, gcs.PersistedOffset(0)), nil
}

func (b *Bucket) ResumeAppendableUpload(ctx context.Context, uploadID string) (gcs.WriterConnection, error) {
	if uploadID == "" {
		return nil, &gcs.InvalidUploadIDError{UploadID: uploadID, Reason: "empty upload id"}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	b.resumes++
	if err := b.takeInjectedError(OpResume); err != nil {
		return nil, err
	}

	up, ok := b.uploads[uploadID]
	if !ok {
		return nil, &gcs.NotFoundError{Err: fmt.Errorf("upload %q not found", uploadID)}
	}

	var state gcs.PersistedState = gcs.PersistedOffset(len(up.persisted))
	if up.object != nil {
		state = gcs.PersistedObject{Object: copyObject(up.object)}
	}
	return newConnection(ctx, b, up, state), nil
}

// LOCKS_REQUIRED(b.mu)
func (b *Bucket) mintObject(up *upload) *gcs.Object {
	now := b.clock.Now()
	crc := util.CRC32C(up.persisted)
	md5Sum := md5.Sum(up.persisted)
	metadata := make(map[string]string, len(up.req.Metadata))
	for k, v := range up.req.Metadata {
		metadata[k] = v
	}
	return &gcs.Object{
		Bucket:          b.name,
		Name:            up.req.Name,
		ContentType:     up.req.ContentType,
		ContentEncoding: up.req.ContentEncoding,
		Size:            int64(len(up.persisted)),
		Generation:      up.generation,
		MetaGeneration:  1,
		StorageClass:    "STANDARD",
		CRC32C:          &crc,
		MD5:             &md5Sum,
		Created:         now,
		Updated:         now,
		Finalized:       now,
		Metadata:        metadata,
	}
}

func copyObject(o *gcs.Object) *gcs.Object {
	c := *o
	if o.Metadata != nil {
		c.Metadata = make(map[string]string, len(o.Metadata))
		for k, v := range o.Metadata {
			c.Metadata[k] = v
		}
	}
	return &c
}

////////////////////////////////////////////////////////////////////////
// Test hooks
////////////////////////////////////////////////////////////////////////

// InjectError makes the next request of kind op fail with err. Errors queue
// up in the order they were injected. A connection that receives an injected
// error is broken: the bytes it sent since its last flush are lost and every
// later request on it fails with the same error.
func (b *Bucket) InjectError(op Op, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.injected[op] = append(b.injected[op], err)
}

// Stall makes requests of kind op block until Unstall(op) is called or
// their context is done.
func (b *Bucket) Stall(op Op) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.stalls[op]; !ok {
		b.stalls[op] = make(chan struct{})
	}
}

// Unstall releases the requests blocked by Stall(op).
func (b *Bucket) Unstall(op Op) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if ch, ok := b.stalls[op]; ok {
		close(ch)
		delete(b.stalls, op)
	}
}

// Object returns a copy of the finalized object called name and its
// contents.
func (b *Bucket) Object(name string) (*gcs.Object, []byte, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	o, ok := b.objects[name]
	if !ok {
		return nil, nil, false
	}
	return copyObject(o), append([]byte(nil), b.contents[name]...), true
}

// Persisted returns the bytes the service has persisted for an upload.
func (b *Bucket) Persisted(uploadID string) []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	if up, ok := b.uploads[uploadID]; ok {
		return append([]byte(nil), up.persisted...)
	}
	return nil
}

// Requests returns the requests received for an upload, across all of its
// connections, in arrival order.
func (b *Bucket) Requests(uploadID string) []Request {
	b.mu.Lock()
	defer b.mu.Unlock()
	if up, ok := b.uploads[uploadID]; ok {
		return append([]Request(nil), up.requests...)
	}
	return nil
}

// MaxInFlight returns the largest number of requests for an upload that
// were ever being served at the same time.
func (b *Bucket) MaxInFlight(uploadID string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	if up, ok := b.uploads[uploadID]; ok {
		return up.maxInFlight
	}
	return 0
}

// Creates returns the number of CreateAppendableUpload calls.
func (b *Bucket) Creates() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.creates
}

// Resumes returns the number of ResumeAppendableUpload calls.
func (b *Bucket) Resumes() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.resumes
}

// stallChannel returns the channel a request of kind op must wait on, or nil.
func (b *Bucket) stallChannel(op Op) <-chan struct{} {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.stalls[op]
}
