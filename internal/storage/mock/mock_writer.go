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

package mock

import (
	"context"

	"github.com/googlecloudplatform/gcsasyncwriter/internal/cord"
	"github.com/googlecloudplatform/gcsasyncwriter/internal/storage/gcs"
	"github.com/stretchr/testify/mock"
	"google.golang.org/grpc/metadata"
)

// MockWriterConnection is a testify mock of gcs.WriterConnection. Payloads are
// passed to Called as strings so expectations can match on content.
type MockWriterConnection struct {
	mock.Mock
}

func (m *MockWriterConnection) UploadID() string {
	args := m.Called()
	return args.String(0)
}

func (m *MockWriterConnection) PersistedState() gcs.PersistedState {
	args := m.Called()
	return args.Get(0).(gcs.PersistedState)
}

func (m *MockWriterConnection) Write(ctx context.Context, p cord.Cord) error {
	args := m.Called(ctx, p.String())
	return args.Error(0)
}

func (m *MockWriterConnection) Flush(ctx context.Context, p cord.Cord) error {
	args := m.Called(ctx, p.String())
	return args.Error(0)
}

func (m *MockWriterConnection) Finalize(ctx context.Context, p cord.Cord) (*gcs.Object, error) {
	args := m.Called(ctx, p.String())
	if args.Get(1) != nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*gcs.Object), nil
}

func (m *MockWriterConnection) Query(ctx context.Context) (int64, error) {
	args := m.Called(ctx)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockWriterConnection) Cancel() {
	m.Called()
}

func (m *MockWriterConnection) RequestMetadata() metadata.MD {
	args := m.Called()
	if args.Get(0) == nil {
		return nil
	}
	return args.Get(0).(metadata.MD)
}
