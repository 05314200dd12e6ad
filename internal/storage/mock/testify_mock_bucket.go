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

	"github.com/googlecloudplatform/gcsasyncwriter/internal/storage/gcs"
	"github.com/stretchr/testify/mock"
)

type TestifyMockBucket struct {
	mock.Mock
}

func (m *TestifyMockBucket) Name() string {
	args := m.Called()
	return args.String(0)
}

func (m *TestifyMockBucket) CreateAppendableUpload(ctx context.Context, req *gcs.CreateObjectRequest) (gcs.WriterConnection, error) {
	args := m.Called(ctx, req)
	if args.Get(1) != nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(gcs.WriterConnection), nil
}

func (m *TestifyMockBucket) ResumeAppendableUpload(ctx context.Context, uploadID string) (gcs.WriterConnection, error) {
	args := m.Called(ctx, uploadID)
	if args.Get(1) != nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(gcs.WriterConnection), nil
}
