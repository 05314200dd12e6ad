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

package metrics

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"
)

type MockMetricHandle struct {
	mock.Mock
}

func (m *MockMetricHandle) UploadBufferedBytes(inc int64) {
	m.Called(inc)
}

func (m *MockMetricHandle) UploadFlowControlWaitCount(inc int64) {
	m.Called(inc)
}

func (m *MockMetricHandle) UploadRequestCount(inc int64, uploadMethod UploadMethod) {
	m.Called(inc, uploadMethod)
}

func (m *MockMetricHandle) UploadRequestLatencies(ctx context.Context, latency time.Duration, uploadMethod UploadMethod) {
	m.Called(ctx, latency, uploadMethod)
}

func (m *MockMetricHandle) UploadResumeCount(inc int64, status ResumeStatus) {
	m.Called(inc, status)
}

func (m *MockMetricHandle) UploadSentBytesCount(inc int64, uploadMethod UploadMethod) {
	m.Called(inc, uploadMethod)
}
