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

package cfg

const (
	// Logging-level constants

	TRACE   string = "TRACE"
	DEBUG   string = "DEBUG"
	INFO    string = "INFO"
	WARNING string = "WARNING"
	ERROR   string = "ERROR"
	OFF     string = "OFF"
)

const (
	// TextLogFormat prints logs as key=value pairs.
	TextLogFormat = "text"
	// JSONLogFormat prints one json object per log entry.
	JSONLogFormat = "json"
)

const (
	// TracingModeDisabled turns tracing off.
	TracingModeDisabled = ""
	// TracingModeStdout prints finished spans to stdout.
	TracingModeStdout = "stdout"
	// TracingModeGCPTrace exports sampled spans to Cloud Trace.
	TracingModeGCPTrace = "gcptrace"
)

const (
	// MaxWriteChunkKB is the largest write message the service accepts.
	MaxWriteChunkKB = 2048

	// ParallelUploadsNumCPU makes parallel-uploads follow the number of CPUs.
	ParallelUploadsNumCPU = -1
)
