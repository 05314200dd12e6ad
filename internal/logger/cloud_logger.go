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
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"cloud.google.com/go/logging"
)

// NewCloudLogWriter creates a writer that ships json log entries to Google
// Cloud Logging under logID in the given project. Credentials come from
// Application Default Credentials.
func NewCloudLogWriter(projectID, logID string) (*cloudLogWriter, error) {
	client, err := logging.NewClient(context.Background(), projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to create cloud logging client: %w", err)
	}

	// Must not block; the upload keeps running when Cloud Logging is unhappy.
	client.OnError = func(err error) {
		fmt.Fprintf(os.Stderr, "%s: Cloud Logging client error: %v\n", ProgrammeName, err)
	}

	return &cloudLogWriter{
		logger: client.Logger(logID),
		client: client,
	}, nil
}

// cloudLogWriter implements io.WriteCloser on top of a Cloud Logging stream.
type cloudLogWriter struct {
	logger *logging.Logger
	client *logging.Client
}

// Write converts one json log line into a Cloud Logging entry.
func (w *cloudLogWriter) Write(p []byte) (n int, err error) {
	w.logger.Log(toEntry(p))
	return len(p), nil
}

// Close flushes any buffered entries and closes the client.
func (w *cloudLogWriter) Close() error {
	if err := w.client.Close(); err != nil {
		return fmt.Errorf("failed to close cloud logging client: %w", err)
	}
	return nil
}

type jsonTimestamp struct {
	Seconds int64 `json:"seconds"`
	Nanos   int64 `json:"nanos"`
}

// toEntry lifts severity and timestamp out of the payload so Cloud Logging
// indexes them. Lines that are not json are sent as text.
func toEntry(p []byte) logging.Entry {
	var payload map[string]any
	if err := json.Unmarshal(p, &payload); err != nil {
		return logging.Entry{Payload: string(p)}
	}

	entry := logging.Entry{}
	if severity, ok := payload["severity"].(string); ok {
		entry.Severity = mapSeverity(severity)
		delete(payload, "severity")
	}
	if raw, ok := payload["timestamp"]; ok {
		b, _ := json.Marshal(raw)
		var ts jsonTimestamp
		if json.Unmarshal(b, &ts) == nil && ts.Seconds > 0 {
			entry.Timestamp = time.Unix(ts.Seconds, ts.Nanos)
			delete(payload, "timestamp")
		}
	}
	entry.Payload = payload
	return entry
}

// mapSeverity converts a text severity level to a Cloud Logging severity.
func mapSeverity(level string) logging.Severity {
	switch level {
	case "TRACE", "DEBUG":
		return logging.Debug
	case "INFO":
		return logging.Info
	case "WARNING":
		return logging.Warning
	case "ERROR":
		return logging.Error
	default:
		return logging.Default
	}
}
