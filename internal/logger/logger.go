// Copyright 2020 Google Inc. All Rights Reserved.
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

// Package logger provides the process-wide structured logger. Messages go to
// stdout by default, or to a rotated log file or Cloud Logging once
// InitLogFile is called.
package logger

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/googlecloudplatform/gcsasyncwriter/cfg"
	"gopkg.in/natefinch/lumberjack.v2"
)

// ProgrammeName is used as the log id in Cloud Logging.
const ProgrammeName string = "gcsasyncwriter"

var (
	defaultLoggerFactory *loggerFactory
	defaultLogger        *slog.Logger
	programLevel         = new(slog.LevelVar)
)

// init initializes the logger factory to use stdout.
func init() {
	defaultLoggerFactory = &loggerFactory{
		format: cfg.TextLogFormat,
		level:  cfg.INFO,
	}
	defaultLogger = defaultLoggerFactory.newLogger()
}

// InitLogFile initializes the logger factory to create loggers that print to
// the configured sink. Cloud Logging takes precedence over a log file; with
// neither set, logs keep going to stdout.
func InitLogFile(c cfg.LoggingConfig) error {
	var sink io.WriteCloser
	switch {
	case c.CloudLoggingProject != "":
		w, err := NewCloudLogWriter(c.CloudLoggingProject, ProgrammeName)
		if err != nil {
			return err
		}
		sink = w
	case c.FilePath != "":
		sink = &lumberjack.Logger{
			Filename:   string(c.FilePath),
			MaxSize:    int(c.LogRotate.MaxFileSizeMb),
			MaxBackups: int(c.LogRotate.BackupFileCount),
			Compress:   c.LogRotate.Compress,
		}
		if c.AsyncBufferSize > 0 {
			sink = NewAsyncLogger(sink, int(c.AsyncBufferSize))
		}
	}

	Close()
	defaultLoggerFactory = &loggerFactory{
		sink:            sink,
		format:          c.Format,
		level:           string(c.Severity),
		logRotateConfig: c.LogRotate,
	}
	defaultLogger = defaultLoggerFactory.newLogger()

	return nil
}

// SetLogFormat updates the format of the default logger.
func SetLogFormat(format string) {
	defaultLoggerFactory.format = format
	defaultLogger = defaultLoggerFactory.newLogger()
}

// Close flushes and closes the log sink when necessary.
func Close() {
	if s := defaultLoggerFactory.sink; s != nil {
		if err := s.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "%s: closing log sink: %v\n", ProgrammeName, err)
		}
		defaultLoggerFactory.sink = nil
	}
}

// Tracef prints the message with TRACE severity in the specified format.
func Tracef(format string, v ...any) {
	logf(LevelTrace, format, v...)
}

// Debugf prints the message with DEBUG severity in the specified format.
func Debugf(format string, v ...any) {
	logf(LevelDebug, format, v...)
}

// Infof prints the message with INFO severity in the specified format.
func Infof(format string, v ...any) {
	logf(LevelInfo, format, v...)
}

// Warnf prints the message with WARNING severity in the specified format.
func Warnf(format string, v ...any) {
	logf(LevelWarn, format, v...)
}

// Errorf prints the message with ERROR severity in the specified format.
func Errorf(format string, v ...any) {
	logf(LevelError, format, v...)
}

func logf(level slog.Level, format string, v ...any) {
	ctx := context.Background()
	if !defaultLogger.Enabled(ctx, level) {
		return
	}
	defaultLogger.Log(ctx, level, fmt.Sprintf(format, v...))
}

type loggerFactory struct {
	// If nil, log to stdout. Otherwise, log to this sink.
	sink            io.WriteCloser
	format          string
	level           string
	logRotateConfig cfg.LogRotateLoggingConfig
}

func (f *loggerFactory) newLogger() *slog.Logger {
	setLoggingLevel(f.level, programLevel)
	return slog.New(f.handler(programLevel, ""))
}

func (f *loggerFactory) writer() io.Writer {
	if f.sink != nil {
		return f.sink
	}
	return os.Stdout
}

func (f *loggerFactory) handler(levelVar *slog.LevelVar, prefix string) slog.Handler {
	return f.createJsonOrTextHandler(f.writer(), levelVar, prefix)
}

func (f *loggerFactory) createJsonOrTextHandler(writer io.Writer, levelVar *slog.LevelVar, prefix string) slog.Handler {
	if f.format == cfg.TextLogFormat {
		return slog.NewTextHandler(writer, getHandlerOptions(levelVar, prefix, f.format))
	}
	return slog.NewJSONHandler(writer, getHandlerOptions(levelVar, prefix, f.format))
}
