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

import (
	"fmt"
	"slices"
	"strings"

	"github.com/googlecloudplatform/gcsasyncwriter/internal/util"
	"github.com/mitchellh/mapstructure"
)

// LogSeverity represents the logging severity and can accept the following values
// "TRACE", "DEBUG", "INFO", "WARNING", "ERROR", "OFF"
type LogSeverity string

// Constants for all supported log severities.
const (
	TraceLogSeverity   LogSeverity = "TRACE"
	DebugLogSeverity   LogSeverity = "DEBUG"
	InfoLogSeverity    LogSeverity = "INFO"
	WarningLogSeverity LogSeverity = "WARNING"
	ErrorLogSeverity   LogSeverity = "ERROR"
	OffLogSeverity     LogSeverity = "OFF"
)

// severityOrder lists the severities from the most to the least verbose.
var severityOrder = []LogSeverity{
	TraceLogSeverity,
	DebugLogSeverity,
	InfoLogSeverity,
	WarningLogSeverity,
	ErrorLogSeverity,
	OffLogSeverity,
}

func (l *LogSeverity) UnmarshalText(text []byte) error {
	level := LogSeverity(strings.ToUpper(string(text)))
	if level.Rank() < 0 {
		names := make([]string, len(severityOrder))
		for i, s := range severityOrder {
			names[i] = string(s)
		}
		return fmt.Errorf("invalid log severity level: %s. Must be one of [%s]", text, strings.Join(names, ", "))
	}
	*l = level
	return nil
}

// Rank is the position of l in severityOrder, or -1 if l is unknown.
func (l LogSeverity) Rank() int {
	return slices.Index(severityOrder, l)
}

// ResolvedPath represents a file-path which is an absolute path. Relative
// paths are resolved against the working directory and "~/" against the home
// directory.
type ResolvedPath string

func (p *ResolvedPath) UnmarshalText(text []byte) error {
	path, err := util.GetResolvedPath(string(text))
	if err != nil {
		return err
	}
	*p = ResolvedPath(path)
	return nil
}

// DecodeHook will be called by Viper while constructing the config object.
func DecodeHook() mapstructure.DecodeHookFunc {
	return mapstructure.ComposeDecodeHookFunc(
		mapstructure.TextUnmarshallerHookFunc(),
		mapstructure.StringToTimeDurationHookFunc(), // default hook
		mapstructure.StringToSliceHookFunc(","),     // default hook
	)
}
