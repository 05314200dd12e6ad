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

package util

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

const (
	KiB = 1 << 10
	MiB = 1 << 20
)

// GetResolvedPath returns an absolute form of filePath.
// 1. Returns the same filepath in case of absolute path or empty filename.
// 2. For relative path starting with ~, it resolves with respect to home dir.
// 3. Any other relative path is resolved against the working directory.
func GetResolvedPath(filePath string) (resolvedPath string, err error) {
	if filePath == "" || filepath.IsAbs(filePath) {
		resolvedPath = filePath
		return
	}

	if strings.HasPrefix(filePath, "~/") {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("fetch home dir: %w", err)
		}
		return filepath.Join(homeDir, filePath[2:]), nil
	}

	return filepath.Abs(filePath)
}

// YAMLStringify marshals input into yaml, as printed when dumping the
// effective config.
func YAMLStringify(input any) (string, error) {
	inputBytes, err := yaml.Marshal(input)
	if err != nil {
		return "", fmt.Errorf("error in YAMLStringify %w", err)
	}
	return string(inputBytes), nil
}

// MiBsToBytes returns the bytes equivalent of the given number of MiBs.
func MiBsToBytes(mibs int64) int64 {
	return mibs * MiB
}

// KiBsToBytes returns the bytes equivalent of the given number of KiBs.
func KiBsToBytes(kibs int64) int64 {
	return kibs * KiB
}
