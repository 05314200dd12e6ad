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
	"hash"
	"hash/crc32"
	"io"
	"os"
)

var crc32cTable = crc32.MakeTable(crc32.Castagnoli)

// CRC32C returns the Castagnoli checksum GCS reports for p.
func CRC32C(p []byte) uint32 {
	return crc32.Checksum(p, crc32cTable)
}

// NewCRC32C returns a streaming hasher matching CRC32C.
func NewCRC32C() hash.Hash32 {
	return crc32.New(crc32cTable)
}

// CalculateCRC32C calculates the CRC32C checksum of everything read from src.
func CalculateCRC32C(src io.Reader) (uint32, error) {
	hasher := NewCRC32C()

	if _, err := io.Copy(hasher, src); err != nil {
		return 0, fmt.Errorf("error calculating CRC32C: %w", err)
	}

	return hasher.Sum32(), nil
}

// CalculateFileCRC32C calculates the CRC32C checksum of a file.
func CalculateFileCRC32C(filePath string) (uint32, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return 0, fmt.Errorf("error opening file: %w", err)
	}
	defer file.Close()

	return CalculateCRC32C(file)
}

// VerifyCRC32C compares the checksum reported for an uploaded object with the
// expected one. A nil reported checksum is not an error.
func VerifyCRC32C(reported *uint32, expected uint32) error {
	if reported == nil {
		return nil
	}
	if *reported != expected {
		return fmt.Errorf("CRC32C mismatch: got 0x%08x, expected 0x%08x", *reported, expected)
	}
	return nil
}
