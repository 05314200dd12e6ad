// Copyright 2026 Google LLC
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

package gcs

import (
	"time"
)

// Object is a record representing a particular generation of a particular
// object name in GCS, as returned by a finalized upload.
type Object struct {
	Bucket          string
	Name            string
	ContentType     string
	ContentEncoding string
	Size            int64
	Generation      int64
	MetaGeneration  int64
	StorageClass    string

	// CRC32C and MD5 checksums of the object's contents, when the service
	// computed them.
	CRC32C *uint32
	MD5    *[16]byte

	Created   time.Time
	Updated   time.Time
	Finalized time.Time

	Metadata map[string]string
}

// IsFinalized reports whether the object can no longer be appended to.
func (o *Object) IsFinalized() bool {
	return !o.Finalized.IsZero()
}
