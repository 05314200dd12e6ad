// Copyright 2022 Google Inc. All Rights Reserved.
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

package storageutil

import (
	"crypto/md5"

	"cloud.google.com/go/storage"
	"github.com/googlecloudplatform/gcsasyncwriter/internal/storage/gcs"
)

func ObjectAttrsToGCSObject(attrs *storage.ObjectAttrs) *gcs.Object {
	o := &gcs.Object{
		Bucket:          attrs.Bucket,
		Name:            attrs.Name,
		ContentType:     attrs.ContentType,
		ContentEncoding: attrs.ContentEncoding,
		Size:            attrs.Size,
		Generation:      attrs.Generation,
		MetaGeneration:  attrs.Metageneration,
		StorageClass:    attrs.StorageClass,
		Created:         attrs.Created,
		Updated:         attrs.Updated,
		Finalized:       attrs.Finalized,
		Metadata:        attrs.Metadata,
	}

	// Making a local copy of crc to avoid keeping a reference to attrs instance.
	crc := attrs.CRC32C
	o.CRC32C = &crc

	// Converting MD5[] slice to MD5[md5.Size] type fixed array. Composite and
	// appendable objects have no MD5.
	if len(attrs.MD5) == md5.Size {
		var sum [md5.Size]byte
		copy(sum[:], attrs.MD5)
		o.MD5 = &sum
	}
	return o
}

func SetAttrsInWriter(wc *storage.Writer, req *gcs.CreateObjectRequest) *storage.Writer {
	wc.Name = req.Name
	wc.ContentType = req.ContentType
	wc.ContentEncoding = req.ContentEncoding
	wc.Metadata = req.Metadata
	return wc
}
