// Copyright 2025 Alexander Alten (novatechflow), NovaTechflow (novatechflow.com).
// This project is supported and financed by Scalytics, Inc. (www.scalytics.io).
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

// Package storage writes metric batches as compressed objects to S3 or an
// S3-compatible endpoint.
package storage

import (
	"context"
	"errors"
)

// ErrObjectNotFound is returned by GetObject for a missing key.
var ErrObjectNotFound = errors.New("object not found")

// ObjectClient is the object store abstraction used by the metric writer.
type ObjectClient interface {
	EnsureBucket(ctx context.Context) error
	PutObject(ctx context.Context, key string, body []byte, contentType string) error
	GetObject(ctx context.Context, key string) ([]byte, error)
	// ListObjects returns every object under prefix, sorted by key.
	ListObjects(ctx context.Context, prefix string) ([]Object, error)
}

// Object describes a stored object.
type Object struct {
	Key  string
	Size int64
}

// S3Config describes connection details for AWS S3 or compatible endpoints.
type S3Config struct {
	Bucket          string `yaml:"bucket"`
	Region          string `yaml:"region"`
	Endpoint        string `yaml:"endpoint"`
	ForcePathStyle  bool   `yaml:"force_path_style"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
	SessionToken    string `yaml:"session_token"`
	KMSKeyARN       string `yaml:"kms_key_arn"`
}
