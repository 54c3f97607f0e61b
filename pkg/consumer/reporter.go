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

package consumer

// Reporter receives operational signals from the consumer. Implementations
// are called concurrently from every partition worker.
type Reporter interface {
	ReportMessage(topic string, size int)
	ReportDecodeError(topic string, err error)
	// ReportBatch is called for every batch the batcher emits, empty ones included.
	ReportBatch(size int)
	ReportWriteFailure(size int, err error)
	ReportConnectorError(err error)
	ReportRunning(running bool)
}

// NopReporter discards every signal.
type NopReporter struct{}

func (NopReporter) ReportMessage(string, int) {}
func (NopReporter) ReportDecodeError(string, error) {}
func (NopReporter) ReportBatch(int) {}
func (NopReporter) ReportWriteFailure(int, error) {}
func (NopReporter) ReportConnectorError(error) {}
func (NopReporter) ReportRunning(bool) {}
