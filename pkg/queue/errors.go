// instanceplane
// (C) 2024, Deutsche Telekom IT GmbH
//
// Deutsche Telekom IT GmbH and all other contributors /
// copyright owners license this file to you under the Apache
// License, Version 2.0 (the "License"); you may not use this
// file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing,
// software distributed under the License is distributed on an
// "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY
// KIND, either express or implied.  See the License for the
// specific language governing permissions and limitations
// under the License.

package queue

import "errors"

var (
	// ErrNotFound is returned when an operation references an unknown job ID.
	ErrNotFound = errors.New("queue: job not found")
	// ErrNotProcessing is returned by Complete/Fail when the job is not
	// currently in the processing set.
	ErrNotProcessing = errors.New("queue: job is not in the processing set")
	// ErrAlreadyProcessing describes a job with the same ID already being
	// processed; InMemory.Enqueue treats that case as a no-op (re-enqueue
	// dedup) and does not return it.
	ErrAlreadyProcessing = errors.New("queue: job is already processing")
)
