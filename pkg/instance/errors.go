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

package instance

import "errors"

var (
	// ErrNotFound is returned by Get/GetByName/GetByProviderID for an
	// unknown lookup key.
	ErrNotFound = errors.New("instance: not found")
	// ErrInvalidName is returned by Create when the name fails NamePattern.
	ErrInvalidName = errors.New("instance: name does not match the allowed pattern")
	// ErrLastUsedRegression is returned by TouchLastUsed when the supplied
	// time is before the current lastUsed (monotonicity).
	ErrLastUsedRegression = errors.New("instance: lastUsed must not move backwards")
)
