/* Copyright 2025 Plubot Authors
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package client

import (
	"net/http"

	"github.com/pkg/errors"
)

// ErrorClass groups errors by how callers should react to them
type ErrorClass int

const (
	// ClassNone is the class of a nil error
	ClassNone ErrorClass = iota
	// ClassNetwork means the server could not be reached. Retrying later may help.
	ClassNetwork
	// ClassUnauthorized means there is no valid session
	ClassUnauthorized
	// ClassRecoverable means the server was reached but failed for a reason
	// that may go away, such as an internal error or a conflict
	ClassRecoverable
	// ClassFatal means the server rejected the request itself
	ClassFatal
)

func (c ErrorClass) String() string {
	switch c {
	case ClassNone:
		return "none"
	case ClassNetwork:
		return "network"
	case ClassUnauthorized:
		return "unauthorized"
	case ClassRecoverable:
		return "recoverable"
	}

	return "fatal"
}

// Classify returns the class of an error returned by the client
func Classify(err error) ErrorClass {
	if err == nil {
		return ClassNone
	}

	if IsNetworkError(err) {
		return ClassNetwork
	}
	if errors.Is(err, ErrUnauthorized) || errors.Is(err, ErrNoSession) {
		return ClassUnauthorized
	}
	if errors.Is(err, ErrUnexpectedResponse) || errors.Is(err, ErrContentTypeMismatch) {
		return ClassRecoverable
	}

	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		switch {
		case httpErr.StatusCode >= 500:
			return ClassRecoverable
		case httpErr.IsConflict(), httpErr.StatusCode == http.StatusTooManyRequests:
			return ClassRecoverable
		}
	}

	return ClassFatal
}

// IsRetryable reports whether repeating the request may succeed
func IsRetryable(err error) bool {
	switch Classify(err) {
	case ClassNetwork, ClassRecoverable:
		return true
	}

	return false
}
