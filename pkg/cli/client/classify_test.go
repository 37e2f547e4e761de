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
	"context"
	"net/http"
	"testing"

	"github.com/pkg/errors"
	"github.com/plubot/plubot/pkg/assert"
)

func TestClassify(t *testing.T) {
	testCases := []struct {
		name      string
		err       error
		class     ErrorClass
		retryable bool
	}{
		{name: "nil", err: nil, class: ClassNone, retryable: false},
		{name: "network", err: errors.Wrap(&NetworkError{Err: context.DeadlineExceeded}, "creating plubot"), class: ClassNetwork, retryable: true},
		{name: "bad gateway", err: errors.Wrap(&HTTPError{StatusCode: http.StatusBadGateway}, "x"), class: ClassNetwork, retryable: true},
		{name: "gateway timeout", err: &HTTPError{StatusCode: http.StatusGatewayTimeout}, class: ClassNetwork, retryable: true},
		{name: "unauthorized", err: errors.Wrap(ErrUnauthorized, "x"), class: ClassUnauthorized, retryable: false},
		{name: "no session", err: errors.Wrap(ErrNoSession, "x"), class: ClassUnauthorized, retryable: false},
		{name: "internal", err: errors.Wrap(&HTTPError{StatusCode: http.StatusInternalServerError}, "x"), class: ClassRecoverable, retryable: true},
		{name: "conflict", err: &HTTPError{StatusCode: http.StatusConflict}, class: ClassRecoverable, retryable: true},
		{name: "too many requests", err: &HTTPError{StatusCode: http.StatusTooManyRequests}, class: ClassRecoverable, retryable: true},
		{name: "unexpected response", err: errors.Wrap(ErrUnexpectedResponse, "x"), class: ClassRecoverable, retryable: true},
		{name: "bad request", err: &HTTPError{StatusCode: http.StatusBadRequest}, class: ClassFatal, retryable: false},
		{name: "not found", err: &HTTPError{StatusCode: http.StatusNotFound}, class: ClassFatal, retryable: false},
		{name: "unknown", err: errors.New("boom"), class: ClassFatal, retryable: false},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, Classify(tc.err), tc.class, "class mismatch")
			assert.Equal(t, IsRetryable(tc.err), tc.retryable, "retryable mismatch")
		})
	}
}
