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

package login

import (
	"fmt"
	"io"
	"strings"
	"testing"

	"github.com/plubot/plubot/pkg/assert"
	"github.com/plubot/plubot/pkg/cli/context"
	"github.com/plubot/plubot/pkg/cli/ui"
)

func TestGetServerDisplayURL(t *testing.T) {
	testCases := []struct {
		apiEndpoint string
		expected    string
	}{
		{
			apiEndpoint: "https://plubot.mydomain.com/api",
			expected:    "https://plubot.mydomain.com",
		},
		{
			apiEndpoint: "https://mysubdomain.mydomain.com/plubot/api",
			expected:    "https://mysubdomain.mydomain.com",
		},
		{
			apiEndpoint: "http://localhost:5000/api",
			expected:    "http://localhost:5000",
		},
		{
			apiEndpoint: "some-string",
			expected:    "",
		},
		{
			apiEndpoint: "",
			expected:    "",
		},
		{
			apiEndpoint: "https://",
			expected:    "",
		},
		{
			apiEndpoint: "https://abc",
			expected:    "https://abc",
		},
	}

	for _, tc := range testCases {
		t.Run(fmt.Sprintf("for input %s", tc.apiEndpoint), func(t *testing.T) {
			got := getServerDisplayURL(context.PlubotCtx{APIEndpoint: tc.apiEndpoint})
			assert.Equal(t, got, tc.expected, "result mismatch")
		})
	}
}

func TestGetCredentials(t *testing.T) {
	t.Run("prompts for missing values", func(t *testing.T) {
		usernameFlag, passwordFlag = "", ""
		term := ui.NewTerminal(strings.NewReader("alice@example.com\npass1234\n"), io.Discard)

		email, password, err := getCredentials(term)
		if err != nil {
			t.Fatal(err)
		}

		assert.Equal(t, email, "alice@example.com", "email mismatch")
		assert.Equal(t, password, "pass1234", "password mismatch")
	})

	t.Run("flags skip the prompts", func(t *testing.T) {
		usernameFlag, passwordFlag = "bob@example.com", "secret"
		defer func() { usernameFlag, passwordFlag = "", "" }()
		term := ui.NewTerminal(strings.NewReader(""), io.Discard)

		email, password, err := getCredentials(term)
		if err != nil {
			t.Fatal(err)
		}

		assert.Equal(t, email, "bob@example.com", "email mismatch")
		assert.Equal(t, password, "secret", "password mismatch")
	})

	t.Run("empty email", func(t *testing.T) {
		usernameFlag, passwordFlag = "", ""
		term := ui.NewTerminal(strings.NewReader("\n"), io.Discard)

		_, _, err := getCredentials(term)
		assert.NotEqual(t, err, nil, "an empty email should be rejected")
	})
}
