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
	"net/http/httptest"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/plubot/plubot/pkg/assert"
	"github.com/plubot/plubot/pkg/cli/plubot"
	"github.com/plubot/plubot/pkg/cli/testutils"
)

func newTestClient(endpoint string) *Client {
	return New(Options{
		Endpoint:   endpoint,
		Version:    "test",
		SessionKey: testutils.SessionKey,
		HTTPClient: NewRateLimitedHTTPClient(5 * time.Second),
	})
}

func TestCreatePlubot(t *testing.T) {
	server := testutils.NewServer(t)
	c := newTestClient(server.URL)

	got, err := c.CreatePlubot(context.Background(), plubot.Plubot{Name: "Helper", LocalID: "local_1"})
	if err != nil {
		t.Fatal(errors.Wrap(err, "creating"))
	}

	assert.Equal(t, got.ID, "101", "server id should be decoded from a number")
	assert.Equal(t, got.Name, "Helper", "name mismatch")

	reqs := server.Requests(testutils.RouteCreate)
	assert.Equal(t, len(reqs), 1, "request count mismatch")
	assert.Equal(t, reqs[0].Plubot.LocalID, "local_1", "local id should be sent")
	assert.Equal(t, reqs[0].Auth, "Bearer "+testutils.SessionKey, "bearer token mismatch")
}

func TestUpdatePlubot_NotFound(t *testing.T) {
	server := testutils.NewServer(t)
	c := newTestClient(server.URL)

	_, err := c.UpdatePlubot(context.Background(), "999", plubot.Plubot{Name: "Helper"})

	var httpErr *HTTPError
	if !errors.As(err, &httpErr) {
		t.Fatalf("expected an HTTPError, got %v", err)
	}
	assert.Equal(t, httpErr.IsNotFound(), true, "should be not found")
}

func TestUnauthorized(t *testing.T) {
	server := testutils.NewServer(t)
	c := newTestClient(server.URL)
	c.SetSessionKey("expired")

	called := 0
	c.OnUnauthorized(func() { called++ })

	_, err := c.GetProfile(context.Background())

	assert.Equal(t, errors.Is(err, ErrUnauthorized), true, "should be unauthorized")
	assert.Equal(t, called, 1, "unauthorized hook should be called once")
	assert.Equal(t, IsNetworkError(err), false, "401 is not a network error")
}

func TestNoSession(t *testing.T) {
	server := testutils.NewServer(t)
	c := newTestClient(server.URL)
	c.SetSessionKey("")

	_, err := c.CreatePlubot(context.Background(), plubot.Plubot{Name: "Helper"})

	assert.Equal(t, errors.Cause(err), ErrNoSession, "error mismatch")
	assert.Equal(t, len(server.Requests(testutils.RouteCreate)), 0, "no request should be made")
}

func TestNetworkErrors(t *testing.T) {
	testCases := []struct {
		name   string
		status int
	}{
		{name: "dropped connection", status: testutils.StatusDropConnection},
		{name: "bad gateway", status: http.StatusBadGateway},
		{name: "service unavailable", status: http.StatusServiceUnavailable},
		{name: "gateway timeout", status: http.StatusGatewayTimeout},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			server := testutils.NewServer(t)
			c := newTestClient(server.URL)
			server.FailNext(testutils.RouteCreate, tc.status)

			_, err := c.CreatePlubot(context.Background(), plubot.Plubot{Name: "Helper"})

			assert.Equal(t, IsNetworkError(err), true, "should be a network error: "+errString(err))
		})
	}
}

func TestServerError_NotNetwork(t *testing.T) {
	server := testutils.NewServer(t)
	c := newTestClient(server.URL)
	server.FailNext(testutils.RouteCreate, http.StatusInternalServerError)

	_, err := c.CreatePlubot(context.Background(), plubot.Plubot{Name: "Helper"})

	var httpErr *HTTPError
	assert.Equal(t, errors.As(err, &httpErr), true, "should be an HTTPError")
	assert.Equal(t, httpErr.StatusCode, http.StatusInternalServerError, "status mismatch")
	assert.Equal(t, IsNetworkError(err), false, "500 is not a network error")
}

func TestTimeout(t *testing.T) {
	server := testutils.NewServer(t)
	_, release := server.Pause(testutils.RouteCreate)
	defer release()

	c := New(Options{
		Endpoint:   server.URL,
		SessionKey: testutils.SessionKey,
		HTTPClient: NewRateLimitedHTTPClient(50 * time.Millisecond),
	})

	_, err := c.CreatePlubot(context.Background(), plubot.Plubot{Name: "Helper"})

	assert.Equal(t, IsNetworkError(err), true, "timeout should be a network error: "+errString(err))
}

func TestUnexpectedResponse(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"error","message":"quota"}`))
	}))
	defer ts.Close()

	c := newTestClient(ts.URL)
	_, err := c.CreatePlubot(context.Background(), plubot.Plubot{Name: "Helper"})

	assert.Equal(t, errors.Is(err, ErrUnexpectedResponse), true, "error mismatch: "+errString(err))
}

func TestContentTypeMismatch(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte(`<html></html>`))
	}))
	defer ts.Close()

	c := newTestClient(ts.URL)
	_, err := c.GetProfile(context.Background())

	assert.Equal(t, errors.Is(err, ErrContentTypeMismatch), true, "error mismatch: "+errString(err))
}

func TestLogin(t *testing.T) {
	server := testutils.NewServer(t)
	c := newTestClient(server.URL)
	c.SetSessionKey("")

	called := 0
	c.OnUnauthorized(func() { called++ })

	_, err := c.Login(context.Background(), testutils.Email, "wrong")
	assert.Equal(t, err, ErrInvalidLogin, "wrong password should be rejected")
	assert.Equal(t, called, 0, "login failure should not trigger the unauthorized hook")

	resp, err := c.Login(context.Background(), testutils.Email, testutils.Password)
	if err != nil {
		t.Fatal(err)
	}
	assert.Equal(t, resp.AccessToken, testutils.SessionKey, "token mismatch")
	assert.Equal(t, resp.User.ID, "7", "user id should be decoded from a number")
	assert.Equal(t, resp.User.Email, testutils.Email, "email mismatch")
}

func TestLogout(t *testing.T) {
	server := testutils.NewServer(t)
	c := newTestClient(server.URL)
	c.SetSessionKey("")

	if err := c.Logout(context.Background(), testutils.SessionKey); err != nil {
		t.Fatal(err)
	}

	reqs := server.Requests(testutils.RouteLogout)
	assert.Equal(t, len(reqs), 1, "logout should reach the server")
	assert.Equal(t, reqs[0].Auth, "Bearer "+testutils.SessionKey, "logout should carry the given session")

	err := c.Logout(context.Background(), "")
	assert.Equal(t, errors.Cause(err), ErrNoSession, "empty session")
}

func errString(err error) string {
	if err == nil {
		return "<nil>"
	}

	return err.Error()
}
