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
	"encoding/json"
	"fmt"
	"net/url"

	"github.com/pkg/errors"
	"github.com/plubot/plubot/pkg/cli/plubot"
)

const statusSuccess = "success"

// User is the profile of the signed in user
type User struct {
	ID      string          `json:"id"`
	Email   string          `json:"email"`
	Name    string          `json:"name"`
	Plubots []plubot.Plubot `json:"plubots,omitempty"`
}

// UnmarshalJSON accepts numeric as well as string ids
func (u *User) UnmarshalJSON(b []byte) error {
	type alias User
	aux := struct {
		ID interface{} `json:"id"`
		*alias
	}{
		alias: (*alias)(u),
	}

	if err := json.Unmarshal(b, &aux); err != nil {
		return err
	}

	id, err := plubot.FormatID(aux.ID)
	if err != nil {
		return err
	}
	u.ID = id

	return nil
}

// PlubotResp is the response of the plubot endpoints
type PlubotResp struct {
	Status  string         `json:"status"`
	Message string         `json:"message,omitempty"`
	Plubot  *plubot.Plubot `json:"plubot,omitempty"`
}

func (r PlubotResp) plubot() (plubot.Plubot, error) {
	if r.Status != statusSuccess || r.Plubot == nil || r.Plubot.ID == "" {
		return plubot.Plubot{}, errors.Wrapf(ErrUnexpectedResponse, "status '%s' message '%s'", r.Status, r.Message)
	}

	return *r.Plubot, nil
}

// CreatePlubot creates a plubot on the server and returns it with the id the
// server assigned. The payload carries the local placeholder id in _localId.
func (c *Client) CreatePlubot(ctx context.Context, payload plubot.Plubot) (plubot.Plubot, error) {
	var resp PlubotResp
	if err := c.doAuthorizedReq(ctx, "POST", "/plubots/create", payload, &resp, nil); err != nil {
		return plubot.Plubot{}, errors.Wrap(err, "creating plubot")
	}

	return resp.plubot()
}

// UpdatePlubot replaces the plubot with the given id on the server
func (c *Client) UpdatePlubot(ctx context.Context, id string, payload plubot.Plubot) (plubot.Plubot, error) {
	var resp PlubotResp
	path := fmt.Sprintf("/plubots/update/%s", url.PathEscape(id))
	if err := c.doAuthorizedReq(ctx, "PUT", path, payload, &resp, nil); err != nil {
		return plubot.Plubot{}, errors.Wrapf(err, "updating plubot %s", id)
	}

	return resp.plubot()
}

// GetPlubot fetches the plubot with the given id
func (c *Client) GetPlubot(ctx context.Context, id string) (plubot.Plubot, error) {
	var resp PlubotResp
	path := fmt.Sprintf("/plubots/%s", url.PathEscape(id))
	if err := c.doAuthorizedReq(ctx, "GET", path, nil, &resp, nil); err != nil {
		return plubot.Plubot{}, errors.Wrapf(err, "getting plubot %s", id)
	}

	return resp.plubot()
}

// ProfileResp is the response of the profile endpoint
type ProfileResp struct {
	Status string `json:"status"`
	User   *User  `json:"user"`
}

// GetProfile fetches the profile of the signed in user along with the
// plubots they own
func (c *Client) GetProfile(ctx context.Context) (User, error) {
	var resp ProfileResp
	if err := c.doAuthorizedReq(ctx, "GET", "/auth/profile", nil, &resp, nil); err != nil {
		return User{}, errors.Wrap(err, "getting profile")
	}

	if resp.Status != statusSuccess || resp.User == nil {
		return User{}, errors.Wrapf(ErrUnexpectedResponse, "profile status '%s'", resp.Status)
	}

	return *resp.User, nil
}

// LoginPayload is a payload for /auth/login
type LoginPayload struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// LoginResp is a response from /auth/login
type LoginResp struct {
	Status      string `json:"status"`
	AccessToken string `json:"access_token"`
	User        *User  `json:"user,omitempty"`
}

// Login requests a session token
func (c *Client) Login(ctx context.Context, email, password string) (LoginResp, error) {
	payload := LoginPayload{
		Email:    email,
		Password: password,
	}

	var resp LoginResp
	err := c.doReq(ctx, "POST", "/auth/login", payload, &resp, &requestOptions{SkipAuthHook: true})
	if err != nil {
		if errors.Is(err, ErrUnauthorized) {
			return LoginResp{}, ErrInvalidLogin
		}
		return LoginResp{}, errors.Wrap(err, "making http request")
	}

	if resp.AccessToken == "" {
		return LoginResp{}, errors.Wrap(ErrUnexpectedResponse, "no access token in the login response")
	}

	return resp, nil
}

// Logout deletes the given session on the server side. The session is passed
// explicitly since it is usually cleared locally before the server is told.
func (c *Client) Logout(ctx context.Context, sessionKey string) error {
	opts := requestOptions{
		ExpectedContentType: &contentTypeNone,
		SkipAuthHook:        true,
		SessionKey:          &sessionKey,
	}
	if err := c.doAuthorizedReq(ctx, "POST", "/auth/logout", nil, nil, &opts); err != nil {
		return errors.Wrap(err, "making http request")
	}

	return nil
}
