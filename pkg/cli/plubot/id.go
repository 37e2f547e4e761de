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

package plubot

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// FormatID turns a decoded JSON id into a string. The server may send ids as
// numbers or strings.
func FormatID(v interface{}) (string, error) {
	switch id := v.(type) {
	case nil:
		return "", nil
	case string:
		return id, nil
	case float64:
		return strconv.FormatFloat(id, 'f', -1, 64), nil
	case json.Number:
		return id.String(), nil
	}

	return "", fmt.Errorf("unsupported id %v of type %T", v, v)
}

// UnmarshalJSON accepts numeric as well as string ids
func (p *Plubot) UnmarshalJSON(b []byte) error {
	type alias Plubot
	aux := struct {
		ID interface{} `json:"id"`
		*alias
	}{
		alias: (*alias)(p),
	}

	if err := json.Unmarshal(b, &aux); err != nil {
		return err
	}

	id, err := FormatID(aux.ID)
	if err != nil {
		return err
	}
	p.ID = id

	return nil
}
