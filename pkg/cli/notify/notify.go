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

// Package notify delivers user facing notifications raised by background
// work such as synchronization and recovery
package notify

import (
	"strings"
	"sync"
	"time"

	"github.com/plubot/plubot/pkg/cli/log"
)

// Level is the severity of a notification
type Level string

const (
	// LevelInfo is an informational notification
	LevelInfo Level = "info"
	// LevelSuccess reports a completed operation
	LevelSuccess Level = "success"
	// LevelWarning reports a degraded but recoverable outcome
	LevelWarning Level = "warning"
	// LevelError reports a failure
	LevelError Level = "error"
)

// DefaultTTL is how long a notification stays visible
const DefaultTTL = 5 * time.Second

// Persistent is the TTL of a notification that stays until dismissed
const Persistent time.Duration = 0

// Notification is a message for the user
type Notification struct {
	Level   Level
	Message string
	TTL     time.Duration
}

// Notifier shows notifications to the user
type Notifier interface {
	Notify(n Notification)
}

// Info returns an info notification with the default TTL
func Info(msg string) Notification {
	return Notification{Level: LevelInfo, Message: msg, TTL: DefaultTTL}
}

// Success returns a success notification with the default TTL
func Success(msg string) Notification {
	return Notification{Level: LevelSuccess, Message: msg, TTL: DefaultTTL}
}

// Warning returns a warning notification with the default TTL
func Warning(msg string) Notification {
	return Notification{Level: LevelWarning, Message: msg, TTL: DefaultTTL}
}

// Error returns an error notification with the default TTL
func Error(msg string) Notification {
	return Notification{Level: LevelError, Message: msg, TTL: DefaultTTL}
}

// Console prints notifications on the terminal. TTLs are ignored since the
// terminal keeps every line.
type Console struct{}

// Notify prints the notification
func (Console) Notify(n Notification) {
	msg := n.Message
	if !strings.HasSuffix(msg, "\n") {
		msg += "\n"
	}

	switch n.Level {
	case LevelSuccess:
		log.Success(msg)
	case LevelWarning:
		log.Warnf("%s", msg)
	case LevelError:
		log.Error(msg)
	default:
		log.Info(msg)
	}
}

// Nop discards notifications
type Nop struct{}

// Notify does nothing
func (Nop) Notify(Notification) {}

// Recorder keeps notifications in memory
type Recorder struct {
	mu   sync.Mutex
	list []Notification
}

// Notify records the notification
func (r *Recorder) Notify(n Notification) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.list = append(r.list, n)
}

// All returns the recorded notifications in the order they were raised
func (r *Recorder) All() []Notification {
	r.mu.Lock()
	defer r.mu.Unlock()

	return append([]Notification(nil), r.list...)
}

// Levels returns the levels of the recorded notifications
func (r *Recorder) Levels() []Level {
	var ret []Level
	for _, n := range r.All() {
		ret = append(ret, n.Level)
	}

	return ret
}
