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

// Package config reads and writes the plubot configuration file
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/pkg/errors"
	"github.com/plubot/plubot/pkg/cli/consts"
	"github.com/plubot/plubot/pkg/cli/context"
	"gopkg.in/yaml.v2"
)

// Retry configures the creation retry policy
type Retry struct {
	MaxAttempts int    `yaml:"maxAttempts"`
	Backoff     string `yaml:"backoff"`
}

// Storage configures the local backup store
type Storage struct {
	QuotaBytes            int64  `yaml:"quotaBytes"`
	MaxEmergencyBackups   int    `yaml:"maxEmergencyBackups"`
	EmergencyBackupMaxAge string `yaml:"emergencyBackupMaxAge"`
}

// Config holds plubot configuration. Durations are written the way
// time.ParseDuration reads them.
type Config struct {
	Editor         string  `yaml:"editor"`
	APIEndpoint    string  `yaml:"apiEndpoint"`
	RequestTimeout string  `yaml:"requestTimeout"`
	SyncInterval   string  `yaml:"syncInterval"`
	FollowUpDelay  string  `yaml:"followUpDelay"`
	Retry          Retry   `yaml:"retry"`
	Storage        Storage `yaml:"storage"`
}

// Default returns the config written on first run
func Default(apiEndpoint, editor string) Config {
	s := context.DefaultSettings()

	return Config{
		Editor:         editor,
		APIEndpoint:    apiEndpoint,
		RequestTimeout: s.RequestTimeout.String(),
		SyncInterval:   s.SyncInterval.String(),
		FollowUpDelay:  s.FollowUpDelay.String(),
		Retry: Retry{
			MaxAttempts: s.RetryAttempts,
			Backoff:     s.RetryBackoff.String(),
		},
		Storage: Storage{
			QuotaBytes:            s.Backup.QuotaBytes,
			MaxEmergencyBackups:   s.Backup.MaxEmergencyBackups,
			EmergencyBackupMaxAge: s.Backup.EmergencyBackupMaxAge.String(),
		},
	}
}

// GetPath returns the path to the plubot config file
func GetPath(ctx context.PlubotCtx) string {
	return fmt.Sprintf("%s/%s", ctx.ConfigDir(), consts.ConfigFilename)
}

// Read reads the config file
func Read(ctx context.PlubotCtx) (Config, error) {
	var ret Config

	configPath := GetPath(ctx)
	b, err := os.ReadFile(configPath)
	if err != nil {
		return ret, errors.Wrap(err, "reading config file")
	}

	err = yaml.Unmarshal(b, &ret)
	if err != nil {
		return ret, errors.Wrap(err, "unmarshalling config")
	}

	return ret, nil
}

// Write writes the config to the config file
func Write(ctx context.PlubotCtx, cf Config) error {
	path := GetPath(ctx)

	b, err := yaml.Marshal(cf)
	if err != nil {
		return errors.Wrap(err, "marshalling config into YAML")
	}

	err = os.WriteFile(path, b, 0644)
	if err != nil {
		return errors.Wrap(err, "writing the config file")
	}

	return nil
}

func parseDuration(name, val string, dest *time.Duration) error {
	if val == "" {
		return nil
	}

	d, err := time.ParseDuration(val)
	if err != nil {
		return errors.Wrapf(err, "parsing %s", name)
	}
	if d < 0 {
		return errors.Errorf("%s must not be negative", name)
	}

	*dest = d
	return nil
}

// Settings converts the config into runtime settings. Missing values keep
// their defaults.
func (cf Config) Settings() (context.Settings, error) {
	ret := context.DefaultSettings()

	durations := []struct {
		name string
		val  string
		dest *time.Duration
	}{
		{"requestTimeout", cf.RequestTimeout, &ret.RequestTimeout},
		{"syncInterval", cf.SyncInterval, &ret.SyncInterval},
		{"followUpDelay", cf.FollowUpDelay, &ret.FollowUpDelay},
		{"retry.backoff", cf.Retry.Backoff, &ret.RetryBackoff},
		{"storage.emergencyBackupMaxAge", cf.Storage.EmergencyBackupMaxAge, &ret.Backup.EmergencyBackupMaxAge},
	}
	for _, d := range durations {
		if err := parseDuration(d.name, d.val, d.dest); err != nil {
			return ret, err
		}
	}

	if ret.SyncInterval < time.Second {
		return ret, errors.New("syncInterval must be at least 1s")
	}

	if cf.Retry.MaxAttempts > 0 {
		ret.RetryAttempts = cf.Retry.MaxAttempts
	}
	if cf.Storage.QuotaBytes > 0 {
		ret.Backup.QuotaBytes = cf.Storage.QuotaBytes
	}
	if cf.Storage.MaxEmergencyBackups > 0 {
		ret.Backup.MaxEmergencyBackups = cf.Storage.MaxEmergencyBackups
	}

	return ret, nil
}
