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

// Package consts provides definitions of constants
package consts

var (
	// PlubotDirName is the name of the directory containing plubot files
	PlubotDirName = "plubot"
	// PlubotDBFileName is a filename for the plubot SQLite database
	PlubotDBFileName = "plubot.db"
	// ConfigFilename is the name of the config file
	ConfigFilename = "plubotrc"
	// EnvFilename is the name of the optional dotenv file next to the config file
	EnvFilename = ".env"
	// DiagnosticLogFilename is the name of the log file for background work
	DiagnosticLogFilename = "plubot.log"
	// TmpFlowFileBase is the base name of the temporary file a flow is edited in
	TmpFlowFileBase = "PLUBOT_TMPFLOW"
	// TmpFlowFileExt is the extension of the temporary flow file
	TmpFlowFileExt = "json"

	// SystemSessionKey is the session key
	SystemSessionKey = "session_token"
	// SystemSessionKeyExpiry is the timestamp at which the session key will expire
	SystemSessionKeyExpiry = "session_token_expiry"
	// SystemUser is the profile of the signed in user, as JSON
	SystemUser = "user"
)

// Keys of the local backup store
const (
	// BackupLocalPlubots holds the creation backup records
	BackupLocalPlubots = "local_plubots_backup"
	// BackupUserPlubots mirrors the plubot repository
	BackupUserPlubots = "user_plubots_backup"
	// BackupFailedPlubots holds creations that could not be salvaged
	BackupFailedPlubots = "failed_plubots"
	// BackupEmergencyPrefix is the prefix of emergency flow snapshots. The
	// plubot id is appended to it.
	BackupEmergencyPrefix = "plubot-nodes-emergency-backup-"
	// BackupCorruptSuffix is appended to a key to hold a copy of its value
	// when the value can no longer be decoded
	BackupCorruptSuffix = ".corrupt"
)

// EmergencyBackupKey returns the backup key of the emergency snapshot for the plubot
func EmergencyBackupKey(plubotID string) string {
	return BackupEmergencyPrefix + plubotID
}

// CorruptBackupKey returns the key holding the copy of an undecodable value
func CorruptBackupKey(key string) string {
	return key + BackupCorruptSuffix
}
