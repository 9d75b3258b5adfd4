// Offsite - Live Server Snapshot and Remote Transfer
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/offsite

// Package config loads and validates the Offsite configuration.
//
// Configuration is layered with koanf: built-in defaults, then an optional
// YAML file, then OFFSITE_* environment variables. The result is validated
// with go-playground/validator struct tags plus a few cross-field checks.
// A loaded *Config is treated as immutable; reloading produces a new value
// and never mutates one that is already in use.
package config

import (
	"errors"
	"time"
)

// ErrInvalid is returned when configuration cannot be parsed or fails validation.
var ErrInvalid = errors.New("invalid configuration")

// Protocols
const (
	ProtocolFTP  = "ftp"
	ProtocolSFTP = "sftp"
)

// Quiesce strategies
const (
	StrategyStop = "stop"
	StrategySave = "save"
)

// Control API roles
const (
	RoleAdmin    = "admin"
	RoleOperator = "operator"
	RoleViewer   = "viewer"
)

// Config is the root configuration.
type Config struct {
	Transfer TransferConfig `koanf:"transfer"`
	Backup   BackupConfig   `koanf:"backup"`
	Quiesce  QuiesceConfig  `koanf:"quiesce"`
	Schedule ScheduleConfig `koanf:"schedule"`
	Server   ServerConfig   `koanf:"server"`
	Control  ControlConfig  `koanf:"control"`
	Logging  LoggingConfig  `koanf:"logging"`
}

// TransferConfig describes the single remote endpoint.
type TransferConfig struct {
	Protocol          string        `koanf:"protocol" validate:"oneof=ftp sftp"`
	Host              string        `koanf:"host" validate:"required,hostname_rfc1123|ip"`
	Port              int           `koanf:"port" validate:"gte=0,lte=65535"`
	Timeout           time.Duration `koanf:"timeout" validate:"gt=0"`
	Username          string        `koanf:"username" validate:"required"`
	Password          string        `koanf:"password"`
	PrivateKeyPath    string        `koanf:"private_key_path"`
	KnownHostsPath    string        `koanf:"known_hosts_path"`
	RemotePath        string        `koanf:"remote_path" validate:"required"`
	ConnectAttempts   int           `koanf:"connect_attempts" validate:"gte=1,lte=10"`
	ConnectRetryDelay time.Duration `koanf:"connect_retry_delay" validate:"gte=0"`
	MaxUploadRate     int64         `koanf:"max_upload_rate" validate:"gte=0"` // bytes per second, 0 is unlimited
}

// Endpoint returns host:port as used by the dialers.
func (t *TransferConfig) Endpoint() string {
	return joinHostPort(t.Host, t.Port)
}

// BackupConfig controls what is archived and how many local copies are kept.
type BackupConfig struct {
	ServerDir        string   `koanf:"server_dir" validate:"required"`
	BackupDir        string   `koanf:"backup_dir" validate:"required"`
	KeepLocalBackups int      `koanf:"keep_local_backups" validate:"gte=0"`
	ExcludePatterns  []string `koanf:"exclude_patterns" validate:"dive,required"`
	CompressionLevel int      `koanf:"compression_level" validate:"gte=0,lte=9"`
}

// QuiesceConfig selects how the server is brought to a copy-safe state.
type QuiesceConfig struct {
	Strategy       string        `koanf:"strategy" validate:"oneof=stop save"`
	SaveOffCommand string        `koanf:"save_off_command"`
	SaveAllCommand string        `koanf:"save_all_command"`
	SaveOnCommand  string        `koanf:"save_on_command"`
	SavedPattern   string        `koanf:"saved_pattern"`
	SaveTimeout    time.Duration `koanf:"save_timeout" validate:"gt=0"`
	StopTimeout    time.Duration `koanf:"stop_timeout" validate:"gt=0"`
}

// ScheduleConfig enables the cron trigger.
type ScheduleConfig struct {
	Enabled bool   `koanf:"enabled"`
	Cron    string `koanf:"cron"`
}

// ServerConfig describes the supervised server process.
type ServerConfig struct {
	Command     string        `koanf:"command"`
	Args        []string      `koanf:"args"`
	WorkDir     string        `koanf:"work_dir"`
	StopCommand string        `koanf:"stop_command"`
	KillTimeout time.Duration `koanf:"kill_timeout" validate:"gt=0"`
	Autostart   bool          `koanf:"autostart"`
	StopOnExit  bool          `koanf:"stop_on_exit"`
}

// ControlConfig configures the operator control API.
type ControlConfig struct {
	Listen         string        `koanf:"listen" validate:"required,hostname_port"`
	Tokens         []TokenConfig `koanf:"tokens" validate:"dive"`
	RateLimit      int           `koanf:"rate_limit" validate:"gte=1"`
	PolicyPath     string        `koanf:"policy_path"`
	AllowedOrigins []string      `koanf:"allowed_origins" validate:"dive,required"`
}

// TokenConfig maps a bearer token to a role.
type TokenConfig struct {
	Name  string `koanf:"name" validate:"required"`
	Token string `koanf:"token" validate:"required,min=16"`
	Role  string `koanf:"role" validate:"oneof=admin operator viewer"`
}

// LoggingConfig mirrors logging.Config.
type LoggingConfig struct {
	Level  string `koanf:"level" validate:"oneof=trace debug info warn error"`
	Format string `koanf:"format" validate:"oneof=json console"`
	Caller bool   `koanf:"caller"`
}

// Default returns a Config populated with built-in defaults.
func Default() *Config {
	return &Config{
		Transfer: TransferConfig{
			Protocol:          ProtocolFTP,
			Host:              "ftp.example.com",
			Port:              0, // derived from protocol
			Timeout:           10 * time.Second,
			Username:          "anonymous",
			RemotePath:        "/",
			ConnectAttempts:   3,
			ConnectRetryDelay: 2 * time.Second,
		},
		Backup: BackupConfig{
			ServerDir:        "./server",
			BackupDir:        "./backups",
			KeepLocalBackups: 3,
			ExcludePatterns:  []string{"logs", "*.tmp", "*.lock"},
			CompressionLevel: 6,
		},
		Quiesce: QuiesceConfig{
			Strategy:       StrategyStop,
			SaveOffCommand: "save-off",
			SaveAllCommand: "save-all",
			SaveOnCommand:  "save-on",
			SavedPattern:   "Saved the game",
			SaveTimeout:    30 * time.Second,
			StopTimeout:    5 * time.Minute,
		},
		Schedule: ScheduleConfig{
			Enabled: false,
			Cron:    "0 4 * * *",
		},
		Server: ServerConfig{
			StopCommand: "stop",
			KillTimeout: 2 * time.Minute,
			Autostart:   true,
			StopOnExit:  true,
		},
		Control: ControlConfig{
			Listen:    "127.0.0.1:8787",
			RateLimit: 60,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// applyDerived fills values that depend on other fields.
func (c *Config) applyDerived() {
	if c.Transfer.Port == 0 {
		switch c.Transfer.Protocol {
		case ProtocolSFTP:
			c.Transfer.Port = 22
		default:
			c.Transfer.Port = 21
		}
	}
}
