// Package config implements the daemon's two configuration surfaces: the
// environment file (env.ini) loaded once at startup, and the sync
// configuration (filesync.ini) held by the dual-generation Store.
package config

import (
	"fmt"
	"os"
	"os/user"
	"path/filepath"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
	"gopkg.in/ini.v1"

	"github.com/vitaliisemenov/filesync/internal/core"
)

// Env is the [ENV] section of env.ini. Every key is required.
type Env struct {
	LogLevel       string `mapstructure:"log_level" validate:"required"`
	LogDir         string `mapstructure:"log_dir" validate:"required"`
	MaxLogSize     int    `mapstructure:"max_log_size" validate:"required,gt=0"`
	MaxLogCount    int    `mapstructure:"max_log_count" validate:"required,gt=0"`
	LogTruncPeriod int    `mapstructure:"log_trunc_period" validate:"required,gt=0"`
	RsyncUser      string `mapstructure:"rsync_user" validate:"required"`
	RsyncTool      string `mapstructure:"rsync_tool" validate:"required"`
	FpingTool      string `mapstructure:"fping_tool" validate:"required"`
	InotifyTool    string `mapstructure:"inotify_tool" validate:"required"`
	SoPath         string `mapstructure:"so_path" validate:"required"`
}

// LoadEnv reads and validates env.ini. Relative log_dir is resolved
// against the directory holding the file. Unknown log levels degrade to
// info rather than failing, matching the monitor's live-edit tolerance.
func LoadEnv(path string) (*Env, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("ini")
	if err := v.ReadInConfig(); err != nil {
		return nil, core.Configf("read %s: %v", path, err)
	}

	section := v.Sub("ENV")
	if section == nil {
		return nil, core.Configf("%s: ENV section missing", path)
	}
	env := &Env{}
	if err := section.Unmarshal(env); err != nil {
		return nil, core.Configf("parse %s: %v", path, err)
	}
	if err := validator.New().Struct(env); err != nil {
		return nil, core.Configf("validate %s: %v", path, err)
	}

	env.LogLevel = NormalizeLogLevel(env.LogLevel)
	if !filepath.IsAbs(env.LogDir) {
		env.LogDir = filepath.Join(filepath.Dir(path), env.LogDir)
	}

	for _, tool := range []struct{ name, path string }{
		{"rsync_tool", env.RsyncTool},
		{"fping_tool", env.FpingTool},
		{"inotify_tool", env.InotifyTool},
	} {
		info, err := os.Stat(tool.path)
		if err != nil || info.IsDir() {
			return nil, core.Configf("%s is not a valid %s", tool.path, tool.name)
		}
	}
	if info, err := os.Stat(env.SoPath); err != nil || !info.IsDir() {
		return nil, core.Configf("%s is not a valid directory path", env.SoPath)
	}
	return env, nil
}

// CheckUser verifies the daemon runs as the configured sync user. Kept
// apart from LoadEnv so tests can load fixtures under any account.
func (e *Env) CheckUser() error {
	u, err := user.Current()
	if err != nil {
		return fmt.Errorf("resolve current user: %w", err)
	}
	if u.Username != e.RsyncUser {
		return core.Configf("please switch to %s to continue", e.RsyncUser)
	}
	return nil
}

// NormalizeLogLevel maps anything outside {info, debug, error} to info.
func NormalizeLogLevel(level string) string {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return "debug"
	case "error":
		return "error"
	default:
		return "info"
	}
}

// ReadLogLevel re-reads only the log_level key from env.ini. The monitor
// calls this every tick to pick up live edits; a missing or unreadable
// file yields info.
func ReadLogLevel(path string) string {
	f, err := ini.Load(path)
	if err != nil {
		return "info"
	}
	return NormalizeLogLevel(f.Section("ENV").Key("log_level").String())
}
