// Package config loads the botvisor TOML configuration.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/loykin/botvisor/internal/history"
	"github.com/loykin/botvisor/internal/logger"
	"github.com/loykin/botvisor/internal/process"
	"github.com/loykin/botvisor/internal/supervisor"
	servertls "github.com/loykin/botvisor/internal/tls"
)

// EnvPrefix namespaces environment overrides, e.g. BOTVISOR_SERVER_LISTEN.
const EnvPrefix = "BOTVISOR"

// Config is the top-level TOML structure.
type Config struct {
	DataDir string            `mapstructure:"data_dir"`
	Worker  WorkerConfig      `mapstructure:"worker"`
	Paths   PathsConfig       `mapstructure:"paths"`
	Timing  TimingConfig      `mapstructure:"timing"`
	Log     logger.SlogConfig `mapstructure:"log"`
	Server  ServerConfig      `mapstructure:"server"`
	Metrics MetricsConfig     `mapstructure:"metrics"`
	History HistoryConfig     `mapstructure:"history"`

	// dir is the directory relative paths are resolved against.
	dir string
}

type WorkerConfig struct {
	Name     string            `mapstructure:"name"`
	Command  string            `mapstructure:"command"`
	Args     []string          `mapstructure:"args"`
	Script   string            `mapstructure:"script"`
	Dir      string            `mapstructure:"dir"`
	Image    string            `mapstructure:"image"`
	BotType  string            `mapstructure:"bot_type"`
	Env      []string          `mapstructure:"env"`
	EnvFiles []string          `mapstructure:"env_files"`
	Log      logger.FileConfig `mapstructure:"log"`
}

// PathsConfig overrides the artifact locations derived from data_dir.
type PathsConfig struct {
	PIDFile    string `mapstructure:"pid_file"`
	StatusFile string `mapstructure:"status_file"`
	QRFile     string `mapstructure:"qr_file"`
	AuthDir    string `mapstructure:"auth_dir"`
}

type TimingConfig struct {
	StopTimeout      time.Duration `mapstructure:"stop_timeout"`
	RestartSettle    time.Duration `mapstructure:"restart_settle"`
	DisconnectSettle time.Duration `mapstructure:"disconnect_settle"`
	PurgeAttempts    int           `mapstructure:"purge_attempts"`
	PurgeInterval    time.Duration `mapstructure:"purge_interval"`
	HistoryTimeout   time.Duration `mapstructure:"history_timeout"`
}

type ServerConfig struct {
	Listen   string           `mapstructure:"listen"`
	BasePath string           `mapstructure:"base_path"`
	TLS      servertls.Config `mapstructure:"tls"`
}

type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

// HistoryConfig lists lifecycle event sinks as DSNs
// (sqlite://, postgres://, clickhouse://, opensearch://).
type HistoryConfig struct {
	Sinks []string `mapstructure:"sinks"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("data_dir", "data")

	v.SetDefault("worker.name", "whatsapp")
	v.SetDefault("worker.command", "node")
	v.SetDefault("worker.args", []string{})
	v.SetDefault("worker.script", "chatbot.js")
	v.SetDefault("worker.dir", ".")
	v.SetDefault("worker.image", "node")
	v.SetDefault("worker.bot_type", supervisor.DefaultBotType)
	v.SetDefault("worker.env", []string{})
	v.SetDefault("worker.env_files", []string{})

	v.SetDefault("paths.pid_file", "")
	v.SetDefault("paths.status_file", "")
	v.SetDefault("paths.qr_file", "")
	v.SetDefault("paths.auth_dir", "")

	v.SetDefault("timing.stop_timeout", process.DefaultStopTimeout)
	v.SetDefault("timing.restart_settle", supervisor.DefaultRestartSettle)
	v.SetDefault("timing.disconnect_settle", supervisor.DefaultDisconnectSettle)
	v.SetDefault("timing.purge_attempts", process.DefaultPurgeAttempts)
	v.SetDefault("timing.purge_interval", process.DefaultPurgeInterval)
	v.SetDefault("timing.history_timeout", history.DefaultSendTimeout)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", logger.FormatText)
	v.SetDefault("log.color", false)
	v.SetDefault("log.timestamps", true)

	v.SetDefault("server.listen", ":8080")
	v.SetDefault("server.base_path", "/whatsapp")
	v.SetDefault("server.tls.enabled", false)
	v.SetDefault("server.tls.cert_file", "")
	v.SetDefault("server.tls.key_file", "")
	v.SetDefault("server.tls.dir", "")
	v.SetDefault("server.tls.auto_generate", false)
	v.SetDefault("server.tls.min_version", "")
	v.SetDefault("server.tls.max_version", "")
	v.SetDefault("metrics.enabled", false)
	v.SetDefault("history.sinks", []string{})
}

// Load reads the TOML file at path. An empty path yields the defaults,
// resolved against the working directory. BOTVISOR_* environment variables
// override file values.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	dir, err := os.Getwd()
	if err != nil {
		return nil, err
	}
	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("toml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		abs, err := filepath.Abs(path)
		if err != nil {
			return nil, err
		}
		dir = filepath.Dir(abs)
	}

	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	c.dir = dir
	c.resolve()
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// resolve turns relative paths absolute and fills artifact paths from data_dir.
func (c *Config) resolve() {
	c.DataDir = c.abs(c.DataDir)
	c.Worker.Dir = c.abs(c.Worker.Dir)
	if c.Worker.Log.Dir != "" {
		c.Worker.Log.Dir = c.abs(c.Worker.Log.Dir)
	}
	if c.Worker.Log.StdoutPath != "" {
		c.Worker.Log.StdoutPath = c.abs(c.Worker.Log.StdoutPath)
	}
	if c.Worker.Log.StderrPath != "" {
		c.Worker.Log.StderrPath = c.abs(c.Worker.Log.StderrPath)
	}
	for i, f := range c.Worker.EnvFiles {
		c.Worker.EnvFiles[i] = c.abs(f)
	}
	c.Server.TLS.CertFile = c.abs(c.Server.TLS.CertFile)
	c.Server.TLS.KeyFile = c.abs(c.Server.TLS.KeyFile)
	c.Server.TLS.Dir = c.abs(c.Server.TLS.Dir)

	under := func(p, def string) string {
		if p == "" {
			return filepath.Join(c.DataDir, def)
		}
		return c.abs(p)
	}
	c.Paths.PIDFile = under(c.Paths.PIDFile, "bot_pid.txt")
	c.Paths.StatusFile = under(c.Paths.StatusFile, "bot_status.json")
	c.Paths.QRFile = under(c.Paths.QRFile, filepath.Join("image", "whatsapp_qr.png"))
	c.Paths.AuthDir = under(c.Paths.AuthDir, ".auth_cache")
}

func (c *Config) abs(p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(c.dir, p)
}

// Validate reports configuration that can never launch or serve a worker.
func (c *Config) Validate() error {
	var errs []error
	if c.Worker.Command == "" && c.Worker.Script == "" {
		errs = append(errs, errors.New("worker: command or script is required"))
	}
	if c.Worker.Name == "" {
		errs = append(errs, errors.New("worker: name is required"))
	}
	if c.Timing.StopTimeout < 0 || c.Timing.RestartSettle < 0 ||
		c.Timing.DisconnectSettle < 0 || c.Timing.PurgeInterval < 0 || c.Timing.HistoryTimeout < 0 {
		errs = append(errs, errors.New("timing: durations must not be negative"))
	}
	if c.Timing.PurgeAttempts < 0 {
		errs = append(errs, errors.New("timing: purge_attempts must not be negative"))
	}
	if c.Server.Listen == "" {
		errs = append(errs, errors.New("server: listen address is required"))
	}
	if t := c.Server.TLS; t.Enabled && t.Dir == "" && (t.CertFile == "" || t.KeyFile == "") {
		errs = append(errs, errors.New("server.tls: cert_file and key_file, or dir, are required"))
	}
	return errors.Join(errs...)
}

// WorkerEnv merges env_files in order, then the env list on top.
func (c *Config) WorkerEnv() ([]string, error) {
	m := make(map[string]string)
	for _, p := range c.Worker.EnvFiles {
		pairs, err := loadEnvFile(p)
		if err != nil {
			return nil, fmt.Errorf("worker env file: %w", err)
		}
		for k, v := range pairs {
			m[k] = v
		}
	}
	for _, kv := range c.Worker.Env {
		if i := strings.IndexByte(kv, '='); i > 0 {
			m[kv[:i]] = kv[i+1:]
		}
	}
	out := make([]string, 0, len(m))
	for k, v := range m {
		out = append(out, k+"="+v)
	}
	sort.Strings(out)
	return out, nil
}

// Options builds the supervisor options. Sinks are opened by the caller.
func (c *Config) Options(log *slog.Logger, sinks []history.Sink) (supervisor.Options, error) {
	env, err := c.WorkerEnv()
	if err != nil {
		return supervisor.Options{}, err
	}
	return supervisor.Options{
		Worker: process.Spec{
			Name:    c.Worker.Name,
			Command: c.Worker.Command,
			Args:    c.Worker.Args,
			Script:  c.Worker.Script,
			Dir:     c.Worker.Dir,
			Env:     env,
			Log:     c.Worker.Log,
		},
		Image:            c.Worker.Image,
		BotType:          c.Worker.BotType,
		PIDFile:          c.Paths.PIDFile,
		StatusFile:       c.Paths.StatusFile,
		QRFile:           c.Paths.QRFile,
		AuthDir:          c.Paths.AuthDir,
		DataDir:          c.DataDir,
		StopTimeout:      c.Timing.StopTimeout,
		RestartSettle:    c.Timing.RestartSettle,
		DisconnectSettle: c.Timing.DisconnectSettle,
		PurgeAttempts:    c.Timing.PurgeAttempts,
		PurgeInterval:    c.Timing.PurgeInterval,
		HistoryTimeout:   c.Timing.HistoryTimeout,
		Sinks:            sinks,
		Logger:           log,
	}, nil
}

// LoadEnvFile parses a simple .env file and returns a slice of "KEY=VALUE" entries.
func LoadEnvFile(path string) ([]string, error) {
	m, err := loadEnvFile(path)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(m))
	for k, v := range m {
		out = append(out, k+"="+v)
	}
	sort.Strings(out)
	return out, nil
}

// loadEnvFile parses KEY=VALUE lines (no export, no quotes). Lines starting with # are ignored.
func loadEnvFile(path string) (map[string]string, error) {
	// Mitigate G304: sanitize user-provided path by cleaning it before use.
	clean := filepath.Clean(path)
	b, err := os.ReadFile(clean)
	if err != nil {
		return nil, err
	}
	m := make(map[string]string)
	for _, line := range strings.Split(string(b), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if i := strings.IndexByte(line, '='); i >= 0 {
			k := strings.TrimSpace(line[:i])
			v := strings.TrimSpace(line[i+1:])
			m[k] = v
		}
	}
	return m, nil
}
