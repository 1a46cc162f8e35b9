package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/beta0629/stock-trading-system-sub001/internal/logger"
	"github.com/beta0629/stock-trading-system-sub001/internal/resources"
	"github.com/beta0629/stock-trading-system-sub001/internal/target"
)

// Target roles. Exactly one target is the primary; everything else is
// auxiliary and only supervised when the monitor enables it.
const (
	RolePrimary   = "primary"
	RoleAuxiliary = "auxiliary"
)

// Built-in target commands used when no config file is given. They mirror
// the system this supervisor was built around: a long-running analysis
// worker plus its API sidecar.
const (
	DefaultPrimaryName    = "main"
	DefaultPrimaryCommand = "python main.py"
	DefaultAuxName        = "api-server"
	DefaultAuxCommand     = "python api_server.py"
)

// FileConfig represents the top-level TOML structure.
type FileConfig struct {
	Env      []string `toml:"env" mapstructure:"env"`
	EnvFiles []string `toml:"env_files" mapstructure:"env_files"`
	UseOSEnv bool     `toml:"use_os_env" mapstructure:"use_os_env"`

	Monitor   MonitorSection       `toml:"monitor" mapstructure:"monitor"`
	Service   ServiceSection       `toml:"service" mapstructure:"service"`
	Resources resources.Thresholds `toml:"resources" mapstructure:"resources"`
	Log       *LogSection          `toml:"log" mapstructure:"log"`
	History   HistorySection       `toml:"history" mapstructure:"history"`
	Server    ServerSection        `toml:"server" mapstructure:"server"`
	Targets   []TargetSection      `toml:"target" mapstructure:"target"`
}

// MonitorSection configures the supervisor core loop.
type MonitorSection struct {
	Interval time.Duration `toml:"interval" mapstructure:"interval"`
	PIDDir   string        `toml:"pid_dir" mapstructure:"pid_dir"`
	// AutoRestart defaults to true when absent.
	AutoRestart       *bool              `toml:"auto_restart" mapstructure:"auto_restart"`
	StartPrimary      bool               `toml:"start_primary" mapstructure:"start_primary"`
	MonitorAux        bool               `toml:"monitor_aux" mapstructure:"monitor_aux"`
	RestartAuxOnStart bool               `toml:"restart_aux_on_start" mapstructure:"restart_aux_on_start"`
	Term              target.TermOptions `toml:"term" mapstructure:"term"`
}

// AutoRestartEnabled resolves the tri-state flag, defaulting to on.
func (m MonitorSection) AutoRestartEnabled() bool {
	return m.AutoRestart == nil || *m.AutoRestart
}

// ServiceSection configures the outer service wrapper.
type ServiceSection struct {
	Direct              bool          `toml:"direct" mapstructure:"direct"`
	PollInterval        time.Duration `toml:"poll_interval" mapstructure:"poll_interval"`
	ResourceLogInterval time.Duration `toml:"resource_log_interval" mapstructure:"resource_log_interval"`
	ShortRunThreshold   time.Duration `toml:"short_run_threshold" mapstructure:"short_run_threshold"`
	ShortRunDelay       time.Duration `toml:"short_run_delay" mapstructure:"short_run_delay"`
	RestartDelay        time.Duration `toml:"restart_delay" mapstructure:"restart_delay"`
	// KillDescendants defaults to true when absent.
	KillDescendants *bool  `toml:"kill_descendants" mapstructure:"kill_descendants"`
	CloudTimezone   string `toml:"cloud_timezone" mapstructure:"cloud_timezone"`
}

// KillDescendantsEnabled resolves the tri-state flag, defaulting to on.
func (s ServiceSection) KillDescendantsEnabled() bool {
	return s.KillDescendants == nil || *s.KillDescendants
}

// LogSection is the file-level [log] table. It feeds both the supervisor's
// own component logs and the per-target process output defaults.
type LogSection struct {
	Level      string `toml:"level" mapstructure:"level"`
	Format     string `toml:"format" mapstructure:"format"`
	Color      bool   `toml:"color" mapstructure:"color"`
	Timestamps bool   `toml:"timestamps" mapstructure:"timestamps"`
	Source     bool   `toml:"source" mapstructure:"source"`
	Dir        string `toml:"dir" mapstructure:"dir"`
	Stdout     string `toml:"stdout" mapstructure:"stdout"`
	Stderr     string `toml:"stderr" mapstructure:"stderr"`
	MaxSizeMB  int    `toml:"max_size_mb" mapstructure:"max_size_mb"`
	MaxBackups int    `toml:"max_backups" mapstructure:"max_backups"`
	MaxAgeDays int    `toml:"max_age_days" mapstructure:"max_age_days"`
	Compress   bool   `toml:"compress" mapstructure:"compress"`
}

// HistorySection configures the supervision event journal. Each DSN creates
// one sink; the scheme picks the backend (sqlite, postgres, clickhouse,
// opensearch).
type HistorySection struct {
	Enabled bool     `toml:"enabled" mapstructure:"enabled"`
	DSNs    []string `toml:"dsns" mapstructure:"dsns"`
}

// ServerSection configures the read-only status HTTP server.
type ServerSection struct {
	Enabled      bool          `toml:"enabled" mapstructure:"enabled"`
	Listen       string        `toml:"listen" mapstructure:"listen"`
	BasePath     string        `toml:"base_path" mapstructure:"base_path"`
	ReadTimeout  time.Duration `toml:"read_timeout" mapstructure:"read_timeout"`
	WriteTimeout time.Duration `toml:"write_timeout" mapstructure:"write_timeout"`
	TLS          *TLSSection   `toml:"tls" mapstructure:"tls"`
}

// TLSSection enables HTTPS on the status server. Either explicit cert/key
// files or a directory; with auto_generate the directory is seeded with a
// self-signed pair on first start.
type TLSSection struct {
	Enabled      bool            `toml:"enabled" mapstructure:"enabled"`
	CertFile     string          `toml:"cert_file" mapstructure:"cert_file"`
	KeyFile      string          `toml:"key_file" mapstructure:"key_file"`
	Dir          string          `toml:"dir" mapstructure:"dir"`
	AutoGenerate bool            `toml:"auto_generate" mapstructure:"auto_generate"`
	MinVersion   string          `toml:"min_version" mapstructure:"min_version"`
	MaxVersion   string          `toml:"max_version" mapstructure:"max_version"`
	AutoGen      *AutoGenSection `toml:"auto_gen" mapstructure:"auto_gen"`
}

// AutoGenSection tunes self-signed certificate generation.
type AutoGenSection struct {
	CommonName   string   `toml:"common_name" mapstructure:"common_name"`
	Organization string   `toml:"organization" mapstructure:"organization"`
	DNSNames     []string `toml:"dns_names" mapstructure:"dns_names"`
	IPAddresses  []string `toml:"ip_addresses" mapstructure:"ip_addresses"`
	ValidDays    int      `toml:"valid_days" mapstructure:"valid_days"`
}

// TargetSection is one [[target]] table.
type TargetSection struct {
	Name               string        `toml:"name" mapstructure:"name"`
	Command            string        `toml:"command" mapstructure:"command"`
	WorkDir            string        `toml:"work_dir" mapstructure:"work_dir"`
	Env                []string      `toml:"env" mapstructure:"env"`
	PIDFile            string        `toml:"pid_file" mapstructure:"pid_file"`
	Match              string        `toml:"match" mapstructure:"match"`
	Role               string        `toml:"role" mapstructure:"role"`
	StartGrace         time.Duration `toml:"start_grace" mapstructure:"start_grace"`
	RestartMinInterval time.Duration `toml:"restart_min_interval" mapstructure:"restart_min_interval"`
	Log                *LogSection   `toml:"log" mapstructure:"log"`
}

// Config is the fully resolved runtime configuration: global env composed,
// targets split by role, log defaults merged into each target.
type Config struct {
	Env       []string
	Monitor   MonitorSection
	Service   ServiceSection
	Resources resources.Thresholds
	Log       logger.Config
	History   HistorySection
	Server    ServerSection
	Primary   target.Spec
	Auxes     []target.Spec
}

// DefaultConfig is the zero-file configuration: the built-in worker pair,
// pid files in the working directory, everything else on package defaults.
func DefaultConfig() *Config {
	return &Config{
		Monitor: MonitorSection{PIDDir: "."},
		Primary: target.Spec{Name: DefaultPrimaryName, Command: DefaultPrimaryCommand},
		Auxes:   []target.Spec{{Name: DefaultAuxName, Command: DefaultAuxCommand}},
	}
}

// LoadConfig reads and resolves a TOML config file. An empty path yields
// DefaultConfig.
func LoadConfig(path string) (*Config, error) {
	if path == "" {
		return DefaultConfig(), nil
	}
	fc, err := readFile(path)
	if err != nil {
		return nil, err
	}
	return resolve(fc)
}

func readFile(path string) (*FileConfig, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("toml")
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	var fc FileConfig
	if err := v.Unmarshal(&fc); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	return &fc, nil
}

func resolve(fc *FileConfig) (*Config, error) {
	cfg := &Config{
		Monitor:   fc.Monitor,
		Service:   fc.Service,
		Resources: fc.Resources,
		History:   fc.History,
		Server:    fc.Server,
		Log:       fc.Log.toLogger(),
	}
	if cfg.Monitor.PIDDir == "" {
		cfg.Monitor.PIDDir = "."
	}

	envs, err := composeEnv(fc)
	if err != nil {
		return nil, err
	}
	cfg.Env = envs

	if len(fc.Targets) == 0 {
		def := DefaultConfig()
		cfg.Primary = def.Primary
		cfg.Auxes = def.Auxes
		applyTargetLogDefaults(cfg)
		return cfg, nil
	}

	seen := make(map[string]bool, len(fc.Targets))
	for _, tc := range fc.Targets {
		spec, role, err := tc.toSpec(fc.Log)
		if err != nil {
			return nil, err
		}
		if seen[spec.Name] {
			return nil, fmt.Errorf("duplicate target name %q", spec.Name)
		}
		seen[spec.Name] = true
		switch role {
		case RolePrimary:
			if cfg.Primary.Name != "" {
				return nil, fmt.Errorf("multiple primary targets: %q and %q", cfg.Primary.Name, spec.Name)
			}
			cfg.Primary = spec
		case RoleAuxiliary:
			cfg.Auxes = append(cfg.Auxes, spec)
		default:
			return nil, fmt.Errorf("target %s: unknown role %q", spec.Name, role)
		}
	}
	if cfg.Primary.Name == "" {
		return nil, fmt.Errorf("config declares no primary target")
	}
	applyTargetLogDefaults(cfg)
	return cfg, nil
}

// applyTargetLogDefaults gives targets without an explicit log table the
// global file settings, so their stdout/stderr land next to the component
// logs.
func applyTargetLogDefaults(cfg *Config) {
	if cfg.Log.File.Dir == "" {
		return
	}
	def := logger.Config{File: logger.FileConfig{
		Dir:        cfg.Log.File.Dir,
		MaxSizeMB:  cfg.Log.File.MaxSizeMB,
		MaxBackups: cfg.Log.File.MaxBackups,
		MaxAgeDays: cfg.Log.File.MaxAgeDays,
		Compress:   cfg.Log.File.Compress,
	}}
	if cfg.Primary.Log.File.Dir == "" && cfg.Primary.Log.File.StdoutPath == "" {
		cfg.Primary.Log = def
	}
	for i := range cfg.Auxes {
		if cfg.Auxes[i].Log.File.Dir == "" && cfg.Auxes[i].Log.File.StdoutPath == "" {
			cfg.Auxes[i].Log = def
		}
	}
}

func (tc TargetSection) toSpec(global *LogSection) (target.Spec, string, error) {
	spec := target.Spec{
		Name:               tc.Name,
		Command:            tc.Command,
		WorkDir:            tc.WorkDir,
		Env:                tc.Env,
		PIDFile:            tc.PIDFile,
		Match:              tc.Match,
		StartGrace:         tc.StartGrace,
		RestartMinInterval: tc.RestartMinInterval,
	}
	if err := spec.Validate(); err != nil {
		return target.Spec{}, "", err
	}
	// Per-target log table wins over the global one.
	if tc.Log != nil {
		spec.Log = tc.Log.toLogger()
	}
	role := tc.Role
	if role == "" {
		role = RoleAuxiliary
	}
	return spec, role, nil
}

func (ls *LogSection) toLogger() logger.Config {
	if ls == nil {
		return logger.Config{}
	}
	return logger.Config{
		Slog: logger.SlogConfig{
			Level:      logger.Level(ls.Level),
			Format:     logger.Format(ls.Format),
			Color:      ls.Color,
			TimeStamps: ls.Timestamps,
			Source:     ls.Source,
		},
		File: logger.FileConfig{
			Dir:        ls.Dir,
			StdoutPath: ls.Stdout,
			StderrPath: ls.Stderr,
			MaxSizeMB:  ls.MaxSizeMB,
			MaxBackups: ls.MaxBackups,
			MaxAgeDays: ls.MaxAgeDays,
			Compress:   ls.Compress,
		},
	}
}

// composeEnv merges the global environment. Precedence: OS env (when
// enabled) provides the base, env_files apply next, the top-level env list
// overrides last.
func composeEnv(fc *FileConfig) ([]string, error) {
	m := make(map[string]string)
	if fc.UseOSEnv {
		for _, kv := range os.Environ() {
			if i := strings.IndexByte(kv, '='); i >= 0 {
				m[kv[:i]] = kv[i+1:]
			}
		}
	}
	for _, p := range fc.EnvFiles {
		pairs, err := loadEnvFile(p)
		if err != nil {
			return nil, err
		}
		for k, v := range pairs {
			m[k] = v
		}
	}
	for _, kv := range fc.Env {
		if i := strings.IndexByte(kv, '='); i >= 0 {
			m[kv[:i]] = kv[i+1:]
		}
	}
	out := make([]string, 0, len(m))
	for k, v := range m {
		out = append(out, k+"="+v)
	}
	return out, nil
}

// LoadGlobalEnv resolves only the composed global environment from a
// config file.
func LoadGlobalEnv(path string) ([]string, error) {
	fc, err := readFile(path)
	if err != nil {
		return nil, err
	}
	return composeEnv(fc)
}

// LoadEnvFile parses a simple .env file and returns "KEY=VALUE" entries.
func LoadEnvFile(path string) ([]string, error) {
	m, err := loadEnvFile(path)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(m))
	for k, v := range m {
		out = append(out, k+"="+v)
	}
	return out, nil
}

// loadEnvFile parses KEY=VALUE lines (no export, no quotes). Lines starting
// with # are ignored.
func loadEnvFile(path string) (map[string]string, error) {
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
