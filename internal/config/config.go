// internal/config/config.go
//
// This package handles configuration and the .apsboard directory structure.
// Every project that runs the dashboard gets a .apsboard/ folder in its root.

package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata"

	"gopkg.in/yaml.v3"
)

const (
	// AppDir is the name of the directory we create in each project
	AppDir = ".apsboard"

	AnchorMonthStart = "month_start"
	AnchorNow        = "now"

	defaultBaseURL          = "http://127.0.0.1:8780"
	defaultTimeout          = 30 * time.Second
	defaultDebounce         = 600 * time.Millisecond
	defaultMinBlockWidth    = 1.0
	defaultMinutesTolerance = time.Minute
	defaultStubHost         = "127.0.0.1"
	defaultStubPort         = 8780
	defaultStubMachines     = 4
)

const defaultProjectConfigYAML = `# apsboard project configuration
version: 1

# Scheduling backend. Headers are sent with every request (session cookies, tokens).
backend:
  base_url: http://127.0.0.1:8780
  timeout: 30s
  # headers:
  #   Authorization: Bearer <token>

schedule:
  include_all: false
  # Settle time after a reorder before the schedule is re-run.
  debounce: 600ms
  # month_start, now, or an RFC3339 timestamp.
  anchor: month_start

timeline:
  min_block_width: 1
  minutes_tolerance: 1m
  # IANA zone used for wire timestamps without an offset. Empty means local.
  timezone: ""

cache:
  # Relative to the project directory. Empty disables the persisted month index.
  dir: .apsboard/cache

# Local stand-in backend started by aps-stub.
stub:
  host: 127.0.0.1
  port: 8780
  machines: 4
  upper_camel: false
`

// BackendConfig describes how to reach the scheduling service.
type BackendConfig struct {
	BaseURL string            `yaml:"base_url"`
	Timeout time.Duration     `yaml:"timeout"`
	Headers map[string]string `yaml:"headers,omitempty"`
}

// ScheduleConfig holds run defaults.
type ScheduleConfig struct {
	IncludeAll bool          `yaml:"include_all"`
	Debounce   time.Duration `yaml:"debounce"`
	Anchor     string        `yaml:"anchor"`
}

// TimelineConfig tunes layout.
type TimelineConfig struct {
	MinBlockWidth    float64       `yaml:"min_block_width"`
	MinutesTolerance time.Duration `yaml:"minutes_tolerance"`
	Timezone         string        `yaml:"timezone"`
}

// CacheConfig points at the persisted month index.
type CacheConfig struct {
	Dir string `yaml:"dir"`
}

// StubConfig configures the local stand-in backend.
type StubConfig struct {
	Host       string `yaml:"host"`
	Port       int    `yaml:"port"`
	Machines   int    `yaml:"machines"`
	UpperCamel bool   `yaml:"upper_camel"`
}

// ProjectConfig models .apsboard/config.yaml.
type ProjectConfig struct {
	Version  int            `yaml:"version"`
	Backend  BackendConfig  `yaml:"backend"`
	Schedule ScheduleConfig `yaml:"schedule"`
	Timeline TimelineConfig `yaml:"timeline"`
	Cache    CacheConfig    `yaml:"cache"`
	Stub     StubConfig     `yaml:"stub"`
}

// Config holds the runtime configuration for the dashboard.
type Config struct {
	// ProjectDir is the directory where the user ran `apsboard` from
	ProjectDir string

	// AppProjectDir is ProjectDir/.apsboard
	AppProjectDir string

	Project ProjectConfig

	location *time.Location
}

// InitAppDir creates the .apsboard directory structure in the given project directory.
//
// Structure created:
// .apsboard/
// ├── config.yaml
// ├── logs/     <- journey log shown in the dashboard
// └── cache/    <- persisted month index
func InitAppDir(projectDir string) error {
	appDir := filepath.Join(projectDir, AppDir)
	dirs := []string{
		filepath.Join(appDir, "logs"),
		filepath.Join(appDir, "cache"),
	}
	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return err
		}
	}
	return ensureProjectConfig(filepath.Join(appDir, "config.yaml"))
}

// NewConfig loads .apsboard/config.yaml (if present) and applies environment
// overrides: APSBOARD_BASE_URL, APSBOARD_INCLUDE_ALL and APSBOARD_TIMEZONE.
func NewConfig(projectDir string) (*Config, error) {
	cfg := &Config{
		ProjectDir:    projectDir,
		AppProjectDir: filepath.Join(projectDir, AppDir),
		Project:       defaultProjectConfig(),
	}
	if err := cfg.loadProjectConfig(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LogsDir returns the path to the logs directory
func (c *Config) LogsDir() string {
	return filepath.Join(c.AppProjectDir, "logs")
}

// JournalPath returns the dashboard's journey log.
func (c *Config) JournalPath() string {
	return filepath.Join(c.LogsDir(), "journey.log")
}

// CacheDir returns the resolved cache directory, or "" when disabled.
func (c *Config) CacheDir() string {
	return c.Project.Cache.Dir
}

// ProjectConfigPath returns the on-disk location for the project config file.
func (c *Config) ProjectConfigPath() string {
	return filepath.Join(c.AppProjectDir, "config.yaml")
}

// Location returns the zone used to read wire timestamps and build windows.
func (c *Config) Location() *time.Location {
	if c == nil || c.location == nil {
		return time.Local
	}
	return c.location
}

// AnchorFor returns the anchorStart for a run beginning at monthStart.
func (c *Config) AnchorFor(monthStart, now time.Time) time.Time {
	switch anchor := c.Project.Schedule.Anchor; anchor {
	case AnchorNow:
		return now.In(c.Location()).Truncate(time.Minute)
	case AnchorMonthStart, "":
		return monthStart
	default:
		ts, err := time.ParseInLocation(time.RFC3339, anchor, c.Location())
		if err != nil {
			return monthStart
		}
		return ts
	}
}

// SetIncludeAll updates the include_all default and persists it.
func (c *Config) SetIncludeAll(includeAll bool) error {
	c.Project.Schedule.IncludeAll = includeAll
	return c.saveProjectConfig()
}

func (c *Config) loadProjectConfig() error {
	path := c.ProjectConfigPath()
	data, err := os.ReadFile(path)
	parsed := defaultProjectConfig()
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &parsed); err != nil {
			return fmt.Errorf("config: parse %s: %w", path, err)
		}
	case errors.Is(err, fs.ErrNotExist):
	default:
		return fmt.Errorf("config: read %s: %w", path, err)
	}

	parsed.applyDefaults()
	parsed.applyEnvOverrides()
	parsed.normalize(c.ProjectDir)
	loc, err := parsed.validate()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	c.Project = parsed
	c.location = loc
	return nil
}

func defaultProjectConfig() ProjectConfig {
	return ProjectConfig{
		Version: 1,
		Backend: BackendConfig{
			BaseURL: defaultBaseURL,
			Timeout: defaultTimeout,
		},
		Schedule: ScheduleConfig{
			Debounce: defaultDebounce,
			Anchor:   AnchorMonthStart,
		},
		Timeline: TimelineConfig{
			MinBlockWidth:    defaultMinBlockWidth,
			MinutesTolerance: defaultMinutesTolerance,
		},
		Cache: CacheConfig{Dir: filepath.Join(AppDir, "cache")},
		Stub: StubConfig{
			Host:     defaultStubHost,
			Port:     defaultStubPort,
			Machines: defaultStubMachines,
		},
	}
}

func (pc *ProjectConfig) applyDefaults() {
	if pc.Version == 0 {
		pc.Version = 1
	}
	if strings.TrimSpace(pc.Backend.BaseURL) == "" {
		pc.Backend.BaseURL = defaultBaseURL
	}
	if pc.Backend.Timeout <= 0 {
		pc.Backend.Timeout = defaultTimeout
	}
	if pc.Schedule.Debounce <= 0 {
		pc.Schedule.Debounce = defaultDebounce
	}
	if pc.Timeline.MinBlockWidth == 0 {
		pc.Timeline.MinBlockWidth = defaultMinBlockWidth
	}
	if pc.Timeline.MinutesTolerance == 0 {
		pc.Timeline.MinutesTolerance = defaultMinutesTolerance
	}
	if pc.Stub.Port == 0 {
		pc.Stub.Port = defaultStubPort
	}
	if pc.Stub.Machines == 0 {
		pc.Stub.Machines = defaultStubMachines
	}
}

func (pc *ProjectConfig) applyEnvOverrides() {
	if base := strings.TrimSpace(os.Getenv("APSBOARD_BASE_URL")); base != "" {
		pc.Backend.BaseURL = base
	}
	if value := strings.TrimSpace(os.Getenv("APSBOARD_INCLUDE_ALL")); value != "" {
		if includeAll, err := strconv.ParseBool(value); err == nil {
			pc.Schedule.IncludeAll = includeAll
		}
	}
	if tz, ok := os.LookupEnv("APSBOARD_TIMEZONE"); ok {
		pc.Timeline.Timezone = tz
	}
}

func (pc *ProjectConfig) normalize(base string) {
	pc.Backend.BaseURL = strings.TrimRight(strings.TrimSpace(pc.Backend.BaseURL), "/")
	headers := make(map[string]string, len(pc.Backend.Headers))
	for key, value := range pc.Backend.Headers {
		if key = strings.TrimSpace(key); key != "" {
			headers[key] = strings.TrimSpace(value)
		}
	}
	pc.Backend.Headers = headers
	pc.Schedule.Anchor = strings.TrimSpace(pc.Schedule.Anchor)
	if pc.Schedule.Anchor == "" {
		pc.Schedule.Anchor = AnchorMonthStart
	}
	if lower := strings.ToLower(pc.Schedule.Anchor); lower == AnchorMonthStart || lower == AnchorNow {
		pc.Schedule.Anchor = lower
	}
	pc.Timeline.Timezone = strings.TrimSpace(pc.Timeline.Timezone)
	pc.Cache.Dir = resolvePath(base, pc.Cache.Dir)
	pc.Stub.Host = strings.TrimSpace(pc.Stub.Host)
	if pc.Stub.Host == "" {
		pc.Stub.Host = defaultStubHost
	}
}

func (pc *ProjectConfig) validate() (*time.Location, error) {
	if pc.Version < 1 {
		return nil, fmt.Errorf("config version must be >= 1")
	}
	parsed, err := url.Parse(pc.Backend.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("backend.base_url: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return nil, fmt.Errorf("backend.base_url must use http or https")
	}
	if parsed.Host == "" {
		return nil, fmt.Errorf("backend.base_url must include a host")
	}
	switch pc.Schedule.Anchor {
	case AnchorMonthStart, AnchorNow:
	default:
		if _, err := time.Parse(time.RFC3339, pc.Schedule.Anchor); err != nil {
			return nil, fmt.Errorf("schedule.anchor must be month_start, now or RFC3339: %w", err)
		}
	}
	if pc.Timeline.MinBlockWidth < 0 {
		return nil, fmt.Errorf("timeline.min_block_width must be >= 0")
	}
	if pc.Timeline.MinutesTolerance < 0 {
		return nil, fmt.Errorf("timeline.minutes_tolerance must be >= 0")
	}
	if pc.Stub.Port < 1 || pc.Stub.Port > 65535 {
		return nil, fmt.Errorf("stub.port must be between 1 and 65535")
	}
	if pc.Stub.Machines < 1 {
		return nil, fmt.Errorf("stub.machines must be >= 1")
	}
	loc := time.Local
	if pc.Timeline.Timezone != "" {
		loc, err = time.LoadLocation(pc.Timeline.Timezone)
		if err != nil {
			return nil, fmt.Errorf("timeline.timezone: %w", err)
		}
	}
	return loc, nil
}

func resolvePath(base, candidate string) string {
	trimmed := strings.TrimSpace(candidate)
	if trimmed == "" {
		return ""
	}
	if filepath.IsAbs(trimmed) {
		return filepath.Clean(trimmed)
	}
	return filepath.Clean(filepath.Join(base, trimmed))
}

func ensureProjectConfig(path string) error {
	if _, err := os.Stat(path); err == nil {
		return nil
	} else if !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return os.WriteFile(path, []byte(defaultProjectConfigYAML), 0644)
}

func (c *Config) saveProjectConfig() error {
	if c == nil {
		return fmt.Errorf("config: nil receiver")
	}
	if _, err := c.Project.validate(); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if err := os.MkdirAll(c.AppProjectDir, 0o755); err != nil {
		return fmt.Errorf("config: ensure app dir: %w", err)
	}
	out := c.Project
	if rel, err := filepath.Rel(c.ProjectDir, out.Cache.Dir); err == nil && out.Cache.Dir != "" && !strings.HasPrefix(rel, "..") {
		out.Cache.Dir = rel
	}
	data, err := yaml.Marshal(out)
	if err != nil {
		return fmt.Errorf("config: encode config: %w", err)
	}
	if err := os.WriteFile(c.ProjectConfigPath(), data, 0644); err != nil {
		return fmt.Errorf("config: write project config: %w", err)
	}
	return nil
}
