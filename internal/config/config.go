package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/assetrun/assetrun/internal/errors"
)

const (
	// ConfigFileName is the name of the configuration file.
	ConfigFileName = "assetrun.json"

	// EnvFileName is the dotenv file read next to the configuration file.
	EnvFileName = ".env"

	// DefaultTask runs when no task is named.
	DefaultTask = "sass"

	// DefaultSassSource is the Sass source glob.
	DefaultSassSource = "assets/sass/**/*.scss"

	// DefaultSassDest is the CSS output directory.
	DefaultSassDest = "static/css"

	// DefaultGoDir is where generate and wasm commands run.
	DefaultGoDir = "frontend"

	// DefaultGoCommand is the code generation command.
	DefaultGoCommand = "go generate"

	// DefaultWasmOutput is the WebAssembly output file.
	DefaultWasmOutput = "static/main.wasm"

	// DefaultDebounce is the watch debounce period.
	DefaultDebounce = "100ms"

	// DefaultDevHost is the dev server host.
	DefaultDevHost = "localhost"

	// DefaultDevPort is the dev server port.
	DefaultDevPort = 3000

	// DefaultDevRoot is the directory served by the dev server.
	DefaultDevRoot = "static"
)

// Environment variables that override file values.
const (
	EnvDefaultTask   = "ASSETRUN_DEFAULT_TASK"
	EnvParallel      = "ASSETRUN_PARALLEL"
	EnvLogLevel      = "ASSETRUN_LOG_LEVEL"
	EnvSassBinary    = "ASSETRUN_SASS_BINARY"
	EnvPublishBucket = "ASSETRUN_PUBLISH_BUCKET"
)

// Config represents assetrun.json.
type Config struct {
	// DefaultTask is the task `assetrun run` executes without arguments.
	DefaultTask string `json:"defaultTask,omitempty"`

	// Parallel runs independent dependencies concurrently.
	Parallel bool `json:"parallel,omitempty"`

	Sass    SassConfig    `json:"sass"`
	JS      JSConfig      `json:"js"`
	Go      GoConfig      `json:"go"`
	Wasm    WasmConfig    `json:"wasm"`
	Watch   WatchConfig   `json:"watch"`
	Dev     DevConfig     `json:"dev"`
	Publish PublishConfig `json:"publish"`
	Log     LogConfig     `json:"log"`

	// Tasks are additional shell command tasks.
	Tasks []TaskConfig `json:"tasks,omitempty"`

	configPath string
	dotenv     map[string]string
}

// SassConfig configures the sass task.
type SassConfig struct {
	// Source is the glob of Sass sources.
	Source string `json:"source,omitempty"`

	// Dest is the CSS output directory.
	Dest string `json:"dest,omitempty"`

	// Watch are the globs that re-run the task. Defaults to Source.
	Watch []string `json:"watch,omitempty"`

	// Style is "expanded" or "compressed".
	Style string `json:"style,omitempty"`

	// LoadPaths are extra @use / @import directories.
	LoadPaths []string `json:"loadPaths,omitempty"`

	// Binary is the sass executable. Empty means PATH or the managed install.
	Binary string `json:"binary,omitempty"`

	// Version is the dart-sass release installed when none is found.
	Version string `json:"version,omitempty"`

	// NoInstall disables downloading dart-sass.
	NoInstall bool `json:"noInstall,omitempty"`

	// FailFast stops at the first failing file.
	FailFast bool `json:"failFast,omitempty"`
}

// JSConfig configures the assets:js task. The task does nothing unless
// Output is set.
type JSConfig struct {
	// Vendor files are bundled first, in this order.
	Vendor []string `json:"vendor,omitempty"`

	// Local is the glob of project scripts bundled after the vendor files.
	Local string `json:"local,omitempty"`

	// Output is the bundle path.
	Output string `json:"output,omitempty"`

	// NoMinify writes the bundle unminified.
	NoMinify bool `json:"noMinify,omitempty"`
}

// GoConfig configures the go:generate task.
type GoConfig struct {
	// Dir is the working directory of the command.
	Dir string `json:"dir,omitempty"`

	// Command is the generation command line.
	Command string `json:"command,omitempty"`

	// Watch are the globs that re-run the go task.
	Watch []string `json:"watch,omitempty"`
}

// WasmConfig configures the go:wasm task.
type WasmConfig struct {
	// Enabled makes build depend on go:wasm instead of go:generate.
	Enabled bool `json:"enabled,omitempty"`

	// Command overrides the build command line. GOOS=js GOARCH=wasm is
	// always added to its environment.
	Command string `json:"command,omitempty"`

	// Output is the .wasm file built by the default command.
	Output string `json:"output,omitempty"`
}

// WatchConfig configures the watchers.
type WatchConfig struct {
	// Debounce is the quiet period before a batch fires (e.g., "100ms").
	Debounce string `json:"debounce,omitempty"`

	// Poll uses modification-time polling instead of OS notifications.
	Poll bool `json:"poll,omitempty"`

	// PollInterval is the polling period (e.g., "250ms").
	PollInterval string `json:"pollInterval,omitempty"`

	// Ignore are extra ignore patterns.
	Ignore []string `json:"ignore,omitempty"`
}

// DevConfig configures the live-reload server started by `watch`.
type DevConfig struct {
	// Enabled starts the server with the watch task.
	Enabled bool `json:"enabled,omitempty"`

	// Host is the host to bind to.
	Host string `json:"host,omitempty"`

	// Port is the port to bind to.
	Port int `json:"port,omitempty"`

	// Root is the directory served.
	Root string `json:"root,omitempty"`
}

// PublishConfig configures the publish task.
type PublishConfig struct {
	// Bucket is the destination bucket. The task fails when empty.
	Bucket string `json:"bucket,omitempty"`

	// Prefix is prepended to every object key.
	Prefix string `json:"prefix,omitempty"`

	// Region is the bucket region. Empty defers to the AWS environment and
	// shared config.
	Region string `json:"region,omitempty"`

	// Profile selects a shared config profile.
	Profile string `json:"profile,omitempty"`

	// Endpoint overrides the S3 endpoint (MinIO, R2, ...).
	Endpoint string `json:"endpoint,omitempty"`

	// PathStyle forces path-style addressing.
	PathStyle bool `json:"pathStyle,omitempty"`

	// CacheControl is set on every object.
	CacheControl string `json:"cacheControl,omitempty"`
}

// LogConfig configures logging.
type LogConfig struct {
	// Level is debug, info, warn or error.
	Level string `json:"level,omitempty"`

	// Format is text or json.
	Format string `json:"format,omitempty"`
}

// TaskConfig declares a shell command task.
type TaskConfig struct {
	Name        string   `json:"name"`
	Description string   `json:"description,omitempty"`
	Deps        []string `json:"deps,omitempty"`

	// Command is run with shell-style word splitting, not through a shell.
	// Empty makes the task an aggregate of Deps.
	Command string `json:"command,omitempty"`

	// Dir is the working directory, relative to the project root.
	Dir string `json:"dir,omitempty"`

	// Watch globs re-run the task under `assetrun run watch`.
	Watch []string `json:"watch,omitempty"`
}

// New creates a Config with the default values.
func New() *Config {
	c := &Config{}
	c.applyDefaults()
	return c
}

// Default returns the default configuration rooted at dir, for projects
// without assetrun.json. The .env file and environment still apply.
func Default(dir string) (*Config, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, err
	}
	cfg := New()
	cfg.configPath = filepath.Join(abs, ConfigFileName)
	if err := cfg.loadEnv(); err != nil {
		return nil, err
	}
	return cfg, cfg.Validate()
}

// Load reads assetrun.json from dir.
func Load(dir string) (*Config, error) {
	return LoadFile(filepath.Join(dir, ConfigFileName))
}

// LoadFile reads configuration from path, then applies the .env file next
// to it and ASSETRUN_* environment variables.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.New(errors.CodeConfigNotFound).
				WithDetail("No " + ConfigFileName + " found in " + filepath.Dir(path))
		}
		return nil, errors.New(errors.CodeConfigInvalid).Wrap(err)
	}

	cfg := &Config{}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, errors.New(errors.CodeConfigInvalid).
			WithDetail("Failed to parse " + ConfigFileName + ": " + err.Error())
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	cfg.configPath = abs
	cfg.applyDefaults()

	if err := cfg.loadEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// SaveTo writes the configuration to path.
func (c *Config) SaveTo(path string) error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return errors.New(errors.CodeConfigInvalid).Wrap(err)
	}
	data = append(data, '\n')

	if err := os.WriteFile(path, data, 0o644); err != nil {
		return errors.New(errors.CodeConfigInvalid).Wrap(err)
	}
	c.configPath = path
	return nil
}

// Path returns the path of the configuration file.
func (c *Config) Path() string {
	return c.configPath
}

// Dir returns the project root.
func (c *Config) Dir() string {
	if c.configPath == "" {
		return ""
	}
	return filepath.Dir(c.configPath)
}

// Resolve makes a project-relative path absolute.
func (c *Config) Resolve(path string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(c.Dir(), path)
}

// applyDefaults fills in default values for empty fields.
func (c *Config) applyDefaults() {
	if c.DefaultTask == "" {
		c.DefaultTask = DefaultTask
	}

	if c.Sass.Source == "" {
		c.Sass.Source = DefaultSassSource
	}
	if c.Sass.Dest == "" {
		c.Sass.Dest = DefaultSassDest
	}
	if len(c.Sass.Watch) == 0 {
		c.Sass.Watch = []string{c.Sass.Source}
	}
	if c.Sass.Style == "" {
		c.Sass.Style = "expanded"
	}

	if c.Go.Dir == "" {
		c.Go.Dir = DefaultGoDir
	}
	if c.Go.Command == "" {
		c.Go.Command = DefaultGoCommand
	}
	if len(c.Go.Watch) == 0 {
		c.Go.Watch = []string{filepath.ToSlash(filepath.Join(c.Go.Dir, "**", "*.go"))}
	}

	if c.Wasm.Output == "" {
		c.Wasm.Output = DefaultWasmOutput
	}

	if c.Watch.Debounce == "" {
		c.Watch.Debounce = DefaultDebounce
	}

	if c.Dev.Host == "" {
		c.Dev.Host = DefaultDevHost
	}
	if c.Dev.Port == 0 {
		c.Dev.Port = DefaultDevPort
	}
	if c.Dev.Root == "" {
		c.Dev.Root = DefaultDevRoot
	}

	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "text"
	}
}

// loadEnv reads the optional .env file and applies ASSETRUN_* overrides.
// Process environment variables take precedence over .env entries.
func (c *Config) loadEnv() error {
	envPath := filepath.Join(c.Dir(), EnvFileName)
	if _, err := os.Stat(envPath); err == nil {
		values, err := godotenv.Read(envPath)
		if err != nil {
			return errors.New(errors.CodeConfigInvalid).
				WithDetail("Failed to parse " + envPath).
				Wrap(err)
		}
		c.dotenv = values
	}

	if v, ok := c.lookupEnv(EnvDefaultTask); ok && v != "" {
		c.DefaultTask = v
	}
	if v, ok := c.lookupEnv(EnvParallel); ok && v != "" {
		parallel, err := strconv.ParseBool(v)
		if err != nil {
			return errors.New(errors.CodeConfigInvalid).
				WithDetailf("%s must be a boolean, got %q", EnvParallel, v)
		}
		c.Parallel = parallel
	}
	if v, ok := c.lookupEnv(EnvLogLevel); ok && v != "" {
		c.Log.Level = v
	}
	if v, ok := c.lookupEnv(EnvSassBinary); ok && v != "" {
		c.Sass.Binary = v
	}
	if v, ok := c.lookupEnv(EnvPublishBucket); ok && v != "" {
		c.Publish.Bucket = v
	}
	return nil
}

func (c *Config) lookupEnv(key string) (string, bool) {
	if v, ok := os.LookupEnv(key); ok {
		return v, true
	}
	v, ok := c.dotenv[key]
	return v, ok
}

// Environ returns the .env entries not already set in the process
// environment, as KEY=VALUE pairs for subprocesses.
func (c *Config) Environ() []string {
	env := make([]string, 0, len(c.dotenv))
	for k, v := range c.dotenv {
		if _, set := os.LookupEnv(k); set {
			continue
		}
		env = append(env, k+"="+v)
	}
	sort.Strings(env)
	return env
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if _, err := parseDuration("watch.debounce", c.Watch.Debounce); err != nil {
		return err
	}
	if c.Watch.PollInterval != "" {
		if _, err := parseDuration("watch.pollInterval", c.Watch.PollInterval); err != nil {
			return err
		}
	}

	switch c.Sass.Style {
	case "expanded", "compressed":
	default:
		return invalid("sass.style must be \"expanded\" or \"compressed\", got %q", c.Sass.Style)
	}

	if c.Dev.Port < 0 || c.Dev.Port > 65535 {
		return invalid("dev.port must be between 0 and 65535")
	}

	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "warning", "error":
	default:
		return invalid("log.level must be debug, info, warn or error, got %q", c.Log.Level)
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		return invalid("log.format must be text or json, got %q", c.Log.Format)
	}

	if c.JS.Output == "" && (len(c.JS.Vendor) > 0 || c.JS.Local != "") {
		return invalid("js.output is required when js.vendor or js.local is set")
	}

	for i, t := range c.Tasks {
		if strings.TrimSpace(t.Name) == "" {
			return invalid("tasks[%d] has no name", i)
		}
		if t.Command == "" && len(t.Deps) == 0 {
			return invalid("task %q needs a command or deps", t.Name)
		}
	}
	return nil
}

// DebounceDuration returns the parsed watch debounce.
func (c *Config) DebounceDuration() time.Duration {
	d, _ := parseDuration("watch.debounce", c.Watch.Debounce)
	return d
}

// PollIntervalDuration returns the parsed poll interval, zero when unset.
func (c *Config) PollIntervalDuration() time.Duration {
	if c.Watch.PollInterval == "" {
		return 0
	}
	d, _ := parseDuration("watch.pollInterval", c.Watch.PollInterval)
	return d
}

// HasJS reports whether the assets:js task is configured.
func (c *Config) HasJS() bool {
	return c.JS.Output != ""
}

// JSWatchGlobs returns the globs that re-run assets:js.
func (c *Config) JSWatchGlobs() []string {
	globs := append([]string(nil), c.JS.Vendor...)
	if c.JS.Local != "" {
		globs = append(globs, c.JS.Local)
	}
	return globs
}

// SassDestPath returns the absolute CSS output directory.
func (c *Config) SassDestPath() string {
	return c.Resolve(c.Sass.Dest)
}

// GoDirPath returns the absolute working directory of the go tasks.
func (c *Config) GoDirPath() string {
	return c.Resolve(c.Go.Dir)
}

// WasmOutputPath returns the absolute .wasm output path.
func (c *Config) WasmOutputPath() string {
	return c.Resolve(c.Wasm.Output)
}

// DevRootPath returns the absolute directory served by the dev server.
func (c *Config) DevRootPath() string {
	return c.Resolve(c.Dev.Root)
}

// DevAddress returns the dev server listen address.
func (c *Config) DevAddress() string {
	return c.Dev.Host + ":" + strconv.Itoa(c.Dev.Port)
}

func parseDuration(field, value string) (time.Duration, error) {
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, invalid("%s: %v", field, err)
	}
	if d < 0 {
		return 0, invalid("%s must not be negative", field)
	}
	return d, nil
}

func invalid(format string, args ...any) error {
	return errors.New(errors.CodeConfigInvalid).WithDetail(fmt.Sprintf(format, args...))
}

// Exists checks if a config file exists in the given directory.
func Exists(dir string) bool {
	_, err := os.Stat(filepath.Join(dir, ConfigFileName))
	return err == nil
}

// FindProjectRoot walks up from startDir to the directory containing
// assetrun.json.
func FindProjectRoot(startDir string) (string, error) {
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return "", err
	}

	for {
		if Exists(dir) {
			return dir, nil
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			return "", errors.New(errors.CodeConfigNotFound).
				WithDetail("No " + ConfigFileName + " found in " + startDir + " or any parent directory")
		}
		dir = parent
	}
}

// LoadFromWorkingDir loads the configuration of the project containing the
// working directory. Without assetrun.json it falls back to Default rooted
// at the working directory; found reports which case applied.
func LoadFromWorkingDir() (cfg *Config, found bool, err error) {
	wd, err := os.Getwd()
	if err != nil {
		return nil, false, err
	}

	root, err := FindProjectRoot(wd)
	if err != nil {
		if errors.Is(err, errors.ErrConfigNotFound) {
			cfg, err := Default(wd)
			return cfg, false, err
		}
		return nil, false, err
	}

	cfg, err = Load(root)
	return cfg, err == nil, err
}
