package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"

	"voxeliser/internal/services"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains directory and bind address configuration.
type Paths struct {
	InputDir  string `toml:"input_dir"`
	OutputDir string `toml:"output_dir"`
	LogDir    string `toml:"log_dir"`
	APIBind   string `toml:"api_bind"`
}

// API contains configuration for the remote mesh/volume API.
type API struct {
	BaseURL        string `toml:"base_url"`
	RequestTimeout int    `toml:"request_timeout"`
	// StrictUpload turns a non-success status from the attach-file call into
	// an upload failure instead of returning the created volume id anyway.
	StrictUpload bool `toml:"strict_upload"`
}

// Voxelise contains configuration for the external voxelisation executable.
type Voxelise struct {
	Binary    string `toml:"binary"`
	Dimension int    `toml:"dimension"`
	Threads   int    `toml:"threads"` // 0 = one per CPU
	Timeout   int    `toml:"timeout"` // 0 = no limit
}

// Workflow contains configuration for poll timing and stage retries.
type Workflow struct {
	PollInterval       int `toml:"poll_interval"`
	RetryTime          int `toml:"retry_time"`
	MaxUploadAttempts  int `toml:"max_upload_attempts"`
	MaxLinkingAttempts int `toml:"max_linking_attempts"`
}

// Notifications contains configuration for ntfy push notifications.
type Notifications struct {
	NtfyTopic      string `toml:"ntfy_topic"`
	RequestTimeout int    `toml:"request_timeout"`
	JobCompleted   bool   `toml:"job_completed"`
	JobFailed      bool   `toml:"job_failed"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format string `toml:"format"`
	Level  string `toml:"level"`
}

// Config encapsulates all configuration values for the voxeliser worker.
//
// Configuration sections by subsystem:
//   - Paths: working directories and status API bind address
//   - API: remote mesh/volume API endpoint and upload strictness
//   - Voxelise: external executable, output dimension, thread count
//   - Workflow: poll interval, retry backoff unit, stage attempt limits
//   - Notifications: ntfy push notification settings
//   - Logging: log format and level
type Config struct {
	Paths         Paths         `toml:"paths"`
	API           API           `toml:"api"`
	Voxelise      Voxelise      `toml:"voxelise"`
	Workflow      Workflow      `toml:"workflow"`
	Notifications Notifications `toml:"notifications"`
	Logging       Logging       `toml:"logging"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath("~/.config/voxeliser/config.toml")
}

// Load locates, parses, and validates a configuration file. The returned config has all
// path fields expanded and normalized.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := DefaultConfigPath()
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("voxeliser.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

// EnsureDirectories creates the working directories the pipeline reads and
// writes. An unset directory is a configuration error rather than an I/O
// failure; callers treat the two differently.
func (c *Config) EnsureDirectories() error {
	dirs := []struct {
		key  string
		path string
	}{
		{"paths.input_dir", c.Paths.InputDir},
		{"paths.output_dir", c.Paths.OutputDir},
		{"paths.log_dir", c.Paths.LogDir},
	}
	for _, dir := range dirs {
		if strings.TrimSpace(dir.path) == "" {
			return services.Wrap(services.ErrConfiguration, "bootstrap", "ensure directories",
				fmt.Sprintf("%s is not set", dir.key), nil)
		}
		if err := os.MkdirAll(dir.path, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir.path, err)
		}
	}
	return nil
}

// PollInterval returns the pause before each poll cycle.
func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.Workflow.PollInterval) * time.Second
}

// RetryTime returns the linear backoff unit applied between stage attempts.
func (c *Config) RetryTime() time.Duration {
	return time.Duration(c.Workflow.RetryTime) * time.Second
}

// RequestTimeout returns the per-request API timeout; zero means none.
func (c *Config) RequestTimeout() time.Duration {
	return time.Duration(c.API.RequestTimeout) * time.Second
}

// VoxeliseTimeout returns the executable's run limit; zero means none.
func (c *Config) VoxeliseTimeout() time.Duration {
	return time.Duration(c.Voxelise.Timeout) * time.Second
}

// LockPath returns the path of the single-instance daemon lock file.
func (c *Config) LockPath() string {
	return filepath.Join(c.Paths.LogDir, "voxeliser.lock")
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}

	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}
