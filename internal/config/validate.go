package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validateAPI(); err != nil {
		return err
	}
	if err := c.validateVoxelise(); err != nil {
		return err
	}
	if err := c.validateWorkflow(); err != nil {
		return err
	}
	if err := c.validateNotifications(); err != nil {
		return err
	}
	if err := c.validateLogging(); err != nil {
		return err
	}
	return nil
}

func (c *Config) validateAPI() error {
	if c.API.BaseURL == "" {
		return errors.New("api.base_url must be set (or export VOXELISER_API_URL)")
	}
	parsed, err := url.Parse(c.API.BaseURL)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return fmt.Errorf("api.base_url %q must be an absolute http(s) URL", c.API.BaseURL)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("api.base_url scheme %q not supported", parsed.Scheme)
	}
	if c.API.RequestTimeout < 0 {
		return errors.New("api.request_timeout must be >= 0")
	}
	return nil
}

func (c *Config) validateVoxelise() error {
	if c.Voxelise.Dimension <= 0 {
		return errors.New("voxelise.dimension must be positive")
	}
	if c.Voxelise.Threads < 0 {
		return errors.New("voxelise.threads must be >= 0")
	}
	if c.Voxelise.Timeout < 0 {
		return errors.New("voxelise.timeout must be >= 0")
	}
	return nil
}

func (c *Config) validateWorkflow() error {
	if err := ensurePositiveMap(map[string]int{
		"workflow.poll_interval":        c.Workflow.PollInterval,
		"workflow.max_upload_attempts":  c.Workflow.MaxUploadAttempts,
		"workflow.max_linking_attempts": c.Workflow.MaxLinkingAttempts,
	}); err != nil {
		return err
	}
	if c.Workflow.RetryTime < 0 {
		return errors.New("workflow.retry_time must be >= 0")
	}
	return nil
}

func (c *Config) validateNotifications() error {
	if c.Notifications.RequestTimeout <= 0 {
		return errors.New("notifications.request_timeout must be positive")
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch c.Logging.Format {
	case "auto", "console", "json":
	default:
		return fmt.Errorf("logging.format %q must be one of auto, console, json", c.Logging.Format)
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level %q must be one of %s", c.Logging.Level, strings.Join([]string{"debug", "info", "warn", "error"}, ", "))
	}
	return nil
}

func ensurePositiveMap(values map[string]int) error {
	for key, value := range values {
		if value <= 0 {
			return fmt.Errorf("%s must be positive", key)
		}
	}
	return nil
}
