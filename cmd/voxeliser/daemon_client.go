package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"voxeliser/internal/config"
)

const daemonRequestTimeout = 5 * time.Second

// daemonURL resolves the local status API base URL from paths.api_bind.
// Wildcard hosts are dialled on loopback.
func daemonURL(cfg *config.Config) (string, error) {
	bind := strings.TrimSpace(cfg.Paths.APIBind)
	if bind == "" {
		return "", errors.New("status api disabled (paths.api_bind is empty)")
	}
	host, port, err := net.SplitHostPort(bind)
	if err != nil {
		return "", fmt.Errorf("parse paths.api_bind %q: %w", bind, err)
	}
	switch host {
	case "", "0.0.0.0", "::":
		host = "127.0.0.1"
	}
	return "http://" + net.JoinHostPort(host, port), nil
}

// callDaemon issues a request against the running daemon and decodes the
// JSON response into out. Non-2xx responses still decode when possible.
func callDaemon(ctx context.Context, cfg *config.Config, method, path string, out any) (int, error) {
	base, err := daemonURL(cfg)
	if err != nil {
		return 0, err
	}
	ctx, cancel := context.WithTimeout(ctx, daemonRequestTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, method, base+path, nil)
	if err != nil {
		return 0, fmt.Errorf("build daemon request: %w", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("connect to daemon at %s: %w (is `voxeliser run` active?)", base, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return resp.StatusCode, fmt.Errorf("read daemon response: %w", err)
	}
	if out != nil && len(body) > 0 {
		if err := json.Unmarshal(body, out); err != nil {
			return resp.StatusCode, fmt.Errorf("decode daemon response (%d): %w", resp.StatusCode, err)
		}
	}
	return resp.StatusCode, nil
}
