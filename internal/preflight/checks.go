package preflight

import (
	"context"
	"fmt"
	"os"
	"time"

	"golang.org/x/sys/unix"

	"voxeliser/internal/deps"
)

const apiCheckTimeout = 5 * time.Second

// Pinger is the slice of the API client the reachability check needs.
type Pinger interface {
	Ping(ctx context.Context) error
	BaseURL() string
}

// CheckAPI verifies the remote API answers. A single attempt, no retries.
func CheckAPI(ctx context.Context, client Pinger) Result {
	const name = "Voxelise API"
	if client == nil || client.BaseURL() == "" {
		return Result{Name: name, Detail: "missing base url"}
	}

	checkCtx, cancel := context.WithTimeout(ctx, apiCheckTimeout)
	defer cancel()

	if err := client.Ping(checkCtx); err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s (unreachable: %v)", client.BaseURL(), err)}
	}
	return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s (reachable)", client.BaseURL())}
}

// CheckDirectoryAccess verifies that the directory exists and is readable/writable.
func CheckDirectoryAccess(name, path string) Result {
	if path == "" {
		return Result{Name: name, Detail: "not configured"}
	}
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Result{Name: name, Detail: fmt.Sprintf("%s (error: does not exist)", path)}
		}
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: stat: %v)", path, err)}
	}
	if !info.IsDir() {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: is not a directory)", path)}
	}
	if err := unix.Access(path, unix.R_OK|unix.W_OK|unix.X_OK); err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: insufficient permissions: %v)", path, err)}
	}
	return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s (read/write ok)", path)}
}

// FromDependency converts a binary lookup into a preflight result.
func FromDependency(status deps.Status) Result {
	name := status.Name + " executable"
	if status.Available {
		return Result{Name: name, Passed: true, Detail: status.Path}
	}
	return Result{Name: name, Passed: status.Optional, Detail: status.Detail}
}
