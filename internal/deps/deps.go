package deps

import (
	"fmt"
	"os"
	"os/exec"
	"strings"

	"voxeliser/internal/config"
)

// Requirement names an external executable the worker shells out to.
type Requirement struct {
	Name        string
	Command     string
	Description string
	Optional    bool
}

// Status reports whether a requirement could be resolved on this host.
type Status struct {
	Name        string
	Command     string
	Description string
	Optional    bool
	Available   bool
	Path        string
	Detail      string
}

// Requirements returns the executables the configured pipeline needs.
func Requirements(cfg *config.Config) []Requirement {
	if cfg == nil {
		return nil
	}
	return []Requirement{{
		Name:        "voxelise",
		Command:     cfg.Voxelise.Binary,
		Description: "Converts .obj meshes into raw uint8 volumes",
	}}
}

// CheckBinaries resolves each requirement through PATH (bare names) or
// directly (paths) and reports availability.
func CheckBinaries(requirements []Requirement) []Status {
	results := make([]Status, 0, len(requirements))
	for _, req := range requirements {
		cmd := strings.TrimSpace(req.Command)
		status := Status{
			Name:        req.Name,
			Command:     cmd,
			Description: strings.TrimSpace(req.Description),
			Optional:    req.Optional,
		}
		if cmd == "" {
			status.Detail = "command not configured"
			results = append(results, status)
			continue
		}
		resolved, err := exec.LookPath(cmd)
		if err != nil {
			status.Detail = describeLookupError(cmd, err)
			results = append(results, status)
			continue
		}
		status.Available = true
		status.Path = resolved
		results = append(results, status)
	}
	return results
}

// Missing returns the required (non-optional) entries that are unavailable.
func Missing(statuses []Status) []Status {
	var missing []Status
	for _, s := range statuses {
		if !s.Available && !s.Optional {
			missing = append(missing, s)
		}
	}
	return missing
}

func describeLookupError(cmd string, err error) string {
	if strings.ContainsRune(cmd, os.PathSeparator) {
		info, statErr := os.Stat(cmd)
		switch {
		case statErr != nil:
			return fmt.Sprintf("binary %q not found", cmd)
		case info.IsDir():
			return fmt.Sprintf("%q is a directory", cmd)
		default:
			return fmt.Sprintf("%q is not executable", cmd)
		}
	}
	return fmt.Sprintf("binary %q not found on PATH", cmd)
}
