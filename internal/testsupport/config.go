package testsupport

import (
	"os"
	"path/filepath"
	"testing"

	"voxeliser/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*configBuilder)

type configBuilder struct {
	t       testing.TB
	baseDir string
	cfg     *config.Config
}

// NewConfig produces a config seeded with unique temp directories per test.
// Retries never pause and the status API is disabled.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfgVal := config.Default()
	cfgVal.Paths.InputDir = filepath.Join(base, "downloads")
	cfgVal.Paths.OutputDir = filepath.Join(base, "downloads", "processed")
	cfgVal.Paths.LogDir = filepath.Join(base, "logs")
	cfgVal.Paths.APIBind = ""
	cfgVal.API.BaseURL = "http://127.0.0.1:1"
	cfgVal.Voxelise.Binary = filepath.Join(base, "bin", "voxelise")
	cfgVal.Voxelise.Dimension = 4
	cfgVal.Voxelise.Threads = 1
	cfgVal.Workflow.RetryTime = 0

	builder := &configBuilder{
		t:       t,
		baseDir: base,
		cfg:     &cfgVal,
	}

	for _, opt := range opts {
		opt(builder)
	}

	return builder.cfg
}

// WithAPI points the config at a FakeAPI (or any base URL).
func WithAPI(baseURL string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.API.BaseURL = baseURL
	}
}

// WithDimension overrides the volume dimension.
func WithDimension(dim int) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Voxelise.Dimension = dim
	}
}

// WithStubVoxelise writes a voxelise stand-in that fills its output argument
// with dimension³ zero bytes and appends each invocation to a calls file.
func WithStubVoxelise() ConfigOption {
	return func(b *configBuilder) {
		writeScript(b.t, b.cfg.Voxelise.Binary, "#!/bin/sh\n"+
			"echo \"$@\" >> \"$0.calls\"\n"+
			"n=$(($3 * $3 * $3))\n"+
			"head -c \"$n\" /dev/zero > \"$2\"\n")
	}
}

// WithFailingVoxelise writes a voxelise stand-in that always exits 1.
func WithFailingVoxelise() ConfigOption {
	return func(b *configBuilder) {
		writeScript(b.t, b.cfg.Voxelise.Binary, "#!/bin/sh\n"+
			"echo \"$@\" >> \"$0.calls\"\n"+
			"echo 'mesh is not watertight' >&2\n"+
			"exit 1\n")
	}
}

// VoxeliseCalls returns how many times the stub binary ran.
func VoxeliseCalls(t testing.TB, cfg *config.Config) int {
	t.Helper()
	data, err := os.ReadFile(cfg.Voxelise.Binary + ".calls")
	if err != nil {
		if os.IsNotExist(err) {
			return 0
		}
		t.Fatalf("read calls file: %v", err)
	}
	count := 0
	for _, b := range data {
		if b == '\n' {
			count++
		}
	}
	return count
}

func writeScript(t testing.TB, path, script string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir bin dir: %v", err)
	}
	if err := os.WriteFile(path, []byte(script), 0o755); err != nil {
		t.Fatalf("write stub %s: %v", path, err)
	}
}

// BaseDir returns the root temp directory backing the generated config.
func BaseDir(cfg *config.Config) string {
	return filepath.Dir(cfg.Paths.InputDir)
}
