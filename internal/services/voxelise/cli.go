package voxelise

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"time"

	"voxeliser/internal/config"
	"voxeliser/internal/fileutil"
	"voxeliser/internal/logging"
	"voxeliser/internal/services"
)

const (
	meshExt   = ".obj"
	volumeExt = ".raw"
	tailLines = 8
)

// Executor abstracts command execution for testability.
type Executor interface {
	Run(ctx context.Context, binary string, args []string, onOutput func(string)) error
}

// Option configures the CLI.
type Option func(*CLI)

// WithExecutor injects a custom executor (primarily for tests).
func WithExecutor(exec Executor) Option {
	return func(c *CLI) {
		if exec != nil {
			c.exec = exec
		}
	}
}

// WithThreads sets the worker thread count passed to the executable. Zero
// means one per CPU.
func WithThreads(n int) Option {
	return func(c *CLI) { c.threads = n }
}

// WithTimeout bounds a single run; zero disables the bound.
func WithTimeout(d time.Duration) Option {
	return func(c *CLI) { c.timeout = d }
}

// WithLogger attaches a logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *CLI) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// CLI runs the voxelise executable.
type CLI struct {
	binary  string
	threads int
	timeout time.Duration
	exec    Executor
	logger  *slog.Logger
}

// Result describes a completed EnsureTransformed call.
type Result struct {
	Skipped  bool
	Bytes    int64
	Duration time.Duration
}

// New constructs a CLI for binary.
func New(binary string, opts ...Option) (*CLI, error) {
	binary = strings.TrimSpace(binary)
	if binary == "" {
		return nil, errors.New("voxelise binary required")
	}
	c := &CLI{
		binary: binary,
		exec:   commandExecutor{},
		logger: logging.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.threads <= 0 {
		c.threads = runtime.NumCPU()
	}
	return c, nil
}

// NewFromConfig constructs a CLI from the voxelise section of cfg.
func NewFromConfig(cfg *config.Config, logger *slog.Logger, opts ...Option) (*CLI, error) {
	base := []Option{
		WithThreads(cfg.Voxelise.Threads),
		WithTimeout(cfg.VoxeliseTimeout()),
		WithLogger(logging.NewComponentLogger(logger, "voxelise")),
	}
	return New(cfg.Voxelise.Binary, append(base, opts...)...)
}

// Binary returns the configured executable.
func (c *CLI) Binary() string { return c.binary }

// VolumeSize returns the expected byte size of a dimension³ uint8 volume.
func VolumeSize(dimension int) int64 {
	d := int64(dimension)
	return d * d * d
}

// ValidateArgs checks the inputs of a transform. Errors are marked
// services.ErrValidation.
func ValidateArgs(input, output string, dimension int) error {
	if dimension <= 0 {
		return services.Wrap(services.ErrValidation, "transform", "validate args",
			fmt.Sprintf("dimension must be positive, got %d", dimension), nil)
	}
	if !strings.EqualFold(filepath.Ext(input), meshExt) {
		return services.Wrap(services.ErrValidation, "transform", "validate args",
			fmt.Sprintf("input %q must have a %s extension", filepath.Base(input), meshExt), nil)
	}
	if !strings.EqualFold(filepath.Ext(output), volumeExt) {
		return services.Wrap(services.ErrValidation, "transform", "validate args",
			fmt.Sprintf("output %q must have a %s extension", filepath.Base(output), volumeExt), nil)
	}
	info, err := os.Stat(input)
	if err != nil {
		return services.Wrap(services.ErrValidation, "transform", "validate args", "input mesh is missing", err)
	}
	if !info.Mode().IsRegular() {
		return services.Wrap(services.ErrValidation, "transform", "validate args",
			fmt.Sprintf("input %q is not a regular file", input), nil)
	}
	return nil
}

// EnsureTransformed produces output from input unless output already exists.
func (c *CLI) EnsureTransformed(ctx context.Context, input, output string, dimension int) (Result, error) {
	if err := ValidateArgs(input, output, dimension); err != nil {
		return Result{}, err
	}
	if fileutil.FileExists(output) {
		c.logger.Info("mesh already voxelised; skipping",
			logging.String("output", output),
			logging.String(logging.FieldEventType, "transform_skipped"),
		)
		return Result{Skipped: true}, nil
	}
	if err := os.MkdirAll(filepath.Dir(output), 0o755); err != nil {
		return Result{}, services.Wrap(services.ErrExternalTool, "transform", "prepare output", output, err)
	}

	runCtx := ctx
	if c.timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	tmp := fileutil.TempSibling(output, "partial")
	_ = os.Remove(tmp)
	defer os.Remove(tmp)

	args := []string{input, tmp, strconv.Itoa(dimension), strconv.Itoa(c.threads)}
	tail := newTail(tailLines)
	start := time.Now()
	c.logger.Debug("running voxelise",
		logging.String("binary", c.binary),
		logging.Any("args", args),
	)
	runErr := c.exec.Run(runCtx, c.binary, args, func(line string) {
		tail.add(line)
		c.logger.Debug("voxelise output", logging.String("line", line))
	})
	elapsed := time.Since(start)
	if runErr != nil {
		msg := "voxelise failed"
		if out := tail.String(); out != "" {
			msg = fmt.Sprintf("voxelise failed: %s", out)
		}
		return Result{Duration: elapsed}, services.Wrap(services.ErrExternalTool, "transform", "run voxelise", msg, runErr)
	}

	want := VolumeSize(dimension)
	if err := fileutil.CheckSize(tmp, want); err != nil {
		return Result{Duration: elapsed}, services.Wrap(services.ErrExternalTool, "transform", "verify volume", "unexpected output", err)
	}
	if err := os.Rename(tmp, output); err != nil {
		return Result{Duration: elapsed}, services.Wrap(services.ErrExternalTool, "transform", "finalize volume", output, err)
	}
	return Result{Bytes: want, Duration: elapsed}, nil
}

type commandExecutor struct{}

func (commandExecutor) Run(ctx context.Context, binary string, args []string, onOutput func(string)) error {
	cmd := exec.CommandContext(ctx, binary, args...) //nolint:gosec
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("stderr pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start command: %w", err)
	}

	var wg sync.WaitGroup
	var mu sync.Mutex
	scan := func(r io.Reader) {
		defer wg.Done()
		scanner := bufio.NewScanner(r)
		for scanner.Scan() {
			if onOutput == nil {
				continue
			}
			mu.Lock()
			onOutput(scanner.Text())
			mu.Unlock()
		}
	}
	wg.Add(2)
	go scan(stdout)
	go scan(stderr)
	wg.Wait()

	if err := cmd.Wait(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return fmt.Errorf("voxelise interrupted: %w", ctxErr)
		}
		return fmt.Errorf("voxelise exited: %w", err)
	}
	return nil
}

// tail keeps the last n output lines for error messages.
type tail struct {
	n     int
	lines []string
}

func newTail(n int) *tail { return &tail{n: n} }

func (t *tail) add(line string) {
	line = strings.TrimSpace(line)
	if line == "" {
		return
	}
	t.lines = append(t.lines, line)
	if len(t.lines) > t.n {
		t.lines = t.lines[len(t.lines)-t.n:]
	}
}

func (t *tail) String() string { return strings.Join(t.lines, " | ") }
