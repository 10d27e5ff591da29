package sandbox

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/imports/wasi_snapshot_preview1"
	"github.com/tetratelabs/wazero/sys"

	"github.com/loopwork-ai/governor/pkg/contracts"
	"github.com/loopwork-ai/governor/pkg/registry"
	"github.com/loopwork-ai/governor/pkg/skillblob"
)

const (
	// DefaultMemoryLimitBytes caps linear memory per module instance.
	DefaultMemoryLimitBytes = 64 << 20
	// OutputMaxBytes caps combined stdout+stderr of one run.
	OutputMaxBytes = 1 << 20

	wasmPageSize = 65536
)

// WasiConfig bounds one WASI runner.
type WasiConfig struct {
	MemoryLimitBytes int64
}

// WasiRunner executes WASM bundles under wazero with WASI deny-by-default:
// no network, no filesystem mounts, stdin/stdout only.
type WasiRunner struct {
	runtime wazero.Runtime
	blobs   skillblob.Store
	config  WasiConfig
}

// NewWasiRunner creates a confined runtime loading bundles from the blob
// store by content hash.
func NewWasiRunner(ctx context.Context, blobs skillblob.Store, config WasiConfig) (*WasiRunner, error) {
	if config.MemoryLimitBytes <= 0 {
		config.MemoryLimitBytes = DefaultMemoryLimitBytes
	}

	pages := uint32(config.MemoryLimitBytes / wasmPageSize)
	if pages == 0 {
		pages = 1
	}
	r := wazero.NewRuntimeWithConfig(ctx, wazero.NewRuntimeConfig().WithMemoryLimitPages(pages))

	if _, err := wasi_snapshot_preview1.Instantiate(ctx, r); err != nil {
		_ = r.Close(ctx)
		return nil, fmt.Errorf("sandbox: instantiate WASI: %w", err)
	}

	return &WasiRunner{runtime: r, blobs: blobs, config: config}, nil
}

// Run loads, compiles and executes the skill's bundle. The caller owns the
// deadline; a deadline breach surfaces as a timeout violation.
func (r *WasiRunner) Run(ctx context.Context, skill *registry.Skill, input []byte) ([]byte, error) {
	wasmBytes, err := r.blobs.Get(ctx, skill.ContentHash)
	if err != nil {
		return nil, fmt.Errorf("sandbox: load bundle %s: %w", skill.ContentHash, err)
	}

	var stdout, stderr bytes.Buffer
	moduleConfig := wazero.NewModuleConfig().
		WithStdin(bytes.NewReader(input)).
		WithStdout(&stdout).
		WithStderr(&stderr).
		WithName(skill.Name)

	compiled, err := r.runtime.CompileModule(ctx, wasmBytes)
	if err != nil {
		return nil, fmt.Errorf("sandbox: compile %s: %w", skill.Name, err)
	}
	defer func() { _ = compiled.Close(ctx) }()

	mod, err := r.runtime.InstantiateModule(ctx, compiled, moduleConfig)
	if err != nil {
		// proc_exit(0) is a clean WASI exit, not a failure.
		var exitErr *sys.ExitError
		if errors.As(err, &exitErr) && exitErr.ExitCode() == 0 {
			err = nil
		} else {
			return nil, r.classify(ctx, err)
		}
	}
	if mod != nil {
		defer func() { _ = mod.Close(ctx) }()
	}

	if total := stdout.Len() + stderr.Len(); total > OutputMaxBytes {
		return nil, &LimitError{
			Code:    contracts.SandboxViolationOutput,
			Message: fmt.Sprintf("output size %d exceeds limit %d", total, OutputMaxBytes),
		}
	}

	return stdout.Bytes(), nil
}

func (r *WasiRunner) classify(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return &LimitError{
			Code:    contracts.SandboxViolationTimeout,
			Message: "execution exceeded its deadline",
		}
	}
	if isMemoryError(err) {
		return &LimitError{
			Code:    contracts.SandboxViolationMemory,
			Message: fmt.Sprintf("execution exceeded memory limit (%d bytes)", r.config.MemoryLimitBytes),
		}
	}
	return &LimitError{
		Code:    contracts.SandboxViolationTrap,
		Message: err.Error(),
	}
}

// Close releases the runtime and all compiled modules.
func (r *WasiRunner) Close(ctx context.Context) error {
	return r.runtime.Close(ctx)
}

// isMemoryError detects wazero memory.grow failures surfaced as plain
// errors.
func isMemoryError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "memory") &&
		(strings.Contains(msg, "limit") || strings.Contains(msg, "grow") || strings.Contains(msg, "exceeded"))
}
