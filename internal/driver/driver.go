// Package driver is the only place that knows the isolate command syntax.
//
// It owns the lifecycle of a single sandbox: init, upload files into it,
// execute a script under externally-enforced resource limits, and clean up.
// Nothing above this package knows that isolate is a CLI tool invoked over
// os/exec, or what its argv layout looks like.
package driver

import (
	"context"
	"fmt"
	"io"
	"math/rand/v2"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
)

// Sandbox is a live isolate box: its id, working directory, and the three
// sink files the driver pre-creates inside it.
type Sandbox struct {
	BoxID        uint32
	Workdir      string
	StdoutPath   string
	StderrPath   string
	MetadataPath string
}

// Limits are the knobs accepted by Exec for one execution. Every numeric
// field is passed to isolate as given, zero included; callers start from
// DefaultLimits and override only what they need.
type Limits struct {
	RunTimeLimit      uint64
	ExtraTimeLimit    uint64
	WallTimeLimit     uint64
	StackSizeLimit    uint64
	ProcessCountLimit uint64
	MemoryLimit       uint64
	StorageLimit      uint64
	Environment       map[string]string
	Profiling         bool
}

// DefaultLimits returns the spec-mandated defaults for a bare script run.
func DefaultLimits() Limits {
	return Limits{
		RunTimeLimit:      5,
		ExtraTimeLimit:    0,
		WallTimeLimit:     10,
		StackSizeLimit:    128000,
		ProcessCountLimit: 120,
		MemoryLimit:       512000,
		StorageLimit:      10240,
	}
}

// ExecResult is the outcome of one isolate invocation.
type ExecResult struct {
	Status   int32
	Stdout   string
	Stderr   string
	Metadata Metadata
}

// commandRunner is the seam between the driver and the actual isolate
// binary. Tests substitute a fake that never shells out, so the argument
// construction and parsing logic can be exercised without the real
// sandbox tool installed.
type commandRunner interface {
	Output(ctx context.Context, name string, args []string) (string, error)
	Run(ctx context.Context, name string, args []string, stdout, stderr io.Writer) (exitCode int, err error)
}

type execCommandRunner struct{}

func (execCommandRunner) Output(ctx context.Context, name string, args []string) (string, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var stderr strings.Builder
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil {
		return "", fmt.Errorf("%s: %w: %s", name, err, stderr.String())
	}
	return string(out), nil
}

func (execCommandRunner) Run(ctx context.Context, name string, args []string, stdout, stderr io.Writer) (int, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	err := cmd.Run()
	if err == nil {
		return 0, nil
	}
	if exitErr, ok := err.(*exec.ExitError); ok {
		return exitErr.ExitCode(), nil
	}
	return 1, err
}

// Driver runs the external isolate utility. The zero value is not usable;
// construct with New.
type Driver struct {
	isolatePath string
	runner      commandRunner
}

// New returns a Driver that shells out to the isolate binary found on PATH.
func New() *Driver {
	return &Driver{isolatePath: "isolate", runner: execCommandRunner{}}
}

// newForTest returns a Driver whose commandRunner is the given fake.
func newForTest(r commandRunner) *Driver {
	return &Driver{isolatePath: "isolate", runner: r}
}

// Init provisions a new box and pre-creates its stdout/stderr/metadata
// sink files. It fails if isolate --init returns non-zero, or the sink
// files cannot be created.
func (d *Driver) Init(ctx context.Context, boxID uint32) (*Sandbox, error) {
	out, err := d.runner.Output(ctx, d.isolatePath, []string{"--cg", "-b", strconv.FormatUint(uint64(boxID), 10), "--init"})
	if err != nil {
		return nil, fmt.Errorf("isolate init: %w", err)
	}

	workdir := strings.TrimSpace(out)
	if workdir == "" {
		return nil, fmt.Errorf("isolate init: box %d returned an empty workdir", boxID)
	}

	sandbox := &Sandbox{
		BoxID:        boxID,
		Workdir:      workdir,
		StdoutPath:   filepath.Join(workdir, "stdout"),
		StderrPath:   filepath.Join(workdir, "stderr"),
		MetadataPath: filepath.Join(workdir, "metadata"),
	}

	for _, sink := range []string{sandbox.StdoutPath, sandbox.StderrPath, sandbox.MetadataPath} {
		f, err := os.OpenFile(sink, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
		if err != nil {
			return nil, fmt.Errorf("create sink file %s: %w", sink, err)
		}
		f.Close()
	}

	return sandbox, nil
}

// UploadFile writes data to path inside the sandbox, creating parent
// directories as needed. An absolute path is rooted directly at workdir;
// a relative one gets a separator inserted. Any existing file is replaced.
func (d *Driver) UploadFile(sandbox *Sandbox, path string, data []byte) (string, error) {
	var full string
	if filepath.IsAbs(path) {
		full = sandbox.Workdir + path
	} else {
		full = sandbox.Workdir + "/" + path
	}

	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return "", fmt.Errorf("create parent directories for %s: %w", full, err)
	}
	if err := os.WriteFile(full, data, 0o644); err != nil {
		return "", fmt.Errorf("write %s: %w", full, err)
	}
	return full, nil
}

// Exec writes script to a randomly-named file under /box, runs it inside
// the sandbox under limits via isolate, and returns the captured result.
// Status carries the parsed metadata's exit_code when present, otherwise
// the raw process exit status.
func (d *Driver) Exec(ctx context.Context, sandbox *Sandbox, script string, limits Limits) (*ExecResult, error) {
	if !strings.HasSuffix(script, "\n") {
		script += "\n"
	}

	scriptPath := fmt.Sprintf("/box/.script-%d.sh", rand.Uint64())
	scriptAbsPath, err := d.UploadFile(sandbox, scriptPath, []byte(script))
	if err != nil {
		return nil, fmt.Errorf("upload script: %w", err)
	}

	args := isolateExecArgs(sandbox, limits, scriptAbsPath)

	stdoutFile, err := os.OpenFile(sandbox.StdoutPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open stdout sink: %w", err)
	}
	defer stdoutFile.Close()

	stderrFile, err := os.OpenFile(sandbox.StderrPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open stderr sink: %w", err)
	}
	defer stderrFile.Close()

	exitCode, err := d.runner.Run(ctx, d.isolatePath, args, stdoutFile, stderrFile)
	if err != nil {
		return nil, fmt.Errorf("isolate exec: %w", err)
	}

	stdoutBytes, err := os.ReadFile(sandbox.StdoutPath)
	if err != nil {
		return nil, fmt.Errorf("read stdout sink: %w", err)
	}
	stderrBytes, err := os.ReadFile(sandbox.StderrPath)
	if err != nil {
		return nil, fmt.Errorf("read stderr sink: %w", err)
	}
	metadataBytes, err := os.ReadFile(sandbox.MetadataPath)
	if err != nil {
		return nil, fmt.Errorf("read metadata sink: %w", err)
	}

	metadata, err := parseMetadata(metadataBytes)
	if err != nil {
		return nil, fmt.Errorf("parse metadata: %w", err)
	}

	status := int32(exitCode)
	if metadata.ExitCode != nil {
		status = *metadata.ExitCode
	}

	return &ExecResult{
		Status:   status,
		Stdout:   decodeLossy(stdoutBytes),
		Stderr:   decodeLossy(stderrBytes),
		Metadata: metadata,
	}, nil
}

// Cleanup invokes isolate --cleanup for the given box. Safe to call more
// than once for the same box id.
func (d *Driver) Cleanup(ctx context.Context, boxID uint32) error {
	_, err := d.runner.Output(ctx, d.isolatePath, []string{"--cg", "-b", strconv.FormatUint(uint64(boxID), 10), "--cleanup"})
	return err
}

func isolateExecArgs(sandbox *Sandbox, limits Limits, scriptAbsPath string) []string {
	args := []string{
		"--cg",
		"-s",
		"-b", strconv.FormatUint(uint64(sandbox.BoxID), 10),
		"-M" + sandbox.MetadataPath,
		"-t", strconv.FormatUint(limits.RunTimeLimit, 10),
		"-x", strconv.FormatUint(limits.ExtraTimeLimit, 10),
		"-w", strconv.FormatUint(limits.WallTimeLimit, 10),
		"-k", strconv.FormatUint(limits.StackSizeLimit, 10),
		"-p", strconv.FormatUint(limits.ProcessCountLimit, 10),
		"--cg-mem=" + strconv.FormatUint(limits.MemoryLimit, 10),
		"-f", strconv.FormatUint(limits.StorageLimit, 10),
		"--cg-timing",
	}

	args = append(args, environmentFlags(limits.Environment)...)
	args = append(args, "--run", "--")

	if limits.Profiling {
		args = append(args, "/usr/bin/perf_5.10", "record", "-g")
	}

	return append(args, "/bin/bash", scriptAbsPath)
}

func environmentFlags(environment map[string]string) []string {
	flags := []string{
		"-EHOME=/tmp",
		"-EPATH=/usr/local/sbin:/usr/local/bin:/usr/sbin:/usr/bin:/sbin:/bin",
	}

	keys := make([]string, 0, len(environment))
	for k := range environment {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		flags = append(flags, "-E"+escapeEnvArg(k)+"="+escapeEnvArg(environment[k]))
	}
	return flags
}

func escapeEnvArg(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `"`, `\"`)
	return s
}

// decodeLossy mirrors the "replace invalid UTF-8" behaviour expected when
// reading arbitrary program output.
func decodeLossy(b []byte) string {
	return strings.ToValidUTF8(string(b), "�")
}
