// Package runner implements the phase pipeline: it orchestrates sandbox
// setup and sequential phase execution against one sandbox, merging
// request-level defaults into per-phase settings and short-circuiting on
// the first non-zero phase.
package runner

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"strconv"

	"github.com/akshayaggarwal99/boxed/internal/driver"
	"github.com/akshayaggarwal99/boxed/internal/proto"
)

// RunError carries the HTTP status a failure should surface as, per the
// error kinds enumerated for the run endpoint.
type RunError struct {
	Status  int
	Message string
}

func (e *RunError) Error() string { return e.Message }

func badRequest(format string, args ...any) *RunError {
	return &RunError{Status: http.StatusBadRequest, Message: fmt.Sprintf(format, args...)}
}

func infraError(format string, args ...any) *RunError {
	return &RunError{Status: http.StatusInternalServerError, Message: fmt.Sprintf(format, args...)}
}

// Registry is the subset of driver.Registry the Runner depends on for
// sandbox allocation.
type Registry interface {
	InitBox(ctx context.Context) (*driver.Sandbox, error)
	DestroyBox(ctx context.Context, boxID uint32) error
}

// SandboxDriver is the subset of *driver.Driver the Runner depends on to
// act on an already-allocated sandbox. Satisfied by *driver.Driver; tests
// substitute a fake so the pipeline logic runs without the isolate binary.
type SandboxDriver interface {
	UploadFile(sandbox *driver.Sandbox, path string, data []byte) (string, error)
	Exec(ctx context.Context, sandbox *driver.Sandbox, script string, limits driver.Limits) (*driver.ExecResult, error)
}

// PhaseObserver receives per-phase outcome signals. The metrics package
// implements this; tests can pass nil to skip observation entirely.
type PhaseObserver interface {
	ObservePhase(status int32, wallTime *float64)
}

// Runner executes a request's phases against a registry-allocated
// sandbox.
type Runner struct {
	registry Registry
	driver   SandboxDriver
	metrics  PhaseObserver
}

// New returns a Runner backed by registry and driver. metrics may be nil.
func New(registry Registry, driver SandboxDriver, metrics PhaseObserver) *Runner {
	return &Runner{registry: registry, driver: driver, metrics: metrics}
}

// Run executes req end to end: allocate a sandbox, unpack the file
// bundle, run each phase in order, and guarantee the sandbox is cleaned
// up exactly once before returning, whether the outcome was success,
// a phase failure, or a driver error.
func (r *Runner) Run(ctx context.Context, req *proto.Request) (*proto.Response, error) {
	sandbox, err := r.setup(ctx, req.Files)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = r.registry.DestroyBox(ctx, sandbox.BoxID)
	}()

	results := make([]proto.ExecutionResult, 0, len(req.Phases))
	for i, phase := range req.Phases {
		result := r.runPhase(ctx, sandbox, i, phase, req)
		results = append(results, result)
		if result.Status != 0 {
			break
		}
	}

	return &proto.Response{Phases: results}, nil
}

// setup allocates a fresh sandbox, decodes the base64 file bundle,
// uploads it as /box/files.zip, and unpacks it. Any failure after the
// sandbox is allocated destroys it before returning, since Run's own
// cleanup defer is only registered once setup returns successfully.
func (r *Runner) setup(ctx context.Context, filesB64 string) (*driver.Sandbox, error) {
	sandbox, err := r.registry.InitBox(ctx)
	if err != nil {
		return nil, infraError("%s", err.Error())
	}

	data, err := base64.StdEncoding.DecodeString(filesB64)
	if err != nil {
		_ = r.registry.DestroyBox(ctx, sandbox.BoxID)
		return nil, badRequest("Error while reading files: %s", err.Error())
	}

	if _, err := r.driver.UploadFile(sandbox, "/box/files.zip", data); err != nil {
		_ = r.registry.DestroyBox(ctx, sandbox.BoxID)
		return nil, infraError("%s", err.Error())
	}

	unzipResult := r.execOrSynthetic(ctx, sandbox, "/usr/bin/unzip -n -qq /box/files.zip && /bin/rm /box/files.zip", driver.DefaultLimits())
	if unzipResult.Status != 0 {
		_ = r.registry.DestroyBox(ctx, sandbox.BoxID)
		return nil, badRequest("%s", unzipResult.Stderr)
	}

	return sandbox, nil
}

// runPhase resolves a phase's merged settings against the request
// defaults and executes it, converting any driver-level error into a
// synthetic phase-shaped failure result rather than aborting the whole
// request.
func (r *Runner) runPhase(ctx context.Context, sandbox *driver.Sandbox, index int, phase proto.PhaseSettings, req *proto.Request) proto.ExecutionResult {
	name := phase.Name
	if name == "" {
		name = strconv.Itoa(index)
	}

	environment := proto.MergeEnvironment(req.Environment, phase.Environment)
	settings := proto.MergeSandboxSettings(req.SandboxSettings, phase.SandboxSettings)
	limits := settings.ToLimits(environment, phase.Profiling)

	result := r.execOrSynthetic(ctx, sandbox, phase.Script, limits)
	result.Name = name
	if r.metrics != nil {
		r.metrics.ObservePhase(result.Status, result.Metadata.TimeWall)
	}
	return result
}

// execOrSynthetic runs script under limits, converting any driver error
// into a synthetic ExecutionResult with status 1 and the error text as
// stderr, so every attempted phase always yields a phase-shaped result.
func (r *Runner) execOrSynthetic(ctx context.Context, sandbox *driver.Sandbox, script string, limits driver.Limits) proto.ExecutionResult {
	execResult, err := r.driver.Exec(ctx, sandbox, script, limits)
	if err != nil {
		return proto.ExecutionResult{Status: 1, Stderr: err.Error()}
	}

	return proto.ExecutionResult{
		Status:   execResult.Status,
		Stdout:   execResult.Stdout,
		Stderr:   execResult.Stderr,
		Metadata: proto.FromDriverMetadata(execResult.Metadata),
	}
}
