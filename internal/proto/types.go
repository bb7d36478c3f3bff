// Package proto holds the wire-level request/response shapes for the
// run endpoint, and the merge rules that turn a request envelope plus
// per-phase overrides into the settings actually handed to the sandbox
// driver.
package proto

import "github.com/akshayaggarwal99/boxed/internal/driver"

// SandboxSettings is a partial view of driver.Limits: every field is a
// pointer so "absent" and "zero" are distinguishable on the wire.
type SandboxSettings struct {
	RunTimeLimit      *uint64           `json:"run_time_limit,omitempty"`
	ExtraTimeLimit    *uint64           `json:"extra_time_limit,omitempty"`
	WallTimeLimit     *uint64           `json:"wall_time_limit,omitempty"`
	StackSizeLimit    *uint64           `json:"stack_size_limit,omitempty"`
	ProcessCountLimit *uint64           `json:"process_count_limit,omitempty"`
	MemoryLimit       *uint64           `json:"memory_limit,omitempty"`
	StorageLimit      *uint64           `json:"storage_limit,omitempty"`
	Environment       map[string]string `json:"environment,omitempty"`
}

// MergeSandboxSettings combines a phase-level override with the
// request-level default: for the seven numeric limits, fields present on
// override win and fields missing on override fall back to base. The
// Environment field is not merged: the result's Environment is always
// nil. Either argument may be nil.
func MergeSandboxSettings(base, override *SandboxSettings) *SandboxSettings {
	if base == nil && override == nil {
		return nil
	}
	if base == nil {
		base = &SandboxSettings{}
	}
	if override == nil {
		override = &SandboxSettings{}
	}

	merged := &SandboxSettings{
		RunTimeLimit:      firstNonNil(override.RunTimeLimit, base.RunTimeLimit),
		ExtraTimeLimit:    firstNonNil(override.ExtraTimeLimit, base.ExtraTimeLimit),
		WallTimeLimit:     firstNonNil(override.WallTimeLimit, base.WallTimeLimit),
		StackSizeLimit:    firstNonNil(override.StackSizeLimit, base.StackSizeLimit),
		ProcessCountLimit: firstNonNil(override.ProcessCountLimit, base.ProcessCountLimit),
		MemoryLimit:       firstNonNil(override.MemoryLimit, base.MemoryLimit),
		StorageLimit:      firstNonNil(override.StorageLimit, base.StorageLimit),
	}
	return merged
}

func firstNonNil(a, b *uint64) *uint64 {
	if a != nil {
		return a
	}
	return b
}

// ToLimits resolves a (possibly nil) SandboxSettings against
// driver.DefaultLimits, filling any still-absent field from the default,
// and attaches environment and the profiling flag separately (they are
// not part of SandboxSettings' numeric-ceiling surface).
func (s *SandboxSettings) ToLimits(environment map[string]string, profiling bool) driver.Limits {
	limits := driver.DefaultLimits()
	if s != nil {
		if s.RunTimeLimit != nil {
			limits.RunTimeLimit = *s.RunTimeLimit
		}
		if s.ExtraTimeLimit != nil {
			limits.ExtraTimeLimit = *s.ExtraTimeLimit
		}
		if s.WallTimeLimit != nil {
			limits.WallTimeLimit = *s.WallTimeLimit
		}
		if s.StackSizeLimit != nil {
			limits.StackSizeLimit = *s.StackSizeLimit
		}
		if s.ProcessCountLimit != nil {
			limits.ProcessCountLimit = *s.ProcessCountLimit
		}
		if s.MemoryLimit != nil {
			limits.MemoryLimit = *s.MemoryLimit
		}
		if s.StorageLimit != nil {
			limits.StorageLimit = *s.StorageLimit
		}
	}
	limits.Environment = environment
	limits.Profiling = profiling
	return limits
}

// MergeEnvironment combines phase-level env (override) with request-level
// env (base): base fills gaps, override wins on collision.
func MergeEnvironment(base, override map[string]string) map[string]string {
	merged := make(map[string]string, len(base)+len(override))
	for k, v := range base {
		merged[k] = v
	}
	for k, v := range override {
		merged[k] = v
	}
	return merged
}

// PhaseSettings is one unit of work inside a request.
type PhaseSettings struct {
	Name            string           `json:"name,omitempty"`
	Script          string           `json:"script"`
	Environment     map[string]string `json:"environment,omitempty"`
	SandboxSettings *SandboxSettings  `json:"sandbox_settings,omitempty"`
	Profiling       bool             `json:"profiling,omitempty"`
}

// Request is the full POST /run request envelope.
type Request struct {
	Phases          []PhaseSettings   `json:"phases"`
	Environment     map[string]string `json:"environment,omitempty"`
	SandboxSettings *SandboxSettings  `json:"sandbox_settings,omitempty"`
	Files           string            `json:"files"`
}

// Metadata mirrors driver.Metadata on the wire: every field is an
// optional pointer with omitempty, so absent keys are left out of the JSON.
type Metadata struct {
	Time         *float64 `json:"time,omitempty"`
	TimeWall     *float64 `json:"time_wall,omitempty"`
	MaxRSS       *uint64  `json:"max_rss,omitempty"`
	CswVoluntary *uint64  `json:"csw_voluntary,omitempty"`
	CswForced    *uint64  `json:"csw_forced,omitempty"`
	CgMem        *uint64  `json:"cg_mem,omitempty"`
	ExitCode     *int32   `json:"exit_code,omitempty"`
	Status       *string  `json:"status,omitempty"`
}

// FromDriverMetadata converts a driver.Metadata into its wire shape.
func FromDriverMetadata(m driver.Metadata) Metadata {
	return Metadata{
		Time:         m.Time,
		TimeWall:     m.TimeWall,
		MaxRSS:       m.MaxRSS,
		CswVoluntary: m.CswVoluntary,
		CswForced:    m.CswForced,
		CgMem:        m.CgMem,
		ExitCode:     m.ExitCode,
		Status:       m.Status,
	}
}

// ExecutionResult is one phase's outcome.
type ExecutionResult struct {
	Name     string   `json:"name"`
	Status   int32    `json:"status"`
	Stdout   string   `json:"stdout"`
	Stderr   string   `json:"stderr"`
	Metadata Metadata `json:"metadata"`
}

// Response is the full POST /run success response.
type Response struct {
	Phases []ExecutionResult `json:"phases"`
}

// ErrorResponse is the shape of every non-2xx response body.
type ErrorResponse struct {
	Status  uint16 `json:"status"`
	Message string `json:"message"`
}
