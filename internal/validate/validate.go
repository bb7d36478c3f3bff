// Package validate rejects requests whose resource limits exceed
// operator-configured ceilings or whose features are disallowed, before
// any sandbox is allocated.
package validate

import (
	"fmt"

	"github.com/akshayaggarwal99/boxed/internal/policy"
	"github.com/akshayaggarwal99/boxed/internal/proto"
)

// Error is a policy violation. Message already names the offending JSON
// path, ready to surface verbatim as the 400 response body.
type Error struct {
	Message string
}

func (e *Error) Error() string { return e.Message }

type ceilingCheck struct {
	path    string
	value   *uint64
	ceiling *uint64
}

// Request validates req against p. The first violation found is
// returned; callers don't need more than one at a time since the client
// fixes and resubmits.
func Request(p *policy.Policy, req *proto.Request) error {
	if len(req.Phases) == 0 {
		return &Error{Message: "phases: must contain at least one phase"}
	}

	if err := checkCeilings("sandbox_settings", req.SandboxSettings, p); err != nil {
		return err
	}

	for i, phase := range req.Phases {
		path := fmt.Sprintf("phases[%d]", i)
		if phase.Script == "" {
			return &Error{Message: path + ".script: must not be empty"}
		}
		if err := checkCeilings(path+".sandbox_settings", phase.SandboxSettings, p); err != nil {
			return err
		}
		if phase.Profiling && !p.AllowProfiling {
			return &Error{Message: "Profiling is not allowed"}
		}
	}

	return nil
}

func checkCeilings(path string, s *proto.SandboxSettings, p *policy.Policy) error {
	if s == nil {
		return nil
	}

	checks := []ceilingCheck{
		{path + ".run_time_limit", s.RunTimeLimit, p.MaxRunTimeLimit},
		{path + ".extra_time_limit", s.ExtraTimeLimit, p.MaxExtraTimeLimit},
		{path + ".wall_time_limit", s.WallTimeLimit, p.MaxWallTimeLimit},
		{path + ".stack_size_limit", s.StackSizeLimit, p.MaxStackSizeLimit},
		{path + ".process_count_limit", s.ProcessCountLimit, p.MaxProcessCountLimit},
		{path + ".memory_limit", s.MemoryLimit, p.MaxMemoryLimit},
		{path + ".storage_limit", s.StorageLimit, p.MaxStorageLimit},
	}

	for _, c := range checks {
		if c.value == nil || c.ceiling == nil {
			continue
		}
		if *c.value > *c.ceiling {
			return &Error{Message: fmt.Sprintf("%s: maximum allowed value is %d", c.path, *c.ceiling)}
		}
	}
	return nil
}
