package validate

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/akshayaggarwal99/boxed/internal/policy"
	"github.com/akshayaggarwal99/boxed/internal/proto"
)

func u64(v uint64) *uint64 { return &v }

func TestRequest_RejectsPhaseCeilingViolation(t *testing.T) {
	p := &policy.Policy{MaxMemoryLimit: u64(1048576), AllowProfiling: true}
	req := &proto.Request{
		Phases: []proto.PhaseSettings{
			{Script: "ok"},
			{Script: "bad", SandboxSettings: &proto.SandboxSettings{MemoryLimit: u64(2000000)}},
		},
	}

	err := Request(p, req)
	require.Error(t, err)
	assert.Equal(t, "phases[1].sandbox_settings.memory_limit: maximum allowed value is 1048576", err.Error())
}

func TestRequest_RejectsRequestLevelCeilingViolation(t *testing.T) {
	p := &policy.Policy{MaxMemoryLimit: u64(1048576), AllowProfiling: true}
	req := &proto.Request{
		SandboxSettings: &proto.SandboxSettings{MemoryLimit: u64(2000000)},
		Phases:          []proto.PhaseSettings{{Script: "ok"}},
	}

	err := Request(p, req)
	require.Error(t, err)
	assert.Equal(t, "sandbox_settings.memory_limit: maximum allowed value is 1048576", err.Error())
}

func TestRequest_NilCeilingMeansUnbounded(t *testing.T) {
	p := &policy.Policy{AllowProfiling: true}
	req := &proto.Request{
		Phases: []proto.PhaseSettings{{Script: "ok", SandboxSettings: &proto.SandboxSettings{MemoryLimit: u64(999999999)}}},
	}

	assert.NoError(t, Request(p, req))
}

func TestRequest_RejectsProfilingWhenDisallowed(t *testing.T) {
	p := &policy.Policy{AllowProfiling: false}
	req := &proto.Request{
		Phases: []proto.PhaseSettings{{Script: "ok", Profiling: true}},
	}

	err := Request(p, req)
	require.Error(t, err)
	assert.Equal(t, "Profiling is not allowed", err.Error())
}

func TestRequest_RejectsEmptyPhases(t *testing.T) {
	p := &policy.Policy{AllowProfiling: true}
	req := &proto.Request{Phases: []proto.PhaseSettings{}}

	err := Request(p, req)
	require.Error(t, err)
	assert.Equal(t, "phases: must contain at least one phase", err.Error())
}

func TestRequest_RejectsEmptyScript(t *testing.T) {
	p := &policy.Policy{AllowProfiling: true}
	req := &proto.Request{
		Phases: []proto.PhaseSettings{{Script: "ok"}, {Script: ""}},
	}

	err := Request(p, req)
	require.Error(t, err)
	assert.Equal(t, "phases[1].script: must not be empty", err.Error())
}

func TestRequest_AllowsRequestWithinCeilings(t *testing.T) {
	p := &policy.Policy{MaxMemoryLimit: u64(1048576), AllowProfiling: true}
	req := &proto.Request{
		Phases: []proto.PhaseSettings{{Script: "ok", SandboxSettings: &proto.SandboxSettings{MemoryLimit: u64(500000)}}},
	}

	assert.NoError(t, Request(p, req))
}
