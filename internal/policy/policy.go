// Package policy loads the operator-configured ceilings and feature flags
// that bound what a request is allowed to ask the sandbox driver for.
package policy

import (
	"strconv"
	"strings"

	"github.com/caarlos0/env/v11"
)

// Policy is process-wide configuration derived from the environment at
// startup. A nil *uint64 ceiling means "no cap".
type Policy struct {
	MaxRunTimeLimit      *uint64
	MaxExtraTimeLimit    *uint64
	MaxWallTimeLimit     *uint64
	MaxStackSizeLimit    *uint64
	MaxProcessCountLimit *uint64
	MaxMemoryLimit       *uint64
	MaxStorageLimit      *uint64
	AllowProfiling       bool
	APIMaxPayloadSize    int64
}

// rawEnv is the struct-tag surface caarlos0/env parses; ceilings stay
// strings here because "-1 means unlimited" can't be expressed as a
// numeric field default (env only fills in a default when the variable is
// completely unset, not when it's present and equal to some sentinel).
type rawEnv struct {
	MaxRunTimeLimit      string `env:"MAX_RUN_TIME_LIMIT" envDefault:"-1"`
	MaxExtraTimeLimit    string `env:"MAX_EXTRA_TIME_LIMIT" envDefault:"-1"`
	MaxWallTimeLimit     string `env:"MAX_WALL_TIME_LIMIT" envDefault:"-1"`
	MaxStackSizeLimit    string `env:"MAX_STACK_SIZE_LIMIT" envDefault:"-1"`
	MaxProcessCountLimit string `env:"MAX_PROCESS_COUNT_LIMIT" envDefault:"-1"`
	MaxMemoryLimit       string `env:"MAX_MEMORY_LIMIT" envDefault:"-1"`
	MaxStorageLimit      string `env:"MAX_STORAGE_LIMIT" envDefault:"-1"`
	AllowProfiling       string `env:"ALLOW_PROFILING" envDefault:"true"`
	APIMaxPayloadSize    int64  `env:"API_MAX_PAYLOAD_SIZE" envDefault:"32768"`
}

// Load parses the Policy from the process environment.
func Load() (*Policy, error) {
	var raw rawEnv
	if err := env.Parse(&raw); err != nil {
		return nil, err
	}

	return &Policy{
		MaxRunTimeLimit:      ceiling(raw.MaxRunTimeLimit),
		MaxExtraTimeLimit:    ceiling(raw.MaxExtraTimeLimit),
		MaxWallTimeLimit:     ceiling(raw.MaxWallTimeLimit),
		MaxStackSizeLimit:    ceiling(raw.MaxStackSizeLimit),
		MaxProcessCountLimit: ceiling(raw.MaxProcessCountLimit),
		MaxMemoryLimit:       ceiling(raw.MaxMemoryLimit),
		MaxStorageLimit:      ceiling(raw.MaxStorageLimit),
		AllowProfiling:       allowProfiling(raw.AllowProfiling),
		APIMaxPayloadSize:    raw.APIMaxPayloadSize,
	}, nil
}

// ceiling resolves a raw string ceiling value into a pointer ceiling: nil
// means "no cap", matching "-1", empty, and unparseable values alike.
func ceiling(raw string) *uint64 {
	if raw == "" || raw == "-1" {
		return nil
	}
	v, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return nil
	}
	return &v
}

// allowProfiling is true when the lowercased value is "true" or "yes",
// and also true when the variable was unset (rawEnv's default already
// supplies "true" in that case, but an explicit empty string is treated
// the same way for safety).
func allowProfiling(raw string) bool {
	if raw == "" {
		return true
	}
	switch strings.ToLower(raw) {
	case "true", "yes":
		return true
	default:
		return false
	}
}
