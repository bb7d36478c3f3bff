package driver

import (
	"context"
	"fmt"
	"math/rand/v2"
	"sync"

	"github.com/rs/zerolog/log"
)

const maxBoxID = 1 << 31

// maxInitAttempts bounds the registry's draw loop: the total number of box
// ids drawn before InitBox gives up, when a freshly-drawn id collides with
// one already tracked in-process or Driver.Init fails. Spec treats this
// as vanishingly rare in a 31-bit space; a production registry should
// still not loop forever if something is very wrong.
const maxInitAttempts = 8

// Registry is a process-wide, concurrency-safe directory of live sandboxes
// keyed by box id. A sandbox is present in the Registry iff its isolate
// --init has succeeded and its --cleanup has not yet been invoked.
type Registry struct {
	driver *Driver

	mu   sync.Mutex
	live map[uint32]*Sandbox
}

// NewRegistry returns a Registry backed by the given Driver.
func NewRegistry(d *Driver) *Registry {
	return &Registry{driver: d, live: make(map[uint32]*Sandbox)}
}

// InitBox draws a random box id, initializes a sandbox under it via the
// Driver, and records it. A collision against an id already tracked by
// this process, or a failed Driver.Init, is retried with a fresh draw; at
// most maxInitAttempts ids are drawn in total.
func (r *Registry) InitBox(ctx context.Context) (*Sandbox, error) {
	var lastErr error
	for attempt := 0; attempt < maxInitAttempts; attempt++ {
		boxID := uint32(rand.Uint64N(maxBoxID))

		r.mu.Lock()
		_, taken := r.live[boxID]
		r.mu.Unlock()
		if taken {
			continue
		}

		sandbox, err := r.driver.Init(ctx, boxID)
		if err != nil {
			lastErr = err
			continue
		}

		r.mu.Lock()
		r.live[boxID] = sandbox
		r.mu.Unlock()
		return sandbox, nil
	}
	if lastErr != nil {
		return nil, fmt.Errorf("init box: %w", lastErr)
	}
	return nil, fmt.Errorf("init box: exhausted %d attempts drawing a free box id", maxInitAttempts)
}

// DestroyBox invokes the Driver's cleanup for boxID and removes it from
// the directory. Safe to call more than once for the same id: a second
// call finds nothing tracked and still asks the Driver to clean up,
// matching isolate's own idempotent --cleanup semantics. Cleanup errors
// are logged here and then returned to the caller; the box is untracked
// either way.
func (r *Registry) DestroyBox(ctx context.Context, boxID uint32) error {
	r.mu.Lock()
	delete(r.live, boxID)
	r.mu.Unlock()

	if err := r.driver.Cleanup(ctx, boxID); err != nil {
		log.Warn().Uint32("box_id", boxID).Err(err).Msg("sandbox cleanup failed")
		return err
	}
	return nil
}
