// Package topology owns the catalog manager mode of a routing process: which
// kind of config servers (legacy tri-server or replica set) the process
// currently talks to, and the deferred transition between the two.
package topology

import (
	"errors"
	"fmt"
	"sync"

	shardclient "github.com/vivicoco/go-shardclient"
)

var (
	// ErrClosed is returned when a swap is scheduled on a closed scheduler.
	ErrClosed = errors.New("topology scheduler is closed")
	// ErrDowngrade is returned when a transition back to legacy config
	// servers is requested. Only the legacy to replica-set direction is
	// supported.
	ErrDowngrade = errors.New("downgrade to legacy config servers is not supported")
)

// SwapFunc performs the actual catalog manager replacement. It runs on the
// scheduler's background goroutine, never on the caller's.
type SwapFunc func(mode shardclient.ConfigServerMode, setName, host string) error

type swapRequest struct {
	mode    shardclient.ConfigServerMode
	setName string
	host    string
}

// Scheduler coalesces config server mode transitions. Any number of
// connections may concurrently detect the same config server and request the
// same transition; at most one swap is in flight at a time and requests for
// the mode the process is already in (or already moving to) are no-ops.
//
// Implements shardclient.ModeScheduler.
type Scheduler struct {
	apply SwapFunc

	mu          sync.Mutex
	current     shardclient.ConfigServerMode
	pending     bool
	pendingMode shardclient.ConfigServerMode
	closed      bool

	swaps chan swapRequest
	done  chan struct{}
}

// NewScheduler builds a scheduler starting in the given mode. The apply
// function performs the swap; a nil apply only records the mode change.
func NewScheduler(current shardclient.ConfigServerMode, apply SwapFunc) *Scheduler {
	if apply == nil {
		apply = func(shardclient.ConfigServerMode, string, string) error {
			return nil
		}
	}
	s := &Scheduler{
		apply:   apply,
		current: current,
		swaps:   make(chan swapRequest, 1),
		done:    make(chan struct{}),
	}
	go s.run()
	return s
}

func (s *Scheduler) run() {
	defer close(s.done)
	for req := range s.swaps {
		err := s.apply(req.mode, req.setName, req.host)

		s.mu.Lock()
		if err == nil {
			s.current = req.mode
		}
		s.pending = false
		s.mu.Unlock()
	}
}

// ScheduleModeSwap implements shardclient.ModeScheduler. It returns once the
// swap is queued; the transition itself completes asynchronously.
func (s *Scheduler) ScheduleModeSwap(mode shardclient.ConfigServerMode,
	setName, host string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}
	if s.current == mode {
		return nil
	}
	if mode == shardclient.ModeLegacy {
		return fmt.Errorf("%w (requested by %s)", ErrDowngrade, host)
	}
	if s.pending && s.pendingMode == mode {
		return nil
	}

	s.pending = true
	s.pendingMode = mode
	s.swaps <- swapRequest{mode: mode, setName: setName, host: host}
	return nil
}

// Mode returns the mode the process currently runs in.
func (s *Scheduler) Mode() shardclient.ConfigServerMode {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// Close stops the scheduler and waits for an in-flight swap to finish.
func (s *Scheduler) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	close(s.swaps)
	s.mu.Unlock()

	<-s.done
}
