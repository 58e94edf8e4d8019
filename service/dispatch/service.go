// Package dispatch hands worker runtimes bounded batches of due states and
// keeps lease expiry swept in the background.
package dispatch

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/flowmesh/flowmesh/internal/clock"
	"github.com/flowmesh/flowmesh/model/state"
	"github.com/flowmesh/flowmesh/service/lifecycle"
	"github.com/flowmesh/flowmesh/service/statestore"
)

// Config represents dispatch service configuration.
type Config struct {
	// PollInterval bounds the short-poll loop of a waiting Dispatch call and
	// paces the background lease sweep.
	PollInterval time.Duration

	// DefaultBatchSize applies when a request does not set a batch size.
	DefaultBatchSize int

	// LeaseDuration is how long a claimed state stays QUEUED before the
	// sweep treats it as TIMEDOUT.
	LeaseDuration time.Duration
}

// DefaultConfig returns the default dispatch configuration.
func DefaultConfig() Config {
	return Config{
		PollInterval:     100 * time.Millisecond,
		DefaultBatchSize: 32,
		LeaseDuration:    30 * time.Second,
	}
}

// Request bounds one dispatch call.
type Request struct {
	Namespace string
	GraphName string
	// NodeNames filters claimed states to the node classes this runtime
	// serves; empty means any.
	NodeNames []string
	BatchSize int
	ClaimedBy string
	// Wait keeps the call short-polling for up to this duration when
	// nothing is due; zero returns immediately.
	Wait time.Duration
}

// Service claims due states for worker runtimes. Eligibility is decided
// entirely by the store query (status and enqueue_after), never by an
// in-memory timer, so any instance can serve any request.
type Service struct {
	store        statestore.Service
	lifecycle    *lifecycle.Service
	config       Config
	shutdownCh   chan struct{}
	shutdownOnce sync.Once
}

// New creates a dispatch service.
func New(store statestore.Service, lifecycleService *lifecycle.Service, config Config) *Service {
	if config.PollInterval <= 0 {
		config.PollInterval = DefaultConfig().PollInterval
	}
	if config.DefaultBatchSize <= 0 {
		config.DefaultBatchSize = DefaultConfig().DefaultBatchSize
	}
	if config.LeaseDuration <= 0 {
		config.LeaseDuration = DefaultConfig().LeaseDuration
	}
	return &Service{
		store:      store,
		lifecycle:  lifecycleService,
		config:     config,
		shutdownCh: make(chan struct{}),
	}
}

// Dispatch atomically claims up to the requested batch of due states,
// flipping each to QUEUED with a lease deadline. A state never appears in
// more than one concurrent result set. When Wait is set the call short-polls
// until something is due or the wait elapses.
func (s *Service) Dispatch(ctx context.Context, request Request) ([]*state.State, error) {
	batchSize := request.BatchSize
	if batchSize <= 0 {
		batchSize = s.config.DefaultBatchSize
	}
	deadline := clock.Now().Add(request.Wait)
	for {
		now := clock.Now()
		claimed, err := s.store.Claim(ctx, statestore.ClaimRequest{
			Namespace:     request.Namespace,
			GraphName:     request.GraphName,
			NodeNames:     request.NodeNames,
			ClaimedBy:     request.ClaimedBy,
			Now:           now,
			LeaseDeadline: now.Add(s.config.LeaseDuration),
			Limit:         batchSize,
		})
		if err != nil {
			return nil, err
		}
		if len(claimed) > 0 || request.Wait <= 0 || !now.Before(deadline) {
			return claimed, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-s.shutdownCh:
			return claimed, nil
		case <-time.After(s.config.PollInterval):
		}
	}
}

// Start runs the lease sweep loop until the context is done or Shutdown is
// called. Expired leases flip to TIMEDOUT and go through the same retry path
// as worker-reported errors.
func (s *Service) Start(ctx context.Context) error {
	ticker := time.NewTicker(s.config.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.shutdownCh:
			return nil
		case <-ticker.C:
			if _, err := s.lifecycle.SweepExpired(ctx, clock.Now()); err != nil {
				slog.Warn("lease sweep failed", "error", err)
			}
		}
	}
}

// Shutdown stops the sweep loop and unblocks waiting Dispatch calls.
func (s *Service) Shutdown() {
	s.shutdownOnce.Do(func() {
		close(s.shutdownCh)
	})
}
