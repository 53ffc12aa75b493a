// Package registry maps job handles to the live channel waiting for each
// job's result.
package registry

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/kiranshivaraju/gatekeeper/pkg/models"
)

// Channel is a live connection able to carry one JobResult to a client.
type Channel interface {
	Send(ctx context.Context, result models.JobResult) error
}

// Registry holds at most one Channel per handle. A later Register for the
// same handle replaces the earlier channel without closing it.
type Registry struct {
	mu       sync.Mutex
	channels map[string]Channel
	logger   *slog.Logger
}

// New creates an empty Registry. A nil logger means slog.Default().
func New(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		channels: make(map[string]Channel),
		logger:   logger,
	}
}

// Register records ch as the channel for handle.
func (r *Registry) Register(handle string, ch Channel) {
	r.mu.Lock()
	_, replaced := r.channels[handle]
	r.channels[handle] = ch
	r.mu.Unlock()

	r.logger.Info("channel registered", "handle", handle, "replaced", replaced)
}

// Deregister removes the channel for handle. It is a no-op if none exists.
func (r *Registry) Deregister(handle string) {
	r.mu.Lock()
	_, ok := r.channels[handle]
	delete(r.channels, handle)
	r.mu.Unlock()

	if ok {
		r.logger.Info("channel deregistered", "handle", handle)
	}
}

// DeregisterIf removes the channel for handle only if it is still ch.
// It reports whether anything was removed.
func (r *Registry) DeregisterIf(handle string, ch Channel) bool {
	r.mu.Lock()
	cur, ok := r.channels[handle]
	ok = ok && cur == ch
	if ok {
		delete(r.channels, handle)
	}
	r.mu.Unlock()

	if ok {
		r.logger.Info("channel deregistered", "handle", handle)
	}
	return ok
}

// Deliver sends result to the channel registered for handle, if any.
// Delivery is best-effort: a missing channel or a failed send is logged and
// dropped, and Deliver never returns an error or panics into the caller.
func (r *Registry) Deliver(ctx context.Context, handle string, result models.JobResult) {
	r.mu.Lock()
	ch, ok := r.channels[handle]
	r.mu.Unlock()

	if !ok {
		r.logger.Info("no channel registered, result dropped",
			"handle", handle, "format", result.Format)
		return
	}

	r.logger.Info("sending result", "handle", handle, "format", result.Format)
	if err := send(ctx, ch, result); err != nil {
		r.logger.Warn("result delivery failed", "handle", handle, "error", err)
	}
}

// Len returns the number of registered channels.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.channels)
}

func send(ctx context.Context, ch Channel, result models.JobResult) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("panic in channel send: %v", rec)
		}
	}()
	return ch.Send(ctx, result)
}
