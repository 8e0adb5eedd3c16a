package facade

import (
	"context"

	"go.uber.org/zap"
)

// Policy decides what happens when the remote side of an operation fails.
type Policy interface {
	// Fallback reports whether the local store should serve op after remoteErr.
	// A false return surfaces remoteErr to the caller.
	Fallback(ctx context.Context, op string, remoteErr error) bool
}

// SilentFallback always serves failed remote operations from the local store and
// never surfaces the remote error.
type SilentFallback struct {
	Log *zap.Logger
}

func (p SilentFallback) Fallback(_ context.Context, op string, remoteErr error) bool {
	if p.Log != nil {
		p.Log.Warn("remote cart unavailable, using local cart",
			zap.String("op", op),
			zap.Error(remoteErr))
	}
	return true
}

// FailFast surfaces every remote error and never touches the local store.
type FailFast struct{}

func (FailFast) Fallback(context.Context, string, error) bool {
	return false
}
