package activities

import (
	"context"

	"github.com/rs/zerolog"
	"go.temporal.io/sdk/activity"

	"headswap/internal/handler"
	"headswap/internal/ledger"
)

// Activities holds all activity implementations for the worker
type Activities struct {
	Handler *handler.Handler
	Ledger  ledger.Store
	Logger  zerolog.Logger

	heartbeat func(ctx context.Context, details ...interface{})
}

// NewActivities creates a new Activities instance. store may be nil when the
// ledger is disabled.
func NewActivities(h *handler.Handler, store ledger.Store, logger zerolog.Logger) *Activities {
	return &Activities{
		Handler: h,
		Ledger:  store,
		Logger:  logger,

		heartbeat: activity.RecordHeartbeat,
	}
}

func (a *Activities) recordHeartbeat(ctx context.Context, details ...interface{}) {
	if a.heartbeat == nil {
		activity.RecordHeartbeat(ctx, details...)
		return
	}
	a.heartbeat(ctx, details...)
}
