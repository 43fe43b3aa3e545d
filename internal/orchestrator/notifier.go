package orchestrator

import (
	"context"

	"github.com/linnemanlabs/lifeline/internal/session"
)

// Notifier hands a dispatch recommendation to the outside world. It is
// called once per recommendation, after the session has been saved.
type Notifier interface {
	Notify(ctx context.Context, rec *session.DispatchRecommendation) error
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(ctx context.Context, rec *session.DispatchRecommendation) error

// Notify implements Notifier.
func (f NotifierFunc) Notify(ctx context.Context, rec *session.DispatchRecommendation) error {
	return f(ctx, rec)
}
