// Package webhook posts dispatch recommendations as JSON to a generic HTTP
// endpoint, such as a computer-aided dispatch bridge.
package webhook

import (
	"context"
	"fmt"

	"github.com/linnemanlabs/go-core/log"

	"github.com/linnemanlabs/lifeline/internal/notify"
	"github.com/linnemanlabs/lifeline/internal/session"
)

// EventType identifies the payload for receivers that multiplex event kinds.
const EventType = "lifeline.dispatch.recommended"

// Payload is the request body.
type Payload struct {
	Type           string                          `json:"type"`
	Recommendation *session.DispatchRecommendation `json:"recommendation"`
}

// Notifier posts recommendations to a single URL.
type Notifier struct {
	url    string
	client *notify.Client
	logger log.Logger
}

// New returns a webhook notifier. If url is empty, Notify is a no-op.
func New(url string, logger log.Logger, opts ...notify.ClientOption) *Notifier {
	if logger == nil {
		logger = log.Nop()
	}
	return &Notifier{url: url, client: notify.NewClient(opts...), logger: logger}
}

// Notify implements notify.Notifier.
func (n *Notifier) Notify(ctx context.Context, rec *session.DispatchRecommendation) error {
	if n.url == "" {
		return nil
	}
	if err := n.client.PostJSON(ctx, n.url, Payload{Type: EventType, Recommendation: rec}); err != nil {
		return fmt.Errorf("webhook: %w", err)
	}
	n.logger.Info(ctx, "dispatch webhook delivered", "reference", rec.Reference, "session_id", rec.SessionID)
	return nil
}
