// Package slack posts dispatch recommendations to Slack via incoming webhooks.
package slack

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/linnemanlabs/go-core/log"

	"github.com/linnemanlabs/lifeline/internal/notify"
	"github.com/linnemanlabs/lifeline/internal/session"
)

const maxSummaryLen = 3000

// Notifier sends dispatch recommendations to a Slack webhook.
type Notifier struct {
	webhookURL string
	client     *notify.Client
	logger     log.Logger
}

// New creates a new Slack notifier. If webhookURL is empty, Notify is a no-op.
func New(webhookURL string, logger log.Logger, opts ...notify.ClientOption) *Notifier {
	if logger == nil {
		logger = log.Nop()
	}
	return &Notifier{
		webhookURL: webhookURL,
		client:     notify.NewClient(opts...),
		logger:     logger,
	}
}

// Notify posts a recommendation to the configured Slack webhook.
// If no webhook URL is configured, it returns nil immediately.
func (n *Notifier) Notify(ctx context.Context, rec *session.DispatchRecommendation) error {
	if n.webhookURL == "" {
		return nil
	}
	if err := n.client.PostJSON(ctx, n.webhookURL, buildMessage(rec)); err != nil {
		return fmt.Errorf("slack: %w", err)
	}
	n.logger.Info(ctx, "slack notification sent", "reference", rec.Reference, "session_id", rec.SessionID)
	return nil
}

func buildMessage(r *session.DispatchRecommendation) map[string]any {
	return map[string]any{
		"text": fmt.Sprintf("Dispatch %s: %s (%s)", r.Reference, r.Service, r.Priority),
		"blocks": []map[string]any{
			headerBlock(r),
			{"type": "divider"},
			fieldsBlock(r),
			{"type": "divider"},
			summaryBlock(r),
			{"type": "divider"},
			contextBlock(r),
		},
	}
}

func headerBlock(r *session.DispatchRecommendation) map[string]any {
	service := r.Service
	if service == "" {
		service = "Emergency Services"
	}
	return map[string]any{
		"type": "header",
		"text": map[string]any{
			"type": "plain_text",
			"text": fmt.Sprintf("%s %s dispatch: %s", priorityEmoji(r.Priority), r.Priority, service),
		},
	}
}

func fieldsBlock(r *session.DispatchRecommendation) map[string]any {
	fields := []map[string]any{
		{"type": "mrkdwn", "text": fmt.Sprintf("*Reference:* %s", r.Reference)},
		{"type": "mrkdwn", "text": fmt.Sprintf("*Category:* %s", r.Category)},
		{"type": "mrkdwn", "text": fmt.Sprintf("*Reason:* %s", r.Reason)},
		{"type": "mrkdwn", "text": fmt.Sprintf("*Urgency:* %.2f", r.Urgency)},
	}
	if loc := r.Facts["location"]; loc != "" {
		fields = append(fields, map[string]any{"type": "mrkdwn", "text": fmt.Sprintf("*Location:* %s", loc)})
	}
	// Slack caps a section at 10 fields.
	for _, k := range slices.Sorted(maps.Keys(r.Caller)) {
		if len(fields) == 10 {
			break
		}
		fields = append(fields, map[string]any{"type": "mrkdwn", "text": fmt.Sprintf("*Caller %s:* %s", k, r.Caller[k])})
	}

	return map[string]any{
		"type":   "section",
		"fields": fields,
	}
}

func summaryBlock(r *session.DispatchRecommendation) map[string]any {
	text := truncate(r.Summary, maxSummaryLen)
	if text == "" {
		text = "_No summary available._"
	}

	return map[string]any{
		"type": "section",
		"text": map[string]any{
			"type": "mrkdwn",
			"text": fmt.Sprintf("*Summary*\n\n%s", text),
		},
	}
}

func contextBlock(r *session.DispatchRecommendation) map[string]any {
	elements := []map[string]any{
		{
			"type": "mrkdwn",
			"text": fmt.Sprintf("lifeline • session %s • %s", r.SessionID, r.CreatedAt.UTC().Format("2006-01-02 15:04 UTC")),
		},
	}

	return map[string]any{
		"type":     "context",
		"elements": elements,
	}
}

func priorityEmoji(p session.Priority) string {
	switch p {
	case session.PriorityCritical:
		return "\U0001f534" // red circle
	case session.PriorityHigh:
		return "\U0001f7e0" // orange circle
	case session.PriorityMedium:
		return "\U0001f7e1" // yellow circle
	default:
		return "\U0001f7e2" // green circle
	}
}

func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	s = strings.ToValidUTF8(s[:limit-3], "")
	return s + "..."
}
