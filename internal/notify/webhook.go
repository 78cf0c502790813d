package notify

import (
	"context"
	"fmt"

	"github.com/go-resty/resty/v2"
	"github.com/kursadbilgin/podledger/internal/observability"
	"github.com/kursadbilgin/podledger/internal/provider"
	"github.com/kursadbilgin/podledger/internal/queue"
)

const (
	webhookService       = "webhook"
	idempotencyKeyHeader = "Idempotency-Key"
)

// Webhook posts stage reminders as JSON to a fixed URL. The notification id is
// sent as the idempotency key so receivers can drop redeliveries.
type Webhook struct {
	http *resty.Client
}

func NewWebhook(url string) (*Webhook, error) {
	return NewWebhookWithResty(url, resty.New())
}

func NewWebhookWithResty(url string, client *resty.Client) (*Webhook, error) {
	c, err := provider.Configure(url, client, provider.DefaultTimeout)
	if err != nil {
		return nil, fmt.Errorf("failed to configure webhook client: %w", err)
	}
	return &Webhook{http: c}, nil
}

func (w *Webhook) Announce(ctx context.Context, msg queue.StageDueMessage) error {
	req := w.http.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetHeader(idempotencyKeyHeader, msg.NotificationID).
		SetBody(msg)
	if msg.CorrelationID != "" {
		req.SetHeader(observability.RequestIDHeader, msg.CorrelationID)
	}

	resp, err := req.Post("")
	return provider.Check(webhookService, resp, err)
}
