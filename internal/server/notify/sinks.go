package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/smtp"

	"driftsend/internal/logging"
)

// WebhookSink POSTs the event as JSON to the owner's configured endpoint.
// Events without a webhook URL are skipped silently.
type WebhookSink struct {
	Client *http.Client
}

func (w *WebhookSink) Send(ctx context.Context, e Event) error {
	if e.WebhookURL == "" {
		return nil
	}

	body, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal webhook payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.WebhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.Client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook delivery: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("webhook responded %d", resp.StatusCode)
	}
	return nil
}

// EmailSink notifies the sender over SMTP when the event carries a sender
// address. Delivery mechanics stay minimal: one message, no templating.
type EmailSink struct {
	Addr string // SMTP host:port; empty disables the sink
	From string
}

func (s *EmailSink) Send(ctx context.Context, e Event) error {
	if s.Addr == "" || e.SenderEmail == "" {
		return nil
	}
	if e.Type != EventTransferDownloaded {
		return nil
	}

	msg := fmt.Sprintf("To: %s\r\nSubject: Your transfer was downloaded\r\n\r\nTransfer %q (%d files) was downloaded.\r\n",
		e.SenderEmail, e.Title, e.FileCount)
	return smtp.SendMail(s.Addr, nil, s.From, []string{e.SenderEmail}, []byte(msg))
}

// AnalyticsSink records the event as a structured log line; the log pipeline
// is the analytics ingest.
type AnalyticsSink struct {
	Log logging.Logger
}

func (a *AnalyticsSink) Send(ctx context.Context, e Event) error {
	a.Log.Info(ctx, "analytics event",
		"event", e.Type,
		"public_id", e.PublicID,
		"file_count", e.FileCount,
		"total_bytes", e.TotalBytes,
	)
	return nil
}
