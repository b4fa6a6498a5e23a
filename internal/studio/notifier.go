package studio

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"syncstudio/services/studio/internal/session"
)

// WebhookNotifier posts a message to a configured webhook when an execution
// job reaches a terminal status. Optional; a nil notifier is disabled.
type WebhookNotifier struct {
	webhookURL string
	authHeader string
	client     *http.Client
}

func NewWebhookNotifier(webhookURL, authHeader string) *WebhookNotifier {
	return &WebhookNotifier{
		webhookURL: strings.TrimSpace(webhookURL),
		authHeader: strings.TrimSpace(authHeader),
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

func (n *WebhookNotifier) enabled() bool {
	return n != nil && n.webhookURL != ""
}

func (n *WebhookNotifier) NotifyJobFinished(
	ctx context.Context,
	ownerID, jobID string,
	status session.JobStatus,
	progress session.Progress,
) error {
	if !n.enabled() {
		return nil
	}

	payload := map[string]any{
		"event":     "execution_job_finished",
		"sentAt":    time.Now().UTC().Format(time.RFC3339),
		"ownerId":   ownerID,
		"jobId":     jobID,
		"status":    status,
		"completed": progress.Completed,
		"failed":    progress.Failed,
		"total":     progress.Total,
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	request, err := http.NewRequestWithContext(ctx, http.MethodPost, n.webhookURL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	request.Header.Set("Content-Type", "application/json")
	if n.authHeader != "" {
		request.Header.Set("Authorization", n.authHeader)
	}

	response, err := n.client.Do(request)
	if err != nil {
		return err
	}
	defer response.Body.Close()

	if response.StatusCode < 200 || response.StatusCode >= 300 {
		rawBody, _ := io.ReadAll(io.LimitReader(response.Body, 1024))
		return fmt.Errorf("webhook status=%d body=%s", response.StatusCode, strings.TrimSpace(string(rawBody)))
	}
	return nil
}
